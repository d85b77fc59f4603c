package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/okian/fieldwork/internal/app"
	"github.com/okian/fieldwork/internal/config"
	"github.com/okian/fieldwork/internal/fieldrun"
	"github.com/okian/fieldwork/pkg/logger"
)

// Default configuration constants.
const (
	defaultRunTimeout = 2 * time.Hour
)

func main() {
	os.Exit(run())
}

// run executes one fielding run and returns the process exit code.
func run() int {
	var (
		studyFile     = flag.String("study", "", "Study descriptor YAML file")
		liveURL       = flag.String("url", "", "Survey live URL template; {study_id} is replaced")
		pmID          = flag.String("pm", "", "Vendor project manager id (default from config)")
		buID          = flag.String("bu", "", "Vendor business unit id (default from config)")
		pollInterval  = flag.Duration("poll", fieldrun.DefaultPollInterval, "Wait between overview polls")
		maxPolls      = flag.Int("max-polls", fieldrun.DefaultMaxPolls, "Overview polls before giving up")
		untilComplete = flag.Bool("until-complete", false, "Keep polling until the filling goal is met")
		outputFile    = flag.String("output", "", "Write a YAML run summary to this file")
		logFile       = flag.String("log", "", "Also write logs to this file")
		help          = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fieldrun.ShowHelp()
		return 0
	}
	if *studyFile == "" || *liveURL == "" {
		fieldrun.ShowHelp()
		return 2
	}

	// Setup logging
	closer, err := fieldrun.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = closer.Close() }()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", logger.Error(err))
		return 1
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel))
		_ = logger.SetLevelString("info")
	}

	svc := app.New(cfg, app.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}
	defer svc.Stop()

	runCfg := &fieldrun.Config{
		StudyFile:        *studyFile,
		LiveURLTemplate:  *liveURL,
		ProjectManagerID: firstNonEmpty(*pmID, cfg.ProjectManagerID),
		BusinessUnitID:   firstNonEmpty(*buID, cfg.BusinessUnitID),
		PollInterval:     *pollInterval,
		MaxPolls:         *maxPolls,
		UntilComplete:    *untilComplete,
		OutputFile:       *outputFile,
	}

	runner := fieldrun.NewRunner(svc, fieldrun.WithLogger(log.Named("fieldrun")))
	sum, runErr := runner.Run(ctx, runCfg)
	if runCfg.OutputFile != "" && sum.StudyID != "" {
		if err := runner.WriteSummary(ctx, runCfg.OutputFile, sum); err != nil {
			log.Warn(ctx, "failed to save summary", logger.Error(err))
		}
	}
	if runErr != nil {
		log.Error(ctx, "fielding run failed", logger.Error(runErr))
		return 1
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
