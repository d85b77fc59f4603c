package fieldrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	summaryPermission   = 0600
)

// Workflow is the vendor surface a run needs.
type Workflow interface {
	CreateProject(ctx context.Context, studyName, projectManagerID string) (model.Project, error)
	CreateTargetGroup(ctx context.Context, projectID string, study model.Study, liveURLTemplate, projectManagerID, businessUnitID string) (model.TargetGroup, error)
	LaunchTargetGroup(ctx context.Context, projectID, targetGroupID string, endFieldingAt time.Time) (model.LaunchJob, error)
	GetTargetGroupOverview(ctx context.Context, projectID, targetGroupID string) (model.TargetGroupOverview, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Runner executes the fielding workflow for one study at a time.
type Runner struct {
	workflow Workflow
	sleep    Sleeper
	now      func() time.Time
	logger   logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithSleeper replaces the wait between overview polls.
func WithSleeper(s Sleeper) Option {
	return func(r *Runner) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner over wf.
func NewRunner(wf Workflow, opts ...Option) *Runner {
	r := &Runner{
		workflow: wf,
		sleep:    sleepContext,
		now:      time.Now,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run loads the study file named by cfg and fields it.
func (r *Runner) Run(ctx context.Context, cfg *Config) (Summary, error) {
	if err := validateConfig(cfg); err != nil {
		return Summary{}, err
	}
	study, err := LoadStudy(cfg.StudyFile)
	if err != nil {
		return Summary{}, err
	}
	return r.Field(ctx, study, cfg)
}

// Field runs the workflow for study. The returned summary holds every step
// that completed, also when err is non-nil.
func (r *Runner) Field(ctx context.Context, study model.Study, cfg *Config) (Summary, error) {
	if err := validateConfig(cfg); err != nil {
		return Summary{}, err
	}
	sum := Summary{StudyID: study.ID, StartTime: r.now()}
	log := r.logger.With(logger.String("study_id", study.ID))

	log.Info(ctx, "starting fielding run",
		logger.String("study_name", study.Name),
		logger.Int("target_completes", study.TargetCompletes),
		logger.Duration("poll_interval", cfg.PollInterval),
		logger.Int("max_polls", cfg.MaxPolls),
	)

	// Step 1: Create the project
	project, err := r.workflow.CreateProject(ctx, study.Name, cfg.ProjectManagerID)
	if err != nil {
		return r.finish(sum), fmt.Errorf("create project: %w", err)
	}
	sum.Project = project
	log.Info(ctx, "project created", logger.String("project_id", project.ID))

	// Step 2: Create the draft target group
	tg, err := r.workflow.CreateTargetGroup(ctx, project.ID, study, cfg.LiveURLTemplate, cfg.ProjectManagerID, cfg.BusinessUnitID)
	if err != nil {
		return r.finish(sum), fmt.Errorf("create target group: %w", err)
	}
	sum.TargetGroup = tg
	log.Info(ctx, "target group created",
		logger.String("target_group_id", tg.ID),
		logger.String("test_url", tg.TestURL),
	)

	// Step 3: Launch it for the same window it was created with
	job, err := r.workflow.LaunchTargetGroup(ctx, project.ID, tg.ID, tg.Fielding.EndAt)
	if err != nil {
		return r.finish(sum), fmt.Errorf("launch target group: %w", err)
	}
	sum.LaunchJob = job
	log.Info(ctx, "launch accepted",
		logger.String("job_id", job.JobID),
		logger.String("source", string(job.Source)),
	)

	// Step 4: Poll the overview
	err = r.poll(ctx, &sum, cfg)
	sum = r.finish(sum)
	if err != nil {
		return sum, err
	}

	log.Info(ctx, "fielding run completed",
		logger.String("status", string(sum.Overview.Status)),
		logger.Int("current_completes", sum.Overview.Statistics.CurrentCompletes),
		logger.Int("polls", sum.Polls),
		logger.Duration("duration", sum.Duration),
	)
	return sum, nil
}

// poll reads the overview until the target group leaves draft, or with
// UntilComplete until the filling goal is met. Overview reads are never
// cached, so each poll is a fresh vendor call.
func (r *Runner) poll(ctx context.Context, sum *Summary, cfg *Config) error {
	projectID, tgID := sum.Project.ID, sum.TargetGroup.ID
	for sum.Polls < cfg.MaxPolls {
		if sum.Polls > 0 {
			if err := r.sleep(ctx, cfg.PollInterval); err != nil {
				return fmt.Errorf("poll overview: %w", err)
			}
		}
		ov, err := r.workflow.GetTargetGroupOverview(ctx, projectID, tgID)
		sum.Polls++
		if err != nil {
			return fmt.Errorf("poll overview: %w", err)
		}
		sum.Overview = ov

		r.logger.Debug(ctx, "overview polled",
			logger.String("target_group_id", tgID),
			logger.String("status", string(ov.Status)),
			logger.Int("current_completes", ov.Statistics.CurrentCompletes),
			logger.Int("filling_goal", ov.Statistics.FillingGoal),
		)

		if done(ov, cfg.UntilComplete) {
			return nil
		}
	}

	if sum.Overview.Status == model.TargetGroupDraft || sum.Overview.Status == "" {
		return fmt.Errorf("%w: target group %s still %q after %d polls",
			ErrLaunchNotConfirmed, tgID, sum.Overview.Status, sum.Polls)
	}
	return fmt.Errorf("%w: %d of %d completes after %d polls", ErrTargetNotReached,
		sum.Overview.Statistics.CurrentCompletes, sum.Overview.Statistics.FillingGoal, sum.Polls)
}

func done(ov model.TargetGroupOverview, untilComplete bool) bool {
	if ov.Status == model.TargetGroupCompleted {
		return true
	}
	if ov.Status == model.TargetGroupDraft || ov.Status == "" {
		return false
	}
	if !untilComplete {
		return true
	}
	goal := ov.Statistics.FillingGoal
	return goal > 0 && ov.Statistics.CurrentCompletes >= goal
}

func (r *Runner) finish(sum Summary) Summary {
	sum.EndTime = r.now()
	sum.Duration = sum.EndTime.Sub(sum.StartTime)
	return sum
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.LiveURLTemplate) == "" {
		return fmt.Errorf("%w: live url template is required", ErrInvalidConfig)
	}
	if cfg.MaxPolls < 1 {
		return fmt.Errorf("%w: max polls must be at least 1", ErrInvalidConfig)
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("%w: poll interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// summaryFile is the on-disk layout of a run summary.
type summaryFile struct {
	StudyID          string `yaml:"study_id"`
	ProjectID        string `yaml:"project_id"`
	TargetGroupID    string `yaml:"target_group_id"`
	LiveURL          string `yaml:"live_url"`
	TestURL          string `yaml:"test_url"`
	FieldingStart    string `yaml:"fielding_start"`
	FieldingEnd      string `yaml:"fielding_end"`
	LaunchJobID      string `yaml:"launch_job_id"`
	LaunchJobSource  string `yaml:"launch_job_source"`
	Status           string `yaml:"status"`
	FillingGoal      int    `yaml:"filling_goal"`
	CurrentCompletes int    `yaml:"current_completes"`
	Polls            int    `yaml:"polls"`
	Duration         string `yaml:"duration"`
}

// WriteSummary saves sum as YAML, creating the parent directory if needed.
func (r *Runner) WriteSummary(ctx context.Context, path string, sum Summary) error {
	if path == "" {
		return fmt.Errorf("%w: empty summary path", ErrInvalidConfig)
	}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	out := summaryFile{
		StudyID:          sum.StudyID,
		ProjectID:        sum.Project.ID,
		TargetGroupID:    sum.TargetGroup.ID,
		LiveURL:          sum.TargetGroup.LiveURL,
		TestURL:          sum.TargetGroup.TestURL,
		LaunchJobID:      sum.LaunchJob.JobID,
		LaunchJobSource:  string(sum.LaunchJob.Source),
		Status:           string(sum.Overview.Status),
		FillingGoal:      sum.Overview.Statistics.FillingGoal,
		CurrentCompletes: sum.Overview.Statistics.CurrentCompletes,
		Polls:            sum.Polls,
		Duration:         sum.Duration.String(),
	}
	if !sum.TargetGroup.Fielding.StartAt.IsZero() {
		out.FieldingStart = sum.TargetGroup.Fielding.StartAt.UTC().Format(time.RFC3339)
		out.FieldingEnd = sum.TargetGroup.Fielding.EndAt.UTC().Format(time.RFC3339)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, summaryPermission); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	r.logger.Info(ctx, "summary saved to file", logger.String("filename", path))
	return nil
}
