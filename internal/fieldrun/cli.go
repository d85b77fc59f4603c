package fieldrun

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/fieldwork/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging initializes the global logger on stdout, and also on logFile
// when one is given. The returned closer releases the file.
func SetupLogging(logFile string) (io.Closer, error) {
	if logFile == "" {
		if err := logger.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nopCloser{}, nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWithWriter(io.MultiWriter(os.Stdout, file)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file, nil
}

// ShowHelp prints usage information for the fieldrun tool.
func ShowHelp() {
	os.Stdout.WriteString(`fieldrun
========

Fields one study on the sample marketplace: creates the project and a draft
target group, launches it, then polls the overview until the launch is
confirmed (or, with -until-complete, until the filling goal is met).

Vendor credentials and endpoints come from the service configuration
(FIELDWORK_* environment, optional FIELDWORK_CONFIG YAML file, ./.env).
Set FIELDWORK_MOCK_MODE=true to run against the in-process synthetic vendor.

Usage:
  go run ./cmd/fieldrun -study study.yaml -url 'https://survey.example.com/s/{study_id}' [options]

Options:
  -study string
        Study descriptor YAML file (required)
  -url string
        Survey live URL template; {study_id} is replaced (required)
  -pm string
        Vendor project manager id (default from project_manager_id)
  -bu string
        Vendor business unit id (default from business_unit_id)
  -poll duration
        Wait between overview polls (default 10s)
  -max-polls int
        Overview polls before giving up (default 30)
  -until-complete
        Keep polling until the filling goal is met
  -output string
        Write a YAML run summary to this file
  -log string
        Also write logs to this file
  -help
        Show this help message

Study file:
  id: study-42
  name: Brand Tracker Q2
  target_completes: 300
  estimated_incidence_rate: 0.4
  estimated_length_of_interview_minutes: 12
  locale_hint: eng_us
  start_date: 2026-06-01T09:00:00Z
  end_date: 2026-06-15T09:00:00Z
`)
}
