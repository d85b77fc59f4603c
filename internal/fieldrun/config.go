// Package fieldrun drives one study through the fielding workflow: project,
// target group, launch, then overview polling until the launch is confirmed.
package fieldrun

import (
	"errors"
	"time"

	"github.com/okian/fieldwork/internal/domain/model"
)

// Default runner settings.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxPolls     = 30
)

// Errors returned by the runner.
var (
	ErrInvalidStudy       = errors.New("invalid study file")
	ErrInvalidConfig      = errors.New("invalid run config")
	ErrLaunchNotConfirmed = errors.New("launch not confirmed")
	ErrTargetNotReached   = errors.New("filling goal not reached")
)

// Config holds the settings for one run.
type Config struct {
	StudyFile        string        // YAML study descriptor
	LiveURLTemplate  string        // survey entry URL, may contain {study_id}
	ProjectManagerID string        // vendor project manager
	BusinessUnitID   string        // vendor business unit
	PollInterval     time.Duration // wait between overview polls
	MaxPolls         int           // overview polls before giving up
	UntilComplete    bool          // keep polling until the filling goal is met
	OutputFile       string        // optional YAML summary
}

// Summary is the outcome of a run.
type Summary struct {
	StudyID     string
	Project     model.Project
	TargetGroup model.TargetGroup
	LaunchJob   model.LaunchJob
	Overview    model.TargetGroupOverview
	Polls       int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}
