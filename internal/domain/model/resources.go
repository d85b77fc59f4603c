package model

import "time"

// Project is the vendor-side container for target groups.
type Project struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ProjectManagerID string `json:"project_manager_id"`
}

// TargetGroupStatus is the vendor lifecycle state of a target group.
type TargetGroupStatus string

// Target group states. The vendor owns transitions; these are read values.
const (
	TargetGroupDraft     TargetGroupStatus = "draft"
	TargetGroupLive      TargetGroupStatus = "live"
	TargetGroupPaused    TargetGroupStatus = "paused"
	TargetGroupCompleted TargetGroupStatus = "completed"
)

// FieldingWindow bounds when a target group recruits respondents.
type FieldingWindow struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// TargetGroup is a vendor audience definition under a project.
type TargetGroup struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      TargetGroupStatus `json:"status"`
	FillingGoal int               `json:"filling_goal"`
	Fielding    FieldingWindow    `json:"fielding_specification"`
	LiveURL     string            `json:"live_url"`
	TestURL     string            `json:"test_url"`
	Profile     TargetingProfile  `json:"profile"`
}

// TargetingProfile is the vendor's condition-based respondent filter. An
// empty profile means unrestricted targeting.
type TargetingProfile struct {
	Conditions []ProfileCondition `json:"conditions,omitempty"`
}

// ProfileCondition restricts one vendor question to a set of answers.
type ProfileCondition struct {
	QuestionID string   `json:"question_id"`
	Answers    []string `json:"answers"`
}

// LaunchJobSource records how a launch job id was obtained.
type LaunchJobSource string

// Launch job sources.
const (
	LaunchJobFromLocation LaunchJobSource = "location"
	LaunchJobFromBody     LaunchJobSource = "body"
	LaunchJobSynthesized  LaunchJobSource = "synthesized"
)

// LaunchJob correlates an accepted launch request. The launch may still be
// pending on the vendor side; an overview poll confirms it.
type LaunchJob struct {
	JobID  string          `json:"job_id"`
	Source LaunchJobSource `json:"source"`
}

// TargetGroupStatistics are the fielding counters from an overview.
type TargetGroupStatistics struct {
	FillingGoal                    int     `json:"filling_goal"`
	CurrentCompletes               int     `json:"current_completes"`
	CurrentPrescreens              int     `json:"current_prescreens"`
	MedianIncidenceRate            float64 `json:"median_incidence_rate"`
	MedianLengthOfInterviewSeconds int     `json:"median_length_of_interview_seconds"`
	AverageConversionRate          float64 `json:"average_conversion_rate"`
	AverageDropOffRate             float64 `json:"average_drop_off_rate"`
}

// TargetGroupOverview is a point-in-time read of a target group. It is never
// cached.
type TargetGroupOverview struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Status     TargetGroupStatus     `json:"status"`
	Statistics TargetGroupStatistics `json:"statistics"`
}
