package marketplace

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/okian/fieldwork/internal/domain/model"
)

// projectRequest is the body of the project creation call.
type projectRequest struct {
	Name             string `json:"name"`
	ProjectManagerID string `json:"project_manager_id"`
}

func (p projectRequest) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: missing project name", ErrInvalidRequest)
	case strings.TrimSpace(p.ProjectManagerID) == "":
		return fmt.Errorf("%w: missing project manager id", ErrInvalidRequest)
	}
	return nil
}

type projectResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ProjectManagerID string `json:"project_manager_id"`
}

type fieldingSpecification struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

// targetGroupRequest is the body of the target group creation call. Optional
// vendor fields carry omitempty; everything else is required.
type targetGroupRequest struct {
	Name                             string                 `json:"name"`
	BusinessUnitID                   string                 `json:"business_unit_id"`
	ProjectManagerID                 string                 `json:"project_manager_id"`
	Locale                           string                 `json:"locale"`
	CollectsPII                      bool                   `json:"collects_pii"`
	FillingGoal                      int                    `json:"filling_goal"`
	ExpectedIncidenceRate            float64                `json:"expected_incidence_rate,omitempty"`
	ExpectedLengthOfInterviewMinutes int                    `json:"expected_length_of_interview_minutes,omitempty"`
	FieldingSpecification            fieldingSpecification  `json:"fielding_specification"`
	LiveURL                          string                 `json:"live_url"`
	TestURL                          string                 `json:"test_url"`
	Profile                          model.TargetingProfile `json:"profile"`

	// parsed window, kept for validation only
	fieldingStart time.Time
	fieldingEnd   time.Time
}

func (t targetGroupRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(t.BusinessUnitID) == "" {
		missing = append(missing, "business unit id")
	}
	if strings.TrimSpace(t.ProjectManagerID) == "" {
		missing = append(missing, "project manager id")
	}
	if strings.TrimSpace(t.Locale) == "" {
		missing = append(missing, "locale")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	if t.FillingGoal <= 0 {
		return fmt.Errorf("%w: filling goal must be positive, got %d", ErrInvalidRequest, t.FillingGoal)
	}
	if t.ExpectedIncidenceRate < 0 || t.ExpectedLengthOfInterviewMinutes < 0 {
		return fmt.Errorf("%w: negative incidence rate or interview length", ErrInvalidRequest)
	}
	if !t.fieldingEnd.After(t.fieldingStart) {
		return fmt.Errorf("%w: fielding end %s is not after start %s", ErrInvalidRequest,
			t.FieldingSpecification.EndAt, t.FieldingSpecification.StartAt)
	}
	for _, u := range []string{t.LiveURL, t.TestURL} {
		if err := validateSurveyURL(u); err != nil {
			return err
		}
	}
	return nil
}

type targetGroupResponse struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name"`
	Status model.TargetGroupStatus `json:"status"`
}

// launchRequest is the body of the launch-from-draft call.
type launchRequest struct {
	EndFieldingDate string `json:"end_fielding_date"`
}

func (l launchRequest) Validate() error {
	if l.EndFieldingDate == "" {
		return fmt.Errorf("%w: missing end of fielding", ErrInvalidRequest)
	}
	return nil
}

// launchResponse accepts either job id spelling seen on launch replies.
type launchResponse struct {
	JobID string `json:"job_id"`
	ID    string `json:"id"`
}

type overviewResponse struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Status     model.TargetGroupStatus `json:"status"`
	Statistics struct {
		FillingGoal                    int     `json:"filling_goal"`
		CurrentCompletes               int     `json:"current_completes"`
		CurrentPrescreens              int     `json:"current_prescreens"`
		MedianIncidenceRate            float64 `json:"median_incidence_rate"`
		MedianLengthOfInterviewSeconds int     `json:"median_length_of_interview_seconds"`
		AverageConversionRate          float64 `json:"average_conversion_rate"`
		AverageDropOffRate             float64 `json:"average_drop_off_rate"`
	} `json:"statistics"`
}

func (o overviewResponse) toModel() model.TargetGroupOverview {
	s := o.Statistics
	return model.TargetGroupOverview{
		ID:     o.ID,
		Name:   o.Name,
		Status: o.Status,
		Statistics: model.TargetGroupStatistics{
			FillingGoal:                    s.FillingGoal,
			CurrentCompletes:               s.CurrentCompletes,
			CurrentPrescreens:              s.CurrentPrescreens,
			MedianIncidenceRate:            s.MedianIncidenceRate,
			MedianLengthOfInterviewSeconds: s.MedianLengthOfInterviewSeconds,
			AverageConversionRate:          s.AverageConversionRate,
			AverageDropOffRate:             s.AverageDropOffRate,
		},
	}
}

func validateSurveyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: survey url %q: %v", ErrInvalidRequest, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: survey url %q must be absolute http(s)", ErrInvalidRequest, raw)
	}
	return nil
}
