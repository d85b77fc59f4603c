package model

import "strconv"

// RespondentStatus is the S2S integer status code.
type RespondentStatus int

// Known S2S status codes.
const (
	RespondentInSurvey         RespondentStatus = 1
	RespondentTerminate        RespondentStatus = 2
	RespondentOverquota        RespondentStatus = 3
	RespondentQualityTerminate RespondentStatus = 4
	RespondentComplete         RespondentStatus = 5
)

// IsTerminal reports whether s may be submitted as a final disposition.
func (s RespondentStatus) IsTerminal() bool {
	switch s {
	case RespondentComplete, RespondentTerminate, RespondentOverquota, RespondentQualityTerminate:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is one of the documented codes.
func (s RespondentStatus) IsKnown() bool {
	return s == RespondentInSurvey || s.IsTerminal()
}

func (s RespondentStatus) String() string {
	switch s {
	case RespondentInSurvey:
		return "in_survey"
	case RespondentTerminate:
		return "terminate"
	case RespondentOverquota:
		return "overquota"
	case RespondentQualityTerminate:
		return "quality_terminate"
	case RespondentComplete:
		return "complete"
	default:
		return "unknown_" + strconv.Itoa(int(s))
	}
}

// RespondentValidation is the vendor's answer to "may this respondent enter".
type RespondentValidation struct {
	RespondentID string            `json:"respondent_id"`
	Status       RespondentStatus  `json:"status"`
	Links        map[string]string `json:"links,omitempty"`
}

// Admit reports whether the respondent may proceed into the survey. Any code
// other than 1, including undocumented ones, means do not admit.
func (v RespondentValidation) Admit() bool {
	return v.Status == RespondentInSurvey
}

// StatusUpdateResult confirms a terminal disposition submission.
type StatusUpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
