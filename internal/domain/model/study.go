// Package model defines the domain types shared by the vendor adapters.
package model

import "time"

// Study is the caller-owned description of a survey to field. The vendor
// adapters only read it.
type Study struct {
	ID                                string             `json:"id" yaml:"id"`
	Name                              string             `json:"name" yaml:"name"`
	StartDate                         *time.Time         `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate                           *time.Time         `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	LocaleHint                        string             `json:"locale_hint,omitempty" yaml:"locale_hint,omitempty"`
	TargetCompletes                   int                `json:"target_completes" yaml:"target_completes"`
	EstimatedIncidenceRate            float64            `json:"estimated_incidence_rate" yaml:"estimated_incidence_rate"`
	EstimatedLengthOfInterviewMinutes int                `json:"estimated_length_of_interview_minutes" yaml:"estimated_length_of_interview_minutes"`
	CollectsPII                       bool               `json:"collects_pii" yaml:"collects_pii"`
	Audience                          AudienceDescriptor `json:"audience" yaml:"audience"`
}

// AudienceDescriptor is the hosting application's own description of who
// should take the survey. Translating it into vendor conditions is the job
// of a targeting.Translator.
type AudienceDescriptor struct {
	Countries  []string            `json:"countries,omitempty" yaml:"countries,omitempty"`
	MinAge     int                 `json:"min_age,omitempty" yaml:"min_age,omitempty"`
	MaxAge     int                 `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	Genders    []string            `json:"genders,omitempty" yaml:"genders,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// IsEmpty reports whether the descriptor places no constraint at all.
func (a AudienceDescriptor) IsEmpty() bool {
	return len(a.Countries) == 0 && a.MinAge == 0 && a.MaxAge == 0 &&
		len(a.Genders) == 0 && len(a.Attributes) == 0
}
