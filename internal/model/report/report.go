package report

import "time"

// RadiologyReport is a finalized report written by an external ingestion process.
type RadiologyReport struct {
	ID              string    `json:"reportId"`
	PatientName     string    `json:"patientName"`
	ReportDate      string    `json:"reportDate"`
	CreatedAt       time.Time `json:"created_at"`
	TypeOfStudy     string    `json:"typeOfStudy"`
	ClinicalHistory string    `json:"clinicalHistory"`
	Airways         string    `json:"airways"`
	LeftLung        string    `json:"leftLung"`
	RightLung       string    `json:"rightLung"`
	Pleura          string    `json:"pleura"`
	Impression      string    `json:"impression"`
	Technique       string    `json:"technique"`
}

// Placeholder is rendered for fields the report does not carry.
const Placeholder = "N/A"

// Or returns value, or Placeholder when value is blank.
func Or(value string) string {
	if value == "" {
		return Placeholder
	}
	return value
}

// CreatedAtText renders CreatedAt for prompts.
func (r RadiologyReport) CreatedAtText() string {
	if r.CreatedAt.IsZero() {
		return Placeholder
	}
	return r.CreatedAt.UTC().Format(time.RFC3339)
}
