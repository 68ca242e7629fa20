package ai

import (
	"fmt"
	"strings"

	"github.com/docvisionai/backend/internal/model/report"
)

// BuildReportPrompt renders every report of a patient ahead of the radiologist's question.
func BuildReportPrompt(patientID, question string, reports []report.RadiologyReport) string {
	var b strings.Builder
	b.WriteString("Based on the following patient history and radiology reports, please answer the question below:\n\n")
	fmt.Fprintf(&b, "Patient ID: %s\n\n", patientID)

	for _, r := range reports {
		fmt.Fprintf(&b, "Report ID: %s\n", report.Or(r.ID))
		fmt.Fprintf(&b, "Patient Name: %s\n", report.Or(r.PatientName))
		fmt.Fprintf(&b, "- Report Date: %s (Created At: %s)\n", report.Or(r.ReportDate), r.CreatedAtText())
		fmt.Fprintf(&b, "  - Type of Study: %s\n", report.Or(r.TypeOfStudy))
		fmt.Fprintf(&b, "  - Clinical History: %s\n", report.Or(r.ClinicalHistory))
		b.WriteString("  - Findings:\n")
		fmt.Fprintf(&b, "    - Airways: %s\n", report.Or(r.Airways))
		fmt.Fprintf(&b, "    - Left Lung: %s\n", report.Or(r.LeftLung))
		fmt.Fprintf(&b, "    - Right Lung: %s\n", report.Or(r.RightLung))
		fmt.Fprintf(&b, "    - Pleura: %s\n", report.Or(r.Pleura))
		fmt.Fprintf(&b, "  - Impression: %s\n", report.Or(r.Impression))
		fmt.Fprintf(&b, "  - Technique: %s\n", report.Or(r.Technique))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Radiologist's Question: %s\n", question)
	return b.String()
}
