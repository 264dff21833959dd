// Package fields pulls structured values out of OCR text by pattern matching.
//
// Two fields are recognized: the patient's national ID number (CPF, formatted
// ddd.ddd.ddd-dd) and the exam date (dd/dd/dddd). Only the leftmost match of
// each pattern is kept. A missing field is reported as an empty string, never
// as an error, so the pipeline always proceeds with whatever was found.
package fields

import "regexp"

var (
	nationalIDPattern = regexp.MustCompile(`\d{3}\.\d{3}\.\d{3}-\d{2}`)

	// The date is matched by shape only; 99/99/9999 is accepted.
	examDatePattern = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
)

// FieldSet holds the values extracted from one OCR text.
// An empty string means the field was not found.
type FieldSet struct {
	NationalID string `json:"national_id"`
	ExamDate   string `json:"exam_date"`
}

// Extract scans text for the national ID and the exam date.
func Extract(text string) FieldSet {
	return FieldSet{
		NationalID: nationalIDPattern.FindString(text),
		ExamDate:   examDatePattern.FindString(text),
	}
}

// HasNationalID reports whether a national ID was found.
func (f FieldSet) HasNationalID() bool { return f.NationalID != "" }

// HasExamDate reports whether an exam date was found.
func (f FieldSet) HasExamDate() bool { return f.ExamDate != "" }

// Missing lists the JSON names of the fields that were not found.
func (f FieldSet) Missing() []string {
	var missing []string
	if !f.HasNationalID() {
		missing = append(missing, "national_id")
	}
	if !f.HasExamDate() {
		missing = append(missing, "exam_date")
	}
	return missing
}
