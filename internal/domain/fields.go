package domain

import (
	"fmt"
	"unicode/utf8"
)

// FieldKey is the wire name of a report field. Keys are shared by the JSON
// backup format and the field-edit API.
type FieldKey string

const (
	FieldLanguage   FieldKey = "language"
	FieldReportDate FieldKey = "report_date"
	FieldPreparedBy FieldKey = "prepared_by"

	FieldD1Team        FieldKey = "d1_team"
	FieldD1Extra       FieldKey = "d1_extra"
	FieldD2Problem     FieldKey = "d2_problem"
	FieldD2Extra       FieldKey = "d2_extra"
	FieldD3Containment FieldKey = "d3_containment"
	FieldD3Extra       FieldKey = "d3_extra"
	FieldD4RootCause   FieldKey = "d4_root_cause"
	FieldD4Extra       FieldKey = "d4_extra"

	FieldOccurrenceWhys      FieldKey = "d5_occ_whys"
	FieldDetectionWhys       FieldKey = "d5_det_whys"
	FieldOccurrenceRootCause FieldKey = "d5_occ_root_cause"
	FieldDetectionRootCause  FieldKey = "d5_det_root_cause"
	FieldSystemicAnalysis    FieldKey = "d5_systemic"

	FieldD6Corrective  FieldKey = "d6_corrective"
	FieldD6Extra       FieldKey = "d6_extra"
	FieldD7Preventive  FieldKey = "d7_preventive"
	FieldD7Extra       FieldKey = "d7_extra"
	FieldD8Recognition FieldKey = "d8_recognition"
	FieldD8Extra       FieldKey = "d8_extra"
)

var answerKeys = map[Step]FieldKey{
	StepD1: FieldD1Team,
	StepD2: FieldD2Problem,
	StepD3: FieldD3Containment,
	StepD4: FieldD4RootCause,
	StepD6: FieldD6Corrective,
	StepD7: FieldD7Preventive,
	StepD8: FieldD8Recognition,
}

var extraKeys = map[Step]FieldKey{
	StepD1: FieldD1Extra,
	StepD2: FieldD2Extra,
	StepD3: FieldD3Extra,
	StepD4: FieldD4Extra,
	StepD6: FieldD6Extra,
	StepD7: FieldD7Extra,
	StepD8: FieldD8Extra,
}

// AnswerKey returns the wire name of the step's answer, or "" for D5.
func (s Step) AnswerKey() FieldKey {
	return answerKeys[s]
}

// ExtraKey returns the wire name of the step's notes, or "" for D5.
func (s Step) ExtraKey() FieldKey {
	return extraKeys[s]
}

// WhysKey returns the wire name of the category's why chain.
func (c WhyCategory) WhysKey() FieldKey {
	if c == WhyDetection {
		return FieldDetectionWhys
	}
	return FieldOccurrenceWhys
}

// RootCauseKey returns the wire name of the category's root cause.
func (c WhyCategory) RootCauseKey() FieldKey {
	if c == WhyDetection {
		return FieldDetectionRootCause
	}
	return FieldOccurrenceRootCause
}

// ScalarField binds a wire key to one string field of a ReportState.
type ScalarField struct {
	Key FieldKey
	Get func(*ReportState) string
	Set func(*ReportState, string)
}

var scalarFields = buildScalarFields()

func buildScalarFields() []ScalarField {
	fields := []ScalarField{
		{
			Key: FieldLanguage,
			Get: func(s *ReportState) string { return s.Language },
			Set: func(s *ReportState, v string) { s.Language = v },
		},
		{
			Key: FieldReportDate,
			Get: func(s *ReportState) string { return s.ReportDate },
			Set: func(s *ReportState, v string) { s.ReportDate = v },
		},
		{
			Key: FieldPreparedBy,
			Get: func(s *ReportState) string { return s.PreparedBy },
			Set: func(s *ReportState, v string) { s.PreparedBy = v },
		},
	}

	for _, step := range AnswerSteps {
		step := step
		fields = append(fields,
			ScalarField{
				Key: step.AnswerKey(),
				Get: func(s *ReportState) string { return s.Steps[step].Answer },
				Set: func(s *ReportState, v string) { _ = s.SetAnswer(step, v) },
			},
			ScalarField{
				Key: step.ExtraKey(),
				Get: func(s *ReportState) string { return s.Steps[step].Extra },
				Set: func(s *ReportState, v string) { _ = s.SetExtra(step, v) },
			},
		)
	}

	for _, c := range WhyCategories {
		c := c
		fields = append(fields, ScalarField{
			Key: c.RootCauseKey(),
			Get: func(s *ReportState) string { return s.RootCause(c) },
			Set: func(s *ReportState, v string) { _ = s.SetRootCause(c, v) },
		})
	}

	return append(fields, ScalarField{
		Key: FieldSystemicAnalysis,
		Get: func(s *ReportState) string { return s.Analysis.SystemicAnalysis },
		Set: func(s *ReportState, v string) { s.Analysis.SystemicAnalysis = v },
	})
}

// ScalarFields returns every string-valued field of a report.
func ScalarFields() []ScalarField {
	return append([]ScalarField(nil), scalarFields...)
}

// LookupScalarField finds a string-valued field by wire name.
func LookupScalarField(key FieldKey) (ScalarField, bool) {
	for _, f := range scalarFields {
		if f.Key == key {
			return f, true
		}
	}
	return ScalarField{}, false
}

// SetField sets one string-valued field by wire name. Any valid UTF-8 text
// is accepted, including the empty string.
func (s *ReportState) SetField(key FieldKey, value string) error {
	f, ok := LookupScalarField(key)
	if !ok {
		return Wrap(ErrUnknownField, EINVALID, "report.set_field", fmt.Sprintf("unknown field %q", string(key)))
	}
	if err := checkText("report.set_field", string(key), value); err != nil {
		return err
	}
	f.Set(s, value)
	return nil
}

// checkText rejects text the JSON encoder would silently rewrite to U+FFFD.
func checkText(op, field, value string) error {
	if utf8.ValidString(value) {
		return nil
	}
	return Wrap(ErrInvalidText, EINVALID, op, fmt.Sprintf("field %q is not valid UTF-8 text", field))
}

// Field returns one string-valued field by wire name.
func (s *ReportState) Field(key FieldKey) (string, error) {
	f, ok := LookupScalarField(key)
	if !ok {
		return "", Wrap(ErrUnknownField, EINVALID, "report.field", fmt.Sprintf("unknown field %q", string(key)))
	}
	return f.Get(s), nil
}
