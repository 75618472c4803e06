package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarFields_CoverEveryTextField(t *testing.T) {
	keys := make(map[FieldKey]bool)
	for _, f := range ScalarFields() {
		assert.False(t, keys[f.Key], "duplicate key %s", f.Key)
		keys[f.Key] = true
	}

	// 3 metadata fields + 7 steps x 2 + 2 root causes + systemic analysis
	assert.Len(t, keys, 20)
	for _, step := range AnswerSteps {
		assert.True(t, keys[step.AnswerKey()], "missing answer key for %s", step)
		assert.True(t, keys[step.ExtraKey()], "missing extra key for %s", step)
	}
	assert.Empty(t, StepD5.AnswerKey())
}

func TestSetField(t *testing.T) {
	tests := []struct {
		key   FieldKey
		value string
		check func(*ReportState) string
	}{
		{FieldReportDate, "April 01, 2025", func(s *ReportState) string { return s.ReportDate }},
		{FieldPreparedBy, "Quality team", func(s *ReportState) string { return s.PreparedBy }},
		{FieldD1Team, "Alice, Bob", func(s *ReportState) string { return s.Entry(StepD1).Answer }},
		{FieldD2Problem, "leak at seal", func(s *ReportState) string { return s.Entry(StepD2).Answer }},
		{FieldD3Extra, "sorted 400 parts", func(s *ReportState) string { return s.Entry(StepD3).Extra }},
		{FieldD8Recognition, "thanks all", func(s *ReportState) string { return s.Entry(StepD8).Answer }},
		{FieldSystemicAnalysis, "PFMEA gap", func(s *ReportState) string { return s.Analysis.SystemicAnalysis }},
		{FieldOccurrenceRootCause, "manual", func(s *ReportState) string { return s.Analysis.RootCauseOccurrence }},
	}

	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			s := NewReportState("en", testNow)

			require.NoError(t, s.SetField(tt.key, tt.value))

			assert.Equal(t, tt.value, tt.check(s))
			got, err := s.Field(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestSetField_UnknownKey(t *testing.T) {
	s := NewReportState("en", testNow)
	before := s.Clone()

	err := s.SetField("d5_occurrence", "x")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownField))
	assert.Equal(t, EINVALID, ErrorCode(err))
	assert.Equal(t, before, s)

	// List fields are not scalar.
	assert.Error(t, s.SetField(FieldOccurrenceWhys, "x"))
}

func TestSetters_RejectInvalidUTF8(t *testing.T) {
	const bad = "leak at seal \xff\xfe"

	tests := []struct {
		name string
		set  func(s *ReportState) error
	}{
		{"field", func(s *ReportState) error { return s.SetField(FieldD2Problem, bad) }},
		{"answer", func(s *ReportState) error { return s.SetAnswer(StepD3, bad) }},
		{"notes", func(s *ReportState) error { return s.SetExtra(StepD3, bad) }},
		{"why", func(s *ReportState) error { return s.SetWhy(WhyDetection, 0, bad) }},
		{"root cause", func(s *ReportState) error { return s.SetRootCause(WhyOccurrence, bad) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewReportState("en", testNow)
			before := s.Clone()

			err := tt.set(s)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidText))
			assert.Equal(t, EINVALID, ErrorCode(err))
			assert.Equal(t, before, s)
		})
	}

	// Non-ASCII text that is valid UTF-8 is kept as is.
	s := NewReportState("en", testNow)
	require.NoError(t, s.SetField(FieldD2Problem, "Dichtung undicht, 5 µm Spalt"))
	got, err := s.Field(FieldD2Problem)
	require.NoError(t, err)
	assert.Equal(t, "Dichtung undicht, 5 µm Spalt", got)
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		format ReportFormat
		want   string
	}{
		{ReportFormatXLSX, "8D_Report_March_03,_2025.xlsx"},
		{ReportFormatPDF, "8D_Report_March_03,_2025.pdf"},
		{ReportFormatJSON, "8D_Report_Backup_March_03,_2025.json"},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ExportFilename("March 03, 2025", tt.format))
		})
	}
}

func TestReportFormat_ContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ReportFormatXLSX.ContentType())
	assert.Equal(t, "application/json", ReportFormatJSON.ContentType())
	assert.Equal(t, "application/pdf", ReportFormatPDF.ContentType())
	assert.False(t, ReportFormat("docx").IsValid())
}
