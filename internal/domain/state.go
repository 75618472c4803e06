// Package domain contains core business types and interfaces.
//
// This file defines the ReportState aggregate that backs one 8D report:
// the per-step answers, the five-whys lists of the final analysis and the
// report metadata.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Step
// =============================================================================

// Step identifies one of the eight disciplines of an 8D report.
type Step int

const (
	StepD1 Step = iota + 1 // Team
	StepD2                 // Problem description
	StepD3                 // Containment actions
	StepD4                 // Root cause
	StepD5                 // Final analysis (five whys)
	StepD6                 // Corrective actions
	StepD7                 // Preventive actions
	StepD8                 // Team recognition
)

// AllSteps lists every step in report order.
var AllSteps = []Step{StepD1, StepD2, StepD3, StepD4, StepD5, StepD6, StepD7, StepD8}

// AnswerSteps lists the steps that carry an answer/extra pair, in report
// order. D5 is modeled separately by FinalAnalysis.
var AnswerSteps = []Step{StepD1, StepD2, StepD3, StepD4, StepD6, StepD7, StepD8}

// String returns the step code ("D1".."D8").
func (s Step) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return fmt.Sprintf("D%d", int(s))
}

// IsValid returns true if the step is one of D1..D8.
func (s Step) IsValid() bool {
	return s >= StepD1 && s <= StepD8
}

// HasAnswer returns true if the step stores an answer/extra pair.
func (s Step) HasAnswer() bool {
	return s.IsValid() && s != StepD5
}

// =============================================================================
// Why Category
// =============================================================================

// WhyCategory selects one of the two five-whys chains of the final analysis.
type WhyCategory string

const (
	// WhyOccurrence is the chain explaining why the problem occurred.
	WhyOccurrence WhyCategory = "occurrence"

	// WhyDetection is the chain explaining why the problem escaped detection.
	WhyDetection WhyCategory = "detection"
)

// WhyCategories lists both chains in display order.
var WhyCategories = []WhyCategory{WhyOccurrence, WhyDetection}

// String returns the string representation of the category.
func (c WhyCategory) String() string {
	return string(c)
}

// IsValid returns true if the category is a recognized value.
func (c WhyCategory) IsValid() bool {
	switch c {
	case WhyOccurrence, WhyDetection:
		return true
	}
	return false
}

// ParseWhyCategory converts a string into a WhyCategory.
func ParseWhyCategory(s string) (WhyCategory, error) {
	c := WhyCategory(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", Invalid("report.parse_category", fmt.Sprintf("unknown why category %q (must be 'occurrence' or 'detection')", s))
	}
	return c, nil
}

// RootCausePrefix returns the fixed prefix of the derived root-cause text.
func (c WhyCategory) RootCausePrefix() string {
	if c == WhyDetection {
		return DetectionRootCausePrefix
	}
	return OccurrenceRootCausePrefix
}

// =============================================================================
// Report State
// =============================================================================

const (
	// OccurrenceRootCausePrefix starts the derived occurrence root cause.
	OccurrenceRootCausePrefix = "Occurrence-related root cause: "

	// DetectionRootCausePrefix starts the derived detection root cause.
	DetectionRootCausePrefix = "Detection-related root cause: "

	// ReportDateLayout is the long date form used for new reports.
	ReportDateLayout = "January 02, 2006"

	// DefaultLanguage is the locale used when none is requested.
	DefaultLanguage = "en"
)

// StepEntry holds the free-text answer and notes of one step.
type StepEntry struct {
	Answer string
	Extra  string
}

// FinalAnalysis is the D5 section: two five-whys chains, the root causes
// derived from them and the systemic analysis.
type FinalAnalysis struct {
	OccurrenceWhys      []string
	DetectionWhys       []string
	SystemicAnalysis    string
	RootCauseOccurrence string
	RootCauseDetection  string
}

// ReportState is the canonical in-memory representation of one 8D report.
//
// A ReportState is owned by a single session and is not safe for concurrent
// mutation. Callers that share one across goroutines must serialize access.
type ReportState struct {
	Language   string
	ReportDate string
	PreparedBy string
	Steps      map[Step]StepEntry
	Analysis   FinalAnalysis
}

// NewReportState creates a report with default values: every answer empty,
// one blank entry in each why chain, the report date set to now and the
// root-cause fields seeded with their derived defaults.
func NewReportState(language string, now time.Time) *ReportState {
	s := &ReportState{
		Language:   language,
		ReportDate: now.Format(ReportDateLayout),
		Steps:      make(map[Step]StepEntry, len(AnswerSteps)),
		Analysis: FinalAnalysis{
			OccurrenceWhys: []string{""},
			DetectionWhys:  []string{""},
		},
	}
	for _, step := range AnswerSteps {
		s.Steps[step] = StepEntry{}
	}
	s.DeriveRootCauseDefaults()
	return s
}

// Clone returns a deep copy of the state.
func (s *ReportState) Clone() *ReportState {
	c := *s
	c.Steps = make(map[Step]StepEntry, len(s.Steps))
	for k, v := range s.Steps {
		c.Steps[k] = v
	}
	c.Analysis.OccurrenceWhys = append([]string(nil), s.Analysis.OccurrenceWhys...)
	c.Analysis.DetectionWhys = append([]string(nil), s.Analysis.DetectionWhys...)
	return &c
}

// Normalize restores the structural invariants after a bulk overwrite:
// every answer step is present and neither why chain is empty.
func (s *ReportState) Normalize() {
	if s.Steps == nil {
		s.Steps = make(map[Step]StepEntry, len(AnswerSteps))
	}
	for _, step := range AnswerSteps {
		if _, ok := s.Steps[step]; !ok {
			s.Steps[step] = StepEntry{}
		}
	}
	if len(s.Analysis.OccurrenceWhys) == 0 {
		s.Analysis.OccurrenceWhys = []string{""}
	}
	if len(s.Analysis.DetectionWhys) == 0 {
		s.Analysis.DetectionWhys = []string{""}
	}
}

// Entry returns the answer/extra pair of a step. Steps without an answer
// return the zero value.
func (s *ReportState) Entry(step Step) StepEntry {
	return s.Steps[step]
}

// SetAnswer sets the answer text of a step.
func (s *ReportState) SetAnswer(step Step, value string) error {
	if !step.HasAnswer() {
		return Wrap(ErrUnknownField, EINVALID, "report.set_answer", fmt.Sprintf("step %s has no answer field", step))
	}
	if err := checkText("report.set_answer", step.String(), value); err != nil {
		return err
	}
	e := s.Steps[step]
	e.Answer = value
	s.Steps[step] = e
	return nil
}

// SetExtra sets the notes text of a step.
func (s *ReportState) SetExtra(step Step, value string) error {
	if !step.HasAnswer() {
		return Wrap(ErrUnknownField, EINVALID, "report.set_extra", fmt.Sprintf("step %s has no notes field", step))
	}
	if err := checkText("report.set_extra", step.String(), value); err != nil {
		return err
	}
	e := s.Steps[step]
	e.Extra = value
	s.Steps[step] = e
	return nil
}

// Whys returns a copy of the why chain of a category.
func (s *ReportState) Whys(c WhyCategory) []string {
	list := s.whys(c)
	if list == nil {
		return nil
	}
	return append([]string(nil), (*list)...)
}

// RootCause returns the stored root-cause text of a category.
func (s *ReportState) RootCause(c WhyCategory) string {
	if rc := s.rootCause(c); rc != nil {
		return *rc
	}
	return ""
}

// SetRootCause overwrites the root-cause text of a category. This is a
// manual edit: later why-chain changes leave it alone.
func (s *ReportState) SetRootCause(c WhyCategory, value string) error {
	rc := s.rootCause(c)
	if rc == nil {
		return invalidCategory("report.set_root_cause", c)
	}
	if err := checkText("report.set_root_cause", string(c), value); err != nil {
		return err
	}
	*rc = value
	return nil
}

// AppendWhy appends one blank entry to a why chain.
func (s *ReportState) AppendWhy(c WhyCategory) error {
	return s.mutateWhys("report.append_why", c, func(list []string) ([]string, error) {
		return append(list, ""), nil
	})
}

// RemoveWhy removes the entry at index. Removing the only remaining entry
// is rejected: the state is left unchanged and removed is false.
func (s *ReportState) RemoveWhy(c WhyCategory, index int) (removed bool, err error) {
	err = s.mutateWhys("report.remove_why", c, func(list []string) ([]string, error) {
		if index < 0 || index >= len(list) {
			return nil, indexError("report.remove_why", c, index, len(list))
		}
		if len(list) == 1 {
			return list, nil
		}
		removed = true
		return append(list[:index], list[index+1:]...), nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// SetWhy sets the entry at index.
func (s *ReportState) SetWhy(c WhyCategory, index int, value string) error {
	return s.mutateWhys("report.set_why", c, func(list []string) ([]string, error) {
		if index < 0 || index >= len(list) {
			return nil, indexError("report.set_why", c, index, len(list))
		}
		if err := checkText("report.set_why", string(c), value); err != nil {
			return nil, err
		}
		list[index] = value
		return list, nil
	})
}

// SuggestRootCause returns the root cause derived from the current why
// chain of a category without storing it.
func (s *ReportState) SuggestRootCause(c WhyCategory) string {
	list := s.whys(c)
	if list == nil {
		return ""
	}
	return deriveRootCause(c, *list)
}

// DeriveRootCauseDefaults overwrites both root-cause fields with the text
// derived from the current why chains.
func (s *ReportState) DeriveRootCauseDefaults() {
	for _, c := range WhyCategories {
		*s.rootCause(c) = deriveRootCause(c, *s.whys(c))
	}
}

// mutateWhys applies fn to a copy of the chain and commits the result.
// The root cause of the category follows the chain only while it still
// holds the suggestion derived from the chain before the change.
func (s *ReportState) mutateWhys(op string, c WhyCategory, fn func([]string) ([]string, error)) error {
	list := s.whys(c)
	if list == nil {
		return invalidCategory(op, c)
	}
	before := deriveRootCause(c, *list)

	next, err := fn(append([]string(nil), (*list)...))
	if err != nil {
		return err
	}
	*list = next

	rc := s.rootCause(c)
	if *rc == before {
		*rc = deriveRootCause(c, next)
	}
	return nil
}

func (s *ReportState) whys(c WhyCategory) *[]string {
	switch c {
	case WhyOccurrence:
		return &s.Analysis.OccurrenceWhys
	case WhyDetection:
		return &s.Analysis.DetectionWhys
	}
	return nil
}

func (s *ReportState) rootCause(c WhyCategory) *string {
	switch c {
	case WhyOccurrence:
		return &s.Analysis.RootCauseOccurrence
	case WhyDetection:
		return &s.Analysis.RootCauseDetection
	}
	return nil
}

// deriveRootCause joins the non-blank entries in order behind the category
// prefix.
func deriveRootCause(c WhyCategory, whys []string) string {
	parts := make([]string, 0, len(whys))
	for _, w := range whys {
		if strings.TrimSpace(w) == "" {
			continue
		}
		parts = append(parts, w)
	}
	return c.RootCausePrefix() + strings.Join(parts, ", ")
}

func indexError(op string, c WhyCategory, index, length int) error {
	return Wrap(ErrInvalidIndex, EINVALID, op,
		fmt.Sprintf("%s why index %d out of range (have %d entries)", c, index, length))
}

func invalidCategory(op string, c WhyCategory) error {
	return Invalid(op, fmt.Sprintf("unknown why category %q", string(c)))
}
