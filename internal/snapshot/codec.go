// Package snapshot encodes a report as a flat JSON document for backup and
// restores it again.
//
// The document maps every field key of the report to its value: strings for
// scalar fields and arrays of strings for the two why chains. Root-cause
// text is written as stored, never recomputed.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DukeRupert/eightd/internal/domain"
)

// ParseError reports a backup document that could not be applied.
type ParseError struct {
	Key string // Offending field, empty when the document itself is malformed
	Err error
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid backup file: field %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("invalid backup file: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Fields returns the flat field map of a report, keyed by wire name.
func Fields(s *domain.ReportState) map[domain.FieldKey]any {
	out := make(map[domain.FieldKey]any, len(domain.ScalarFields())+len(domain.WhyCategories))
	for _, f := range domain.ScalarFields() {
		out[f.Key] = f.Get(s)
	}
	for _, c := range domain.WhyCategories {
		out[c.WhysKey()] = s.Whys(c)
	}
	return out
}

// Encode serializes the report. Keys are sorted, so identical states give
// identical bytes.
func Encode(s *domain.ReportState) ([]byte, error) {
	data, err := json.MarshalIndent(Fields(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode merges a backup document into target. Keys present in the
// document overwrite the matching field; absent keys and JSON null leave
// the field alone; unknown keys are ignored.
//
// On any error target is left exactly as it was.
func Decode(data []byte, target *domain.ReportState) error {
	if target == nil {
		return errors.New("decode snapshot: nil target")
	}

	staged, err := stage(data, target)
	if err != nil {
		return err
	}
	*target = *staged
	return nil
}

// stage applies the document to a clone of base and returns the clone.
func stage(data []byte, base *domain.ReportState) (*domain.ReportState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Err: errors.New("empty document")}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	if doc == nil {
		return nil, &ParseError{Err: errors.New("document is not a JSON object")}
	}

	staged := base.Clone()

	for _, f := range domain.ScalarFields() {
		raw, ok := present(doc, f.Key)
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &ParseError{Key: string(f.Key), Err: errors.New("expected a string")}
		}
		f.Set(staged, v)
	}

	for _, c := range domain.WhyCategories {
		raw, ok := present(doc, c.WhysKey())
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, &ParseError{Key: string(c.WhysKey()), Err: errors.New("expected an array of strings")}
		}
		setWhys(staged, c, list)
	}

	staged.Normalize()
	return staged, nil
}

func present(doc map[string]json.RawMessage, key domain.FieldKey) (json.RawMessage, bool) {
	raw, ok := doc[string(key)]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// setWhys replaces a chain wholesale. Restores are not why-list edits, so
// the stored root cause is left to its own key.
func setWhys(s *domain.ReportState, c domain.WhyCategory, list []string) {
	if list == nil {
		list = []string{}
	}
	switch c {
	case domain.WhyOccurrence:
		s.Analysis.OccurrenceWhys = list
	case domain.WhyDetection:
		s.Analysis.DetectionWhys = list
	}
}
