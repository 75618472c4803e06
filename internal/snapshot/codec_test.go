package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

func filledState(t *testing.T) *domain.ReportState {
	t.Helper()

	s := domain.NewReportState("en", testNow)
	s.PreparedBy = "Quality team"
	for _, step := range domain.AnswerSteps {
		require.NoError(t, s.SetAnswer(step, "answer "+step.String()))
		require.NoError(t, s.SetExtra(step, "notes "+step.String()))
	}
	require.NoError(t, s.SetWhy(domain.WhyOccurrence, 0, "wire loose"))
	require.NoError(t, s.AppendWhy(domain.WhyOccurrence))
	require.NoError(t, s.AppendWhy(domain.WhyOccurrence))
	require.NoError(t, s.SetWhy(domain.WhyOccurrence, 2, "connector worn"))
	require.NoError(t, s.SetWhy(domain.WhyDetection, 0, "no end-of-line test"))
	require.NoError(t, s.SetRootCause(domain.WhyDetection, "manually edited"))
	s.Analysis.SystemicAnalysis = "PFMEA did not list vibration"
	return s
}

func TestRoundTrip(t *testing.T) {
	original := filledState(t)

	data, err := Encode(original)
	require.NoError(t, err)

	restored := domain.NewReportState("en", testNow.AddDate(0, 1, 0))
	require.NoError(t, Decode(data, restored))

	if diff := cmp.Diff(original, restored); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	s := filledState(t)

	a, err := Encode(s)
	require.NoError(t, err)
	b, err := Encode(s.Clone())
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
}

func TestEncode_WritesStoredRootCause(t *testing.T) {
	s := domain.NewReportState("en", testNow)
	require.NoError(t, s.SetWhy(domain.WhyOccurrence, 0, "wire loose"))
	require.NoError(t, s.SetRootCause(domain.WhyOccurrence, "kept as typed"))

	data, err := Encode(s)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "kept as typed", doc["d5_occ_root_cause"])
	assert.Equal(t, []any{"wire loose"}, doc["d5_occ_whys"])
	assert.Equal(t, "March 03, 2025", doc["report_date"])
	assert.Len(t, doc, 22)
}

func TestDecode_MergeKeepsAbsentFields(t *testing.T) {
	s := domain.NewReportState("en", testNow)
	require.NoError(t, s.SetAnswer(domain.StepD1, "Alice"))

	err := Decode([]byte(`{"d2_problem": "leak at seal"}`), s)

	require.NoError(t, err)
	assert.Equal(t, "Alice", s.Entry(domain.StepD1).Answer)
	assert.Equal(t, "leak at seal", s.Entry(domain.StepD2).Answer)
}

func TestDecode_MalformedLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
	}{
		{"truncated", `{"d1_team": "Alice"`, ""},
		{"not json", `hello`, ""},
		{"empty", ``, ""},
		{"array document", `["d1_team"]`, ""},
		{"null document", `null`, ""},
		{"number for string", `{"d1_team": "Bob", "d2_problem": 42}`, "d2_problem"},
		{"string for list", `{"d1_team": "Bob", "d5_occ_whys": "x"}`, "d5_occ_whys"},
		{"object for list", `{"d5_det_whys": {"0": "x"}}`, "d5_det_whys"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := filledState(t)
			before := s.Clone()

			err := Decode([]byte(tt.input), s)

			require.Error(t, err)
			assert.True(t, IsParseError(err))
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantKey, pe.Key)
			assert.Contains(t, err.Error(), "invalid backup file")
			if diff := cmp.Diff(before, s); diff != "" {
				t.Errorf("state changed on failed decode (-before +after):\n%s", diff)
			}
		})
	}
}

func TestDecode_UnknownKeysIgnored(t *testing.T) {
	s := domain.NewReportState("en", testNow)

	err := Decode([]byte(`{"d5_occurrence": "legacy free text", "npqp": [1, 2], "prepared_by": "Dana"}`), s)

	require.NoError(t, err)
	assert.Equal(t, "Dana", s.PreparedBy)
}

func TestDecode_NullIsAbsent(t *testing.T) {
	s := domain.NewReportState("en", testNow)
	require.NoError(t, s.SetAnswer(domain.StepD3, "sorted stock"))

	err := Decode([]byte(`{"d3_containment": null, "d5_occ_whys": null}`), s)

	require.NoError(t, err)
	assert.Equal(t, "sorted stock", s.Entry(domain.StepD3).Answer)
	assert.Equal(t, []string{""}, s.Whys(domain.WhyOccurrence))
}

func TestDecode_EmptyWhyListNormalized(t *testing.T) {
	s := filledState(t)

	err := Decode([]byte(`{"d5_occ_whys": []}`), s)

	require.NoError(t, err)
	assert.Equal(t, []string{""}, s.Whys(domain.WhyOccurrence))
	// Root cause is restored only from its own key.
	assert.Equal(t, "Occurrence-related root cause: wire loose, connector worn", s.RootCause(domain.WhyOccurrence))
}

func TestDecode_NilTarget(t *testing.T) {
	err := Decode([]byte(`{}`), nil)
	assert.Error(t, err)
	assert.False(t, IsParseError(err))
}

func TestFields(t *testing.T) {
	s := filledState(t)

	fields := Fields(s)

	assert.Equal(t, "answer D4", fields[domain.FieldD4RootCause])
	assert.Equal(t, []string{"no end-of-line test"}, fields[domain.FieldDetectionWhys])
	assert.Equal(t, "manually edited", fields[domain.FieldDetectionRootCause])
}
