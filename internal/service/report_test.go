package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/DukeRupert/eightd/internal/i18n"
	"github.com/DukeRupert/eightd/internal/report"
	"github.com/DukeRupert/eightd/internal/repository"
	"github.com/DukeRupert/eightd/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     ReportService
	store   *repository.MemoryStore
	archive *storage.LocalStorage
	clock   *time.Time
}

type fixtureOption func(*ReportServiceConfig)

func withArchive(cfg *ReportServiceConfig) { cfg.ArchiveExports = true }

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	labels, err := i18n.Default()
	require.NoError(t, err)

	archive, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), BaseURL: "http://localhost/files"}, logger)
	require.NoError(t, err)

	clock := testNow
	f := &fixture{
		store:   repository.NewMemoryStore(),
		archive: archive,
		clock:   &clock,
	}

	cfg := ReportServiceConfig{
		Store:      f.store,
		Labels:     labels,
		Logger:     logger,
		Storage:    archive,
		Now:        func() time.Time { return *f.clock },
		SessionTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = NewReportService(cfg)
	return f
}

func (f *fixture) create(t *testing.T) uuid.UUID {
	t.Helper()
	sess, err := f.svc.Create(context.Background(), "en")
	require.NoError(t, err)
	return sess.ID
}

// =============================================================================
// Session Lifecycle
// =============================================================================

func TestReportService_Create(t *testing.T) {
	tests := []struct {
		name     string
		language string
		want     string
	}{
		{"explicit", "en", "en"},
		{"default", "", "en"},
		{"canonicalized", "EN", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			sess, err := f.svc.Create(context.Background(), tt.language)
			require.NoError(t, err)

			assert.Equal(t, tt.want, sess.State.Language)
			assert.Equal(t, "March 03, 2025", sess.State.ReportDate)
			assert.Equal(t, testNow, sess.CreatedAt)
			assert.Equal(t, 1, f.store.Len())
		})
	}
}

func TestReportService_Create_UnknownLocale(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), "de")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownLocale))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Equal(t, 0, f.store.Len())
}

func TestReportService_Get_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), uuid.New())

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReportService_PurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.create(t)
	*f.clock = testNow.Add(20 * time.Hour)
	fresh := f.create(t)

	*f.clock = testNow.Add(25 * time.Hour)
	n, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	_, err = f.svc.Get(ctx, stale)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	_, err = f.svc.Get(ctx, fresh)
	assert.NoError(t, err)
}

func TestReportService_PurgeExpired_Disabled(t *testing.T) {
	f := newFixture(t, func(cfg *ReportServiceConfig) { cfg.SessionTTL = 0 })
	f.create(t)
	*f.clock = testNow.Add(1000 * time.Hour)

	n, err := f.svc.PurgeExpired(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.store.Len())
}

// =============================================================================
// Editing
// =============================================================================

func TestReportService_SetField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	*f.clock = testNow.Add(time.Minute)
	sess, err := f.svc.SetField(ctx, id, domain.FieldD2Problem, "leak at seal")
	require.NoError(t, err)

	assert.Equal(t, "leak at seal", sess.State.Entry(domain.StepD2).Answer)
	assert.Equal(t, testNow.Add(time.Minute), sess.UpdatedAt)

	stored, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "leak at seal", stored.State.Entry(domain.StepD2).Answer)
}

func TestReportService_SetField_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		key   domain.FieldKey
		value string
		want  error
	}{
		{"unknown key", "d9_extra", "x", domain.ErrUnknownField},
		{"unknown locale", domain.FieldLanguage, "fr", domain.ErrUnknownLocale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id := f.create(t)
			before, err := f.svc.Get(ctx, id)
			require.NoError(t, err)

			_, err = f.svc.SetField(ctx, id, tt.key, tt.value)

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

			after, err := f.svc.Get(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(before, after))
		})
	}
}

func TestReportService_WhyChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	_, err := f.svc.SetWhy(ctx, id, domain.WhyOccurrence, 0, "wire loose")
	require.NoError(t, err)
	_, err = f.svc.AppendWhy(ctx, id, domain.WhyOccurrence)
	require.NoError(t, err)
	_, err = f.svc.AppendWhy(ctx, id, domain.WhyOccurrence)
	require.NoError(t, err)
	sess, err := f.svc.SetWhy(ctx, id, domain.WhyOccurrence, 2, "connector worn")
	require.NoError(t, err)

	assert.Equal(t, []string{"wire loose", "", "connector worn"}, sess.State.Whys(domain.WhyOccurrence))
	assert.Equal(t, "Occurrence-related root cause: wire loose, connector worn", sess.State.RootCause(domain.WhyOccurrence))

	removed, sess, err := f.svc.RemoveWhy(ctx, id, domain.WhyOccurrence, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"wire loose", "connector worn"}, sess.State.Whys(domain.WhyOccurrence))
}

func TestReportService_RemoveWhy_LastEntry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	removed, sess, err := f.svc.RemoveWhy(context.Background(), id, domain.WhyDetection, 0)

	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{""}, sess.State.Whys(domain.WhyDetection))
}

func TestReportService_SetWhy_InvalidIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	_, err := f.svc.SetWhy(ctx, id, domain.WhyDetection, 3, "x")

	assert.True(t, errors.Is(err, domain.ErrInvalidIndex))
	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, sess.State.Whys(domain.WhyDetection))
}

func TestReportService_DeriveRootCauses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	_, err := f.svc.SetWhy(ctx, id, domain.WhyDetection, 0, "no end-of-line test")
	require.NoError(t, err)
	_, err = f.svc.SetField(ctx, id, domain.FieldDetectionRootCause, "my own words")
	require.NoError(t, err)

	sess, err := f.svc.DeriveRootCauses(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "Detection-related root cause: no end-of-line test", sess.State.RootCause(domain.WhyDetection))
}

func TestReportService_ConcurrentEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AppendWhy(ctx, id, domain.WhyOccurrence)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, sess.State.Whys(domain.WhyOccurrence), 21)
	assert.Zero(t, f.svc.(*reportService).locks.size())
}

// =============================================================================
// Export and Restore
// =============================================================================

func TestReportService_Export(t *testing.T) {
	tests := []struct {
		format   domain.ReportFormat
		filename string
		magic    string
	}{
		{domain.ReportFormatXLSX, "8D_Report_March_03,_2025.xlsx", "PK"},
		{domain.ReportFormatPDF, "8D_Report_March_03,_2025.pdf", "%PDF-"},
		{domain.ReportFormatJSON, "8D_Report_Backup_March_03,_2025.json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			f := newFixture(t)
			id := f.create(t)

			export, err := f.svc.Export(context.Background(), id, tt.format)
			require.NoError(t, err)

			assert.Equal(t, tt.filename, export.Filename)
			assert.Equal(t, tt.format.ContentType(), export.ContentType)
			assert.True(t, bytes.HasPrefix(export.Data, []byte(tt.magic)), "unexpected content start %q", export.Data[:8])
			assert.Empty(t, export.ArchiveKey)
		})
	}
}

func TestReportService_Export_InvalidFormat(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	_, err := f.svc.Export(context.Background(), id, "docx")

	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestReportService_Export_MissingLogo(t *testing.T) {
	f := newFixture(t, func(cfg *ReportServiceConfig) {
		cfg.Logo = report.NewLogoLoader(filepath.Join(t.TempDir(), "missing.png"), 0, 0, nil)
	})
	id := f.create(t)

	export, err := f.svc.Export(context.Background(), id, domain.ReportFormatXLSX)

	require.NoError(t, err)
	assert.NotEmpty(t, export.Data)
}

func TestReportService_ArchiveLifecycle(t *testing.T) {
	f := newFixture(t, withArchive)
	ctx := context.Background()
	id := f.create(t)

	export, err := f.svc.Export(ctx, id, domain.ReportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, storage.ArchiveKey(id, export.Filename), export.ArchiveKey)

	_, err = f.svc.Backup(ctx, id)
	require.NoError(t, err)

	objects, err := f.svc.ListArchive(ctx, id)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	require.NoError(t, f.svc.Delete(ctx, id))

	remaining, err := f.archive.List(ctx, storage.ArchivePrefix(id))
	require.NoError(t, err)
	assert.Empty(t, remaining)
	_, err = f.svc.ListArchive(ctx, id)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReportService_OpenArchived(t *testing.T) {
	f := newFixture(t, withArchive)
	ctx := context.Background()
	id := f.create(t)

	export, err := f.svc.Export(ctx, id, domain.ReportFormatXLSX)
	require.NoError(t, err)
	name := filepath.Base(export.ArchiveKey)

	file, err := f.svc.OpenArchived(ctx, id, name)
	require.NoError(t, err)
	defer file.Body.Close()

	data, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	assert.Equal(t, export.Data, data)
	assert.Equal(t, domain.ReportFormatXLSX.ContentType(), file.ContentType)
	assert.Equal(t, int64(len(export.Data)), file.Size)

	link, err := f.svc.ArchiveURL(ctx, id, name)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/files/"+export.ArchiveKey, link)
}

func TestReportService_OpenArchived_NotFound(t *testing.T) {
	f := newFixture(t, withArchive)
	ctx := context.Background()
	id := f.create(t)
	_, err := f.svc.Export(ctx, id, domain.ReportFormatPDF)
	require.NoError(t, err)

	tests := []struct {
		name string
		id   uuid.UUID
		file string
	}{
		{"never archived", id, "8D_Report_April_01_2025.pdf"},
		{"path traversal", id, "../8D_Report_March_03_2025.pdf"},
		{"not an export", id, "notes.txt"},
		{"unknown session", uuid.New(), "8D_Report_March_03_2025.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.OpenArchived(ctx, tt.id, tt.file)
			assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

			_, err = f.svc.ArchiveURL(ctx, tt.id, tt.file)
			assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
		})
	}
}

func TestReportService_OpenArchived_NoStorage(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	_, err := f.svc.OpenArchived(context.Background(), id, "8D_Report_March_03_2025.pdf")

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReportService_Backup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)
	_, err := f.svc.SetField(ctx, id, domain.FieldD1Team, "Alice")
	require.NoError(t, err)

	export, err := f.svc.Backup(ctx, id)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(export.Data, &doc))
	assert.Equal(t, "Alice", doc["d1_team"])
	assert.Equal(t, []any{""}, doc["d5_occ_whys"])
	assert.Equal(t, "application/json", export.ContentType)
}

func TestReportService_Restore_Merges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)
	_, err := f.svc.SetField(ctx, id, domain.FieldD1Team, "Alice")
	require.NoError(t, err)

	sess, err := f.svc.Restore(ctx, id, []byte(`{"d2_problem": "leak at seal", "unknown_key": 1}`))
	require.NoError(t, err)

	assert.Equal(t, "Alice", sess.State.Entry(domain.StepD1).Answer)
	assert.Equal(t, "leak at seal", sess.State.Entry(domain.StepD2).Answer)
}

func TestReportService_Restore_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.create(t)
	_, err := f.svc.SetWhy(ctx, src, domain.WhyOccurrence, 0, "wire loose")
	require.NoError(t, err)
	_, err = f.svc.SetField(ctx, src, domain.FieldSystemicAnalysis, "PFMEA gap")
	require.NoError(t, err)

	backup, err := f.svc.Backup(ctx, src)
	require.NoError(t, err)

	dst := f.create(t)
	restored, err := f.svc.Restore(ctx, dst, backup.Data)
	require.NoError(t, err)

	original, err := f.svc.Get(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(original.State, restored.State))
}

func TestReportService_Restore_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
		message string
	}{
		{"malformed", `{"d1_team": `, nil, "invalid backup file"},
		{"wrong type", `{"d1_team": 42}`, nil, "d1_team"},
		{"unknown locale", `{"language": "de", "d1_team": "Bob"}`, domain.ErrUnknownLocale, "unsupported language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id := f.create(t)
			_, err := f.svc.SetField(ctx, id, domain.FieldD1Team, "Alice")
			require.NoError(t, err)
			before, err := f.svc.Get(ctx, id)
			require.NoError(t, err)

			_, err = f.svc.Restore(ctx, id, []byte(tt.data))

			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
			assert.Contains(t, domain.ErrorMessage(err), tt.message)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}

			after, err := f.svc.Get(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(before, after))
		})
	}
}

func TestReportService_Labels(t *testing.T) {
	f := newFixture(t)

	labels, err := f.svc.Labels("en")
	require.NoError(t, err)
	assert.Equal(t, "8D Report", labels.ReportTitle)

	_, err = f.svc.Labels("xx-YY")
	assert.True(t, errors.Is(err, domain.ErrUnknownLocale))
}
