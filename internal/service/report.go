// Package service contains the business logic layer.
//
// This file implements the report service: session-scoped editing of an 8D
// report, export to documents and backups, and restore from a backup.
package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/DukeRupert/eightd/internal/i18n"
	"github.com/DukeRupert/eightd/internal/metrics"
	"github.com/DukeRupert/eightd/internal/report"
	"github.com/DukeRupert/eightd/internal/repository"
	"github.com/DukeRupert/eightd/internal/snapshot"
	"github.com/DukeRupert/eightd/internal/storage"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ReportService defines the operations on report sessions.
type ReportService interface {
	// Create starts a session with a default report in the given language.
	// An empty language selects the configured default.
	Create(ctx context.Context, language string) (*domain.Session, error)

	// Get returns a copy of the session.
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// SetField sets one scalar field by its wire key.
	SetField(ctx context.Context, id uuid.UUID, key domain.FieldKey, value string) (*domain.Session, error)

	// AppendWhy adds a blank entry to a why chain.
	AppendWhy(ctx context.Context, id uuid.UUID, c domain.WhyCategory) (*domain.Session, error)

	// RemoveWhy removes entry index of a why chain. Removing the last entry
	// is a no-op reported as removed == false.
	RemoveWhy(ctx context.Context, id uuid.UUID, c domain.WhyCategory, index int) (bool, *domain.Session, error)

	// SetWhy replaces entry index of a why chain.
	SetWhy(ctx context.Context, id uuid.UUID, c domain.WhyCategory, index int, value string) (*domain.Session, error)

	// DeriveRootCauses overwrites both root causes with their derived text.
	DeriveRootCauses(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// Export renders the report in the given format.
	Export(ctx context.Context, id uuid.UUID, format domain.ReportFormat) (*Export, error)

	// Backup returns the JSON snapshot of the report.
	Backup(ctx context.Context, id uuid.UUID) (*Export, error)

	// Restore merges a JSON snapshot into the report. On failure the stored
	// report is left untouched.
	Restore(ctx context.Context, id uuid.UUID, data []byte) (*domain.Session, error)

	// Delete removes the session and its archived exports.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListArchive lists the archived exports of a session.
	ListArchive(ctx context.Context, id uuid.UUID) ([]storage.ObjectInfo, error)

	// OpenArchived opens an archived export by file name. The caller closes
	// the returned body.
	OpenArchived(ctx context.Context, id uuid.UUID, name string) (*ArchivedFile, error)

	// ArchiveURL returns a time-limited link to an archived export.
	ArchiveURL(ctx context.Context, id uuid.UUID, name string) (string, error)

	// PurgeExpired removes sessions idle for longer than the session TTL.
	PurgeExpired(ctx context.Context) (int64, error)

	// Labels returns the label table of a language.
	Labels(language string) (*i18n.Labels, error)
}

// Export is a rendered report ready for download.
type Export struct {
	Format      domain.ReportFormat
	Filename    string
	ContentType string
	Data        []byte
	ArchiveKey  string // empty when the export was not archived
}

// ArchivedFile is an archived export opened for download.
type ArchivedFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// ArchiveURLExpiry bounds the lifetime of presigned archive links.
const ArchiveURLExpiry = 15 * time.Minute

// ReportServiceConfig wires the dependencies of the report service.
type ReportServiceConfig struct {
	Store   repository.SessionStore
	Labels  *i18n.Table
	Logger  *slog.Logger
	Storage storage.Storage    // optional archive for exports
	Logo    *report.LogoLoader // optional logo for documents
	Now     func() time.Time   // defaults to time.Now

	DefaultLanguage string
	SessionTTL      time.Duration // non-positive disables purging
	ArchiveExports  bool
}

// =============================================================================
// Implementation
// =============================================================================

type reportService struct {
	store      repository.SessionStore
	labels     *i18n.Table
	storage    storage.Storage
	logo       *report.LogoLoader
	generators map[domain.ReportFormat]report.Generator
	locks      *sessionLocks
	now        func() time.Time
	logger     *slog.Logger

	defaultLanguage string
	sessionTTL      time.Duration
	archiveExports  bool
}

// NewReportService creates a new ReportService.
func NewReportService(cfg ReportServiceConfig) ReportService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lang := cfg.DefaultLanguage
	if lang == "" {
		lang = domain.DefaultLanguage
	}

	generators := make(map[domain.ReportFormat]report.Generator)
	for _, g := range []report.Generator{
		report.NewXLSXGenerator(cfg.Logger),
		report.NewPDFGenerator(),
	} {
		generators[g.Format()] = g
	}

	return &reportService{
		store:           cfg.Store,
		labels:          cfg.Labels,
		storage:         cfg.Storage,
		logo:            cfg.Logo,
		generators:      generators,
		locks:           newSessionLocks(),
		now:             now,
		logger:          cfg.Logger,
		defaultLanguage: lang,
		sessionTTL:      cfg.SessionTTL,
		archiveExports:  cfg.ArchiveExports && cfg.Storage != nil,
	}
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// Create starts a session with a default report in the given language.
func (s *reportService) Create(ctx context.Context, language string) (*domain.Session, error) {
	const op = "ReportService.Create"

	if language == "" {
		language = s.defaultLanguage
	}
	labels, err := s.labels.Lookup(language)
	if err != nil {
		return nil, err
	}

	sess := domain.NewSession(labels.Language, s.now())
	if err := s.store.Create(ctx, sess); err != nil {
		s.logger.Error("failed to create report session", "error", err, "op", op)
		return nil, err
	}

	metrics.SessionsCreated.Inc()
	s.logger.Info("report session created", "session_id", sess.ID, "language", labels.Language)

	return sess, nil
}

// Get returns a copy of the session.
func (s *reportService) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.store.Get(ctx, id)
}

// Delete removes the session and its archived exports.
func (s *reportService) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "ReportService.Delete"

	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if s.storage != nil {
		objects, err := s.storage.List(ctx, storage.ArchivePrefix(id))
		if err != nil {
			s.logger.Warn("failed to list archived exports", "error", err, "op", op, "session_id", id)
		}
		for _, obj := range objects {
			if err := s.storage.Delete(ctx, obj.Key); err != nil {
				s.logger.Warn("failed to delete archived export", "error", err, "op", op, "key", obj.Key)
			}
		}
	}

	s.logger.Info("report session deleted", "session_id", id)
	return nil
}

// PurgeExpired removes sessions idle for longer than the session TTL.
func (s *reportService) PurgeExpired(ctx context.Context) (int64, error) {
	if s.sessionTTL <= 0 {
		return 0, nil
	}

	n, err := s.store.DeleteExpired(ctx, s.now().Add(-s.sessionTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SessionsPurged.Add(float64(n))
		s.logger.Info("purged idle report sessions", "count", n, "ttl", s.sessionTTL)
	}
	return n, nil
}

// Labels returns the label table of a language.
func (s *reportService) Labels(language string) (*i18n.Labels, error) {
	return s.labels.Lookup(language)
}

// =============================================================================
// Editing
// =============================================================================

// SetField sets one scalar field by its wire key. A language must resolve in
// the label table and is stored in canonical form.
func (s *reportService) SetField(ctx context.Context, id uuid.UUID, key domain.FieldKey, value string) (*domain.Session, error) {
	if key == domain.FieldLanguage {
		labels, err := s.labels.Lookup(value)
		if err != nil {
			return nil, err
		}
		value = labels.Language
	}

	return s.mutate(ctx, "ReportService.SetField", id, "field", func(state *domain.ReportState) error {
		return state.SetField(key, value)
	})
}

// AppendWhy adds a blank entry to a why chain.
func (s *reportService) AppendWhy(ctx context.Context, id uuid.UUID, c domain.WhyCategory) (*domain.Session, error) {
	return s.mutate(ctx, "ReportService.AppendWhy", id, "why_append", func(state *domain.ReportState) error {
		return state.AppendWhy(c)
	})
}

// RemoveWhy removes entry index of a why chain.
func (s *reportService) RemoveWhy(ctx context.Context, id uuid.UUID, c domain.WhyCategory, index int) (bool, *domain.Session, error) {
	var removed bool
	sess, err := s.mutate(ctx, "ReportService.RemoveWhy", id, "why_remove", func(state *domain.ReportState) error {
		var err error
		removed, err = state.RemoveWhy(c, index)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return removed, sess, nil
}

// SetWhy replaces entry index of a why chain.
func (s *reportService) SetWhy(ctx context.Context, id uuid.UUID, c domain.WhyCategory, index int, value string) (*domain.Session, error) {
	return s.mutate(ctx, "ReportService.SetWhy", id, "why_set", func(state *domain.ReportState) error {
		return state.SetWhy(c, index, value)
	})
}

// DeriveRootCauses overwrites both root causes with their derived text.
func (s *reportService) DeriveRootCauses(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.mutate(ctx, "ReportService.DeriveRootCauses", id, "derive", func(state *domain.ReportState) error {
		state.DeriveRootCauseDefaults()
		return nil
	})
}

// mutate applies fn to a copy of the session's report under the session
// lock and stores the result. The stored report is untouched if fn fails.
func (s *reportService) mutate(ctx context.Context, op string, id uuid.UUID, kind string, fn func(*domain.ReportState) error) (*domain.Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	staged := sess.State.Clone()
	if err := fn(staged); err != nil {
		return nil, err
	}

	sess.State = staged
	sess.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sess); err != nil {
		s.logger.Error("failed to store report", "error", err, "op", op, "session_id", id)
		return nil, err
	}

	metrics.FieldEdited(kind)
	return sess, nil
}

// =============================================================================
// Export and Restore
// =============================================================================

// Export renders the report in the given format.
func (s *reportService) Export(ctx context.Context, id uuid.UUID, format domain.ReportFormat) (*Export, error) {
	const op = "ReportService.Export"

	if !format.IsValid() {
		return nil, domain.Invalid(op, "unsupported export format '"+format.String()+"' (must be 'xlsx', 'pdf' or 'json')")
	}

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := s.render(ctx, op, sess, format)
	if err != nil {
		metrics.ExportFailed(format.String())
		return nil, err
	}
	metrics.ExportCompleted(format.String(), time.Since(start), int64(len(data)))

	export := &Export{
		Format:      format,
		Filename:    domain.ExportFilename(sess.State.ReportDate, format),
		ContentType: format.ContentType(),
		Data:        data,
	}

	if s.archiveExports {
		key := storage.ArchiveKey(id, export.Filename)
		err := s.storage.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
			ContentType: export.ContentType,
			Overwrite:   true,
		})
		if err != nil {
			s.logger.Warn("failed to archive export", "error", err, "op", op, "session_id", id, "key", key)
		} else {
			export.ArchiveKey = key
		}
	}

	s.logger.Info("report exported",
		"session_id", id,
		"format", format,
		"size_bytes", len(data),
		"archived", export.ArchiveKey != "",
	)
	return export, nil
}

// Backup returns the JSON snapshot of the report.
func (s *reportService) Backup(ctx context.Context, id uuid.UUID) (*Export, error) {
	return s.Export(ctx, id, domain.ReportFormatJSON)
}

func (s *reportService) render(ctx context.Context, op string, sess *domain.Session, format domain.ReportFormat) ([]byte, error) {
	if format == domain.ReportFormatJSON {
		data, err := snapshot.Encode(sess.State)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to encode backup")
		}
		return data, nil
	}

	gen, ok := s.generators[format]
	if !ok {
		return nil, domain.Errorf(domain.ENOTIMPL, op, "export format %s is not available", format)
	}

	labels, err := s.labels.Lookup(sess.State.Language)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := gen.Generate(ctx, report.NewData(sess.State, labels, s.loadLogo(ctx), s.now()), &buf); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Error("failed to render report", "error", err, "op", op, "session_id", sess.ID, "format", format)
		return nil, domain.Internal(err, op, "failed to render report")
	}
	return buf.Bytes(), nil
}

// loadLogo returns the configured logo, or nil when there is none or it
// cannot be loaded.
func (s *reportService) loadLogo(ctx context.Context) *report.Logo {
	if s.logo == nil {
		return nil
	}
	logo, err := s.logo.Load(ctx)
	if err != nil {
		s.logger.Debug("export without logo", "reason", domain.ErrorMessage(err))
		return nil
	}
	return logo
}

// Restore merges a JSON snapshot into the report.
func (s *reportService) Restore(ctx context.Context, id uuid.UUID, data []byte) (*domain.Session, error) {
	const op = "ReportService.Restore"

	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	staged := sess.State.Clone()
	if err := snapshot.Decode(data, staged); err != nil {
		metrics.RestoreRecorded("parse_error")
		s.logger.Info("rejected backup file", "error", err, "op", op, "session_id", id)
		return nil, domain.Wrap(err, domain.EINVALID, op, err.Error())
	}

	labels, err := s.labels.Lookup(staged.Language)
	if err != nil {
		metrics.RestoreRecorded("invalid")
		return nil, err
	}
	staged.Language = labels.Language

	sess.State = staged
	sess.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sess); err != nil {
		s.logger.Error("failed to store restored report", "error", err, "op", op, "session_id", id)
		return nil, err
	}

	metrics.RestoreRecorded("success")
	s.logger.Info("report restored from backup", "session_id", id, "size_bytes", len(data))
	return sess, nil
}

// ListArchive lists the archived exports of a session.
func (s *reportService) ListArchive(ctx context.Context, id uuid.UUID) ([]storage.ObjectInfo, error) {
	const op = "ReportService.ListArchive"

	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.storage == nil {
		return []storage.ObjectInfo{}, nil
	}

	objects, err := s.storage.List(ctx, storage.ArchivePrefix(id))
	if err != nil {
		return nil, storage.ToDomain(err, op)
	}
	return objects, nil
}

// OpenArchived opens an archived export of a session.
func (s *reportService) OpenArchived(ctx context.Context, id uuid.UUID, name string) (*ArchivedFile, error) {
	const op = "ReportService.OpenArchived"

	key, err := s.archivedKey(ctx, op, id, name)
	if err != nil {
		return nil, err
	}

	body, info, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, storage.ToDomain(err, op)
	}
	return &ArchivedFile{
		Name:        name,
		ContentType: storage.DetectContentType("", name, nil),
		Size:        info.Size,
		Body:        body,
	}, nil
}

// ArchiveURL returns a link to an archived export: the public URL of local
// storage, or a presigned URL valid for ArchiveURLExpiry.
func (s *reportService) ArchiveURL(ctx context.Context, id uuid.UUID, name string) (string, error) {
	const op = "ReportService.ArchiveURL"

	key, err := s.archivedKey(ctx, op, id, name)
	if err != nil {
		return "", err
	}

	url, err := s.storage.URL(ctx, key, ArchiveURLExpiry)
	if err != nil {
		return "", storage.ToDomain(err, op)
	}
	return url, nil
}

// archivedKey resolves name to the storage key of an existing export of
// the session. Names that do not survive key sanitizing, or that are not
// export files, are reported as not found.
func (s *reportService) archivedKey(ctx context.Context, op string, id uuid.UUID, name string) (string, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return "", err
	}

	key := storage.ArchiveKey(id, name)
	if s.storage == nil || path.Base(key) != name || !storage.IsExport(storage.DetectContentType("", name, nil)) {
		return "", domain.NotFound(op, "archived export", name)
	}

	ok, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", storage.ToDomain(err, op)
	}
	if !ok {
		return "", domain.NotFound(op, "archived export", name)
	}
	return key, nil
}
