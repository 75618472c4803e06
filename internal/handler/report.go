// Package handler contains HTTP handlers for the 8D report API.
//
// This file implements the report session endpoints: editing, exports,
// backups and restore.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/DukeRupert/eightd/internal/service"
	"github.com/DukeRupert/eightd/internal/snapshot"
	"github.com/google/uuid"
)

// DefaultMaxRestoreBytes bounds uploaded backup files.
const DefaultMaxRestoreBytes = 1 << 20

// ReportHandler handles HTTP requests related to report sessions.
type ReportHandler struct {
	service         service.ReportService
	logger          *slog.Logger
	maxRestoreBytes int64
}

// NewReportHandler creates a new ReportHandler. A non-positive
// maxRestoreBytes selects DefaultMaxRestoreBytes.
func NewReportHandler(svc service.ReportService, logger *slog.Logger, maxRestoreBytes int64) *ReportHandler {
	if maxRestoreBytes <= 0 {
		maxRestoreBytes = DefaultMaxRestoreBytes
	}
	return &ReportHandler{
		service:         svc,
		logger:          logger,
		maxRestoreBytes: maxRestoreBytes,
	}
}

// RegisterRoutes registers the report routes. limitExport and limitRestore
// wrap the expensive endpoints; pass nil to leave them unlimited.
func (h *ReportHandler) RegisterRoutes(
	mux *http.ServeMux,
	limitExport func(http.Handler) http.Handler,
	limitRestore func(http.Handler) http.Handler,
) {
	if limitExport == nil {
		limitExport = passthrough
	}
	if limitRestore == nil {
		limitRestore = passthrough
	}

	mux.HandleFunc("POST /reports", h.Create)
	mux.HandleFunc("GET /reports/{id}", h.Get)
	mux.HandleFunc("DELETE /reports/{id}", h.Delete)
	mux.HandleFunc("PATCH /reports/{id}/fields", h.SetField)
	mux.HandleFunc("POST /reports/{id}/whys/{category}", h.AppendWhy)
	mux.HandleFunc("PUT /reports/{id}/whys/{category}/{index}", h.SetWhy)
	mux.HandleFunc("DELETE /reports/{id}/whys/{category}/{index}", h.RemoveWhy)
	mux.HandleFunc("POST /reports/{id}/root-causes/derive", h.DeriveRootCauses)
	mux.Handle("GET /reports/{id}/export", limitExport(http.HandlerFunc(h.Export)))
	mux.Handle("GET /reports/{id}/backup", limitExport(http.HandlerFunc(h.Backup)))
	mux.Handle("POST /reports/{id}/restore", limitRestore(http.HandlerFunc(h.Restore)))
	mux.HandleFunc("GET /reports/{id}/archive", h.ListArchive)
	mux.Handle("GET /reports/{id}/archive/{name}", limitExport(http.HandlerFunc(h.DownloadArchived)))
	mux.HandleFunc("GET /labels/{lang}", h.Labels)
}

func passthrough(next http.Handler) http.Handler { return next }

// =============================================================================
// Response Types
// =============================================================================

// SessionResponse is the JSON rendition of a report session. The report is
// keyed by the same field names as the backup file. Suggestions holds the
// root cause each why chain currently derives, which differs from the stored
// one after a manual edit.
type SessionResponse struct {
	ID          uuid.UUID                     `json:"id"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
	Report      map[domain.FieldKey]any       `json:"report"`
	Suggestions map[domain.WhyCategory]string `json:"root_cause_suggestions"`
}

// RemoveWhyResponse reports whether an entry was removed.
type RemoveWhyResponse struct {
	Removed bool            `json:"removed"`
	Session SessionResponse `json:"session"`
}

// RestoreResponse confirms a restore.
type RestoreResponse struct {
	Message string          `json:"message"`
	Session SessionResponse `json:"session"`
}

// ArchiveEntry describes one archived export.
type ArchiveEntry struct {
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	DownloadURL  string    `json:"download_url"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

func toSessionResponse(sess *domain.Session) SessionResponse {
	return SessionResponse{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Report:    snapshot.Fields(sess.State),
		Suggestions: map[domain.WhyCategory]string{
			domain.WhyOccurrence: sess.State.SuggestRootCause(domain.WhyOccurrence),
			domain.WhyDetection:  sess.State.SuggestRootCause(domain.WhyDetection),
		},
	}
}

// =============================================================================
// Session Endpoints
// =============================================================================

// Create handles starting a new report session.
// POST /reports {"language": "en"}
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}

	sess, err := h.service.Create(r.Context(), req.Language)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", "/reports/"+sess.ID.String())
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// Get handles fetching a report session.
// GET /reports/{id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Delete handles removing a report session.
// DELETE /reports/{id}
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Editing Endpoints
// =============================================================================

// SetField handles editing one scalar field.
// PATCH /reports/{id}/fields {"key": "d2_problem", "value": "..."}
func (h *ReportHandler) SetField(w http.ResponseWriter, r *http.Request) {
	const op = "handler.set_field"

	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		Key   string  `json:"key"`
		Value *string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.Key == "" || req.Value == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "both 'key' and a string 'value' are required"))
		return
	}

	sess, err := h.service.SetField(r.Context(), id, domain.FieldKey(req.Key), *req.Value)
	h.respondSession(w, r, sess, err)
}

// AppendWhy handles adding a blank why entry.
// POST /reports/{id}/whys/{category}
func (h *ReportHandler) AppendWhy(w http.ResponseWriter, r *http.Request) {
	id, category, ok := h.whyTarget(w, r)
	if !ok {
		return
	}

	sess, err := h.service.AppendWhy(r.Context(), id, category)
	h.respondSession(w, r, sess, err)
}

// SetWhy handles editing one why entry.
// PUT /reports/{id}/whys/{category}/{index} {"value": "..."}
func (h *ReportHandler) SetWhy(w http.ResponseWriter, r *http.Request) {
	const op = "handler.set_why"

	id, category, ok := h.whyTarget(w, r)
	if !ok {
		return
	}
	index, ok := h.whyIndex(w, r)
	if !ok {
		return
	}

	var req struct {
		Value *string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.Value == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "a string 'value' is required"))
		return
	}

	sess, err := h.service.SetWhy(r.Context(), id, category, index, *req.Value)
	h.respondSession(w, r, sess, err)
}

// RemoveWhy handles removing one why entry.
// DELETE /reports/{id}/whys/{category}/{index}
func (h *ReportHandler) RemoveWhy(w http.ResponseWriter, r *http.Request) {
	id, category, ok := h.whyTarget(w, r)
	if !ok {
		return
	}
	index, ok := h.whyIndex(w, r)
	if !ok {
		return
	}

	removed, sess, err := h.service.RemoveWhy(r.Context(), id, category, index)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RemoveWhyResponse{Removed: removed, Session: toSessionResponse(sess)})
}

// DeriveRootCauses handles recomputing both root causes from the whys.
// POST /reports/{id}/root-causes/derive
func (h *ReportHandler) DeriveRootCauses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.DeriveRootCauses(r.Context(), id)
	h.respondSession(w, r, sess, err)
}

// =============================================================================
// Export Endpoints
// =============================================================================

// Export handles downloading the report as a document.
// GET /reports/{id}/export?format=xlsx|pdf
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	const op = "handler.export"

	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	format := domain.ReportFormat(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = domain.ReportFormatXLSX
	}
	if format != domain.ReportFormatXLSX && format != domain.ReportFormatPDF {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Invalid format: must be 'xlsx' or 'pdf'"))
		return
	}

	export, err := h.service.Export(r.Context(), id, format)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.writeDownload(w, r, export)
}

// Backup handles downloading the JSON backup of the report.
// GET /reports/{id}/backup
func (h *ReportHandler) Backup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	export, err := h.service.Backup(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.writeDownload(w, r, export)
}

// Restore handles uploading a backup file. The file is accepted as the
// multipart field "file" or as the raw request body.
// POST /reports/{id}/restore
func (h *ReportHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	data, err := h.readBackup(w, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sess, err := h.service.Restore(r.Context(), id, data)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, RestoreResponse{
		Message: "Report restored from backup",
		Session: toSessionResponse(sess),
	})
}

// ListArchive handles listing the archived exports of a session.
// GET /reports/{id}/archive
func (h *ReportHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	objects, err := h.service.ListArchive(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	entries := make([]ArchiveEntry, len(objects))
	for i, obj := range objects {
		name := path.Base(obj.Key)
		entries[i] = ArchiveEntry{
			Name:         name,
			Key:          obj.Key,
			DownloadURL:  "/reports/" + id.String() + "/archive/" + url.PathEscape(name),
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

// DownloadArchived streams an archived export. With ?redirect=true the
// client is sent to the storage link instead (a presigned URL on R2).
// GET /reports/{id}/archive/{name}
func (h *ReportHandler) DownloadArchived(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")

	if redirect, _ := strconv.ParseBool(r.URL.Query().Get("redirect")); redirect {
		link, err := h.service.ArchiveURL(r.Context(), id, name)
		if err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		http.Redirect(w, r, link, http.StatusFound)
		return
	}

	file, err := h.service.OpenArchived(r.Context(), id, name)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	defer file.Body.Close()

	w.Header().Set("Content-Type", file.ContentType)
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file.Body); err != nil {
		h.logger.Error("failed to stream archived export", "error", err, "session_id", id, "name", name)
	}
}

// Labels handles fetching the label table of a language.
// GET /labels/{lang}
func (h *ReportHandler) Labels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.service.Labels(r.PathValue("lang"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *ReportHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.parse_id", "Invalid report ID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReportHandler) whyTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, domain.WhyCategory, bool) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return uuid.Nil, "", false
	}
	category, err := domain.ParseWhyCategory(r.PathValue("category"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return uuid.Nil, "", false
	}
	return id, category, true
}

func (h *ReportHandler) whyIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.parse_index", "Invalid why index"))
		return 0, false
	}
	return index, true
}

func (h *ReportHandler) respondSession(w http.ResponseWriter, r *http.Request, sess *domain.Session, err error) {
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *ReportHandler) writeDownload(w http.ResponseWriter, r *http.Request, export *service.Export) {
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename}))
	if export.ArchiveKey != "" {
		w.Header().Set("X-Archive-Key", export.ArchiveKey)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(export.Data); err != nil {
		h.logger.Error("failed to stream export", "error", err, "path", r.URL.Path, "format", export.Format)
	}
}

// readBackup reads an uploaded backup, enforcing the size limit.
func (h *ReportHandler) readBackup(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	const op = "handler.read_backup"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRestoreBytes)

	var (
		data []byte
		err  error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		data, err = readMultipartFile(r, h.maxRestoreBytes)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.TooLarge(op, "Backup file is too large (max "+strconv.FormatInt(h.maxRestoreBytes, 10)+" bytes)")
		}
		if errors.Is(err, http.ErrMissingFile) {
			return nil, domain.Invalid(op, "No backup file uploaded (expected form field 'file')")
		}
		return nil, domain.Wrap(err, domain.EINVALID, op, "Could not read the uploaded backup file")
	}
	if len(data) == 0 {
		return nil, domain.Invalid(op, "No backup file uploaded")
	}
	return data, nil
}

func readMultipartFile(r *http.Request, maxBytes int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Wrap(err, domain.EINVALID, "handler.decode", "Invalid JSON request body")
	}
	return nil
}
