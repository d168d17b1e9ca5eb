// Package httphandler is the HTTP driving adapter: upload intake, repository
// registration, and report state queries.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coverdeck/coverdeck/internal/adapter/driven/archive"
	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
	"github.com/coverdeck/coverdeck/internal/report"
)

// Handler is the HTTP driving adapter that serves the intake API.
type Handler struct {
	repoStore     driven.RepoStore
	commitStore   driven.CommitStore
	reportStore   driven.ReportStore
	uploadStore   driven.UploadStore
	archiveStore  driven.ArchiveStore
	queue         driven.TaskQueue
	archiveSecret string
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	repoStore driven.RepoStore,
	commitStore driven.CommitStore,
	reportStore driven.ReportStore,
	uploadStore driven.UploadStore,
	archiveStore driven.ArchiveStore,
	queue driven.TaskQueue,
	archiveSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		repoStore:     repoStore,
		commitStore:   commitStore,
		reportStore:   reportStore,
		uploadStore:   uploadStore,
		archiveStore:  archiveStore,
		queue:         queue,
		archiveSecret: archiveSecret,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/repos", h.AddRepo)
	mux.HandleFunc("GET /api/v1/repos/{repoID}", h.GetRepo)
	mux.HandleFunc("POST /api/v1/repos/{repoID}/commits/{sha}/uploads", h.CreateUpload)
	mux.HandleFunc("GET /api/v1/repos/{repoID}/commits/{sha}/uploads", h.ListUploads)
	mux.HandleFunc("GET /api/v1/repos/{repoID}/commits/{sha}/reports/totals", h.GetTotals)
	mux.HandleFunc("GET /api/v1/repos/{repoID}/commits/{sha}/compare", h.Compare)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// AddRepo registers a repository.
func (h *Handler) AddRepo(w http.ResponseWriter, r *http.Request) {
	var req AddRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Provider == "" || req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "provider and service_id are required")
		return
	}

	repo := model.Repository{
		Provider:      req.Provider,
		ServiceID:     req.ServiceID,
		Name:          req.Name,
		BundleCaching: req.BundleCaching,
		CreatedAt:     time.Now().UTC(),
	}

	id, err := h.repoStore.Add(r.Context(), repo)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			writeError(w, http.StatusConflict, "repository already exists")
			return
		}
		h.logger.Error("failed to add repo", "provider", req.Provider, "service_id", req.ServiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	repo.ID = id
	writeJSON(w, http.StatusCreated, toRepoResponse(repo))
}

// GetRepo returns a registered repository.
func (h *Handler) GetRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRepoResponse(*repo))
}

// CreateUpload accepts one raw artifact for a commit: the payload is stored
// in the archive, an upload row is registered, and the matching process task
// is enqueued. The payload itself is not validated here; a malformed artifact
// is classified during the merge.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return
	}

	sha := r.PathValue("sha")
	if sha == "" {
		writeError(w, http.StatusBadRequest, "commit sha is required")
		return
	}

	var req CreateUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	reportType := model.ReportTypeCoverage
	switch req.ReportType {
	case "", string(model.ReportTypeCoverage):
	case string(model.ReportTypeBundle):
		reportType = model.ReportTypeBundle
	default:
		writeError(w, http.StatusBadRequest, "unknown report_type")
		return
	}

	ctx := r.Context()

	commitID, err := h.commitStore.Upsert(ctx, model.Commit{
		RepoID:    repo.ID,
		SHA:       sha,
		Branch:    req.Branch,
		ParentSHA: req.ParentSHA,
	})
	if err != nil {
		h.logger.Error("failed to upsert commit", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	reportRow, err := h.reportStore.GetOrCreate(ctx, commitID, reportType, req.ReportCode)
	if err != nil {
		h.logger.Error("failed to create report", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	externalID := uuid.New().String()
	paths := archive.NewPaths(archive.RepoHash(*repo, h.archiveSecret))
	storagePath := paths.RawUpload(time.Now(), sha, externalID)

	if err := h.archiveStore.Write(ctx, storagePath, req.Payload); err != nil {
		h.logger.Error("failed to store payload", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	upload, err := h.uploadStore.Create(ctx, model.Upload{
		ReportID:    reportRow.ID,
		ExternalID:  externalID,
		StoragePath: storagePath,
		Flags:       req.Flags,
	})
	if err != nil {
		h.logger.Error("failed to create upload", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	kind := model.TaskKindProcessCommit
	if reportType == model.ReportTypeBundle {
		kind = model.TaskKindProcessBundle
	}
	if err := h.queue.Enqueue(ctx, model.Task{
		Kind:       kind,
		RepoID:     repo.ID,
		CommitSHA:  sha,
		ReportCode: req.ReportCode,
		CommitYAML: req.CommitYAML,
	}); err != nil {
		h.logger.Error("failed to enqueue task", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toUploadResponse(*upload, nil))
}

// ListUploads returns the commit's uploads with their states and failure
// records.
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	reportRow, ok := h.lookupReport(w, r)
	if !ok {
		return
	}

	uploads, err := h.uploadStore.ListByReport(r.Context(), reportRow.ID)
	if err != nil {
		h.logger.Error("failed to list uploads", "report_id", reportRow.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]UploadResponse, 0, len(uploads))
	for _, u := range uploads {
		var errs []model.UploadError
		if u.State == model.UploadStateError {
			errs, err = h.uploadStore.ListErrors(r.Context(), u.ID)
			if err != nil {
				h.logger.Error("failed to list upload errors", "upload_id", u.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
		}
		resp = append(resp, toUploadResponse(u, errs))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetTotals returns the commit's processing state and the report's aggregate
// totals. Totals are null until the first merge completes.
func (h *Handler) GetTotals(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return
	}

	sha := r.PathValue("sha")
	commit, err := h.commitStore.GetBySHA(r.Context(), repo.ID, sha)
	if err != nil {
		h.logger.Error("failed to get commit", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if commit == nil {
		writeError(w, http.StatusNotFound, "commit not found")
		return
	}

	reportType, code, ok := reportKeyFromQuery(w, r)
	if !ok {
		return
	}

	reportRow, err := h.reportStore.Get(r.Context(), commit.ID, reportType, code)
	if err != nil {
		h.logger.Error("failed to get report", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if reportRow == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	writeJSON(w, http.StatusOK, TotalsResponse{
		CommitSHA:   commit.SHA,
		CommitState: string(commit.State),
		ReportType:  string(reportRow.Type),
		ReportCode:  reportRow.Code,
		Totals:      reportRow.Totals,
	})
}

// Compare diffs the merged coverage of the commit against a base commit given
// in the base query parameter. Both commits must have a merged report.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return
	}

	headSHA := r.PathValue("sha")
	baseSHA := r.URL.Query().Get("base")
	if baseSHA == "" {
		writeError(w, http.StatusBadRequest, "base query parameter is required")
		return
	}

	paths := archive.NewPaths(archive.RepoHash(*repo, h.archiveSecret))

	base, ok := h.loadMerged(w, r, paths, baseSHA)
	if !ok {
		return
	}
	head, ok := h.loadMerged(w, r, paths, headSHA)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, report.Diff(base, head))
}

// loadMerged reads and decodes a commit's merged report. On failure the
// response has already been written.
func (h *Handler) loadMerged(w http.ResponseWriter, r *http.Request, paths archive.Paths, sha string) (*report.Report, bool) {
	blob, err := h.archiveStore.Read(r.Context(), paths.MergedChunks(sha))
	if err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no merged report for commit "+sha)
			return nil, false
		}
		h.logger.Error("failed to read merged report", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}

	rep, err := report.Unmarshal(blob)
	if err != nil {
		h.logger.Error("failed to decode merged report", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return rep, true
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// lookupRepo resolves the {repoID} path value. On failure the response has
// already been written.
func (h *Handler) lookupRepo(w http.ResponseWriter, r *http.Request) (*model.Repository, bool) {
	repoID, err := strconv.ParseInt(r.PathValue("repoID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository ID")
		return nil, false
	}

	repo, err := h.repoStore.GetByID(r.Context(), repoID)
	if err != nil {
		h.logger.Error("failed to get repo", "repo_id", repoID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return nil, false
	}
	return repo, true
}

// lookupReport resolves the commit and report addressed by the path and query.
func (h *Handler) lookupReport(w http.ResponseWriter, r *http.Request) (*model.Report, bool) {
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return nil, false
	}

	sha := r.PathValue("sha")
	commit, err := h.commitStore.GetBySHA(r.Context(), repo.ID, sha)
	if err != nil {
		h.logger.Error("failed to get commit", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if commit == nil {
		writeError(w, http.StatusNotFound, "commit not found")
		return nil, false
	}

	reportType, code, ok := reportKeyFromQuery(w, r)
	if !ok {
		return nil, false
	}

	reportRow, err := h.reportStore.Get(r.Context(), commit.ID, reportType, code)
	if err != nil {
		h.logger.Error("failed to get report", "commit", sha, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if reportRow == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return nil, false
	}
	return reportRow, true
}

// reportKeyFromQuery reads the optional type and code query parameters.
func reportKeyFromQuery(w http.ResponseWriter, r *http.Request) (model.ReportType, string, bool) {
	reportType := model.ReportTypeCoverage
	switch r.URL.Query().Get("type") {
	case "", string(model.ReportTypeCoverage):
	case string(model.ReportTypeBundle):
		reportType = model.ReportTypeBundle
	default:
		writeError(w, http.StatusBadRequest, "unknown report type")
		return "", "", false
	}
	return reportType, r.URL.Query().Get("code"), true
}
