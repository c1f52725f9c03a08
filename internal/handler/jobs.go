package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kitbay/kitbay/internal/jobs"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/server/middleware"
	"github.com/kitbay/kitbay/internal/validate"
)

// JobHandler serves asynchronous export jobs and backups.
type JobHandler struct {
	runner *jobs.Runner
}

func NewJobHandler(runner *jobs.Runner) *JobHandler {
	return &JobHandler{runner: runner}
}

// jobView adds the derived completion percentage to an export job.
type jobView struct {
	*model.ExportJob
	Percent int `json:"percent"`
}

func viewJob(j *model.ExportJob) jobView {
	return jobView{ExportJob: j, Percent: j.Progress.Percent()}
}

// attachment writes data as a download.
func attachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ---------------------------------------------------------------------------
// Export jobs
// ---------------------------------------------------------------------------

// CreateExport queues a multi-component export.
// POST /api/exports
func (h *JobHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req jobs.ExportRequest
	if err := decodeBody(r, validate.ExportJobCreate, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	job, err := h.runner.SubmitExport(r.Context(), middleware.GetPrincipal(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/exports/"+job.ID)
	respond(w, http.StatusAccepted, viewJob(job), nil)
}

// ListExports returns the caller's export jobs, newest first.
// GET /api/exports
func (h *JobHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	if err := validate.Query(validate.PageQuery, r.URL.Query(), nil); err != nil {
		writeServiceError(w, r, err)
		return
	}
	limit, offset := page(r)
	list, err := h.runner.ListExports(r.Context(), middleware.GetPrincipal(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]jobView, len(list))
	for i := range list {
		views[i] = viewJob(&list[i])
	}
	respond(w, http.StatusOK, views, &model.ResponseMeta{Count: len(views), Limit: limit, Offset: offset})
}

// GetExport returns one export job with its progress.
// GET /api/exports/{id}
func (h *JobHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.GetExport(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, viewJob(job), nil)
}

// CancelExport cancels a pending or running job.
// POST /api/exports/{id}/cancel
func (h *JobHandler) CancelExport(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.CancelExport(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, viewJob(job), nil)
}

// DownloadExport streams the bundle of a completed job.
// GET /api/exports/{id}/download
func (h *JobHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	data, job, err := h.runner.DownloadExport(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	attachment(w, "application/json", "kitbay-export-"+job.ID+".json", data)
}

// ---------------------------------------------------------------------------
// Backups
// ---------------------------------------------------------------------------

type backupRequest struct {
	Label string `json:"label"`
}

// CreateBackup queues a snapshot of the caller's components. The body is
// optional.
// POST /api/backups
func (h *JobHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	data, err := readBody(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(data) > 0 {
		if err := validate.Body(validate.BackupCreate, data, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	b, err := h.runner.CreateBackup(r.Context(), middleware.GetPrincipal(r.Context()), req.Label)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/backups/"+b.ID)
	respond(w, http.StatusAccepted, b, nil)
}

// ListBackups returns the caller's backups, newest first.
// GET /api/backups
func (h *JobHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if err := validate.Query(validate.PageQuery, r.URL.Query(), nil); err != nil {
		writeServiceError(w, r, err)
		return
	}
	limit, offset := page(r)
	list, err := h.runner.ListBackups(r.Context(), middleware.GetPrincipal(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, list, &model.ResponseMeta{Count: len(list), Limit: limit, Offset: offset})
}

// GetBackup returns one backup.
// GET /api/backups/{id}
func (h *JobHandler) GetBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.runner.GetBackup(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b, nil)
}

// DownloadBackup returns the encoded snapshot after verifying its checksum.
// GET /api/backups/{id}/download
func (h *JobHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	data, b, err := h.runner.DownloadBackup(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-Checksum-Blake3", b.Checksum)
	attachment(w, "application/msgpack", "kitbay-backup-"+b.ID+".msgpack", data)
}

// RestoreBackup upserts the components of a completed backup.
// POST /api/backups/{id}/restore
func (h *JobHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.runner.RestoreBackup(r.Context(), middleware.GetPrincipal(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"backup_id": id, "restored": n}, nil)
}
