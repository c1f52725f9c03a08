package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/validate"
)

// ExportRequest describes a multi-component export.
type ExportRequest struct {
	Format       export.Format   `json:"format"`
	ComponentIDs []string        `json:"component_ids"`
	Options      export.Options  `json:"options"`
	Metadata     export.Metadata `json:"metadata"`
}

// jobOptions is what the options column stores.
type jobOptions struct {
	Options  export.Options  `json:"options"`
	Metadata export.Metadata `json:"metadata"`
}

// Bundle is the stored artifact of a completed export job.
type Bundle struct {
	JobID      string           `json:"job_id"`
	Format     export.Format    `json:"format"`
	ExportedAt time.Time        `json:"exported_at"`
	Artifacts  []BundleArtifact `json:"artifacts"`
	Errors     []BundleError    `json:"errors,omitempty"`
}

// BundleArtifact is one exported component inside a bundle.
type BundleArtifact struct {
	ComponentID string           `json:"component_id"`
	Artifact    *export.Artifact `json:"artifact"`
}

// BundleError records a component that could not be exported.
type BundleError struct {
	ComponentID string `json:"component_id"`
	Error       string `json:"error"`
}

func exportKey(jobID string) string { return "exports/" + jobID + ".json" }

// SubmitExport stores a pending job for caller and queues it.
func (r *Runner) SubmitExport(ctx context.Context, caller *service.Principal, req ExportRequest) (*model.ExportJob, error) {
	if caller == nil {
		return nil, service.ErrForbidden
	}
	if _, ok := r.exports.Dispatcher().ContentType(req.Format); !ok {
		return nil, fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, req.Format)
	}
	ids := dedupe(req.ComponentIDs)
	if len(ids) == 0 {
		return nil, validate.Fail("component_ids", "at least one component is required")
	}

	opts, err := json.Marshal(jobOptions{Options: req.Options, Metadata: req.Metadata})
	if err != nil {
		return nil, fmt.Errorf("encode job options: %w", err)
	}
	job := &model.ExportJob{
		OwnerID:      caller.UserID,
		Format:       string(req.Format),
		ComponentIDs: ids,
		Options:      opts,
		Status:       model.JobPending,
	}
	job.Progress.Total = len(job.ComponentIDs)
	if err := r.store.CreateExportJob(ctx, job); err != nil {
		return nil, err
	}

	id := job.ID
	if err := r.schedule(id, func(ctx context.Context) { r.runExport(ctx, id) }); err != nil {
		if _, terr := r.store.TransitionExportJob(context.WithoutCancel(ctx), id, model.JobPending, model.JobCancelled); terr != nil {
			r.logger.Warn("cancel unscheduled export job", "job_id", id, "error", terr)
		}
		return nil, err
	}
	r.logger.Info("export job queued", "job_id", id, "format", job.Format, "components", len(job.ComponentIDs))
	return job, nil
}

// GetExport returns a job caller may see.
func (r *Runner) GetExport(ctx context.Context, caller *service.Principal, id string) (*model.ExportJob, error) {
	job, err := r.store.GetExportJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("export job %s: %w", id, err)
	}
	if err := service.AuthorizeOwner(caller, job.OwnerID); err != nil {
		return nil, err
	}
	return job, nil
}

// ListExports returns caller's jobs; admins see every job.
func (r *Runner) ListExports(ctx context.Context, caller *service.Principal, limit, offset int) ([]model.ExportJob, error) {
	if caller == nil {
		return nil, service.ErrForbidden
	}
	owner := caller.UserID
	if caller.IsAdmin() {
		owner = ""
	}
	return r.store.ListExportJobs(ctx, owner, limit, offset)
}

// CancelExport moves a pending or running job to cancelled and interrupts
// its worker. A running worker stops before its next component.
func (r *Runner) CancelExport(ctx context.Context, caller *service.Principal, id string) (*model.ExportJob, error) {
	job, err := r.GetExport(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(model.JobCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, model.JobCancelled)
	}
	changed, err := r.store.TransitionExportJob(ctx, id, job.Status, model.JobCancelled)
	if err != nil {
		return nil, err
	}
	if !changed && job.Status == model.JobPending {
		// Picked up in the meantime.
		changed, err = r.store.TransitionExportJob(ctx, id, model.JobRunning, model.JobCancelled)
		if err != nil {
			return nil, err
		}
	}
	if !changed {
		return nil, fmt.Errorf("%w: job %s already finished", ErrInvalidTransition, id)
	}
	r.interrupt(id)
	r.logger.Info("export job cancelled", "job_id", id)
	return r.store.GetExportJob(ctx, id)
}

// DownloadExport returns the stored bundle of a completed job.
func (r *Runner) DownloadExport(ctx context.Context, caller *service.Principal, id string) ([]byte, *model.ExportJob, error) {
	job, err := r.GetExport(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.JobCompleted || job.ArtifactKey == "" {
		return nil, nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, id, job.Status)
	}
	data, err := r.storage.Get(ctx, job.ArtifactKey)
	if err != nil {
		return nil, nil, err
	}
	return data, job, nil
}

func (r *Runner) runExport(ctx context.Context, id string) {
	// Status writes must land even when ctx was cancelled.
	bg := context.WithoutCancel(ctx)
	log := r.logger.With("job_id", id)

	ok, err := r.store.TransitionExportJob(bg, id, model.JobPending, model.JobRunning)
	if err != nil {
		log.Error("start export job", "error", err)
		return
	}
	if !ok {
		log.Debug("export job no longer pending, skipped")
		return
	}

	job, err := r.store.GetExportJob(bg, id)
	if err != nil {
		log.Error("load export job", "error", err)
		return
	}
	fail := func(cause error) {
		job.Status = model.JobFailed
		job.Error = cause.Error()
		if _, err := r.store.FinishExportJob(bg, job); err != nil {
			log.Error("record export job failure", "error", err)
		}
		log.Warn("export job failed", "error", cause)
	}

	var opts jobOptions
	if len(job.Options) > 0 {
		if err := json.Unmarshal(job.Options, &opts); err != nil {
			fail(fmt.Errorf("decode options: %w", err))
			return
		}
	}
	owner, err := r.principal(bg, job.OwnerID)
	if err != nil {
		fail(fmt.Errorf("load owner: %w", err))
		return
	}

	bundle := Bundle{JobID: job.ID, Format: export.Format(job.Format), ExportedAt: r.now().UTC()}
	req := export.Request{Format: bundle.Format, Options: opts.Options, Metadata: opts.Metadata}
	job.Progress = model.JobProgress{Total: len(job.ComponentIDs)}

	for _, cid := range job.ComponentIDs {
		if ctx.Err() != nil {
			if cause := failureCause(ctx); !errors.Is(cause, errCancelled) {
				fail(cause)
			}
			return
		}

		art, err := r.exportOne(ctx, owner, cid, req)
		if err != nil {
			job.Progress.Failed++
			bundle.Errors = append(bundle.Errors, BundleError{ComponentID: cid, Error: err.Error()})
			log.Debug("component export failed", "component_id", cid, "error", err)
		} else {
			job.Progress.Completed++
			bundle.Artifacts = append(bundle.Artifacts, BundleArtifact{ComponentID: cid, Artifact: art})
		}
		if err := r.store.UpdateExportJobProgress(bg, id, job.Progress); err != nil {
			log.Warn("update export job progress", "error", err)
		}
	}

	if job.Progress.Completed == 0 {
		fail(fmt.Errorf("all %d components failed to export", job.Progress.Total))
		return
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		fail(fmt.Errorf("encode bundle: %w", err))
		return
	}
	key := exportKey(id)
	size, err := r.storage.Put(bg, key, data)
	if err != nil {
		fail(fmt.Errorf("store bundle: %w", err))
		return
	}

	expires := r.now().UTC().Add(r.cfg.Retention)
	job.Status = model.JobCompleted
	job.ArtifactKey = key
	job.ArtifactSize = size
	job.ExpiresAt = &expires
	finished, err := r.store.FinishExportJob(bg, job)
	if err != nil {
		log.Error("complete export job", "error", err)
		return
	}
	if !finished {
		// Cancelled while the bundle was being written.
		if err := r.deleteObject(bg, key); err != nil {
			log.Warn("remove artifact of cancelled job", "error", err)
		}
		return
	}

	log.Info("export job completed", "completed", job.Progress.Completed, "failed", job.Progress.Failed, "size", size)
	if r.events != nil {
		r.events.Log(bg, model.AnalyticsEvent{
			EventType: model.EventJobCompleted,
			UserID:    job.OwnerID,
			Properties: map[string]interface{}{
				"job_id":     job.ID,
				"format":     job.Format,
				"components": job.Progress.Completed,
				"failed":     job.Progress.Failed,
				"size":       size,
			},
		})
	}
}

func (r *Runner) exportOne(ctx context.Context, owner *service.Principal, componentID string, req export.Request) (*export.Artifact, error) {
	src, err := r.exports.Load(ctx, owner, componentID, req.Options)
	if err != nil {
		return nil, err
	}
	return r.exports.Dispatcher().Export(src, req)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
