package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kitbay/kitbay/internal/model"
)

// ---------------------------------------------------------------------------
// Export jobs
// ---------------------------------------------------------------------------

const exportJobColumns = `id, owner_id, format, component_ids, options, status,
	progress_total, progress_completed, progress_failed, artifact_key, artifact_size, error_message,
	expires_at, created_at, updated_at, started_at, completed_at`

type exportJobRow struct {
	ID                string     `db:"id"`
	OwnerID           string     `db:"owner_id"`
	Format            string     `db:"format"`
	ComponentIDs      string     `db:"component_ids"`
	Options           string     `db:"options"`
	Status            string     `db:"status"`
	ProgressTotal     int        `db:"progress_total"`
	ProgressCompleted int        `db:"progress_completed"`
	ProgressFailed    int        `db:"progress_failed"`
	ArtifactKey       string     `db:"artifact_key"`
	ArtifactSize      int64      `db:"artifact_size"`
	ErrorMessage      string     `db:"error_message"`
	ExpiresAt         *time.Time `db:"expires_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	StartedAt         *time.Time `db:"started_at"`
	CompletedAt       *time.Time `db:"completed_at"`
}

func exportJobRowFromModel(j *model.ExportJob) exportJobRow {
	ids := j.ComponentIDs
	if ids == nil {
		ids = []string{}
	}
	opts := "{}"
	if len(j.Options) > 0 {
		opts = string(j.Options)
	}
	return exportJobRow{
		ID:                j.ID,
		OwnerID:           j.OwnerID,
		Format:            j.Format,
		ComponentIDs:      encodeJSON(ids),
		Options:           opts,
		Status:            string(j.Status),
		ProgressTotal:     j.Progress.Total,
		ProgressCompleted: j.Progress.Completed,
		ProgressFailed:    j.Progress.Failed,
		ArtifactKey:       j.ArtifactKey,
		ArtifactSize:      j.ArtifactSize,
		ErrorMessage:      j.Error,
		ExpiresAt:         utcPtr(j.ExpiresAt),
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		StartedAt:         utcPtr(j.StartedAt),
		CompletedAt:       utcPtr(j.CompletedAt),
	}
}

func (r exportJobRow) toModel() model.ExportJob {
	return model.ExportJob{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Format:       r.Format,
		ComponentIDs: decodeStrings(r.ComponentIDs),
		Options:      json.RawMessage(r.Options),
		Status:       model.JobStatus(r.Status),
		Progress: model.JobProgress{
			Total:     r.ProgressTotal,
			Completed: r.ProgressCompleted,
			Failed:    r.ProgressFailed,
		},
		ArtifactKey:  r.ArtifactKey,
		ArtifactSize: r.ArtifactSize,
		Error:        r.ErrorMessage,
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}

// CreateExportJob inserts a pending job.
func (s *Store) CreateExportJob(ctx context.Context, j *model.ExportJob) error {
	if j.ID == "" {
		j.ID = NewID()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	ts := now()
	j.CreatedAt = ts
	j.UpdatedAt = ts

	const q = `INSERT INTO export_jobs (` + exportJobColumns + `)
		VALUES (:id, :owner_id, :format, :component_ids, :options, :status,
		:progress_total, :progress_completed, :progress_failed, :artifact_key, :artifact_size, :error_message,
		:expires_at, :created_at, :updated_at, :started_at, :completed_at)`
	if _, err := s.db.NamedExecContext(ctx, q, exportJobRowFromModel(j)); err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// GetExportJob returns a job by ID.
func (s *Store) GetExportJob(ctx context.Context, id string) (*model.ExportJob, error) {
	var row exportJobRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT "+exportJobColumns+" FROM export_jobs WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	j := row.toModel()
	return &j, nil
}

// ListExportJobs returns an owner's jobs, newest first. An empty ownerID
// lists every job.
func (s *Store) ListExportJobs(ctx context.Context, ownerID string, limit, offset int) ([]model.ExportJob, error) {
	q := "SELECT " + exportJobColumns + " FROM export_jobs"
	var args []interface{}
	if ownerID != "" {
		q += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	q = s.page(q+" ORDER BY created_at DESC, id DESC", limit, offset)

	var rows []exportJobRow
	if err := s.db.SelectContext(ctx, &rows, s.q(q), args...); err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	out := make([]model.ExportJob, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// TransitionExportJob moves a job from one status to another only if it is
// still in from. It reports whether the row changed. Entering running sets
// started_at; entering a terminal status sets completed_at.
func (s *Store) TransitionExportJob(ctx context.Context, id string, from, to model.JobStatus) (bool, error) {
	return s.transition(ctx, "export_jobs", true, id, from, to)
}

// UpdateExportJobProgress stores the per-component counters.
func (s *Store) UpdateExportJobProgress(ctx context.Context, id string, p model.JobProgress) error {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE export_jobs SET progress_total = ?, progress_completed = ?,
		progress_failed = ?, updated_at = ? WHERE id = ?`), p.Total, p.Completed, p.Failed, now(), id)
	if err != nil {
		return fmt.Errorf("update export job progress: %w", err)
	}
	return affected(result, "update export job progress")
}

// FinishExportJob records the outcome of a running job. It only applies
// while the job is still running, so a concurrent cancel wins.
func (s *Store) FinishExportJob(ctx context.Context, j *model.ExportJob) (bool, error) {
	ts := now()
	j.UpdatedAt = ts
	j.CompletedAt = &ts
	row := exportJobRowFromModel(j)

	result, err := s.db.ExecContext(ctx, s.q(`UPDATE export_jobs SET status = ?, progress_total = ?,
		progress_completed = ?, progress_failed = ?, artifact_key = ?, artifact_size = ?, error_message = ?,
		expires_at = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`),
		row.Status, row.ProgressTotal, row.ProgressCompleted, row.ProgressFailed, row.ArtifactKey,
		row.ArtifactSize, row.ErrorMessage, row.ExpiresAt, ts, ts, row.ID, string(model.JobRunning))
	if err != nil {
		return false, fmt.Errorf("finish export job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish export job rows affected: %w", err)
	}
	return n > 0, nil
}

// ExpiredExportJobs returns jobs whose artifact expired before t.
func (s *Store) ExpiredExportJobs(ctx context.Context, t time.Time) ([]model.ExportJob, error) {
	var rows []exportJobRow
	q := "SELECT " + exportJobColumns + " FROM export_jobs WHERE artifact_key <> ? AND expires_at IS NOT NULL AND expires_at < ? ORDER BY expires_at ASC"
	if err := s.db.SelectContext(ctx, &rows, s.q(q), "", t.UTC()); err != nil {
		return nil, fmt.Errorf("expired export jobs: %w", err)
	}
	out := make([]model.ExportJob, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ClearExportArtifact forgets a job's stored artifact.
func (s *Store) ClearExportArtifact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE export_jobs SET artifact_key = ?, updated_at = ? WHERE id = ?"), "", now(), id)
	if err != nil {
		return fmt.Errorf("clear export artifact: %w", err)
	}
	return affected(result, "clear export artifact")
}

// ---------------------------------------------------------------------------
// Backups
// ---------------------------------------------------------------------------

const backupColumns = `id, owner_id, label, status, component_count, size_bytes, checksum, storage_key,
	error_message, expires_at, created_at, updated_at, completed_at`

type backupRow struct {
	ID             string     `db:"id"`
	OwnerID        string     `db:"owner_id"`
	Label          string     `db:"label"`
	Status         string     `db:"status"`
	ComponentCount int        `db:"component_count"`
	SizeBytes      int64      `db:"size_bytes"`
	Checksum       string     `db:"checksum"`
	StorageKey     string     `db:"storage_key"`
	ErrorMessage   string     `db:"error_message"`
	ExpiresAt      *time.Time `db:"expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

func backupRowFromModel(b *model.Backup) backupRow {
	return backupRow{
		ID:             b.ID,
		OwnerID:        b.OwnerID,
		Label:          b.Label,
		Status:         string(b.Status),
		ComponentCount: b.ComponentCount,
		SizeBytes:      b.SizeBytes,
		Checksum:       b.Checksum,
		StorageKey:     b.StorageKey,
		ErrorMessage:   b.Error,
		ExpiresAt:      utcPtr(b.ExpiresAt),
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		CompletedAt:    utcPtr(b.CompletedAt),
	}
}

func (r backupRow) toModel() model.Backup {
	return model.Backup{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Label:          r.Label,
		Status:         model.JobStatus(r.Status),
		ComponentCount: r.ComponentCount,
		SizeBytes:      r.SizeBytes,
		Checksum:       r.Checksum,
		StorageKey:     r.StorageKey,
		Error:          r.ErrorMessage,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		CompletedAt:    r.CompletedAt,
	}
}

// CreateBackup inserts a pending backup record.
func (s *Store) CreateBackup(ctx context.Context, b *model.Backup) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.Status == "" {
		b.Status = model.JobPending
	}
	ts := now()
	b.CreatedAt = ts
	b.UpdatedAt = ts

	const q = `INSERT INTO backups (` + backupColumns + `)
		VALUES (:id, :owner_id, :label, :status, :component_count, :size_bytes, :checksum, :storage_key,
		:error_message, :expires_at, :created_at, :updated_at, :completed_at)`
	if _, err := s.db.NamedExecContext(ctx, q, backupRowFromModel(b)); err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

// GetBackup returns a backup by ID.
func (s *Store) GetBackup(ctx context.Context, id string) (*model.Backup, error) {
	var row backupRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT "+backupColumns+" FROM backups WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get backup: %w", err)
	}
	b := row.toModel()
	return &b, nil
}

// ListBackups returns an owner's backups, newest first. An empty ownerID
// lists every backup.
func (s *Store) ListBackups(ctx context.Context, ownerID string, limit, offset int) ([]model.Backup, error) {
	q := "SELECT " + backupColumns + " FROM backups"
	var args []interface{}
	if ownerID != "" {
		q += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	q = s.page(q+" ORDER BY created_at DESC, id DESC", limit, offset)

	var rows []backupRow
	if err := s.db.SelectContext(ctx, &rows, s.q(q), args...); err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	out := make([]model.Backup, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// TransitionBackup is the backup counterpart of TransitionExportJob.
func (s *Store) TransitionBackup(ctx context.Context, id string, from, to model.JobStatus) (bool, error) {
	return s.transition(ctx, "backups", false, id, from, to)
}

// FinishBackup records the outcome of a running backup.
func (s *Store) FinishBackup(ctx context.Context, b *model.Backup) (bool, error) {
	ts := now()
	b.UpdatedAt = ts
	b.CompletedAt = &ts
	row := backupRowFromModel(b)

	result, err := s.db.ExecContext(ctx, s.q(`UPDATE backups SET status = ?, component_count = ?, size_bytes = ?,
		checksum = ?, storage_key = ?, error_message = ?, expires_at = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`),
		row.Status, row.ComponentCount, row.SizeBytes, row.Checksum, row.StorageKey, row.ErrorMessage,
		row.ExpiresAt, ts, ts, row.ID, string(model.JobRunning))
	if err != nil {
		return false, fmt.Errorf("finish backup: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish backup rows affected: %w", err)
	}
	return n > 0, nil
}

// ExpiredBackups returns backups whose snapshot expired before t.
func (s *Store) ExpiredBackups(ctx context.Context, t time.Time) ([]model.Backup, error) {
	var rows []backupRow
	q := "SELECT " + backupColumns + " FROM backups WHERE storage_key <> ? AND expires_at IS NOT NULL AND expires_at < ? ORDER BY expires_at ASC"
	if err := s.db.SelectContext(ctx, &rows, s.q(q), "", t.UTC()); err != nil {
		return nil, fmt.Errorf("expired backups: %w", err)
	}
	out := make([]model.Backup, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ClearBackupStorage forgets a backup's stored snapshot.
func (s *Store) ClearBackupStorage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE backups SET storage_key = ?, updated_at = ? WHERE id = ?"), "", now(), id)
	if err != nil {
		return fmt.Errorf("clear backup storage: %w", err)
	}
	return affected(result, "clear backup storage")
}

// FailUnfinishedJobs marks every pending or running export job and backup
// failed with reason. It returns how many rows of each kind changed.
func (s *Store) FailUnfinishedJobs(ctx context.Context, reason string) (exports, backups int64, err error) {
	ts := now()
	fail := func(table string) (int64, error) {
		result, err := s.db.ExecContext(ctx, s.q("UPDATE "+table+
			" SET status = ?, error_message = ?, updated_at = ?, completed_at = ? WHERE status IN (?, ?)"),
			string(model.JobFailed), reason, ts, ts, string(model.JobPending), string(model.JobRunning))
		if err != nil {
			return 0, fmt.Errorf("fail unfinished %s: %w", table, err)
		}
		return result.RowsAffected()
	}
	if exports, err = fail("export_jobs"); err != nil {
		return 0, 0, err
	}
	if backups, err = fail("backups"); err != nil {
		return exports, 0, err
	}
	return exports, backups, nil
}

// transition is a compare-and-set on the status column shared by both job
// tables.
func (s *Store) transition(ctx context.Context, table string, hasStarted bool, id string, from, to model.JobStatus) (bool, error) {
	ts := now()
	set := "status = ?, updated_at = ?"
	args := []interface{}{string(to), ts}
	if to == model.JobRunning && hasStarted {
		set += ", started_at = ?"
		args = append(args, ts)
	}
	if to.Terminal() {
		set += ", completed_at = ?"
		args = append(args, ts)
	}
	args = append(args, id, string(from))

	result, err := s.db.ExecContext(ctx, s.q("UPDATE "+table+" SET "+set+" WHERE id = ? AND status = ?"), args...)
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition %s rows affected: %w", table, err)
	}
	return n > 0, nil
}
