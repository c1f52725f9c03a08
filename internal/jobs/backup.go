package jobs

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/storage"
	"github.com/kitbay/kitbay/internal/store"
)

// snapshotVersion is bumped when the encoded layout changes.
const snapshotVersion = 1

// fetchConcurrency bounds the per-component child queries of a backup.
const fetchConcurrency = 4

// Snapshot is the decoded content of a backup.
type Snapshot struct {
	Version    int                       `json:"version"`
	OwnerID    string                    `json:"owner_id"`
	CreatedAt  time.Time                 `json:"created_at"`
	Components []store.ComponentSnapshot `json:"components"`
}

// EncodeSnapshot serializes s as MessagePack, using json tags for field
// names.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", s.Version)
	}
	return &s, nil
}

func backupKey(id string) string { return "backups/" + id + ".msgpack" }

// CreateBackup stores a pending backup of caller's catalog and queues it.
func (r *Runner) CreateBackup(ctx context.Context, caller *service.Principal, label string) (*model.Backup, error) {
	if caller == nil {
		return nil, service.ErrForbidden
	}
	if label == "" {
		label = "backup " + r.now().UTC().Format(time.RFC3339)
	}
	b := &model.Backup{OwnerID: caller.UserID, Label: label, Status: model.JobPending}
	if err := r.store.CreateBackup(ctx, b); err != nil {
		return nil, err
	}

	id := b.ID
	if err := r.schedule(id, func(ctx context.Context) { r.runBackup(ctx, id) }); err != nil {
		if _, terr := r.store.TransitionBackup(context.WithoutCancel(ctx), id, model.JobPending, model.JobCancelled); terr != nil {
			r.logger.Warn("cancel unscheduled backup", "backup_id", id, "error", terr)
		}
		return nil, err
	}
	r.logger.Info("backup queued", "backup_id", id, "owner_id", caller.UserID)
	return b, nil
}

// GetBackup returns a backup caller may see.
func (r *Runner) GetBackup(ctx context.Context, caller *service.Principal, id string) (*model.Backup, error) {
	b, err := r.store.GetBackup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("backup %s: %w", id, err)
	}
	if err := service.AuthorizeOwner(caller, b.OwnerID); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBackups returns caller's backups; admins see every backup.
func (r *Runner) ListBackups(ctx context.Context, caller *service.Principal, limit, offset int) ([]model.Backup, error) {
	if caller == nil {
		return nil, service.ErrForbidden
	}
	owner := caller.UserID
	if caller.IsAdmin() {
		owner = ""
	}
	return r.store.ListBackups(ctx, owner, limit, offset)
}

// DownloadBackup returns the verified encoded snapshot.
func (r *Runner) DownloadBackup(ctx context.Context, caller *service.Principal, id string) ([]byte, *model.Backup, error) {
	b, err := r.GetBackup(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := r.readBackup(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return data, b, nil
}

// RestoreBackup verifies a completed backup and upserts its components,
// replacing their variants and dependencies. Restored components keep the
// backup owner. It returns the number of components restored.
func (r *Runner) RestoreBackup(ctx context.Context, caller *service.Principal, id string) (int, error) {
	b, err := r.GetBackup(ctx, caller, id)
	if err != nil {
		return 0, err
	}
	data, err := r.readBackup(ctx, b)
	if err != nil {
		return 0, err
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return 0, err
	}
	for i := range snap.Components {
		snap.Components[i].Component.OwnerID = b.OwnerID
	}
	if err := r.store.RestoreSnapshots(ctx, snap.Components); err != nil {
		return 0, err
	}
	r.logger.Info("backup restored", "backup_id", id, "components", len(snap.Components))
	return len(snap.Components), nil
}

func (r *Runner) readBackup(ctx context.Context, b *model.Backup) ([]byte, error) {
	if b.Status != model.JobCompleted || b.StorageKey == "" {
		return nil, fmt.Errorf("%w: backup %s is %s", ErrNotReady, b.ID, b.Status)
	}
	data, err := r.storage.Get(ctx, b.StorageKey)
	if err != nil {
		return nil, err
	}
	if sum := storage.Checksum(data); sum != b.Checksum {
		return nil, fmt.Errorf("%w: backup %s", ErrChecksumMismatch, b.ID)
	}
	return data, nil
}

// Snapshot collects ownerID's components with their variants and
// dependencies.
func (r *Runner) Snapshot(ctx context.Context, ownerID string) (*Snapshot, error) {
	comps, err := r.store.OwnerComponents(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	snaps := make([]store.ComponentSnapshot, len(comps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range comps {
		snaps[i].Component = comps[i]
		g.Go(func() error {
			v, err := r.store.ListVariants(gctx, comps[i].ID)
			if err != nil {
				return fmt.Errorf("variants of %s: %w", comps[i].ID, err)
			}
			d, err := r.store.ListDependencies(gctx, comps[i].ID)
			if err != nil {
				return fmt.Errorf("dependencies of %s: %w", comps[i].ID, err)
			}
			snaps[i].Variants = v
			snaps[i].Dependencies = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Snapshot{
		Version:    snapshotVersion,
		OwnerID:    ownerID,
		CreatedAt:  r.now().UTC(),
		Components: snaps,
	}, nil
}

func (r *Runner) runBackup(ctx context.Context, id string) {
	bg := context.WithoutCancel(ctx)
	log := r.logger.With("backup_id", id)

	ok, err := r.store.TransitionBackup(bg, id, model.JobPending, model.JobRunning)
	if err != nil {
		log.Error("start backup", "error", err)
		return
	}
	if !ok {
		log.Debug("backup no longer pending, skipped")
		return
	}
	b, err := r.store.GetBackup(bg, id)
	if err != nil {
		log.Error("load backup", "error", err)
		return
	}
	fail := func(cause error) {
		b.Status = model.JobFailed
		b.Error = cause.Error()
		if _, err := r.store.FinishBackup(bg, b); err != nil {
			log.Error("record backup failure", "error", err)
		}
		log.Warn("backup failed", "error", cause)
	}

	snap, err := r.Snapshot(ctx, b.OwnerID)
	if err != nil {
		if ctx.Err() != nil {
			err = failureCause(ctx)
		}
		fail(err)
		return
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		fail(err)
		return
	}
	key := backupKey(id)
	size, err := r.storage.Put(bg, key, data)
	if err != nil {
		fail(fmt.Errorf("store snapshot: %w", err))
		return
	}

	b.Status = model.JobCompleted
	b.ComponentCount = len(snap.Components)
	b.SizeBytes = size
	b.Checksum = storage.Checksum(data)
	b.StorageKey = key
	if r.cfg.BackupRetention > 0 {
		expires := r.now().UTC().Add(r.cfg.BackupRetention)
		b.ExpiresAt = &expires
	}
	if _, err := r.store.FinishBackup(bg, b); err != nil {
		log.Error("complete backup", "error", err)
		return
	}

	log.Info("backup completed", "components", b.ComponentCount, "size", size)
	if r.events != nil {
		r.events.Log(bg, model.AnalyticsEvent{
			EventType: model.EventBackupCreated,
			UserID:    b.OwnerID,
			Properties: map[string]interface{}{
				"backup_id":  b.ID,
				"components": b.ComponentCount,
				"size":       size,
			},
		})
	}
}
