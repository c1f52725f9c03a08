package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/storage"
	"github.com/kitbay/kitbay/internal/store"
	"github.com/kitbay/kitbay/internal/validate"
)

var ignoreSQL = goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener")

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	events chan model.AnalyticsEvent
}

func (r *recorder) Log(_ context.Context, e model.AnalyticsEvent) {
	select {
	case r.events <- e:
	default:
	}
}

type fixture struct {
	st     *store.Store
	stg    *storage.Local
	runner *Runner
	events *recorder
	owner  *service.Principal
	comps  []*model.Component
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	ctx := t.Context()

	st, err := store.OpenSQLite(ctx, "")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	stg, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	u := &model.User{Email: "ada@example.com", Name: "Ada", IsActive: true}
	if err := st.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	var comps []*model.Component
	for _, c := range []*model.Component{
		{Name: "Cool Button", Code: "<button>Hi</button>", Status: model.StatusPublished, IsPublic: true, OwnerID: u.ID, Tags: []string{"button"}},
		{Name: "Draft Card", Code: "<div class=\"card\"></div>", Status: model.StatusDraft, OwnerID: u.ID},
	} {
		if err := st.CreateComponent(ctx, c); err != nil {
			t.Fatalf("CreateComponent: %v", err)
		}
		comps = append(comps, c)
	}

	events := &recorder{events: make(chan model.AnalyticsEvent, 16)}
	svc := service.NewExportService(st, export.NewDispatcher(), nil, nil)
	r := New(st, svc, stg, events, Config{Workers: workers}, nil)
	r.now = func() time.Time { return fixedNow }

	f := &fixture{
		st:     st,
		stg:    stg,
		runner: r,
		events: events,
		owner:  &service.Principal{UserID: u.ID, Email: u.Email, Role: model.RoleUser},
		comps:  comps,
	}
	return f
}

// drain waits until no job is queued or running.
func drain(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.Active() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("jobs did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExportJobCompletes(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 2)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	missing := store.NewID()
	job, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{
		Format:       export.FormatHTML,
		ComponentIDs: []string{f.comps[0].ID, f.comps[1].ID, missing, f.comps[0].ID},
	})
	if err != nil {
		t.Fatalf("SubmitExport: %v", err)
	}
	if job.Status != model.JobPending || job.Progress.Total != 3 {
		t.Errorf("submitted job = %s total %d, want pending total 3", job.Status, job.Progress.Total)
	}
	drain(t, f.runner)

	got, err := f.runner.GetExport(ctx, f.owner, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", got.Status, got.Error)
	}
	if diff := cmp.Diff(model.JobProgress{Total: 3, Completed: 2, Failed: 1}, got.Progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(fixedNow.Add(DefaultRetention)) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, fixedNow.Add(DefaultRetention))
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("started_at and completed_at must be set")
	}

	data, _, err := f.runner.DownloadExport(ctx, f.owner, job.ID)
	if err != nil {
		t.Fatalf("DownloadExport: %v", err)
	}
	if int64(len(data)) != got.ArtifactSize {
		t.Errorf("artifact size = %d, stored %d", len(data), got.ArtifactSize)
	}
	var bundle struct {
		Artifacts []struct {
			ComponentID string `json:"component_id"`
			Artifact    struct {
				Filename    string `json:"filename"`
				ContentType string `json:"content_type"`
			} `json:"artifact"`
		} `json:"artifacts"`
		Errors []BundleError `json:"errors"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if len(bundle.Artifacts) != 2 || bundle.Artifacts[0].Artifact.Filename != "cool-button.html" {
		t.Errorf("bundle artifacts = %+v", bundle.Artifacts)
	}
	if len(bundle.Errors) != 1 || bundle.Errors[0].ComponentID != missing {
		t.Errorf("bundle errors = %+v", bundle.Errors)
	}

	select {
	case e := <-f.events.events:
		if e.EventType != model.EventJobCompleted || e.UserID != f.owner.UserID {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Error("no job_completed event")
	}
}

func TestExportJobAllComponentsFail(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	job, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{
		Format:       export.FormatJSON,
		ComponentIDs: []string{store.NewID(), store.NewID()},
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, f.runner)

	got, err := f.st.GetExportJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobFailed || got.Error == "" || got.ArtifactKey != "" {
		t.Errorf("job = %s %q key %q, want failed with error and no artifact", got.Status, got.Error, got.ArtifactKey)
	}
	if got.Progress.Failed != 2 {
		t.Errorf("failed = %d, want 2", got.Progress.Failed)
	}
	if _, _, err := f.runner.DownloadExport(ctx, f.owner, job.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("download of failed job: err = %v, want ErrNotReady", err)
	}
}

func TestSubmitExportRejectsBadRequests(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	if _, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{Format: "pdf", ComponentIDs: []string{f.comps[0].ID}}); !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Errorf("unsupported format: err = %v", err)
	}
	if _, err := f.runner.SubmitExport(ctx, nil, ExportRequest{Format: export.FormatJSON, ComponentIDs: []string{f.comps[0].ID}}); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("anonymous: err = %v", err)
	}
	for _, ids := range [][]string{nil, {""}, {" ", ""}} {
		_, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{Format: export.FormatJSON, ComponentIDs: ids})
		var ve *validate.Error
		if !errors.As(err, &ve) {
			t.Errorf("component ids %q: err = %v, want a validation error", ids, err)
			continue
		}
		if diff := cmp.Diff([]string{"component_ids"}, fieldNames(ve)); diff != "" {
			t.Errorf("component ids %q: fields (-want +got):\n%s", ids, diff)
		}
	}
	jobs, err := f.runner.ListExports(ctx, f.owner, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("rejected requests created %d jobs", len(jobs))
	}
}

func fieldNames(ve *validate.Error) []string {
	var names []string
	for _, f := range validate.Fields(ve) {
		names = append(names, f.Field)
	}
	return names
}

func TestRecoverInterrupted(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	// Rows left behind by a process that died mid-flight.
	var exportIDs []string
	for _, status := range []model.JobStatus{model.JobPending, model.JobRunning, model.JobCompleted} {
		j := &model.ExportJob{OwnerID: f.owner.UserID, Format: "json", ComponentIDs: []string{f.comps[0].ID}, Status: status}
		if err := f.st.CreateExportJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		exportIDs = append(exportIDs, j.ID)
	}
	stale := &model.Backup{OwnerID: f.owner.UserID, Label: "stale", Status: model.JobRunning}
	if err := f.st.CreateBackup(ctx, stale); err != nil {
		t.Fatal(err)
	}

	n, err := f.runner.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if n != 3 {
		t.Errorf("recovered %d jobs, want 3", n)
	}

	want := []model.JobStatus{model.JobFailed, model.JobFailed, model.JobCompleted}
	for i, id := range exportIDs {
		j, err := f.st.GetExportJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status != want[i] {
			t.Errorf("job %d status = %s, want %s", i, j.Status, want[i])
		}
		if j.Status == model.JobFailed && (j.Error != InterruptedReason || j.CompletedAt == nil) {
			t.Errorf("job %d error = %q completed_at = %v", i, j.Error, j.CompletedAt)
		}
	}
	b, err := f.st.GetBackup(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != model.JobFailed || b.Error != InterruptedReason {
		t.Errorf("backup = %s %q, want failed %q", b.Status, b.Error, InterruptedReason)
	}

	if n, err := f.runner.RecoverInterrupted(ctx); err != nil || n != 0 {
		t.Errorf("second recovery = %d, %v; want nothing left", n, err)
	}
}

func TestCancelPendingExport(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	ctx := t.Context()

	block := make(chan struct{})
	f.runner.pool.Submit(func() { <-block })

	job, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{Format: export.FormatJSON, ComponentIDs: []string{f.comps[0].ID}})
	if err != nil {
		t.Fatal(err)
	}

	stranger := &service.Principal{UserID: "someone-else"}
	if _, err := f.runner.CancelExport(ctx, stranger, job.ID); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("stranger cancel: err = %v, want ErrForbidden", err)
	}

	cancelled, err := f.runner.CancelExport(ctx, f.owner, job.ID)
	if err != nil {
		t.Fatalf("CancelExport: %v", err)
	}
	if cancelled.Status != model.JobCancelled || cancelled.CompletedAt == nil {
		t.Errorf("cancelled job = %s completed_at %v", cancelled.Status, cancelled.CompletedAt)
	}
	if _, err := f.runner.CancelExport(ctx, f.owner, job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second cancel: err = %v, want ErrInvalidTransition", err)
	}

	close(block)
	if err := f.runner.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := f.st.GetExportJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobCancelled || got.ArtifactKey != "" {
		t.Errorf("after drain job = %s key %q, want cancelled without artifact", got.Status, got.ArtifactKey)
	}
}

func TestExportAccessControl(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	job, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{Format: export.FormatCSS, ComponentIDs: []string{f.comps[0].ID}})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, f.runner)

	if _, err := f.runner.GetExport(ctx, &service.Principal{UserID: "intruder"}, job.ID); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("stranger get: err = %v", err)
	}
	admin := &service.Principal{UserID: "root", Role: model.RoleAdmin}
	if _, err := f.runner.GetExport(ctx, admin, job.ID); err != nil {
		t.Errorf("admin get: %v", err)
	}
	all, err := f.runner.ListExports(ctx, admin, 10, 0)
	if err != nil || len(all) != 1 {
		t.Errorf("admin list = %d, %v", len(all), err)
	}
	if _, err := f.runner.GetExport(ctx, f.owner, store.NewID()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing job: err = %v", err)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	if err := f.runner.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := f.runner.SubmitExport(t.Context(), f.owner, ExportRequest{Format: export.FormatJSON, ComponentIDs: []string{f.comps[0].ID}})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	jobs, _ := f.st.ListExportJobs(t.Context(), f.owner.UserID, 10, 0)
	if len(jobs) != 1 || jobs[0].Status != model.JobCancelled {
		t.Errorf("unscheduled job not cancelled: %+v", jobs)
	}
}

func TestBackupAndRestore(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 2)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	c := f.comps[0]
	if err := f.st.CreateVariant(ctx, &model.ComponentVariant{ComponentID: c.ID, Name: "Primary", Code: "<button class=\"primary\">Hi</button>", IsDefault: true}); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateDependency(ctx, &model.ComponentDependency{ComponentID: c.ID, PackageName: "clsx", Type: model.DependencyRuntime, VersionRange: "^2.0.0"}); err != nil {
		t.Fatal(err)
	}

	b, err := f.runner.CreateBackup(ctx, f.owner, "")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	drain(t, f.runner)

	got, err := f.runner.GetBackup(ctx, f.owner, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobCompleted {
		t.Fatalf("backup status = %s (%s)", got.Status, got.Error)
	}
	if got.ComponentCount != 2 || got.SizeBytes == 0 || len(got.Checksum) != 64 {
		t.Errorf("backup = %d components, %d bytes, checksum %q", got.ComponentCount, got.SizeBytes, got.Checksum)
	}
	if got.ExpiresAt != nil {
		t.Errorf("backup without retention got expires_at %v", got.ExpiresAt)
	}

	// Diverge from the snapshot, then restore.
	c.Name = "Renamed Button"
	if err := f.st.UpdateComponent(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateVariant(ctx, &model.ComponentVariant{ComponentID: c.ID, Name: "Ghost", Code: "<button/>"}); err != nil {
		t.Fatal(err)
	}

	n, err := f.runner.RestoreBackup(ctx, f.owner, b.ID)
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if n != 2 {
		t.Errorf("restored %d components, want 2", n)
	}
	restored, err := f.st.GetComponent(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Name != "Cool Button" {
		t.Errorf("name = %q, want Cool Button", restored.Name)
	}
	variants, _ := f.st.ListVariants(ctx, c.ID)
	if len(variants) != 1 || variants[0].Name != "Primary" {
		t.Errorf("variants after restore = %+v", variants)
	}
	deps, _ := f.st.ListDependencies(ctx, c.ID)
	if len(deps) != 1 || deps[0].PackageName != "clsx" {
		t.Errorf("dependencies after restore = %+v", deps)
	}

	if _, err := f.runner.RestoreBackup(ctx, &service.Principal{UserID: "intruder"}, b.ID); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("stranger restore: err = %v", err)
	}

	if _, err := f.stg.Put(ctx, got.StorageKey, []byte("tampered")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runner.RestoreBackup(ctx, f.owner, b.ID); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("tampered restore: err = %v, want ErrChecksumMismatch", err)
	}
}

func TestSnapshotEncoding(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &Snapshot{
		Version:   snapshotVersion,
		OwnerID:   "u1",
		CreatedAt: created,
		Components: []store.ComponentSnapshot{{
			Component: model.Component{
				ID: "c1", Name: "Cool Button", Code: "<button>Hi</button>",
				Props: map[string]interface{}{"label": "Hi"}, Tags: []string{"button", "cta"},
				Rating: 4.5, Status: model.StatusPublished, OwnerID: "u1",
				CreatedAt: created, UpdatedAt: created,
			},
			Variants: []model.ComponentVariant{{ID: "v1", ComponentID: "c1", Name: "Primary", Code: "<b/>", IsDefault: true, CreatedAt: created, UpdatedAt: created}},
			Dependencies: []model.ComponentDependency{{ID: "d1", ComponentID: "c1", PackageName: "clsx", Type: model.DependencyPeer, VersionRange: "*", CreatedAt: created}},
		}},
	}
	data, err := EncodeSnapshot(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeSnapshot([]byte("not msgpack")); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	defer f.runner.Close(context.Background())
	ctx := t.Context()

	job, err := f.runner.SubmitExport(ctx, f.owner, ExportRequest{Format: export.FormatJSON, ComponentIDs: []string{f.comps[0].ID}})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, f.runner)
	done, err := f.st.GetExportJob(ctx, job.ID)
	if err != nil || done.Status != model.JobCompleted {
		t.Fatalf("job = %+v, %v", done, err)
	}

	n, err := f.runner.Sweep(ctx, fixedNow.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("early sweep removed %d, err %v", n, err)
	}

	n, err = f.runner.Sweep(ctx, fixedNow.Add(DefaultRetention+time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("sweep removed %d, want 1", n)
	}
	if _, err := f.stg.Get(ctx, done.ArtifactKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("artifact still stored: %v", err)
	}
	swept, _ := f.st.GetExportJob(ctx, job.ID)
	if swept.ArtifactKey != "" {
		t.Errorf("artifact key = %q after sweep", swept.ArtifactKey)
	}
	if _, _, err := f.runner.DownloadExport(ctx, f.owner, job.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("download after sweep: err = %v, want ErrNotReady", err)
	}
}

func TestSweeperStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSQL)
	f := newFixture(t, 1)
	f.runner.StartSweeper(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if err := f.runner.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
