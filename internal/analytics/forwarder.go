package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kitbay/kitbay/internal/model"
)

// Settings keys used by the forwarder.
const (
	SettingInstanceID = "instance_id"
	SettingCursor     = "analytics.forwarded_at"
	SettingEnabled    = "analytics.forward"

	defaultInterval = 1 * time.Hour
	httpTimeout     = 3 * time.Second
)

// ForwardStore is what the forwarder needs from the catalog store.
type ForwardStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	CountEventsBetween(ctx context.Context, since, until time.Time) ([]model.EventCount, error)
}

// Report is the payload posted to the forwarding endpoint.
type Report struct {
	InstanceID string             `json:"instance_id"`
	Version    string             `json:"version"`
	Since      time.Time          `json:"since"`
	Until      time.Time          `json:"until"`
	Counts     []model.EventCount `json:"counts"`
	UptimeHrs  float64            `json:"uptime_hours"`
}

// Forwarder periodically posts aggregated event counts to an HTTP endpoint.
// Delivery failures are logged at debug level and otherwise ignored.
type Forwarder struct {
	store      ForwardStore
	endpoint   string
	version    string
	instanceID string
	interval   time.Duration
	client     *http.Client
	logger     *slog.Logger
	startedAt  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewForwarder returns nil when endpoint is empty or forwarding is disabled
// through KITBAY_ANALYTICS_FORWARD or the analytics.forward setting. The
// instance id is loaded from settings, or generated and persisted.
func NewForwarder(ctx context.Context, store ForwardStore, endpoint, version string, interval time.Duration, logger *slog.Logger) *Forwarder {
	if endpoint == "" || store == nil {
		return nil
	}
	switch strings.ToLower(os.Getenv("KITBAY_ANALYTICS_FORWARD")) {
	case "0", "false", "off", "no":
		return nil
	}
	if val, err := store.GetSetting(ctx, SettingEnabled); err == nil && (val == "false" || val == "0") {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Forwarder{
		store:      store,
		endpoint:   endpoint,
		version:    version,
		instanceID: resolveInstanceID(ctx, store),
		interval:   interval,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// InstanceID returns the persistent id this instance reports under.
func (f *Forwarder) InstanceID() string {
	if f == nil {
		return ""
	}
	return f.instanceID
}

// Start begins the background loop. It forwards once immediately and then
// every interval. Non-blocking.
func (f *Forwarder) Start() {
	if f == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		f.Flush(ctx)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.Flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loop and forwards a final report.
func (f *Forwarder) Shutdown() {
	if f == nil {
		return
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.Flush(context.Background())
}

// Flush posts the counts recorded between the last successful report and
// now, and advances the cursor to now on a 2xx response. Consecutive
// reports cover adjacent, non-overlapping ranges.
func (f *Forwarder) Flush(ctx context.Context) {
	until := time.Now().UTC()
	since := f.cursor(ctx)

	counts, err := f.store.CountEventsBetween(ctx, since, until)
	if err != nil {
		f.logger.Debug("analytics forward: count events", "error", err)
		return
	}
	report := Report{
		InstanceID: f.instanceID,
		Version:    f.version,
		Since:      since,
		Until:      until,
		Counts:     counts,
		UptimeHrs:  time.Since(f.startedAt).Hours(),
	}
	if err := f.post(ctx, report); err != nil {
		f.logger.Debug("analytics forward failed", "endpoint", f.endpoint, "error", err)
		return
	}
	if err := f.store.SetSetting(ctx, SettingCursor, until.Format(time.RFC3339Nano)); err != nil {
		f.logger.Debug("analytics forward: save cursor", "error", err)
	}
}

func (f *Forwarder) cursor(ctx context.Context) time.Time {
	val, err := f.store.GetSetting(ctx, SettingCursor)
	if err != nil || val == "" {
		return f.startedAt.UTC().Add(-f.interval)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return f.startedAt.UTC().Add(-f.interval)
	}
	return t
}

func (f *Forwarder) post(ctx context.Context, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// resolveInstanceID loads or generates a persistent instance ID.
func resolveInstanceID(ctx context.Context, store ForwardStore) string {
	if store != nil {
		id, err := store.GetSetting(ctx, SettingInstanceID)
		if err == nil && id != "" {
			return id
		}
	}

	id := uuid.New().String()

	if store != nil {
		_ = store.SetSetting(ctx, SettingInstanceID, id)
	}
	return id
}
