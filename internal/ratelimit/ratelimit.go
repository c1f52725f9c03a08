// Package ratelimit implements a process-local fixed-window request counter.
// A FixedWindow plugs into go-chi/httprate as its LimitCounter, which turns
// httprate's sliding estimate into a plain fixed window: the previous
// window's count is never reported.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"
)

type entry struct {
	start time.Time
	count int
}

// FixedWindow counts requests per key in windows aligned to the window
// length. Counts are lost on restart and not shared between processes.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*entry
	now     func() time.Time
}

var _ httprate.LimitCounter = (*FixedWindow)(nil)

// NewFixedWindow allows limit requests per key in each window.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{
		limit:   limit,
		window:  window,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Limit returns the current per-window limit.
func (f *FixedWindow) Limit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

// ErrInvalidLimit is returned by SetLimit for a limit below one. httprate
// ignores such a limit and would silently keep the old one.
var ErrInvalidLimit = errors.New("rate limit must be positive")

// SetLimit changes the per-window limit. Existing counts are kept.
func (f *FixedWindow) SetLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidLimit, limit)
	}
	f.mu.Lock()
	f.limit = limit
	f.mu.Unlock()
	return nil
}

// Window returns the window length.
func (f *FixedWindow) Window() time.Duration {
	return f.window
}

func (f *FixedWindow) windowStart(t time.Time) time.Time {
	return t.UTC().Truncate(f.window)
}

// Config implements httprate.LimitCounter.
func (f *FixedWindow) Config(requestLimit int, windowLength time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = requestLimit
	if windowLength > 0 {
		f.window = windowLength
	}
}

// Increment implements httprate.LimitCounter.
func (f *FixedWindow) Increment(key string, currentWindow time.Time) error {
	return f.IncrementBy(key, currentWindow, 1)
}

// IncrementBy implements httprate.LimitCounter. An entry from an older
// window is replaced.
func (f *FixedWindow) IncrementBy(key string, currentWindow time.Time, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok || !e.start.Equal(currentWindow) {
		e = &entry{start: currentWindow}
		f.entries[key] = e
	}
	e.count += amount
	return nil
}

// Get implements httprate.LimitCounter. The previous window always reads
// as zero.
func (f *FixedWindow) Get(key string, currentWindow, _ time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.entries[key]; ok && e.start.Equal(currentWindow) {
		return e.count, 0, nil
	}
	return 0, 0, nil
}

// Sweep evicts every key whose window has ended and returns how many were
// removed.
func (f *FixedWindow) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.windowStart(f.now())
	n := 0
	for key, e := range f.entries {
		if e.start.Before(current) {
			delete(f.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// RunSweeper sweeps every counter once per interval until ctx is done.
func RunSweeper(ctx context.Context, interval time.Duration, counters ...*FixedWindow) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range counters {
				c.Sweep()
			}
		}
	}
}

// KeyFunc builds the caller key: "user:<id>" when userID resolves the
// request to an account, "anon:<ip>|<user-agent>" otherwise.
func KeyFunc(userID func(*http.Request) string) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		if userID != nil {
			if id := userID(r); id != "" {
				return "user:" + id, nil
			}
		}
		ip, err := httprate.KeyByIP(r)
		if err != nil {
			return "", err
		}
		return "anon:" + ip + "|" + r.UserAgent(), nil
	}
}
