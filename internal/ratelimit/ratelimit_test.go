package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestWindow(limit int) (*FixedWindow, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	f := NewFixedWindow(limit, time.Minute)
	f.now = c.now
	return f, c
}

// hit counts one request the way httprate does: read the current window,
// reject when it is full, otherwise increment.
func hit(f *FixedWindow, key string) bool {
	window := f.windowStart(f.now())
	curr, _, _ := f.Get(key, window, window.Add(-f.Window()))
	if curr >= f.Limit() {
		return false
	}
	f.Increment(key, window)
	return true
}

func TestCounterRejectsNPlusOne(t *testing.T) {
	f, c := newTestWindow(3)

	for i := 1; i <= 3; i++ {
		if !hit(f, "user:1") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if hit(f, "user:1") {
		t.Fatal("4th request in window allowed")
	}
	if !hit(f, "user:2") {
		t.Error("other key rejected")
	}

	c.advance(time.Minute)
	if !hit(f, "user:1") {
		t.Error("request in new window rejected")
	}
}

func TestSetLimitRejectsNonPositive(t *testing.T) {
	f := NewFixedWindow(5, time.Minute)
	for _, n := range []int{0, -1} {
		if err := f.SetLimit(n); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("SetLimit(%d) = %v, want ErrInvalidLimit", n, err)
		}
	}
	if f.Limit() != 5 {
		t.Errorf("Limit = %d after rejected updates, want 5", f.Limit())
	}
	if err := f.SetLimit(7); err != nil || f.Limit() != 7 {
		t.Errorf("SetLimit(7) = %v, Limit = %d", err, f.Limit())
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	f, c := newTestWindow(5)
	hit(f, "a")
	hit(f, "b")
	c.advance(30 * time.Second)
	if n := f.Sweep(); n != 0 {
		t.Errorf("swept %d live keys", n)
	}

	c.advance(45 * time.Second)
	hit(f, "c")
	if n := f.Sweep(); n != 2 {
		t.Errorf("swept %d keys, want 2", n)
	}
	if f.Len() != 1 {
		t.Errorf("Len = %d, want 1", f.Len())
	}
}

func TestLimitCounterReportsNoPreviousWindow(t *testing.T) {
	f := NewFixedWindow(10, time.Minute)
	w := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	prev := w.Add(-time.Minute)

	if err := f.IncrementBy("k", prev, 7); err != nil {
		t.Fatal(err)
	}
	curr, p, _ := f.Get("k", w, prev)
	if curr != 0 || p != 0 {
		t.Errorf("Get = %d, %d; want 0, 0", curr, p)
	}

	f.Increment("k", w)
	f.Increment("k", w)
	if curr, _, _ := f.Get("k", w, prev); curr != 2 {
		t.Errorf("curr = %d, want 2", curr)
	}
}

func TestKeyFunc(t *testing.T) {
	key := KeyFunc(func(r *http.Request) string { return r.Header.Get("X-Test-User") })

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	r.Header.Set("User-Agent", "curl/8")
	if got, _ := key(r); got != "anon:10.0.0.7|curl/8" {
		t.Errorf("anonymous key = %q", got)
	}

	r.Header.Set("X-Test-User", "u1")
	if got, _ := key(r); got != "user:u1" {
		t.Errorf("user key = %q", got)
	}
}

func TestRunSweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFixedWindow(1, time.Millisecond)
	hit(f, "a")
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, time.Millisecond, f)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never evicted the expired key")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
