package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

const sampleBody = `{
  "data": [
    {
      "id": "101",
      "attributes": {
        "category": "Movies",
        "type": "WEB-DL",
        "name": "Some.Movie.2024.1080p",
        "resolution": "1080p",
        "freeleech": "0%",
        "internal": 1,
        "double_upload": false,
        "size": 1073741824,
        "uploader": "alice",
        "download_link": "https://tracker.example/torrent/download/101.abcdef",
        "bumped_at": "2025-01-01T00:00:00.000000Z"
      }
    },
    {
      "id": "102",
      "attributes": {
        "category": "TV",
        "type": "Encode",
        "name": "Show.S01",
        "resolution": null,
        "freeleech": "100%",
        "internal": 0,
        "double_upload": true,
        "size": 10,
        "uploader": "bob",
        "download_link": "",
        "bumped_at": "2025-01-02T00:00:00.000000Z"
      }
    }
  ]
}`

func TestFetchDecodesItems(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{URL: srv.URL, Token: "secret", Timeout: time.Second}, logx.Nop())
	items := c.Fetch(context.Background())
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	a := items[0].Attributes
	if items[0].ID != "101" || a.Resolution == nil || *a.Resolution != "1080p" || a.Internal != 1 || a.Size != 1073741824 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Attributes.Resolution != nil {
		t.Fatalf("null resolution should decode to nil")
	}
	if items[1].Attributes.BumpedAt != "2025-01-02T00:00:00.000000Z" {
		t.Fatalf("BumpedAt = %q", items[1].Attributes.BumpedAt)
	}
}

func TestFetchSwallowsFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"data":[]}`},
		{name: "bad json", status: http.StatusOK, body: `{"data":`},
		{name: "missing data", status: http.StatusOK, body: `{"items":[]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			c := New(Config{URL: srv.URL, Timeout: time.Second}, logx.Nop())
			if items := c.Fetch(context.Background()); len(items) != 0 {
				t.Fatalf("items = %v, want none", items)
			}
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{URL: url, Timeout: 200 * time.Millisecond}, logx.Nop())
	if items := c.Fetch(context.Background()); items != nil {
		t.Fatalf("items = %v, want nil", items)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Config{URL: srv.URL, Timeout: time.Second, Breaker: BreakerConfig{Trip: 2, BaseDelay: time.Minute}}, logx.Nop())
	c.now = func() time.Time { return now }

	ctx := context.Background()
	c.Fetch(ctx)
	c.Fetch(ctx)
	if got := hits.Load(); got != 2 {
		t.Fatalf("hits = %d, want 2", got)
	}

	now = now.Add(30 * time.Second)
	if items := c.Fetch(ctx); items != nil {
		t.Fatalf("open breaker returned %v", items)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("open breaker still hit the server: %d", got)
	}

	healthy.Store(true)
	now = now.Add(31 * time.Second)
	if items := c.Fetch(ctx); len(items) != 2 {
		t.Fatalf("after cooldown got %d items", len(items))
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
}

func TestBreakerCooldownGrows(t *testing.T) {
	b := newBreaker(BreakerConfig{Trip: 1, BaseDelay: time.Second, MaxDelay: 4 * time.Second, ResetAfter: time.Hour})
	now := time.Unix(0, 0)
	fail := errors.New("boom")

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, d := range want {
		if !b.record(now, fail) {
			t.Fatalf("failure %d did not trip", i)
		}
		if open, until := b.open(now); !open || until.Sub(now) != d {
			t.Fatalf("failure %d: open=%v cooldown=%s, want %s", i, open, until.Sub(now), d)
		}
	}

	b.record(now, nil)
	if open, _ := b.open(now); open {
		t.Fatal("success did not close the breaker")
	}
}

func TestBreakerForgetsOldFailures(t *testing.T) {
	b := newBreaker(BreakerConfig{Trip: 2, ResetAfter: time.Minute})
	now := time.Unix(0, 0)
	b.record(now, errors.New("a"))
	if b.record(now.Add(2*time.Minute), errors.New("b")) {
		t.Fatal("stale failure counted toward trip")
	}
}

func TestBreakerDisabled(t *testing.T) {
	for _, trip := range []int{0, -1} {
		if b := newBreaker(BreakerConfig{Trip: trip}); b != nil {
			t.Fatalf("trip %d should leave the breaker off", trip)
		}
	}
	var b *breaker
	if b.record(time.Now(), errors.New("x")) {
		t.Fatal("nil breaker tripped")
	}
	if open, _ := b.open(time.Now()); open {
		t.Fatal("nil breaker open")
	}
}

func TestFetchRetriesEveryCallByDefault(t *testing.T) {
	var hits atomic.Int32
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: time.Second}, logx.Nop())
	ctx := context.Background()
	const failures = 12
	for i := 0; i < failures; i++ {
		if items := c.Fetch(ctx); items != nil {
			t.Fatalf("fetch %d against failing feed returned %v", i, items)
		}
	}
	if got := hits.Load(); got != failures {
		t.Fatalf("hits = %d, want %d", got, failures)
	}

	healthy.Store(true)
	if items := c.Fetch(ctx); len(items) != 2 {
		t.Fatalf("first fetch after recovery got %d items, want 2", len(items))
	}
	if got := hits.Load(); got != failures+1 {
		t.Fatalf("hits = %d, want %d", got, failures+1)
	}
}
