package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/feed"
	"relaybot/internal/seen"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	alive   bool
	probes  int
}

func (f *fakeMessenger) Send(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, target+" "+text)
	return nil
}

func (f *fakeMessenger) ProbeAlive(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.alive
}

type memBackend struct {
	mu   sync.Mutex
	recs []storage.Record
	err  error
}

func (m *memBackend) Load(context.Context) ([]storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Record(nil), m.recs...), nil
}

func (m *memBackend) Save(_ context.Context, recs []storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append([]storage.Record(nil), recs...)
	return nil
}

func (m *memBackend) Close() error { return nil }

func item(id, bumped string) feed.Item {
	return feed.Item{ID: id, Attributes: feed.Attributes{Name: "n" + id, BumpedAt: bumped, DownloadLink: "https://t.example/torrent/" + id + ".x"}}
}

func newAnnouncer(t *testing.T, m *fakeMessenger, be *memBackend, bus eventbus.Bus) (*Announcer, *seen.Store) {
	t.Helper()
	st := seen.New(be)
	return New(Config{Channel: "#announce"}, st, m, bus, logx.Nop()), st
}

func TestAnnounceCommitsOnConfirmedProbe(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{alive: true}
	be := &memBackend{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	a, st := newAnnouncer(t, m, be, bus)
	ctx := context.Background()

	it := item("1", "t1")
	if !a.ShouldAnnounce(it) {
		t.Fatal("new item should be announced")
	}
	if err := a.Announce(ctx, it); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0] != "#announce "+Format(it) {
		t.Fatalf("sent = %v", m.sent)
	}
	if !st.ContainsExact("1", "t1") {
		t.Fatal("confirmed item not recorded")
	}
	if len(be.recs) != 1 {
		t.Fatalf("persisted = %+v", be.recs)
	}
	if a.ShouldAnnounce(it) {
		t.Fatal("same (id, marker) must not be announced twice")
	}

	select {
	case e := <-events:
		if e.Type != eventbus.ItemAnnounced {
			t.Fatalf("event = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no announced event")
	}
}

func TestFailedProbeLeavesItemUnseen(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{alive: false}
	be := &memBackend{}
	a, st := newAnnouncer(t, m, be, nil)

	it := item("2", "t1")
	err := a.Announce(context.Background(), it)
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}
	if len(m.sent) != 1 || m.probes != 1 {
		t.Fatalf("sent=%d probes=%d, want send then probe", len(m.sent), m.probes)
	}
	if st.ContainsExact("2", "t1") || len(be.recs) != 0 {
		t.Fatal("unconfirmed item must not be recorded")
	}
	if !a.ShouldAnnounce(it) {
		t.Fatal("unconfirmed item should be retried")
	}
}

func TestSendFailureSkipsProbe(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{alive: true, sendErr: errors.New("broken pipe")}
	a, st := newAnnouncer(t, m, &memBackend{}, nil)

	if err := a.Announce(context.Background(), item("3", "t1")); err == nil {
		t.Fatal("expected send error")
	}
	if m.probes != 0 {
		t.Fatalf("probes = %d, want 0", m.probes)
	}
	if st.Len() != 0 {
		t.Fatal("failed send must not be recorded")
	}
}

func TestBumpedItemReplacesRecord(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{alive: true}
	be := &memBackend{}
	a, st := newAnnouncer(t, m, be, nil)
	ctx := context.Background()

	_ = a.Announce(ctx, item("4", "t1"))

	bumped := item("4", "t2")
	if !a.ShouldAnnounce(bumped) {
		t.Fatal("bumped item should be announced again")
	}
	// The stale record is gone from memory but not yet from disk.
	if st.ContainsExact("4", "t1") {
		t.Fatal("stale marker should be forgotten")
	}
	if len(be.recs) != 1 || be.recs[0].BumpedAt != "t1" {
		t.Fatalf("ShouldAnnounce must not persist, backend has %+v", be.recs)
	}

	if err := a.Announce(ctx, bumped); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(be.recs) != 1 || be.recs[0] != (storage.Record{ID: "4", BumpedAt: "t2"}) {
		t.Fatalf("persisted = %+v, want single record with new marker", be.recs)
	}
}

func TestPersistFailureStillConfirms(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{alive: true}
	be := &memBackend{err: errors.New("read-only filesystem")}
	a, st := newAnnouncer(t, m, be, nil)

	if err := a.Announce(context.Background(), item("5", "t1")); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if !st.ContainsExact("5", "t1") {
		t.Fatal("item should stay seen in memory")
	}
}

func TestAnnounceRespectsCanceledContext(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{alive: true}
	st := seen.New(&memBackend{})
	a := New(Config{Channel: "#announce", SendRatePerSec: 0.001, SendBurst: 1}, st, m, nil, logx.Nop())

	ctx := context.Background()
	if err := a.Announce(ctx, item("6", "t1")); err != nil {
		t.Fatalf("first Announce: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := a.Announce(cctx, item("7", "t1")); err == nil {
		t.Fatal("expected limiter wait to fail on canceled context")
	}
	if len(m.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(m.sent))
	}
}
