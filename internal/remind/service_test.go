package remind

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

// ---- fakes ----

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Fire wakes the run loop through its most recently armed timer.
func (c *fakeClock) Fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		t.Fatal("no timer armed")
	}
	c.timers[len(c.timers)-1].ch <- c.now
}

type fakeTimer struct{ ch chan time.Time }

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop() bool          { return true }

type fakeStore struct {
	mu    sync.Mutex
	items []item.Item
}

func (s *fakeStore) set(items ...item.Item) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *fakeStore) ListPending(ctx context.Context) ([]item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []item.Item
	for _, it := range s.items {
		if it.Pending() {
			out = append(out, it)
		}
	}
	return out, nil
}

type sent struct {
	text      string
	broadcast bool
}

type fakePort struct {
	mu   sync.Mutex
	sent []sent
	ch   chan sent
}

func newFakePort() *fakePort { return &fakePort{ch: make(chan sent, 16)} }

func (p *fakePort) Deliver(ctx context.Context, text string, broadcast bool) error {
	p.mu.Lock()
	p.sent = append(p.sent, sent{text: text, broadcast: broadcast})
	p.mu.Unlock()
	p.ch <- sent{text: text, broadcast: broadcast}
	return nil
}

func (p *fakePort) wait(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-p.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return sent{}
	}
}

func (p *fakePort) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// ---- helpers ----

func startService(t *testing.T, clock Clock, store Store, port Port) *Service {
	t.Helper()
	svc := New(Config{}, store, port, MapResolver{}, clock, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		svc.Stop(stopCtx)
		cancel()
	})
	return svc
}

func dueItem(id, name string, due time.Time) item.Item {
	return item.Item{
		ID: id, Kind: item.KindTask, Name: name,
		Due:    due.Format("2006-01-02T15:04:05"),
		Status: item.StatusPending, Priority: item.PriorityMedium,
	}
}

// ---- tests ----

func TestServiceReconcileIdempotent(t *testing.T) {
	now := time.Date(2025, 9, 7, 13, 0, 0, 0, time.Local)
	clock := newFakeClock(now)
	store := &fakeStore{}
	svc := startService(t, clock, store, newFakePort())

	store.set(
		dueItem("1", "one", now.Add(2*time.Hour)),
		dueItem("2", "two", now.Add(4*time.Hour)),
	)

	st, err := svc.OnItemChanged(context.Background())
	if err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}
	if st.Added != 2 || st.Cancelled != 0 {
		t.Fatalf("first reconcile = %+v", st)
	}

	st, err = svc.OnItemChanged(context.Background())
	if err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}
	if st.Added != 0 || st.Cancelled != 0 || st.Kept != 2 {
		t.Fatalf("second reconcile = %+v, want all kept", st)
	}

	jobs, err := svc.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ItemID != "1" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestServiceCancelsRemovedJobs(t *testing.T) {
	now := time.Date(2025, 9, 7, 13, 0, 0, 0, time.Local)
	clock := newFakeClock(now)
	store := &fakeStore{}
	port := newFakePort()
	svc := startService(t, clock, store, port)

	store.set(dueItem("1", "one", now.Add(time.Hour)))
	if _, err := svc.OnItemChanged(context.Background()); err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}

	store.set()
	st, err := svc.OnItemChanged(context.Background())
	if err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}
	if st.Cancelled != 1 {
		t.Fatalf("reconcile = %+v, want 1 cancelled", st)
	}

	jobs, err := svc.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("jobs = %+v, want none", jobs)
	}
	if port.count() != 0 {
		t.Fatalf("cancelled job delivered %d messages", port.count())
	}
}

func TestServiceFiresOnce(t *testing.T) {
	now := time.Date(2025, 9, 7, 13, 0, 0, 0, time.Local)
	clock := newFakeClock(now)
	store := &fakeStore{}
	port := newFakePort()
	svc := startService(t, clock, store, port)

	it := dueItem("1", "standup", now.Add(time.Hour))
	it.Notes = "room 4"
	store.set(it)
	if _, err := svc.OnItemChanged(context.Background()); err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}

	clock.Set(now.Add(31 * time.Minute)) // past fireAt = due - 30m
	clock.Fire(t)

	got := port.wait(t)
	if !got.broadcast {
		t.Fatal("reminder should broadcast")
	}
	for _, want := range []string{"⏰ Reminder: Task 'standup'", "Notes: room 4"} {
		if !strings.Contains(got.text, want) {
			t.Fatalf("delivered text missing %q:\n%s", want, got.text)
		}
	}

	jobs, err := svc.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("fired job still live: %+v", jobs)
	}
	if port.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", port.count())
	}
}

func TestServiceKeptJobRetainsPayload(t *testing.T) {
	now := time.Date(2025, 9, 7, 13, 0, 0, 0, time.Local)
	clock := newFakeClock(now)
	store := &fakeStore{}
	port := newFakePort()
	svc := startService(t, clock, store, port)

	due := now.Add(time.Hour)
	store.set(dueItem("1", "original name", due))
	if _, err := svc.OnItemChanged(context.Background()); err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}

	// Rename without moving the due date: same job id, so the job is kept
	// and its already-rendered payload must not be rewritten.
	store.set(dueItem("1", "renamed", due))
	st, err := svc.OnItemChanged(context.Background())
	if err != nil {
		t.Fatalf("OnItemChanged: %v", err)
	}
	if st.Kept != 1 || st.Added != 0 {
		t.Fatalf("reconcile = %+v, want kept", st)
	}

	clock.Set(due)
	clock.Fire(t)
	got := port.wait(t)
	if !strings.Contains(got.text, "original name") {
		t.Fatalf("payload was rewritten:\n%s", got.text)
	}
}

func TestServiceDigest(t *testing.T) {
	now := time.Date(2025, 9, 10, 8, 0, 0, 0, time.Local)
	clock := newFakeClock(now)
	store := &fakeStore{}
	port := newFakePort()
	svc := startService(t, clock, store, port)

	store.set(
		dueItem("1", "late", now.Add(-48*time.Hour)),
		dueItem("2", "today", now.Add(2*time.Hour)),
	)

	text, err := svc.DigestPreview(context.Background())
	if err != nil {
		t.Fatalf("DigestPreview: %v", err)
	}
	if !strings.Contains(text, "⚠️ OVERDUE") || !strings.Contains(text, "📅 DUE TODAY") {
		t.Fatalf("unexpected digest:\n%s", text)
	}
	if port.count() != 0 {
		t.Fatal("preview must not deliver")
	}

	if err := svc.OnDigestDue(context.Background()); err != nil {
		t.Fatalf("OnDigestDue: %v", err)
	}
	got := port.wait(t)
	if !got.broadcast || got.text != text {
		t.Fatalf("digest delivery = %+v", got)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("08:00")
	if err != nil || h != 8 || m != 0 {
		t.Fatalf("parseHHMM = %d:%d, %v", h, m, err)
	}
	for _, raw := range []string{"24:00", "08:60", "8", "ten past"} {
		if _, _, err := parseHHMM(raw); err == nil {
			t.Fatalf("parseHHMM(%q) should fail", raw)
		}
	}
}
