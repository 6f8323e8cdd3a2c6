package remind

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/digest"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/eventbus"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

var ErrNotRunning = errors.New("reminder service not running")

// Store is the read side of the item store the scheduler plans from.
type Store interface {
	ListPending(ctx context.Context) ([]item.Item, error)
}

// Pruner is optionally implemented by the store; when present, a daily
// maintenance job drops completed items past the retention window.
type Pruner interface {
	PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Port delivers a text message, best-effort, at most once per job.
// broadcast=true addresses the whole channel audience.
type Port interface {
	Deliver(ctx context.Context, text string, broadcast bool) error
}

type Config struct {
	Lead         time.Duration // due - lead = fire time (default 30m)
	Lookahead    time.Duration // planning horizon (default 30d)
	DigestAt     string        // daily digest, HH:MM local (default "08:00")
	RefreshEvery time.Duration // periodic reconcile refresh (default 6h)
	PruneAfter   time.Duration // completed-item retention (default 90d, 0 disables)
	Workers      int           // dispatch workers (default 1)
	QueueSize    int           // dispatch queue (default 64)
}

func (c Config) withDefaults() Config {
	if c.Lead <= 0 {
		c.Lead = DefaultLead
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	if strings.TrimSpace(c.DigestAt) == "" {
		c.DigestAt = "08:00"
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = 6 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// job is a scheduled one-shot reminder. Payload is frozen at scheduling
// time; reconcile never rewrites it for an unchanged job id.
type job struct {
	id      string
	itemID  string
	fireAt  time.Time
	payload string
}

// ReconcileStats reports what one reconcile pass changed.
type ReconcileStats struct {
	Added     int `json:"added"`
	Cancelled int `json:"cancelled"`
	Kept      int `json:"kept"`
}

// JobInfo is a read-only view of one live job, for status output.
type JobInfo struct {
	JobID  string    `json:"job_id"`
	ItemID string    `json:"item_id"`
	FireAt time.Time `json:"fire_at"`
}

type reconcileReq struct {
	plan []Reminder
	done chan ReconcileStats
}

type snapshotReq struct {
	done chan []JobInfo
}

// Service owns the live reminder job set.
//
// Concurrency model: a single loop goroutine is the only reader and writer
// of the job table. Reconcile requests and snapshot reads arrive over
// channels and are serialized with fire handling, so a job can never be
// cancelled and fired ambiguously; whichever message the loop processes
// first wins. The loop sleeps until the earliest fire time and wakes early
// when a reconcile arrives, so a newly planned nearer-term job is never
// missed. Delivery runs on a small worker pool so one slow send cannot skew
// other jobs' fire accuracy.
type Service struct {
	cfg   Config
	log   logx.Logger
	clock Clock
	store Store
	port  Port
	res   Resolver
	bus   eventbus.Bus

	reconcileCh chan reconcileReq
	snapshotCh  chan snapshotReq
	deliveries  chan delivery

	// jobs is owned exclusively by the run loop.
	jobs map[string]job

	mu        sync.Mutex
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	running   bool
}

func New(cfg Config, store Store, port Port, res Resolver, clock Clock, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		clock:       clock,
		store:       store,
		port:        port,
		res:         res,
		bus:         bus,
		reconcileCh: make(chan reconcileReq, 16),
		snapshotCh:  make(chan snapshotReq, 4),
		deliveries:  make(chan delivery, cfg.QueueSize),
		jobs:        map[string]job{},
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.runCancel = cancel
	s.running = true

	s.wg.Add(1 + s.cfg.Workers)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			s.dispatchWorker(runCtx, idx)
		}()
	}

	c, err := s.startCronLocked(runCtx)
	if err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.c = c
	s.mu.Unlock()

	s.log.Info("reminder service started",
		logx.Duration("lead", s.cfg.Lead),
		logx.Duration("lookahead", s.cfg.Lookahead),
		logx.String("digest_at", s.cfg.DigestAt),
		logx.Int("workers", s.cfg.Workers))

	// Initial pass so a restart rebuilds the job table from item state.
	if _, err := s.OnItemChanged(runCtx); err != nil {
		s.log.Warn("initial reconcile failed", logx.Err(err))
	}
	return nil
}

func (s *Service) startCronLocked(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))

	h, m, err := parseHHMM(s.cfg.DigestAt)
	if err != nil {
		return nil, fmt.Errorf("digest_at: %w", err)
	}
	// Daily digest: a single recurring trigger, separate from per-item jobs,
	// re-armed by cron after each run.
	if _, err := c.AddFunc(fmt.Sprintf("%d %d * * *", m, h), func() {
		if err := s.OnDigestDue(ctx); err != nil {
			s.log.Warn("daily digest failed", logx.Err(err))
		}
	}); err != nil {
		return nil, err
	}

	// Periodic reconcile refresh: keeps the 30-day look-ahead live even when
	// no item mutations arrive (items due beyond the horizon eventually
	// enter it).
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.RefreshEvery), func() {
		if _, err := s.OnItemChanged(ctx); err != nil {
			s.log.Warn("scheduled reconcile failed", logx.Err(err))
		}
	}); err != nil {
		return nil, err
	}

	if s.cfg.PruneAfter > 0 {
		if p, ok := s.store.(Pruner); ok {
			if _, err := c.AddFunc("30 3 * * *", func() {
				n, err := p.PruneCompleted(ctx, s.cfg.PruneAfter)
				if err != nil {
					s.log.Warn("completed-item prune failed", logx.Err(err))
					return
				}
				if n > 0 {
					s.log.Info("pruned completed items", logx.Int64("count", n))
				}
			}); err != nil {
				return nil, err
			}
		}
	}

	c.Start()
	return c, nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("reminder service stopped")
	case <-ctx.Done():
		s.log.Warn("reminder service stop timed out; continuing in background")
	}
}

// OnItemChanged recomputes the plan from current item state and reconciles
// the live job set against it. Call it after any item mutation; the cron
// refresh also calls it periodically.
func (s *Service) OnItemChanged(ctx context.Context) (ReconcileStats, error) {
	items, err := s.store.ListPending(ctx)
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("list pending items: %w", err)
	}
	plan := Plan(items, s.clock.Now(), s.cfg.Lead, s.cfg.Lookahead, s.res)
	return s.reconcile(ctx, plan)
}

// reconcile hands the plan to the loop and waits for it to be applied, so
// callers observe the post-reconcile state. Calling it twice with the same
// plan is a no-op the second time.
func (s *Service) reconcile(ctx context.Context, plan []Reminder) (ReconcileStats, error) {
	req := reconcileReq{plan: plan, done: make(chan ReconcileStats, 1)}
	select {
	case s.reconcileCh <- req:
	case <-ctx.Done():
		return ReconcileStats{}, ctx.Err()
	}
	select {
	case st := <-req.done:
		return st, nil
	case <-ctx.Done():
		return ReconcileStats{}, ctx.Err()
	}
}

// OnDigestDue builds and delivers the daily digest. Also the manual-trigger
// entry point.
func (s *Service) OnDigestDue(ctx context.Context) error {
	text, err := s.DigestPreview(ctx)
	if err != nil {
		return err
	}
	s.enqueueDelivery(delivery{kind: "digest", text: text, broadcast: true})
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDigestSent, Time: s.clock.Now()})
	}
	return nil
}

// DigestPreview composes the digest text without sending it.
func (s *Service) DigestPreview(ctx context.Context) (string, error) {
	items, err := s.store.ListPending(ctx)
	if err != nil {
		return "", fmt.Errorf("list pending items: %w", err)
	}
	now := s.clock.Now()
	return digest.Compose(digest.Bucket(items, now), now), nil
}

// Jobs returns a point-in-time view of the live job set, soonest first.
func (s *Service) Jobs(ctx context.Context) ([]JobInfo, error) {
	req := snapshotReq{done: make(chan []JobInfo, 1)}
	select {
	case s.snapshotCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-req.done:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- loop ----

func (s *Service) run(ctx context.Context) {
	var tmr Timer
	var fireC <-chan time.Time

	rearm := func() {
		if tmr != nil {
			tmr.Stop()
			tmr = nil
			fireC = nil
		}
		next, ok := s.nextFire()
		if !ok {
			return // park until a reconcile arrives
		}
		d := next.Sub(s.clock.Now())
		if d < 0 {
			d = 0
		}
		tmr = s.clock.NewTimer(d)
		fireC = tmr.C()
	}

	for {
		select {
		case <-ctx.Done():
			if tmr != nil {
				tmr.Stop()
			}
			return
		case req := <-s.reconcileCh:
			st := s.apply(req.plan)
			rearm()
			if req.done != nil {
				req.done <- st
			}
			if st.Added > 0 || st.Cancelled > 0 {
				s.log.Info("reconciled reminder jobs",
					logx.Int("added", st.Added),
					logx.Int("cancelled", st.Cancelled),
					logx.Int("kept", st.Kept),
					logx.Int("live", len(s.jobs)))
			}
		case req := <-s.snapshotCh:
			req.done <- s.snapshot()
		case <-fireC:
			tmr = nil
			fireC = nil
			s.fireDue()
			rearm()
		}
	}
}

// apply diffs the live job set against the new plan. Stale jobs are
// cancelled before new ones are armed, so a job re-planned under the same id
// counts as kept, never cancel-then-recreate. Kept jobs retain their
// original payload even if the plan re-rendered a different text for the
// same id. Cancelling an absent or already-fired job is a no-op by
// construction: it simply is not in the table.
func (s *Service) apply(plan []Reminder) ReconcileStats {
	want := make(map[string]Reminder, len(plan))
	for _, r := range plan {
		want[r.JobID] = r
	}

	var st ReconcileStats
	for id := range s.jobs {
		if _, ok := want[id]; !ok {
			delete(s.jobs, id)
			st.Cancelled++
		}
	}
	for id, r := range want {
		if _, ok := s.jobs[id]; ok {
			st.Kept++
			continue
		}
		s.jobs[id] = job{id: id, itemID: r.ItemID, fireAt: r.FireAt, payload: r.Text}
		st.Added++
	}
	return st
}

func (s *Service) nextFire() (time.Time, bool) {
	var next time.Time
	found := false
	for _, j := range s.jobs {
		if !found || j.fireAt.Before(next) {
			next = j.fireAt
			found = true
		}
	}
	return next, found
}

// fireDue fires every job whose time has come: remove it from the table
// first, then hand the frozen payload to the dispatch pool. Removal is
// unconditional; delivery failure is the port's problem to log, never a
// reason to re-arm.
func (s *Service) fireDue() {
	now := s.clock.Now()
	for id, j := range s.jobs {
		if j.fireAt.After(now) {
			continue
		}
		delete(s.jobs, id)
		s.log.Debug("reminder fired", logx.String("job", id), logx.String("item", j.itemID), logx.Time("fire_at", j.fireAt))
		s.enqueueDelivery(delivery{kind: "reminder", text: j.payload, broadcast: true})
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderFired, Time: now, Data: JobInfo{JobID: id, ItemID: j.itemID, FireAt: j.fireAt}})
		}
	}
}

func (s *Service) snapshot() []JobInfo {
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{JobID: j.id, ItemID: j.itemID, FireAt: j.fireAt})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	return out
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
