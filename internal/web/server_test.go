package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/eventbus"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/remind"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/storage"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

// memStore is an in-memory storage.Store for handler tests.
type memStore struct {
	mu    sync.Mutex
	next  int
	items map[string]item.Item
}

func newMemStore() *memStore { return &memStore{items: map[string]item.Item{}} }

func (s *memStore) Create(ctx context.Context, it item.Item) (item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	it = it.Normalize()
	it.ID = strconv.Itoa(s.next)
	s.items[it.ID] = it
	return it, nil
}

func (s *memStore) Get(ctx context.Context, id string) (item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return item.Item{}, storage.ErrNotFound
	}
	return it, nil
}

func (s *memStore) List(ctx context.Context) ([]item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]item.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due < out[j].Due })
	return out, nil
}

func (s *memStore) ListPending(ctx context.Context) ([]item.Item, error) {
	all, _ := s.List(ctx)
	var out []item.Item
	for _, it := range all {
		if it.Pending() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memStore) Search(ctx context.Context, kind item.Kind, term string) ([]item.Item, error) {
	all, _ := s.List(ctx)
	term = strings.ToLower(term)
	var out []item.Item
	for _, it := range all {
		if kind != "" && it.Kind != kind {
			continue
		}
		hay := strings.ToLower(it.Name + " " + it.Category + " " + it.Notes)
		if term == "" || strings.Contains(hay, term) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, it item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[it.ID]; !ok {
		return storage.ErrNotFound
	}
	s.items[it.ID] = it.Normalize()
	return nil
}

func (s *memStore) SetStatus(ctx context.Context, id string, st item.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	it.Status = st
	s.items[id] = it
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memStore) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) Close() error { return nil }

type recordPort struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
}

func newRecordPort() *recordPort { return &recordPort{ch: make(chan string, 8)} }

func (p *recordPort) Deliver(ctx context.Context, text string, broadcast bool) error {
	p.mu.Lock()
	p.sent = append(p.sent, text)
	p.mu.Unlock()
	p.ch <- text
	return nil
}

func (p *recordPort) wait(t *testing.T) string {
	t.Helper()
	select {
	case s := <-p.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func newTestServer(t *testing.T) (*Server, *gin.Engine, *memStore, *recordPort, eventbus.Bus) {
	t.Helper()
	store := newMemStore()
	port := newRecordPort()
	bus := eventbus.New()

	svc := remind.New(remind.Config{}, store, port, remind.MapResolver{"alice": "111"},
		remind.SystemClock(), bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		svc.Stop(stopCtx)
		cancel()
	})

	s := New(Config{Addr: "127.0.0.1:0"}, store, svc, port, remind.MapResolver{"alice": "111"}, bus, logx.Nop())
	s.started = time.Now()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	s.routes(r)
	return s, r, store, port, bus
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetItem(t *testing.T) {
	_, r, _, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/items",
		`{"type":"task","name":"write report","due_date":"2025-09-07T14:00","priority":"High"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var created item.Item
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Category != "Misc" {
		t.Fatalf("created = %+v", created)
	}

	w = doJSON(t, r, http.MethodGet, "/api/items/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/items/999", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing item status = %d", w.Code)
	}
}

func TestCreateItemValidation(t *testing.T) {
	_, r, _, _, _ := newTestServer(t)

	for _, body := range []string{
		`{"type":"task"}`,
		`{"name":"x"}`,
		`not json`,
	} {
		if w := doJSON(t, r, http.MethodPost, "/api/items", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q status = %d, want 400", body, w.Code)
		}
	}
}

func TestListAndSearchItems(t *testing.T) {
	_, r, store, _, _ := newTestServer(t)
	ctx := context.Background()
	_, _ = store.Create(ctx, item.Item{Kind: item.KindTask, Name: "pay rent", Due: "2025-09-01"})
	_, _ = store.Create(ctx, item.Item{Kind: item.KindEvent, Name: "team lunch", Due: "2025-09-02"})

	w := doJSON(t, r, http.MethodGet, "/api/items", "")
	var items []item.Item
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}

	w = doJSON(t, r, http.MethodGet, "/api/items?q=rent", "")
	items = nil
	_ = json.Unmarshal(w.Body.Bytes(), &items)
	if len(items) != 1 || items[0].Name != "pay rent" {
		t.Fatalf("search = %+v", items)
	}

	w = doJSON(t, r, http.MethodGet, "/api/items?type=event", "")
	items = nil
	_ = json.Unmarshal(w.Body.Bytes(), &items)
	if len(items) != 1 || items[0].Kind != item.KindEvent {
		t.Fatalf("kind filter = %+v", items)
	}
}

func TestCompleteItemBroadcasts(t *testing.T) {
	_, r, store, port, _ := newTestServer(t)
	it, _ := store.Create(context.Background(), item.Item{
		Kind: item.KindTask, Name: "write report", Due: "2025-09-07T14:00", Mention: "alice",
	})

	w := doJSON(t, r, http.MethodPost, "/api/items/"+it.ID+"/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d: %s", w.Code, w.Body.String())
	}
	msg := port.wait(t)
	for _, want := range []string{"✅ Task Completed!", "**write report** <@111>"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("broadcast missing %q:\n%s", want, msg)
		}
	}

	// Completing twice conflicts.
	if w := doJSON(t, r, http.MethodPost, "/api/items/"+it.ID+"/complete", ""); w.Code != http.StatusConflict {
		t.Fatalf("second complete status = %d", w.Code)
	}
}

func TestDeleteItemBroadcasts(t *testing.T) {
	_, r, store, port, _ := newTestServer(t)
	it, _ := store.Create(context.Background(), item.Item{Kind: item.KindEvent, Name: "offsite", Due: "2025-09-07"})

	w := doJSON(t, r, http.MethodDelete, "/api/items/"+it.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	msg := port.wait(t)
	if !strings.Contains(msg, "🗑️ Event Deleted!") || !strings.Contains(msg, "**offsite**") {
		t.Fatalf("broadcast = %q", msg)
	}

	if w := doJSON(t, r, http.MethodDelete, "/api/items/"+it.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestUpdateItemPartial(t *testing.T) {
	_, r, store, _, bus := newTestServer(t)
	it, _ := store.Create(context.Background(), item.Item{
		Kind: item.KindTask, Name: "draft", Due: "2025-09-07T14:00", Notes: "keep me",
	})

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	w := doJSON(t, r, http.MethodPut, "/api/items/"+it.ID, `{"name":"final"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	got, _ := store.Get(context.Background(), it.ID)
	if got.Name != "final" || got.Notes != "keep me" || got.Due != "2025-09-07T14:00" {
		t.Fatalf("partial update clobbered fields: %+v", got)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeItemChanged {
			t.Fatalf("event = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("mutation did not publish item.changed")
	}
}

func TestCalendarExpandsRecurrence(t *testing.T) {
	_, r, store, _, _ := newTestServer(t)
	_, _ = store.Create(context.Background(), item.Item{
		Kind: item.KindEvent, Name: "standup", Due: "2025-03-03T09:00", Repeat: item.RepeatWeekly,
	})

	w := doJSON(t, r, http.MethodGet, "/api/calendar?start=2025-03-01&end=2025-04-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("calendar status = %d", w.Code)
	}
	var events []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5 weekly occurrences in March", len(events))
	}
	if events[1]["id"] == events[0]["id"] {
		t.Fatal("recurring instances must carry composite ids")
	}
}

func TestDigestEndpoints(t *testing.T) {
	_, r, store, port, _ := newTestServer(t)
	_, _ = store.Create(context.Background(), item.Item{
		Kind: item.KindTask, Name: "late", Due: "2020-01-01", Status: item.StatusPending,
	})

	w := doJSON(t, r, http.MethodGet, "/api/digest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("digest preview status = %d", w.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(resp["digest"], "⚠️ OVERDUE") {
		t.Fatalf("digest = %q", resp["digest"])
	}

	w = doJSON(t, r, http.MethodPost, "/api/digest/send", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("digest send status = %d", w.Code)
	}
	if msg := port.wait(t); !strings.Contains(msg, "📋 Daily Update") {
		t.Fatalf("sent digest = %q", msg)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, r, _, _, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "running" {
		t.Fatalf("resp = %+v", resp)
	}
}
