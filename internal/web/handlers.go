package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/eventbus"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/storage"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

type itemRequest struct {
	Kind     *string `json:"type"`
	Name     *string `json:"name"`
	Due      *string `json:"due_date"`
	Status   *string `json:"status"`
	Mention  *string `json:"mention"`
	Repeat   *string `json:"repeat_interval"`
	Category *string `json:"category"`
	Notes    *string `json:"notes"`
	Priority *string `json:"priority"`
	Color    *string `json:"color"`
}

func (s *Server) handleStatus(c *gin.Context) {
	jobs, err := s.svc.Jobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scheduler unavailable", "detail": err.Error()})
		return
	}

	s.recentMu.Lock()
	recent := make([]gin.H, 0, len(s.recent))
	for _, ev := range s.recent {
		recent = append(recent, gin.H{"type": ev.Type, "time": ev.Time})
	}
	s.recentMu.Unlock()

	resp := gin.H{
		"status":         "running",
		"uptime":         time.Since(s.started).Round(time.Second).String(),
		"scheduled_jobs": len(jobs),
		"recent_events":  recent,
	}
	if len(jobs) > 0 {
		resp["next_fire"] = jobs[0].FireAt
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListItems(c *gin.Context) {
	ctx := c.Request.Context()
	kind := item.Kind(strings.TrimSpace(c.Query("type")))

	var (
		items []item.Item
		err   error
	)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		items, err = s.store.Search(ctx, kind, q)
	} else if kind != "" {
		items, err = s.store.Search(ctx, kind, "")
	} else {
		items, err = s.store.List(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed", "detail": err.Error()})
		return
	}
	if items == nil {
		items = []item.Item{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) handleCreateItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "detail": err.Error()})
		return
	}

	it := item.Item{Status: item.StatusPending}
	applyRequest(&it, req)
	if strings.TrimSpace(it.Name) == "" || strings.TrimSpace(it.Due) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and due_date are required"})
		return
	}
	// An unparseable due date is stored anyway: the item degrades into the
	// "other" digest bucket instead of being rejected or dropped.
	if _, ok := item.ParseDue(it.Due); !ok {
		s.log.Warn("storing item with unparseable due date",
			logx.String("name", it.Name), logx.String("due", it.Due))
	}

	created, err := s.store.Create(c.Request.Context(), it)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed", "detail": err.Error()})
		return
	}
	s.itemChanged()
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetItem(c *gin.Context) {
	it, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleUpdateItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "detail": err.Error()})
		return
	}

	ctx := c.Request.Context()
	it, err := s.store.Get(ctx, c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}

	wasPending := it.Pending()
	applyRequest(&it, req)
	if err := s.store.Update(ctx, it); err != nil {
		s.storeError(c, err)
		return
	}

	if wasPending && it.Status == item.StatusCompleted {
		s.notifyAsync(s.completionMessage(it))
	}
	s.itemChanged()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDeleteItem(c *gin.Context) {
	ctx := c.Request.Context()
	it, err := s.store.Get(ctx, c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if err := s.store.Delete(ctx, it.ID); err != nil {
		s.storeError(c, err)
		return
	}

	s.notifyAsync(fmt.Sprintf("🗑️ %s Deleted!\n\n**%s** has been removed from the system.",
		kindTitle(it.Kind), it.Name))
	s.itemChanged()
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleCompleteItem(c *gin.Context) {
	ctx := c.Request.Context()
	it, err := s.store.Get(ctx, c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if !it.Pending() {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("'%s' is already completed", it.Name)})
		return
	}
	if err := s.store.SetStatus(ctx, it.ID, item.StatusCompleted); err != nil {
		s.storeError(c, err)
		return
	}

	s.notifyAsync(s.completionMessage(it))
	s.itemChanged()
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// handleCalendar returns concrete occurrences for every item over the
// requested window (default: 180 days back, 730 forward), in a shape the
// calendar front end consumes directly.
func (s *Server) handleCalendar(c *gin.Context) {
	items, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed", "detail": err.Error()})
		return
	}

	var startP, endP *time.Time
	if t, ok := item.ParseDue(c.Query("start")); ok {
		startP = &t
	}
	if t, ok := item.ParseDue(c.Query("end")); ok {
		endP = &t
	}
	w := item.WindowOrDefault(startP, endP, time.Now())

	events := make([]gin.H, 0, len(items))
	for _, it := range items {
		for _, occ := range item.Expand(it, w) {
			start := occ.Item.Due // degraded: pass the raw string through
			if !occ.Degraded() {
				start = occ.At.Format("2006-01-02T15:04:05")
			}
			events = append(events, gin.H{
				"id":    occ.ID(),
				"title": occ.Item.Name,
				"start": start,
				"color": occ.Item.Color,
				"extendedProps": gin.H{
					"type":                  occ.Item.Kind,
					"status":                occ.Item.Status,
					"priority":              occ.Item.Priority,
					"category":              occ.Item.Category,
					"notes":                 occ.Item.Notes,
					"mention":               occ.Item.Mention,
					"repeat_interval":       occ.Item.Repeat,
					"is_recurring_instance": occ.Index > 0,
					"original_id":           occ.Item.ID,
				},
			})
		}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleDigestPreview(c *gin.Context) {
	text, err := s.svc.DigestPreview(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "digest failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"digest": text})
}

func (s *Server) handleDigestSend(c *gin.Context) {
	if err := s.svc.OnDigestDue(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "digest failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// ---- helpers ----

func applyRequest(it *item.Item, req itemRequest) {
	if req.Kind != nil {
		it.Kind = item.Kind(*req.Kind)
	}
	if req.Name != nil {
		it.Name = *req.Name
	}
	if req.Due != nil {
		it.Due = *req.Due
	}
	if req.Status != nil {
		it.Status = item.Status(*req.Status)
	}
	if req.Mention != nil {
		it.Mention = *req.Mention
	}
	if req.Repeat != nil {
		it.Repeat = item.Repeat(*req.Repeat)
	}
	if req.Category != nil {
		it.Category = *req.Category
	}
	if req.Notes != nil {
		it.Notes = *req.Notes
	}
	if req.Priority != nil {
		it.Priority = item.Priority(*req.Priority)
	}
	if req.Color != nil {
		it.Color = *req.Color
	}
	*it = it.Normalize()
}

func (s *Server) completionMessage(it item.Item) string {
	mention := ""
	if s.res != nil {
		mention = s.res.Resolve(it.Mention)
	}
	if mention != "" {
		mention = " " + mention
	}
	notes := it.Notes
	if notes == "" {
		notes = "None"
	}
	return fmt.Sprintf("✅ %s Completed!\n\n**%s**%s\n🎯 Priority: %s\n📝 Notes: %s",
		kindTitle(it.Kind), it.Name, mention, it.Priority, notes)
}

func kindTitle(k item.Kind) string {
	switch k {
	case item.KindTask:
		return "Task"
	case item.KindEvent:
		return "Event"
	default:
		return "Item"
	}
}

// notifyAsync broadcasts side notifications (completed/deleted) without
// holding up the HTTP response. Failures are logged and dropped.
func (s *Server) notifyAsync(text string) {
	if s.port == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.port.Deliver(ctx, text, true); err != nil {
			s.log.Warn("side notification failed", logx.Err(err))
		}
	}()
}

func (s *Server) itemChanged() {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeItemChanged})
	}
}

func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error", "detail": err.Error()})
}
