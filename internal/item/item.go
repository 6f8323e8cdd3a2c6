package item

import (
	"strings"
	"time"
)

type Kind string

const (
	KindTask  Kind = "task"
	KindEvent Kind = "event"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// MaxNameLen caps display names at storage time.
const MaxNameLen = 100

// Item is a dated task or event. Due is kept as the raw stored string and
// parsed at the boundary: a malformed date must degrade gracefully (item
// lands in the "other" digest bucket, is skipped by reminder planning) and
// never abort a batch.
type Item struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"type"`
	Name     string   `json:"name"`
	Due      string   `json:"due_date"`
	Status   Status   `json:"status"`
	Repeat   Repeat   `json:"repeat_interval"`
	Mention  string   `json:"mention,omitempty"`
	Category string   `json:"category,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Priority Priority `json:"priority"`
	Color    string   `json:"color,omitempty"`
}

func (it Item) Pending() bool { return it.Status == StatusPending }

// DueTime parses the item's due date. ok is false when the date is
// unparseable; callers decide how to degrade.
func (it Item) DueTime() (t time.Time, ok bool) {
	return ParseDue(it.Due)
}

// dueLayouts are tried in order. All results are treated as naive local time.
var dueLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDue parses a naive local timestamp. Inputs that carry a timezone
// offset (RFC 3339) are accepted, but the offset is stripped: the wall-clock
// components are reinterpreted in local time. That precision loss is the
// documented contract, not an error.
func ParseDue(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return stripOffset(t), true
	}
	return time.Time{}, false
}

func stripOffset(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}

// FormatDue renders a parsed due time the way messages show it
// (12-hour clock, matching the bot's notification wording).
func FormatDue(t time.Time) string {
	return t.Format("2006-01-02 03:04 PM")
}

// FormatDueRaw is FormatDue over the raw string, passing the input through
// unchanged when it does not parse.
func FormatDueRaw(raw string) string {
	if t, ok := ParseDue(raw); ok {
		return FormatDue(t)
	}
	return raw
}

// Normalize clamps and defaults free-form fields before storage.
func (it Item) Normalize() Item {
	out := it
	out.Name = strings.TrimSpace(out.Name)
	if len(out.Name) > MaxNameLen {
		out.Name = out.Name[:MaxNameLen]
	}
	if out.Kind != KindTask && out.Kind != KindEvent {
		out.Kind = KindEvent
	}
	if out.Status != StatusPending && out.Status != StatusCompleted {
		out.Status = StatusPending
	}
	switch out.Repeat {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly:
	default:
		out.Repeat = RepeatNone
	}
	switch out.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		out.Priority = PriorityMedium
	}
	if strings.TrimSpace(out.Category) == "" {
		out.Category = "Misc"
	}
	if strings.TrimSpace(out.Color) == "" {
		out.Color = "#3399ff"
	}
	out.Mention = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out.Mention), "@"))
	return out
}
