package remind

import (
	"fmt"
	"time"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
)

const (
	// DefaultLead is how long before the due time a reminder fires.
	DefaultLead = 30 * time.Minute
	// DefaultLookahead is the rolling planning horizon. Items due further
	// out are picked up by a later reconcile pass.
	DefaultLookahead = 30 * 24 * time.Hour
)

// Reminder is one planned fire: a deterministic job id, a fire time and the
// message text rendered at planning time.
type Reminder struct {
	JobID  string
	ItemID string
	FireAt time.Time
	Text   string
}

// JobID derives the job identity from (item id, fire time). Re-deriving the
// same pair always yields the same id; reconcile idempotency rests on that.
func JobID(itemID string, fireAt time.Time) string {
	return fmt.Sprintf("reminder:%s:%d", itemID, fireAt.Unix())
}

// Plan computes the reminders that should have an active timer right now.
//
// For each pending item with a parseable due date, fire time is due minus
// lead; the reminder is included iff now <= fire <= now+lookahead. Items that
// are completed, unparseable or outside the window are skipped without error:
// planning is best-effort over the whole set and one bad item never aborts
// the batch. Pure function of its inputs.
func Plan(items []item.Item, now time.Time, lead, lookahead time.Duration, res Resolver) []Reminder {
	if lead <= 0 {
		lead = DefaultLead
	}
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	horizon := now.Add(lookahead)

	var out []Reminder
	for _, it := range items {
		if !it.Pending() {
			continue
		}
		due, ok := it.DueTime()
		if !ok {
			continue
		}
		fireAt := due.Add(-lead)
		if fireAt.Before(now) || fireAt.After(horizon) {
			continue
		}
		out = append(out, Reminder{
			JobID:  JobID(it.ID, fireAt),
			ItemID: it.ID,
			FireAt: fireAt,
			Text:   RenderReminder(it, res),
		})
	}
	return out
}

// RenderReminder formats the reminder message from the item's fields.
// Deterministic; called once at planning time, so later edits to an item do
// not rewrite an already-queued message.
func RenderReminder(it item.Item, res Resolver) string {
	mention := ""
	if res != nil {
		mention = res.Resolve(it.Mention)
	}
	sep := ""
	if mention != "" {
		sep = " "
	}
	notes := it.Notes
	if notes == "" {
		notes = "No notes"
	}
	return fmt.Sprintf("⏰ Reminder: %s '%s' due at %s%s%s\nPriority: %s\nNotes: %s",
		kindTitle(it.Kind), it.Name, item.FormatDueRaw(it.Due), sep, mention, it.Priority, notes)
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
