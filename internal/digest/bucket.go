package digest

import (
	"time"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
)

// upcomingDays is the forward horizon of the "upcoming" bucket.
const upcomingDays = 7

// Buckets partitions pending items by urgency. The partition is exhaustive
// and exclusive: every pending input lands in exactly one slice.
type Buckets struct {
	Overdue  []item.Item
	DueToday []item.Item
	Upcoming []item.Item
	Other    []item.Item
}

func (b Buckets) TotalPending() int {
	return len(b.Overdue) + len(b.DueToday) + len(b.Upcoming) + len(b.Other)
}

// Bucket partitions pending items by due date relative to now:
// overdue (date before today), due today, upcoming (1..7 days out), and
// other (further out). Items whose due date does not parse fail open into
// Other: they must stay visible, never silently dropped. Non-pending items
// are ignored.
func Bucket(items []item.Item, now time.Time) Buckets {
	var b Buckets
	today := dateOf(now)
	horizon := today.AddDate(0, 0, upcomingDays)

	for _, it := range items {
		if !it.Pending() {
			continue
		}
		due, ok := it.DueTime()
		if !ok {
			b.Other = append(b.Other, it)
			continue
		}
		d := dateOf(due)
		switch {
		case d.Before(today):
			b.Overdue = append(b.Overdue, it)
		case d.Equal(today):
			b.DueToday = append(b.DueToday, it)
		case !d.After(horizon):
			b.Upcoming = append(b.Upcoming, it)
		default:
			b.Other = append(b.Other, it)
		}
	}
	return b
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
