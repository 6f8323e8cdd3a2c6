package item

import (
	"fmt"
	"time"
)

// maxOccurrences is a hard safety cap per expansion, regardless of window
// size, so a malformed repeat config or pathological window can never loop
// unbounded.
const maxOccurrences = 100

// Default expansion window relative to "now" when the caller gives no bounds.
const (
	defaultWindowBack    = 180 * 24 * time.Hour
	defaultWindowForward = 730 * 24 * time.Hour
)

// Window bounds an expansion, inclusive on both ends.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow is 180 days back to 730 days forward of now.
func DefaultWindow(now time.Time) Window {
	return Window{Start: now.Add(-defaultWindowBack), End: now.Add(defaultWindowForward)}
}

// WindowOrDefault fills whichever bound is missing from the default window.
func WindowOrDefault(start, end *time.Time, now time.Time) Window {
	w := DefaultWindow(now)
	if start != nil {
		w.Start = *start
	}
	if end != nil {
		w.End = *end
	}
	return w
}

// Occurrence is one concrete dated instance derived from a (possibly
// recurring) item. It is ephemeral: produced per expansion call, never
// persisted.
type Occurrence struct {
	Item  Item
	Index int       // 0 for the original due date, 1.. for repetitions
	At    time.Time // zero when the item's due date failed to parse
}

// ID is the source item's id for the first occurrence and a composite for
// repetitions. Composite ids never collide with real item ids (store ids are
// numeric).
func (o Occurrence) ID() string {
	if o.Index == 0 {
		return o.Item.ID
	}
	return fmt.Sprintf("%s_recur_%d", o.Item.ID, o.Index)
}

// Degraded reports that the occurrence carries an unparseable due date and
// only exists so the item stays visible in calendar views.
func (o Occurrence) Degraded() bool { return o.At.IsZero() }

// Expand turns one item into its concrete occurrences inside w.
//
// Pure function of its inputs. Occurrences are strictly increasing in At and
// the first one equals the item's own due date. A non-repeating item yields
// exactly one occurrence when its due date falls inside the window, zero
// otherwise. An unparseable due date yields a single degraded occurrence
// rather than an error, so a bad date never removes an item from view.
func Expand(it Item, w Window) []Occurrence {
	due, ok := it.DueTime()
	if !ok {
		return []Occurrence{{Item: it, Index: 0}}
	}

	if it.Repeat == RepeatNone || it.Repeat == "" {
		if due.Before(w.Start) || due.After(w.End) {
			return nil
		}
		return []Occurrence{{Item: it, Index: 0, At: due}}
	}

	var out []Occurrence
	// Every occurrence derives from the base due date, never from the
	// previous occurrence: a month-end clamp (Jan 31 -> Feb 28) applies to
	// that month only, so March lands back on the 31st. Stepping continues
	// past the window start to reach it; Index counts steps from the
	// original due date, emitted or not.
	for idx := 0; idx < maxOccurrences; idx++ {
		cur, ok := nthOccurrence(due, it.Repeat, idx)
		if !ok || cur.After(w.End) {
			break
		}
		if !cur.Before(w.Start) {
			out = append(out, Occurrence{Item: it, Index: idx, At: cur})
		}
	}
	return out
}

func nthOccurrence(due time.Time, r Repeat, idx int) (time.Time, bool) {
	switch r {
	case RepeatDaily:
		return due.AddDate(0, 0, idx), true
	case RepeatWeekly:
		return due.AddDate(0, 0, 7*idx), true
	case RepeatMonthly:
		return addMonthClamped(due, idx), true
	default:
		return due, false
	}
}

// addMonthClamped steps by calendar months without overflowing into the
// following month: Jan 31 + 1 month is Feb 28 (29 in leap years), never
// Mar 2/3. time.AddDate normalizes overflow, so the day is clamped to the
// target month's length instead.
func addMonthClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
