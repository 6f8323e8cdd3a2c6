package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
)

// sectionCap is a presentation limit only; bucketing itself never truncates.
const sectionCap = 5

// Compose renders the daily digest text from bucketed items. Pure
// formatting: deterministic for identical inputs, no I/O.
//
// Layout follows the bot's daily update message: overdue, due-today and
// upcoming sections capped at five lines each with an overflow note, then
// summary counts. Items beyond the 7-day horizon (and items with unparseable
// dates) are not listed but are surfaced in the summary.
func Compose(b Buckets, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("📋 Daily Update - Tasks & Events\n")
	fmt.Fprintf(&sb, "Daily summary for %s\n", now.Format("Monday, January 2, 2006"))

	writeSection(&sb, "⚠️ OVERDUE", "🔴", b.Overdue, true)
	writeSection(&sb, "📅 DUE TODAY", "🟡", b.DueToday, false)
	writeSection(&sb, "📈 UPCOMING (Next 7 Days)", "🟢", b.Upcoming, true)

	sb.WriteString("\n📊 Summary\n")
	fmt.Fprintf(&sb, "Total Pending: %d\n", b.TotalPending())
	fmt.Fprintf(&sb, "Overdue: %d\n", len(b.Overdue))
	fmt.Fprintf(&sb, "Due Today: %d\n", len(b.DueToday))
	if n := len(b.Other); n > 0 {
		fmt.Fprintf(&sb, "Further out: %d\n", n)
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title, marker string, items []item.Item, withDue bool) {
	if len(items) == 0 {
		return
	}
	sorted := make([]item.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Due < sorted[j].Due })

	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	shown := sorted
	if len(shown) > sectionCap {
		shown = shown[:sectionCap]
	}
	for _, it := range shown {
		if withDue {
			fmt.Fprintf(sb, "%s **%s** (ID: %s) - Due: %s - Priority: %s\n",
				marker, it.Name, it.ID, item.FormatDueRaw(it.Due), it.Priority)
		} else {
			fmt.Fprintf(sb, "%s **%s** (ID: %s) - Priority: %s\n",
				marker, it.Name, it.ID, it.Priority)
		}
	}
	if extra := len(sorted) - len(shown); extra > 0 {
		fmt.Fprintf(sb, "...and %d more\n", extra)
	}
}
