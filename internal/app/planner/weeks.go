package planner

import "time"

// isoWeek is one enumerated ISO-8601 (year, week) pair.
type isoWeek struct {
	Year int
	Week int
}

// enumerateISOWeeks returns every ISO week whose Monday-Sunday span
// intersects the inclusive [from, to] range, in chronological order with no
// duplicates. It walks forward seven days at a time from the range start;
// stepping a full week advances exactly one ISO week, so the walk covers
// every intersecting week except possibly the one holding the range end,
// which is appended when the walk stops short of it.
func enumerateISOWeeks(from, to time.Time) []isoWeek {
	from = truncateToDate(from)
	to = truncateToDate(to)

	var weeks []isoWeek
	for cur := from; !cur.After(to); cur = cur.AddDate(0, 0, 7) {
		y, w := cur.ISOWeek()
		weeks = append(weeks, isoWeek{Year: y, Week: w})
	}

	if !from.After(to) {
		y, w := to.ISOWeek()
		last := isoWeek{Year: y, Week: w}
		if len(weeks) == 0 || weeks[len(weeks)-1] != last {
			weeks = append(weeks, last)
		}
	}

	return weeks
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
