// Package layout places events of one day column into equal-width
// sub-columns so that no two events in the same sub-column overlap.
package layout

import (
	"sort"
	"time"

	"taskcal/internal/model"
)

// Grid is the visible time range of a day column, as offsets from midnight.
type Grid struct {
	DayStart time.Duration
	DayEnd   time.Duration
}

// FullDay shows midnight to midnight.
func FullDay() Grid {
	return Grid{DayStart: 0, DayEnd: 24 * time.Hour}
}

// GridFromMinutes builds a Grid from minute offsets, falling back to FullDay
// for an empty or inverted range.
func GridFromMinutes(start, end int) Grid {
	if start < 0 || end <= start || end > 24*60 {
		return FullDay()
	}
	return Grid{DayStart: time.Duration(start) * time.Minute, DayEnd: time.Duration(end) * time.Minute}
}

// Bounds returns the instants the grid covers on day. Offsets are wall
// clock, so on DST days the range is 23 or 25 hours long and a 24h end is
// the next midnight.
func (g Grid) Bounds(day time.Time) (from, to time.Time) {
	return wallClock(day, g.DayStart), wallClock(day, g.DayEnd)
}

func wallClock(day time.Time, offset time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, int(offset/time.Second), 0, day.Location())
}

// Percent maps t onto [0, 100] of the grid range on day.
func (g Grid) Percent(day, t time.Time) float64 {
	from, to := g.Bounds(day)
	total := to.Sub(from)
	if total <= 0 {
		return 0
	}
	p := float64(t.Sub(from)) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Placement is the rendered geometry of one event in one day column.
// All values are percentages of the column.
type Placement struct {
	Event   model.CalendarEvent `json:"event"`
	Day     time.Time           `json:"day"`
	Top     float64             `json:"top"`
	Height  float64             `json:"height"`
	Width   float64             `json:"width"`
	XOffset float64             `json:"x_offset"`
	Column  int                 `json:"column"`
	Columns int                 `json:"columns"`
	Cluster int                 `json:"cluster"`
}

// span is an interval with the index of the event it came from.
type span struct {
	start, end time.Time
	id         string
	idx        int
}

func sortSpans(sp []span) {
	sort.SliceStable(sp, func(i, j int) bool {
		a, b := sp[i], sp[j]
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if !a.end.Equal(b.end) {
			return a.end.After(b.end)
		}
		return a.id < b.id
	})
}

// clusterSpans groups start-sorted spans connected by chains of overlaps.
func clusterSpans(sp []span) [][]span {
	if len(sp) == 0 {
		return nil
	}
	var out [][]span
	cur := []span{sp[0]}
	curEnd := sp[0].end
	for _, s := range sp[1:] {
		// Sorted by start, so s overlaps something in cur iff it starts
		// before the furthest end seen so far.
		if s.start.Before(curEnd) {
			cur = append(cur, s)
			if s.end.After(curEnd) {
				curEnd = s.end
			}
			continue
		}
		out = append(out, cur)
		cur = []span{s}
		curEnd = s.end
	}
	return append(out, cur)
}

// assignSpans puts each span of a cluster into the first column whose last
// span ended by the time it starts.
func assignSpans(cluster []span) ([]int, int) {
	cols := make([]int, len(cluster))
	var lastEnd []time.Time
	for i, s := range cluster {
		placed := false
		for c, end := range lastEnd {
			if !end.After(s.start) {
				cols[i] = c
				lastEnd[c] = s.end
				placed = true
				break
			}
		}
		if !placed {
			cols[i] = len(lastEnd)
			lastEnd = append(lastEnd, s.end)
		}
	}
	return cols, len(lastEnd)
}

func spansOf(events []model.CalendarEvent) []span {
	sp := make([]span, len(events))
	for i, ev := range events {
		sp[i] = span{start: ev.Start, end: ev.End, id: ev.ID, idx: i}
	}
	sortSpans(sp)
	return sp
}

// Clusters partitions events into maximal groups connected by chains of
// overlaps, each in start order. The input is not modified.
func Clusters(events []model.CalendarEvent) [][]model.CalendarEvent {
	var out [][]model.CalendarEvent
	for _, cl := range clusterSpans(spansOf(events)) {
		group := make([]model.CalendarEvent, len(cl))
		for i, s := range cl {
			group[i] = events[s.idx]
		}
		out = append(out, group)
	}
	return out
}

// AssignColumns assigns columns within one start-sorted cluster and returns
// the column per event and the column count.
func AssignColumns(cluster []model.CalendarEvent) ([]int, int) {
	sp := make([]span, len(cluster))
	for i, ev := range cluster {
		sp[i] = span{start: ev.Start, end: ev.End, id: ev.ID, idx: i}
	}
	return assignSpans(sp)
}

// Layout positions the events intersecting day's grid range. Events are
// clipped to the grid before clustering, so an event spilling over midnight
// only competes for space with what is visible on that day.
func Layout(day time.Time, events []model.CalendarEvent, g Grid) []Placement {
	from, to := g.Bounds(day)

	sp := make([]span, 0, len(events))
	for i, ev := range events {
		if !ev.Intersects(from, to) {
			continue
		}
		s := span{start: ev.Start, end: ev.End, id: ev.ID, idx: i}
		if s.start.Before(from) {
			s.start = from
		}
		if s.end.After(to) {
			s.end = to
		}
		sp = append(sp, s)
	}
	sortSpans(sp)

	out := make([]Placement, 0, len(sp))
	for ci, cluster := range clusterSpans(sp) {
		cols, k := assignSpans(cluster)
		width := 100 / float64(k)
		for i, s := range cluster {
			top := g.Percent(day, s.start)
			out = append(out, Placement{
				Event:   events[s.idx],
				Day:     wallClock(day, 0),
				Top:     top,
				Height:  g.Percent(day, s.end) - top,
				Width:   width,
				XOffset: float64(cols[i]) * width,
				Column:  cols[i],
				Columns: k,
				Cluster: ci,
			})
		}
	}
	return out
}

// LayoutDays runs Layout for every day and returns placements per day.
func LayoutDays(days []time.Time, events []model.CalendarEvent, g Grid) [][]Placement {
	out := make([][]Placement, len(days))
	for i, d := range days {
		out[i] = Layout(d, events, g)
	}
	return out
}
