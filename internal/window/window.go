// Package window tracks which day columns of the week grid are materialized.
// The grid is a long logical timeline starting at the Monday of the displayed
// week; only a buffered slice around the visible columns is ever rendered.
package window

import (
	"math"
	"time"
)

// Metrics are the pixel and day constants the window math depends on.
type Metrics struct {
	DayColumnWidth int
	GutterWidth    int
	// Buffer is the number of extra columns kept on each side.
	Buffer int
	// PageDays is the window size right after the anchor week changes.
	PageDays int
	// HorizonDays is the length of the logical timeline.
	HorizonDays int
}

// DefaultMetrics matches the stock grid styling.
func DefaultMetrics() Metrics {
	return Metrics{
		DayColumnWidth: 140,
		GutterWidth:    80,
		Buffer:         7,
		PageDays:       14,
		HorizonDays:    730,
	}
}

func (m Metrics) normalized() Metrics {
	d := DefaultMetrics()
	if m.DayColumnWidth <= 0 {
		m.DayColumnWidth = d.DayColumnWidth
	}
	if m.GutterWidth < 0 {
		m.GutterWidth = 0
	}
	if m.Buffer < 0 {
		m.Buffer = 0
	}
	if m.PageDays <= 0 {
		m.PageDays = d.PageDays
	}
	if m.HorizonDays <= 0 {
		m.HorizonDays = d.HorizonDays
	}
	return m
}

// Window is a contiguous range of day offsets from Anchor, inclusive.
// Invariant: End >= Start >= 0.
type Window struct {
	Start  int       `json:"start"`
	End    int       `json:"end"`
	Anchor time.Time `json:"anchor"`
}

// Len is the number of columns in the window.
func (w Window) Len() int {
	return w.End - w.Start + 1
}

// Day returns local midnight of the column at offset idx.
func (w Window) Day(idx int) time.Time {
	return w.Anchor.AddDate(0, 0, idx)
}

// Days lists the dates of every column in the window.
func (w Window) Days() []time.Time {
	out := make([]time.Time, 0, w.Len())
	for i := w.Start; i <= w.End; i++ {
		out = append(out, w.Day(i))
	}
	return out
}

// Range returns the half-open instant range [from, to) covered by the window.
func (w Window) Range() (from, to time.Time) {
	return w.Day(w.Start), w.Day(w.End + 1)
}

// WeekStart returns Monday 00:00 of t's week in t's location.
func WeekStart(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// FirstPage is the window installed when the anchor changes.
func FirstPage(anchor time.Time, m Metrics) Window {
	m = m.normalized()
	return Window{Start: 0, End: m.PageDays - 1, Anchor: anchor}
}

// ColumnAt maps a horizontal pixel offset (gutter included) to a day index.
func ColumnAt(x float64, m Metrics) int {
	m = m.normalized()
	x = math.Max(0, x-float64(m.GutterWidth))
	return int(math.Floor(x / math.Max(1, float64(m.DayColumnWidth))))
}

// VisibleColumns returns the first and last day indices intersecting the
// viewport.
func VisibleColumns(scrollLeft, viewportWidth float64, m Metrics) (col0, col1 int) {
	if viewportWidth < 0 {
		viewportWidth = 0
	}
	return ColumnAt(scrollLeft, m), ColumnAt(scrollLeft+viewportWidth, m)
}

// Compute expands the visible columns by the buffer on both sides.
func Compute(scrollLeft, viewportWidth float64, m Metrics) (start, end int) {
	m = m.normalized()
	col0, col1 := VisibleColumns(scrollLeft, viewportWidth, m)
	start = max(0, col0-m.Buffer)
	end = max(col1+m.Buffer, col0+m.Buffer)
	return start, end
}

// MaxScrollLeft is the largest scroll offset that keeps the viewport inside
// the logical timeline.
func MaxScrollLeft(viewportWidth float64, m Metrics) float64 {
	m = m.normalized()
	content := float64(m.HorizonDays*m.DayColumnWidth + m.GutterWidth)
	return math.Max(0, content-viewportWidth)
}

// Clamp bounds left to [0, MaxScrollLeft]. NaN becomes 0.
func Clamp(left, viewportWidth float64, m Metrics) float64 {
	if math.IsNaN(left) || left < 0 {
		return 0
	}
	return math.Min(left, MaxScrollLeft(viewportWidth, m))
}
