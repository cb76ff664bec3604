package window

import (
	"sync"
	"time"

	"taskcal/internal/bus"
	"taskcal/internal/frame"
	appLog "taskcal/internal/log"
)

const frameKey = "window:recompute"

// State is a consistent read of the manager.
type State struct {
	Window        Window    `json:"window"`
	ScrollLeft    float64   `json:"scroll_left"`
	ViewportWidth float64   `json:"viewport_width"`
	VisibleWeek   time.Time `json:"visible_week"`
	// HeaderWidth is the width of the header day row, which mirrors the body.
	HeaderWidth float64 `json:"header_width"`
}

// Manager owns the column window of one calendar view. Scroll and resize
// inputs are recorded immediately and recomputed once per frame.
type Manager struct {
	mu sync.Mutex

	metrics Metrics
	loop    *frame.Loop
	bus     *bus.Bus

	win        Window
	scrollLeft float64
	viewport   float64
	announced  time.Time
}

// NewManager creates a manager anchored at the week of date. A nil loop
// recomputes synchronously; a nil bus disables week notifications.
func NewManager(m Metrics, date time.Time, loop *frame.Loop, b *bus.Bus) *Manager {
	m = m.normalized()
	anchor := WeekStart(date)
	return &Manager{
		metrics: m,
		loop:    loop,
		bus:     b,
		win:     FirstPage(anchor, m),
	}
}

func (mg *Manager) Metrics() Metrics {
	return mg.metrics
}

// SetDate re-anchors on the Monday of d. When the anchor week changes the
// window resets to the first page and the scroll offset to zero. It reports
// whether the anchor moved.
func (mg *Manager) SetDate(d time.Time) bool {
	mg.mu.Lock()
	anchor := WeekStart(d)
	changed := !anchor.Equal(mg.win.Anchor)
	if changed {
		mg.win = FirstPage(anchor, mg.metrics)
		mg.scrollLeft = 0
		appLog.Debug("column window reanchored", "anchor", anchor)
	}
	week, announce := mg.noteWeekLocked()
	mg.mu.Unlock()

	mg.announce(week, announce)
	return changed
}

// Navigate is an explicit jump (prev/today/next). The first page of the new
// period is shown from scroll offset zero even when the week is unchanged.
func (mg *Manager) Navigate(d time.Time) {
	mg.mu.Lock()
	mg.win = FirstPage(WeekStart(d), mg.metrics)
	mg.scrollLeft = 0
	week, announce := mg.noteWeekLocked()
	mg.mu.Unlock()

	mg.announce(week, announce)
}

// Scroll records a new horizontal body offset.
func (mg *Manager) Scroll(left float64) {
	mg.mu.Lock()
	mg.scrollLeft = Clamp(left, mg.viewport, mg.metrics)
	mg.mu.Unlock()
	mg.schedule()
}

// Resize records a new viewport width.
func (mg *Manager) Resize(width float64) {
	if width < 0 {
		width = 0
	}
	mg.mu.Lock()
	mg.viewport = width
	mg.scrollLeft = Clamp(mg.scrollLeft, width, mg.metrics)
	mg.mu.Unlock()
	mg.schedule()
}

func (mg *Manager) schedule() {
	if mg.loop == nil {
		mg.recompute()
		return
	}
	mg.loop.Request(frameKey, mg.recompute)
}

// recompute derives the window from the latest scroll input and announces
// the leftmost visible week when it changed.
func (mg *Manager) recompute() {
	mg.mu.Lock()
	start, end := Compute(mg.scrollLeft, mg.viewport, mg.metrics)
	mg.win.Start, mg.win.End = start, end
	week, announce := mg.noteWeekLocked()
	mg.mu.Unlock()

	mg.announce(week, announce)
}

// noteWeekLocked records the week of the leftmost visible column and reports
// whether it differs from the last announced one.
func (mg *Manager) noteWeekLocked() (time.Time, bool) {
	leftmost := mg.win.Day(ColumnAt(mg.scrollLeft, mg.metrics))
	week := WeekStart(leftmost)
	if week.Equal(mg.announced) {
		return week, false
	}
	mg.announced = week
	return week, true
}

func (mg *Manager) announce(week time.Time, changed bool) {
	if changed && mg.bus != nil {
		mg.bus.Publish(bus.DateUpdated, week)
	}
}

// Window returns the current window.
func (mg *Manager) Window() Window {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.win
}

// Range returns the instants covered by the current window.
func (mg *Manager) Range() (from, to time.Time) {
	return mg.Window().Range()
}

func (mg *Manager) ScrollLeft() float64 {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.scrollLeft
}

// State returns a snapshot of every field.
func (mg *Manager) State() State {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return State{
		Window:        mg.win,
		ScrollLeft:    mg.scrollLeft,
		ViewportWidth: mg.viewport,
		VisibleWeek:   mg.announced,
		HeaderWidth:   float64(mg.win.Len() * mg.metrics.DayColumnWidth),
	}
}
