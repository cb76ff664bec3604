// Package calendar is the view model of the calendar: it owns the displayed
// date and mode, drives the column window and the now line, and assembles
// everything a renderer needs into a Snapshot.
package calendar

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"taskcal/internal/bus"
	"taskcal/internal/config"
	"taskcal/internal/frame"
	"taskcal/internal/layout"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/nowline"
	"taskcal/internal/window"
)

type Mode string

const (
	ModeDay    Mode = "day"
	ModeWeek   Mode = "week"
	ModeAgenda Mode = "agenda"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDay:
		return ModeDay, true
	case ModeWeek:
		return ModeWeek, true
	case ModeAgenda:
		return ModeAgenda, true
	}
	return "", false
}

// ResponsiveMode picks the mode and slot size for a window width.
func ResponsiveMode(width float64) (Mode, int) {
	switch {
	case width < 640:
		return ModeAgenda, 60
	case width < 1024:
		return ModeDay, 30
	default:
		return ModeWeek, 30
	}
}

// EventSource provides the current events; the optimistic coordinator is
// the production implementation.
type EventSource interface {
	Events() []model.CalendarEvent
}

type Options struct {
	Metrics     window.Metrics
	Grid        layout.Grid
	HourHeight  float64
	StepMinutes int
	AgendaDays  int
	Mode        Mode
	Location    *time.Location
}

// OptionsFrom maps the calendar block of the config.
func OptionsFrom(cfg *config.Config) Options {
	c := cfg.Calendar
	mode, ok := ParseMode(c.DefaultView)
	if !ok {
		mode = ModeWeek
	}
	return Options{
		Metrics: window.Metrics{
			DayColumnWidth: c.DayColumnWidth,
			GutterWidth:    c.GutterWidth,
			Buffer:         c.BufferDays,
			PageDays:       c.PageDays,
			HorizonDays:    c.HorizonDays,
		},
		Grid:        layout.GridFromMinutes(c.DayStartMinutes, c.DayEndMinutes),
		HourHeight:  float64(c.HourHeight),
		StepMinutes: c.StepMinutes,
		AgendaDays:  c.AgendaDays,
		Mode:        mode,
		Location:    cfg.Location(),
	}
}

// View is one calendar view instance.
type View struct {
	mu   sync.Mutex
	opts Options
	now  func() time.Time

	mode Mode
	date time.Time
	step int

	src  EventSource
	bus  *bus.Bus
	win  *window.Manager
	line *nowline.Engine

	viewport float64
	unsub    []func()
}

// New creates a view showing today. loop may be nil for synchronous window
// recomputation, b may be nil when nothing else listens.
func New(opts Options, src EventSource, b *bus.Bus, loop *frame.Loop, now func() time.Time) *View {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if now == nil {
		now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = ModeWeek
	}
	if opts.AgendaDays <= 0 {
		opts.AgendaDays = 30
	}
	if opts.Grid.DayEnd <= opts.Grid.DayStart {
		opts.Grid = layout.FullDay()
	}
	if opts.StepMinutes <= 0 {
		opts.StepMinutes = 30
	}

	today := now().In(opts.Location)
	v := &View{
		opts: opts,
		now:  now,
		mode: opts.Mode,
		date: today,
		step: opts.StepMinutes,
		src:  src,
		bus:  b,
		win:  window.NewManager(opts.Metrics, today, loop, b),
	}
	m := v.win.Metrics()
	v.viewport = float64(m.GutterWidth + 7*m.DayColumnWidth)
	v.line = v.newLine()

	if b != nil {
		v.unsub = append(v.unsub,
			b.Subscribe(bus.Navigate, v.onNavigate),
			b.Subscribe(bus.SetView, v.onSetView),
			b.Subscribe(bus.Goto, v.onGoto),
		)
	}
	return v
}

// newLine builds a now line engine mounted on the current viewport.
func (v *View) newLine() *nowline.Engine {
	e := nowline.NewEngine(nowline.Config{
		StepMinutes: v.step,
		HourHeight:  v.opts.HourHeight,
		GutterWidth: float64(v.opts.Metrics.GutterWidth),
		DayStart:    v.opts.Grid.DayStart,
		DayEnd:      v.opts.Grid.DayEnd,
	}, v.opts.Location, v.now)
	e.Mount(v.viewport)
	return e
}

// Close detaches the view from the bus.
func (v *View) Close() {
	v.mu.Lock()
	unsub := v.unsub
	v.unsub = nil
	v.mu.Unlock()
	for _, u := range unsub {
		u()
	}
}

func (v *View) onNavigate(e bus.Event) {
	switch a := e.Payload.(type) {
	case bus.NavigateAction:
		v.Navigate(a)
	case string:
		v.Navigate(bus.NavigateAction(strings.ToUpper(a)))
	}
}

func (v *View) onSetView(e bus.Event) {
	var name string
	switch m := e.Payload.(type) {
	case Mode:
		name = string(m)
	case string:
		name = m
	}
	if mode, ok := ParseMode(name); ok {
		v.SetMode(mode)
	}
}

func (v *View) onGoto(e bus.Event) {
	switch t := e.Payload.(type) {
	case time.Time:
		v.Goto(t)
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			v.Goto(parsed)
		} else if parsed, err := time.ParseInLocation(time.DateOnly, t, v.opts.Location); err == nil {
			v.Goto(parsed)
		} else {
			appLog.Warn("ignoring goto with unparseable date", "value", t)
		}
	}
}

// Navigate moves by one day in day mode and one week otherwise. TODAY jumps
// to now. The window restarts at its first page.
func (v *View) Navigate(action bus.NavigateAction) time.Time {
	v.mu.Lock()
	var next time.Time
	switch action {
	case bus.NavToday:
		next = v.now().In(v.opts.Location)
	case bus.NavNext, bus.NavPrev:
		n := 1
		if action == bus.NavPrev {
			n = -1
		}
		if v.mode == ModeDay {
			next = v.date.AddDate(0, 0, n)
		} else {
			next = v.date.AddDate(0, 0, 7*n)
		}
	default:
		v.mu.Unlock()
		appLog.Warn("unknown navigate action", "action", action)
		return v.Date()
	}
	v.date = next
	v.mu.Unlock()

	v.win.Navigate(next)
	appLog.Debug("calendar navigated", "action", action, "date", next)
	return next
}

// Goto shows the week (or day) containing t. The window manager announces
// the new week, if any.
func (v *View) Goto(t time.Time) {
	t = t.In(v.opts.Location)
	v.mu.Lock()
	v.date = t
	v.mu.Unlock()
	v.win.SetDate(t)
}

func (v *View) SetMode(m Mode) {
	v.mu.Lock()
	changed := v.mode != m
	v.mode = m
	v.mu.Unlock()
	if changed {
		appLog.Debug("calendar mode changed", "mode", m)
	}
	v.publish(bus.ViewUpdated, string(m))
}

// Adapt applies ResponsiveMode for a window width.
func (v *View) Adapt(windowWidth float64) Mode {
	mode, step := ResponsiveMode(windowWidth)
	v.mu.Lock()
	stepChanged := v.step != step
	v.step = step
	if stepChanged {
		v.line = v.newLine()
	}
	v.mu.Unlock()
	v.SetMode(mode)
	return mode
}

// Viewport feeds scroll and size of the grid body. Scrolling the body moves
// the header by the same offset.
func (v *View) Viewport(scrollLeft, scrollTop, width float64) {
	v.win.Resize(width)
	v.win.Scroll(scrollLeft)

	v.mu.Lock()
	v.viewport = width
	line := v.line
	v.mu.Unlock()
	line.Resize(width)
	line.Scroll(v.win.ScrollLeft(), scrollTop)
}

// Tick recomputes the now line.
func (v *View) Tick() nowline.Indicator {
	v.mu.Lock()
	line := v.line
	v.mu.Unlock()
	return line.Tick()
}

func (v *View) Mode() Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

func (v *View) Date() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.date
}

func (v *View) Window() *window.Manager { return v.win }

func (v *View) publish(sig bus.Signal, payload any) {
	if v.bus != nil {
		v.bus.Publish(sig, payload)
	}
}

// Title is the center label of the topbar for the current mode.
func (v *View) Title() string {
	v.mu.Lock()
	mode, date := v.mode, v.date
	v.mu.Unlock()
	if mode == ModeDay {
		return DayTitle(date)
	}
	return Title(date)
}

// VisibleRange is the span whose events are shown: the column window in
// week mode, the day in day mode and AgendaDays from the date in agenda.
func (v *View) VisibleRange() (from, to time.Time) {
	v.mu.Lock()
	mode, date := v.mode, v.date
	v.mu.Unlock()

	day := midnight(date)
	switch mode {
	case ModeDay:
		return day, day.AddDate(0, 0, 1)
	case ModeAgenda:
		return day, day.AddDate(0, 0, v.opts.AgendaDays)
	default:
		return v.win.Range()
	}
}

// VisibleEvents filters the source to VisibleRange.
func (v *View) VisibleEvents() []model.CalendarEvent {
	if v.src == nil {
		return nil
	}
	from, to := v.VisibleRange()
	var out []model.CalendarEvent
	for _, e := range v.src.Events() {
		if e.Intersects(from, to) {
			out = append(out, e)
		}
	}
	return out
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Column is one rendered day.
type Column struct {
	Date       time.Time          `json:"date"`
	Label      string             `json:"label"`
	Today      bool               `json:"today"`
	Placements []layout.Placement `json:"placements"`
}

type AgendaItem struct {
	Event model.CalendarEvent `json:"event"`
	Time  string              `json:"time"`
}

type AgendaDay struct {
	Date  time.Time    `json:"date"`
	Label string       `json:"label"`
	Items []AgendaItem `json:"items"`
}

// HourLabel is one gutter row.
type HourLabel struct {
	Hour int    `json:"hour"`
	Text string `json:"text"`
}

// Snapshot is the complete render model.
type Snapshot struct {
	Mode        Mode               `json:"mode"`
	Date        time.Time          `json:"date"`
	Title       string             `json:"title"`
	WeekLabel   string             `json:"week_label"`
	MonthLabel  string             `json:"month_label"`
	Window      window.State       `json:"window"`
	Metrics     window.Metrics     `json:"metrics"`
	HourHeight  float64            `json:"hour_height"`
	StepMinutes int                `json:"step_minutes"`
	Hours       []HourLabel        `json:"hours"`
	SubLabels   []nowline.SubLabel `json:"sub_labels,omitempty"`
	Columns     []Column           `json:"columns,omitempty"`
	Agenda      []AgendaDay        `json:"agenda,omitempty"`
	Indicator   nowline.Indicator  `json:"indicator"`
	Events      int                `json:"events"`
}

// Snapshot assembles the render model from the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	mode, date, step, line := v.mode, v.date, v.step, v.line
	v.mu.Unlock()

	now := v.now().In(v.opts.Location)
	st := v.win.State()
	events := v.VisibleEvents()

	fromHour := int(v.opts.Grid.DayStart.Hours())
	toHour := int(math.Ceil(v.opts.Grid.DayEnd.Hours()))

	weekOf := date
	if mode == ModeWeek && !st.VisibleWeek.IsZero() {
		weekOf = st.VisibleWeek
	}
	snap := Snapshot{
		Mode:        mode,
		Date:        date,
		Title:       v.Title(),
		WeekLabel:   WeekLabel(weekOf),
		MonthLabel:  MonthLabel(date),
		Window:      st,
		Metrics:     v.win.Metrics(),
		HourHeight:  v.opts.HourHeight,
		StepMinutes: step,
		Indicator:   line.Indicator(),
		Events:      len(events),
	}
	for h := fromHour; h < toHour; h++ {
		snap.Hours = append(snap.Hours, HourLabel{Hour: h, Text: fmt.Sprintf("%02d:00", h)})
	}
	if step < 60 {
		snap.SubLabels = nowline.SubLabels(fromHour, toHour, nowline.SlotsPerHour(0, step), now)
	}

	switch mode {
	case ModeAgenda:
		snap.Agenda = agenda(events, midnight(date), v.opts.AgendaDays)
	case ModeDay:
		snap.Columns = columns([]time.Time{midnight(date)}, events, v.opts.Grid, now)
	default:
		snap.Columns = columns(st.Window.Days(), events, v.opts.Grid, now)
	}
	return snap
}

func columns(days []time.Time, events []model.CalendarEvent, g layout.Grid, now time.Time) []Column {
	per := layout.LayoutDays(days, events, g)
	today := midnight(now)
	out := make([]Column, len(days))
	for i, d := range days {
		out[i] = Column{
			Date:       d,
			Label:      d.Format("Mon 02"),
			Today:      d.Equal(today),
			Placements: per[i],
		}
	}
	return out
}

func agenda(events []model.CalendarEvent, from time.Time, days int) []AgendaDay {
	var out []AgendaDay
	for i := 0; i < days; i++ {
		d := from.AddDate(0, 0, i)
		end := d.AddDate(0, 0, 1)
		var items []AgendaItem
		for _, e := range events {
			if e.Intersects(d, end) {
				items = append(items, AgendaItem{Event: e, Time: TimeRange(e.Start.In(d.Location()), e.End.In(d.Location()))})
			}
		}
		if len(items) == 0 {
			continue
		}
		sortItems(items)
		out = append(out, AgendaDay{Date: d, Label: d.Format("Mon Jan 02"), Items: items})
	}
	return out
}

func sortItems(items []AgendaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Event.Start.Before(items[j].Event.Start)
	})
}
