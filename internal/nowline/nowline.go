// Package nowline positions the "current time" line on the time grid. The
// line is snapped to the middle of the active slot and spans the visible
// grid area whatever the horizontal scroll offset.
package nowline

import (
	"fmt"
	"math"
	"sync"
	"time"

	appLog "taskcal/internal/log"
)

// SlotsPerHour returns the rendered slot count when known, else 60/step.
func SlotsPerHour(rendered, stepMinutes int) int {
	if rendered > 0 {
		return rendered
	}
	if stepMinutes <= 0 {
		stepMinutes = 60
	}
	return max(1, int(math.Round(60/float64(stepMinutes))))
}

// Snap describes the slot now falls in.
type Snap struct {
	MinutesPerSlot float64 `json:"minutes_per_slot"`
	Index          int     `json:"index"`
	NextIndex      int     `json:"next_index"`
	NextHour       int     `json:"next_hour"`
	// OffsetInHour is the slot center as a fraction of the hour.
	OffsetInHour float64 `json:"offset_in_hour"`
}

// SnapAt quantizes t (in its own location) to slotsPerHour slots.
func SnapAt(t time.Time, slotsPerHour int) Snap {
	if slotsPerHour < 1 {
		slotsPerHour = 1
	}
	mps := 60 / float64(slotsPerHour)
	idx := min(slotsPerHour-1, int(math.Floor(float64(t.Minute())/mps)))
	next := (idx + 1) % slotsPerHour
	nextHour := t.Hour()
	if next == 0 {
		nextHour = (nextHour + 1) % 24
	}
	return Snap{
		MinutesPerSlot: mps,
		Index:          idx,
		NextIndex:      next,
		NextHour:       nextHour,
		OffsetInHour:   (float64(idx) + 0.5) / float64(slotsPerHour),
	}
}

// Vertical returns the pixel offset of t from midnight:
// hour*hourHeight + ((slotIndex+0.5)/slotsPerHour)*hourHeight.
func Vertical(t time.Time, slotsPerHour int, hourHeight float64) float64 {
	s := SnapAt(t, slotsPerHour)
	return float64(t.Hour())*hourHeight + s.OffsetInHour*hourHeight
}

// Horizontal anchors the line to the visible grid: it starts after the
// gutter, spans the rest of the viewport and follows the scroll offset.
func Horizontal(viewportWidth, gutterWidth, scrollLeft float64) (left, width, translateX float64) {
	return gutterWidth, math.Max(0, viewportWidth-gutterWidth), scrollLeft
}

// SubLabel is one "HH:MM" gutter label.
type SubLabel struct {
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Text   string `json:"text"`
	// TopPercent is the label center within its hour row.
	TopPercent float64 `json:"top_percent"`
	Current    bool    `json:"current"`
}

// SubLabels lists per-slot labels for the hours [fromHour, toHour). Hourly
// grids get none. The label of the slot containing now is marked current.
func SubLabels(fromHour, toHour, slotsPerHour int, now time.Time) []SubLabel {
	if slotsPerHour <= 1 {
		return nil
	}
	mps := int(math.Round(60 / float64(slotsPerHour)))
	snap := SnapAt(now, slotsPerHour)
	out := make([]SubLabel, 0, (toHour-fromHour)*slotsPerHour)
	for h := fromHour; h < toHour; h++ {
		for i := 0; i < slotsPerHour; i++ {
			out = append(out, SubLabel{
				Hour:       h,
				Minute:     i * mps,
				Text:       fmt.Sprintf("%02d:%02d", h, i*mps),
				TopPercent: (float64(i) + 0.5) / float64(slotsPerHour) * 100,
				Current:    h == now.Hour() && i == snap.Index,
			})
		}
	}
	return out
}

// Config holds the grid metrics the engine needs. Rendered markup is not
// inspected; slot granularity comes from StepMinutes or RenderedSlots.
type Config struct {
	StepMinutes   int
	RenderedSlots int
	HourHeight    float64
	GutterWidth   float64
	DayStart      time.Duration
	DayEnd        time.Duration
}

// Indicator is the computed line geometry.
type Indicator struct {
	At           time.Time `json:"at"`
	Top          float64   `json:"top"`
	Left         float64   `json:"left"`
	Width        float64   `json:"width"`
	TranslateX   float64   `json:"translate_x"`
	SlotsPerHour int       `json:"slots_per_hour"`
	Snap         Snap      `json:"snap"`
	Label        string    `json:"label"`
	// Visible is false when now lies outside the grid's day range.
	Visible bool `json:"visible"`
}

// Engine recomputes the indicator on mount, resize, scroll and clock ticks.
type Engine struct {
	mu sync.Mutex

	cfg Config
	loc *time.Location
	now func() time.Time

	viewport   float64
	scrollLeft float64
	scrollTop  float64
	mounted    bool
	ind        Indicator
}

// NewEngine creates an engine; now defaults to time.Now.
func NewEngine(cfg Config, loc *time.Location, now func() time.Time) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	if cfg.HourHeight <= 0 {
		cfg.HourHeight = 48
	}
	if cfg.DayEnd <= cfg.DayStart {
		cfg.DayStart, cfg.DayEnd = 0, 24*time.Hour
	}
	return &Engine{cfg: cfg, loc: loc, now: now}
}

// Mount performs the first computation for a viewport.
func (e *Engine) Mount(viewportWidth float64) Indicator {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mounted = true
	e.viewport = viewportWidth
	return e.recomputeLocked()
}

// Unmount stops further recomputation until the next Mount.
func (e *Engine) Unmount() {
	e.mu.Lock()
	e.mounted = false
	e.mu.Unlock()
}

func (e *Engine) Resize(viewportWidth float64) Indicator {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewport = viewportWidth
	return e.recomputeLocked()
}

// Scroll re-anchors horizontally. The vertical position does not depend on
// scroll.
func (e *Engine) Scroll(left, top float64) Indicator {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scrollLeft = math.Max(0, left)
	e.scrollTop = math.Max(0, top)
	return e.recomputeLocked()
}

// Tick advances the line with the wall clock.
func (e *Engine) Tick() Indicator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recomputeLocked()
}

// Indicator returns the last computed geometry.
func (e *Engine) Indicator() Indicator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ind
}

func (e *Engine) SlotsPerHour() int {
	return SlotsPerHour(e.cfg.RenderedSlots, e.cfg.StepMinutes)
}

func (e *Engine) recomputeLocked() Indicator {
	if !e.mounted {
		return e.ind
	}
	now := e.now().In(e.loc)
	sph := e.SlotsPerHour()
	snap := SnapAt(now, sph)

	// Offset from the top of the grid, which starts at DayStart.
	y := Vertical(now, sph, e.cfg.HourHeight) - e.cfg.DayStart.Hours()*e.cfg.HourHeight
	gridHeight := (e.cfg.DayEnd - e.cfg.DayStart).Hours() * e.cfg.HourHeight

	left, width, tx := Horizontal(e.viewport, e.cfg.GutterWidth, e.scrollLeft)
	e.ind = Indicator{
		At:           now,
		Top:          y,
		Left:         left,
		Width:        width,
		TranslateX:   tx,
		SlotsPerHour: sph,
		Snap:         snap,
		Label:        fmt.Sprintf("%02d:%02d", now.Hour(), int(float64(snap.Index)*snap.MinutesPerSlot)),
		Visible:      y >= 0 && y <= gridHeight,
	}
	appLog.Debug("now line recomputed", "top", y, "width", width, "translate_x", tx)
	return e.ind
}
