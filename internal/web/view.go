package web

import (
	"net/http"
	"strings"
	"time"

	"taskcal/internal/bus"
	"taskcal/internal/calendar"
	"taskcal/internal/model"
	"taskcal/internal/optimistic"
)

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	if s.view == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar view not available")
		return
	}
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

type eventsResponse struct {
	Events      []model.CalendarEvent `json:"events"`
	From        time.Time             `json:"from,omitzero"`
	To          time.Time             `json:"to,omitzero"`
	Version     uint64                `json:"version"`
	Pending     int                   `json:"pending"`
	Unconfirmed []string              `json:"unconfirmed"`
	LoadError   string                `json:"load_error,omitempty"`
}

// handleEvents lists the events of the visible range, or every loaded event
// with ?all=1. ?days=N overrides the range with N days from the view date.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task list not available")
		return
	}
	q := r.URL.Query()
	resp := eventsResponse{
		Version:     s.tasks.Version(),
		Pending:     s.tasks.Pending(),
		Unconfirmed: s.tasks.Unconfirmed(),
	}
	if err := s.tasks.LastLoadError(); err != nil {
		resp.LoadError = err.Error()
	}

	all := s.tasks.Events()
	switch {
	case q.Get("all") == "1" || s.view == nil:
		resp.Events = all
	case q.Get("days") != "":
		days := max(1, parseIntDefault(q.Get("days"), 7))
		d := s.view.Date()
		resp.From = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
		resp.To = resp.From.AddDate(0, 0, days)
		resp.Events = make([]model.CalendarEvent, 0, len(all))
		for _, e := range all {
			if e.Intersects(resp.From, resp.To) {
				resp.Events = append(resp.Events, e)
			}
		}
	default:
		resp.From, resp.To = s.view.VisibleRange()
		resp.Events = s.view.VisibleEvents()
	}
	if resp.Events == nil {
		resp.Events = []model.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type viewportRequest struct {
	ScrollLeft    float64 `json:"scroll_left"`
	ScrollTop     float64 `json:"scroll_top"`
	ViewportWidth float64 `json:"viewport_width"`
}

// handleViewport records scroll and size. The window is recomputed on the
// next frame, so the answer is 202 with the state known so far.
func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	if s.view == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar view not available")
		return
	}
	var req viewportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ViewportWidth < 0 {
		writeError(w, http.StatusBadRequest, "viewport_width must not be negative")
		return
	}
	s.view.Viewport(req.ScrollLeft, req.ScrollTop, req.ViewportWidth)
	writeJSON(w, http.StatusAccepted, s.view.Window().State())
}

type viewHeader struct {
	Mode       calendar.Mode `json:"mode"`
	Date       time.Time     `json:"date"`
	Title      string        `json:"title"`
	MonthLabel string        `json:"month_label"`
}

func (s *Server) writeHeader(w http.ResponseWriter) {
	if s.view == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	d := s.view.Date()
	writeJSON(w, http.StatusOK, viewHeader{Mode: s.view.Mode(), Date: d, Title: s.view.Title(), MonthLabel: calendar.MonthLabel(d)})
}

// publish sends sig and fails with 503 when nothing listens.
func (s *Server) publish(w http.ResponseWriter, sig bus.Signal, payload any) bool {
	if s.bus.Publish(sig, payload) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no listener for "+string(sig))
		return false
	}
	return true
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action := bus.NavigateAction(strings.ToUpper(strings.TrimSpace(req.Action)))
	switch action {
	case bus.NavPrev, bus.NavToday, bus.NavNext:
	default:
		writeError(w, http.StatusBadRequest, "action must be PREV, TODAY or NEXT")
		return
	}
	if s.publish(w, bus.Navigate, action) {
		s.writeHeader(w)
	}
}

// handleViewMode sets an explicit mode, or derives it from a window width.
func (s *Server) handleViewMode(w http.ResponseWriter, r *http.Request) {
	if s.view == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar view not available")
		return
	}
	var req struct {
		Mode  string   `json:"mode"`
		Width *float64 `json:"width"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch {
	case req.Mode != "":
		mode, ok := calendar.ParseMode(req.Mode)
		if !ok {
			writeError(w, http.StatusBadRequest, "mode must be day, week or agenda")
			return
		}
		if !s.publish(w, bus.SetView, string(mode)) {
			return
		}
	case req.Width != nil:
		s.view.Adapt(*req.Width)
	default:
		writeError(w, http.StatusBadRequest, "mode or width is required")
		return
	}
	s.writeHeader(w)
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, ok := s.norm.ParseValue(req.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, "date must be an ISO date or timestamp")
		return
	}
	if s.publish(w, bus.Goto, t) {
		s.writeHeader(w)
	}
}

// handleReload runs a reconciling fetch and reports the outcome. A failed
// fetch keeps the current list.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task list not available")
		return
	}
	if err := s.tasks.Reload(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": s.tasks.Version(), "events": len(s.tasks.Events())})
}

func (s *Server) handleMutations(w http.ResponseWriter, _ *http.Request) {
	if s.tasks == nil {
		writeJSON(w, http.StatusOK, []optimistic.Mutation{})
		return
	}
	h := s.tasks.History()
	if h == nil {
		h = []optimistic.Mutation{}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Entries())
}
