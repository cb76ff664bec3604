package web

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"taskcal/internal/api"
	"taskcal/internal/bus"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/optimistic"
)

// statusFor maps coordinator and Task API errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, optimistic.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, optimistic.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if st := api.StatusOf(err); st >= 400 {
		return st
	}
	return http.StatusBadGateway
}

type mutationResponse struct {
	Mutation    optimistic.Mutation  `json:"mutation"`
	Event       *model.CalendarEvent `json:"event,omitempty"`
	Error       string               `json:"error,omitempty"`
	Unconfirmed bool                 `json:"unconfirmed,omitempty"`
}

// writeMutation reports the outcome of an edit. The local list already
// reflects the reconciled state; a commit error is passed through with the
// backend status.
func (s *Server) writeMutation(w http.ResponseWriter, m optimistic.Mutation, err error) {
	resp := mutationResponse{Mutation: m}
	if ev, ok := s.tasks.Event(m.TaskID); ok {
		resp.Event = &ev
	}
	resp.Unconfirmed = slices.Contains(s.tasks.Unconfirmed(), m.TaskID)
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) requireTasks(w http.ResponseWriter) bool {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task list not available")
		return false
	}
	return true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireTasks(w) {
		return
	}
	ev, ok := s.tasks.Event(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type rescheduleRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// handleReschedule serves drag-move and resize. A missing or unusable end
// gets the default duration.
func (s *Server) handleReschedule(kind optimistic.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireTasks(w) {
			return
		}
		var req rescheduleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		start, ok := s.norm.ParseValue(req.Start)
		if !ok {
			writeError(w, http.StatusBadRequest, "start must be an ISO timestamp")
			return
		}
		end, _ := s.norm.ParseValue(req.End)

		id := r.PathValue("id")
		var m optimistic.Mutation
		var err error
		if kind == optimistic.KindResize {
			m, err = s.tasks.Resize(r.Context(), id, start, end)
		} else {
			m, err = s.tasks.Move(r.Context(), id, start, end)
		}
		s.writeMutation(w, m, err)
	}
}

func (s *Server) handleColor(w http.ResponseWriter, r *http.Request) {
	if !s.requireTasks(w) {
		return
	}
	var req struct {
		Color *string `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Color == nil {
		writeError(w, http.StatusBadRequest, "color is required")
		return
	}
	m, err := s.tasks.SetColor(r.Context(), r.PathValue("id"), strings.TrimSpace(*req.Color))
	s.writeMutation(w, m, err)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	if !s.requireTasks(w) {
		return
	}
	var req struct {
		Notes *string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Notes == nil {
		writeError(w, http.StatusBadRequest, "notes is required")
		return
	}
	m, err := s.tasks.SetNotes(r.Context(), r.PathValue("id"), *req.Notes)
	s.writeMutation(w, m, err)
}

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Notes       *string `json:"notes"`
	Tag         *string `json:"tag"`
	Status      *string `json:"status"`
	Color       *string `json:"color"`
}

func (req updateRequest) partial() (model.Partial, error) {
	var p model.Partial
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			return p, errors.New("title must not be empty")
		}
		p.Title = &t
	}
	p.Description = req.Description
	p.Notes = req.Notes
	p.Color = req.Color
	if req.Tag != nil {
		tag := model.Tag(*req.Tag)
		if !model.ValidTag(tag) {
			return p, errors.New("unknown tag")
		}
		p.Tag = &tag
	}
	if req.Status != nil {
		st, ok := model.ParseStatus(*req.Status)
		if !ok {
			return p, errors.New("unknown status")
		}
		p.Status = &st
	}
	return p, nil
}

// handleUpdateTask is the dialog save: any of title, description or notes,
// tag, status and color.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireTasks(w) {
		return
	}
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := req.partial()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.IsZero() {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	m, err := s.tasks.Update(r.Context(), r.PathValue("id"), p)
	s.writeMutation(w, m, err)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireTasks(w) {
		return
	}
	m, err := s.tasks.Delete(r.Context(), r.PathValue("id"))
	s.writeMutation(w, m, err)
}

type createRequest = api.CreateRequest

type createResponse struct {
	Task     model.Record `json:"task"`
	Appended bool         `json:"appended"`
}

// handleCreateTask creates the task, then asks for a reload, jumps to the
// created start and shows the task right away when the backend returned
// its id.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.api == nil {
		writeError(w, http.StatusServiceUnavailable, "task API not available")
		return
	}
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in, err := req.Input(s.norm, s.cfg.Timezone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.api.CreateTask(r.Context(), in)
	if err != nil {
		appLog.Error("create task failed", err, "title", in.Title)
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.bus.Publish(bus.TasksReload, nil)

	start := s.createdTime(rec, in.Start, "start_ts_local", "start_ts_utc", "start_ts")
	if !start.IsZero() {
		s.bus.Publish(bus.Goto, start)
	}

	resp := createResponse{Task: rec}
	if id := rec.ID(); id != "" {
		end := s.createdTime(rec, in.End, "end_ts_local", "end_ts_utc", "end_ts")
		s.bus.Publish(bus.TasksAppend, appendRecord(id, rec, in, start, end))
		resp.Appended = true
	}
	if resp.Task == nil {
		resp.Task = model.Record{}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// createdTime prefers what the backend stored over the submitted value.
func (s *Server) createdTime(rec model.Record, fallback time.Time, keys ...string) time.Time {
	for _, k := range keys {
		if t, ok := s.norm.ParseValue(rec[k]); ok {
			return t
		}
	}
	return fallback
}

func appendRecord(id string, rec model.Record, in api.CreateInput, start, end time.Time) model.Record {
	pick := func(key, def string) string {
		if v := rec.String(key); v != "" {
			return v
		}
		return def
	}
	out := model.Record{
		"id":            id,
		"title":         pick("title", in.Title),
		"description":   pick("description", in.Description),
		"tag":           pick("tag", string(in.Tag)),
		"status":        "todo",
		"notes":         pick("notes", in.Description),
		"participants":  []any{},
		"recurrence_id": nil,
	}
	if c := pick("color", in.Color); c != "" {
		out["color"] = c
	}
	if !start.IsZero() {
		out["start"] = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		out["end"] = end.Format(time.RFC3339)
	}
	return out
}
