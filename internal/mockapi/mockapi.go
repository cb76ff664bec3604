// Package mockapi is an in-memory Task API and auth backend. It mirrors the
// behavior of the real backend closely enough for `serve --mock` and tests:
// local creation times plus tz are converted to UTC instants, PATCH accepts
// partial bodies, and auth issues opaque bearer tokens.
package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

const localLayout = "2006-01-02T15:04:05"

// Server is an http.Handler serving /tasks, /auth/* and /users/me.
type Server struct {
	mu     sync.Mutex
	tasks  map[string]model.Record
	order  []string
	users  map[string]string // email -> password
	tokens map[string]string // token -> email
	fail   map[string]int    // method -> forced status
	calls  map[string]int

	// RequireAuth rejects task calls without a known bearer token.
	RequireAuth bool
	now         func() time.Time
	mux         *http.ServeMux
}

func New() *Server {
	s := &Server{
		tasks:  make(map[string]model.Record),
		users:  make(map[string]string),
		tokens: make(map[string]string),
		fail:   make(map[string]int),
		calls:  make(map[string]int),
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.HandleFunc("GET /tasks", s.guard(s.handleList))
	s.mux.HandleFunc("POST /tasks", s.guard(s.handleCreate))
	s.mux.HandleFunc("PATCH /tasks/{id}", s.guard(s.handlePatch))
	s.mux.HandleFunc("DELETE /tasks/{id}", s.guard(s.handleDelete))
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/forgot-password", s.handleMessage("If the account exists, an email was sent"))
	s.mux.HandleFunc("POST /auth/reset-password", s.handleMessage("Password updated"))
	s.mux.HandleFunc("GET /users/me", s.handleMe)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Fail makes every request with method answer status until cleared with 0.
func (s *Server) Fail(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.fail, method)
		return
	}
	s.fail[method] = status
}

// Calls returns how many task requests with method were received.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Put stores rec as-is, which lets tests seed records with odd field names.
func (s *Server) Put(rec model.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := rec.ID()
	if id == "" {
		id = uuid.NewString()
		rec = rec.Clone()
		rec["id"] = id
	}
	if _, ok := s.tasks[id]; !ok {
		s.order = append(s.order, id)
	}
	s.tasks[id] = rec
	return id
}

// Get returns a copy of the stored record.
func (s *Server) Get(id string) (model.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// AddUser registers credentials directly.
func (s *Server) AddUser(email, password string) {
	s.mu.Lock()
	s.users[strings.ToLower(email)] = password
	s.mu.Unlock()
}

// Seed fills the store with a few tasks in the week of day, in loc.
func (s *Server) Seed(day time.Time, loc *time.Location) {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	at := func(offsetDays, h, m int) string {
		return d.AddDate(0, 0, offsetDays).Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute).UTC().Format(time.RFC3339)
	}
	samples := []model.Record{
		{"title": "Standup", "tag": "Job", "status": "in_progress", "start_ts": at(0, 9, 0), "end_ts": at(0, 9, 30), "color": "#3b82f6"},
		{"title": "Design review", "tag": "Job", "status": "pending", "start_ts": at(0, 9, 15), "end_ts": at(0, 10, 30)},
		{"title": "Gym", "tag": "Workout", "status": "pending", "start_ts": at(1, 18, 0), "end_ts": at(1, 19, 0)},
		{"title": "Course", "tag": "Education", "status": "done", "start_ts": at(2, 20, 0), "end_ts": at(2, 21, 30)},
		{"title": "Groceries", "tag": "Home", "status": "pending", "start_ts": at(3, 17, 30)},
	}
	for _, r := range samples {
		r["id"] = uuid.NewString()
		r["description"] = ""
		r["created_at"] = s.now().UTC().Format(time.RFC3339)
		s.Put(r)
	}
	appLog.Info("mock backend seeded", "count", len(samples))
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method]++
		status := s.fail[r.Method]
		authed := !s.RequireAuth || s.tokens[bearer(r)] != ""
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}
		if !authed {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	s.mu.Lock()
	out := make([]model.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].String("start_ts") < out[j].String("start_ts")
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid JSON body"})
		return
	}
	title, _ := body["title"].(string)
	if strings.TrimSpace(title) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "title is required"})
		return
	}

	rec := model.Record{}
	for k, v := range body {
		rec[k] = v
	}
	if err := toUTC(rec); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	if _, ok := rec["status"]; !ok {
		rec["status"] = "pending"
	}
	if _, ok := rec["tag"]; !ok {
		rec["tag"] = "Other"
	}
	now := s.now().UTC().Format(time.RFC3339)
	rec["id"] = uuid.NewString()
	rec["created_at"] = now
	rec["updated_at"] = now

	s.Put(rec)
	writeJSON(w, http.StatusCreated, rec)
}

// toUTC derives start_ts/end_ts from *_ts_local and tz, as the backend does.
func toUTC(rec model.Record) error {
	tz, _ := rec["tz"].(string)
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return errors.New("unknown tz " + strconv.Quote(tz))
		}
		loc = l
	}
	for _, pair := range [][2]string{{"start_ts_local", "start_ts"}, {"end_ts_local", "end_ts"}} {
		v, ok := rec[pair[0]].(string)
		if !ok || v == "" {
			continue
		}
		t, err := time.ParseInLocation(localLayout, v, loc)
		if err != nil {
			return errors.New("invalid " + pair[0])
		}
		rec[pair[1]] = t.UTC().Format(time.RFC3339)
	}
	return nil
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid JSON body"})
		return
	}

	s.mu.Lock()
	rec, ok := s.tasks[id]
	if ok {
		rec = rec.Clone()
		for k, v := range body {
			rec[k] = v
		}
		rec["updated_at"] = s.now().UTC().Format(time.RFC3339)
		s.tasks[id] = rec
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Task not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Task not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid form"})
		return
	}
	email := strings.ToLower(r.PostForm.Get("username"))
	pw := r.PostForm.Get("password")

	s.mu.Lock()
	want, ok := s.users[email]
	var token string
	if ok && want == pw {
		token = uuid.NewString()
		s.tokens[token] = email
	}
	s.mu.Unlock()

	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         map[string]string{"email": email},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.tokens, bearer(r))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "email and password are required"})
		return
	}
	email := strings.ToLower(body.Email)

	s.mu.Lock()
	_, exists := s.users[email]
	if !exists {
		s.users[email] = body.Password
	}
	s.mu.Unlock()

	if exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already registered"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created"})
}

func (s *Server) handleMessage(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	email := s.tokens[bearer(r)]
	s.mu.Unlock()
	if email == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("mock backend encode failed", err)
	}
}
