package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/api"
	"taskcal/internal/bus"
	"taskcal/internal/calendar"
	"taskcal/internal/config"
	"taskcal/internal/layout"
	"taskcal/internal/mockapi"
	"taskcal/internal/model"
	"taskcal/internal/normalize"
	"taskcal/internal/optimistic"
	"taskcal/internal/window"
)

var fixedNow = time.Date(2024, 6, 5, 10, 10, 0, 0, time.UTC)

type fixture struct {
	backend *mockapi.Server
	tasks   *optimistic.Coordinator
	view    *calendar.View
	bus     *bus.Bus
	srv     *httptest.Server
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	backend := mockapi.New()
	backend.Put(model.Record{"id": "t1", "title": "Standup", "start_ts": "2024-06-05T09:00:00Z", "end_ts": "2024-06-05T09:30:00Z"})
	backend.Put(model.Record{"id": "t2", "title": "Review", "start_ts": "2024-06-06T14:00:00Z", "end_ts": "2024-06-06T15:00:00Z"})
	upstream := httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}

	b := bus.New()
	client := api.New(upstream.URL, api.WithTimezone("UTC"), api.WithTimeout(5*time.Second))
	tasks := optimistic.New(client, optimistic.Options{Normalizer: normalize.New(time.UTC), Bus: b})
	t.Cleanup(tasks.Close)
	require.NoError(t, tasks.Reload(context.Background()))

	view := calendar.New(calendar.Options{
		Metrics:     window.DefaultMetrics(),
		Grid:        layout.FullDay(),
		HourHeight:  48,
		StepMinutes: 30,
		AgendaDays:  7,
		Location:    time.UTC,
	}, tasks, b, nil, func() time.Time { return fixedNow })
	t.Cleanup(view.Close)

	s := NewServer(Deps{Config: cfg, View: view, Tasks: tasks, Creator: client, Bus: b})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{backend: backend, tasks: tasks, view: view, bus: b, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	resp, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open")

	resp, _ = f.do(t, http.MethodGet, "/api/view", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/view", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}

func TestView(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/api/view", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap calendar.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, calendar.ModeWeek, snap.Mode)
	assert.Equal(t, "Jun 03 – 09", snap.Title)
	require.Len(t, snap.Columns, 14)
	require.Len(t, snap.Columns[2].Placements, 1)
	assert.Equal(t, "t1", snap.Columns[2].Placements[0].Event.ID)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/api/events?days=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got eventsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "t1", got.Events[0].ID)
	assert.Equal(t, uint64(1), got.Version)

	_, body = f.do(t, http.MethodGet, "/api/events?all=1", nil)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Events, 2)
}

func TestViewport(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPost, "/api/viewport", viewportRequest{ScrollLeft: 1400, ViewportWidth: 1200})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var st window.State
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 1400.0, st.ScrollLeft)
	assert.Equal(t, 1200.0, st.ViewportWidth)

	resp, _ = f.do(t, http.MethodPost, "/api/viewport", viewportRequest{ViewportWidth: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNavigateAndMode(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/navigate", map[string]string{"action": "next"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Jun 10 – 16")

	resp, _ = f.do(t, http.MethodPost, "/api/navigate", map[string]string{"action": "up"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/view-mode", map[string]string{"mode": "day"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, calendar.ModeDay, f.view.Mode())

	resp, _ = f.do(t, http.MethodPost, "/api/view-mode", map[string]any{"width": 500})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, calendar.ModeAgenda, f.view.Mode())

	resp, _ = f.do(t, http.MethodPost, "/api/view-mode", map[string]string{"mode": "month"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/goto", map[string]string{"date": "2024-08-01"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), f.view.Date())

	resp, _ = f.do(t, http.MethodPost, "/api/goto", map[string]string{"date": "someday"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMoveTask(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPatch, "/api/tasks/t1/move", rescheduleRequest{
		Start: "2024-06-05T11:00:00Z",
		End:   "2024-06-05T11:30:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got mutationResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, optimistic.StateReconciled, got.Mutation.State)
	require.NotNil(t, got.Event)
	assert.True(t, got.Event.Start.Equal(time.Date(2024, 6, 5, 11, 0, 0, 0, time.UTC)))

	rec, ok := f.backend.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "2024-06-05T11:00:00.000Z", rec.String("start_ts"))

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/nope/move", rescheduleRequest{Start: "2024-06-05T11:00:00Z"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/t1/resize", rescheduleRequest{Start: "garbage"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMoveTask_CommitFailureKeepsServerState(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.Fail(http.MethodPatch, http.StatusInternalServerError)

	resp, body := f.do(t, http.MethodPatch, "/api/tasks/t1/move", rescheduleRequest{Start: "2024-06-05T13:00:00Z"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var got mutationResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotEmpty(t, got.Error)
	require.NotNil(t, got.Event)
	assert.True(t, got.Event.Start.Equal(time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)), "reconcile restores the server value")
}

func TestColorNotesUpdate(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodPatch, "/api/tasks/t1/color", map[string]string{"color": "#FFB7C5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ev, ok := f.tasks.Event("t1")
	require.True(t, ok)
	assert.Equal(t, "#FFB7C5", ev.Color)

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/t1/color", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/t1/notes", map[string]string{"notes": "bring slides"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec, _ := f.backend.Get("t1")
	assert.Equal(t, "bring slides", rec.String("description"))

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/t1", map[string]string{"title": "Daily", "status": "doing", "tag": "Job"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec, _ = f.backend.Get("t1")
	assert.Equal(t, "Daily", rec.String("title"))
	assert.Equal(t, "in_progress", rec.String("status"))

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/t1", map[string]string{"tag": "Party"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPatch, "/api/tasks/t1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodDelete, "/api/tasks/t2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := f.tasks.Event("t2")
	assert.False(t, ok)
	assert.Equal(t, 1, f.backend.Len())

	resp, _ = f.do(t, http.MethodGet, "/api/tasks/t2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/tasks", createRequest{
		Title: "Dentist",
		Start: "2024-06-20T15:00:00Z",
		End:   "2024-06-20T16:00:00Z",
		Tag:   "Home",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var got createResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got.Appended)
	id := got.Task.ID()
	require.NotEmpty(t, id)

	assert.Equal(t, time.Date(2024, 6, 20, 15, 0, 0, 0, time.UTC), f.view.Date().UTC(), "view jumps to the created start")
	assert.Eventually(t, func() bool {
		ev, ok := f.tasks.Event(id)
		return ok && ev.Title == "Dentist"
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 3, f.backend.Len())
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		req  createRequest
	}{
		{"missing title", createRequest{Start: "2024-06-20T15:00:00Z"}},
		{"bad tag", createRequest{Title: "x", Tag: "Party"}},
		{"bad priority", createRequest{Title: "x", Priority: "whenever"}},
		{"end before start", createRequest{Title: "x", Start: "2024-06-20T15:00:00Z", End: "2024-06-20T14:00:00Z"}},
		{"bad start", createRequest{Title: "x", Start: "tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/api/tasks", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, 2, f.backend.Len())
}

func TestCalendarPage(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/calendar", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	html := string(body)
	assert.Contains(t, html, `data-ready="true"`)
	assert.Contains(t, html, "Standup")
	assert.Contains(t, html, `data-id="t1"`)
	assert.Contains(t, html, `class="now"`)
}

func TestICSFeed(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/calendar.ics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))
	assert.Contains(t, string(body), "UID:t1")
	assert.Contains(t, string(body), "SUMMARY:Review")
}

func TestReloadAndMutations(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.backend.Fail(http.MethodGet, http.StatusServiceUnavailable)
	resp, _ = f.do(t, http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Len(t, f.tasks.Events(), 2, "failed reload keeps the list")

	resp, body := f.do(t, http.MethodGet, "/api/mutations", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, body = f.do(t, http.MethodGet, "/api/schedule", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestPreviewMissing(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/preview.png", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
