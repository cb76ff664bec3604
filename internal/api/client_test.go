package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"taskcal/internal/model"
	"taskcal/internal/normalize"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, contentType, respBody string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestListTasks_UnwrapsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":1},{"id":2}]`, 2},
		{"items", `{"items":[{"id":1}]}`, 1},
		{"data", `{"data":[{"id":1},{"id":2},{"id":3}]}`, 3},
		{"other object", `{"tasks":[{"id":1}]}`, 0},
		{"not json", `<html>`, 0},
		{"empty", ``, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newServer(t, http.StatusOK, "application/json", tt.body)
			c := New(srv.URL + "/")

			got, err := c.ListTasks(context.Background(), 200)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			assert.Equal(t, "/tasks", rec.path)
			assert.Equal(t, "limit=200", rec.query)
		})
	}
}

func TestBearerToken(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, "application/json", `[]`)

	c := New(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc"})))
	_, err := c.ListTasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", rec.auth)
	assert.Empty(t, rec.query)

	anon := New(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{})))
	_, err = anon.ListTasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, rec.auth, "missing token is tolerated")
}

func TestCreateTask_LocalTimePayload(t *testing.T) {
	srv, rec := newServer(t, http.StatusCreated, "application/json", `{"id":"t1","title":"T"}`)
	c := New(srv.URL, WithTimezone("America/Tijuana"))

	loc, err := time.LoadLocation("America/Tijuana")
	require.NoError(t, err)
	got, err := c.CreateTask(context.Background(), CreateInput{
		Title:    "T",
		Tag:      model.TagJob,
		Status:   model.StatusDoing,
		Priority: model.PriorityHigh,
		Start:    time.Date(2024, 6, 3, 8, 0, 0, 0, loc),
		End:      time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID())

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "2024-06-03T08:00:00", rec.body["start_ts_local"])
	assert.Equal(t, "2024-06-03T09:00:00", rec.body["end_ts_local"])
	assert.Equal(t, "America/Tijuana", rec.body["tz"])
	assert.Equal(t, "in_progress", rec.body["status"])
	assert.Equal(t, "Job", rec.body["tag"])
	assert.Equal(t, "high", rec.body["priority"])
	assert.NotContains(t, rec.body, "description")
}

func TestCreateTask_RequiresTitle(t *testing.T) {
	_, err := New("http://unused").CreateTask(context.Background(), CreateInput{Title: "  "})
	assert.Error(t, err)
}

func TestUpdateTask_Tolerates204(t *testing.T) {
	srv, rec := newServer(t, http.StatusNoContent, "", "")
	c := New(srv.URL)

	start := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	got, err := c.UpdateTask(context.Background(), "a/b", Patch{Start: &start, Color: model.Ptr("#fff")})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/tasks/a/b", rec.path)
	assert.Equal(t, map[string]any{"start_ts": "2024-06-03T15:00:00.000Z", "color": "#fff"}, rec.body)
}

func TestUpdateTask_ReturnsRecord(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, "application/json", `{"id":5,"title":"x"}`)
	got, err := New(srv.URL).UpdateTask(context.Background(), "5", Patch{Title: model.Ptr("x")})
	require.NoError(t, err)
	assert.Equal(t, "5", got.ID())
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantDetail  string
		notFound    bool
	}{
		{"json detail", 404, "application/json", `{"detail":"Task not found"}`, "Task not found", true},
		{"json message", 400, "application/json", `{"message":"bad"}`, "bad", false},
		{"validation list", 422, "application/json", `{"detail":[{"loc":["body"]}]}`, `[{"loc":["body"]}]`, false},
		{"plain text", 500, "text/plain", "boom", "boom", false},
		{"empty", 502, "", "", "502 Bad Gateway", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, tt.contentType, tt.body)
			err := New(srv.URL).DeleteTask(context.Background(), "1")
			require.Error(t, err)

			var he *HTTPError
			require.True(t, errors.As(err, &he))
			assert.Equal(t, tt.status, he.Status)
			assert.Equal(t, tt.wantDetail, he.Detail)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
			assert.Equal(t, tt.status, StatusOf(err))
		})
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, WithTimeout(20*time.Millisecond)).ListTasks(context.Background(), 0)
	assert.Error(t, err)
}

func TestPatchFromPartial(t *testing.T) {
	p := PatchFromPartial(model.Partial{Notes: model.Ptr("n"), Status: model.Ptr(model.StatusDone)})
	assert.Equal(t, map[string]any{"description": "n", "status": "done"}, p.Fields())
	assert.True(t, Patch{}.IsZero())
}

func TestCreateRequest_Input(t *testing.T) {
	loc, err := time.LoadLocation("America/Tijuana")
	require.NoError(t, err)
	norm := normalize.New(loc)

	in, err := CreateRequest{Title: "  Gym ", Start: "2024-06-20T18:00:00", Status: "in_progress"}.Input(norm, "America/Tijuana")
	require.NoError(t, err)
	assert.Equal(t, "Gym", in.Title)
	assert.Equal(t, model.TagOther, in.Tag)
	assert.Equal(t, model.StatusDoing, in.Status)
	assert.Equal(t, model.PriorityMedium, in.Priority)
	assert.Equal(t, "America/Tijuana", in.TZ)
	assert.True(t, in.Start.Equal(time.Date(2024, 6, 20, 18, 0, 0, 0, loc)))

	bad := []CreateRequest{
		{},
		{Title: "x", Tag: "Party"},
		{Title: "x", Status: "blocked"},
		{Title: "x", Start: "2024-06-20T15:00:00Z", End: "2024-06-20T15:00:00Z"},
	}
	for _, req := range bad {
		_, err := req.Input(norm, "UTC")
		assert.Error(t, err, "%+v", req)
	}
}
