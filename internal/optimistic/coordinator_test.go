package optimistic

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"taskcal/internal/api"
	"taskcal/internal/bus"
	"taskcal/internal/mockapi"
	"taskcal/internal/model"
	"taskcal/internal/normalize"
	"taskcal/internal/overrides"
)

// MockTaskAPI is a TaskAPI test double.
type MockTaskAPI struct {
	mock.Mock
}

func (m *MockTaskAPI) ListTasks(ctx context.Context, limit int) ([]model.Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Record), args.Error(1)
}

func (m *MockTaskAPI) UpdateTask(ctx context.Context, id string, p api.Patch) (model.Record, error) {
	args := m.Called(ctx, id, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Record), args.Error(1)
}

func (m *MockTaskAPI) DeleteTask(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var (
	nine = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	ten  = nine.Add(time.Hour)
)

func serverList(extra ...model.Record) []model.Record {
	out := []model.Record{
		{"id": "1", "title": "A", "start_ts": "2024-06-03T09:00:00Z", "end_ts": "2024-06-03T10:00:00Z"},
		{"id": "2", "title": "B", "start_ts": "2024-06-04T09:00:00Z"},
	}
	return append(out, extra...)
}

func newCoordinator(t *testing.T, m TaskAPI, b *bus.Bus) *Coordinator {
	t.Helper()
	c := New(m, Options{Limit: 200, Normalizer: normalize.New(time.UTC), Bus: b})
	t.Cleanup(c.Close)
	return c
}

func loaded(t *testing.T, m *MockTaskAPI, b *bus.Bus) *Coordinator {
	t.Helper()
	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Once()
	c := newCoordinator(t, m, b)
	require.NoError(t, c.Reload(context.Background()))
	return c
}

func TestReload_NormalizesAndMergesOverrides(t *testing.T) {
	m := new(MockTaskAPI)
	ov := overrides.NewMemory()
	require.NoError(t, ov.Set(context.Background(), "1", model.Partial{Color: model.Ptr("#ff00ff")}))
	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Once()

	c := New(m, Options{Limit: 200, Normalizer: normalize.New(time.UTC), Overrides: ov})
	require.NoError(t, c.Reload(context.Background()))

	ev, ok := c.Event("1")
	require.True(t, ok)
	assert.Equal(t, "#ff00ff", ev.Color)
	b, ok := c.Event("2")
	require.True(t, ok)
	assert.Equal(t, time.Hour, b.Duration(), "missing end is synthesized")
	m.AssertExpectations(t)
}

func TestReload_FailureKeepsPreviousList(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)
	m.On("ListTasks", mock.Anything, 200).Return(nil, errors.New("offline")).Once()

	err := c.Reload(context.Background())
	assert.Error(t, err)
	assert.Len(t, c.Events(), 2)
	assert.EqualError(t, c.LastLoadError(), "offline")
}

func TestMove_NoOpIsSuppressed(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	mu, err := c.Move(context.Background(), "1", nine.Add(500*time.Microsecond), ten)
	require.NoError(t, err)
	assert.True(t, mu.Skipped)
	assert.Equal(t, StateIdle, mu.State)
	m.AssertNumberOfCalls(t, "UpdateTask", 0)
	m.AssertNumberOfCalls(t, "ListTasks", 1)
}

func TestMove_DropWithoutEndOnUnchangedEventIsNoOp(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	mu, err := c.Move(context.Background(), "1", nine, time.Time{})
	require.NoError(t, err)
	assert.True(t, mu.Skipped, "safe end equals current end")
	m.AssertNumberOfCalls(t, "UpdateTask", 0)
}

func TestMove_OptimisticBeforeCommitThenReconciles(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	newStart, newEnd := nine.Add(2*time.Hour), ten.Add(2*time.Hour)
	var seen model.CalendarEvent
	m.On("UpdateTask", mock.Anything, "1", mock.MatchedBy(func(p api.Patch) bool {
		return p.Start.Equal(newStart) && p.End.Equal(newEnd) && p.Title == nil
	})).Run(func(mock.Arguments) {
		seen, _ = c.Event("1")
	}).Return(nil, nil).Once()
	moved := serverList()
	moved[0]["start_ts"] = "2024-06-03T11:00:00Z"
	moved[0]["end_ts"] = "2024-06-03T12:00:00Z"
	m.On("ListTasks", mock.Anything, 200).Return(moved, nil).Once()

	mu, err := c.Move(context.Background(), "1", newStart, newEnd)
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, mu.State)
	assert.NotEmpty(t, mu.ID)
	assert.True(t, seen.Start.Equal(newStart), "optimistic state visible during commit")

	ev, _ := c.Event("1")
	assert.True(t, ev.Start.Equal(newStart))
	assert.Equal(t, 0, c.Pending())
	m.AssertExpectations(t)
}

func TestResize_SafeEnd(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	start := nine.Add(30 * time.Minute)
	m.On("UpdateTask", mock.Anything, "1", mock.MatchedBy(func(p api.Patch) bool {
		return p.End.Equal(start.Add(SafeDuration))
	})).Return(nil, nil).Once()
	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Once()

	_, err := c.Resize(context.Background(), "1", start, start.Add(-time.Minute))
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestResize_DegenerateGestureOnUnchangedEventIsNoOp(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	mu, err := c.Resize(context.Background(), "1", nine, time.Time{})
	require.NoError(t, err)
	assert.True(t, mu.Skipped, "safe end equals current end")
}

func TestCommitFailure_NoRollbackAndReconciles(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	m.On("UpdateTask", mock.Anything, "1", mock.Anything).Return(nil, errors.New("500")).Once()
	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Once()

	mu, err := c.SetNotes(context.Background(), "1", "hello")
	require.Error(t, err)
	assert.Equal(t, KindNotes, mu.Kind)
	assert.Equal(t, StateReconciled, mu.State)
	assert.EqualError(t, mu.Err(), "500")

	// Server truth wins after the reconciling fetch.
	ev, _ := c.Event("1")
	assert.Empty(t, ev.Notes)
	assert.Empty(t, c.Unconfirmed())
	m.AssertNumberOfCalls(t, "ListTasks", 2)
}

func TestCommitAndReconcileFailure_MarksUnconfirmed(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	m.On("UpdateTask", mock.Anything, "1", mock.Anything).Return(nil, errors.New("down")).Once()
	m.On("ListTasks", mock.Anything, 200).Return(nil, errors.New("down")).Once()

	_, err := c.Update(context.Background(), "1", model.Partial{Title: model.Ptr("renamed")})
	require.Error(t, err)

	ev, _ := c.Event("1")
	assert.Equal(t, "renamed", ev.Title, "optimistic state stays")
	assert.Equal(t, []string{"1"}, c.Unconfirmed())

	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Once()
	require.NoError(t, c.Reload(context.Background()))
	assert.Empty(t, c.Unconfirmed())
	ev, _ = c.Event("1")
	assert.Equal(t, "A", ev.Title)
}

func TestSetColor_SurvivesReload(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	m.On("UpdateTask", mock.Anything, "2", mock.MatchedBy(func(p api.Patch) bool {
		return p.Color != nil && *p.Color == "#00ff00"
	})).Return(nil, nil).Once()
	// The backend ignores colors.
	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Twice()

	mu, err := c.SetColor(context.Background(), "2", "#00ff00")
	require.NoError(t, err)
	assert.Equal(t, KindColor, mu.Kind)

	require.NoError(t, c.Reload(context.Background()))
	ev, _ := c.Event("2")
	assert.Equal(t, "#00ff00", ev.Color)
}

func TestUnknownTask(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)

	_, err := c.Move(context.Background(), "nope", nine, ten)
	assert.ErrorIs(t, err, ErrUnknownTask)
	_, err = c.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
	_, err = c.Update(context.Background(), "1", model.Partial{})
	assert.NoError(t, err, "empty edit is a no-op")
}

func TestDelete_AgainstBackend(t *testing.T) {
	backend := mockapi.New()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	backend.Put(model.Record{"id": "x", "title": "gone soon", "start_ts": "2024-06-03T09:00:00Z"})
	backend.Put(model.Record{"id": "y", "title": "stays", "start_ts": "2024-06-03T11:00:00Z"})

	c := newCoordinator(t, api.New(srv.URL), nil)
	ctx := context.Background()
	require.NoError(t, c.Reload(ctx))
	require.Len(t, c.Events(), 2)

	mu, err := c.Delete(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, mu.State)
	_, ok := c.Event("x")
	assert.False(t, ok)
	assert.Len(t, c.Events(), 1)
	_, ok = backend.Get("x")
	assert.False(t, ok)
}

func TestDelete_NotFoundCountsAsSuccess(t *testing.T) {
	m := new(MockTaskAPI)
	c := loaded(t, m, nil)
	m.On("DeleteTask", mock.Anything, "1").Return(&api.HTTPError{Status: 404, Detail: "Task not found"}).Once()
	m.On("ListTasks", mock.Anything, 200).Return(serverList()[1:], nil).Once()

	_, err := c.Delete(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, c.Events(), 1)
}

// gatedAPI blocks chosen calls until released.
type gatedAPI struct {
	mu      sync.Mutex
	lists   [][]model.Record
	gates   []chan struct{}
	entered chan int
	update  chan struct{}
}

func (g *gatedAPI) ListTasks(ctx context.Context, _ int) ([]model.Record, error) {
	g.mu.Lock()
	i := len(g.gates)
	gate := make(chan struct{})
	g.gates = append(g.gates, gate)
	list := g.lists[min(i, len(g.lists)-1)]
	g.mu.Unlock()

	g.entered <- i
	<-gate
	return list, nil
}

func (g *gatedAPI) release(i int) {
	g.mu.Lock()
	close(g.gates[i])
	g.mu.Unlock()
}

func (g *gatedAPI) UpdateTask(context.Context, string, api.Patch) (model.Record, error) {
	<-g.update
	return nil, nil
}

func (g *gatedAPI) DeleteTask(context.Context, string) error { return nil }

func TestStaleFetchIsDiscarded(t *testing.T) {
	older := []model.Record{{"id": "1", "title": "old", "start_ts": "2024-06-03T09:00:00Z"}}
	newer := []model.Record{{"id": "1", "title": "new", "start_ts": "2024-06-03T09:00:00Z"}}
	g := &gatedAPI{lists: [][]model.Record{older, newer}, entered: make(chan int, 2)}
	c := newCoordinator(t, g, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Reload(context.Background())
	}()
	require.Equal(t, 0, <-g.entered)

	go func() { _ = c.Reload(context.Background()) }()
	require.Equal(t, 1, <-g.entered)
	g.release(1)
	require.Eventually(t, func() bool {
		ev, ok := c.Event("1")
		return ok && ev.Title == "new"
	}, time.Second, 5*time.Millisecond)

	g.release(0)
	<-done
	ev, _ := c.Event("1")
	assert.Equal(t, "new", ev.Title, "older response completing last does not win")
}

func TestPendingEditSurvivesConcurrentReload(t *testing.T) {
	list := []model.Record{{"id": "1", "title": "A", "start_ts": "2024-06-03T09:00:00Z"}}
	g := &gatedAPI{lists: [][]model.Record{list}, entered: make(chan int, 3), update: make(chan struct{})}
	c := newCoordinator(t, g, nil)

	go func() { _ = c.Reload(context.Background()) }()
	g.release(<-g.entered)
	require.Eventually(t, func() bool { return len(c.Events()) == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Update(context.Background(), "1", model.Partial{Title: model.Ptr("edited")})
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, 5*time.Millisecond)

	// An unrelated reload lands while the commit is in flight.
	go func() { _ = c.Reload(context.Background()) }()
	g.release(<-g.entered)
	require.Eventually(t, func() bool {
		ev, _ := c.Event("1")
		return c.Version() >= 3 && ev.Title == "edited"
	}, time.Second, 5*time.Millisecond)

	close(g.update)
	g.release(<-g.entered)
	<-done
	ev, _ := c.Event("1")
	assert.Equal(t, "A", ev.Title, "server truth after the mutation's own reconcile")
}

func TestBusSignals(t *testing.T) {
	b := bus.New()
	m := new(MockTaskAPI)
	c := loaded(t, m, b)

	b.Publish(bus.TasksAppend, model.Record{"id": "9", "title": "fresh", "start_ts": "2024-06-05T09:00:00Z"})
	evs := c.Events()
	require.Len(t, evs, 3)
	assert.Equal(t, "9", evs[0].ID, "appended tasks go first")

	m.On("ListTasks", mock.Anything, 200).Return(serverList(), nil).Once()
	b.Publish(bus.TasksReload, nil)
	require.Eventually(t, func() bool { return len(c.Events()) == 2 }, time.Second, 5*time.Millisecond)

	c.Close()
	assert.Equal(t, 0, b.Subscribers(bus.TasksReload))
	assert.ErrorIs(t, c.Reload(context.Background()), ErrClosed)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "optimistic", StateOptimistic.String())
	assert.Equal(t, "committing", StateCommitting.String())
	assert.Equal(t, "reconciled", StateReconciled.String())
}

func TestStateText(t *testing.T) {
	b, err := StateCommitting.MarshalText()
	require.NoError(t, err)

	var s State
	require.NoError(t, s.UnmarshalText(b))
	assert.Equal(t, StateCommitting, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
