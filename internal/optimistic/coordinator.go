// Package optimistic applies task edits locally before the Task API confirms
// them, then reconciles with a full re-fetch whatever the commit outcome.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskcal/internal/api"
	"taskcal/internal/bus"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/normalize"
	"taskcal/internal/overrides"
)

var (
	ErrUnknownTask = errors.New("optimistic: unknown task")
	ErrClosed      = errors.New("optimistic: coordinator closed")
)

const (
	// SafeDuration is the end synthesized for a move or resize without a
	// usable end.
	SafeDuration = 60 * time.Minute
	historySize  = 100
)

// TaskAPI is the part of the Task API the coordinator needs.
type TaskAPI interface {
	ListTasks(ctx context.Context, limit int) ([]model.Record, error)
	UpdateTask(ctx context.Context, id string, p api.Patch) (model.Record, error)
	DeleteTask(ctx context.Context, id string) error
}

type Options struct {
	// Limit is passed to ListTasks.
	Limit      int
	Normalizer *normalize.Normalizer
	Overrides  *overrides.Store
	// Bus, when set, feeds tasks:reload and tasks:append into the coordinator.
	Bus *bus.Bus
}

// Coordinator owns the task list. All state is guarded by mu; network calls
// run outside of it.
type Coordinator struct {
	api   TaskAPI
	norm  *normalize.Normalizer
	ov    *overrides.Store
	limit int

	mu          sync.Mutex
	records     []model.Record
	events      []model.CalendarEvent
	version     uint64
	fetchSeq    uint64
	appliedSeq  uint64
	pending     []overlay
	unconfirmed map[string]struct{}
	history     []Mutation
	loadErr     error
	closed      bool

	unsub []func()
	wg    sync.WaitGroup
}

func New(taskAPI TaskAPI, opts Options) *Coordinator {
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New(time.Local)
	}
	if opts.Overrides == nil {
		opts.Overrides = overrides.NewMemory()
	}
	c := &Coordinator{
		api:         taskAPI,
		norm:        opts.Normalizer,
		ov:          opts.Overrides,
		limit:       opts.Limit,
		unconfirmed: make(map[string]struct{}),
	}
	if opts.Bus != nil {
		c.unsub = append(c.unsub,
			opts.Bus.Subscribe(bus.TasksReload, c.onReload),
			opts.Bus.Subscribe(bus.TasksAppend, c.onAppend),
		)
	}
	return c
}

func (c *Coordinator) onReload(bus.Event) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Reload(context.Background())
	}()
}

func (c *Coordinator) onAppend(e bus.Event) {
	switch rec := e.Payload.(type) {
	case model.Record:
		c.Append(rec)
	case map[string]any:
		c.Append(model.Record(rec))
	default:
		appLog.Warn("ignoring tasks:append payload", "type", fmt.Sprintf("%T", e.Payload))
	}
}

// Close detaches from the bus and waits for background reloads. Responses
// arriving afterwards are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	for _, u := range unsub {
		u()
	}
	c.wg.Wait()
}

// Reload fetches the task list. On failure the current list is kept, with
// the current overrides merged on top, and the error is returned.
func (c *Coordinator) Reload(ctx context.Context) error {
	return c.reconcile(ctx)
}

func (c *Coordinator) reconcile(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	fetched, err := c.api.ListTasks(ctx, c.limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err != nil {
		appLog.Error("task list fetch failed, keeping current list", err, "seq", seq)
		c.loadErr = err
		c.installLocked(c.ov.Merge(c.records))
		return err
	}
	if seq <= c.appliedSeq {
		appLog.Info("discarding stale task list", "seq", seq, "applied", c.appliedSeq)
		return nil
	}
	c.appliedSeq = seq
	c.loadErr = nil
	// Fetched data is server truth; nothing shown is unconfirmed anymore.
	clear(c.unconfirmed)
	c.installLocked(applyOverlays(c.ov.Merge(fetched), c.pending))
	appLog.Info("task list reconciled", "seq", seq, "records", len(c.records), "events", len(c.events), "pending", len(c.pending))
	return nil
}

func (c *Coordinator) installLocked(records []model.Record) {
	c.records = records
	c.events = c.norm.Events(records)
	c.version++
}

// Append prepends a record without a server round trip, replacing any record
// with the same id.
func (c *Coordinator) Append(rec model.Record) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	id := rec.ID()
	out := make([]model.Record, 0, len(c.records)+1)
	out = append(out, rec.Clone())
	for _, r := range c.records {
		if id != "" && r.ID() == id {
			continue
		}
		out = append(out, r)
	}
	c.installLocked(c.ov.Merge(out))
	appLog.Debug("task appended", "id", id)
}

// Move reschedules a task to [start, end). A move whose computed bounds
// match the current ones (to the millisecond) is skipped.
func (c *Coordinator) Move(ctx context.Context, id string, start, end time.Time) (Mutation, error) {
	cur, ok := c.Event(id)
	if !ok {
		return Mutation{Kind: KindMove, TaskID: id}, ErrUnknownTask
	}
	end = safeEnd(start, end)
	if sameMs(cur.Start, start) && sameMs(cur.End, end) {
		return c.skipped(KindMove, id), nil
	}
	return c.reschedule(ctx, KindMove, id, start, end)
}

// Resize changes a task's bounds. The end is made safe before the no-op
// check, so a degenerate gesture still yields start+60m.
func (c *Coordinator) Resize(ctx context.Context, id string, start, end time.Time) (Mutation, error) {
	cur, ok := c.Event(id)
	if !ok {
		return Mutation{Kind: KindResize, TaskID: id}, ErrUnknownTask
	}
	end = safeEnd(start, end)
	if sameMs(cur.Start, start) && sameMs(cur.End, end) {
		return c.skipped(KindResize, id), nil
	}
	return c.reschedule(ctx, KindResize, id, start, end)
}

func (c *Coordinator) reschedule(ctx context.Context, kind Kind, id string, start, end time.Time) (Mutation, error) {
	startISO := start.UTC().Format(time.RFC3339Nano)
	endISO := end.UTC().Format(time.RFC3339Nano)
	apply := func(r model.Record) (model.Record, bool) {
		out := r.Clone()
		out["start_ts"] = startISO
		out["end_ts"] = endISO
		return out, true
	}
	return c.run(ctx, kind, id, apply, func(ctx context.Context) error {
		_, err := c.api.UpdateTask(ctx, id, api.Patch{Start: &start, End: &end})
		return err
	})
}

// SetColor recolors a task and records the color as an override so that
// reloads keep it even when the backend does not store colors.
func (c *Coordinator) SetColor(ctx context.Context, id, color string) (Mutation, error) {
	return c.Update(ctx, id, model.Partial{Color: &color})
}

// SetNotes edits the notes, which the backend keeps in description.
func (c *Coordinator) SetNotes(ctx context.Context, id, notes string) (Mutation, error) {
	return c.update(ctx, KindNotes, id, model.Partial{Notes: &notes})
}

// Update applies a partial edit from the event dialog.
func (c *Coordinator) Update(ctx context.Context, id string, p model.Partial) (Mutation, error) {
	kind := KindUpdate
	if p.Color != nil && p == (model.Partial{Color: p.Color}) {
		kind = KindColor
	}
	return c.update(ctx, kind, id, p)
}

func (c *Coordinator) update(ctx context.Context, kind Kind, id string, p model.Partial) (Mutation, error) {
	if p.IsZero() {
		return c.skipped(kind, id), nil
	}
	if _, ok := c.Event(id); !ok {
		return Mutation{Kind: kind, TaskID: id}, ErrUnknownTask
	}
	if p.Color != nil {
		if err := c.ov.Set(ctx, id, model.Partial{Color: p.Color}); err != nil {
			appLog.Error("override persist failed", err, "task", id)
		}
	}
	apply := func(r model.Record) (model.Record, bool) {
		return p.ApplyTo(r), true
	}
	return c.run(ctx, kind, id, apply, func(ctx context.Context) error {
		_, err := c.api.UpdateTask(ctx, id, api.PatchFromPartial(p))
		return err
	})
}

// Delete removes a task locally, deletes it remotely and reconciles. A 404
// counts as success.
func (c *Coordinator) Delete(ctx context.Context, id string) (Mutation, error) {
	if _, ok := c.Event(id); !ok {
		return Mutation{Kind: KindDelete, TaskID: id}, ErrUnknownTask
	}
	drop := func(model.Record) (model.Record, bool) { return nil, false }
	return c.run(ctx, KindDelete, id, drop, func(ctx context.Context) error {
		err := c.api.DeleteTask(ctx, id)
		if errors.Is(err, api.ErrNotFound) {
			err = nil
		}
		if err == nil {
			if derr := c.ov.Delete(ctx, id); derr != nil {
				appLog.Error("override cleanup failed", derr, "task", id)
			}
		}
		return err
	})
}

// run drives one mutation through optimistic apply, commit and
// reconciliation.
func (c *Coordinator) run(ctx context.Context, kind Kind, taskID string,
	apply func(model.Record) (model.Record, bool), commit func(context.Context) error) (Mutation, error) {

	m := Mutation{ID: uuid.NewString(), Kind: kind, TaskID: taskID, StartedAt: time.Now()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return m, ErrClosed
	}
	ov := overlay{mutationID: m.ID, taskID: taskID, apply: apply}
	c.pending = append(c.pending, ov)
	c.installLocked(applyOverlays(c.records, []overlay{ov}))
	m.State = StateOptimistic
	c.mu.Unlock()
	c.trace(m)

	m.State = StateCommitting
	c.trace(m)
	m.CommitErr = commit(ctx)
	if m.CommitErr != nil {
		appLog.Error("task commit failed, leaving optimistic state", m.CommitErr, "mutation", m.ID, "kind", kind, "task", taskID)
	}

	c.mu.Lock()
	c.removePendingLocked(m.ID)
	c.mu.Unlock()

	m.ReconcileErr = c.reconcile(ctx)
	m.State = StateReconciled
	m.DoneAt = time.Now()

	c.mu.Lock()
	if m.CommitErr != nil && m.ReconcileErr != nil {
		// Neither the server nor a fresh list confirmed what is shown.
		c.unconfirmed[taskID] = struct{}{}
	}
	c.history = append(c.history, m)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	c.mu.Unlock()
	c.trace(m)

	if m.CommitErr != nil {
		return m, fmt.Errorf("optimistic: %s %s: %w", kind, taskID, m.CommitErr)
	}
	return m, nil
}

func (c *Coordinator) removePendingLocked(mutationID string) {
	for i, o := range c.pending {
		if o.mutationID == mutationID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) skipped(kind Kind, id string) Mutation {
	m := Mutation{ID: uuid.NewString(), Kind: kind, TaskID: id, State: StateIdle, Skipped: true, StartedAt: time.Now()}
	appLog.Debug("mutation skipped, nothing changed", "kind", kind, "task", id)
	return m
}

func (c *Coordinator) trace(m Mutation) {
	appLog.Debug("mutation", "id", m.ID, "kind", m.Kind, "task", m.TaskID, "state", m.State)
}

func sameMs(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return a.UnixMilli() == b.UnixMilli()
}

func safeEnd(start, end time.Time) time.Time {
	if end.IsZero() || !end.After(start) {
		return start.Add(SafeDuration)
	}
	return end
}

// Events returns a copy of the current normalized events.
func (c *Coordinator) Events() []model.CalendarEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.CalendarEvent(nil), c.events...)
}

func (c *Coordinator) Event(id string) (model.CalendarEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.ID == id {
			return e, true
		}
	}
	return model.CalendarEvent{}, false
}

// Records returns a copy of the current merged records.
func (c *Coordinator) Records() []model.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Record, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// Version increases every time the list changes.
func (c *Coordinator) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Pending is the number of mutations awaiting their commit.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Unconfirmed lists tasks whose last commit and reconciling fetch both
// failed, so what is shown for them was never confirmed by the server.
func (c *Coordinator) Unconfirmed() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.unconfirmed))
	for id := range c.unconfirmed {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// History returns recent finished mutations, oldest first.
func (c *Coordinator) History() []Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Mutation(nil), c.history...)
}

// LastLoadError is the error of the latest failed fetch, cleared by a
// successful one.
func (c *Coordinator) LastLoadError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}
