// Package bus is an in-process publish/subscribe channel between the calendar
// core and its surrounding chrome (topbar, dialogs, HTTP handlers).
// Delivery is fire-and-forget with no ordering guarantee across subscribers.
package bus

import (
	"sort"
	"sync"
	"time"
)

type Signal string

const (
	// Navigate carries a NavigateAction.
	Navigate Signal = "calendar:navigate"
	// SetView carries a view name ("day", "week", "agenda").
	SetView Signal = "calendar:set-view"
	// DateUpdated carries the Monday (time.Time) of the leftmost visible week.
	// It is sent once per week change, whether by scrolling or navigation.
	DateUpdated Signal = "calendar:date-updated"
	// ViewUpdated carries the new view name.
	ViewUpdated Signal = "calendar:view-updated"
	// TasksReload has no payload.
	TasksReload Signal = "tasks:reload"
	// TasksAppend carries a model.Record to show before the next reload.
	TasksAppend Signal = "tasks:append"
	// Goto carries a time.Time to jump to.
	Goto Signal = "calendar:goto"
)

type NavigateAction string

const (
	NavPrev  NavigateAction = "PREV"
	NavToday NavigateAction = "TODAY"
	NavNext  NavigateAction = "NEXT"
)

// Event is one published signal.
type Event struct {
	Signal  Signal
	Payload any
	At      time.Time
}

type Handler func(Event)

// Bus fans signals out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Signal]map[int]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[Signal]map[int]Handler)}
}

// Subscribe registers h for sig and returns a func that removes it.
func (b *Bus) Subscribe(sig Signal, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sig] == nil {
		b.subs[sig] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[sig][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sig], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers payload to every current subscriber of sig and returns
// how many were called. Handlers run outside the lock, so they may publish
// or unsubscribe.
func (b *Bus) Publish(sig Signal, payload any) int {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs[sig]))
	for id := range b.subs[sig] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[sig][id])
	}
	b.mu.RUnlock()

	ev := Event{Signal: sig, Payload: payload, At: time.Now()}
	for _, h := range handlers {
		h(ev)
	}
	return len(handlers)
}

// Subscribers reports the number of handlers for sig.
func (b *Bus) Subscribers(sig Signal) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sig])
}
