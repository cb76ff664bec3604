package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one backend task record as decoded from JSON. Backends disagree on
// field names, so records are kept loose until normalization.
type Record map[string]any

// ID resolves the record identifier from "id" or "uuid". Numbers are
// formatted without a fractional part.
func (r Record) ID() string {
	for _, key := range []string{"id", "uuid"} {
		if s := scalarString(r[key]); s != "" {
			return s
		}
	}
	return ""
}

// String returns the field as text, or "" when absent or not a scalar.
func (r Record) String(key string) string {
	return scalarString(r[key])
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Status is the client-side task status.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// StatusFromBackend maps backend status values onto the client enum.
// Anything unknown, including "pending", is todo.
func StatusFromBackend(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_progress":
		return StatusDoing
	case "done":
		return StatusDone
	default:
		return StatusTodo
	}
}

// ParseStatus accepts client and backend spellings.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo", "pending":
		return StatusTodo, true
	case "doing", "in_progress":
		return StatusDoing, true
	case "done":
		return StatusDone, true
	}
	return "", false
}

// Backend returns the value the Task API expects for s.
func (s Status) Backend() string {
	switch s {
	case StatusDoing:
		return "in_progress"
	case StatusDone:
		return "done"
	default:
		return "pending"
	}
}

type Tag string

const (
	TagJob       Tag = "Job"
	TagEducation Tag = "Education"
	TagWorkout   Tag = "Workout"
	TagHome      Tag = "Home"
	TagOther     Tag = "Other"
)

var Tags = []Tag{TagJob, TagEducation, TagWorkout, TagHome, TagOther}

func ValidTag(t Tag) bool {
	for _, v := range Tags {
		if v == t {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Task is the canonical client-side task.
type Task struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Tag          Tag           `json:"tag"`
	Status       Status        `json:"status"`
	Start        string        `json:"start"`
	End          string        `json:"end"`
	Color        string        `json:"color,omitempty"`
	Participants []Participant `json:"participants"`
	Notes        string        `json:"notes,omitempty"`
	RecurrenceID *string       `json:"recurrence_id"`
}

// CalendarEvent is a normalized task placed on the time grid.
// Invariant: End is after Start.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Color       string    `json:"color"`
	Description string    `json:"description,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Resource    Task      `json:"resource"`
}

func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the half-open intervals of e and o intersect.
func (e CalendarEvent) Overlaps(o CalendarEvent) bool {
	return e.Start.Before(o.End) && o.Start.Before(e.End)
}

// Intersects reports whether e overlaps [from, to).
func (e CalendarEvent) Intersects(from, to time.Time) bool {
	return e.End.After(from) && e.Start.Before(to)
}

func (e CalendarEvent) String() string {
	return fmt.Sprintf("%s %q [%s, %s)", e.ID, e.Title, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// Partial is a sparse task update. Nil fields are untouched.
type Partial struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Tag         *Tag    `json:"tag,omitempty"`
	Status      *Status `json:"status,omitempty"`
	Color       *string `json:"color,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

func (p Partial) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Tag == nil &&
		p.Status == nil && p.Color == nil && p.Notes == nil
}

// Merge returns p with every field set in newer replacing the old value.
func (p Partial) Merge(newer Partial) Partial {
	if newer.Title != nil {
		p.Title = newer.Title
	}
	if newer.Description != nil {
		p.Description = newer.Description
	}
	if newer.Tag != nil {
		p.Tag = newer.Tag
	}
	if newer.Status != nil {
		p.Status = newer.Status
	}
	if newer.Color != nil {
		p.Color = newer.Color
	}
	if newer.Notes != nil {
		p.Notes = newer.Notes
	}
	return p
}

// ApplyTo writes p onto a copy of r using backend field names. Notes are
// stored in description by the backend, so both keys are written.
func (p Partial) ApplyTo(r Record) Record {
	out := r.Clone()
	if p.Title != nil {
		out["title"] = *p.Title
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	if p.Tag != nil {
		out["tag"] = string(*p.Tag)
	}
	if p.Status != nil {
		out["status"] = p.Status.Backend()
	}
	if p.Color != nil {
		out["color"] = *p.Color
	}
	if p.Notes != nil {
		out["notes"] = *p.Notes
		out["description"] = *p.Notes
	}
	return out
}

// Ptr is a small helper for building Partial values.
func Ptr[T any](v T) *T {
	return &v
}
