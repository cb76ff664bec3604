package api

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"taskcal/internal/model"
	"taskcal/internal/normalize"
)

// LocalLayout is the zone-less wall-clock format of *_ts_local fields.
const LocalLayout = "2006-01-02T15:04:05"

// CreateInput describes a new task. Start and End are converted to wall-clock
// time in TZ; the backend derives UTC instants from them.
type CreateInput struct {
	Title         string
	Description   string
	Tag           model.Tag
	Status        model.Status
	Priority      model.Priority
	Color         string
	Start         time.Time
	End           time.Time
	TZ            string
	MinutesBefore *int
}

// CreateRequest is a task creation request as typed by a user. Times are
// strings read by the normalizer.
type CreateRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Tag           string `json:"tag"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	Color         string `json:"color"`
	Start         string `json:"start"`
	End           string `json:"end"`
	TZ            string `json:"tz"`
	MinutesBefore *int   `json:"minutes_before"`
}

// Input validates req. Missing tag, status and priority default to Other,
// todo and medium; a missing tz defaults to defaultTZ.
func (req CreateRequest) Input(norm *normalize.Normalizer, defaultTZ string) (CreateInput, error) {
	in := CreateInput{
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		Color:         strings.TrimSpace(req.Color),
		TZ:            req.TZ,
		MinutesBefore: req.MinutesBefore,
		Tag:           model.TagOther,
		Status:        model.StatusTodo,
		Priority:      model.PriorityMedium,
	}
	if in.Title == "" {
		return in, errors.New("title is required")
	}
	if in.TZ == "" {
		in.TZ = defaultTZ
	}
	if req.Tag != "" {
		in.Tag = model.Tag(req.Tag)
		if !model.ValidTag(in.Tag) {
			return in, errors.New("unknown tag")
		}
	}
	if req.Status != "" {
		st, ok := model.ParseStatus(req.Status)
		if !ok {
			return in, errors.New("unknown status")
		}
		in.Status = st
	}
	if req.Priority != "" {
		in.Priority = model.Priority(req.Priority)
		if !model.ValidPriority(in.Priority) {
			return in, errors.New("unknown priority")
		}
	}
	if req.Start != "" {
		t, ok := norm.ParseValue(req.Start)
		if !ok {
			return in, errors.New("start must be an ISO timestamp")
		}
		in.Start = t
	}
	if req.End != "" {
		t, ok := norm.ParseValue(req.End)
		if !ok {
			return in, errors.New("end must be an ISO timestamp")
		}
		in.End = t
	}
	if !in.Start.IsZero() && !in.End.IsZero() && !in.End.After(in.Start) {
		return in, errors.New("end must be after start")
	}
	return in, nil
}

// Payload renders the POST body. Empty optional fields are omitted.
func (in CreateInput) Payload(defaultTZ string) map[string]any {
	p := map[string]any{"title": strings.TrimSpace(in.Title)}
	if in.Description != "" {
		p["description"] = in.Description
	}
	if in.Tag != "" {
		p["tag"] = string(in.Tag)
	}
	if in.Status != "" {
		p["status"] = in.Status.Backend()
	}
	if in.Priority != "" {
		p["priority"] = string(in.Priority)
	}
	if in.Color != "" {
		p["color"] = in.Color
	}

	tz := in.TZ
	if tz == "" {
		tz = defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	if !in.Start.IsZero() {
		p["start_ts_local"] = in.Start.In(loc).Format(LocalLayout)
	}
	if !in.End.IsZero() {
		p["end_ts_local"] = in.End.In(loc).Format(LocalLayout)
	}
	if tz != "" {
		p["tz"] = tz
	}
	if in.MinutesBefore != nil {
		p["minutes_before"] = *in.MinutesBefore
	}
	return p
}

// Patch is a partial update in backend field names. Start and End are sent
// as full UTC instants.
type Patch struct {
	Title       *string
	Description *string
	Tag         *model.Tag
	Status      *model.Status
	Priority    *model.Priority
	Color       *string
	Start       *time.Time
	End         *time.Time
}

// isoUTC matches the millisecond UTC form browsers send.
const isoUTC = "2006-01-02T15:04:05.000Z"

func (p Patch) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields())
}

// Fields returns the patch as a backend payload map.
func (p Patch) Fields() map[string]any {
	m := map[string]any{}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.Tag != nil {
		m["tag"] = string(*p.Tag)
	}
	if p.Status != nil {
		m["status"] = p.Status.Backend()
	}
	if p.Priority != nil {
		m["priority"] = string(*p.Priority)
	}
	if p.Color != nil {
		m["color"] = *p.Color
	}
	if p.Start != nil {
		m["start_ts"] = p.Start.UTC().Format(isoUTC)
	}
	if p.End != nil {
		m["end_ts"] = p.End.UTC().Format(isoUTC)
	}
	return m
}

func (p Patch) IsZero() bool {
	return len(p.Fields()) == 0
}

// PatchFromPartial maps a client-side Partial onto backend fields. Notes are
// stored by the backend as description.
func PatchFromPartial(pt model.Partial) Patch {
	p := Patch{
		Title:       pt.Title,
		Description: pt.Description,
		Tag:         pt.Tag,
		Status:      pt.Status,
		Color:       pt.Color,
	}
	if pt.Notes != nil {
		p.Description = pt.Notes
	}
	return p
}
