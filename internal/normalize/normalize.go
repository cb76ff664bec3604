// Package normalize maps loosely-shaped backend task records onto
// model.CalendarEvent. Records that cannot be placed on the grid are dropped,
// never reported as errors, so one bad record cannot block the rest.
package normalize

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

// DefaultDuration is used when a record has no usable end.
const DefaultDuration = 60 * time.Minute

// DefaultTitle is shown for records without a title or name.
const DefaultTitle = "Untitled"

// Palette is the fallback color set for tasks without a color.
var Palette = []string{
	"#86E3FF",
	"#B28DFF",
	"#9DE8C1",
	"#FFD29D",
	"#FFB7C5",
	"#A0C4FF",
	"#C9F4AA",
	"#FECACA",
	"#C7D2FE",
	"#FDE68A",
	"#FBCFE8",
	"#FCD34D",
}

// Known field names, highest priority first.
var (
	startKeys = []string{
		"start_ts", "start_ts_local", "start_ts_utc", "start_at", "start",
		"start_at_local", "start_at_utc",
		"scheduled_for_local", "scheduled_for_utc", "begin_at", "beginAt",
	}
	endKeys = []string{
		"end_ts", "end_ts_local", "end_ts_utc", "end_at", "end", "due_at",
		"end_at_local", "end_at_utc",
		"dueAt", "finish_at", "finishAt",
	}
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 9_999_999_999

// Normalizer turns records into calendar events.
type Normalizer struct {
	// Location interprets timestamps that carry no zone. Nil means time.Local.
	Location *time.Location
	// Palette overrides the package palette when non-empty.
	Palette []string
}

// New returns a Normalizer for loc.
func New(loc *time.Location) *Normalizer {
	return &Normalizer{Location: loc}
}

func (n *Normalizer) loc() *time.Location {
	if n == nil || n.Location == nil {
		return time.Local
	}
	return n.Location
}

func (n *Normalizer) palette() []string {
	if n != nil && len(n.Palette) > 0 {
		return n.Palette
	}
	return Palette
}

// Normalize maps one record. ok is false when the record has no identifier
// or no parseable start.
func (n *Normalizer) Normalize(rec model.Record) (model.CalendarEvent, bool) {
	id := rec.ID()
	if id == "" {
		appLog.Debug("normalize: dropping record without id")
		return model.CalendarEvent{}, false
	}

	start, ok := n.ResolveTime(rec, "start")
	if !ok {
		appLog.Debug("normalize: dropping record without start", "id", id)
		return model.CalendarEvent{}, false
	}
	end, ok := n.ResolveTime(rec, "end")
	if !ok || !end.After(start) {
		end = start.Add(DefaultDuration)
	}

	task := n.toTask(rec, id)
	title := task.Title
	color := task.Color
	if color == "" {
		color = n.FallbackColor(id, title)
		task.Color = color
	}
	task.Start = start.Format(time.RFC3339)
	task.End = end.Format(time.RFC3339)

	return model.CalendarEvent{
		ID:          id,
		Title:       title,
		Start:       start,
		End:         end,
		Color:       color,
		Description: task.Description,
		Notes:       task.Notes,
		Resource:    task,
	}, true
}

// Events maps a full task list. Order follows the input.
func (n *Normalizer) Events(records []model.Record) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(records))
	for _, rec := range records {
		if ev, ok := n.Normalize(rec); ok {
			out = append(out, ev)
		}
	}
	return out
}

// ToTask returns the editor view of rec without requiring parseable times.
func (n *Normalizer) ToTask(rec model.Record) (model.Task, bool) {
	id := rec.ID()
	if id == "" {
		return model.Task{}, false
	}
	t := n.toTask(rec, id)
	if t.Color == "" {
		t.Color = n.FallbackColor(id, t.Title)
	}
	return t, true
}

func (n *Normalizer) toTask(rec model.Record, id string) model.Task {
	title := rec.String("title")
	if title == "" {
		title = rec.String("name")
	}
	if title == "" {
		title = DefaultTitle
	}

	description := rec.String("description")
	if description == "" {
		description = rec.String("notes")
	}
	notes := rec.String("notes")
	if notes == "" {
		notes = rec.String("description")
	}

	tag := model.Tag(rec.String("tag"))
	if tag == "" {
		tag = model.TagOther
	}

	t := model.Task{
		ID:           id,
		Title:        title,
		Description:  description,
		Tag:          tag,
		Status:       model.StatusFromBackend(rec.String("status")),
		Color:        sanitizeColor(rec.String("color")),
		Notes:        notes,
		Participants: participants(rec["participants"]),
	}
	if rid := rec.String("recurrence_id"); rid != "" {
		t.RecurrenceID = &rid
	}
	if s, ok := n.ResolveTime(rec, "start"); ok {
		t.Start = s.Format(time.RFC3339)
	}
	if e, ok := n.ResolveTime(rec, "end"); ok {
		t.End = e.Format(time.RFC3339)
	}
	return t
}

func participants(v any) []model.Participant {
	items, ok := v.([]any)
	if !ok {
		return []model.Participant{}
	}
	out := make([]model.Participant, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		r := model.Record(m)
		p := model.Participant{ID: r.ID(), Name: r.String("name"), AvatarURL: r.String("avatarUrl")}
		if p.AvatarURL == "" {
			p.AvatarURL = r.String("avatar_url")
		}
		if p.ID == "" && p.Name == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ResolveTime finds the first parseable instant for which ("start" or "end").
// Known names are tried first, then every key containing which, best scored
// first.
func (n *Normalizer) ResolveTime(rec model.Record, which string) (time.Time, bool) {
	known := startKeys
	if which == "end" {
		known = endKeys
	}
	for _, k := range known {
		if t, ok := n.ParseValue(rec[k]); ok {
			return t, true
		}
	}

	for _, k := range candidateKeys(rec, which) {
		if t, ok := n.ParseValue(rec[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func candidateKeys(rec model.Record, needle string) []string {
	keys := make([]string, 0, 4)
	for k := range rec {
		if strings.Contains(strings.ToLower(k), needle) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := scoreKey(keys[i], needle), scoreKey(keys[j], needle)
		if si != sj {
			return si > sj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func scoreKey(k, needle string) int {
	s := strings.ToLower(k)
	score := 0
	if strings.Contains(s, needle) {
		score += 10
	}
	if strings.Contains(s, "local") {
		score += 5
	}
	if strings.Contains(s, "utc") {
		score += 3
	}
	if strings.HasSuffix(s, "at") {
		score += 2
	}
	return score
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	time.RFC1123Z,
	time.RFC1123,
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseValue parses an ISO-like string or an epoch number. Empty strings,
// zero and non-scalar values are not dates.
func (n *Normalizer) ParseValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return n.parseString(t)
	case float64:
		return fromEpoch(t)
	case int:
		return fromEpoch(float64(t))
	case int64:
		return fromEpoch(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	default:
		return time.Time{}, false
	}
}

func (n *Normalizer) parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if math.Abs(f) > epochMillisThreshold {
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// FallbackColor picks a palette color from id+title. The same pair always
// yields the same color.
func (n *Normalizer) FallbackColor(id, title string) string {
	p := n.palette()
	return p[HashString(id+title)%int64(len(p))]
}

// HashString is the 32-bit rolling hash h = h*31 + c over UTF-16 code
// units, returned as an absolute value.
func HashString(s string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

func sanitizeColor(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return ""
	}
	if strings.HasPrefix(c, "#") {
		hex := c[1:]
		switch len(hex) {
		case 3, 4, 6, 8:
		default:
			return ""
		}
		for _, r := range hex {
			if !isHexDigit(r) {
				return ""
			}
		}
		return c
	}
	for _, r := range c {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return ""
		}
	}
	return c
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// ExtractItems unwraps a decoded list response: a bare array, or an object
// with an "items" or "data" array. Any other shape is empty.
func ExtractItems(body any) []model.Record {
	var arr []any
	switch t := body.(type) {
	case []any:
		arr = t
	case map[string]any:
		if items, ok := t["items"].([]any); ok {
			arr = items
		} else if data, ok := t["data"].([]any); ok {
			arr = data
		}
	}

	out := make([]model.Record, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			out = append(out, model.Record(m))
		}
	}
	return out
}

// DecodeItems decodes a raw list response body with ExtractItems. Invalid
// JSON yields an empty list and the decode error.
func DecodeItems(body []byte) ([]model.Record, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return []model.Record{}, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return []model.Record{}, err
	}
	return ExtractItems(v), nil
}
