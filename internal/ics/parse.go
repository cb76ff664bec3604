// Package ics converts between calendar events and iCalendar text. Export
// publishes the task list as a VCALENDAR feed; Parse and Expand turn an
// imported feed into concrete tasks to create.
package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

// ParsedEvent is one VEVENT before recurrence expansion.
type ParsedEvent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Color       string
	Tag         model.Tag
	Status      model.Status

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
}

// IsOverride reports whether the event replaces one instance of a series.
func (e ParsedEvent) IsOverride() bool {
	return e.Recurrence != nil
}

var ErrEmpty = errors.New("ics: empty body")

// Parse reads every VEVENT of body. Zone-less times are read in loc. Events
// without a UID or start are skipped and logged.
func Parse(body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmpty
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "err", err)
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parse completed", "events", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Color = propValue(ve, ical.ComponentProperty(ColorProperty))
	if out.Color == "" {
		out.Color = propValue(ve, ical.ComponentProperty("COLOR"))
	}
	out.Tag = tagFromCategories(propValue(ve, ical.ComponentPropertyCategories))
	out.Status = statusFromICS(propValue(ve, ical.ComponentPropertyStatus))

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)
	start, err := propTime(dtStart, loc)
	if err != nil {
		return out, err
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, err := propTime(dtEnd, loc); err == nil {
			out.End = end
		}
	}
	if !out.End.After(out.Start) {
		if out.AllDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start.Add(time.Hour)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(strings.TrimSpace(part), tzidOf(p, loc)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := propTime(p, loc); err == nil {
			out.Recurrence = &t
		}
	}
	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzidOf(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return fallback
}

func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	return parseTime(strings.TrimSpace(p.Value), tzidOf(p, loc))
}

// parseTime reads the DATE-TIME forms 20250101T090000Z and 20250101T090000
// (in loc) and the DATE form 20250101.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func tagFromCategories(v string) model.Tag {
	for _, c := range strings.Split(v, ",") {
		c = strings.TrimSpace(c)
		for _, t := range model.Tags {
			if strings.EqualFold(c, string(t)) {
				return t
			}
		}
	}
	return model.TagOther
}

func statusFromICS(v string) model.Status {
	switch strings.ToUpper(v) {
	case "COMPLETED":
		return model.StatusDone
	case "IN-PROCESS":
		return model.StatusDoing
	default:
		return model.StatusTodo
	}
}

func statusToICS(s model.Status) string {
	switch s {
	case model.StatusDone:
		return "COMPLETED"
	case model.StatusDoing:
		return "IN-PROCESS"
	default:
		return "NEEDS-ACTION"
	}
}
