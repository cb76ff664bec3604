package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"taskcal/internal/api"
	appLog "taskcal/internal/log"
)

// DefaultMaxOccurrences caps the instances produced for one series.
const DefaultMaxOccurrences = 500

// Range is the half-open span occurrences must intersect.
type Range struct {
	From time.Time
	To   time.Time
}

// Occurrence is one concrete instance of a parsed event.
type Occurrence struct {
	Event ParsedEvent
	Start time.Time
	End   time.Time
}

type ExpandResult struct {
	Occurrences []Occurrence
	// Truncated lists the UIDs that hit the cap.
	Truncated []string
}

// Expand resolves single events and RRULE series inside r. EXDATEs remove
// instances and RECURRENCE-ID overrides replace them. Results are ordered by
// start and converted to loc.
func Expand(events []ParsedEvent, r Range, loc *time.Location, maxPerSeries int) (ExpandResult, error) {
	var res ExpandResult
	if r.To.Before(r.From) {
		return res, errors.New("ics: range end is before range start")
	}
	if loc == nil {
		loc = time.Local
	}
	if maxPerSeries <= 0 {
		maxPerSeries = DefaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	for _, uid := range uids {
		for _, ev := range bases[uid] {
			occ, capped := expandOne(ev, overrides[uid], r, maxPerSeries)
			if capped {
				res.Truncated = append(res.Truncated, uid)
				appLog.Warn("ics: series truncated", "uid", uid, "cap", maxPerSeries)
			}
			res.Occurrences = append(res.Occurrences, occ...)
		}
	}

	for i := range res.Occurrences {
		res.Occurrences[i].Start = res.Occurrences[i].Start.In(loc)
		res.Occurrences[i].End = res.Occurrences[i].End.In(loc)
	}
	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		return res.Occurrences[i].Start.Before(res.Occurrences[j].Start)
	})
	return res, nil
}

func overlaps(start, end time.Time, r Range) bool {
	return end.After(r.From) && start.Before(r.To)
}

func expandOne(ev ParsedEvent, ovs []ParsedEvent, r Range, maxPerSeries int) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, r) {
			return nil, false
		}
		return []Occurrence{{Event: ev, Start: ev.Start, End: ev.End}}, false
	}

	rule, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Instances starting before r.From can still reach into it.
	from := r.From.Add(-dur).In(ev.Start.Location())
	starts := set.Between(from, r.To.In(ev.Start.Location()), true)

	capped := false
	if len(starts) > maxPerSeries {
		starts = starts[:maxPerSeries]
		capped = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		occ := Occurrence{Event: ev, Start: s, End: s.Add(dur)}
		if o, ok := overrideFor(ovs, s); ok {
			occ = Occurrence{Event: o, Start: o.Start, End: o.End}
		}
		if overlaps(occ.Start, occ.End, r) {
			out = append(out, occ)
		}
	}
	return out, capped
}

func overrideFor(ovs []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range ovs {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// CreateInputs maps occurrences onto task creation requests in tz.
func CreateInputs(occ []Occurrence, tz string) []api.CreateInput {
	out := make([]api.CreateInput, 0, len(occ))
	for _, o := range occ {
		title := o.Event.Summary
		if title == "" {
			title = "Imported event"
		}
		out = append(out, api.CreateInput{
			Title:       title,
			Description: o.Event.Description,
			Tag:         o.Event.Tag,
			Status:      o.Event.Status,
			Color:       o.Event.Color,
			Start:       o.Start,
			End:         o.End,
			TZ:          tz,
		})
	}
	return out
}
