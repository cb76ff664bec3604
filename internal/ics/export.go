package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"taskcal/internal/model"
)

const ProductID = "-//taskcal//calendar feed//EN"

type ExportOptions struct {
	Name string
	// Stamp is written as DTSTAMP. Zero means now.
	Stamp time.Time
}

// Export renders events as a VCALENDAR. Times are written in UTC.
func Export(events []model.CalendarEvent, opts ExportOptions) string {
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}

	for _, e := range events {
		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(e.Start.UTC())
		ve.SetEndAt(e.End.UTC())
		ve.SetSummary(e.Title)
		if d := description(e); d != "" {
			ve.SetDescription(d)
		}
		if name := cssColorName(e.Color); name != "" {
			ve.SetProperty(ical.ComponentProperty("COLOR"), name)
		}
		if strings.HasPrefix(e.Color, "#") {
			ve.SetProperty(ical.ComponentProperty(ColorProperty), e.Color)
		}
		if e.Resource.Tag != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, string(e.Resource.Tag))
		}
		ve.SetProperty(ical.ComponentPropertyStatus, statusToICS(e.Resource.Status))
	}
	return cal.Serialize()
}

func description(e model.CalendarEvent) string {
	if e.Description != "" {
		return e.Description
	}
	return e.Notes
}
