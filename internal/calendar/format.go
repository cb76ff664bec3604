package calendar

import (
	"fmt"
	"time"

	"taskcal/internal/window"
)

// Title is the compact week range: "Jun 03 – 09", or "Jun 30 – Jul 06" when
// the week spans two months.
func Title(d time.Time) string {
	s := window.WeekStart(d)
	e := s.AddDate(0, 0, 6)
	if s.Month() == e.Month() {
		return s.Format("Jan 02") + " – " + e.Format("02")
	}
	return s.Format("Jan 02") + " – " + e.Format("Jan 02")
}

// WeekRange is the long form used by the topbar: "June 03 – 09" or
// "June 30 – July 06".
func WeekRange(d time.Time) string {
	s := window.WeekStart(d)
	e := s.AddDate(0, 0, 6)
	if s.Month() == e.Month() {
		return s.Format("January 02") + " – " + e.Format("02")
	}
	return s.Format("January 02") + " – " + e.Format("January 02")
}

// WeekLabel prefixes WeekRange with the ISO week number.
func WeekLabel(d time.Time) string {
	_, w := window.WeekStart(d).ISOWeek()
	return fmt.Sprintf("Week %d · %s", w, WeekRange(d))
}

func DayTitle(d time.Time) string {
	return d.Format("Mon, January 02, 2006")
}

func MonthLabel(d time.Time) string {
	return d.Format("January 2006")
}

// TimeRange formats an event span as "09:00 – 10:30".
func TimeRange(start, end time.Time) string {
	return start.Format("15:04") + " – " + end.Format("15:04")
}
