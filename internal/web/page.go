package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"taskcal/internal/calendar"
	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.4f%%", v) },
	"px":  func(v float64) string { return fmt.Sprintf("%.2fpx", v) },
	"hhmm": func(t time.Time) string {
		return t.Format("15:04")
	},
	"gridHeight": func(s calendar.Snapshot) float64 {
		return float64(len(s.Hours)) * s.HourHeight
	},
	"columnWidth": func(s calendar.Snapshot) int {
		return s.Metrics.DayColumnWidth
	},
	"safeColor": func(c string) template.CSS {
		return template.CSS(c)
	},
}).ParseFS(templateFS, "templates/calendar.html"))

type pageData struct {
	calendar.Snapshot
	Ready bool
	Error string
}

// handleCalendarPage renders the grid. data-ready is set once the first load
// finished, successfully or not, so snapshots never wait forever.
func (s *Server) handleCalendarPage(w http.ResponseWriter, _ *http.Request) {
	if s.view == nil {
		http.Error(w, "calendar view not available", http.StatusServiceUnavailable)
		return
	}
	data := pageData{Snapshot: s.view.Snapshot(), Ready: true}
	if s.tasks != nil {
		data.Ready = s.tasks.Version() > 0
		if err := s.tasks.LastLoadError(); err != nil {
			data.Error = err.Error()
			data.Ready = true
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		appLog.Error("calendar page render failed", err)
	}
}

// handleICS publishes every loaded task as a VCALENDAR feed.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	var events []model.CalendarEvent
	if s.tasks != nil {
		events = s.tasks.Events()
	}
	body := ics.Export(events, ics.ExportOptions{Name: "taskcal"})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	_, _ = w.Write([]byte(body))
}
