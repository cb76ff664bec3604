// Package schedule runs the periodic jobs of the calendar service on a cron
// scheduler: the reconciling task reload and the now-line tick.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskcal/internal/log"
)

const (
	JobRefresh = "refresh"
	JobNowTick = "now_tick"
)

// Entry describes one registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type job struct {
	id   cron.EntryID
	spec string
}

// Scheduler wraps a cron.Cron. Jobs that panic are recovered and logged; a
// job still running when its next slot arrives is skipped.
type Scheduler struct {
	mu   sync.Mutex
	c    *cron.Cron
	jobs map[string]job
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	l := appLog.Cron()
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		jobs: make(map[string]job),
	}
}

// Add registers fn under name, replacing a previous job of the same name.
// An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	if spec == "" {
		appLog.Info("scheduled job disabled", "job", name)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		s.c.Remove(old.id)
		delete(s.jobs, name)
	}
	id, err := s.c.AddFunc(spec, func() {
		appLog.Debug("scheduled job start", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.jobs[name] = job{id: id, spec: spec}
	appLog.Info("scheduled job registered", "job", name, "spec", spec)
	return nil
}

// Remove unregisters name. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.c.Remove(j.id)
		delete(s.jobs, name)
	}
}

// Entries lists the registered jobs by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for name, j := range s.jobs {
		e := s.c.Entry(j.id)
		out = append(out, Entry{Name: name, Spec: j.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.c.Start()
	appLog.Info("scheduler started", "jobs", len(s.Entries()))
	<-ctx.Done()
	<-s.c.Stop().Done()
	appLog.Info("scheduler stopped")
}

// Reloader reconciles the task list with the backend.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Ticker recomputes time dependent state.
type Ticker interface {
	Tick()
}

// TickFunc adapts a plain func to Ticker.
type TickFunc func()

func (f TickFunc) Tick() { f() }

// Jobs holds the specs and targets of the standard jobs.
type Jobs struct {
	RefreshSpec string
	NowTickSpec string
	Timeout     time.Duration
	Reloader    Reloader
	Ticker      Ticker
}

// Register adds the refresh and now-tick jobs. Each reload gets its own
// timeout so a hung backend cannot stall the next run.
func (s *Scheduler) Register(j Jobs) error {
	if j.Timeout <= 0 {
		j.Timeout = 15 * time.Second
	}
	if j.Reloader != nil {
		err := s.Add(JobRefresh, j.RefreshSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
			defer cancel()
			if err := j.Reloader.Reload(ctx); err != nil {
				appLog.Error("scheduled reload failed", err)
			}
		})
		if err != nil {
			return err
		}
	}
	if j.Ticker != nil {
		if err := s.Add(JobNowTick, j.NowTickSpec, j.Ticker.Tick); err != nil {
			return err
		}
	}
	return nil
}
