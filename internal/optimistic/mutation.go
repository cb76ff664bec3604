package optimistic

import (
	"fmt"
	"time"

	"taskcal/internal/model"
)

// State is the lifecycle position of one mutation.
type State int

const (
	StateIdle State = iota
	StateOptimistic
	StateCommitting
	StateReconciled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOptimistic:
		return "optimistic"
	case StateCommitting:
		return "committing"
	case StateReconciled:
		return "reconciled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateReconciled; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("optimistic: unknown state %q", b)
}

type Kind string

const (
	KindMove   Kind = "move"
	KindResize Kind = "resize"
	KindColor  Kind = "color"
	KindNotes  Kind = "notes"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Mutation records one user edit from optimistic apply to reconciliation.
type Mutation struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	TaskID string `json:"task_id"`
	State  State  `json:"state"`
	// Skipped is set when the edit was a no-op and nothing was sent.
	Skipped bool `json:"skipped,omitempty"`

	CommitErr    error `json:"-"`
	ReconcileErr error `json:"-"`

	StartedAt time.Time `json:"started_at"`
	DoneAt    time.Time `json:"done_at,omitempty"`
}

// Err returns the commit error, which is what callers act on.
func (m Mutation) Err() error {
	return m.CommitErr
}

// overlay is the local effect of a mutation still awaiting its commit. It
// is re-applied over fetched data so an unrelated reload does not hide it.
type overlay struct {
	mutationID string
	taskID     string
	// apply returns the updated record, or false to drop it.
	apply func(model.Record) (model.Record, bool)
}

func applyOverlays(records []model.Record, pending []overlay) []model.Record {
	if len(pending) == 0 {
		return records
	}
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		id := r.ID()
		keep := true
		for _, o := range pending {
			if o.taskID != id {
				continue
			}
			if r, keep = o.apply(r); !keep {
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}
