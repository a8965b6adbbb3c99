package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// Batch is a contiguous half-open row range [Start, End)
type Batch struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of rows in the batch
func (b Batch) Len() int64 {
	return b.End - b.Start
}

// Plan splits total rows into ceil(total/size) batches covering [0, total)
func Plan(total, size int64) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", size)
	}
	if total < 0 {
		return nil, fmt.Errorf("invalid row count %d", total)
	}

	n := (total + size - 1) / size
	batches := make([]Batch, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * size
		batches = append(batches, Batch{
			Index: int(i),
			Start: start,
			End:   min(start+size, total),
		})
	}
	return batches, nil
}

// BatchState is the lifecycle state of one batch
type BatchState int

const (
	StatePending BatchState = iota
	StateAccumulating
	StateSerializing
	StateDone
	StateFailed
	// StateCancelled marks a batch stopped because another batch failed
	StateCancelled
)

func (s BatchState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateSerializing:
		return "SERIALIZING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("BatchState(%d)", int(s))
	}
}

// ErrIllegalTransition is returned for a state change the lifecycle forbids
var ErrIllegalTransition = errors.New("illegal batch state transition")

// CanTransition reports whether the lifecycle allows moving from s to next
func (s BatchState) CanTransition(next BatchState) bool {
	switch s {
	case StatePending:
		return next == StateAccumulating || next == StateFailed
	case StateAccumulating:
		return next == StateSerializing || next == StateFailed || next == StateCancelled
	case StateSerializing:
		return next == StateDone || next == StateFailed || next == StateCancelled
	default:
		return false
	}
}

// BatchError reports a failed batch and the state it failed in
type BatchError struct {
	Index int
	State BatchState
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed while %s: %v", e.Index, e.State, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Tracker records the state of every batch of a run
type Tracker struct {
	mu     sync.Mutex
	states []BatchState
}

// NewTracker creates a tracker with n pending batches
func NewTracker(n int) *Tracker {
	return &Tracker{states: make([]BatchState, n)}
}

// Transition moves batch i to next
func (t *Tracker) Transition(i int, next BatchState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.states) {
		return fmt.Errorf("unknown batch %d", i)
	}
	current := t.states[i]
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: batch %d %s -> %s", ErrIllegalTransition, i, current, next)
	}
	t.states[i] = next
	return nil
}

// State returns the state of batch i
func (t *Tracker) State(i int) BatchState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[i]
}

// Count returns how many batches are in state s
func (t *Tracker) Count(s BatchState) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, state := range t.states {
		if state == s {
			n++
		}
	}
	return n
}

// Len returns the number of tracked batches
func (t *Tracker) Len() int {
	return len(t.states)
}

// RunState is the state of a whole pipeline run
type RunState int

const (
	RunRunning RunState = iota
	RunDone
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunRunning:
		return "RUNNING"
	case RunDone:
		return "DONE"
	case RunFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}
