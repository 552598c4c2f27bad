/*
Package scan runs the scene scan state machine.

At each position the orchestrator captures ImagesPerStep frames, averages
them, appends the average to the cube and advances the actuator by one
image pitch. Moves and captures strictly alternate; the actuator
acknowledgment round trip is the settling delay before the next capture.

Cancellation is cooperative. It is observed before each position and
between captures, never in the middle of a move or a grab.
*/
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/frame"
	"github.com/hsiscan/hsiscan/internal/logic/exposure"
)

// Actuator advances the positioner by raw microsteps.
type Actuator interface {
	Move(steps int) error
}

// FrameSource delivers one frame per call.
type FrameSource interface {
	Capture(ctx context.Context) (frame.Frame, error)
}

// State is the orchestrator lifecycle.
type State int32

const (
	Idle State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scan state %q", b)
}

// Progress is emitted after each completed position.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

// Result is the terminal state of a scan and the cube it produced. Cube
// depth equals the number of completed positions.
type Result struct {
	State  State
	Cube   *frame.Cube
	Config Config
}

// Positions returns the number of completed positions.
func (r *Result) Positions() int {
	if r == nil || r.Cube == nil {
		return 0
	}
	return r.Cube.Depth
}

// FailedError is returned when a capture or advance fails. The scan's
// Result is still returned alongside it with the completed positions.
type FailedError struct {
	Position int
	Phase    string // "capture", "average", "assemble" or "advance"
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("scan failed at position %d (%s): %v", e.Position, e.Phase, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("scan already started")

// Callbacks receive scan events on the scan goroutine.
type Callbacks struct {
	OnProgress  func(Progress)
	OnCancelled func()
}

// Orchestrator owns an actuator and a frame source for one scan.
type Orchestrator struct {
	cfg    Config
	act    Actuator
	src    FrameSource
	cb     Callbacks
	cancel atomic.Bool
	state  atomic.Int32
}

// New validates cfg and returns an idle orchestrator. cfg is copied.
func New(cfg Config, act Actuator, src FrameSource, cb Callbacks) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{cfg: cfg, act: act, src: src, cb: cb}, nil
}

// Config returns the scan configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Cancel requests cancellation. Safe from any goroutine; takes effect at
// the next checkpoint.
func (o *Orchestrator) Cancel() { o.cancel.Store(true) }

func (o *Orchestrator) cancelRequested(ctx context.Context) bool {
	return o.cancel.Load() || ctx.Err() != nil
}

// Run executes the scan. It returns a nil error on completion or
// cancellation and a *FailedError on a fatal device or actuator failure.
// The Result is non-nil in every case except ErrAlreadyStarted.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return nil, ErrAlreadyStarted
	}

	n := o.cfg.ImagesPerScene
	repeats := o.cfg.ImagesPerStep
	cube := frame.NewCube(0, 0)
	debug.Plan(n, repeats, o.cfg.RawStepsPerImage)

	for i := 0; i < n; i++ {
		if o.cancelRequested(ctx) {
			return o.cancelled(cube), nil
		}
		debug.Position(i+1, n)

		batch := make([]frame.Frame, 0, repeats)
		for j := 0; j < repeats; j++ {
			if j > 0 && o.cancelRequested(ctx) {
				debug.Verbose("Discarding partial batch (%d/%d frames)", j, repeats)
				return o.cancelled(cube), nil
			}
			f, err := o.src.Capture(ctx)
			if err != nil {
				return o.failed(cube, i, "capture", err)
			}
			debug.Capture(i+1, j+1, repeats)
			batch = append(batch, f)
		}

		avg, err := exposure.Average(batch, repeats)
		if err != nil {
			return o.failed(cube, i, "average", err)
		}
		if err := cube.Append(avg); err != nil {
			return o.failed(cube, i, "assemble", err)
		}

		if err := o.act.Move(o.cfg.RawStepsPerImage); err != nil {
			// The position's frame is valid, but the position never
			// completed, so it is not part of the result.
			cube.Truncate(i)
			return o.failed(cube, i, "advance", err)
		}

		p := Progress{Completed: i + 1, Total: n, Percent: (i + 1) * 100 / n}
		debug.Live("Progress: %d/%d (%d%%)", p.Completed, p.Total, p.Percent)
		if o.cb.OnProgress != nil {
			o.cb.OnProgress(p)
		}
	}

	o.state.Store(int32(Completed))
	debug.Info("Scan completed: %d positions", cube.Depth)
	return &Result{State: Completed, Cube: cube, Config: o.cfg}, nil
}

func (o *Orchestrator) cancelled(cube *frame.Cube) *Result {
	o.state.Store(int32(Cancelled))
	debug.Info("Scan cancelled after %d positions", cube.Depth)
	if o.cb.OnCancelled != nil {
		o.cb.OnCancelled()
	}
	return &Result{State: Cancelled, Cube: cube, Config: o.cfg}
}

func (o *Orchestrator) failed(cube *frame.Cube, pos int, phase string, err error) (*Result, error) {
	o.state.Store(int32(Failed))
	ferr := &FailedError{Position: pos, Phase: phase, Err: err}
	debug.Error(ferr)
	return &Result{State: Failed, Cube: cube, Config: o.cfg}, ferr
}
