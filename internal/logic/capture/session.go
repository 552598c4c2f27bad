package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hsiscan/hsiscan/internal/catalog"
	"github.com/hsiscan/hsiscan/internal/cube"
	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/hw/camera"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
	"github.com/hsiscan/hsiscan/internal/logic/motion"
	"github.com/hsiscan/hsiscan/internal/logic/scan"
)

// ErrBusy is returned when an acquisition is already running.
var ErrBusy = errors.New("acquisition already running")

// Phase is the step an acquisition is in.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseHoming      Phase = "homing"
	PhaseConfiguring Phase = "configuring"
	PhaseScanning    Phase = "scanning"
	PhaseAwaitingCap Phase = "awaiting-cap"
	PhaseDark        Phase = "dark"
	PhaseSaving      Phase = "saving"
)

// Recorder stores acquisition records.
type Recorder interface {
	Record(catalog.Run) error
}

// Options tune a Session.
type Options struct {
	OutputDir   string
	PixelFormat camera.PixelFormat // default pixel format. "" = Mono12.

	// AwaitCapOn blocks until the operator has capped the lens for the
	// dark frame. nil proceeds immediately.
	AwaitCapOn func(ctx context.Context) error

	OnProgress func(scan.Progress)
	OnPhase    func(Phase)
}

// Status is a snapshot of the session.
type Status struct {
	ID       string        `json:"id,omitempty"`
	Phase    Phase         `json:"phase"`
	Running  bool          `json:"running"`
	Progress scan.Progress `json:"progress"`
	Last     *Outcome      `json:"last,omitempty"`
}

// Outcome is the result of one acquisition.
type Outcome struct {
	ID            string        `json:"id"`
	State         scan.State    `json:"state"`
	Plan          geometry.Plan `json:"-"`
	Scene         *scan.Result  `json:"-"`
	Dark          *scan.Result  `json:"-"`
	IntegrationUs float64       `json:"integration_us"`
	PixelFormat   string        `json:"pixel_format"`
	File          string        `json:"file,omitempty"`
	DarkFile      string        `json:"dark_file,omitempty"`
	Positions     int           `json:"positions"`
	Started       time.Time     `json:"started"`
	Finished      time.Time     `json:"finished"`
	Error         string        `json:"error,omitempty"`
}

// Session runs acquisitions on one scan head. It owns the motion
// controller and camera for the duration of each acquisition; only one
// acquisition runs at a time.
type Session struct {
	motion *motion.Controller
	cam    camera.FrameSource
	rec    Recorder
	opts   Options

	running atomic.Bool

	mu        sync.Mutex
	id        string
	phase     Phase
	progress  scan.Progress
	current   *scan.Handle
	stopAwait context.CancelFunc
	cancelled bool
	last      *Outcome
}

// NewSession creates a session. rec may be nil.
func NewSession(m *motion.Controller, cam camera.FrameSource, rec Recorder, opts Options) *Session {
	if opts.PixelFormat == "" {
		opts.PixelFormat = camera.Mono12
	}
	return &Session{motion: m, cam: cam, rec: rec, opts: opts, phase: PhaseIdle}
}

// Running reports whether an acquisition is in progress.
func (s *Session) Running() bool { return s.running.Load() }

// Cancel stops the running acquisition at its next checkpoint.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.current != nil {
		s.current.Cancel()
	}
	if s.stopAwait != nil {
		s.stopAwait()
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{ID: s.id, Phase: s.phase, Running: s.running.Load(), Progress: s.progress, Last: s.last}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	debug.Verbose("Acquisition phase: %s", p)
	if s.opts.OnPhase != nil {
		s.opts.OnPhase(p)
	}
}

func (s *Session) cancelRequested(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled || ctx.Err() != nil
}

// Acquire runs a full acquisition for plan: home, configure the camera,
// scan the scene, take the dark frame unless the request is a lab
// calibration, save the cubes and record the run.
//
// A cancelled acquisition re-homes the axis, saves nothing and returns a
// nil error. A failed one leaves the axis where it stopped, saves the
// completed positions as <name>_partial and returns the error.
func (s *Session) Acquire(ctx context.Context, plan geometry.Plan) (*Outcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.running.Store(false)

	out := &Outcome{ID: uuid.NewString(), Plan: plan, State: scan.Running, Started: time.Now()}
	s.mu.Lock()
	s.id, s.cancelled, s.progress = out.ID, false, scan.Progress{Total: plan.ImagesPerScene}
	s.mu.Unlock()
	defer s.finish(out)

	debug.Section("Acquisition " + out.ID)
	s.record(out)

	err := s.acquire(ctx, plan, out)
	if err != nil {
		out.State = scan.Failed
		out.Error = err.Error()
		debug.Error(err)
		if out.Scene != nil && out.Scene.Positions() > 0 {
			s.savePartial(out)
		}
	}
	return out, err
}

func (s *Session) acquire(ctx context.Context, plan geometry.Plan, out *Outcome) error {
	req := plan.Request

	s.setPhase(PhaseHoming)
	if err := s.motion.Home(); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	if req.MoveToStart {
		if err := s.motion.MoveToStart(plan); err != nil {
			return fmt.Errorf("move to start: %w", err)
		}
	}

	s.setPhase(PhaseConfiguring)
	format := s.opts.PixelFormat
	if req.PixelFormat != "" {
		f, err := camera.ParsePixelFormat(req.PixelFormat)
		if err != nil {
			return err
		}
		format = f
	}
	if err := s.cam.SetPixelFormat(format); err != nil {
		return err
	}
	integ, err := s.cam.SetIntegrationTime(req.IntegrationTimeUs)
	if err != nil {
		return err
	}
	out.PixelFormat, out.IntegrationUs = string(format), integ

	s.setPhase(PhaseScanning)
	res, err := s.runScan(ctx, plan.ScanConfig(), func(p scan.Progress) {
		s.mu.Lock()
		s.progress = p
		s.mu.Unlock()
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(p)
		}
	})
	out.Scene = res
	out.Positions = res.Positions()
	if err != nil {
		return fmt.Errorf("scene scan: %w", err)
	}
	if res.State == scan.Cancelled {
		return s.abandon(out)
	}

	if !req.LabCalibration {
		s.setPhase(PhaseAwaitingCap)
		if s.opts.AwaitCapOn != nil {
			debug.Live("Waiting for the lens cap")
			if err := s.awaitCapOn(ctx); err != nil {
				debug.Info("Dark frame skipped: %v", err)
				return s.abandon(out)
			}
		}
		if s.cancelRequested(ctx) {
			return s.abandon(out)
		}

		s.setPhase(PhaseDark)
		dark, err := s.runScan(ctx, plan.DarkScanConfig(), nil)
		out.Dark = dark
		if err != nil {
			return fmt.Errorf("dark frame: %w", err)
		}
		if dark.State == scan.Cancelled {
			return s.abandon(out)
		}
	}

	s.setPhase(PhaseSaving)
	meta := s.meta(out)
	out.File = cube.ResolvePath(s.opts.OutputDir, req.FileName)
	if err := cube.Save(out.File, out.Scene.Cube, meta); err != nil {
		return err
	}
	if out.Dark != nil {
		meta.Dark = true
		meta.ImagesPerStep = geometry.DarkRepeats
		out.DarkFile = cube.WithSuffix(out.File, "dark")
		if err := cube.Save(out.DarkFile, out.Dark.Cube, meta); err != nil {
			return err
		}
	}
	out.State = scan.Completed
	debug.Info("Acquisition %s completed: %d positions", out.ID, out.Positions)
	return nil
}

func (s *Session) runScan(ctx context.Context, cfg scan.Config, onProgress func(scan.Progress)) (*scan.Result, error) {
	h, err := scan.Start(ctx, cfg, s.motion.Axis(), s.cam, scan.Callbacks{OnProgress: onProgress})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = h
	if s.cancelled {
		h.Cancel()
	}
	s.mu.Unlock()

	res, err := h.Wait()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return res, err
}

// awaitCapOn runs the AwaitCapOn hook under a context that Cancel also ends.
func (s *Session) awaitCapOn(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	s.mu.Lock()
	if s.cancelled {
		stop()
	}
	s.stopAwait = stop
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stopAwait = nil
		s.mu.Unlock()
	}()
	return s.opts.AwaitCapOn(ctx)
}

// abandon re-homes after a cancellation.
func (s *Session) abandon(out *Outcome) error {
	out.State = scan.Cancelled
	s.setPhase(PhaseHoming)
	if err := s.motion.Home(); err != nil {
		return fmt.Errorf("home after cancel: %w", err)
	}
	debug.Info("Acquisition %s cancelled after %d positions", out.ID, out.Positions)
	return nil
}

func (s *Session) savePartial(out *Outcome) {
	path := cube.WithSuffix(cube.ResolvePath(s.opts.OutputDir, out.Plan.Request.FileName), "partial")
	if err := cube.Save(path, out.Scene.Cube, s.meta(out)); err != nil {
		debug.Error(fmt.Errorf("save partial cube: %w", err))
		return
	}
	out.File = path
}

func (s *Session) meta(out *Outcome) cube.Meta {
	return cube.Meta{
		ScanID:           out.ID,
		Started:          out.Started,
		IntegrationUs:    out.IntegrationUs,
		PixelFormat:      out.PixelFormat,
		ImagesPerStep:    out.Plan.Request.ImagesPerStep,
		RawStepsPerImage: out.Plan.RawStepsPerImage,
		MinFOR:           out.Plan.Request.MinFOR,
		MaxFOR:           out.Plan.Request.MaxFOR,
	}
}

func (s *Session) finish(out *Outcome) {
	out.Finished = time.Now()
	s.record(out)
	s.mu.Lock()
	s.last = out
	s.mu.Unlock()
	s.setPhase(PhaseIdle)
}

func (s *Session) record(out *Outcome) {
	if s.rec == nil {
		return
	}
	run := catalog.Run{
		ID:                 out.ID,
		StartedAt:          out.Started,
		State:              out.State.String(),
		PositionsRequested: out.Plan.ImagesPerScene,
		PositionsCompleted: out.Positions,
		RawStepsPerImage:   out.Plan.RawStepsPerImage,
		ImagesPerStep:      out.Plan.Request.ImagesPerStep,
		IntegrationUs:      out.IntegrationUs,
		PixelFormat:        out.PixelFormat,
		File:               out.File,
		DarkFile:           out.DarkFile,
		Error:              out.Error,
	}
	if out.State != scan.Running {
		run.FinishedAt = out.Finished
	}
	if err := s.rec.Record(run); err != nil {
		debug.Error(fmt.Errorf("catalog: %w", err))
	}
}
