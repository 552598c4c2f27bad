package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsiscan/hsiscan/internal/catalog"
	"github.com/hsiscan/hsiscan/internal/cube"
	"github.com/hsiscan/hsiscan/internal/hw/camera"
	"github.com/hsiscan/hsiscan/internal/hw/stepper"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
	"github.com/hsiscan/hsiscan/internal/logic/motion"
	"github.com/hsiscan/hsiscan/internal/logic/scan"
)

// mockAxis records moves and resets.
type mockAxis struct {
	mu       sync.Mutex
	moves    []int
	resets   int
	position int
	failAt   int // 1-based move that fails; 0 = never
}

func (a *mockAxis) Move(steps int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAt > 0 && len(a.moves)+1 == a.failAt {
		return &stepper.Error{Op: "move", Steps: steps, Err: stepper.ErrAckTimeout}
	}
	a.moves = append(a.moves, steps)
	a.position += steps
	return nil
}

func (a *mockAxis) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets++
	a.position = 0
	return nil
}

func (a *mockAxis) Position() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *mockAxis) Enable() error  { return nil }
func (a *mockAxis) Disable() error { return nil }

func (a *mockAxis) resetCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

// memRecorder keeps every recorded run.
type memRecorder struct {
	mu   sync.Mutex
	runs []catalog.Run
}

func (m *memRecorder) Record(r catalog.Run) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

func (m *memRecorder) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.runs {
		out = append(out, r.State)
	}
	return out
}

type fixture struct {
	axis *mockAxis
	dev  *camera.SimDevice
	rec  *memRecorder
	dir  string
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		axis: &mockAxis{},
		dev:  camera.NewSimDevice(camera.SimConfig{Rows: 4, Cols: 5, InitialExp: 100}),
		rec:  &memRecorder{},
		dir:  t.TempDir(),
	}
}

func (f *fixture) session(opts Options) *Session {
	opts.OutputDir = f.dir
	ctrl := motion.NewController(f.axis, geometry.DefaultRig())
	cam := camera.New(camera.NewSimSystem(f.dev), camera.Config{})
	return NewSession(ctrl, cam, f.rec, opts)
}

// testPlan covers 6 base positions, imaging every second one: 3 images of 42 microsteps.
func testPlan(t *testing.T, mutate func(*geometry.Request)) geometry.Plan {
	t.Helper()
	req := geometry.Request{
		MinFOR:            0,
		MaxFOR:            0.05,
		IntegrationTimeUs: 1000,
		ImageEverySteps:   2,
		ImagesPerStep:     2,
		FileName:          "scene.npy",
	}
	if mutate != nil {
		mutate(&req)
	}
	plan, err := geometry.PlanScan(req, geometry.DefaultRig())
	require.NoError(t, err)
	return plan
}

func TestAcquire_CompletedWithDark(t *testing.T) {
	f := newFixture(t)
	capped := 0
	var percents []int
	s := f.session(Options{
		AwaitCapOn: func(context.Context) error { capped++; return nil },
		OnProgress: func(p scan.Progress) { percents = append(percents, p.Percent) },
	})

	out, err := s.Acquire(context.Background(), testPlan(t, nil))
	require.NoError(t, err)
	assert.Equal(t, scan.Completed, out.State)
	assert.Equal(t, 3, out.Positions)
	assert.Equal(t, 1, capped)
	assert.Equal(t, []int{33, 66, 100}, percents)
	assert.Equal(t, "Mono12", out.PixelFormat)
	assert.InDelta(t, 1000, out.IntegrationUs, 1)

	// scene: 3 moves of 42, dark: 1 move of 21
	assert.Equal(t, []int{42, 42, 42, 21}, f.axis.moves)
	assert.Equal(t, 1, f.axis.resetCount())
	assert.Equal(t, 3*2+10, f.dev.Grabbed())

	require.Equal(t, filepath.Join(f.dir, "scene.npy"), out.File)
	assert.Equal(t, filepath.Join(f.dir, "scene_dark.npy"), out.DarkFile)
	for _, p := range []string{out.File, out.DarkFile} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
	r, err := os.Open(out.DarkFile)
	require.NoError(t, err)
	defer r.Close()
	dark, err := cube.ReadNPY(r)
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 5, 1}, dark.Shape())

	assert.Equal(t, []string{"running", "completed"}, f.rec.states())
	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, out.ID, st.Last.ID)
}

func TestAcquire_LabCalibrationSkipsDark(t *testing.T) {
	f := newFixture(t)
	capped := false
	s := f.session(Options{AwaitCapOn: func(context.Context) error { capped = true; return nil }})

	out, err := s.Acquire(context.Background(), testPlan(t, func(r *geometry.Request) {
		r.LabCalibration = true
		r.FileName = "lab.fits"
		r.PixelFormat = "mono8"
	}))
	require.NoError(t, err)
	assert.False(t, capped)
	assert.Nil(t, out.Dark)
	assert.Empty(t, out.DarkFile)
	assert.Equal(t, "Mono8", out.PixelFormat)
	_, err = os.Stat(filepath.Join(f.dir, "lab.fits"))
	assert.NoError(t, err)
}

func TestAcquire_MoveToStart(t *testing.T) {
	f := newFixture(t)
	s := f.session(Options{})
	plan := testPlan(t, func(r *geometry.Request) {
		r.MinFOR = -0.01
		r.MoveToStart = true
		r.LabCalibration = true
	})

	_, err := s.Acquire(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, plan.StartOffsetSteps, f.axis.moves[0])
}

func TestAcquire_CancelRehomes(t *testing.T) {
	f := newFixture(t)
	var s *Session
	s = f.session(Options{OnProgress: func(p scan.Progress) {
		if p.Completed == 1 {
			s.Cancel()
		}
	}})

	out, err := s.Acquire(context.Background(), testPlan(t, nil))
	require.NoError(t, err)
	assert.Equal(t, scan.Cancelled, out.State)
	assert.Equal(t, 1, out.Positions)
	assert.Equal(t, 2, f.axis.resetCount(), "home before and after")
	assert.Empty(t, out.File)
	_, err = os.Stat(filepath.Join(f.dir, "scene.npy"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "cancelled", f.rec.states()[1])
}

func TestAcquire_CapNotConfirmed(t *testing.T) {
	f := newFixture(t)
	s := f.session(Options{AwaitCapOn: func(context.Context) error { return errors.New("operator closed prompt") }})

	out, err := s.Acquire(context.Background(), testPlan(t, nil))
	require.NoError(t, err)
	assert.Equal(t, scan.Cancelled, out.State)
	assert.Equal(t, 3, out.Positions)
	assert.Equal(t, []int{42, 42, 42}, f.axis.moves, "no dark frame move")
}

func TestAcquire_ActuatorFailureKeepsPartial(t *testing.T) {
	f := newFixture(t)
	f.axis.failAt = 3
	s := f.session(Options{})

	out, err := s.Acquire(context.Background(), testPlan(t, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, stepper.ErrAckTimeout)
	var ferr *scan.FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 2, ferr.Position)

	assert.Equal(t, scan.Failed, out.State)
	assert.Equal(t, 2, out.Positions)
	assert.Equal(t, 1, f.axis.resetCount(), "no re-home after a failure")
	assert.Equal(t, filepath.Join(f.dir, "scene_partial.npy"), out.File)
	_, statErr := os.Stat(out.File)
	assert.NoError(t, statErr)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, "failed", f.rec.states()[1])
}

func TestAcquire_UnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	s := f.session(Options{})
	out, err := s.Acquire(context.Background(), testPlan(t, func(r *geometry.Request) { r.PixelFormat = "RGB8" }))
	assert.ErrorIs(t, err, camera.ErrUnsupportedFormat)
	assert.Equal(t, scan.Failed, out.State)
	assert.Empty(t, f.axis.moves)
}

func TestAcquire_Busy(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	s := f.session(Options{AwaitCapOn: func(context.Context) error {
		close(entered)
		<-release
		return nil
	}})

	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(context.Background(), testPlan(t, nil))
		done <- err
	}()

	<-entered
	assert.True(t, s.Running())
	assert.Equal(t, PhaseAwaitingCap, s.Status().Phase)
	_, err := s.Acquire(context.Background(), testPlan(t, nil))
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("acquisition did not finish")
	}
	assert.False(t, s.Running())
}

func TestAcquire_CancelWhileAwaitingCap(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	s := f.session(Options{AwaitCapOn: func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}})

	done := make(chan *Outcome, 1)
	go func() {
		out, err := s.Acquire(context.Background(), testPlan(t, nil))
		assert.NoError(t, err)
		done <- out
	}()

	<-entered
	s.Cancel()
	select {
	case out := <-done:
		assert.Equal(t, scan.Cancelled, out.State)
		assert.Equal(t, 2, f.axis.resetCount())
		assert.Empty(t, out.File)
	case <-time.After(10 * time.Second):
		t.Fatal("cancel did not end the cap wait")
	}
}
