package camera

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hsiscan/hsiscan/internal/frame"
)

// SimConfig shapes a simulated camera.
type SimConfig struct {
	Rows       int
	Cols       int
	FrameRate  float64 // frames per second. 0 = unpaced.
	Increment  float64 // exposure increment in us. 0 = 1.
	MinExpUS   float64
	MaxExpUS   float64
	InitialExp float64
}

// DefaultSimConfig matches the rig's sensor geometry.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Rows:       544,
		Cols:       728,
		FrameRate:  60,
		Increment:  1.0,
		MinExpUS:   10,
		MaxExpUS:   10_000_000,
		InitialExp: 5000,
	}
}

// SimDevice is a deterministic in-memory Device. Frames are a gradient
// scaled by exposure plus a per-frame ripple, clipped to the pixel format.
type SimDevice struct {
	mu      sync.Mutex
	cfg     SimConfig
	limiter *rate.Limiter
	exp     float64
	gain    float64
	auto    bool
	format  PixelFormat
	grabbed int

	// GrabDelay, when set, is added to every grab. Used to exercise
	// capture timeouts.
	GrabDelay time.Duration
}

// NewSimDevice creates a simulated camera.
func NewSimDevice(cfg SimConfig) *SimDevice {
	def := DefaultSimConfig()
	if cfg.Rows <= 0 {
		cfg.Rows = def.Rows
	}
	if cfg.Cols <= 0 {
		cfg.Cols = def.Cols
	}
	if cfg.Increment <= 0 {
		cfg.Increment = def.Increment
	}
	if cfg.MaxExpUS <= cfg.MinExpUS {
		cfg.MinExpUS, cfg.MaxExpUS = def.MinExpUS, def.MaxExpUS
	}
	if cfg.InitialExp < cfg.MinExpUS || cfg.InitialExp > cfg.MaxExpUS {
		cfg.InitialExp = cfg.MinExpUS
	}
	limit := rate.Inf
	if cfg.FrameRate > 0 {
		limit = rate.Limit(cfg.FrameRate)
	}
	return &SimDevice{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		exp:     cfg.InitialExp,
		gain:    1,
		auto:    true,
		format:  Mono8,
	}
}

func (d *SimDevice) ID() string { return fmt.Sprintf("SIM-%dx%d", d.cfg.Rows, d.cfg.Cols) }

func (d *SimDevice) ExposureTime() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exp, nil
}

func (d *SimDevice) ExposureIncrement() (float64, error) { return d.cfg.Increment, nil }

func (d *SimDevice) ExposureRange() (float64, float64, error) {
	return d.cfg.MinExpUS, d.cfg.MaxExpUS, nil
}

func (d *SimDevice) SetExposureTime(us float64) error {
	if us < d.cfg.MinExpUS || us > d.cfg.MaxExpUS {
		return fmt.Errorf("exposure %.3fus outside [%.3f, %.3f]", us, d.cfg.MinExpUS, d.cfg.MaxExpUS)
	}
	d.mu.Lock()
	d.exp = us
	d.mu.Unlock()
	return nil
}

func (d *SimDevice) SetGain(g float64) error {
	d.mu.Lock()
	d.gain = g
	d.mu.Unlock()
	return nil
}

func (d *SimDevice) SetGainAuto(on bool) error {
	d.mu.Lock()
	d.auto = on
	d.mu.Unlock()
	return nil
}

// Gain returns the gain and auto-gain state.
func (d *SimDevice) Gain() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain, d.auto
}

func (d *SimDevice) PixelFormats() ([]PixelFormat, error) {
	return append([]PixelFormat(nil), SupportedFormats...), nil
}

func (d *SimDevice) PixelFormat() (PixelFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format, nil
}

func (d *SimDevice) SetPixelFormat(f PixelFormat) error {
	if f.BitDepth() == 0 {
		return ErrUnsupportedFormat
	}
	d.mu.Lock()
	d.format = f
	d.mu.Unlock()
	return nil
}

// Grabbed returns the number of frames delivered.
func (d *SimDevice) Grabbed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabbed
}

func (d *SimDevice) Grab(ctx context.Context) (frame.Frame, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return frame.Frame{}, context.DeadlineExceeded
	}
	if d.GrabDelay > 0 {
		select {
		case <-time.After(d.GrabDelay):
		case <-ctx.Done():
			return frame.Frame{}, ctx.Err()
		}
	}

	d.mu.Lock()
	n := d.grabbed
	d.grabbed++
	exp, gain, max := d.exp, d.gain, float64(d.format.MaxValue())
	d.mu.Unlock()

	f := frame.New(d.cfg.Rows, d.cfg.Cols)
	scale := exp / 10000 * gain
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			v := (float64(r%256)+float64(c%64))*scale + float64((r+c+n)%3)
			f.Set(r, c, uint16(math.Min(math.Max(v, 0), max)))
		}
	}
	return f, nil
}

// SimSystem enumerates a fixed set of devices.
type SimSystem struct {
	Devs []Device
	Err  error
}

// NewSimSystem creates a system holding devs.
func NewSimSystem(devs ...Device) *SimSystem {
	return &SimSystem{Devs: devs}
}

func (s *SimSystem) Devices() ([]Device, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Devs, nil
}
