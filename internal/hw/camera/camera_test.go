package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hsiscan/hsiscan/internal/hw/gpio"
)

func TestStepExposure(t *testing.T) {
	tests := []struct {
		name                 string
		current, target, inc float64
		want                 float64
	}{
		{"up exact", 100, 250, 10, 250},
		{"up rounds up", 100, 255, 10, 260},
		{"down rounds down", 300, 255, 10, 250},
		{"down exact", 300, 250, 10, 250},
		{"already there", 300, 300, 10, 300},
		{"fractional increment", 100, 105.5, 1.5, 106},
		{"zero increment", 100, 500, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StepExposure(tt.current, tt.target, tt.inc)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("StepExposure(%v, %v, %v) = %v, want %v", tt.current, tt.target, tt.inc, got, tt.want)
			}
		})
	}
}

func TestParsePixelFormat(t *testing.T) {
	f, err := ParsePixelFormat("mono12")
	if err != nil || f != Mono12 {
		t.Errorf("ParsePixelFormat(mono12) = %q, %v", f, err)
	}
	if _, err := ParsePixelFormat("RGB8"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParsePixelFormat(RGB8) err = %v, want ErrUnsupportedFormat", err)
	}
	if Mono12p.MaxValue() != 4095 || Mono8.MaxValue() != 255 {
		t.Error("unexpected MaxValue")
	}
}

func TestCamera_SetIntegrationTime(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 2, Cols: 2, InitialExp: 5000, Increment: 1})
	cam := New(NewSimSystem(dev), Config{})

	got, err := cam.SetIntegrationTime(10000)
	if err != nil {
		t.Fatalf("SetIntegrationTime: %v", err)
	}
	if got != 10000 {
		t.Errorf("exposure = %v, want 10000", got)
	}
	gain, auto := dev.Gain()
	if gain != 1 || auto {
		t.Errorf("gain = %v auto = %v, want 1 and off", gain, auto)
	}
}

func TestCamera_SetIntegrationTimeClampsToRange(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 2, Cols: 2, InitialExp: 5000, Increment: 1, MinExpUS: 10, MaxExpUS: 8000})
	cam := New(NewSimSystem(dev), Config{})

	got, err := cam.SetIntegrationTime(9000)
	if err != nil {
		t.Fatalf("SetIntegrationTime: %v", err)
	}
	if got != 8000 {
		t.Errorf("exposure = %v, want 8000", got)
	}
}

func TestCamera_NoDevice(t *testing.T) {
	cam := New(NewSimSystem(), Config{})

	_, err := cam.Capture(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Capture err = %v, want ErrDeviceUnavailable", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Op != "capture" {
		t.Errorf("err = %#v, want *Error{Op: capture}", err)
	}
	if _, err := cam.SetIntegrationTime(100); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("SetIntegrationTime err = %v", err)
	}

	sys := &SimSystem{Err: errors.New("transport layer closed")}
	if _, err := New(sys, Config{}).Capture(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("enumerate failure err = %v", err)
	}
}

func TestCamera_CaptureTimeout(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 2, Cols: 2})
	dev.GrabDelay = 200 * time.Millisecond
	cam := New(NewSimSystem(dev), Config{CaptureTimeout: 20 * time.Millisecond})

	_, err := cam.Capture(context.Background())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Errorf("err = %v, want ErrCaptureTimeout", err)
	}
}

func TestCamera_CaptureIgnoresParentCancel(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 3, Cols: 4})
	dev.GrabDelay = 5 * time.Millisecond
	cam := New(NewSimSystem(dev), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := cam.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if f.Rows != 3 || f.Cols != 4 {
		t.Errorf("frame shape = %dx%d", f.Rows, f.Cols)
	}
}

func TestCamera_SetPixelFormat(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 2, Cols: 2})
	cam := New(NewSimSystem(dev), Config{})

	if err := cam.SetPixelFormat(Mono12); err != nil {
		t.Fatal(err)
	}
	if f, _ := cam.PixelFormat(); f != Mono12 {
		t.Errorf("format = %q, want Mono12", f)
	}
	if err := cam.SetPixelFormat("BayerRG8"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
	if f, _ := cam.PixelFormat(); f != Mono12 {
		t.Error("rejected format reached the device")
	}
}

func TestSimDevice_SamplesFitFormat(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 300, Cols: 80, InitialExp: 1_000_000, MaxExpUS: 2_000_000, MinExpUS: 10})
	cam := New(NewSimSystem(dev), Config{})
	if err := cam.SetPixelFormat(Mono8); err != nil {
		t.Fatal(err)
	}
	f, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range f.Pix {
		if v > Mono8.MaxValue() {
			t.Fatalf("sample %d = %d exceeds Mono8", i, v)
		}
	}
	if dev.Grabbed() != 1 {
		t.Errorf("grabbed = %d, want 1", dev.Grabbed())
	}
}

// recordingDriver records GPIO writes for verification.
type recordingDriver struct {
	writes []gpio.Level
}

func (d *recordingDriver) SetupPin(int, gpio.PinMode) error { return nil }
func (d *recordingDriver) WritePin(_ int, level gpio.Level) error {
	d.writes = append(d.writes, level)
	return nil
}
func (d *recordingDriver) ReadPin(int) (gpio.Level, error) { return gpio.Low, nil }
func (d *recordingDriver) Close() error                    { return nil }

func TestTriggeredDevice_PulsesBeforeGrab(t *testing.T) {
	drv := &recordingDriver{}
	line, err := gpio.NewLine(drv, 24, true)
	if err != nil {
		t.Fatal(err)
	}
	drv.writes = nil

	dev := NewSimDevice(SimConfig{Rows: 2, Cols: 2})
	cam := New(NewSimSystem(NewTriggeredDevice(dev, line, time.Microsecond)), Config{})
	if _, err := cam.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []gpio.Level{gpio.Low, gpio.High}
	if len(drv.writes) != 2 || drv.writes[0] != want[0] || drv.writes[1] != want[1] {
		t.Errorf("trigger writes = %v, want %v", drv.writes, want)
	}
	if dev.Grabbed() != 1 {
		t.Errorf("grabbed = %d, want 1", dev.Grabbed())
	}
}

func TestTriggeredDevice_NoLineFreeRuns(t *testing.T) {
	dev := NewSimDevice(SimConfig{Rows: 2, Cols: 2})
	td := NewTriggeredDevice(dev, nil, time.Millisecond)
	if _, err := td.Grab(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCamera_ImplementsFrameSource(t *testing.T) {
	var _ FrameSource = New(NewSimSystem(), Config{})
	var _ Device = NewSimDevice(SimConfig{})
	var _ Device = &TriggeredDevice{}
}
