package main

import (
	"errors"
	"fmt"

	"github.com/hsiscan/hsiscan/internal/config"
	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/hw/camera"
	"github.com/hsiscan/hsiscan/internal/hw/gpio"
	"github.com/hsiscan/hsiscan/internal/hw/serialport"
	"github.com/hsiscan/hsiscan/internal/hw/stepper"
	"github.com/hsiscan/hsiscan/internal/logic/motion"
)

// head is the opened scan head: actuator link, motor driver lines and camera.
type head struct {
	gpio    gpio.Driver
	act     *stepper.Actuator
	motion  *motion.Controller
	cam     *camera.Camera
	closers []func() error
}

// openHead brings up the hardware described by cfg. On error everything
// opened so far is closed again.
func openHead(cfg *config.Config) (*head, error) {
	h := &head{}
	if err := h.open(cfg); err != nil {
		if cerr := h.Close(); cerr != nil {
			debug.Error(cerr)
		}
		return nil, err
	}
	return h, nil
}

func (h *head) open(cfg *config.Config) error {
	debug.Section("Initialization")
	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	h.gpio = g
	h.closers = append(h.closers, g.Close)

	debug.Step(2, "Opening actuator link")
	port, err := openPort(cfg)
	if err != nil {
		return err
	}
	link := serialport.NewLink(port)
	h.closers = append(h.closers, link.Close)

	enable, err := gpio.NewLine(h.gpio, cfg.Actuator.EnablePin, cfg.Actuator.EnableActiveLow)
	if err != nil {
		return fmt.Errorf("setup enable pin: %w", err)
	}
	h.act = stepper.NewActuator(link, stepper.Config{AckTimeout: cfg.AckTimeout(), Enable: enable})
	h.motion = motion.NewController(h.act, cfg.Rig())
	if err := h.motion.EnableMotor(); err != nil {
		return fmt.Errorf("enable motor: %w", err)
	}
	h.closers = append(h.closers, h.motion.DisableMotor)
	debug.PrintStruct("Actuator config", cfg.Actuator)

	debug.Step(3, "Initializing camera")
	cam, err := newCameraFromConfig(h.gpio, cfg)
	if err != nil {
		return fmt.Errorf("init camera failed: %w", err)
	}
	h.cam = cam
	if id, err := h.cam.ID(); err == nil {
		debug.Value("Camera", id)
	}
	return nil
}

func openPort(cfg *config.Config) (serialport.Port, error) {
	if cfg.Actuator.Mock {
		debug.Value("Actuator", "mock firmware")
		return serialport.NewMockFirmware(cfg.MockLatency()), nil
	}
	debug.Value("Actuator port", cfg.Actuator.Port)
	opts := serialport.Options{
		BaudRate: cfg.Actuator.BaudRate,
		DataBits: cfg.Actuator.DataBits,
		StopBits: cfg.Actuator.StopBits,
		Parity:   cfg.Actuator.Parity,
	}
	port, err := serialport.Open(cfg.Actuator.Port, opts, cfg.OpenTimeout())
	if err != nil {
		return nil, fmt.Errorf("open actuator port: %w", err)
	}
	return port, nil
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (*camera.Camera, error) {
	var dev camera.Device
	switch cfg.Camera.Type {
	case "sim":
		sc := camera.DefaultSimConfig()
		sc.Rows, sc.Cols, sc.FrameRate = cfg.Camera.Sim.Rows, cfg.Camera.Sim.Cols, cfg.Camera.Sim.FrameRate
		dev = camera.NewSimDevice(sc)
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}

	trigger, err := gpio.NewLine(g, cfg.Camera.TriggerPin, false)
	if err != nil {
		return nil, fmt.Errorf("setup trigger pin: %w", err)
	}
	if trigger.Present() {
		dev = camera.NewTriggeredDevice(dev, trigger, cfg.TriggerPulse())
	}

	cam := camera.New(camera.NewSimSystem(dev), camera.Config{
		CaptureTimeout: cfg.CaptureTimeout(),
		Gain:           cfg.Camera.Gain,
	})
	f, err := camera.ParsePixelFormat(cfg.Camera.PixelFormat)
	if err != nil {
		return nil, err
	}
	if err := cam.SetPixelFormat(f); err != nil {
		return nil, err
	}
	return cam, nil
}

// Close releases the head in reverse order of opening.
func (h *head) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}
