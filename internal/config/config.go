package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v3"

	"github.com/hsiscan/hsiscan/internal/hw/camera"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// EnvPrefix prefixes environment overrides, e.g. HSISCAN_ACTUATOR__PORT.
const EnvPrefix = "HSISCAN_"

// ActuatorConfig describes the serial link to the positioner firmware.
type ActuatorConfig struct {
	Port            string `yaml:"port"` // e.g. /dev/ttyUSB0
	BaudRate        int    `yaml:"baud_rate"`
	DataBits        int    `yaml:"data_bits"`
	StopBits        int    `yaml:"stop_bits"`
	Parity          string `yaml:"parity"` // N, E or O
	AckTimeoutMs    int    `yaml:"ack_timeout_ms"`
	OpenTimeoutMs   int    `yaml:"open_timeout_ms"`
	EnablePin       int    `yaml:"enable_pin"` // DM542T ENA (BCM). 0 = not wired.
	EnableActiveLow bool   `yaml:"enable_active_low"`
	Mock            bool   `yaml:"mock"` // in-process firmware instead of a port
	MockLatencyMs   int    `yaml:"mock_latency_ms"`
}

// SimConfig shapes the simulated camera.
type SimConfig struct {
	Rows      int     `yaml:"rows"`
	Cols      int     `yaml:"cols"`
	FrameRate float64 `yaml:"frame_rate"`
}

// CameraConfig describes the frame source.
// Type selects a concrete implementation; only "sim" is built in.
type CameraConfig struct {
	Type             string    `yaml:"type"`
	PixelFormat      string    `yaml:"pixel_format"`
	CaptureTimeoutMs int       `yaml:"capture_timeout_ms"`
	Gain             float64   `yaml:"gain"`
	TriggerPin       int       `yaml:"trigger_pin"` // hardware trigger (BCM). 0 = free-running.
	TriggerPulseUs   int       `yaml:"trigger_pulse_us"`
	Sim              SimConfig `yaml:"sim"`
}

// ScanConfig describes the FOR mechanics.
type ScanConfig struct {
	FORSpanDeg            float64 `yaml:"for_span_deg"`
	PositionsPerFOR       int     `yaml:"positions_per_for"`
	MicrostepsPerPosition int     `yaml:"microsteps_per_position"`
	DegreesPerMicrostep   float64 `yaml:"degrees_per_microstep"`
}

// OutputConfig says where cubes are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// CatalogConfig locates the scan catalog. Empty Path disables it.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// WebConfig configures the HTTP control surface.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultsConfig contains request defaults and runtime switches.
type DefaultsConfig struct {
	MinFOR            float64 `yaml:"min_for"`
	MaxFOR            float64 `yaml:"max_for"`
	IntegrationTimeUs int     `yaml:"integration_time_us"`
	ImageEverySteps   int     `yaml:"image_every_steps"`
	ImagesPerStep     int     `yaml:"images_per_step"`
	FileName          string  `yaml:"file_name"`
	DebugLevel        int     `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO          bool    `yaml:"mock_gpio"`   // true=dev/test, false=real Raspberry Pi
}

// Config aggregates all application configuration.
type Config struct {
	Actuator ActuatorConfig `yaml:"actuator"`
	Camera   CameraConfig   `yaml:"camera"`
	Scan     ScanConfig     `yaml:"scan"`
	Output   OutputConfig   `yaml:"output"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	rig := geometry.DefaultRig()
	return Config{
		Actuator: ActuatorConfig{
			BaudRate:        115200,
			DataBits:        8,
			StopBits:        1,
			Parity:          "N",
			AckTimeoutMs:    30000,
			OpenTimeoutMs:   3000,
			EnableActiveLow: true,
			Mock:            true,
			MockLatencyMs:   5,
		},
		Camera: CameraConfig{
			Type:             "sim",
			PixelFormat:      string(camera.Mono12),
			CaptureTimeoutMs: 5000,
			Gain:             1,
			TriggerPulseUs:   100,
			Sim:              SimConfig{Rows: 544, Cols: 728, FrameRate: 60},
		},
		Scan: ScanConfig{
			FORSpanDeg:            rig.FORSpanDeg,
			PositionsPerFOR:       rig.PositionsPerFOR,
			MicrostepsPerPosition: rig.MicrostepsPerPosition,
			DegreesPerMicrostep:   rig.DegreesPerMicrostep,
		},
		Output:  OutputConfig{Dir: "data"},
		Catalog: CatalogConfig{Path: "data/scans.db"},
		Web:     WebConfig{Addr: ":8080"},
		Defaults: DefaultsConfig{
			MinFOR:            -0.25,
			MaxFOR:            0.25,
			IntegrationTimeUs: 10000,
			ImageEverySteps:   1,
			ImagesPerStep:     1,
			FileName:          "scene.npy",
			MockGPIO:          true,
		},
	}
}

// ValidateConfigPath rejects config paths that traverse directories, are
// not .yaml files or do not live in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load layers the defaults, the YAML file at path (skipped when path is
// empty) and HSISCAN_ environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if info.Size() > MaxConfigFileBytes {
			return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileBytes)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case "sim":
	default:
		return fmt.Errorf("camera.type %q is not supported (available: sim)", c.Camera.Type)
	}
	if _, err := camera.ParsePixelFormat(c.Camera.PixelFormat); err != nil {
		return fmt.Errorf("camera.pixel_format: %w", err)
	}
	if !c.Actuator.Mock && c.Actuator.Port == "" {
		return fmt.Errorf("actuator.port is required unless actuator.mock is set")
	}
	if !c.Rig().Valid() {
		return fmt.Errorf("scan geometry must be positive with microsteps_per_position <= 32767, got %+v", c.Scan)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}

	if c.Actuator.AckTimeoutMs <= 0 {
		c.Actuator.AckTimeoutMs = 30000
	}
	if c.Actuator.OpenTimeoutMs <= 0 {
		c.Actuator.OpenTimeoutMs = 3000
	}
	if c.Camera.CaptureTimeoutMs <= 0 {
		c.Camera.CaptureTimeoutMs = 5000
	}
	if c.Camera.Gain <= 0 {
		c.Camera.Gain = 1
	}
	return nil
}

// Rig returns the FOR geometry.
func (c Config) Rig() geometry.Rig {
	return geometry.Rig{
		FORSpanDeg:            c.Scan.FORSpanDeg,
		PositionsPerFOR:       c.Scan.PositionsPerFOR,
		MicrostepsPerPosition: c.Scan.MicrostepsPerPosition,
		DegreesPerMicrostep:   c.Scan.DegreesPerMicrostep,
	}
}

// DefaultRequest returns an acquisition request filled from the defaults
// section.
func (c Config) DefaultRequest() geometry.Request {
	d := c.Defaults
	return geometry.Request{
		MinFOR:            d.MinFOR,
		MaxFOR:            d.MaxFOR,
		IntegrationTimeUs: d.IntegrationTimeUs,
		ImageEverySteps:   d.ImageEverySteps,
		ImagesPerStep:     d.ImagesPerStep,
		PixelFormat:       c.Camera.PixelFormat,
		FileName:          d.FileName,
	}
}

// AckTimeout returns the actuator acknowledgment wait.
func (c Config) AckTimeout() time.Duration {
	return time.Duration(c.Actuator.AckTimeoutMs) * time.Millisecond
}

// OpenTimeout returns how long to retry opening the serial port.
func (c Config) OpenTimeout() time.Duration {
	return time.Duration(c.Actuator.OpenTimeoutMs) * time.Millisecond
}

// MockLatency returns the simulated firmware acknowledgment delay.
func (c Config) MockLatency() time.Duration {
	return time.Duration(c.Actuator.MockLatencyMs) * time.Millisecond
}

// CaptureTimeout returns the bounded frame wait.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// TriggerPulse returns the hardware trigger hold time.
func (c Config) TriggerPulse() time.Duration {
	return time.Duration(c.Camera.TriggerPulseUs) * time.Microsecond
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg Config) error {
	enc := yml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
