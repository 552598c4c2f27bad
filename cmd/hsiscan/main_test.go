package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hsiscan/hsiscan/internal/config"
	"github.com/hsiscan/hsiscan/internal/logic/capture"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
	"github.com/hsiscan/hsiscan/internal/logic/scan"
)

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("port = %d, want 8080", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"1", 1},
		{"80", 80},
		{"8980", 8980},
		{"65535", 65535},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.port() != tc.want {
				t.Errorf("port = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "-1", "65536", "99999", "abc", "80.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("expected error for %q, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.Set("9090")
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- run flags ----------

func TestRunFlags_ApplyOnlySetFlags(t *testing.T) {
	rf := newRunFlags()
	if err := rf.fs.Parse([]string{"-min_for=0", "-max_for", "0.1", "-repeats", "4", "-lab", "-file", "field.fits"}); err != nil {
		t.Fatal(err)
	}

	base := config.Default().DefaultRequest()
	req := base
	rf.apply(&req)

	if req.MinFOR != 0 || req.MaxFOR != 0.1 {
		t.Errorf("FOR = [%v, %v], want [0, 0.1]", req.MinFOR, req.MaxFOR)
	}
	if req.ImagesPerStep != 4 || !req.LabCalibration || req.FileName != "field.fits" {
		t.Errorf("request = %+v", req)
	}
	if req.IntegrationTimeUs != base.IntegrationTimeUs || req.ImageEverySteps != base.ImageEverySteps {
		t.Errorf("unset flags changed the defaults: %+v", req)
	}
	if req.MoveToStart {
		t.Error("move_to_start should stay false")
	}
}

func TestRunFlags_NoFlagsKeepsDefaults(t *testing.T) {
	rf := newRunFlags()
	if err := rf.fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	base := config.Default().DefaultRequest()
	req := base
	rf.apply(&req)
	if req != base {
		t.Errorf("request = %+v, want %+v", req, base)
	}
	if rf.cfgPath != defaultConfigPath {
		t.Errorf("config = %q", rf.cfgPath)
	}
	if rf.web.port() != 0 {
		t.Errorf("web enabled by default")
	}
}

func TestRunFlags_Web(t *testing.T) {
	rf := newRunFlags()
	if err := rf.fs.Parse([]string{"-web=8980"}); err != nil {
		t.Fatal(err)
	}
	if rf.web.port() != 8980 {
		t.Errorf("port = %d", rf.web.port())
	}
}

func TestWebAddr(t *testing.T) {
	cases := []struct{ configured, flag, want string }{
		{":8080", ":9000", ":9000"},
		{"127.0.0.1:8080", ":9000", "127.0.0.1:9000"},
		{"", ":9000", ":9000"},
	}
	for _, tc := range cases {
		if got := webAddr(tc.configured, tc.flag); got != tc.want {
			t.Errorf("webAddr(%q, %q) = %q, want %q", tc.configured, tc.flag, got, tc.want)
		}
	}
}

// ---------- mkconf / conf ----------

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "lab.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Rig() != config.Default().Rig() {
		t.Errorf("rig = %+v", cfg.Rig())
	}

	if err := writeDefaultConfig(path, false); err == nil || !strings.Contains(err.Error(), "-f") {
		t.Errorf("second write err = %v, want exists error", err)
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("forced write: %v", err)
	}
	if err := writeDefaultConfig(filepath.Join(t.TempDir(), "lab.yaml"), false); err == nil {
		t.Error("expected error outside configs/")
	}
}

func TestPrintconf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "default.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printconf([]string{"-config", path}, &buf); err != nil {
		t.Fatalf("printconf: %v", err)
	}
	if !strings.Contains(buf.String(), "positions_per_for: 63") {
		t.Errorf("printed config:\n%s", buf.String())
	}
	if err := printconf([]string{"-config", "../etc/x.yaml"}, io.Discard); err == nil {
		t.Error("expected traversal error")
	}
}

// ---------- prompt ----------

func TestPromptCapOn(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"enter", "\n", nil},
		{"anything", "ok\n", nil},
		{"decline", "Q\n", errCapDeclined},
		{"last line without newline", "yes", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := promptCapOn(strings.NewReader(tc.input), &out)(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if !strings.Contains(out.String(), "Cap the lens") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestPromptCapOn_EOF(t *testing.T) {
	err := promptCapOn(strings.NewReader(""), io.Discard)(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want EOF", err)
	}
}

func TestPromptCapOn_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := promptCapOn(pr, io.Discard)(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// ---------- outcome ----------

func TestOutcomeLine(t *testing.T) {
	cases := []struct {
		out  capture.Outcome
		want string
	}{
		{capture.Outcome{State: scan.Completed, Positions: 63, File: "data/a.npy", DarkFile: "data/a_dark.npy"}, "63 positions saved to data/a.npy (dark: data/a_dark.npy)"},
		{capture.Outcome{State: scan.Completed, Positions: 3, File: "data/a.fits"}, "3 positions saved to data/a.fits"},
		{capture.Outcome{State: scan.Cancelled, Positions: 2}, "cancelled after 2 positions, nothing saved"},
		{capture.Outcome{State: scan.Failed, Positions: 2, File: "data/a_partial.npy"}, "failed after 2 positions, partial cube in data/a_partial.npy"},
		{capture.Outcome{State: scan.Failed}, "failed after 0 positions"},
	}
	for _, tc := range cases {
		if got := outcomeLine(&tc.out); got != tc.want {
			t.Errorf("outcomeLine = %q, want %q", got, tc.want)
		}
	}
}

func TestProgressMessage(t *testing.T) {
	got := progressMessage(capture.PhaseScanning, scan.Progress{Completed: 21, Total: 63, Percent: 33})
	if got != "scanning 21/63 (33%)" {
		t.Errorf("progressMessage = %q", got)
	}
}

// ---------- head ----------

func mockConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Camera.Sim = config.SimConfig{Rows: 4, Cols: 5}
	cfg.Actuator.MockLatencyMs = 0
	cfg.Output.Dir = t.TempDir()
	return &cfg
}

func TestNewCameraFromConfig_Unsupported(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Camera.Type = "genicam"
	h, err := openHead(cfg)
	if err == nil {
		t.Error("expected error for unsupported camera type")
	}
	if h != nil {
		t.Errorf("head = %+v, want nil on error", h)
	}
}

func TestHeadOpen_FailureLeavesClosers(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Camera.Type = "genicam"
	h := &head{}
	if err := h.open(cfg); err == nil || !strings.Contains(err.Error(), "init camera failed") {
		t.Fatalf("open err = %v", err)
	}
	// GPIO driver, actuator link and motor enable were opened before the camera.
	if len(h.closers) != 3 {
		t.Errorf("closers = %d, want 3", len(h.closers))
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if h.closers != nil {
		t.Error("closers kept after Close")
	}
}

func TestHeadClose_Nil(t *testing.T) {
	var h *head
	if err := h.Close(); err != nil {
		t.Errorf("Close on nil head: %v", err)
	}
}

func TestOpenHead_AcquiresOverMockHardware(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Camera.TriggerPin = 24
	h, err := openHead(cfg)
	if err != nil {
		t.Fatalf("openHead: %v", err)
	}
	defer h.Close()

	if f, err := h.cam.PixelFormat(); err != nil || string(f) != cfg.Camera.PixelFormat {
		t.Errorf("pixel format = %q, %v", f, err)
	}

	req := cfg.DefaultRequest()
	req.MinFOR, req.MaxFOR = 0, 0.05
	req.ImageEverySteps = 2
	req.LabCalibration = true
	plan, err := geometry.PlanScan(req, cfg.Rig())
	if err != nil {
		t.Fatal(err)
	}

	sess := capture.NewSession(h.motion, h.cam, nil, capture.Options{OutputDir: cfg.Output.Dir})
	out, err := sess.Acquire(context.Background(), plan)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if out.State != scan.Completed || out.Positions != 3 {
		t.Errorf("outcome = %s with %d positions", out.State, out.Positions)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "scene.npy")); err != nil {
		t.Errorf("cube not written: %v", err)
	}
	if h.act.Position() != 3*42 {
		t.Errorf("actuator position = %d, want %d", h.act.Position(), 3*42)
	}

	if err := h.motion.Home(); err != nil {
		t.Fatal(err)
	}
	if h.act.Position() != 0 {
		t.Errorf("position after home = %d", h.act.Position())
	}
}
