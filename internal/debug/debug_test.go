package debug

import (
	"bytes"
	"strings"
	"testing"
)

func capture(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() { Init(LevelOff) })
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelLive)

	Info("plan ready")
	Live("position %d", 1)
	Verbose("hidden detail")
	Trace("hidden trace")

	out := buf.String()
	if !strings.Contains(out, "[INFO] plan ready") {
		t.Errorf("missing info line in %q", out)
	}
	if !strings.Contains(out, "[LIVE] position 1") {
		t.Errorf("missing live line in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("verbose/trace output leaked at live level: %q", out)
	}
}

func TestOffProducesNothing(t *testing.T) {
	buf := capture(t, LevelOff)
	Info("x")
	Summary("y")
	Error(nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestMoveDirection(t *testing.T) {
	buf := capture(t, LevelLive)
	Move(21)
	Move(-42)
	out := buf.String()
	if !strings.Contains(out, "21 steps (forward)") {
		t.Errorf("missing forward move in %q", out)
	}
	if !strings.Contains(out, "-42 steps (backward)") {
		t.Errorf("missing backward move in %q", out)
	}
}

func TestSerialTraceHex(t *testing.T) {
	buf := capture(t, LevelTrace)
	Serial("tx", []byte{0x15, 0x00})
	if !strings.Contains(buf.String(), "[SERIAL] tx 15 00") {
		t.Errorf("unexpected serial trace: %q", buf.String())
	}
}

func TestFmtDisabled(t *testing.T) {
	capture(t, LevelOff)
	if got := Fmt("%d", 1); got != "" {
		t.Errorf("Fmt with debug off = %q, want empty", got)
	}
}
