package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (scan plan, saved files)
	LevelLive    = 2 // Live info (positions, captures, moves)
	LevelVerbose = 3 // Verbose (configuration, exposure stepping)
	LevelTrace   = 4 // Trace (serial bytes, GPIO)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (scan plan, results)
// 2 = live info (positions, captures, moves)
// 3 = verbose (configuration details, exposure stepping)
// 4 = trace (serial bytes, GPIO)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = log.New(out, "[hsiscan] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects all debug output. Used by the web server to tee
// the log to SSE clients.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func printf(minLevel int, format string, args ...interface{}) {
	mu.RLock()
	l, lg := level, logger
	mu.RUnlock()
	if l >= minLevel && lg != nil {
		lg.Printf(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	printf(LevelInfo, "═══════════════════════════════════════")
	printf(LevelInfo, "  %s", title)
	printf(LevelInfo, "═══════════════════════════════════════")
}

// Plan prints the scan plan (level 1).
func Plan(positions, repeats, rawStepsPerImage int) {
	printf(LevelInfo, "[INFO] Scan: %d positions x %d exposures, %d steps per image (%d steps total)",
		positions, repeats, rawStepsPerImage, positions*rawStepsPerImage)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// Move prints an actuator movement (level 2).
func Move(steps int) {
	direction := "forward"
	if steps < 0 {
		direction = "backward"
	}
	printf(LevelLive, "[LIVE] Actuator: %d steps (%s)", steps, direction)
}

// Position prints the start of a scan position (level 2).
func Position(index, total int) {
	printf(LevelLive, "[LIVE] Position %d/%d", index+1, total)
}

// Capture prints a single exposure within a position (level 2).
func Capture(position, exposure, repeats int) {
	printf(LevelLive, "[LIVE] Frame captured (position=%d, exposure=%d/%d)", position+1, exposure+1, repeats)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	printf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	printf(LevelVerbose, "  %s", name)
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	printf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
}

// Serial prints raw transport traffic (level 4).
func Serial(operation string, payload []byte) {
	printf(LevelTrace, "[SERIAL] %s % x", operation, payload)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	printf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR] %v", err)
}

// Fmt returns a formatted string only if debug is enabled.
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
