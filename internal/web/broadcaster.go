package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/hsiscan/hsiscan/internal/logic/capture"
	"github.com/hsiscan/hsiscan/internal/logic/scan"
)

// Event kinds carried on the status stream.
const (
	KindLog      = "log"
	KindPhase    = "phase"
	KindProgress = "progress"
	KindDone     = "done"
)

// subscriberBuffer is the per-client queue depth. Slow clients drop events.
const subscriberBuffer = 64

// StatusEvent is one message on the SSE stream.
type StatusEvent struct {
	Time     string           `json:"t"`
	Kind     string           `json:"kind"`
	Level    string           `json:"l,omitempty"`
	Msg      string           `json:"msg,omitempty"`
	Phase    capture.Phase    `json:"phase,omitempty"`
	Progress *scan.Progress   `json:"progress,omitempty"`
	Outcome  *capture.Outcome `json:"outcome,omitempty"`
}

// StatusBroadcaster fans status events out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of JSON-encoded events and a cleanup function.
// The caller must call the cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish stamps evt and sends it to every subscriber without blocking.
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a log line at the given level.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Progress publishes a scan progress update.
func (b *StatusBroadcaster) Progress(p scan.Progress) {
	b.Publish(StatusEvent{Kind: KindProgress, Progress: &p})
}

// Phase publishes an acquisition phase change.
func (b *StatusBroadcaster) Phase(p capture.Phase) {
	b.Publish(StatusEvent{Kind: KindPhase, Phase: p})
}

// Done publishes the end of an acquisition.
func (b *StatusBroadcaster) Done(out *capture.Outcome, err error) {
	evt := StatusEvent{Kind: KindDone, Level: "info", Outcome: out}
	if err != nil {
		evt.Level = "error"
		evt.Msg = err.Error()
	}
	b.Publish(evt)
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
