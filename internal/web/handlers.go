package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/hsiscan/hsiscan/internal/catalog"
	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/logic/capture"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
)

// maxRequestBytes bounds a POST /scan body.
const maxRequestBytes = 64 << 10

// heartbeatInterval keeps idle SSE connections open through proxies.
var heartbeatInterval = 30 * time.Second

// Acquirer runs acquisitions. *capture.Session satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, plan geometry.Plan) (*capture.Outcome, error)
	Cancel()
	Running() bool
	Status() capture.Status
}

// Catalog lists recorded acquisitions. *catalog.DB satisfies it.
type Catalog interface {
	Get(id string) (catalog.Run, error)
	List(limit int) ([]catalog.Run, error)
}

// FormConfig is what GET /config returns: the request defaults and the rig
// they are planned against.
type FormConfig struct {
	Defaults geometry.Request `json:"defaults"`
	Rig      geometry.Rig     `json:"rig"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     Acquirer
	Catalog     Catalog // nil disables /scans
	Form        FormConfig

	runningMu sync.Mutex
	running   bool
	wg        sync.WaitGroup
	capOn     chan struct{}

	// ctx bounds background acquisitions; Shutdown ends it.
	ctx  context.Context
	stop context.CancelFunc
}

// NewHandlers creates handlers with the given dependencies.
// If session is nil, POST /scan returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, session Acquirer, cat Catalog, form FormConfig) *Handlers {
	ctx, stop := context.WithCancel(context.Background())
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     session,
		Catalog:     cat,
		Form:        form,
		capOn:       make(chan struct{}, 1),
		ctx:         ctx,
		stop:        stop,
	}
}

// AwaitCapOn blocks until POST /scan/cap confirms the lens is capped. It is
// meant for capture.Options.AwaitCapOn in web mode.
func (h *Handlers) AwaitCapOn(ctx context.Context) error {
	if h.Broadcaster != nil {
		h.Broadcaster.Broadcast("warn", "Cap the lens, then confirm to take the dark frame")
	}
	select {
	case <-h.capOn:
		return nil
	case <-ctx.Done():
		h.drainCapOn()
		return ctx.Err()
	}
}

// drainCapOn drops a confirmation nobody waited for.
func (h *Handlers) drainCapOn() {
	select {
	case <-h.capOn:
	default:
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// HandleConfig returns the form defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Form)
}

// HandleScan handles POST /scan. Fields omitted from the body take their
// configured defaults. The acquisition runs in the background; its end is
// reported on the status stream.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	req := h.Form.Defaults
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON"))
		return
	}

	plan, err := geometry.PlanScan(req, h.Form.Rig)
	if err != nil {
		var rerr *geometry.RequestError
		if errors.As(err, &rerr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.Session == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("acquisition not configured"))
		return
	}

	h.runningMu.Lock()
	if h.running || h.Session.Running() {
		h.runningMu.Unlock()
		writeError(w, http.StatusConflict, capture.ErrBusy)
		return
	}
	h.running = true
	h.runningMu.Unlock()
	h.drainCapOn()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		out, err := h.Session.Acquire(h.ctx, plan)
		if err != nil {
			debug.Error(err)
		}
		h.Broadcaster.Done(out, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "started",
		"positions": plan.ImagesPerScene,
		"file":      req.FileName,
	})
}

// HandleCancel handles POST /scan/cancel.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if h.Session == nil || !h.Session.Running() {
		writeError(w, http.StatusConflict, errors.New("no acquisition running"))
		return
	}
	h.Session.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// HandleCapOn handles POST /scan/cap, the operator's dark frame go-ahead.
func (h *Handlers) HandleCapOn(w http.ResponseWriter, r *http.Request) {
	if h.Session == nil || h.Session.Status().Phase != capture.PhaseAwaitingCap {
		writeError(w, http.StatusConflict, errors.New("not waiting for the lens cap"))
		return
	}
	select {
	case h.capOn <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "capped"})
}

// HandleStatus handles GET /scan/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Session == nil {
		writeJSON(w, http.StatusOK, capture.Status{Phase: capture.PhaseIdle})
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Status())
}

// HandleListScans handles GET /scans?limit=N.
func (h *Handlers) HandleListScans(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("catalog disabled"))
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	runs, err := h.Catalog.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []catalog.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGetScan handles GET /scans/{id}.
func (h *Handlers) HandleGetScan(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("catalog disabled"))
		return
	}
	run, err := h.Catalog.Get(chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// Shutdown cancels background acquisitions, including one accepted by
// HandleScan that has not reached the session yet.
func (h *Handlers) Shutdown() {
	h.stop()
	if h.Session != nil && h.Session.Running() {
		h.Session.Cancel()
	}
}

// Wait blocks until background acquisitions started by HandleScan return.
func (h *Handlers) Wait() { h.wg.Wait() }
