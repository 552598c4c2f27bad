package scan

import "context"

// Handle is a scan running on its own goroutine.
type Handle struct {
	orch     *Orchestrator
	progress chan Progress
	done     chan struct{}
	result   *Result
	err      error
}

// Start validates cfg and runs the scan on a new goroutine. Progress is
// delivered both to cb.OnProgress and on Progress(); the channel is
// buffered for every position and closed when the scan ends.
func Start(ctx context.Context, cfg Config, act Actuator, src FrameSource, cb Callbacks) (*Handle, error) {
	h := &Handle{done: make(chan struct{})}

	user := cb.OnProgress
	cb.OnProgress = func(p Progress) {
		if user != nil {
			user(p)
		}
		h.progress <- p
	}
	orch, err := New(cfg, act, src, cb)
	if err != nil {
		return nil, err
	}
	h.orch = orch
	h.progress = make(chan Progress, orch.cfg.ImagesPerScene)

	go func() {
		defer close(h.done)
		defer close(h.progress)
		h.result, h.err = orch.Run(ctx)
	}()
	return h, nil
}

// Progress returns the progress channel.
func (h *Handle) Progress() <-chan Progress { return h.progress }

// Cancel requests cancellation at the next checkpoint.
func (h *Handle) Cancel() { h.orch.Cancel() }

// State returns the current lifecycle state.
func (h *Handle) State() State { return h.orch.State() }

// Config returns the scan configuration.
func (h *Handle) Config() Config { return h.orch.Config() }

// Done is closed when the scan has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the scan ends and returns its outcome.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.result, h.err
}
