package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/theckman/yacspin"

	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/logic/capture"
	"github.com/hsiscan/hsiscan/internal/logic/scan"
)

// errCapDeclined is returned when the operator declines the dark frame.
var errCapDeclined = errors.New("dark frame declined by operator")

// progress renders acquisition phases and scan progress on a terminal
// spinner. The spinner is stopped while the operator is prompted.
type progress struct {
	mu      sync.Mutex
	spinner *yacspin.Spinner
	phaseOf capture.Phase
	started bool
}

func newProgress(w io.Writer) (*progress, error) {
	s, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           "starting",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		return nil, fmt.Errorf("create spinner: %w", err)
	}
	return &progress{spinner: s}, nil
}

func (p *progress) phase(ph capture.Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phaseOf = ph
	switch ph {
	case capture.PhaseIdle:
		return
	case capture.PhaseAwaitingCap:
		if p.started {
			p.spinner.StopMessage("scene captured")
			p.spinner.Stop()
			p.started = false
		}
		return
	}
	p.spinner.Message(string(ph))
	if !p.started {
		if err := p.spinner.Start(); err != nil {
			debug.Error(err)
			return
		}
		p.started = true
	}
}

func (p *progress) progress(pr scan.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spinner.Message(progressMessage(p.phaseOf, pr))
}

func progressMessage(ph capture.Phase, pr scan.Progress) string {
	return fmt.Sprintf("%s %d/%d (%d%%)", ph, pr.Completed, pr.Total, pr.Percent)
}

// done prints the outcome line, leaving the spinner stopped.
func (p *progress) done(out *capture.Outcome, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if out == nil {
		return
	}
	if !p.started {
		if serr := p.spinner.Start(); serr != nil {
			debug.Error(serr)
			return
		}
	}
	p.started = false
	line := outcomeLine(out)
	if err != nil || out.State == scan.Failed {
		p.spinner.StopFailMessage(line)
		p.spinner.StopFail()
		return
	}
	p.spinner.StopMessage(line)
	p.spinner.Stop()
}

// promptCapOn returns an AwaitCapOn hook that asks the operator on out and
// waits for a line on in. Entering "q" declines the dark frame.
func promptCapOn(in io.Reader, out io.Writer) func(ctx context.Context) error {
	r := bufio.NewReader(in)
	return func(ctx context.Context) error {
		fmt.Fprint(out, "Cap the lens and press Enter for the dark frame (q to skip): ")

		type reply struct {
			line string
			err  error
		}
		ch := make(chan reply, 1)
		go func() {
			s, err := r.ReadString('\n')
			ch <- reply{strings.TrimSpace(s), err}
		}()

		select {
		case rep := <-ch:
			if rep.err != nil && rep.line == "" {
				return fmt.Errorf("read confirmation: %w", rep.err)
			}
			if strings.EqualFold(rep.line, "q") {
				return errCapDeclined
			}
			return nil
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		}
	}
}
