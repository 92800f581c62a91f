// Package sampler drives the monitoring loop: setup, repeated ticks, and
// full teardown-and-rebuild when a session goes bad. All session state is
// owned by the loop and mutated only at setup and teardown; one tick runs
// to completion before the next begins. The loop has no terminal state and
// is meant to outlive transient failures of everything it observes.
package sampler

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"

	"threadmon/internal/auxproc"
	"threadmon/internal/reconcile"
	"threadmon/internal/registry"
	"threadmon/internal/report"
	"threadmon/internal/source"
)

// State is the loop's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Loop.
type Options struct {
	Source   source.Source
	Filter   *regexp.Regexp
	Mode     source.Mode
	AuxNames []string

	Interval          time.Duration
	SetupBackoff      time.Duration
	DegradedThreshold float64
	DecimalComma      bool
}

// auxMonitor is the slice of auxproc.Monitor behaviour the loop needs.
type auxMonitor interface {
	Procs() []auxproc.Proc
	CheckAlive() bool
	Collect(ctx context.Context)
}

// Stubbed in tests.
var (
	buildRegistry = registry.Build
	setupAux      = func(ctx context.Context, src source.Source, names []string, logger *log.Logger) (auxMonitor, error) {
		return auxproc.Setup(ctx, src, names, logger)
	}
	timeNow = time.Now
)

// Loop owns one monitoring flow over a single output writer. A fresh header
// is written at every successful setup, so the schema stays consistent
// between one setup and the next.
type Loop struct {
	opts   Options
	out    io.Writer
	logger *log.Logger
	state  State

	sessionID string
	reg       *registry.Registry
	rec       *reconcile.Reconciler
	aux       auxMonitor
	writer    *report.Writer
}

// New builds a loop, filling in defaults for zero-valued tunables.
func New(opts Options, out io.Writer, logger *log.Logger) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.SetupBackoff <= 0 {
		opts.SetupBackoff = 120 * time.Second
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = 0.5
	}
	return &Loop{opts: opts, out: out, logger: logger}
}

// State returns the current lifecycle state. Not safe to call while Run is
// executing on another goroutine.
func (l *Loop) State() State {
	return l.state
}

// Run executes the loop until ctx is cancelled. Setup failures and session
// invalidations both end in a fixed backoff followed by a fresh setup;
// neither terminates the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.setup(ctx); err != nil {
			l.logger.Printf("setup failed: %v; retrying in %s", err, l.opts.SetupBackoff)
			if !l.wait(ctx, l.opts.SetupBackoff) {
				return ctx.Err()
			}
			continue
		}

		reason := l.tickLoop(ctx)
		if reason == "" {
			return ctx.Err()
		}
		l.state = StateDegraded
		l.logger.Printf("session %s invalidated: %s; rebuilding in %s", l.sessionID, reason, l.opts.SetupBackoff)
		l.teardown()
		if !l.wait(ctx, l.opts.SetupBackoff) {
			return ctx.Err()
		}
	}
}

// setup captures a fresh identity registry and auxiliary PIDs, then freezes
// the output schema. Any failure here is recoverable.
func (l *Loop) setup(ctx context.Context) error {
	l.sessionID = uuid.NewString()

	reg, err := buildRegistry(ctx, l.opts.Source, l.opts.Filter, l.opts.Mode)
	if err != nil {
		return err
	}
	aux, err := setupAux(ctx, l.opts.Source, l.opts.AuxNames, l.logger)
	if err != nil {
		return err
	}
	writer := report.NewWriter(l.out, l.opts.DecimalComma)
	if err := writer.WriteHeader(reg, l.opts.AuxNames); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	l.reg = reg
	l.rec = reconcile.New(l.logger)
	l.aux = aux
	l.writer = writer
	l.state = StateReady
	l.logger.Printf("session %s ready: %d identities, %d auxiliary processes",
		l.sessionID, reg.Len(), len(l.opts.AuxNames))
	return nil
}

// tickLoop samples until the session is invalidated (returning the reason)
// or ctx is done (returning "").
func (l *Loop) tickLoop(ctx context.Context) string {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
			if reason := l.tick(ctx); reason != "" {
				return reason
			}
		}
	}
}

// tick performs one sampling pass. A non-empty return invalidates the
// session; an empty return means the tick completed (or was skipped on a
// transient snapshot failure).
func (l *Loop) tick(ctx context.Context) string {
	if !l.aux.CheckAlive() {
		return "auxiliary process died"
	}

	snap, err := l.opts.Source.Sample(ctx, l.opts.Filter, l.opts.Mode)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Printf("snapshot failed: %v", err)
		}
		return ""
	}

	res := l.rec.Reconcile(l.reg, snap)
	if float64(res.Unmatched)/float64(l.reg.Len()) > l.opts.DegradedThreshold {
		return fmt.Sprintf("%d of %d identities unreachable", res.Unmatched, l.reg.Len())
	}

	l.aux.Collect(ctx)
	if err := l.writer.AppendRow(timeNow(), l.aux.Procs(), l.reg, res); err != nil {
		l.logger.Printf("write row: %v", err)
	}
	return ""
}

func (l *Loop) teardown() {
	l.reg = nil
	l.rec = nil
	l.aux = nil
	l.writer = nil
	l.state = StateUninitialized
}

func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
