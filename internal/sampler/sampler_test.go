package sampler

import (
	"bytes"
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"threadmon/internal/auxproc"
	"threadmon/internal/source"
)

// scriptedSource returns one canned snapshot per Sample call, repeating the
// last entry once the script is exhausted.
type scriptedSource struct {
	mu    sync.Mutex
	calls int
	snaps [][]source.Sample
}

func (s *scriptedSource) Sample(context.Context, *regexp.Regexp, source.Mode) ([]source.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	return s.snaps[i], nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeAux satisfies auxMonitor with scripted liveness.
type fakeAux struct {
	mu    sync.Mutex
	procs []auxproc.Proc
	alive []bool
	calls int
}

func (f *fakeAux) Procs() []auxproc.Proc { return f.procs }

func (f *fakeAux) Collect(context.Context) {}

func (f *fakeAux) CheckAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.alive) {
		return len(f.alive) == 0 || f.alive[len(f.alive)-1]
	}
	ok := f.alive[f.calls]
	f.calls++
	return ok
}

func stubSetupAux(t *testing.T, fn func(ctx context.Context, src source.Source, names []string, logger *log.Logger) (auxMonitor, error)) {
	t.Helper()
	orig := setupAux
	setupAux = fn
	t.Cleanup(func() { setupAux = orig })
}

func alwaysAlive(t *testing.T) {
	t.Helper()
	stubSetupAux(t, func(context.Context, source.Source, []string, *log.Logger) (auxMonitor, error) {
		return &fakeAux{}, nil
	})
}

func runLoop(t *testing.T, opts Options, out *bytes.Buffer, logBuf *bytes.Buffer, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	loop := New(opts, out, log.New(logBuf, "", 0))
	if err := loop.Run(ctx); err != context.DeadlineExceeded && err != context.Canceled {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func workers(cpus ...float64) []source.Sample {
	names := []string{"worker/0", "worker/1"}
	out := make([]source.Sample, 0, len(cpus))
	for i, c := range cpus {
		out = append(out, source.Sample{ID: 101 + i, Name: names[i], CPU: c, Mem: "44.3g"})
	}
	return out
}

func TestLoopWritesRowsUntilMajorityMissing(t *testing.T) {
	alwaysAlive(t)
	src := &scriptedSource{snaps: [][]source.Sample{
		workers(1.0, 1.0), // registry build
		workers(3.5, 1.2), // tick 1: healthy row
		workers(4.0),      // tick 2: 1 of 2 missing, not above the 50% threshold
		nil,               // tick 3: everything gone, session invalidated
	}}

	var out, logs bytes.Buffer
	runLoop(t, Options{
		Source:       src,
		Filter:       regexp.MustCompile(`worker`),
		Mode:         source.ModeThread,
		Interval:     time.Millisecond,
		SetupBackoff: time.Hour, // park after invalidation
	}, &out, &logs, 300*time.Millisecond)

	lines := nonEmptyLines(out.String())
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "Day;Time;") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "3.50;1.20") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}
	// Tick 2 substitutes the missing sentinel but still writes a row.
	if !strings.Contains(lines[2], "4.00;-1") {
		t.Fatalf("unexpected second row: %s", lines[2])
	}
	if !strings.Contains(logs.String(), "2 of 2 identities unreachable") {
		t.Fatalf("expected invalidation log, got:\n%s", logs.String())
	}
}

func TestLoopNoRowWrittenOnDegradedTick(t *testing.T) {
	alwaysAlive(t)
	src := &scriptedSource{snaps: [][]source.Sample{
		workers(1.0, 1.0), // registry build
		nil,               // first tick already degraded
	}}

	var out, logs bytes.Buffer
	runLoop(t, Options{
		Source:       src,
		Filter:       regexp.MustCompile(`worker`),
		Interval:     time.Millisecond,
		SetupBackoff: time.Hour,
	}, &out, &logs, 100*time.Millisecond)

	lines := nonEmptyLines(out.String())
	if len(lines) != 1 {
		t.Fatalf("expected only the header, got:\n%s", out.String())
	}
}

func TestLoopRebuildsAfterAuxDeath(t *testing.T) {
	var mu sync.Mutex
	setups := 0
	stubSetupAux(t, func(context.Context, source.Source, []string, *log.Logger) (auxMonitor, error) {
		mu.Lock()
		setups++
		first := setups == 1
		mu.Unlock()
		procs := []auxproc.Proc{{Name: "postgres", PID: 2001}}
		if first {
			// Dies on the second liveness check.
			return &fakeAux{procs: procs, alive: []bool{true, false}}, nil
		}
		return &fakeAux{procs: procs}, nil
	})

	src := &scriptedSource{snaps: [][]source.Sample{workers(1.0, 1.0)}}
	var out, logs bytes.Buffer
	runLoop(t, Options{
		Source:       src,
		Filter:       regexp.MustCompile(`worker`),
		AuxNames:     []string{"postgres"},
		Interval:     time.Millisecond,
		SetupBackoff: time.Millisecond,
	}, &out, &logs, 300*time.Millisecond)

	mu.Lock()
	got := setups
	mu.Unlock()
	if got < 2 {
		t.Fatalf("expected a fresh aux setup after death, got %d setups", got)
	}
	if !strings.Contains(logs.String(), "auxiliary process died") {
		t.Fatalf("expected death log, got:\n%s", logs.String())
	}
	// Every rebuild freezes a fresh schema.
	if n := strings.Count(out.String(), "Day;Time"); n < 2 {
		t.Fatalf("expected a new header per session, got %d", n)
	}
}

func TestLoopRetriesSetupFailure(t *testing.T) {
	alwaysAlive(t)
	src := &scriptedSource{snaps: [][]source.Sample{nil}} // never matches

	var out, logs bytes.Buffer
	runLoop(t, Options{
		Source:       src,
		Filter:       regexp.MustCompile(`worker`),
		Interval:     time.Millisecond,
		SetupBackoff: time.Millisecond,
	}, &out, &logs, 100*time.Millisecond)

	if src.callCount() < 2 {
		t.Fatalf("expected repeated setup attempts, got %d", src.callCount())
	}
	if out.Len() != 0 {
		t.Fatalf("no header may be written before a successful setup:\n%s", out.String())
	}
	if !strings.Contains(logs.String(), "setup failed") {
		t.Fatalf("expected setup failure log, got:\n%s", logs.String())
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
