// Package auxproc tracks a fixed list of named auxiliary processes next to
// the main thread population. Liveness is strict: PIDs are captured once at
// setup and one dead process invalidates the whole session, because a
// changed PID means the program restarted and must be recaptured. Per-tick
// metric collection is tolerant by contrast; a transient miss only leaves
// the fields blank in that row.
package auxproc

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"threadmon/internal/source"
)

// Proc is the tracked state of one auxiliary process.
type Proc struct {
	Name string
	PID  int
	CPU  float64
	Mem  string
	// Sampled is false when the last Collect returned no reading for this
	// process; its row fields stay blank for that tick.
	Sampled bool
}

// Monitor owns the auxiliary process states of one session.
type Monitor struct {
	src    source.Source
	logger *log.Logger
	procs  []Proc
}

// Setup resolves a PID for every name. A name without a running process is
// a setup failure; the caller retries the whole session after backoff.
func Setup(ctx context.Context, src source.Source, names []string, logger *log.Logger) (*Monitor, error) {
	m := &Monitor{src: src, logger: logger}
	for _, name := range names {
		pid, err := resolvePID(ctx, name)
		if err != nil {
			return nil, err
		}
		logger.Printf("auxiliary process %s has pid %d", name, pid)
		m.procs = append(m.procs, Proc{Name: name, PID: pid})
	}
	return m, nil
}

// Procs returns a copy of the tracked states in setup order.
func (m *Monitor) Procs() []Proc {
	return append([]Proc(nil), m.procs...)
}

// CheckAlive confirms every captured PID still exists. One dead process is
// enough to report the whole set as dead.
func (m *Monitor) CheckAlive() bool {
	for _, p := range m.procs {
		if !pidAlive(p.PID) {
			m.logger.Printf("auxiliary process %s (pid %d) is gone", p.Name, p.PID)
			return false
		}
	}
	return true
}

// Collect refreshes cpu/mem for every tracked process. Misses are silent;
// unlike CheckAlive this path tolerates transient gaps in utility output.
func (m *Monitor) Collect(ctx context.Context) {
	for i := range m.procs {
		p := &m.procs[i]
		samples, err := m.src.Sample(ctx, exactNamePattern(p.Name), source.ModeProcess)
		if err != nil || len(samples) == 0 {
			p.Sampled = false
			continue
		}
		s := samples[0]
		for _, cand := range samples {
			if cand.ID == p.PID {
				s = cand
				break
			}
		}
		p.CPU = s.CPU
		p.Mem = s.Mem
		p.Sampled = true
	}
}

func exactNamePattern(name string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(name) + "$")
}

// resolvePID is replaced in tests. The lowest matching pid wins so repeated
// setups stay deterministic when a name matches several processes.
var resolvePID = func(ctx context.Context, name string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}
	var pids []int
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil || n != name {
			continue
		}
		pids = append(pids, int(p.Pid))
	}
	if len(pids) == 0 {
		return 0, fmt.Errorf("auxiliary process %q not found", name)
	}
	sort.Ints(pids)
	return pids[0], nil
}

// pidAlive is replaced in tests. Signal 0 probes existence without touching
// the target; EPERM still proves the pid is taken.
var pidAlive = func(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
