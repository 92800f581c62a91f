// Package source abstracts where per-process and per-thread utilization
// readings come from. Backends parse the batch output of a system utility
// (top, pidstat) or query the kernel directly (native), and all of them
// return the same flat sample shape so callers never touch utility output.
package source

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Mode selects the granularity of a snapshot.
type Mode int

const (
	// ModeProcess aggregates utilization per process.
	ModeProcess Mode = iota
	// ModeThread reports one sample per thread.
	ModeThread
)

func (m Mode) String() string {
	switch m {
	case ModeProcess:
		return "process"
	case ModeThread:
		return "thread"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Sample is one identity's reading within a snapshot. Mem carries the raw
// unit-suffixed string the utility printed (e.g. "44.3g", "9040m", "13116");
// normalization happens at output time, not here.
type Sample struct {
	ID   int
	Name string
	CPU  float64
	Mem  string
}

// Source produces a point-in-time snapshot of every identity whose display
// name matches the filter. An empty result with a nil error means no match.
type Source interface {
	Sample(ctx context.Context, filter *regexp.Regexp, mode Mode) ([]Sample, error)
}

// Backends lists the names accepted by New.
var Backends = []string{"top", "pidstat", "native"}

// New builds the backend registered under name.
func New(name string) (Source, error) {
	switch name {
	case "top":
		return newTopSource(), nil
	case "pidstat":
		return newPidstatSource(), nil
	case "native":
		return newNativeSource(), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q (available: %s)", name, strings.Join(Backends, ", "))
	}
}

// runCommand is replaced in tests to feed canned utility output.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// parseDecimal accepts both "3.5" and "3,5"; utilities follow the system
// locale for their decimal separator.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return v, nil
}
