// Package reconcile matches fresh snapshots against the session registry.
// The registry is the source of truth for what should be visible; every
// tick either confirms an identity with a live reading or substitutes the
// missing sentinel. Identities that were not present at setup never enter
// the result, no matter how often they reappear.
package reconcile

import (
	"log"

	"threadmon/internal/registry"
	"threadmon/internal/source"
)

// MissingCPU is the sentinel substituted for a registered identity that is
// absent from the current snapshot.
const MissingCPU = -1

// Result is the outcome of reconciling one snapshot.
type Result struct {
	// CPU holds one value per registry identity, MissingCPU when absent.
	CPU map[int]float64
	// Mem is the owning process's raw virtual memory value, shared by all
	// identities of one tick in thread mode.
	Mem string
	// Unmatched counts registry identities absent from this snapshot.
	Unmatched int
}

// Reconciler carries the per-session warn-once bookkeeping. A new session
// gets a new Reconciler so warnings fire again after a rebuild.
type Reconciler struct {
	logger        *log.Logger
	warnedMissing map[int]bool
	warnedUnknown map[int]bool
}

func New(logger *log.Logger) *Reconciler {
	return &Reconciler{
		logger:        logger,
		warnedMissing: make(map[int]bool),
		warnedUnknown: make(map[int]bool),
	}
}

// Reconcile produces one value per registry identity from the snapshot.
// It logs a warning the first time an identity goes missing and the first
// time an unregistered identity shows up; both stay silent afterwards to
// keep long unattended runs from flooding the log.
func (c *Reconciler) Reconcile(reg *registry.Registry, snapshot []source.Sample) Result {
	byID := make(map[int]source.Sample, len(snapshot))
	for _, s := range snapshot {
		if !reg.Contains(s.ID) {
			if !c.warnedUnknown[s.ID] {
				c.warnedUnknown[s.ID] = true
				c.logger.Printf("ignoring unexpected identity %d (%s): not present at setup", s.ID, s.Name)
			}
			continue
		}
		if _, ok := byID[s.ID]; !ok {
			byID[s.ID] = s
		}
	}

	res := Result{CPU: make(map[int]float64, reg.Len())}
	for _, id := range reg.Identities() {
		s, ok := byID[id.ID]
		if !ok {
			res.CPU[id.ID] = MissingCPU
			res.Unmatched++
			if !c.warnedMissing[id.ID] {
				c.warnedMissing[id.ID] = true
				c.logger.Printf("identity %d (%s) missing from snapshot", id.ID, id.Name)
			}
			continue
		}
		res.CPU[id.ID] = s.CPU
		if res.Mem == "" && s.Mem != "" {
			res.Mem = s.Mem
		}
	}
	return res
}
