// Package registry captures the fixed identity set tracked during one
// monitoring session. The registry is built exactly once per session and
// never mutated afterwards: the output schema is frozen from its contents,
// so identity churn must never reach it. Rebuilding means discarding the
// value and calling Build again.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"threadmon/internal/source"
)

// ErrNoMatch is returned by Build when the filter matches nothing. It is a
// recoverable setup failure, not fatal to the process.
var ErrNoMatch = errors.New("filter matches no identity")

// Identity is a stable (id, display name) pair captured at session setup.
type Identity struct {
	ID   int
	Name string
}

// Registry is an immutable ordered id→name mapping. Insertion order is the
// column order of the output file.
type Registry struct {
	identities []Identity
	index      map[int]int
}

// Build queries the source once and registers every distinct identity the
// filter matches.
func Build(ctx context.Context, src source.Source, filter *regexp.Regexp, mode source.Mode) (*Registry, error) {
	samples, err := src.Sample(ctx, filter, mode)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, filter)
	}

	ids := make([]Identity, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, Identity{ID: s.ID, Name: s.Name})
	}
	return New(ids), nil
}

// New builds a registry from an explicit identity list, keeping the first
// occurrence of a duplicated id.
func New(ids []Identity) *Registry {
	r := &Registry{index: make(map[int]int, len(ids))}
	for _, id := range ids {
		if _, ok := r.index[id.ID]; ok {
			continue
		}
		r.index[id.ID] = len(r.identities)
		r.identities = append(r.identities, id)
	}
	return r
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	return len(r.identities)
}

// Identities returns the registered identities in insertion order. The
// returned slice is a copy.
func (r *Registry) Identities() []Identity {
	return append([]Identity(nil), r.identities...)
}

// Contains reports whether id was captured at setup.
func (r *Registry) Contains(id int) bool {
	_, ok := r.index[id]
	return ok
}

// Name returns the display name registered for id.
func (r *Registry) Name(id int) (string, bool) {
	i, ok := r.index[id]
	if !ok {
		return "", false
	}
	return r.identities[i].Name, true
}
