package registry

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"threadmon/internal/source"
)

// sourceFunc adapts a function to the source.Source interface.
type sourceFunc func(ctx context.Context, filter *regexp.Regexp, mode source.Mode) ([]source.Sample, error)

func (f sourceFunc) Sample(ctx context.Context, filter *regexp.Regexp, mode source.Mode) ([]source.Sample, error) {
	return f(ctx, filter, mode)
}

func TestBuildPreservesSnapshotOrder(t *testing.T) {
	src := sourceFunc(func(context.Context, *regexp.Regexp, source.Mode) ([]source.Sample, error) {
		return []source.Sample{
			{ID: 102, Name: "worker/1", CPU: 1.2},
			{ID: 101, Name: "worker/0", CPU: 3.5},
		}, nil
	})

	reg, err := Build(context.Background(), src, regexp.MustCompile(`worker`), source.ModeThread)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := reg.Identities()
	if len(ids) != 2 || ids[0].ID != 102 || ids[1].ID != 101 {
		t.Fatalf("unexpected identity order: %+v", ids)
	}
	if name, ok := reg.Name(101); !ok || name != "worker/0" {
		t.Fatalf("unexpected name lookup: %q %v", name, ok)
	}
	if reg.Contains(999) {
		t.Fatal("registry should not contain unseen id")
	}
}

func TestBuildNoMatch(t *testing.T) {
	src := sourceFunc(func(context.Context, *regexp.Regexp, source.Mode) ([]source.Sample, error) {
		return nil, nil
	})

	_, err := Build(context.Background(), src, regexp.MustCompile(`worker`), source.ModeThread)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestNewDropsDuplicateIDs(t *testing.T) {
	reg := New([]Identity{
		{ID: 101, Name: "worker/0"},
		{ID: 101, Name: "worker/0-dup"},
		{ID: 102, Name: "worker/1"},
	})
	if reg.Len() != 2 {
		t.Fatalf("expected 2 identities, got %d", reg.Len())
	}
	if name, _ := reg.Name(101); name != "worker/0" {
		t.Fatalf("expected first occurrence to win, got %q", name)
	}
}

func TestIdentitiesReturnsCopy(t *testing.T) {
	reg := New([]Identity{{ID: 101, Name: "worker/0"}})
	ids := reg.Identities()
	ids[0].Name = "mutated"
	if name, _ := reg.Name(101); name != "worker/0" {
		t.Fatal("mutating the returned slice must not affect the registry")
	}
}
