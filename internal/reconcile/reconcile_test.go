package reconcile

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"threadmon/internal/registry"
	"threadmon/internal/source"
)

func testRegistry() *registry.Registry {
	return registry.New([]registry.Identity{
		{ID: 101, Name: "worker/0"},
		{ID: 102, Name: "worker/1"},
	})
}

func TestReconcileMissingIdentityGetsSentinel(t *testing.T) {
	var buf bytes.Buffer
	rec := New(log.New(&buf, "", 0))
	reg := testRegistry()

	res := rec.Reconcile(reg, []source.Sample{
		{ID: 101, Name: "worker/0", CPU: 3.5, Mem: "44.3g"},
		{ID: 102, Name: "worker/1", CPU: 1.2, Mem: "44.3g"},
	})
	if res.Unmatched != 0 || res.CPU[101] != 3.5 || res.CPU[102] != 1.2 {
		t.Fatalf("unexpected first tick: %+v", res)
	}
	if res.Mem != "44.3g" {
		t.Fatalf("expected shared memory value, got %q", res.Mem)
	}

	res = rec.Reconcile(reg, []source.Sample{
		{ID: 101, Name: "worker/0", CPU: 4.0, Mem: "44.3g"},
	})
	if res.CPU[101] != 4.0 || res.CPU[102] != MissingCPU {
		t.Fatalf("unexpected second tick: %+v", res)
	}
	if res.Unmatched != 1 {
		t.Fatalf("expected one unmatched identity, got %d", res.Unmatched)
	}
}

func TestReconcileWarnsOncePerMissingIdentity(t *testing.T) {
	var buf bytes.Buffer
	rec := New(log.New(&buf, "", 0))
	reg := testRegistry()

	snap := []source.Sample{{ID: 101, Name: "worker/0", CPU: 4.0}}
	for i := 0; i < 5; i++ {
		rec.Reconcile(reg, snap)
	}
	if n := strings.Count(buf.String(), "102"); n != 1 {
		t.Fatalf("expected exactly one warning for id 102, got %d:\n%s", n, buf.String())
	}
}

func TestReconcileIgnoresUnknownIdentity(t *testing.T) {
	var buf bytes.Buffer
	rec := New(log.New(&buf, "", 0))
	reg := testRegistry()

	snap := []source.Sample{
		{ID: 101, Name: "worker/0", CPU: 3.5},
		{ID: 102, Name: "worker/1", CPU: 1.2},
		{ID: 303, Name: "worker/9", CPU: 9.9},
	}
	for i := 0; i < 3; i++ {
		res := rec.Reconcile(reg, snap)
		if _, ok := res.CPU[303]; ok {
			t.Fatal("unknown identity must never enter the result")
		}
		if len(res.CPU) != 2 {
			t.Fatalf("expected exactly 2 values, got %d", len(res.CPU))
		}
	}
	if n := strings.Count(buf.String(), "303"); n != 1 {
		t.Fatalf("expected exactly one warning for id 303, got %d:\n%s", n, buf.String())
	}
}

func TestReconcileFreshReconcilerWarnsAgain(t *testing.T) {
	reg := testRegistry()
	snap := []source.Sample{{ID: 101, Name: "worker/0", CPU: 4.0}}

	var first bytes.Buffer
	New(log.New(&first, "", 0)).Reconcile(reg, snap)

	var second bytes.Buffer
	New(log.New(&second, "", 0)).Reconcile(reg, snap)

	if !strings.Contains(second.String(), "102") {
		t.Fatal("a new session must warn again about a still-missing identity")
	}
}
