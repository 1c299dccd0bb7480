package viewer_test

import (
	"testing"

	"github.com/inkwellhq/relay/go/pkg/viewer"
)

func TestSingleDrivenHandle(t *testing.T) {
	hub := viewer.NewHub()

	// Two consumers mount the same stream; exactly one is driven.
	a := hub.Acquire("s1")
	b := hub.Acquire("s1")
	if !a.Driven() {
		t.Fatalf("first handle not driven")
	}
	if b.Driven() {
		t.Fatalf("second handle driven too")
	}
	if hub.Refs("s1") != 2 {
		t.Fatalf("Refs = %d, want 2", hub.Refs("s1"))
	}

	// Both observe the same shared view.
	if a.Reassembler() != b.Reassembler() {
		t.Fatalf("handles see different reassemblers")
	}
	a.Reassembler().OnFragment(0, "x")
	if got := b.Reassembler().Text(); got != "x" {
		t.Fatalf("passive view = %q, want %q", got, "x")
	}
}

func TestPromotionOnRelease(t *testing.T) {
	hub := viewer.NewHub()
	a := hub.Acquire("s1")
	b := hub.Acquire("s1")

	rs := a.Reassembler()
	rs.OnFragment(0, "keep")

	// The driven consumer unmounts; the passive one is promoted and the
	// accumulated state survives the handover.
	hub.Release(a)
	if !b.Driven() {
		t.Fatalf("survivor not promoted")
	}
	if got := b.Reassembler().Text(); got != "keep" {
		t.Fatalf("state lost across promotion: %q", got)
	}

	// Last release discards the entry.
	hub.Release(b)
	if hub.Refs("s1") != 0 {
		t.Fatalf("Refs = %d, want 0", hub.Refs("s1"))
	}
	c := hub.Acquire("s1")
	if got := c.Reassembler().Text(); got != "" {
		t.Fatalf("fresh acquire inherited stale state: %q", got)
	}
	if !c.Driven() {
		t.Fatalf("fresh handle not driven")
	}
}

func TestReleasePassiveKeepsDriven(t *testing.T) {
	hub := viewer.NewHub()
	a := hub.Acquire("s1")
	b := hub.Acquire("s1")

	hub.Release(b)
	if !a.Driven() {
		t.Fatalf("driven handle lost its role")
	}
	// Double release of the same handle is harmless.
	hub.Release(b)
	if hub.Refs("s1") != 1 {
		t.Fatalf("Refs = %d, want 1", hub.Refs("s1"))
	}
}

func TestIndependentStreams(t *testing.T) {
	hub := viewer.NewHub()
	a := hub.Acquire("s1")
	b := hub.Acquire("s2")
	if !a.Driven() || !b.Driven() {
		t.Fatalf("each stream should have its own driven handle")
	}
	if a.Reassembler() == b.Reassembler() {
		t.Fatalf("streams share a reassembler")
	}
}
