package viewer_test

import (
	"testing"

	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/viewer"
)

func TestReorderedDelivery(t *testing.T) {
	rs := viewer.NewReassembler()

	// Delivery order 0, 2, 1: index 2's content must stay hidden until
	// index 1 fills the hole.
	rs.OnFragment(0, "Hel")
	if got := rs.Text(); got != "Hel" {
		t.Fatalf("Text = %q, want %q", got, "Hel")
	}
	rs.OnFragment(2, " world")
	if got := rs.Text(); got != "Hel" {
		t.Fatalf("Text with hole = %q, want %q", got, "Hel")
	}
	if got := rs.HighWater(); got != 0 {
		t.Fatalf("HighWater = %d, want 0", got)
	}

	rs.OnFragment(1, "lo")
	if got := rs.Text(); got != "Hello world" {
		t.Fatalf("Text = %q, want %q", got, "Hello world")
	}
	if got := rs.HighWater(); got != 2 {
		t.Fatalf("HighWater = %d, want 2", got)
	}

	rs.OnTerminal(stream.StatusComplete, "Hello world")
	if got := rs.Text(); got != "Hello world" {
		t.Fatalf("Text after terminal = %q", got)
	}
	if !rs.Done() || rs.Status() != stream.StatusComplete {
		t.Fatalf("Done/Status = %v/%v", rs.Done(), rs.Status())
	}
}

func TestDuplicateDelivery(t *testing.T) {
	rs := viewer.NewReassembler()
	rs.OnFragment(0, "a")
	rs.OnFragment(0, "a")
	// A conflicting payload for a seen index is ignored: the log never
	// rewrites an index, so the first delivery is the true one.
	rs.OnFragment(0, "X")
	rs.OnFragment(1, "b")
	if got := rs.Text(); got != "ab" {
		t.Fatalf("Text = %q, want %q", got, "ab")
	}
}

func TestAuthoritativeFinalWins(t *testing.T) {
	rs := viewer.NewReassembler()
	// Fragment 1 is lost and never backfilled; the terminal payload must
	// replace the incomplete local reconstruction.
	rs.OnFragment(0, "Hel")
	rs.OnFragment(2, " world")
	rs.OnTerminal(stream.StatusComplete, "Hello world")
	if got := rs.Text(); got != "Hello world" {
		t.Fatalf("Text = %q, want authoritative %q", got, "Hello world")
	}

	// Late fragments after the freeze change nothing.
	rs.OnFragment(1, "lo")
	if got := rs.Text(); got != "Hello world" {
		t.Fatalf("Text after late fragment = %q", got)
	}
}

func TestErrorTerminalKeepsPartialText(t *testing.T) {
	rs := viewer.NewReassembler()
	rs.OnFragment(0, "partial ")
	rs.OnFragment(1, "answer")
	rs.OnTerminal(stream.StatusError, "model unavailable")

	if got := rs.Text(); got != "partial answer" {
		t.Fatalf("Text = %q, want partial text preserved", got)
	}
	if rs.Status() != stream.StatusError {
		t.Fatalf("Status = %v, want error", rs.Status())
	}
	if rs.ErrMessage() != "model unavailable" {
		t.Fatalf("ErrMessage = %q", rs.ErrMessage())
	}

	// The first terminal event wins.
	rs.OnTerminal(stream.StatusComplete, "late")
	if rs.Status() != stream.StatusError {
		t.Fatalf("Status after second terminal = %v", rs.Status())
	}
}

func TestEmptyStream(t *testing.T) {
	rs := viewer.NewReassembler()
	if got := rs.Text(); got != "" {
		t.Fatalf("Text = %q, want empty", got)
	}
	if got := rs.HighWater(); got != -1 {
		t.Fatalf("HighWater = %d, want -1", got)
	}
	rs.OnTerminal(stream.StatusComplete, "")
	if !rs.Done() {
		t.Fatalf("Done = false")
	}
}
