package lifecycle

import "testing"

func TestLifecycle_BeginDrainOnce(t *testing.T) {
	var l Lifecycle
	if l.IsDraining() {
		t.Fatalf("expected fresh lifecycle to accept traffic")
	}
	if !l.BeginDrain() {
		t.Fatalf("expected first BeginDrain to transition")
	}
	if l.BeginDrain() {
		t.Fatalf("expected second BeginDrain to be a no-op")
	}
	if !l.IsDraining() {
		t.Fatalf("expected draining")
	}
	l.SetDraining(false)
	if l.IsDraining() {
		t.Fatalf("expected draining to be cleared")
	}
}

func TestLifecycle_NilIsSafe(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() || l.BeginDrain() {
		t.Fatalf("nil lifecycle should never report draining")
	}
}
