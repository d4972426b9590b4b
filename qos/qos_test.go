package qos

import "testing"

func TestValidateRejectsBadHistory(t *testing.T) {
	var p = Default()
	p.History = History{Kind: KeepLast, Depth: 0}
	if err := Validate(p); err == nil {
		t.Fatal("expected error for keep-last depth 0")
	}
}

func TestCompliantReliability(t *testing.T) {
	var offered = Default()
	var requested = Default()
	requested.Reliability = Reliable
	if Compliant(offered, requested) {
		t.Fatal("expected best-effort offered to be incompatible with reliable requested")
	}
	offered.Reliability = Reliable
	if !Compliant(offered, requested) {
		t.Fatal("expected reliable offered to satisfy reliable requested")
	}
}

func TestCompliantDeadline(t *testing.T) {
	var offered = Default()
	var requested = Default()
	requested.Deadline.Period = 100
	if Compliant(offered, requested) {
		t.Fatal("expected no offered deadline to be incompatible with a requested deadline")
	}
	offered.Deadline.Period = 50
	if !Compliant(offered, requested) {
		t.Fatal("expected tighter offered deadline to satisfy requested")
	}
}
