package topiccache

import (
	"testing"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/rtpstime"
)

func ts(secs int32) rtpstime.Timestamp { return rtpstime.Timestamp{Seconds: secs} }

func TestAddAndGetChange(t *testing.T) {
	var tc = New("Square", qos.Default())
	var change = CacheChange{SN: 1, Kind: Alive}
	tc.AddChange(ts(1), change)

	got, ok := tc.GetChange(ts(1))
	if !ok || got.SN != 1 {
		t.Fatalf("expected to find change with sn 1, got %+v ok=%v", got, ok)
	}
}

func TestAddChangeDuplicateInstantIsIgnored(t *testing.T) {
	var tc = New("Square", qos.Default())
	tc.AddChange(ts(1), CacheChange{SN: 1})
	tc.AddChange(ts(1), CacheChange{SN: 2}) // duplicate instant, should be dropped

	got, _ := tc.GetChange(ts(1))
	if got.SN != 1 {
		t.Fatalf("expected original change to survive, got sn %d", got.SN)
	}
	if tc.Len() != 1 {
		t.Fatalf("expected exactly 1 change retained, got %d", tc.Len())
	}
}

func TestGetChangesInRange(t *testing.T) {
	var tc = New("Square", qos.Default())
	for i := int32(1); i <= 5; i++ {
		tc.AddChange(ts(i), CacheChange{SN: 1 << uint(i)})
	}
	var got = tc.GetChangesInRange(ts(2), ts(4))
	if len(got) != 2 {
		t.Fatalf("expected 2 changes in [2,4), got %d", len(got))
	}
}

func TestRemoveChangesBeforeRespectsResourceLimits(t *testing.T) {
	var p = qos.Default()
	p.Resources.MaxSamples = 3
	var tc = New("Square", p)
	for i := int32(1); i <= 5; i++ {
		tc.AddChange(ts(i), CacheChange{SN: 1 << uint(i)})
	}
	tc.RemoveChangesBefore(ts(0))
	if tc.Len() != 3 {
		t.Fatalf("expected trimming to 3 samples, got %d", tc.Len())
	}
	// The newest 3 must survive.
	if _, ok := tc.GetChange(ts(5)); !ok {
		t.Fatal("expected newest sample to survive trimming")
	}
	if _, ok := tc.GetChange(ts(1)); ok {
		t.Fatal("expected oldest sample to be trimmed")
	}
}

func TestRemoveChangesBeforeSampleCapOverridesInstant(t *testing.T) {
	var p = qos.Default()
	p.Resources.MaxSamples = 1
	var tc = New("Square", p)
	tc.AddChange(ts(1), CacheChange{SN: 1})
	tc.AddChange(ts(2), CacheChange{SN: 2})

	// Neither sample is before instant=1, but MaxSamples=1 still removes the
	// older of the two: the split key is the later of instant and ts(2).
	tc.RemoveChangesBefore(ts(1))
	if tc.Len() != 1 {
		t.Fatalf("expected the sample cap to leave 1 sample, got %d", tc.Len())
	}
}

func TestMarkReliablyReceivedBeforeNeverRegresses(t *testing.T) {
	var tc = New("Square", qos.Default())
	var w = guid.GUID{EntityId: guid.EntityId{EntityKind: guid.EntityKindUserWriterWithKey}}
	tc.MarkReliablyReceivedBefore(w, 5)
	tc.MarkReliablyReceivedBefore(w, 3)
	if tc.ReliablyReceivedBefore(w) != 5 {
		t.Fatalf("expected watermark to stay at 5, got %d", tc.ReliablyReceivedBefore(w))
	}
}

func TestRegistryAddTopicRejectsDuplicate(t *testing.T) {
	var r = NewRegistry()
	if _, err := r.AddTopic("Square", qos.Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.AddTopic("Square", qos.Default()); err == nil {
		t.Fatal("expected error registering duplicate topic")
	}
}
