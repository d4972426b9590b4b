package writerproxy

import (
	"reflect"
	"testing"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/seqnum"
)

func testProxy() *WriterProxy {
	return New(guid.GUID{EntityId: guid.EntityId{EntityKind: guid.EntityKindUserWriterWithKey}}, nil, nil, qos.Default())
}

func TestReceivedChangesAddAdvancesWatermark(t *testing.T) {
	var w = testProxy()
	w.ReceivedChangesAdd(1)
	w.ReceivedChangesAdd(2)
	if w.AllAckableBefore() != 3 {
		t.Fatalf("expected watermark 3, got %d", w.AllAckableBefore())
	}
	// Out-of-order arrival does not advance watermark past the gap.
	w.ReceivedChangesAdd(5)
	if w.AllAckableBefore() != 3 {
		t.Fatalf("expected watermark to stay at 3, got %d", w.AllAckableBefore())
	}
	w.ReceivedChangesAdd(3)
	w.ReceivedChangesAdd(4)
	if w.AllAckableBefore() != 6 {
		t.Fatalf("expected watermark 6 after filling gap, got %d", w.AllAckableBefore())
	}
}

func TestShouldIgnoreChange(t *testing.T) {
	var w = testProxy()
	w.ReceivedChangesAdd(1)
	if !w.ShouldIgnoreChange(1) {
		t.Fatal("expected duplicate of sn 1 to be ignored")
	}
	if w.ShouldIgnoreChange(2) {
		t.Fatal("expected sn 2 to not be ignored yet")
	}
}

func TestMissingSeqnums(t *testing.T) {
	var w = testProxy()
	w.ReceivedChangesAdd(1)
	w.ReceivedChangesAdd(3)
	var got = w.MissingSeqnums(4)
	var want = []seqnum.SequenceNumber{2, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestIrrelevantChangesRange(t *testing.T) {
	var w = testProxy()
	w.IrrelevantChangesRange(1, 4)
	if w.AllAckableBefore() != 4 {
		t.Fatalf("expected watermark 4, got %d", w.AllAckableBefore())
	}
	if !w.ShouldIgnoreChange(2) {
		t.Fatal("expected sn 2 to be accounted for as irrelevant")
	}
}

func TestNextAckNackSequenceNumberIncrements(t *testing.T) {
	var w = testProxy()
	if w.NextAckNackSequenceNumber() != 1 {
		t.Fatal("expected first count to be 1")
	}
	if w.NextAckNackSequenceNumber() != 2 {
		t.Fatal("expected second count to be 2")
	}
}
