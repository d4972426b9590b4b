package discovery

import (
	"testing"

	"github.com/atostek/godds/qos"
)

func TestDecodeRejectsGuidKeyMismatch(t *testing.T) {
	var raw = []byte(`{"guid":"aaaaaaaaaaaaaaaaaaaaaaaa:000100.02","topic_name":"Square"}`)
	if _, err := decode("writers/bbbbbbbbbbbbbbbbbbbbbbbb:000100.02", raw); err == nil {
		t.Fatal("expected a mismatch error between the advert GUID and its key")
	}
}

func TestDecodeAcceptsMatchingKey(t *testing.T) {
	var key = "writers/aaaaaaaaaaaaaaaaaaaaaaaa:000100.02"
	var raw = []byte(`{"guid":"aaaaaaaaaaaaaaaaaaaaaaaa:000100.02","topic_name":"Square"}`)
	var advert, err = decode(key, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if advert.TopicName != "Square" {
		t.Fatalf("expected topic Square, got %q", advert.TopicName)
	}
}

func TestWireQosRoundTripsReliability(t *testing.T) {
	var w = WireQos{Reliability: int32(qos.Reliable), HistoryKind: int32(qos.KeepAll)}
	var p = w.toPolicies()
	if p.Reliability != qos.Reliable {
		t.Fatalf("expected Reliable, got %v", p.Reliability)
	}
	if p.History.Kind != qos.KeepAll {
		t.Fatalf("expected KeepAll, got %v", p.History.Kind)
	}
}

func TestObserveFansOutPutEvents(t *testing.T) {
	var f = NewWriterFeed(nil, "writers/", "Square")
	var got []Event
	f.Observe(func(ev Event) { got = append(got, ev) })

	var key = "writers/aaaaaaaaaaaaaaaaaaaaaaaa:000100.02"
	var raw = []byte(`{"guid":"aaaaaaaaaaaaaaaaaaaaaaaa:000100.02","topic_name":"Square"}`)
	f.handlePut(key, raw)

	if len(got) != 1 {
		t.Fatalf("expected 1 observed event, got %d", len(got))
	}
	if got[0].Kind != WriterAdvertised {
		t.Fatalf("expected WriterAdvertised, got %v", got[0].Kind)
	}

	f.handleDelete(key)
	if len(got) != 2 || got[1].Kind != WriterWithdrawn {
		t.Fatalf("expected a second WriterWithdrawn event, got %+v", got)
	}
}

func TestObserveIgnoresOtherTopics(t *testing.T) {
	var f = NewWriterFeed(nil, "writers/", "Square")
	var calls int
	f.Observe(func(Event) { calls++ })

	var raw = []byte(`{"guid":"aaaaaaaaaaaaaaaaaaaaaaaa:000100.02","topic_name":"Circle"}`)
	f.handlePut("writers/aaaaaaaaaaaaaaaaaaaaaaaa:000100.02", raw)

	if calls != 0 {
		t.Fatalf("expected no events for a non-matching topic, got %d", calls)
	}
}
