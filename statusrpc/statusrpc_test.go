package statusrpc

import (
	"context"
	"testing"

	"github.com/atostek/godds/guid"
)

type fakeReader struct {
	topic   string
	writers []guid.GUID
	notify  int
	cache   int
}

func (f fakeReader) TopicName() string               { return f.topic }
func (f fakeReader) MatchedWriterGuids() []guid.GUID { return f.writers }
func (f fakeReader) Counters() (notify, cacheLen int) { return f.notify, f.cache }

func TestStatusReturnsRegisteredReaderCounters(t *testing.T) {
	var srv = NewServer()
	var w = guid.GUID{Prefix: guid.GuidPrefix{1}, EntityId: guid.EntityId{EntityKind: guid.EntityKindUserWriterWithKey}}
	srv.Register(fakeReader{topic: "Square", writers: []guid.GUID{w}, notify: 3, cache: 7})

	var resp, err = srv.Status(context.Background(), &StatusRequest{TopicName: "Square"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.NotifyCount != 3 || resp.CacheLen != 7 {
		t.Fatalf("unexpected counters: %+v", resp)
	}
	if len(resp.MatchedWriters) != 1 || resp.MatchedWriters[0].Guid != w.String() {
		t.Fatalf("unexpected matched writers: %+v", resp.MatchedWriters)
	}
}

func TestStatusUnknownTopicReturnsEmptyResponse(t *testing.T) {
	var srv = NewServer()
	var resp, err = srv.Status(context.Background(), &StatusRequest{TopicName: "Missing"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(resp.MatchedWriters) != 0 || resp.NotifyCount != 0 {
		t.Fatalf("expected an empty response for an unknown topic, got %+v", resp)
	}
}
