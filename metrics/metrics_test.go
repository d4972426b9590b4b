package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectReportsRegisteredSnapshots(t *testing.T) {
	var c = NewReaderCollector()
	c.Register(func() ReaderSnapshot {
		return ReaderSnapshot{TopicName: "Square", MatchedWriters: 2, NotifyCount: 5, AssemblyBuffers: 1, CacheLen: 3}
	})

	var registry = prometheus.NewRegistry()
	registry.MustRegister(c)

	var count, err = testutil.GatherAndCount(registry)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 metric samples, got %d", count)
	}
}

func TestCollectReportsNothingWithNoReaders(t *testing.T) {
	var c = NewReaderCollector()
	var registry = prometheus.NewRegistry()
	registry.MustRegister(c)

	var count, err = testutil.GatherAndCount(registry)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 metric samples, got %d", count)
	}
}
