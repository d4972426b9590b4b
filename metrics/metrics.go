// Package metrics exposes reader/cache/assembler counters as a Prometheus
// collector.
//
// Grounded on runZeroInc-sockstats's pkg/exporter/exporter.go: a custom
// prometheus.Collector that locks a small mutex-guarded state struct in
// Collect rather than relying solely on prometheus's own vector types, since
// the reader's counters (matched writers, notify count, assembly buffers in
// flight) are already maintained inside rtpsreader.Reader and this package
// only needs to surface snapshots of them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReaderSnapshot is the set of counters a Reader exposes for one topic at a
// point in time.
type ReaderSnapshot struct {
	TopicName       string
	MatchedWriters  int
	NotifyCount     int
	AssemblyBuffers int
	CacheLen        int
}

// SnapshotFunc returns the current ReaderSnapshot for one reader; the
// collector calls it fresh on every Collect, so it must be cheap and safe
// to call concurrently with the reader's own event loop (in practice this
// means it must itself acquire whatever lock the reader uses, exactly the
// way TopicCache.Lock/Unlock does for the topic cache).
type SnapshotFunc func() ReaderSnapshot

// ReaderCollector adapts one or more readers' snapshot functions into a
// prometheus.Collector.
type ReaderCollector struct {
	mu        sync.Mutex
	snapshots []SnapshotFunc

	matchedWriters  *prometheus.Desc
	notifyCount     *prometheus.Desc
	assemblyBuffers *prometheus.Desc
	cacheLen        *prometheus.Desc
}

// NewReaderCollector constructs a collector with no readers registered yet;
// call Register for each Reader to expose.
func NewReaderCollector() *ReaderCollector {
	return &ReaderCollector{
		matchedWriters:  prometheus.NewDesc("godds_reader_matched_writers", "Number of writer proxies currently matched.", []string{"topic"}, nil),
		notifyCount:     prometheus.NewDesc("godds_reader_notify_total", "Total cache-change notifications delivered.", []string{"topic"}, nil),
		assemblyBuffers: prometheus.NewDesc("godds_reader_assembly_buffers", "In-flight fragment assembly buffers.", []string{"topic"}, nil),
		cacheLen:        prometheus.NewDesc("godds_reader_cache_len", "Number of changes currently retained in the topic cache.", []string{"topic"}, nil),
	}
}

// Register adds fn as a source of ReaderSnapshots this collector reports.
func (c *ReaderCollector) Register(fn SnapshotFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, fn)
}

// Describe implements prometheus.Collector.
func (c *ReaderCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.matchedWriters
	descs <- c.notifyCount
	descs <- c.assemblyBuffers
	descs <- c.cacheLen
}

// Collect implements prometheus.Collector.
func (c *ReaderCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	var fns = append([]SnapshotFunc(nil), c.snapshots...)
	c.mu.Unlock()

	for _, fn := range fns {
		var s = fn()
		metrics <- prometheus.MustNewConstMetric(c.matchedWriters, prometheus.GaugeValue, float64(s.MatchedWriters), s.TopicName)
		metrics <- prometheus.MustNewConstMetric(c.notifyCount, prometheus.CounterValue, float64(s.NotifyCount), s.TopicName)
		metrics <- prometheus.MustNewConstMetric(c.assemblyBuffers, prometheus.GaugeValue, float64(s.AssemblyBuffers), s.TopicName)
		metrics <- prometheus.MustNewConstMetric(c.cacheLen, prometheus.GaugeValue, float64(s.CacheLen), s.TopicName)
	}
}
