package topiccache

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/rtpstime"
	"github.com/atostek/godds/seqnum"
)

// TopicCache is an ordered (by receipt Timestamp) history of CacheChanges
// for a single topic, plus a per-writer "reliably received before"
// watermark consumers can use to know how far a reliable writer's
// acknowledged stream has progressed.
//
// This is the one piece of state shared between the reader's single-threaded
// event loop and a DataReader consumer (spec.md §6), so mutation goes
// through Lock/Unlock; every method below assumes the caller already holds
// the lock, matching the original's acquire_the_topic_cache_guard pairing
// with DDSHistoryCache's otherwise lock-free methods.
type TopicCache struct {
	TopicName string
	Qos       qos.Policies

	mu      sync.Mutex
	keys    []rtpstime.Timestamp // kept sorted ascending
	changes map[rtpstime.Timestamp]CacheChange

	writerWatermarks map[guid.GUID]seqnum.SequenceNumber
}

// Lock acquires exclusive access to the cache, matching the original's
// acquire_the_topic_cache_guard. Go mutexes cannot be poisoned, so unlike
// the original there is nothing to panic on here — a caller that genuinely
// cannot proceed without the lock should just call Lock and trust it.
func (c *TopicCache) Lock() { c.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (c *TopicCache) Unlock() { c.mu.Unlock() }

// New creates an empty TopicCache for topicName under the given QoS.
func New(topicName string, q qos.Policies) *TopicCache {
	return &TopicCache{
		TopicName:        topicName,
		Qos:              q,
		changes:          make(map[rtpstime.Timestamp]CacheChange),
		writerWatermarks: make(map[guid.GUID]seqnum.SequenceNumber),
	}
}

func timestampLess(a, b rtpstime.Timestamp) bool { return a.Before(b) }

// AddChange inserts change at instant. A duplicate instant is logged as an
// error and the existing entry is left untouched, matching
// DDSHistoryCache::add_change's own error!-log-not-panic behavior for a
// collision that "should never happen" but is not itself fatal.
func (c *TopicCache) AddChange(instant rtpstime.Timestamp, change CacheChange) {
	if _, exists := c.changes[instant]; exists {
		log.WithFields(log.Fields{
			"topic":   c.TopicName,
			"instant": instant,
		}).Error("topiccache: duplicate instant on add_change, ignoring")
		return
	}
	var i = sort.Search(len(c.keys), func(i int) bool { return !timestampLess(c.keys[i], instant) })
	c.keys = append(c.keys, rtpstime.Timestamp{})
	copy(c.keys[i+1:], c.keys[i:])
	c.keys[i] = instant
	c.changes[instant] = change
}

// GetChange looks up the change at instant.
func (c *TopicCache) GetChange(instant rtpstime.Timestamp) (CacheChange, bool) {
	change, ok := c.changes[instant]
	return change, ok
}

// MarkReliablyReceivedBefore records that every sample up to (but not
// including) sn from writer is now accounted for by the reader's reliable
// delivery machinery. It never regresses.
func (c *TopicCache) MarkReliablyReceivedBefore(writer guid.GUID, sn seqnum.SequenceNumber) {
	if cur, ok := c.writerWatermarks[writer]; !ok || sn > cur {
		c.writerWatermarks[writer] = sn
	}
}

// ReliablyReceivedBefore returns the watermark previously recorded by
// MarkReliablyReceivedBefore for writer, or seqnum.Unknown if none.
func (c *TopicCache) ReliablyReceivedBefore(writer guid.GUID) seqnum.SequenceNumber {
	return c.writerWatermarks[writer]
}

// GetChangesInRange returns every change whose instant lies in
// [start, end), in ascending instant order.
func (c *TopicCache) GetChangesInRange(start, end rtpstime.Timestamp) []CacheChange {
	var lo = sort.Search(len(c.keys), func(i int) bool { return !timestampLess(c.keys[i], start) })
	var hi = sort.Search(len(c.keys), func(i int) bool { return !timestampLess(c.keys[i], end) })
	var out = make([]CacheChange, 0, hi-lo)
	for _, k := range c.keys[lo:hi] {
		out = append(out, c.changes[k])
	}
	return out
}

// GetAllChanges returns every change currently retained, in ascending
// instant order.
func (c *TopicCache) GetAllChanges() []CacheChange {
	var out = make([]CacheChange, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.changes[k])
	}
	return out
}

// removeChangesBefore drops every change whose instant is strictly less
// than splitKey.
func (c *TopicCache) removeChangesBefore(splitKey rtpstime.Timestamp) int {
	var i = sort.Search(len(c.keys), func(i int) bool { return !timestampLess(c.keys[i], splitKey) })
	var removed = i
	for _, k := range c.keys[:i] {
		delete(c.changes, k)
	}
	c.keys = append(c.keys[:0:0], c.keys[i:]...)
	return removed
}

// RemoveChangesBefore removes every change older than instant and, beyond
// that, as many of the oldest changes as needed to leave at most
// Qos.Resources.MaxSamples entries; the sample cap wins over instant, so
// changes at or after instant are removed when the cap requires it. This is
// a direct port of DDSHistoryCache::remove_changes_before's split-key
// algorithm:
//
//	remove_count = len(changes) - max_keep_samples
//	split_key = the later of instant and the (remove_count+1)-th smallest key
func (c *TopicCache) RemoveChangesBefore(instant rtpstime.Timestamp) int {
	var maxKeep = c.Qos.Resources.MaxSamples
	if maxKeep <= 0 {
		maxKeep = qos.DefaultResourceLimits.MaxSamples
	}
	var removeCount = len(c.keys) - maxKeep
	if removeCount < 0 {
		removeCount = 0
	}
	var splitKey = instant
	if removeCount < len(c.keys) {
		var candidate = c.keys[removeCount]
		if timestampLess(splitKey, candidate) {
			splitKey = candidate
		}
	}
	return c.removeChangesBefore(splitKey)
}

// Len reports how many changes are currently retained.
func (c *TopicCache) Len() int { return len(c.keys) }
