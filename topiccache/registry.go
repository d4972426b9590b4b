package topiccache

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/atostek/godds/qos"
)

// Registry hosts one TopicCache per topic name, the way
// original_source/src/structure/dds_cache.rs's DDSCache wraps many
// DDSHistoryCache instances behind a single lookup-by-name surface. Per
// spec.md §6, the registry (and each TopicCache inside it) is the one piece
// of state shared between the reader's single-threaded event loop and a
// consumer (DataReader); everything else in this repo is owned exclusively
// by the event loop.
type Registry struct {
	mu     sync.Mutex
	topics map[string]*TopicCache
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]*TopicCache)}
}

// AddTopic registers a new TopicCache for name, returning an error if one
// already exists — mirroring DDSCache::add_new_topic panicking on a
// duplicate name; an error return is used here instead of a panic since
// registering a topic is driven by discovery input, not an internal
// invariant the program controls.
func (r *Registry) AddTopic(name string, q qos.Policies) (*TopicCache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.topics[name]; exists {
		return nil, errors.Errorf("topiccache: topic %q already registered", name)
	}
	var tc = New(name, q)
	r.topics[name] = tc
	return tc, nil
}

// RemoveTopic drops the TopicCache for name, if any.
func (r *Registry) RemoveTopic(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, name)
}

// Topic returns the TopicCache for name, if registered. The returned pointer
// is safe to use without holding the registry's lock: callers are expected
// to take out the topic's own lock discipline at the call site (the reader's
// event loop owns it exclusively; a consumer takes a lock the reader also
// takes — see acquireTopicCacheGuard in rtpsreader for that pairing).
func (r *Registry) Topic(name string) (*TopicCache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tc, ok := r.topics[name]
	return tc, ok
}

// TopicQos returns the QoS policies of the named topic.
func (r *Registry) TopicQos(name string) (qos.Policies, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tc, ok := r.topics[name]
	if !ok {
		return qos.Policies{}, false
	}
	return tc.Qos, true
}
