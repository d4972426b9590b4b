// Package discovery watches an etcd keyspace of advertised remote RTPS
// writers and drives a reader's matched-writer set from it.
//
// Grounded on dwarri-gazette's consumer/resolver.go (an Observer callback
// registered against a watched KeySpace, invoked on every revision change)
// and consumer/key_space.go's decoder (cross-checking a decoded value's own
// identifier against the etcd key it was stored under). Gazette's own
// allocator/keyspace packages are part of the teacher module being rewritten
// here, not an importable dependency, so this package talks to
// go.etcd.io/etcd/clientv3 directly instead of through that library.
package discovery

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/locator"
	"github.com/atostek/godds/qos"
)

// WriterAdvert is the JSON document stored under each writer's etcd key,
// keyed by the writer's GUID string form.
type WriterAdvert struct {
	Guid              string        `json:"guid"`
	TopicName         string        `json:"topic_name"`
	UnicastLocators   []WireLocator `json:"unicast_locators"`
	MulticastLocators []WireLocator `json:"multicast_locators"`
	Qos               WireQos       `json:"qos"`
}

// WireLocator is WriterAdvert's JSON encoding of a locator.Locator.
type WireLocator struct {
	Kind    int32  `json:"kind"`
	Port    uint32 `json:"port"`
	Address []byte `json:"address"`
}

func (w WireLocator) toLocator() locator.Locator {
	var l = locator.Locator{Kind: locator.Kind(w.Kind), Port: w.Port}
	copy(l.Address[:], w.Address)
	return l
}

// WireQos is a minimal JSON-friendly projection of qos.Policies covering the
// fields WriterAdvert needs to carry across the wire.
type WireQos struct {
	Reliability  int32 `json:"reliability"`
	Durability   int32 `json:"durability"`
	HistoryKind  int32 `json:"history_kind"`
	HistoryDepth int32 `json:"history_depth"`
}

func (w WireQos) toPolicies() qos.Policies {
	var p = qos.Default()
	p.Reliability = qos.ReliabilityKind(w.Reliability)
	p.Durability = qos.DurabilityKind(w.Durability)
	p.History = qos.History{Kind: qos.HistoryKind(w.HistoryKind), Depth: int(w.HistoryDepth)}
	return p
}

// decode parses raw into a WriterAdvert, cross-checking that the GUID it
// claims matches the GUID implied by its own etcd key -- the same
// source-of-truth assertion consumer/key_space.go's decoder makes for
// ShardSpec/ConsumerSpec/ReplicaStatus.
func decode(key string, raw []byte) (WriterAdvert, error) {
	var advert WriterAdvert
	if err := json.Unmarshal(raw, &advert); err != nil {
		return WriterAdvert{}, errors.WithMessage(err, "discovery: decoding writer advert")
	}
	if keyID(key) != advert.Guid {
		return WriterAdvert{}, errors.Errorf("discovery: advert GUID %q doesn't match key %q", advert.Guid, key)
	}
	return advert, nil
}

func keyID(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

// Observer is notified whenever the advertised writer set for a topic
// changes; see Resolution and updateResolutions's observer idiom in
// consumer/resolver.go.
type Observer func(event Event)

// EventKind distinguishes an advert's appearance from its removal.
type EventKind int

const (
	WriterAdvertised EventKind = iota
	WriterWithdrawn
)

// Event describes a single writer-advert change.
type Event struct {
	Kind    EventKind
	Guid    guid.GUID
	Advert  WriterAdvert
}

// WriterFeed watches an etcd prefix of writer adverts for one topic and fans
// revision changes out to registered Observers.
type WriterFeed struct {
	client    *clientv3.Client
	prefix    string
	topicName string

	mu        sync.Mutex
	observers []Observer
	known     map[string]WriterAdvert
}

// NewWriterFeed constructs a feed watching prefix for adverts naming
// topicName.
func NewWriterFeed(client *clientv3.Client, prefix, topicName string) *WriterFeed {
	return &WriterFeed{
		client:    client,
		prefix:    prefix,
		topicName: topicName,
		known:     make(map[string]WriterAdvert),
	}
}

// Observe registers fn to be called for every future writer-advert change.
// Mirrors the append-to-Observers pattern in consumer/resolver.go's
// NewResolver, minus the KeySpace mutex since WriterFeed owns its own.
func (f *WriterFeed) Observe(fn Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

// Run loads the current prefix contents, then watches for changes until ctx
// is canceled, invoking observers for every advert add/update/remove.
func (f *WriterFeed) Run(ctx context.Context) error {
	var get, err = f.client.Get(ctx, f.prefix, clientv3.WithPrefix())
	if err != nil {
		return errors.WithMessage(err, "discovery: initial Get")
	}
	for _, kv := range get.Kvs {
		f.handlePut(string(kv.Key), kv.Value)
	}

	var watch = f.client.Watch(ctx, f.prefix, clientv3.WithPrefix(), clientv3.WithRev(get.Header.Revision+1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-watch:
			if !ok {
				return errors.New("discovery: watch channel closed")
			}
			if err := resp.Err(); err != nil {
				return errors.WithMessage(err, "discovery: watch")
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					f.handleDelete(string(ev.Kv.Key))
				} else {
					f.handlePut(string(ev.Kv.Key), ev.Kv.Value)
				}
			}
		}
	}
}

func (f *WriterFeed) handlePut(key string, value []byte) {
	var advert, err = decode(key, value)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("discovery: dropping malformed writer advert")
		return
	}
	if advert.TopicName != f.topicName {
		return
	}
	var g, gerr = guid.ParseString(advert.Guid)
	if gerr != nil {
		log.WithError(gerr).WithField("key", key).Warn("discovery: dropping advert with unparseable GUID")
		return
	}

	f.mu.Lock()
	f.known[key] = advert
	var observers = append([]Observer(nil), f.observers...)
	f.mu.Unlock()

	for _, obs := range observers {
		obs(Event{Kind: WriterAdvertised, Guid: g, Advert: advert})
	}
}

func (f *WriterFeed) handleDelete(key string) {
	f.mu.Lock()
	var advert, ok = f.known[key]
	delete(f.known, key)
	var observers = append([]Observer(nil), f.observers...)
	f.mu.Unlock()
	if !ok {
		return
	}
	var g, err = guid.ParseString(advert.Guid)
	if err != nil {
		return
	}
	for _, obs := range observers {
		obs(Event{Kind: WriterWithdrawn, Guid: g, Advert: advert})
	}
}

// Locators is a convenience accessor turning an advert's wire locator lists
// into locator.Locator values, used by callers wiring an Event into
// writerproxy.New.
func (a WriterAdvert) Locators() (unicast, multicast []locator.Locator) {
	for _, l := range a.UnicastLocators {
		unicast = append(unicast, l.toLocator())
	}
	for _, l := range a.MulticastLocators {
		multicast = append(multicast, l.toLocator())
	}
	return unicast, multicast
}

// Policies returns the advert's QoS as qos.Policies.
func (a WriterAdvert) Policies() qos.Policies { return a.Qos.toPolicies() }
