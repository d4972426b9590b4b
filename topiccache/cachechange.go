// Package topiccache implements the per-topic sample history a reader feeds
// into and a DataReader consumes from: CacheChange, TopicCache, and a
// Registry hosting one TopicCache per matched topic.
//
// Grounded on original_source/src/structure/dds_cache.rs in full.
package topiccache

import (
	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/rtpstime"
	"github.com/atostek/godds/seqnum"
)

// ChangeKind discriminates what a CacheChange represents, mirroring RTPS's
// ChangeKind enumeration.
type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
	NotAliveDisposedUnregistered
)

// DDSDataKind tags which payload variant a CacheChange carries. A tagged
// variant is used instead of an interface/polymorphism hierarchy, per
// spec.md §9's design note.
type DDSDataKind int

const (
	DDSDataAlive DDSDataKind = iota
	DDSDataDisposeByKey
	DDSDataDisposeByKeyHash
)

// DDSData is the tagged-variant payload of a CacheChange.
type DDSData struct {
	Kind           DDSDataKind
	SerializedData []byte // valid when Kind == DDSDataAlive
	Key            []byte // valid when Kind == DDSDataDisposeByKey
	KeyHash        [16]byte
}

// WriteOptions carries the per-sample options a writer attached (source
// timestamp, related sample identity for coherent sets — only the source
// timestamp is modeled here, as that is all the reader's retention logic
// needs).
type WriteOptions struct {
	SourceTimestamp rtpstime.Timestamp
}

// CacheChange is a single sample (or disposal/unregistration) received from
// one writer.
type CacheChange struct {
	WriterGuid guid.GUID
	SN         seqnum.SequenceNumber
	Kind       ChangeKind
	Options    WriteOptions
	Data       DDSData
}

// Expired reports whether this change is older than its topic's Lifespan
// QoS, relative to now. A zero Lifespan.Duration means "never expires".
func (c CacheChange) Expired(lifespan qos.Lifespan, now rtpstime.Timestamp) bool {
	if lifespan.Duration <= 0 {
		return false
	}
	return now.Sub(c.Options.SourceTimestamp) > lifespan.Duration
}
