// Package qos implements the subset of DDS QoS policies this reader
// understands and enforces: Reliability, Durability, History, Deadline,
// Lifespan, and ResourceLimits. Partition, TimeBasedFilter, and
// OwnershipStrength are accepted nowhere in this package on purpose — see
// Validate.
package qos

import (
	"time"

	"github.com/pkg/errors"
)

// ReliabilityKind selects best-effort or reliable delivery.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = 1
	Reliable   ReliabilityKind = 2
)

// DurabilityKind selects whether late-joining readers receive historical
// samples, and from where.
type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// HistoryKind selects whether the topic cache retains all samples or only
// the most recent N per instance.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// History bounds retention by count when Kind is KeepLast.
type History struct {
	Kind  HistoryKind
	Depth int
}

// ResourceLimits bounds the topic cache's memory footprint. MaxInstances and
// MaxSamplesPerInstance are carried (per original_source/dds_cache.rs's own
// fallback defaults) but, like the original, not enforced by the core
// retention path — only MaxSamples is.
type ResourceLimits struct {
	MaxSamples            int
	MaxInstances           int
	MaxSamplesPerInstance int
}

// DefaultResourceLimits matches dds_cache.rs's fallback when QoS specifies
// none.
var DefaultResourceLimits = ResourceLimits{
	MaxSamples:            1024,
	MaxInstances:           1024,
	MaxSamplesPerInstance: 64,
}

// Deadline bounds the maximum expected period between samples of an
// instance; missing it raises RequestedDeadlineMissed.
type Deadline struct {
	Period time.Duration // zero means disabled.
}

// Lifespan bounds how long a sample remains valid after it is written;
// expired samples are dropped rather than delivered or cached.
type Lifespan struct {
	Duration time.Duration // zero means infinite.
}

// Policies is the set of QoS policies a reader or writer proxy carries.
type Policies struct {
	Reliability ReliabilityKind
	Durability  DurabilityKind
	History     History
	Deadline    Deadline
	Lifespan    Lifespan
	Resources   ResourceLimits

	// HeartbeatSuppressionDuration mirrors the field the original
	// implementation carries unused ("TODO: implement (use) this"); stored
	// here for parity but not consulted by heartbeat handling. See
	// SPEC_FULL.md §12.
	HeartbeatSuppressionDuration time.Duration
}

// Default returns a reasonable QoS default: best-effort, volatile,
// keep-last(1), no deadline, no lifespan, default resource limits.
func Default() Policies {
	return Policies{
		Reliability: BestEffort,
		Durability:  Volatile,
		History:     History{Kind: KeepLast, Depth: 1},
		Resources:   DefaultResourceLimits,
	}
}

// Validate rejects QoS policy combinations this reader cannot support.
// Partition, TimeBasedFilter, and OwnershipStrength are not modeled at all in
// this package (see DESIGN.md's Open Question decisions), so Policies cannot
// express them and there is nothing to validate them against; a caller
// that tries to smuggle them in via a side channel should fail loudly rather
// than silently ignore them, hence callers are expected to construct
// Policies only through this package's exported fields.
func Validate(p Policies) error {
	if p.Reliability != BestEffort && p.Reliability != Reliable {
		return errors.Errorf("qos: invalid reliability kind %d", p.Reliability)
	}
	if p.History.Kind == KeepLast && p.History.Depth < 1 {
		return errors.New("qos: keep-last history requires depth >= 1")
	}
	if p.Resources.MaxSamples <= 0 {
		return errors.New("qos: resource_limits.max_samples must be positive")
	}
	return nil
}

// Compliant reports whether a requested QoS is compatible with an offered
// QoS, per DDS's standard "offered must be at least as strong as requested"
// rule, restricted to the policies this package models.
func Compliant(offered, requested Policies) bool {
	if requested.Reliability == Reliable && offered.Reliability != Reliable {
		return false
	}
	if !durabilityAtLeast(offered.Durability, requested.Durability) {
		return false
	}
	if requested.Deadline.Period > 0 {
		if offered.Deadline.Period == 0 || offered.Deadline.Period > requested.Deadline.Period {
			return false
		}
	}
	return true
}

func durabilityAtLeast(offered, requested DurabilityKind) bool {
	return offered >= requested
}
