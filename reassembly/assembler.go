// Package reassembly implements fragment reassembly for DATAFRAG
// submessages: one AssemblyBuffer per (writer GUID, sequence number), and a
// FragmentAssembler that owns the set of buffers for a single reader.
//
// Grounded on original_source/src/rtps/reader.rs's
// fragment_assembler_mutable/garbage_collect_fragments/missing_frags_for/
// is_frag_partially_received. The reader is single-threaded by design, so
// unlike other_examples' udp-fragment_receiver.go this
// package holds no locks and spawns no goroutines of its own; all mutation
// happens on the reader's event-loop goroutine.
package reassembly

import (
	"time"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/seqnum"
)

// AssemblyTimeout is how long a partially-received sample may sit idle
// before it is evicted, matching FRAGMENT_ASSEMBLY_TIMEOUT in the original.
const AssemblyTimeout = 10 * time.Second

// MinGCInterval bounds how often garbage collection actually scans the
// buffer set, matching MIN_FRAGMENT_GC_INTERVAL in the original.
const MinGCInterval = 2 * time.Second

// key identifies one in-flight reassembly.
type key struct {
	writer guid.GUID
	sn     seqnum.SequenceNumber
}

// AssemblyBuffer holds the fragments received so far for one (writer, SN).
type AssemblyBuffer struct {
	TotalSize     uint32
	FragmentSize  uint16
	fragments     map[seqnum.FragmentNumber][]byte
	fragmentCount uint32
	lastActivity  time.Time
}

func newAssemblyBuffer(sampleSize uint32, fragmentSize uint16, fragmentCount uint32, now time.Time) *AssemblyBuffer {
	return &AssemblyBuffer{
		TotalSize:    sampleSize,
		FragmentSize: fragmentSize,
		fragments:    make(map[seqnum.FragmentNumber][]byte, fragmentCount),
		lastActivity: now,
	}
}

// insert records the payload of count consecutive fragments starting at
// fragStart. Out-of-range or duplicate fragment numbers are ignored
// (idempotent, matching the reader's duplicate-drop policy for everything
// else).
func (b *AssemblyBuffer) insert(fragStart seqnum.FragmentNumber, count uint16, payload []byte, now time.Time) {
	for i := uint16(0); i < count; i++ {
		var fn = fragStart + seqnum.FragmentNumber(i)
		if fn < 1 || uint32(fn) > b.totalFragments() {
			continue
		}
		if _, ok := b.fragments[fn]; ok {
			continue
		}
		var lo = int(i) * int(b.FragmentSize)
		var hi = lo + int(b.FragmentSize)
		if hi > len(payload) {
			hi = len(payload)
		}
		if lo >= hi {
			continue
		}
		b.fragments[fn] = append([]byte(nil), payload[lo:hi]...)
		b.fragmentCount++
	}
	b.lastActivity = now
}

func (b *AssemblyBuffer) totalFragments() uint32 {
	var n = b.TotalSize / uint32(b.FragmentSize)
	if b.TotalSize%uint32(b.FragmentSize) != 0 {
		n++
	}
	return n
}

func (b *AssemblyBuffer) isComplete() bool {
	return b.fragmentCount >= b.totalFragments()
}

// Assemble concatenates all fragments in order into the final sample. Only
// valid once isComplete reports true.
func (b *AssemblyBuffer) Assemble() []byte {
	var out = make([]byte, 0, b.TotalSize)
	var total = b.totalFragments()
	for fn := seqnum.FragmentNumber(1); fn <= seqnum.FragmentNumber(total); fn++ {
		out = append(out, b.fragments[fn]...)
	}
	if uint32(len(out)) > b.TotalSize {
		out = out[:b.TotalSize]
	}
	return out
}

// MissingFragments returns the fragment numbers not yet received, in
// ascending order.
func (b *AssemblyBuffer) MissingFragments() []seqnum.FragmentNumber {
	var total = b.totalFragments()
	var out []seqnum.FragmentNumber
	for fn := seqnum.FragmentNumber(1); fn <= seqnum.FragmentNumber(total); fn++ {
		if _, ok := b.fragments[fn]; !ok {
			out = append(out, fn)
		}
	}
	return out
}

// FragmentAssembler owns every in-flight AssemblyBuffer for a single reader.
type FragmentAssembler struct {
	buffers map[key]*AssemblyBuffer
	lastGC  time.Time
}

// New creates an empty FragmentAssembler.
func New() *FragmentAssembler {
	return &FragmentAssembler{buffers: make(map[key]*AssemblyBuffer)}
}

// Ingest records one DATAFRAG's worth of fragment data, creating the
// AssemblyBuffer on first sight. It returns the completed sample and true
// once every fragment has arrived; otherwise it returns nil, false.
func (a *FragmentAssembler) Ingest(
	writer guid.GUID,
	sn seqnum.SequenceNumber,
	fragStart seqnum.FragmentNumber,
	fragmentsInSubmessage uint16,
	fragmentSize uint16,
	sampleSize uint32,
	payload []byte,
	now time.Time,
) ([]byte, bool) {
	var k = key{writer: writer, sn: sn}
	var buf, ok = a.buffers[k]
	if !ok {
		buf = newAssemblyBuffer(sampleSize, fragmentSize, 0, now)
		a.buffers[k] = buf
	}
	buf.insert(fragStart, fragmentsInSubmessage, payload, now)
	if buf.isComplete() {
		var out = buf.Assemble()
		delete(a.buffers, k)
		return out, true
	}
	return nil, false
}

// MissingFragsFor returns the missing fragment numbers for (writer, sn), or
// nil if there is no in-flight assembly for that key.
func (a *FragmentAssembler) MissingFragsFor(writer guid.GUID, sn seqnum.SequenceNumber) []seqnum.FragmentNumber {
	var buf, ok = a.buffers[key{writer: writer, sn: sn}]
	if !ok {
		return nil
	}
	return buf.MissingFragments()
}

// IsPartiallyReceived reports whether any fragments at all have arrived for
// (writer, sn) without the sample being complete.
func (a *FragmentAssembler) IsPartiallyReceived(writer guid.GUID, sn seqnum.SequenceNumber) bool {
	var buf, ok = a.buffers[key{writer: writer, sn: sn}]
	return ok && buf.fragmentCount > 0 && !buf.isComplete()
}

// GarbageCollectBefore evicts any AssemblyBuffer whose last activity is
// older than AssemblyTimeout relative to now, but only if at least
// MinGCInterval has elapsed since the previous collection; this mirrors the
// original's rate-limited GC rather than scanning on every timer tick.
func (a *FragmentAssembler) GarbageCollectBefore(now time.Time) int {
	if !a.lastGC.IsZero() && now.Sub(a.lastGC) < MinGCInterval {
		return 0
	}
	a.lastGC = now
	var evicted int
	for k, buf := range a.buffers {
		if now.Sub(buf.lastActivity) >= AssemblyTimeout {
			delete(a.buffers, k)
			evicted++
		}
	}
	return evicted
}

// RemoveWriter drops every in-flight assembly belonging to writer, used when
// a writer proxy is removed (participant lost, unmatched).
func (a *FragmentAssembler) RemoveWriter(writer guid.GUID) {
	for k := range a.buffers {
		if k.writer == writer {
			delete(a.buffers, k)
		}
	}
}

// Len reports how many assemblies are currently in flight, for metrics.
func (a *FragmentAssembler) Len() int { return len(a.buffers) }
