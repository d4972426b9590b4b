// Package wire models the RTPS submessages this reader consumes (DATA,
// DATAFRAG, HEARTBEAT, GAP, HEARTBEATFRAG) and emits (ACKNACK, NACKFRAG,
// INFO_DESTINATION), plus the Header that precedes every RTPS Message.
//
// Payload bytes inside DATA/DATAFRAG are treated as an opaque CDR-encoded
// blob: this package does not know how to interpret them beyond the
// serializedPayload header's representation-identifier field, per spec.md's
// scope note that serialization is a black-box external collaborator.
package wire

import (
	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/seqnum"
)

// Header is the fixed 20-byte prefix of every RTPS Message.
type Header struct {
	ProtocolVersionMajor byte
	ProtocolVersionMinor byte
	VendorId             [2]byte
	GuidPrefix           guid.GuidPrefix
}

// DataFlags are the flag bits of a DATA submessage.
type DataFlags struct {
	InlineQos   bool
	DataPresent bool
	KeyHash     bool // consulted by the reader for dispose-by-key-hash DATA
}

// SerializedPayload wraps an opaque CDR blob with its representation id, the
// only part of the payload this package inspects.
type SerializedPayload struct {
	RepresentationId uint16
	Data             []byte
}

// Data is a DATA submessage: a single sample (or disposal/unregistration)
// from one writer.
type Data struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSN        seqnum.SequenceNumber
	Flags           DataFlags
	InlineQosParams []byte // raw parameter list, not interpreted here
	SerializedKey   *SerializedPayload
	SerializedData  *SerializedPayload
}

// DataFrag is a DATAFRAG submessage: one fragment of a large sample.
type DataFrag struct {
	ReaderId              guid.EntityId
	WriterId              guid.EntityId
	WriterSN              seqnum.SequenceNumber
	FragmentStartingNum   seqnum.FragmentNumber
	FragmentsInSubmessage uint16
	FragmentSize          uint16
	SampleSize            uint32
	InlineQosParams       []byte
	SerializedPayload     []byte
	KeyFlag               bool
}

// Heartbeat is a HEARTBEAT submessage: a writer's liveliness/progress
// announcement, advertising the [FirstSN, LastSN] range it still holds.
type Heartbeat struct {
	ReaderId       guid.EntityId
	WriterId       guid.EntityId
	FirstSN        seqnum.SequenceNumber
	LastSN         seqnum.SequenceNumber
	Count          int32
	FinalFlag      bool
	LivelinessFlag bool
}

// Gap is a GAP submessage: a set of sequence numbers the writer will never
// send (irrelevant to the reader), expressed as [gapStart, gapList.base) plus
// the gapList's own bitmap.
type Gap struct {
	ReaderId guid.EntityId
	WriterId guid.EntityId
	GapStart seqnum.SequenceNumber
	GapList  seqnum.SequenceNumberSet
}

// HeartbeatFrag is a HEARTBEATFRAG submessage: per spec.md, accepted and
// logged, never acted upon.
type HeartbeatFrag struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSN        seqnum.SequenceNumber
	LastFragmentNum seqnum.FragmentNumber
	Count           int32
}

// AckNack is the submessage this reader emits to acknowledge receipt and
// request retransmission of missing samples.
type AckNack struct {
	ReaderId      guid.EntityId
	WriterId      guid.EntityId
	ReaderSNState seqnum.SequenceNumberSet
	Count         int32
	FinalFlag     bool
}

// NackFrag is the submessage this reader emits to request retransmission of
// missing fragments of a single, partially-received sample.
type NackFrag struct {
	ReaderId            guid.EntityId
	WriterId            guid.EntityId
	WriterSN            seqnum.SequenceNumber
	FragmentNumberState seqnum.FragmentNumberSet
	Count               int32
}

// InfoDestination carries the intended reader's GuidPrefix and is prepended
// to outgoing ACKNACK/NACKFRAG messages, matching the original's
// send_acknack_to/send_nackfrags_to.
type InfoDestination struct {
	GuidPrefix guid.GuidPrefix
}

// Message is a fully decoded RTPS Message: header plus submessages.
// Submessages are carried as `any` holding one of the concrete types above;
// the dispatcher in rtpsreader type-switches over them.
type Message struct {
	Header      Header
	Submessages []any
}
