// Package statusevents implements DDS status-change notifications and the
// bounded, non-blocking delivery channel the reader uses to publish them.
// Grounded on original_source/src/rtps/reader.rs's notify_cache_change,
// which tries three delivery paths (a waker, a poll-event sender, and a
// bounded mio_channel::try_send) without ever blocking the reader's single
// event loop; this package keeps the same "never block" contract using a
// plain buffered channel and a non-blocking send.
package statusevents

import "github.com/sirupsen/logrus"

// CountWithChange pairs a cumulative counter with the delta since it was last
// observed, matching the shape DDS's *Status structs use throughout.
type CountWithChange struct {
	Total  int32
	Change int32
}

// DataReaderStatusKind discriminates the status event variants a reader may
// raise.
type DataReaderStatusKind int

const (
	RequestedDeadlineMissed DataReaderStatusKind = iota
	SampleRejected
	RequestedIncompatibleQos
	SubscriptionMatched
	SampleLost
	// DataAvailable signals that new data has been inserted into the topic
	// cache and is ready for a consumer to take; distinct from
	// SubscriptionMatched so a consumer can't mistake every sample arrival
	// for a new writer match.
	DataAvailable
)

func (k DataReaderStatusKind) String() string {
	switch k {
	case RequestedDeadlineMissed:
		return "RequestedDeadlineMissed"
	case SampleRejected:
		return "SampleRejected"
	case RequestedIncompatibleQos:
		return "RequestedIncompatibleQos"
	case SubscriptionMatched:
		return "SubscriptionMatched"
	case SampleLost:
		return "SampleLost"
	case DataAvailable:
		return "DataAvailable"
	default:
		return "Unknown"
	}
}

// DataReaderStatus is a single status-change event raised by a reader.
type DataReaderStatus struct {
	Kind  DataReaderStatusKind
	Count CountWithChange
	// InstanceKey is set for per-instance events (deadline missed, sample
	// rejected); empty for reader-wide events.
	InstanceKey string
	Reason      string
}

// DomainParticipantStatusEvent wraps a DataReaderStatus with the originating
// reader's identity for participant-wide status fan-in.
type DomainParticipantStatusEvent struct {
	ReaderTopic string
	Status      DataReaderStatus
}

// Sender delivers status events without ever blocking the caller: if the
// channel is full, the event is dropped and logged, mirroring the original's
// treatment of a full mio_channel as a non-fatal, logged condition.
type Sender struct {
	out chan DomainParticipantStatusEvent
}

// NewSender creates a Sender with the given channel capacity.
func NewSender(capacity int) *Sender {
	return &Sender{out: make(chan DomainParticipantStatusEvent, capacity)}
}

// Chan exposes the receive side for a consumer (DataReader, status RPC
// server, ...) to drain.
func (s *Sender) Chan() <-chan DomainParticipantStatusEvent { return s.out }

// TrySend attempts a non-blocking delivery, logging and dropping on
// saturation.
func (s *Sender) TrySend(ev DomainParticipantStatusEvent) {
	select {
	case s.out <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"topic": ev.ReaderTopic,
			"kind":  ev.Status.Kind,
		}).Warn("status event channel full, dropping event")
	}
}
