package rtpsreader

import (
	"testing"
	"time"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/locator"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/rtpstime"
	"github.com/atostek/godds/seqnum"
	"github.com/atostek/godds/statusevents"
	"github.com/atostek/godds/topiccache"
	"github.com/atostek/godds/wire"
	"github.com/atostek/godds/writerproxy"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type recordingSender struct {
	sent [][]byte
}

func (s *recordingSender) SendTo(_ guid.GuidPrefix, _ []locator.Locator, payload []byte) error {
	s.sent = append(s.sent, payload)
	return nil
}

func testReaderGUID() guid.GUID {
	return guid.GUID{
		Prefix:   guid.GuidPrefix{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
		EntityId: guid.EntityId{EntityKind: guid.EntityKindUserReaderWithKey},
	}
}

func testWriterGUID() guid.GUID {
	return guid.GUID{
		Prefix:   guid.GuidPrefix{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		EntityId: guid.EntityId{EntityKind: guid.EntityKindUserWriterWithKey},
	}
}

// reliableQos is the QoS a test writer proxy offers so that it is compatible
// with a Reliable test reader.
func reliableQos() qos.Policies {
	var q = qos.Default()
	q.Reliability = qos.Reliable
	return q
}

func newTestReader(t *testing.T, likeStateless bool, reliability qos.ReliabilityKind) (*Reader, *recordingSender, *statusevents.Sender) {
	t.Helper()
	var q = qos.Default()
	q.Reliability = reliability
	var tc = topiccache.New("Square", q)
	var sender = &recordingSender{}
	var statusSender = statusevents.NewSender(8)
	var r = New(Ingredients{
		Guid:          testReaderGUID(),
		TopicName:     "Square",
		TopicCache:    tc,
		Qos:           q,
		LikeStateless: likeStateless,
		StatusSender:  statusSender,
		Sender:        sender,
		Clock:         &fakeClock{now: time.Unix(1000, 0)},
	})
	return r, sender, statusSender
}

// Scenario A: a DATA submessage from a matched writer produces a cache
// change and a notification.
func TestScenarioA_NotificationOnData(t *testing.T) {
	var r, _, statusSender = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	var wp = writerproxy.New(w, nil, nil, reliableQos())
	if err := r.UpdateWriterProxy(wp); err != nil {
		t.Fatalf("UpdateWriterProxy: %v", err)
	}
	// Drain the SubscriptionMatched event before proceeding.
	<-statusSender.Chan()

	var data = wire.Data{
		WriterId: w.EntityId,
		WriterSN: 1,
		Flags:    wire.DataFlags{DataPresent: true},
		SerializedData: &wire.SerializedPayload{Data: []byte("hello")},
	}
	r.HandleDataMsg(w.Prefix, data)

	select {
	case ev := <-statusSender.Chan():
		if ev.Status.Kind != statusevents.DataAvailable {
			t.Fatalf("expected a notification event, got %v", ev.Status.Kind)
		}
	default:
		t.Fatal("expected a notification to be sent after a DATA message")
	}
}

// Scenario B: a duplicate HEARTBEAT (same range, FinalFlag set, nothing
// missing) produces no ACKNACK.
func TestScenarioB_DuplicateHeartbeatNoReply(t *testing.T) {
	var r, sender, _ = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	var wp = writerproxy.New(w, nil, nil, reliableQos())
	r.UpdateWriterProxy(wp)
	wp.ReceivedChangesAdd(1)

	var hb = wire.Heartbeat{WriterId: w.EntityId, FirstSN: 1, LastSN: 1, FinalFlag: true}
	if sent := r.HandleHeartbeatMsg(w.Prefix, hb); sent {
		t.Fatal("expected no ACKNACK for a heartbeat with nothing missing and FinalFlag set")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no bytes sent, got %d sends", len(sender.sent))
	}
}

// Scenario C: a GAP advances the writer proxy's watermark without any DATA
// ever arriving for the gapped range.
func TestScenarioC_GapAccounting(t *testing.T) {
	var r, _, _ = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	var wp = writerproxy.New(w, nil, nil, reliableQos())
	r.UpdateWriterProxy(wp)

	var gap = wire.Gap{
		WriterId: w.EntityId,
		GapStart: 1,
		GapList:  seqnum.NewSequenceNumberSetFromMissing(3, nil),
	}
	r.HandleGapMsg(w.Prefix, gap)

	if wp.AllAckableBefore() != 3 {
		t.Fatalf("expected watermark advanced to 3 by gap, got %d", wp.AllAckableBefore())
	}
}

// Scenario D: a stateless-like reader accepts data without ever tracking a
// writer proxy, and rejects non-BestEffort construction.
func TestScenarioD_StatelessReaderRejectsReliableConstruction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic constructing a stateless reliable reader")
		}
	}()
	var tc = topiccache.New("Square", qos.Default())
	New(Ingredients{
		Guid:          testReaderGUID(),
		TopicName:     "Square",
		TopicCache:    tc,
		Qos:           qos.Policies{Reliability: qos.Reliable, Resources: qos.DefaultResourceLimits, History: qos.History{Kind: qos.KeepLast, Depth: 1}},
		LikeStateless: true,
	})
}

func TestScenarioD_StatelessReaderAcceptsDataWithoutProxy(t *testing.T) {
	var r, _, _ = newTestReader(t, true, qos.BestEffort)
	var w = testWriterGUID()
	var data = wire.Data{
		WriterId:       w.EntityId,
		WriterSN:       1,
		Flags:          wire.DataFlags{DataPresent: true},
		SerializedData: &wire.SerializedPayload{Data: []byte("x")},
	}
	// No UpdateWriterProxy call at all: a stateless reader must still accept.
	r.HandleDataMsg(w.Prefix, data)

	var tc = r.topicCache
	tc.Lock()
	defer tc.Unlock()
	if tc.Len() != 1 {
		t.Fatalf("expected 1 cached change for a stateless reader, got %d", tc.Len())
	}
}

// Scenario E: fragment reassembly completes and a HEARTBEAT covering a
// partially-received sample triggers a NACKFRAG.
func TestScenarioE_FragmentReassemblyAndNackFrag(t *testing.T) {
	var r, sender, _ = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	var wp = writerproxy.New(w, nil, nil, reliableQos())
	r.UpdateWriterProxy(wp)

	var payload = []byte("0123456789")
	var df1 = wire.DataFrag{
		WriterId:              w.EntityId,
		WriterSN:              1,
		FragmentStartingNum:   1,
		FragmentsInSubmessage: 1,
		FragmentSize:          4,
		SampleSize:            10,
		SerializedPayload:     payload[0:4],
	}
	r.HandleDataFragMsg(w.Prefix, df1)
	// Fragments 2 and 3 of 3 are still missing; a heartbeat naming sn 1 as available
	// should produce a NACKFRAG alongside the ACKNACK.
	var before = len(sender.sent)
	var hb = wire.Heartbeat{WriterId: w.EntityId, FirstSN: 1, LastSN: 1, FinalFlag: false}
	r.HandleHeartbeatMsg(w.Prefix, hb)
	if len(sender.sent) <= before {
		t.Fatal("expected at least an ACKNACK to be sent for a missing sample")
	}

	// Complete the reassembly.
	var df2 = wire.DataFrag{
		WriterId: w.EntityId, WriterSN: 1, FragmentStartingNum: 2,
		FragmentsInSubmessage: 1, FragmentSize: 4, SampleSize: 10,
		SerializedPayload: payload[4:8],
	}
	var df3 = wire.DataFrag{
		WriterId: w.EntityId, WriterSN: 1, FragmentStartingNum: 3,
		FragmentsInSubmessage: 1, FragmentSize: 4, SampleSize: 10,
		SerializedPayload: payload[8:10],
	}
	r.HandleDataFragMsg(w.Prefix, df2)
	r.HandleDataFragMsg(w.Prefix, df3)

	var tc = r.topicCache
	tc.Lock()
	defer tc.Unlock()
	if tc.Len() != 1 {
		t.Fatalf("expected the reassembled sample to be cached, got %d entries", tc.Len())
	}
}

// TestIncompatibleQosSurfacesStatus exercises a writer offering incompatible
// QoS at match time: a status event and an error, not a panic.
func TestIncompatibleQosSurfacesStatus(t *testing.T) {
	var r, _, statusSender = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	var offered = qos.Default()
	offered.Reliability = qos.BestEffort // incompatible with the reader's Reliable request.
	var wp = writerproxy.New(w, nil, nil, offered)

	if err := r.UpdateWriterProxy(wp); err == nil {
		t.Fatal("expected an error for incompatible QoS")
	}
	select {
	case ev := <-statusSender.Chan():
		if ev.Status.Kind != statusevents.RequestedIncompatibleQos {
			t.Fatalf("expected RequestedIncompatibleQos, got %v", ev.Status.Kind)
		}
	default:
		t.Fatal("expected a status event for incompatible QoS")
	}
}

// Scenario F: a matched writer that sends no data for longer than the reader's
// Deadline QoS period is reported via RequestedDeadlineMissed, once per timer
// tick the deadline remains unmet.
func TestScenarioF_DeadlineMissed(t *testing.T) {
	var q = qos.Default()
	q.Reliability = qos.Reliable
	q.Deadline.Period = 200 * time.Millisecond
	var tc = topiccache.New("Square", q)
	var statusSender = statusevents.NewSender(8)
	var clock = &fakeClock{now: time.Unix(1000, 0)}
	var r = New(Ingredients{
		Guid:         testReaderGUID(),
		TopicName:    "Square",
		TopicCache:   tc,
		Qos:          q,
		StatusSender: statusSender,
		Clock:        clock,
	})
	var w = testWriterGUID()
	var wp = writerproxy.New(w, nil, nil, q)
	if err := r.UpdateWriterProxy(wp); err != nil {
		t.Fatalf("UpdateWriterProxy: %v", err)
	}
	// Drain the SubscriptionMatched event before proceeding.
	<-statusSender.Chan()

	clock.now = clock.now.Add(500 * time.Millisecond)
	r.HandleTimedEvent(rtpstime.FromTime(clock.now))
	select {
	case ev := <-statusSender.Chan():
		if ev.Status.Kind != statusevents.RequestedDeadlineMissed {
			t.Fatalf("expected RequestedDeadlineMissed, got %v", ev.Status.Kind)
		}
		if ev.Status.Count.Total != 1 {
			t.Fatalf("expected count 1, got %d", ev.Status.Count.Total)
		}
	default:
		t.Fatal("expected a RequestedDeadlineMissed event after the deadline elapsed")
	}

	clock.now = clock.now.Add(500 * time.Millisecond)
	r.HandleTimedEvent(rtpstime.FromTime(clock.now))
	select {
	case ev := <-statusSender.Chan():
		if ev.Status.Kind != statusevents.RequestedDeadlineMissed {
			t.Fatalf("expected RequestedDeadlineMissed, got %v", ev.Status.Kind)
		}
		if ev.Status.Count.Total != 2 {
			t.Fatalf("expected count 2, got %d", ev.Status.Count.Total)
		}
	default:
		t.Fatal("expected a second RequestedDeadlineMissed event")
	}
}

func TestHeartbeatFragIsNoOp(t *testing.T) {
	var r, sender, _ = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	r.HandleHeartbeatFragMsg(w.Prefix, wire.HeartbeatFrag{WriterId: w.EntityId, WriterSN: 1})
	if len(sender.sent) != 0 {
		t.Fatal("expected heartbeatfrag handling to send nothing")
	}
}

func TestSendPreemptiveAcknacksSendsOnePerMatchedWriter(t *testing.T) {
	var r, sender, _ = newTestReader(t, false, qos.Reliable)
	var w1 = testWriterGUID()
	var w2 = testWriterGUID()
	w2.EntityId.EntityKey[0] = 0xff
	r.UpdateWriterProxy(writerproxy.New(w1, nil, nil, reliableQos()))
	r.UpdateWriterProxy(writerproxy.New(w2, nil, nil, reliableQos()))

	r.SendPreemptiveAcknacks()
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 preemptive acknacks, got %d", len(sender.sent))
	}
	if len(r.matchedWriters) != 2 {
		t.Fatalf("expected writer proxies restored after preemptive acknacks, got %d", len(r.matchedWriters))
	}
}

func TestHandleTimedEventRunsFragmentGC(t *testing.T) {
	var r, _, _ = newTestReader(t, false, qos.Reliable)
	var w = testWriterGUID()
	r.UpdateWriterProxy(writerproxy.New(w, nil, nil, reliableQos()))
	r.HandleDataFragMsg(w.Prefix, wire.DataFrag{
		WriterId: w.EntityId, WriterSN: 1, FragmentStartingNum: 1,
		FragmentsInSubmessage: 1, FragmentSize: 4, SampleSize: 20,
		SerializedPayload: []byte{1, 2, 3, 4},
	})
	if r.assembler.Len() != 1 {
		t.Fatal("expected a partial assembly in flight")
	}
	r.HandleTimedEvent(rtpstime.FromTime(time.Unix(1000, 0).Add(reassemblyTimeoutPlus())))
	if r.assembler.Len() != 0 {
		t.Fatal("expected the stale assembly to be garbage collected")
	}
}

func reassemblyTimeoutPlus() time.Duration { return 11 * time.Second }
