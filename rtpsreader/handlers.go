package rtpsreader

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/rtpstime"
	"github.com/atostek/godds/seqnum"
	"github.com/atostek/godds/statusevents"
	"github.com/atostek/godds/topiccache"
	"github.com/atostek/godds/wire"
	"github.com/atostek/godds/writerproxy"
)

// now returns the reader's current time as an RTPS wire Timestamp, the form
// the topic cache and CacheChange timestamps are kept in.
func (r *Reader) now() rtpstime.Timestamp { return rtpstime.FromTime(r.clock.Now()) }

// HandleDataMsg processes a single DATA submessage from writerPrefix,
// deriving a CacheChange (or dropping the message per spec.md §7's rules)
// and inserting it into the shared topic cache.
func (r *Reader) HandleDataMsg(writerPrefix guid.GuidPrefix, d wire.Data) {
	var writer = guid.GUID{Prefix: writerPrefix, EntityId: d.WriterId}

	if !r.processReceivedData(writer, d.WriterSN) {
		return
	}
	// A DATA submessage carries a whole sample, so it is received in full
	// the moment it passes the duplicate check, unlike a DATAFRAG.
	r.markReceived(writer, d.WriterSN)

	var data, ok = dataToDDSData(d)
	if !ok {
		log.WithFields(log.Fields{"writer": writer, "sn": d.WriterSN}).
			Warn("data submessage has no usable payload/flag combination, dropping")
		return
	}
	var change = makeCacheChange(writer, d.WriterSN, data, r.now())
	r.insertAndNotify(writer, change)
}

// HandleDataFragMsg processes a single DATAFRAG submessage, feeding it to
// the fragment assembler and, once the sample is complete, behaving exactly
// like HandleDataMsg for the reassembled payload. No Lifespan QoS check is
// made on DATAFRAG submessages, before or after assembly.
func (r *Reader) HandleDataFragMsg(writerPrefix guid.GuidPrefix, df wire.DataFrag) {
	var writer = guid.GUID{Prefix: writerPrefix, EntityId: df.WriterId}

	if !r.processReceivedData(writer, df.WriterSN) {
		return
	}
	// Lifespan is not checked: the sample's source timestamp sits in the
	// inline QoS parameter list, which this package does not decode, and
	// insertAndNotify's TopicCache.RemoveChangesBefore call only trims to
	// the MaxSamples resource limit.

	assembled, complete := r.assembler.Ingest(
		writer, df.WriterSN, df.FragmentStartingNum, df.FragmentsInSubmessage,
		df.FragmentSize, df.SampleSize, df.SerializedPayload, r.clock.Now(),
	)
	if !complete {
		return
	}
	// Only now, once every fragment has arrived, does the sample count as
	// received from the writer proxy's point of view — marking it received
	// on the first fragment would make later fragments of the same sample
	// look like duplicates of an already-accounted-for sequence number.
	r.markReceived(writer, df.WriterSN)
	var data = topiccache.DDSData{Kind: topiccache.DDSDataAlive, SerializedData: assembled}
	var change = makeCacheChange(writer, df.WriterSN, data, r.now())
	r.insertAndNotify(writer, change)
}

// processReceivedData applies the writer-proxy duplicate/unmatched-writer
// check shared by HandleDataMsg and HandleDataFragMsg, returning true if the
// message should still be processed. It does not itself mark sn received —
// see markReceived — since a DATAFRAG's sn is only fully received once every
// fragment has arrived, while a DATA's is received immediately.
//
// It preserves, verbatim in intent, the original's SPDP-participant-reader
// duplicate-acceptance carve-out: some RTPS implementations (eProsima
// FastRTPS at the time the original was written) do not increment the
// sequence number on their SPDP builtin participant writer, which would
// otherwise make every SPDP announcement after the first look like a
// duplicate and get silently dropped. Without this carve-out, discovery of
// such peers would stall after the first announcement.
func (r *Reader) processReceivedData(writer guid.GUID, sn seqnum.SequenceNumber) bool {
	if r.likeStateless {
		return true // stateless readers track no writer proxy state at all.
	}
	var wp, ok = r.matchedWriters[writer]
	if !ok {
		log.WithFields(log.Fields{"writer": writer}).Debug("data from unmatched writer, dropping")
		return false
	}
	if wp.ShouldIgnoreChange(sn) && r.guid.EntityId != guid.SPDPBuiltinParticipantReader {
		log.WithFields(log.Fields{"writer": writer, "sn": sn}).Debug("duplicate change, dropping")
		return false
	}
	return true
}

// markReceived records sn as received by writer's proxy, advancing its
// watermark and resetting its deadline clock. A no-op for stateless readers,
// which track no proxy state.
func (r *Reader) markReceived(writer guid.GUID, sn seqnum.SequenceNumber) {
	if r.likeStateless {
		return
	}
	var wp, ok = r.matchedWriters[writer]
	if !ok {
		return
	}
	wp.ReceivedChangesAdd(sn)
	wp.Touch(r.clock.Now())
}

// insertAndNotify inserts change into the shared topic cache and advances the
// cache's per-writer watermark to the writer proxy's own all_ackable_before,
// per spec.md §4.4.2 step 6 — not change.SN+1, which would let the watermark
// run ahead of invariant 2 (w(W) <= all_ackable_before(W)) on out-of-order
// arrival. A stateless reader tracks no proxy, so it falls back to
// change.SN+1. After inserting, the cache is trimmed to its MaxSamples
// resource limit only: RemoveChangesBefore is given the zero Timestamp so
// that no sample is removed merely for being older than some instant.
func (r *Reader) insertAndNotify(writer guid.GUID, change topiccache.CacheChange) {
	var watermark = change.SN + 1
	if wp, ok := r.matchedWriters[writer]; ok {
		watermark = wp.AllAckableBefore()
	}
	r.acquireTopicCacheGuard(func(tc *topiccache.TopicCache) {
		tc.AddChange(r.now(), change)
		tc.MarkReliablyReceivedBefore(writer, watermark)
		tc.RemoveChangesBefore(rtpstime.Timestamp{})
	})
	r.notifyCacheChange()
}

// notifyCacheChange signals a consumer that new data is available. Grounded
// on notify_cache_change's multi-path, never-block delivery; this Go port
// keeps a single bounded channel (statusevents.Sender) rather than the
// original's three parallel paths (waker / poll event sender / mio
// channel), since Go's idiomatic equivalent of "wake whoever is polling" is
// exactly one buffered channel with a non-blocking send.
func (r *Reader) notifyCacheChange() {
	r.notifyCount++
	if r.statusSender == nil {
		return
	}
	r.statusSender.TrySend(domainEvent(r.topicName, statusevents.DataReaderStatus{
		Kind:  statusevents.DataAvailable,
		Count: statusevents.CountWithChange{Total: int32(r.notifyCount), Change: 1},
	}))
}

// advanceTopicCacheWatermark brings the topic cache's per-writer watermark up
// to wp's own all_ackable_before, waking a consumer if it actually moved.
// Used by HEARTBEAT (spec.md §4.4.4 step 4) and GAP (§4.4.5 step 2) handling,
// both of which can advance a writer's watermark without any new DATA ever
// arriving for the gapped range.
func (r *Reader) advanceTopicCacheWatermark(writer guid.GUID, wp *writerproxy.WriterProxy) {
	var after = wp.AllAckableBefore()
	var advanced bool
	r.acquireTopicCacheGuard(func(tc *topiccache.TopicCache) {
		var before = tc.ReliablyReceivedBefore(writer)
		if after > before {
			tc.MarkReliablyReceivedBefore(writer, after)
			advanced = true
		}
	})
	if advanced {
		r.notifyCacheChange()
	}
}

// dataToDDSData derives the tagged-variant DDSData payload implied by a
// DATA submessage's flag/payload-presence combination, a direct port of
// data_to_dds_data's match arms.
func dataToDDSData(d wire.Data) (topiccache.DDSData, bool) {
	switch {
	case d.Flags.DataPresent && d.SerializedData != nil:
		return topiccache.DDSData{Kind: topiccache.DDSDataAlive, SerializedData: d.SerializedData.Data}, true
	case !d.Flags.DataPresent && d.SerializedKey != nil:
		return topiccache.DDSData{Kind: topiccache.DDSDataDisposeByKey, Key: d.SerializedKey.Data}, true
	case !d.Flags.DataPresent && d.Flags.KeyHash:
		return topiccache.DDSData{Kind: topiccache.DDSDataDisposeByKeyHash}, true
	default:
		return topiccache.DDSData{}, false
	}
}

// deduceChangeKind infers a CacheChange's ChangeKind from its DDSData
// variant, a direct port of deduce_change_kind.
func deduceChangeKind(data topiccache.DDSData) topiccache.ChangeKind {
	switch data.Kind {
	case topiccache.DDSDataAlive:
		return topiccache.Alive
	case topiccache.DDSDataDisposeByKey, topiccache.DDSDataDisposeByKeyHash:
		return topiccache.NotAliveDisposed
	default:
		return topiccache.Alive
	}
}

// makeCacheChange builds a CacheChange from its constituent parts, a direct
// port of make_cache_change. Options.SourceTimestamp is set to now, the
// reader's reception time; a writer-supplied source timestamp is not
// decoded and is not carried.
func makeCacheChange(writer guid.GUID, sn seqnum.SequenceNumber, data topiccache.DDSData, now rtpstime.Timestamp) topiccache.CacheChange {
	return topiccache.CacheChange{
		WriterGuid: writer,
		SN:         sn,
		Kind:       deduceChangeKind(data),
		Options:    topiccache.WriteOptions{SourceTimestamp: now},
		Data:       data,
	}
}

// HandleHeartbeatMsg processes a HEARTBEAT submessage, updating the writer
// proxy's known range and, if any samples are missing or the writer
// requested an immediate reply (FinalFlag unset), emitting an ACKNACK (and,
// for any sample that is only partially fragmented-received, a NACKFRAG).
// It returns true if an ACKNACK (and/or NACKFRAG) was actually sent.
//
// A direct port of handle_heartbeat_msg, including its leniency: a
// first_sn < 1 (nonsensical per the wire format) is logged as a warning but
// still processed, rather than the message being rejected outright.
func (r *Reader) HandleHeartbeatMsg(writerPrefix guid.GuidPrefix, hb wire.Heartbeat) bool {
	if r.likeStateless {
		return false // a stateless reader never sends ACKNACK/NACKFRAG.
	}
	var writer = guid.GUID{Prefix: writerPrefix, EntityId: hb.WriterId}
	var wp, ok = r.matchedWriters[writer]
	if !ok {
		log.WithFields(log.Fields{"writer": writer}).Debug("heartbeat from unmatched writer, dropping")
		return false
	}
	if hb.FirstSN < 1 {
		log.WithFields(log.Fields{"writer": writer, "first_sn": hb.FirstSN}).Warn("heartbeat with non-positive first_sn")
	}
	if hb.FirstSN > wp.AllAckableBefore() {
		wp.IrrelevantChangesUpTo(hb.FirstSN)
	}
	// Step 4: advance the topic cache's watermark to the proxy's own, even
	// when nothing below is left to ACKNACK -- a GAP-like jump in first_sn
	// can move it without any DATA ever arriving for the skipped range.
	r.advanceTopicCacheWatermark(writer, wp)

	var missing = wp.MissingSeqnums(hb.LastSN)
	if len(missing) == 0 && hb.FinalFlag {
		return false
	}

	// Step 6: omit SNs that are only partially received (fragmented samples
	// still missing a fragment) from the ACKNACK -- those are negatively
	// acknowledged via NACKFRAG below instead.
	var ackableMissing = make([]seqnum.SequenceNumber, 0, len(missing))
	for _, sn := range missing {
		if r.assembler.IsPartiallyReceived(writer, sn) {
			continue
		}
		ackableMissing = append(ackableMissing, sn)
	}
	var acked = seqnum.NewSequenceNumberSetFromMissing(wp.AllAckableBefore(), ackableMissing)
	var ackNack = wire.AckNack{
		ReaderId:      r.guid.EntityId,
		WriterId:      wp.RemoteWriterGuid.EntityId,
		ReaderSNState: acked,
		Count:         wp.NextAckNackSequenceNumber(),
		FinalFlag:     true,
	}
	r.sendAckNackTo(wp, ackNack)

	// A fragmented sample's SN is only marked received once its last
	// fragment arrives (see markReceived), so a partially received SN was
	// left out of the ACKNACK above; NACKFRAG names its missing fragments
	// instead, scanning the heartbeat's whole advertised range for partial
	// assemblies.
	for sn := hb.FirstSN; sn <= hb.LastSN; sn++ {
		if !r.assembler.IsPartiallyReceived(writer, sn) {
			continue
		}
		var missingFrags = r.assembler.MissingFragsFor(writer, sn)
		if len(missingFrags) == 0 {
			continue
		}
		var nackFrag = wire.NackFrag{
			ReaderId:            r.guid.EntityId,
			WriterId:            wp.RemoteWriterGuid.EntityId,
			WriterSN:            sn,
			FragmentNumberState: seqnum.NewFragmentNumberSetFromMissing(missingFrags[0], missingFrags),
			Count:               wp.NextAckNackSequenceNumber(),
		}
		r.sendNackFragTo(wp, nackFrag)
	}
	return true
}

// HandleGapMsg processes a GAP submessage: the writer will never send the
// named sequence numbers, so they are marked irrelevant rather than missing.
// A direct port of handle_gap_msg, including its sanity checks on
// gap_start/gap_list.base.
func (r *Reader) HandleGapMsg(writerPrefix guid.GuidPrefix, g wire.Gap) {
	if g.GapStart < 1 {
		log.WithFields(log.Fields{"gap_start": g.GapStart}).Warn("gap submessage with gap_start < 1, ignoring")
		return
	}
	if g.GapList.Base < 1 {
		log.WithFields(log.Fields{"gap_list_base": g.GapList.Base}).Warn("gap submessage with gap_list.base < 1, ignoring")
		return
	}
	var writer = guid.GUID{Prefix: writerPrefix, EntityId: g.WriterId}
	r.withMutableWriterProxy(writer, func(wp *writerproxy.WriterProxy) {
		wp.IrrelevantChangesRange(g.GapStart, g.GapList.Base)
		for _, sn := range g.GapList.Missing() {
			wp.SetIrrelevantChange(sn)
		}
		// TODO: a GAP that advances the watermark represents samples the
		// reader will never see; DDS's SAMPLE_LOST status (§2.2.4.1) should
		// eventually be raised here. Not yet implemented — see
		// SPEC_FULL.md §12 (this mirrors a TODO left in the original).
	})
	// Step 2: advance the topic cache's watermark to match, waking a
	// consumer if it moved -- a GAP can skip samples the reader will never
	// see without any DATA ever arriving for them.
	if wp, ok := r.matchedWriters[writer]; ok {
		r.advanceTopicCacheWatermark(writer, wp)
	}
}

// HandleHeartbeatFragMsg accepts and logs a HEARTBEATFRAG submessage without
// acting on it, per spec.md §4.4.6 and handle_heartbeatfrag_msg.
func (r *Reader) HandleHeartbeatFragMsg(writerPrefix guid.GuidPrefix, hf wire.HeartbeatFrag) {
	log.WithFields(log.Fields{
		"writer":            guid.GUID{Prefix: writerPrefix, EntityId: hf.WriterId},
		"writer_sn":         hf.WriterSN,
		"last_fragment_num": hf.LastFragmentNum,
	}).Debug("heartbeatfrag received, accepted but not acted upon")
}

// sendAckNackTo encodes and sends an ACKNACK to wp's locators, preceded by
// an INFO_DESTINATION naming the remote writer's participant, matching
// send_acknack_to.
func (r *Reader) sendAckNackTo(wp *writerproxy.WriterProxy, ackNack wire.AckNack) {
	r.encodeAndSend(wp, wire.EncodeAckNack(ackNack))
}

// sendNackFragTo is the NACKFRAG analogue of sendAckNackTo, matching
// send_nackfrags_to.
func (r *Reader) sendNackFragTo(wp *writerproxy.WriterProxy, nackFrag wire.NackFrag) {
	r.encodeAndSend(wp, wire.EncodeNackFrag(nackFrag))
}

func (r *Reader) encodeAndSend(wp *writerproxy.WriterProxy, body []byte) {
	if r.sender == nil {
		return
	}
	var infoDest = wire.EncodeInfoDestination(wire.InfoDestination{GuidPrefix: wp.RemoteWriterGuid.Prefix})
	var payload = append(append([]byte(nil), infoDest...), body...)
	var locs = wp.UnicastLocatorList
	if len(locs) == 0 {
		locs = wp.MulticastLocatorList
	}
	if err := r.sender.SendTo(wp.RemoteWriterGuid.Prefix, locs, payload); err != nil {
		// Per spec.md §7: transport send failures are logged, not fatal;
		// recovery happens naturally on the writer's next heartbeat.
		log.WithError(err).WithField("writer", wp.RemoteWriterGuid).Warn("failed to send reply, will retry on next heartbeat")
	}
}

// HandleTimedEvent runs the reader's periodic maintenance: fragment-buffer
// garbage collection and deadline-missed checks. now is supplied by the
// caller's external timer source, which must re-arm itself after each firing
// rather than use a recurring interval, per spec.md §9.
func (r *Reader) HandleTimedEvent(now rtpstime.Timestamp) {
	r.assembler.GarbageCollectBefore(now.ToTime())
	r.checkDeadlines(now.ToTime())
}

// checkDeadlines implements spec.md §4.4.6: if the reader's QoS carries a
// deadline, every matched writer proxy whose last_change_timestamp is absent
// or older than the deadline period is counted as a miss and reported.
func (r *Reader) checkDeadlines(now time.Time) {
	if r.qos.Deadline.Period <= 0 {
		return
	}
	for _, wp := range r.matchedWriters {
		if !wp.DeadlineMissed(now, r.qos.Deadline.Period) {
			continue
		}
		r.requestedDeadlineMissedCount++
		r.sendStatus(statusevents.DataReaderStatus{
			Kind:        statusevents.RequestedDeadlineMissed,
			Count:       statusevents.CountWithChange{Total: r.requestedDeadlineMissedCount, Change: 1},
			InstanceKey: wp.RemoteWriterGuid.String(),
		})
	}
}

// SendPreemptiveAcknacks sends an initial ACKNACK to every currently matched
// writer, requesting its full known range be (re)sent; used right after a
// reader starts up or a writer is (re)matched. It detaches the writer-proxy
// table for the duration (mem::take in the original) so sendAckNackTo can
// be called without holding a nested mutable borrow, then restores it.
func (r *Reader) SendPreemptiveAcknacks() {
	var writers = r.matchedWriters
	r.matchedWriters = make(map[guid.GUID]*writerproxy.WriterProxy, len(writers))
	for guidKey, wp := range writers {
		var ackNack = wire.AckNack{
			ReaderId:      r.guid.EntityId,
			WriterId:      wp.RemoteWriterGuid.EntityId,
			ReaderSNState: seqnum.NewSequenceNumberSetFromMissing(wp.AllAckableBefore(), nil),
			Count:         wp.NextAckNackSequenceNumber(),
			FinalFlag:     false,
		}
		r.sendAckNackTo(wp, ackNack)
		r.matchedWriters[guidKey] = wp
	}
}
