package wire

import (
	"encoding/binary"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/seqnum"
	"github.com/pkg/errors"
)

// This file implements just enough of RTPS's little-endian submessage
// encoding to round-trip the submessage types this reader sends and
// receives. It is deliberately narrow: CDR payload bytes inside DATA/
// DATAFRAG are passed through uninterpreted (see package doc), and only the
// submessage header fields this reader's state machine consults are decoded.

// SubmessageKind identifies a submessage's wire id byte.
type SubmessageKind byte

const (
	KindAckNack         SubmessageKind = 0x06
	KindHeartbeat       SubmessageKind = 0x07
	KindGap             SubmessageKind = 0x08
	KindInfoDestination SubmessageKind = 0x0e
	KindData            SubmessageKind = 0x15
	KindDataFrag        SubmessageKind = 0x16
	KindNackFrag        SubmessageKind = 0x12
	KindHeartbeatFrag   SubmessageKind = 0x13
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v byte)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encoder) i32(v int32) { e.u32(uint32(v)) }
func (e *encoder) i64(v int64) {
	e.u32(uint32(v >> 32))
	e.u32(uint32(v))
}
func (e *encoder) entityId(id guid.EntityId) {
	e.buf = append(e.buf, id.EntityKey[:]...)
	e.u8(byte(id.EntityKind))
}
func (e *encoder) seqNum(sn seqnum.SequenceNumber) { e.i64(int64(sn)) }

func (e *encoder) sequenceNumberSet(s seqnum.SequenceNumberSet) {
	e.seqNum(s.Base)
	e.u32(uint32(len(s.Bitmap)))
	var numWords = (len(s.Bitmap) + 31) / 32
	var words = make([]uint32, numWords)
	for i, set := range s.Bitmap {
		if set {
			words[i/32] |= 1 << uint(31-i%32)
		}
	}
	for _, w := range words {
		e.u32(w)
	}
}

func (e *encoder) fragmentNumberSet(s seqnum.FragmentNumberSet) {
	e.u32(uint32(s.Base))
	e.u32(uint32(len(s.Bitmap)))
	var numWords = (len(s.Bitmap) + 31) / 32
	var words = make([]uint32, numWords)
	for i, set := range s.Bitmap {
		if set {
			words[i/32] |= 1 << uint(31-i%32)
		}
	}
	for _, w := range words {
		e.u32(w)
	}
}

// EncodeAckNack serializes an AckNack submessage body, without the 4-byte
// submessage header.
func EncodeAckNack(a AckNack) []byte {
	var e encoder
	e.entityId(a.ReaderId)
	e.entityId(a.WriterId)
	e.sequenceNumberSet(a.ReaderSNState)
	e.i32(a.Count)
	return e.buf
}

// EncodeNackFrag serializes a NackFrag submessage body.
func EncodeNackFrag(n NackFrag) []byte {
	var e encoder
	e.entityId(n.ReaderId)
	e.entityId(n.WriterId)
	e.seqNum(n.WriterSN)
	e.fragmentNumberSet(n.FragmentNumberState)
	e.i32(n.Count)
	return e.buf
}

// EncodeInfoDestination serializes an InfoDestination submessage body.
func EncodeInfoDestination(d InfoDestination) []byte {
	var e encoder
	e.buf = append(e.buf, d.GuidPrefix[:]...)
	return e.buf
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) need(n int) error {
	if d.off+n > len(d.buf) {
		return errors.Errorf("wire: short buffer, need %d have %d", n, len(d.buf)-d.off)
	}
	return nil
}

func (d *decoder) u8() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	var v = d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	var v = binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	var v = binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	hi, err := d.u32()
	if err != nil {
		return 0, err
	}
	lo, err := d.u32()
	if err != nil {
		return 0, err
	}
	return int64(hi)<<32 | int64(lo), nil
}

func (d *decoder) entityId() (guid.EntityId, error) {
	if err := d.need(4); err != nil {
		return guid.EntityId{}, err
	}
	var id guid.EntityId
	copy(id.EntityKey[:], d.buf[d.off:d.off+3])
	id.EntityKind = guid.EntityKind(d.buf[d.off+3])
	d.off += 4
	return id, nil
}

func (d *decoder) seqNum() (seqnum.SequenceNumber, error) {
	v, err := d.i64()
	return seqnum.SequenceNumber(v), err
}

func (d *decoder) sequenceNumberSet() (seqnum.SequenceNumberSet, error) {
	base, err := d.seqNum()
	if err != nil {
		return seqnum.SequenceNumberSet{}, err
	}
	numBits, err := d.u32()
	if err != nil {
		return seqnum.SequenceNumberSet{}, err
	}
	var numWords = (int(numBits) + 31) / 32
	var bitmap = make([]bool, numBits)
	for i := 0; i < numWords; i++ {
		w, err := d.u32()
		if err != nil {
			return seqnum.SequenceNumberSet{}, err
		}
		for bit := 0; bit < 32; bit++ {
			var idx = i*32 + bit
			if idx >= int(numBits) {
				break
			}
			bitmap[idx] = w&(1<<uint(31-bit)) != 0
		}
	}
	return seqnum.SequenceNumberSet{Base: base, Bitmap: bitmap}, nil
}

// DecodeHeartbeat parses a HEARTBEAT submessage body.
func DecodeHeartbeat(b []byte, final, liveliness bool) (Heartbeat, error) {
	var d = decoder{buf: b}
	var hb Heartbeat
	var err error
	if hb.ReaderId, err = d.entityId(); err != nil {
		return hb, errors.WithMessage(err, "heartbeat reader id")
	}
	if hb.WriterId, err = d.entityId(); err != nil {
		return hb, errors.WithMessage(err, "heartbeat writer id")
	}
	if hb.FirstSN, err = d.seqNum(); err != nil {
		return hb, errors.WithMessage(err, "heartbeat first sn")
	}
	if hb.LastSN, err = d.seqNum(); err != nil {
		return hb, errors.WithMessage(err, "heartbeat last sn")
	}
	count, err := d.u32()
	if err != nil {
		return hb, errors.WithMessage(err, "heartbeat count")
	}
	hb.Count = int32(count)
	hb.FinalFlag = final
	hb.LivelinessFlag = liveliness
	return hb, nil
}

// DecodeGap parses a GAP submessage body.
func DecodeGap(b []byte) (Gap, error) {
	var d = decoder{buf: b}
	var g Gap
	var err error
	if g.ReaderId, err = d.entityId(); err != nil {
		return g, errors.WithMessage(err, "gap reader id")
	}
	if g.WriterId, err = d.entityId(); err != nil {
		return g, errors.WithMessage(err, "gap writer id")
	}
	if g.GapStart, err = d.seqNum(); err != nil {
		return g, errors.WithMessage(err, "gap start")
	}
	if g.GapList, err = d.sequenceNumberSet(); err != nil {
		return g, errors.WithMessage(err, "gap list")
	}
	return g, nil
}

// DecodeHeartbeatFrag parses a HEARTBEATFRAG submessage body.
func DecodeHeartbeatFrag(b []byte) (HeartbeatFrag, error) {
	var d = decoder{buf: b}
	var hf HeartbeatFrag
	var err error
	if hf.ReaderId, err = d.entityId(); err != nil {
		return hf, errors.WithMessage(err, "heartbeatfrag reader id")
	}
	if hf.WriterId, err = d.entityId(); err != nil {
		return hf, errors.WithMessage(err, "heartbeatfrag writer id")
	}
	if hf.WriterSN, err = d.seqNum(); err != nil {
		return hf, errors.WithMessage(err, "heartbeatfrag writer sn")
	}
	lastFrag, err := d.u32()
	if err != nil {
		return hf, errors.WithMessage(err, "heartbeatfrag last fragment num")
	}
	hf.LastFragmentNum = seqnum.FragmentNumber(lastFrag)
	count, err := d.u32()
	if err != nil {
		return hf, errors.WithMessage(err, "heartbeatfrag count")
	}
	hf.Count = int32(count)
	return hf, nil
}
