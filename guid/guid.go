// Package guid implements RTPS global unique identifiers: GuidPrefix,
// EntityId, and their pairing into a GUID.
package guid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// GuidPrefix identifies a participant and is shared by every entity it owns.
type GuidPrefix [12]byte

// String renders the prefix as hex, matching RTPS log conventions.
func (p GuidPrefix) String() string {
	return hex.EncodeToString(p[:])
}

// EntityKind is the low byte of an EntityId, identifying the entity's role
// (user writer, builtin reader, and so on).
type EntityKind byte

// Builtin entity kinds relevant to discovery traffic. Only the ones the
// reader needs to recognize for the SPDP duplicate-acceptance carve-out are
// named; the full RTPS table is much larger and out of scope here.
const (
	EntityKindBuiltinUnknown            EntityKind = 0xc0
	EntityKindBuiltinParticipantReader  EntityKind = 0xc7
	EntityKindBuiltinParticipantWriter  EntityKind = 0xc2
	EntityKindUserReaderWithKey         EntityKind = 0x07
	EntityKindUserReaderNoKey           EntityKind = 0x04
	EntityKindUserWriterWithKey         EntityKind = 0x02
	EntityKindUserWriterNoKey           EntityKind = 0x03
)

// EntityId identifies an entity within a participant.
type EntityId struct {
	EntityKey  [3]byte
	EntityKind EntityKind
}

// SPDPBuiltinParticipantReader is the well-known entity id RTPS reserves for
// the SPDP builtin participant reader. The reader's duplicate-acceptance
// carve-out (see rtpsreader.Reader.processReceivedData) keys off this value,
// exactly as the original implementation does.
var SPDPBuiltinParticipantReader = EntityId{
	EntityKey:  [3]byte{0x00, 0x01, 0x00},
	EntityKind: EntityKindBuiltinParticipantReader,
}

// String renders the entity id as hex.
func (e EntityId) String() string {
	return fmt.Sprintf("%02x%02x%02x.%02x", e.EntityKey[0], e.EntityKey[1], e.EntityKey[2], byte(e.EntityKind))
}

// IsBuiltin reports whether this entity id names a builtin (discovery)
// entity rather than a user-created one.
func (e EntityId) IsBuiltin() bool {
	return e.EntityKind&0xc0 == 0xc0
}

// GUID globally identifies a single RTPS entity.
type GUID struct {
	Prefix   GuidPrefix
	EntityId EntityId
}

// Unknown is the all-zero GUID, used as a sentinel for "no such entity".
var Unknown GUID

// String renders the GUID as "<prefix>:<entity>".
func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", g.Prefix, g.EntityId)
}

// ParseString parses the "<prefix>:<entity>" form String produces, as used
// by discovery.WriterAdvert's JSON encoding of a writer's GUID.
func ParseString(s string) (GUID, error) {
	var colon = -1
	for i, c := range s {
		if c == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return GUID{}, fmt.Errorf("guid: %q is missing the prefix:entity separator", s)
	}
	var prefixHex, entityHex = s[:colon], s[colon+1:]
	var prefixBytes, err = hex.DecodeString(prefixHex)
	if err != nil || len(prefixBytes) != 12 {
		return GUID{}, fmt.Errorf("guid: invalid prefix %q", prefixHex)
	}
	var dot = -1
	for i, c := range entityHex {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot != 6 {
		return GUID{}, fmt.Errorf("guid: invalid entity id %q", entityHex)
	}
	var keyBytes, kerr = hex.DecodeString(entityHex[:6])
	if kerr != nil || len(keyBytes) != 3 {
		return GUID{}, fmt.Errorf("guid: invalid entity key %q", entityHex[:6])
	}
	var kindBytes, derr = hex.DecodeString(entityHex[7:])
	if derr != nil || len(kindBytes) != 1 {
		return GUID{}, fmt.Errorf("guid: invalid entity kind %q", entityHex[7:])
	}
	var g GUID
	copy(g.Prefix[:], prefixBytes)
	copy(g.EntityId.EntityKey[:], keyBytes)
	g.EntityId.EntityKind = EntityKind(kindBytes[0])
	return g, nil
}

// MarshalBinary writes the GUID in RTPS wire order (prefix, then entity id).
func (g GUID) MarshalBinary() ([]byte, error) {
	var out [16]byte
	copy(out[:12], g.Prefix[:])
	copy(out[12:15], g.EntityId.EntityKey[:])
	out[15] = byte(g.EntityId.EntityKind)
	return out[:], nil
}

// UnmarshalBinary parses a GUID from its RTPS wire representation.
func (g *GUID) UnmarshalBinary(b []byte) error {
	if len(b) != 16 {
		return fmt.Errorf("guid: expected 16 bytes, got %d", len(b))
	}
	copy(g.Prefix[:], b[:12])
	copy(g.EntityId.EntityKey[:], b[12:15])
	g.EntityId.EntityKind = EntityKind(b[15])
	return nil
}

// PutUint32 writes v into b in big-endian byte order. The wire package does
// not use it: its submessage encoding is little-endian (see wire/cdr.go).
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
