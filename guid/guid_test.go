package guid

import "testing"

func TestGUIDRoundTrip(t *testing.T) {
	var g = GUID{
		Prefix:   GuidPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		EntityId: SPDPBuiltinParticipantReader,
	}
	b, err := g.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got GUID
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != g {
		t.Fatalf("round trip mismatch: got %v want %v", got, g)
	}
}

func TestEntityIdIsBuiltin(t *testing.T) {
	if !SPDPBuiltinParticipantReader.IsBuiltin() {
		t.Fatal("expected SPDP participant reader entity id to be builtin")
	}
	var user = EntityId{EntityKind: EntityKindUserWriterWithKey}
	if user.IsBuiltin() {
		t.Fatal("expected user writer entity id to not be builtin")
	}
}

func TestUnmarshalBinaryRejectsShortInput(t *testing.T) {
	var g GUID
	if err := g.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short input")
	}
}
