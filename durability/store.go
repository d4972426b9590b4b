// Package durability persists cache changes for TransientLocal, Transient,
// and Persistent durability QoS so a late-joining reader can be replayed
// history it missed before matching.
//
// Grounded on dwarri-gazette's consumer/context.go, whose ConsumerContext
// pairs a *rocks.DB with a *rocks.WriteBatch for transactional per-shard
// writes; Store follows the same DB+WriteBatch shape, scoped to one topic
// instead of one shard.
package durability

import (
	"encoding/binary"

	rocks "github.com/tecbot/gorocksdb"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/seqnum"
	"github.com/atostek/godds/topiccache"
)

// Store persists CacheChanges keyed by (writer, sequence number), within a
// database opened for a single topic, so
// they survive past the lifetime of the in-memory TopicCache that normally
// holds them. Only durability kinds above Volatile ever reach a Store; see
// ShouldPersist.
type Store struct {
	db        *rocks.DB
	readOpts  *rocks.ReadOptions
	writeOpts *rocks.WriteOptions
	topic     string
}

// Open opens (creating if absent) a RocksDB database at dir for persisting
// one topic's durable samples.
func Open(dir, topic string) (*Store, error) {
	var opts = rocks.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	db, err := rocks.OpenDb(opts, dir)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		readOpts:  rocks.NewDefaultReadOptions(),
		writeOpts: rocks.NewDefaultWriteOptions(),
		topic:     topic,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() { s.db.Close() }

// ShouldPersist reports whether changes published under the given QoS must
// be durably stored, per DDS's DurabilityKind semantics: Volatile never is;
// everything stronger is, with Transient/Persistent distinguished only by a
// caller's own retention/backup policy (this package treats them alike).
func ShouldPersist(d qos.DurabilityKind) bool {
	return d != qos.Volatile
}

func key(writer guid.GUID, sn seqnum.SequenceNumber) []byte {
	var wb, _ = writer.MarshalBinary()
	var out = make([]byte, len(wb)+8)
	copy(out, wb)
	binary.BigEndian.PutUint64(out[len(wb):], uint64(sn))
	return out
}

// Put records change durably. Writes go through a WriteBatch even for a
// single change, mirroring ConsumerContext's Transaction field: callers that
// accumulate several changes per transport message should use PutBatch
// instead so they share one WriteBatch flush.
func (s *Store) Put(writer guid.GUID, sn seqnum.SequenceNumber, encoded []byte) error {
	var batch = rocks.NewWriteBatch()
	defer batch.Destroy()
	batch.Put(key(writer, sn), encoded)
	return s.db.Write(s.writeOpts, batch)
}

// PutBatch records every change in changes, encoded by encode, as a single
// RocksDB write batch.
func (s *Store) PutBatch(writer guid.GUID, changes []topiccache.CacheChange, encode func(topiccache.CacheChange) []byte) error {
	var batch = rocks.NewWriteBatch()
	defer batch.Destroy()
	for _, c := range changes {
		batch.Put(key(writer, c.SN), encode(c))
	}
	return s.db.Write(s.writeOpts, batch)
}

// Replay calls fn with every persisted change for writer in ascending
// sequence-number order, for seeding a late-joining reader's TopicCache.
func (s *Store) Replay(writer guid.GUID, fn func(sn seqnum.SequenceNumber, encoded []byte) error) error {
	var wb, _ = writer.MarshalBinary()
	var it = s.db.NewIterator(s.readOpts)
	defer it.Close()
	for it.Seek(wb); it.ValidForPrefix(wb); it.Next() {
		var k = it.Key()
		var v = it.Value()
		var sn = seqnum.SequenceNumber(binary.BigEndian.Uint64(k.Data()[len(wb):]))
		var encoded = append([]byte(nil), v.Data()...)
		k.Free()
		v.Free()
		if err := fn(sn, encoded); err != nil {
			return err
		}
	}
	return it.Err()
}

// Purge removes every persisted change for writer, used when a writer is
// permanently unmatched (its durability guarantee lapses with it).
func (s *Store) Purge(writer guid.GUID) error {
	var wb, _ = writer.MarshalBinary()
	var it = s.db.NewIterator(s.readOpts)
	defer it.Close()
	var batch = rocks.NewWriteBatch()
	defer batch.Destroy()
	for it.Seek(wb); it.ValidForPrefix(wb); it.Next() {
		var k = append([]byte(nil), it.Key().Data()...)
		it.Key().Free()
		it.Value().Free()
		batch.Delete(k)
	}
	if err := it.Err(); err != nil {
		return err
	}
	return s.db.Write(s.writeOpts, batch)
}
