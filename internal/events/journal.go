package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Journal persists the event stream to an embedded pebble store,
// append-only, keyed by the event's sequence number so range scans replay
// the run in order.
type Journal struct {
	db *pebble.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// keys: e:<8-byte-big-endian-seq>
func journalKey(seq uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "e:")
	binary.BigEndian.PutUint64(key[2:], seq)
	return key
}

func (j *Journal) Emit(e Event) {
	val, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Uint64("seq", e.Seq).Msg("journal encode failed")
		return
	}
	// Ticks are the durability boundary; everything in between can take
	// the fast path.
	opts := pebble.NoSync
	if e.Kind == TickCompleted {
		opts = pebble.Sync
	}
	if err := j.db.Set(journalKey(e.Seq), val, opts); err != nil {
		log.Error().Err(err).Uint64("seq", e.Seq).Msg("journal write failed")
	}
}

// Replay walks the journal in sequence order. Used by analysis tooling
// and tests.
func (j *Journal) Replay(fn func(Event) bool) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("e:"),
		UpperBound: []byte("e;"),
	})
	if err != nil {
		return fmt.Errorf("journal iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return fmt.Errorf("journal decode: %w", err)
		}
		if !fn(e) {
			break
		}
	}
	return iter.Error()
}
