// Package dsserver is the embedded durable stream service: an append-only,
// offset-addressed log per named stream, persisted in a Pebble database and
// exposed over HTTP for the gateway and its sprites.
package dsserver

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

var (
	// ErrStreamExists is returned by CreateStream for an existing stream.
	ErrStreamExists = errors.New("stream already exists")
	// ErrStreamNotFound is returned for operations on unknown streams.
	ErrStreamNotFound = errors.New("stream not found")
)

// Store persists streams in Pebble. Keys:
//
//	s<NUL><path>            stream marker (value: creation unix ms)
//	r<NUL><path><NUL><seq>  record payload, seq is a zero-padded sequence
//	t<NUL><path>            next sequence number
//
// Offsets handed to clients are the decimal next-sequence values; they are
// opaque strings as far as the client contract is concerned.
type Store struct {
	db *pebble.DB

	// mu serializes appends so the tail counter and record write commit
	// as one unit.
	mu sync.Mutex
}

// OpenStore opens (or creates) the stream database at dir.
func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open stream store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func markerKey(path string) []byte {
	return []byte("s\x00" + path)
}

func tailKey(path string) []byte {
	return []byte("t\x00" + path)
}

func recordKey(path string, seq uint64) []byte {
	return []byte(fmt.Sprintf("r\x00%s\x00%020d", path, seq))
}

func recordPrefix(path string) []byte {
	return []byte("r\x00" + path + "\x00")
}

// CreateStream registers a new stream. Creating an existing stream returns
// ErrStreamExists so the HTTP layer can answer 409.
func (s *Store) CreateStream(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.streamExists(path)
	if err != nil {
		return err
	}
	if exists {
		return ErrStreamExists
	}

	createdAt := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.db.Set(markerKey(path), []byte(createdAt), pebble.Sync); err != nil {
		return fmt.Errorf("create stream %s: %w", path, err)
	}
	return nil
}

// StreamExists reports whether the stream has been created.
func (s *Store) StreamExists(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamExists(path)
}

func (s *Store) streamExists(path string) (bool, error) {
	_, closer, err := s.db.Get(markerKey(path))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe stream %s: %w", path, err)
	}
	_ = closer.Close()
	return true, nil
}

// Append writes one record to the stream tail. The store assigns the order;
// concurrent appenders never interleave within a record.
func (s *Store) Append(path string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.streamExists(path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("append %s: %w", path, ErrStreamNotFound)
	}

	seq, err := s.nextSeq(path)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(recordKey(path, seq), record, nil); err != nil {
		return fmt.Errorf("stage record: %w", err)
	}
	if err := batch.Set(tailKey(path), []byte(strconv.FormatUint(seq+1, 10)), nil); err != nil {
		return fmt.Errorf("stage tail: %w", err)
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

func (s *Store) nextSeq(path string) (uint64, error) {
	value, closer, err := s.db.Get(tailKey(path))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read tail %s: %w", path, err)
	}
	defer closer.Close()

	seq, err := strconv.ParseUint(string(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt tail for %s: %w", path, err)
	}
	return seq, nil
}

// ReadSince returns all records after the given offset (empty means from the
// beginning) and the new tail offset. It never waits for future records.
func (s *Store) ReadSince(path, sinceOffset string) ([][]byte, string, error) {
	s.mu.Lock()
	exists, err := s.streamExists(path)
	var tail uint64
	if err == nil && exists {
		tail, err = s.nextSeq(path)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, "", err
	}
	if !exists {
		return nil, "", fmt.Errorf("read %s: %w", path, ErrStreamNotFound)
	}

	var since uint64
	if sinceOffset != "" {
		since, err = strconv.ParseUint(sinceOffset, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid offset %q: %w", sinceOffset, err)
		}
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: recordKey(path, since),
		UpperBound: upperBound(recordPrefix(path)),
	})
	if err != nil {
		return nil, "", fmt.Errorf("iterate %s: %w", path, err)
	}
	defer iter.Close()

	var records [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, "", fmt.Errorf("read record: %w", err)
		}
		records = append(records, append([]byte(nil), value...))
	}
	if err := iter.Error(); err != nil {
		return nil, "", fmt.Errorf("iterate %s: %w", path, err)
	}

	return records, strconv.FormatUint(tail, 10), nil
}

// upperBound returns the smallest key greater than every key with the given
// prefix.
func upperBound(prefix []byte) []byte {
	bound := append([]byte(nil), prefix...)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
