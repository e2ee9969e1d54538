package trafficsim

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var errSinkClosed = errors.New("sink closed")

type levelDBOp struct {
	rec  SessionRecord
	done chan error
}

// levelDBSink funnels every append through a single writer goroutine. Keys
// sort by timestamp, then session and sequence number.
type levelDBSink struct {
	db *leveldb.DB

	mu     sync.RWMutex
	closed bool
	ops    chan levelDBOp
	done   chan struct{}
}

func newLevelDBSink(path string) (*levelDBSink, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	s := &levelDBSink{
		db:   db,
		ops:  make(chan levelDBOp, 256),
		done: make(chan struct{}),
	}
	go s.writerLoop()
	return s, nil
}

func recordKey(rec SessionRecord) []byte {
	return []byte(fmt.Sprintf("r:%020d:%s:%06d", rec.Timestamp.UnixNano(), rec.SessionID, rec.Seq))
}

func (s *levelDBSink) Append(rec SessionRecord) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errSinkClosed
	}
	op := levelDBOp{rec: rec, done: make(chan error, 1)}
	s.ops <- op
	s.mu.RUnlock()
	return <-op.done
}

func (s *levelDBSink) writerLoop() {
	defer close(s.done)
	for op := range s.ops {
		op.done <- s.write(op.rec)
	}
}

func (s *levelDBSink) write(rec SessionRecord) error {
	b, err := encodeGob(rec)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(recordKey(rec), b)
	return s.db.Write(batch, nil)
}

// Records calls fn for every stored record in key order.
func (s *levelDBSink) Records(fn func(SessionRecord) error) error {
	it := s.db.NewIterator(util.BytesPrefix([]byte("r:")), nil)
	defer it.Release()
	for it.Next() {
		var rec SessionRecord
		if err := decodeGob(it.Value(), &rec); err != nil {
			return fmt.Errorf("decode %q: %w", it.Key(), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *levelDBSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

// DumpLevelDB writes every record stored at path as CSV rows via emit.
func DumpLevelDB(path string, emit func(fields []string) error) error {
	s, err := newLevelDBSink(path)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := emit(recordColumns); err != nil {
		return err
	}
	return s.Records(func(rec SessionRecord) error { return emit(rec.Fields()) })
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
