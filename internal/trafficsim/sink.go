package trafficsim

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// RecordSink stores page-view records. Append must be safe for concurrent
// use and write either the whole record or nothing.
type RecordSink interface {
	Append(rec SessionRecord) error
	Close() error
}

func NewRecordSink(ctx context.Context, cfg Config) (RecordSink, error) {
	switch cfg.Sink.Kind {
	case SinkCSV, "":
		return newCSVSink(cfg.Sink.Path)
	case SinkLevelDB:
		return newLevelDBSink(cfg.Sink.Path)
	case SinkPostgres:
		return newPostgresSink(ctx, cfg.Sink.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink.Kind)
	}
}

type csvSink struct {
	path string
	mu   sync.Mutex
}

// newCSVSink writes the header row only when the file does not exist yet, so
// repeated runs keep appending to the same log.
func newCSVSink(path string) (*csvSink, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		w := csv.NewWriter(f)
		_ = w.Write(recordColumns)
		w.Flush()
		if err := errors.Join(w.Error(), f.Close()); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return &csvSink{path: path}, nil
}

func (s *csvSink) Append(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write(rec.Fields())
	w.Flush()
	return errors.Join(w.Error(), f.Close())
}

func (s *csvSink) Close() error { return nil }
