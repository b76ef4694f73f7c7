package app

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

const (
	spillMaxSizeMB  = 64
	spillMaxBackups = 3
)

// spillFile is a size-bounded JSON-lines file. Rotated files keep the
// name with a timestamp suffix.
type spillFile struct {
	mu    sync.Mutex
	out   *lumberjack.Logger
	path  string
	count atomic.Int64
}

func openSpillFile(path string) (*spillFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &spillFile{
		path: path,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    spillMaxSizeMB,
			MaxBackups: spillMaxBackups,
		},
	}, nil
}

func (s *spillFile) append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(line, '\n')); err != nil {
		return err
	}
	s.count.Add(1)
	return nil
}

func (s *spillFile) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

// OverflowWriter records work that could not be queued: batches refused by
// the worker pool and alerts refused by the dispatcher. A writer built with
// an empty path discards everything.
type OverflowWriter struct {
	file *spillFile
}

// OverflowEntry is one line of the overflow file. Type is "batch" or
// "alert".
type OverflowEntry struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewOverflowWriter(path string) (*OverflowWriter, error) {
	if path == "" {
		return &OverflowWriter{}, nil
	}
	file, err := openSpillFile(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("Overflow writer initialized")
	return &OverflowWriter{file: file}, nil
}

// WriteBatch spills a batch the pool could not accept. Rows keep their
// header so the file can be replayed.
func (w *OverflowWriter) WriteBatch(batch *Batch) error {
	return w.write("batch", batch)
}

func (w *OverflowWriter) WriteAlert(alert *domain.Alert) error {
	return w.write("alert", alert)
}

func (w *OverflowWriter) write(kind string, v any) error {
	if w.file == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	return w.file.append(OverflowEntry{Type: kind, Timestamp: time.Now().UTC(), Data: data})
}

func (w *OverflowWriter) Close() error {
	if w.file == nil {
		return nil
	}
	if n := w.file.count.Load(); n > 0 {
		log.Warn().
			Int64("overflow_count", n).
			Str("path", w.file.path).
			Msg("Overflow file contains unprocessed work")
	}
	return w.file.close()
}

func (w *OverflowWriter) Count() int64 {
	if w.file == nil {
		return 0
	}
	return w.file.count.Load()
}

func (w *OverflowWriter) Enabled() bool { return w.file != nil }

// QuarantineWriter records batches that made a worker panic, together with
// the panic value and stack.
type QuarantineWriter struct {
	file *spillFile
}

type QuarantineEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	WorkerID   int             `json:"worker_id"`
	PanicError string          `json:"panic_error"`
	StackTrace string          `json:"stack_trace,omitempty"`
	Batch      json.RawMessage `json:"batch"`
	Rows       int             `json:"rows"`
}

func NewQuarantineWriter(path string) (*QuarantineWriter, error) {
	if path == "" {
		return &QuarantineWriter{}, nil
	}
	file, err := openSpillFile(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("Quarantine writer initialized")
	return &QuarantineWriter{file: file}, nil
}

func (w *QuarantineWriter) WriteToxicBatch(workerID int, panicErr any, stack []byte, batch *Batch) error {
	if w.file == nil {
		return nil
	}

	entry := QuarantineEntry{
		Timestamp:  time.Now().UTC(),
		WorkerID:   workerID,
		PanicError: panicText(panicErr),
		StackTrace: string(stack),
		Batch:      json.RawMessage(`null`),
	}
	if batch != nil {
		entry.Rows = len(batch.Rows)
		if data, err := json.Marshal(batch); err == nil {
			entry.Batch = data
		} else {
			entry.Batch = json.RawMessage(`{"error":"batch not serializable"}`)
		}
	}

	if err := w.file.append(entry); err != nil {
		return err
	}
	log.Warn().
		Int("worker_id", workerID).
		Str("panic", entry.PanicError).
		Int("rows", entry.Rows).
		Int64("quarantine_count", w.file.count.Load()).
		Msg("Batch quarantined")
	return nil
}

func panicText(v any) string {
	switch v := v.(type) {
	case nil:
		return "unknown panic"
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (w *QuarantineWriter) Close() error {
	if w.file == nil {
		return nil
	}
	if n := w.file.count.Load(); n > 0 {
		log.Warn().
			Int64("quarantine_count", n).
			Str("path", w.file.path).
			Msg("Quarantine file contains batches requiring analysis")
	}
	return w.file.close()
}

func (w *QuarantineWriter) Count() int64 {
	if w.file == nil {
		return 0
	}
	return w.file.count.Load()
}

func (w *QuarantineWriter) Enabled() bool { return w.file != nil }
