// Package output provides alert persistence and fan-out adapters.
//
// This file implements the JSON-lines audit log. Every persisted alert is
// appended as one JSON document, to stdout or to a size-rotated file.
//
// Features:
//   - Buffered I/O (64KB buffer)
//   - Periodic automatic flushing (1 second)
//   - Size based rotation through lumberjack
//
// Thread Safety: Safe for concurrent Send() calls.
package output

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// JSONAlerter writes alerts as JSON lines.
type JSONAlerter struct {
	bufWriter *bufio.Writer // Buffered writer (64KB)
	closer    io.Closer     // Rotating file (nil for stdout/discard)
	encoder   *json.Encoder // Reused encoder
	mu        sync.Mutex    // Protects writes
	stopFlush chan struct{} // Stop periodic flush
	closeOnce sync.Once
}

// JSONAlerterConfig configures JSON alert output.
type JSONAlerterConfig struct {
	FilePath   string // Output file path (empty for discard)
	Stdout     bool   // Write to stdout
	Pretty     bool   // Pretty-print JSON
	MaxSizeMB  int    // Rotate after this size (default 100)
	MaxBackups int    // Rotated files to keep
	MaxAgeDays int    // Days to keep rotated files
	Compress   bool   // Gzip rotated files
}

// NewJSONAlerter creates a JSON alert output.
//
// Output Priority:
//  1. Stdout if config.Stdout is true
//  2. Rotating file if config.FilePath is set
//  3. io.Discard otherwise
func NewJSONAlerter(config JSONAlerterConfig) (*JSONAlerter, error) {
	var writer io.Writer
	var closer io.Closer

	switch {
	case config.Stdout:
		writer = os.Stdout
	case config.FilePath != "":
		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		rotating := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		writer, closer = rotating, rotating
	default:
		writer = io.Discard
	}

	const bufferSize = 64 * 1024
	bufWriter := bufio.NewWriterSize(writer, bufferSize)

	alerter := &JSONAlerter{
		bufWriter: bufWriter,
		closer:    closer,
		encoder:   json.NewEncoder(bufWriter),
		stopFlush: make(chan struct{}),
	}
	if config.Pretty {
		alerter.encoder.SetIndent("", "  ")
	}

	go alerter.periodicFlush()

	return alerter, nil
}

func (a *JSONAlerter) periodicFlush() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Flush()
		case <-a.stopFlush:
			return
		}
	}
}

func (a *JSONAlerter) Name() string {
	return "json"
}

// Send writes an alert as one JSON document.
func (a *JSONAlerter) Send(_ context.Context, alert *domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.encoder.Encode(alert)
}

func (a *JSONAlerter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.bufWriter.Flush()
}

// Close stops periodic flushing, flushes the buffer and closes the file.
func (a *JSONAlerter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stopFlush)

		a.mu.Lock()
		defer a.mu.Unlock()

		err = a.bufWriter.Flush()
		if a.closer != nil {
			if cerr := a.closer.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
