package input

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"strings"
	"sync"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"
)

// MaxLineLength bounds a tailed line before csv decoding.
const MaxLineLength = 64 * 1024

// CSVTailer follows a growing csv file. The first line of the file is the
// header; every later line is emitted as a raw row.
type CSVTailer struct {
	filepath      string
	tail          *tail.Tail
	bufferSize    int
	fromBeginning bool
	header        []string
	mu            sync.Mutex
	running       bool
	stopChan      chan struct{}
}

func NewCSVTailer(filepath string, bufferSize int) *CSVTailer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &CSVTailer{
		filepath:   filepath,
		bufferSize: bufferSize,
		stopChan:   make(chan struct{}),
	}
}

func (t *CSVTailer) SetFromBeginning(fromBeginning bool) {
	t.fromBeginning = fromBeginning
}

func (t *CSVTailer) Header() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.header
}

func (t *CSVTailer) setHeader(h []string) {
	t.mu.Lock()
	t.header = h
	t.mu.Unlock()
}

func (t *CSVTailer) Start(ctx context.Context) (<-chan []string, <-chan error) {
	rowChan := make(chan []string, t.bufferSize)
	errChan := make(chan error, 10)

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		close(rowChan)
		return rowChan, errChan
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	go func() {
		defer close(rowChan)
		defer close(errChan)

		whence := 0
		if !t.fromBeginning {
			if header, err := readHeader(t.filepath); err == nil && len(header) > 0 {
				t.setHeader(header)
				whence = 2
			}
		}

		config := tail.Config{
			Follow:    true,
			ReOpen:    true,
			MustExist: false,
			Poll:      false,
			Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		}

		tailer, err := tail.TailFile(t.filepath, config)
		if err != nil {
			log.Error().Err(err).Str("file", t.filepath).Msg("Failed to tail file")
			errChan <- err
			return
		}
		t.mu.Lock()
		t.tail = tailer
		t.mu.Unlock()

		log.Info().Str("file", t.filepath).Bool("from_beginning", whence == 0).Msg("Started tailing csv file")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Context cancelled, stopping tailer")
				return
			case <-t.stopChan:
				log.Info().Msg("Stop signal received, stopping tailer")
				return
			case line, ok := <-tailer.Lines:
				if !ok {
					log.Info().Msg("Tail channel closed")
					return
				}
				if line.Err != nil {
					log.Warn().Err(line.Err).Msg("Error reading line")
					errChan <- line.Err
					continue
				}
				text := strings.TrimRight(line.Text, "\r")
				if strings.TrimSpace(text) == "" {
					continue
				}
				if len(text) > MaxLineLength {
					log.Warn().
						Int("original_size", len(text)).
						Int("max", MaxLineLength).
						Msg("Skipping oversized csv line")
					continue
				}

				fields, err := splitLine(text)
				if err != nil {
					log.Debug().Err(err).Str("line", text).Msg("Failed to decode csv line")
					continue
				}

				if t.Header() == nil {
					t.setHeader(fields)
					log.Debug().Strs("columns", fields).Msg("Read csv header")
					continue
				}

				select {
				case rowChan <- fields:
				case <-ctx.Done():
					return
				case <-t.stopChan:
					return
				}
			}
		}
	}()

	return rowChan, errChan
}

func (t *CSVTailer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	close(t.stopChan)
	t.running = false

	if t.tail != nil {
		return t.tail.Stop()
	}
	return nil
}

func (t *CSVTailer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func splitLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.Read()
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineLength)
	if !scanner.Scan() {
		return nil, scanner.Err()
	}
	return splitLine(strings.TrimRight(scanner.Text(), "\r"))
}
