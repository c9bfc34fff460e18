package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"

	"tacarena.ai/internal/game/controller"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var result *multierror.Error
	if w.w != nil {
		if err := w.w.Flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return result.ErrorOrNil()
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger writes the game's audit trail to <gameDir>/events.
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(gameDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(gameDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(e controller.Event) error { return l.w.Write(e) }
func (l *EventLogger) Close() error                        { return l.w.Close() }

// Tee fans one event out to several loggers. Every logger sees every event;
// failures are combined.
type Tee []controller.EventLogger

func (t Tee) WriteEvent(e controller.Event) error {
	var result *multierror.Error
	for _, l := range t {
		if l == nil {
			continue
		}
		if err := l.WriteEvent(e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ReadEvents decodes every events file under <gameDir>/events in file name
// (hour) order.
func ReadEvents(gameDir string) ([]controller.Event, error) {
	dir := filepath.Join(gameDir, "events")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []controller.Event
	for _, name := range names {
		evs, err := readEventsFile(filepath.Join(dir, name))
		if err != nil {
			return out, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

func readEventsFile(path string) ([]controller.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []controller.Event
	dec := json.NewDecoder(zr)
	for {
		var e controller.Event
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, e)
	}
}
