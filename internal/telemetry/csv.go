// Package telemetry turns engine events into durable records: an append-only
// CSV log with size-based rotation, plus fan-out to live publishers. The
// tabular schema is fixed; analysis happens offline.
package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// csvHeader is the fixed column set. New columns are only ever appended.
var csvHeader = []string{
	"timestamp", "kind", "group_id", "instrument", "order_id",
	"side", "price", "size", "edge", "state", "detail",
}

// CSVConfig configures the rotating CSV sink.
type CSVConfig struct {
	// Dir is the directory telemetry files are written into.
	Dir string
	// FilePrefix names the files: <prefix>-<timestamp>.csv.
	FilePrefix string
	// MaxFileBytes triggers rotation once the current file exceeds it.
	// Zero disables rotation.
	MaxFileBytes int64
	// OnRotate is invoked with the path of each completed file, after it is
	// closed. Used to hand rotated files to the archiver.
	OnRotate func(path string)
	Logger   *slog.Logger
}

// CSVWriter is a rotating CSV telemetry sink. Record is safe for concurrent
// use, though the core calls it from a single goroutine.
type CSVWriter struct {
	cfg CSVConfig

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	written int64
	path    string

	logger *slog.Logger
	now    func() time.Time
}

// NewCSVWriter creates the sink and opens the first file.
func NewCSVWriter(cfg CSVConfig) (*CSVWriter, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "telemetry"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create dir: %w", err)
	}
	w := &CSVWriter{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "telemetry_csv")),
		now:    time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Record implements domain.TelemetrySink.
func (w *CSVWriter) Record(_ context.Context, ev domain.TelemetryEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("telemetry: sink closed")
	}

	row := []string{
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Kind),
		ev.GroupID,
		string(ev.Instrument),
		ev.OrderID,
		string(ev.Side),
		formatFloat(ev.Price),
		formatFloat(ev.Size),
		formatFloat(ev.Edge),
		ev.State,
		ev.Detail,
	}
	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("telemetry: write row: %w", err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("telemetry: flush: %w", err)
	}

	for _, col := range row {
		w.written += int64(len(col)) + 1
	}
	if w.cfg.MaxFileBytes > 0 && w.written >= w.cfg.MaxFileBytes {
		return w.rotateLocked()
	}
	return nil
}

// SetOnRotate installs the completed-file hook after construction, for
// wiring orders where the archiver is built after the sink.
func (w *CSVWriter) SetOnRotate(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.OnRotate = fn
}

// Rotate closes the current file and opens a fresh one, handing the completed
// file to OnRotate. Called on demand by the archiver's schedule.
func (w *CSVWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

// Path returns the path of the file currently being written.
func (w *CSVWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Close flushes and closes the current file without rotating.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.writer.Flush()
	err := w.file.Close()
	w.file = nil
	w.writer = nil
	return err
}

func (w *CSVWriter) rotateLocked() error {
	if w.file == nil {
		return nil
	}
	w.writer.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close rotated file: %w", err)
	}
	completed := w.path
	w.file = nil
	w.writer = nil

	if err := w.open(); err != nil {
		return err
	}
	w.logger.Info("telemetry file rotated", slog.String("path", completed))
	if w.cfg.OnRotate != nil {
		w.cfg.OnRotate(completed)
	}
	return nil
}

func (w *CSVWriter) open() error {
	name := fmt.Sprintf("%s-%s.csv", w.cfg.FilePrefix, w.now().UTC().Format("20060102T150405.000"))
	path := filepath.Join(w.cfg.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		file.Close()
		return fmt.Errorf("telemetry: write header: %w", err)
	}
	writer.Flush()

	w.file = file
	w.writer = writer
	w.written = 0
	w.path = path
	return nil
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
