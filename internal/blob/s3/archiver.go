package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// Narrow store interfaces required by the retention job. The Postgres stores
// satisfy them implicitly.

// OrderArchiveStore provides read/delete access to terminal orders.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityArchiveStore provides read/delete access to old opportunities.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig configures the archiver.
type ArchiverConfig struct {
	// Prefix is prepended to every uploaded key, e.g. "pairbot/prod".
	Prefix string
	// Retention bounds how long rows stay in the primary store before the
	// retention job moves them to object storage.
	Retention time.Duration
	// RetentionInterval is how often the retention job runs.
	RetentionInterval time.Duration
	// DeleteUploaded removes local telemetry files after a successful upload.
	DeleteUploaded bool
	Logger         *slog.Logger
}

// Archiver moves rotated telemetry files and aged database rows into object
// storage. Uploads happen off the trading path; a failed upload leaves the
// source in place for the next attempt.
type Archiver struct {
	cfg    ArchiverConfig
	writer *Writer
	orders OrderArchiveStore
	opps   OpportunityArchiveStore
	sink   domain.TelemetrySink

	files  chan string
	logger *slog.Logger
}

// NewArchiver creates an Archiver. The orders and opps stores may be nil when
// the run mode has no database; only telemetry uploads happen then. The sink
// may be nil.
func NewArchiver(cfg ArchiverConfig, writer *Writer, orders OrderArchiveStore, opps OpportunityArchiveStore, sink domain.TelemetrySink) *Archiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = time.Hour
	}
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		orders: orders,
		opps:   opps,
		sink:   sink,
		files:  make(chan string, 32),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// EnqueueFile schedules a rotated telemetry file for upload. Safe to call
// from the telemetry sink's rotation hook. Drops with a warning when the
// backlog is full rather than blocking the caller.
func (a *Archiver) EnqueueFile(path string) {
	select {
	case a.files <- path:
	default:
		a.logger.Warn("archive backlog full, file left on disk", slog.String("path", path))
	}
}

// Run processes queued telemetry uploads and the periodic retention job until
// ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	var retention <-chan time.Time
	if a.cfg.Retention > 0 && (a.orders != nil || a.opps != nil) {
		ticker := time.NewTicker(a.cfg.RetentionInterval)
		defer ticker.Stop()
		retention = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-a.files:
			if err := a.uploadTelemetryFile(ctx, path); err != nil {
				a.logger.Warn("telemetry upload failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		case <-retention:
			a.runRetention(ctx)
		}
	}
}

// uploadTelemetryFile streams one rotated CSV into object storage.
func (a *Archiver) uploadTelemetryFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("s3blob: open telemetry file: %w", err)
	}
	defer file.Close()

	key := a.key("telemetry/" + filepath.Base(path))
	if err := a.writer.PutStream(ctx, key, file, 0); err != nil {
		return err
	}

	a.logger.Info("telemetry file archived", slog.String("key", key))
	if a.sink != nil {
		_ = a.sink.Record(ctx, domain.TelemetryEvent{
			Timestamp: time.Now(),
			Kind:      domain.TelemetryArchiveUploaded,
			Detail:    key,
		})
	}
	if a.cfg.DeleteUploaded {
		if err := os.Remove(path); err != nil {
			a.logger.Warn("remove uploaded file failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// runRetention archives and prunes database rows older than the retention
// window. Rows are only deleted after the archive upload succeeded.
func (a *Archiver) runRetention(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.Retention)

	if a.orders != nil {
		if n, err := archiveRows(ctx, a.writer, a.key(archivePath("orders", cutoff)), a.orders, cutoff); err != nil {
			a.logger.Warn("order retention failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("orders archived", slog.Int64("count", n))
		}
	}
	if a.opps != nil {
		if n, err := archiveRows(ctx, a.writer, a.key(archivePath("opportunities", cutoff)), a.opps, cutoff); err != nil {
			a.logger.Warn("opportunity retention failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("opportunities archived", slog.Int64("count", n))
		}
	}
}

func (a *Archiver) key(path string) string {
	if a.cfg.Prefix == "" {
		return path
	}
	return a.cfg.Prefix + "/" + path
}

// rowStore is the common shape of the two archive stores.
type rowStore[T any] interface {
	ListBefore(ctx context.Context, before time.Time) ([]T, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// archiveRows uploads rows older than the cutoff as JSONL, then deletes them
// from the primary store.
func archiveRows[T any](ctx context.Context, writer *Writer, key string, store rowStore[T], cutoff time.Time) (int64, error) {
	rows, err := store.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: retention query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: retention marshal: %w", err)
	}
	if err := writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: retention upload: %w", err)
	}

	deleted, err := store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: retention delete: %w", err)
	}
	return deleted, nil
}

// archivePath builds the key for a retention file, partitioned by the
// year-month-day of the cutoff time.
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
