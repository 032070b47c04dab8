package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

const (
	defaultArchiveBatch = 5000
	// Batches larger than this go through the multipart uploader.
	multipartThreshold int64 = 16 * 1024 * 1024

	archiveContentType = "application/x-ndjson"
)

// EventArchiver implements domain.Archiver. It copies settled events to
// JSONL objects keyed by sequence range, then flags them archived in the
// primary store. Rows are never deleted here.
type EventArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	events    domain.EventStore
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
}

// NewEventArchiver creates an EventArchiver. reader and audit may be nil.
func NewEventArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events domain.EventStore,
	audit domain.AuditStore,
	batchSize int,
	logger *slog.Logger,
) *EventArchiver {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatch
	}
	return &EventArchiver{
		writer:    writer,
		reader:    reader,
		events:    events,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "event_archiver")),
	}
}

// ArchiveEvents archives every unarchived event older than before and
// returns how many were archived. An object that already exists (left by an
// earlier run that failed to mark its rows) is not uploaded again.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		events, err := a.events.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		if len(events) == 0 {
			return total, nil
		}

		first, last := events[0], events[len(events)-1]
		path := archivePath(first, last)
		if err := a.upload(ctx, path, events); err != nil {
			return total, err
		}
		if err := a.events.MarkArchived(ctx, last.Seq); err != nil {
			return total, fmt.Errorf("s3blob: mark archived up to %d: %w", last.Seq, err)
		}
		total += int64(len(events))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.events", map[string]any{
				"path":      path,
				"count":     len(events),
				"first_seq": first.Seq,
				"last_seq":  last.Seq,
				"before":    before.Format(time.RFC3339),
			}); err != nil {
				a.logger.WarnContext(ctx, "event_archiver: audit log failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
		a.logger.InfoContext(ctx, "events archived",
			slog.String("path", path),
			slog.Int("count", len(events)),
			slog.Uint64("last_seq", last.Seq),
		)

		if len(events) < a.batchSize {
			return total, nil
		}
	}
}

func (a *EventArchiver) upload(ctx context.Context, path string, events []domain.Event) error {
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("s3blob: archive events: %w", err)
		}
		if exists {
			return nil
		}
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return fmt.Errorf("s3blob: archive events marshal: %w", err)
	}
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	return nil
}

// archivePath partitions by the month of the first event:
//
//	archive/events/2026-01/000000000001-000000005000.jsonl
func archivePath(first, last domain.Event) string {
	return fmt.Sprintf("archive/events/%s/%012d-%012d.jsonl",
		first.At.UTC().Format("2006-01"), first.Seq, last.Seq)
}

// marshalJSONL writes one compact JSON document per line.
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

var _ domain.Archiver = (*EventArchiver)(nil)
