package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Archives larger than multipartThreshold go up in multipartPartSize parts.
const (
	multipartThreshold = 64 << 20
	multipartPartSize  = 16 << 20

	archivePrefix = "archive/events/"
)

// EventArchiver implements domain.Archiver: it copies pool events older
// than a cutoff to JSONL objects and, once the upload is confirmed, prunes
// them from the event store.
type EventArchiver struct {
	events domain.EventStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prune  bool
	logger *slog.Logger
}

// NewEventArchiver wires an archiver. With prune set, archived events are
// deleted from the store after the object is verified.
func NewEventArchiver(
	events domain.EventStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	prune bool,
	logger *slog.Logger,
) *EventArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventArchiver{
		events: events,
		writer: writer,
		reader: reader,
		audit:  audit,
		prune:  prune,
		logger: logger.With(slog.String("component", "event_archiver")),
	}
}

// ArchiveEvents archives every event before the cutoff and returns how
// many were written.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}
	path := ArchivePath(before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	count := int64(len(events))

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return count, fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	if !ok {
		return count, fmt.Errorf("s3blob: %s missing after upload", path)
	}

	var pruned int64
	if a.prune {
		if pruned, err = a.events.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: prune archived events: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("pruned", pruned),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":   path,
			"count":  count,
			"pruned": pruned,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return count, nil
}

// ReadArchive loads the events stored at path.
func (a *EventArchiver) ReadArchive(ctx context.Context, path string) ([]domain.PoolEvent, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var events []domain.PoolEvent
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var ev domain.PoolEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("s3blob: decode %s line %d: %w", path, len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return events, nil
}

// ListArchives returns the stored event archives, oldest first.
func (a *EventArchiver) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(x, y domain.BlobInfo) int { return strings.Compare(x.Path, y.Path) })
	return infos, nil
}

// ArchivePath is the object key of an archive cut at before, e.g.
// archive/events/2025-01-31T00-00-00Z.jsonl.
func ArchivePath(before time.Time) string {
	return fmt.Sprintf(archivePrefix+"%s.jsonl", before.UTC().Format("2006-01-02T15-04-05Z"))
}

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
