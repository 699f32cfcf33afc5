package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
)

// PositionArchiveStore provides the one query the day archiver needs. The
// Postgres position store satisfies it implicitly.
type PositionArchiveStore interface {
	// ListClosedBetween returns positions that left ACTIVE status within
	// [from, to).
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]domain.Position, error)
}

// DayArchiver implements domain.Archiver by exporting one trading day of
// settled positions as gzipped JSONL plus a manifest describing the export.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step after the archive has
// been verified.
type DayArchiver struct {
	writer    domain.BlobWriter
	positions PositionArchiveStore
	audit     domain.AuditStore
	prefix    string
}

// NewDayArchiver creates a DayArchiver. Prefix defaults to "archive".
func NewDayArchiver(writer domain.BlobWriter, positions PositionArchiveStore, audit domain.AuditStore, prefix string) *DayArchiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &DayArchiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
		prefix:    prefix,
	}
}

// archiveManifest describes one day export. Stored next to the data object so
// a restore can be verified without downloading the payload.
type archiveManifest struct {
	Day         string    `json:"day"`
	Path        string    `json:"path"`
	Count       int       `json:"count"`
	Bytes       int       `json:"bytes"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ArchiveDay exports every position settled on the given trading day. Day
// boundaries follow the location of the passed time. It returns the number of
// exported positions; a day with no settled positions uploads nothing and
// returns 0.
func (a *DayArchiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	settled, err := a.positions.ListClosedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day query: %w", err)
	}
	if len(settled) == 0 {
		return 0, nil
	}

	data, err := marshalGzipJSONL(settled)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day marshal: %w", err)
	}

	dayKey := from.Format("2006-01-02")
	dataPath := fmt.Sprintf("%s/positions/%s.jsonl.gz", a.prefix, dayKey)
	manifestPath := fmt.Sprintf("%s/positions/%s.manifest.json", a.prefix, dayKey)

	manifest, err := json.MarshalIndent(archiveManifest{
		Day:         dayKey,
		Path:        dataPath,
		Count:       len(settled),
		Bytes:       len(data),
		GeneratedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day manifest marshal: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.writer.Put(gctx, dataPath, bytes.NewReader(data), "application/gzip")
	})
	g.Go(func() error {
		return a.writer.Put(gctx, manifestPath, bytes.NewReader(manifest), "application/json")
	})
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("s3blob: archive day upload: %w", err)
	}

	count := int64(len(settled))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.day", map[string]any{
			"day":   dayKey,
			"path":  dataPath,
			"count": count,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive day audit log: %w", err)
		}
	}

	return count, nil
}

// RestoreDay downloads and decodes one day export produced by ArchiveDay.
// Returns domain.ErrNotFound (wrapped) when no export exists for the day.
func RestoreDay(ctx context.Context, reader domain.BlobReader, prefix string, day time.Time) ([]domain.PositionView, error) {
	if prefix == "" {
		prefix = "archive"
	}
	path := fmt.Sprintf("%s/positions/%s.jsonl.gz", prefix, day.Format("2006-01-02"))

	rc, err := reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: restore %s: gzip: %w", path, err)
	}
	defer zr.Close()

	var views []domain.PositionView
	dec := json.NewDecoder(zr)
	for dec.More() {
		var v domain.PositionView
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("s3blob: restore %s: decode record %d: %w", path, len(views), err)
		}
		views = append(views, v)
	}
	return views, nil
}

// marshalGzipJSONL serialises positions as gzipped newline-delimited JSON.
// Each position is written in its read-model projection, one compact JSON
// line per record.
func marshalGzipJSONL(positions []domain.Position) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)

	for i, p := range positions {
		if err := enc.Encode(engine.View(p)); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
