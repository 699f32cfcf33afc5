package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/paperbot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

type memReader struct {
	objects map[string][]byte
}

func (m *memReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return infos, nil
}

func (m *memReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type stubArchiveStore struct {
	positions []domain.Position
	gotFrom   time.Time
	gotTo     time.Time
}

func (s *stubArchiveStore) ListClosedBetween(_ context.Context, from, to time.Time) ([]domain.Position, error) {
	s.gotFrom, s.gotTo = from, to
	return s.positions, nil
}

type stubAudit struct {
	events []string
}

func (s *stubAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settledPosition(id int64, exit float64) domain.Position {
	exitAt := time.Date(2026, 2, 12, 15, 20, 0, 0, time.UTC)
	return domain.Position{
		ID:              id,
		StrategyID:      "a1b2c3d4",
		StrategyName:    "straddle",
		Symbol:          "NIFTY",
		Tradingsymbol:   "NIFTY26FEB22000CE",
		InstrumentToken: 11220002,
		Exchange:        "NFO",
		Strike:          22000,
		Expiry:          time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC),
		Kind:            domain.OptionCall,
		Direction:       domain.DirectionLong,
		Lots:            1,
		LotSize:         50,
		Quantity:        50,
		EntryPrice:      100,
		CurrentPrice:    exit,
		ExitPrice:       &exit,
		MarginHeld:      0,
		Status:          domain.PositionStatusClosed,
		EntryTime:       time.Date(2026, 2, 12, 9, 30, 0, 0, time.UTC),
		ExitTime:        &exitAt,
	}
}

func TestArchiveDayUploadsDataAndManifest(t *testing.T) {
	w := newMemWriter()
	store := &stubArchiveStore{positions: []domain.Position{
		settledPosition(1, 120),
		settledPosition(2, 80),
	}}
	audit := &stubAudit{}

	a := NewDayArchiver(w, store, audit, "archive")
	day := time.Date(2026, 2, 12, 13, 45, 0, 0, time.UTC)

	n, err := a.ArchiveDay(context.Background(), day)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Query window covers the whole calendar day.
	assert.Equal(t, time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC), store.gotFrom)
	assert.Equal(t, time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), store.gotTo)

	data, ok := w.objects["archive/positions/2026-02-12.jsonl.gz"]
	require.True(t, ok, "data object missing: %v", w.objects)
	assert.Equal(t, "application/gzip", w.types["archive/positions/2026-02-12.jsonl.gz"])

	// Payload gunzips back to one JSON line per position.
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "NIFTY26FEB22000CE")

	var manifest archiveManifest
	require.NoError(t, json.Unmarshal(w.objects["archive/positions/2026-02-12.manifest.json"], &manifest))
	assert.Equal(t, "2026-02-12", manifest.Day)
	assert.Equal(t, 2, manifest.Count)
	assert.Equal(t, len(data), manifest.Bytes)

	assert.Equal(t, []string{"archive.day"}, audit.events)
}

func TestArchiveDayEmptyUploadsNothing(t *testing.T) {
	w := newMemWriter()
	a := NewDayArchiver(w, &stubArchiveStore{}, &stubAudit{}, "")

	n, err := a.ArchiveDay(context.Background(), time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestRestoreDayRoundTrip(t *testing.T) {
	w := newMemWriter()
	store := &stubArchiveStore{positions: []domain.Position{settledPosition(7, 95.5)}}
	a := NewDayArchiver(w, store, nil, "archive")
	day := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)

	_, err := a.ArchiveDay(context.Background(), day)
	require.NoError(t, err)

	views, err := RestoreDay(context.Background(), &memReader{objects: w.objects}, "archive", day)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.EqualValues(t, 7, views[0].ID)
	assert.Equal(t, domain.PositionStatusClosed, views[0].Status)
	require.NotNil(t, views[0].ExitPrice)
	assert.Equal(t, 95.5, *views[0].ExitPrice)
}

func TestRestoreDayMissingExport(t *testing.T) {
	_, err := RestoreDay(context.Background(), &memReader{objects: map[string][]byte{}}, "", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
