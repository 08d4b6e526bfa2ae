package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// multipartThreshold is the snapshot size above which uploads go through
// the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// PoolSnapshot is the archived form of one discovery round.
type PoolSnapshot struct {
	Venue      string        `json:"venue"`
	Window     int64         `json:"window"`
	ArchivedAt time.Time     `json:"archivedAt"`
	Pools      []domain.Pool `json:"pools"`
}

// ObjectWriter uploads objects; Writer implements it.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver writes discovered pool sets to object storage.
type Archiver struct {
	writer ObjectWriter
	now    func() time.Time
}

// NewArchiver creates an Archiver on top of writer.
func NewArchiver(writer ObjectWriter) *Archiver {
	return &Archiver{writer: writer, now: time.Now}
}

// ArchivePools uploads pools as pools/<venue>/<window>.json.
func (a *Archiver) ArchivePools(ctx context.Context, venue string, window int64, pools []domain.Pool) error {
	buf, err := sonnet.Marshal(PoolSnapshot{
		Venue:      venue,
		Window:     window,
		ArchivedAt: a.now().UTC(),
		Pools:      pools,
	})
	if err != nil {
		return fmt.Errorf("s3blob: encode pool snapshot: %w", err)
	}

	path := SnapshotPath(venue, window)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive pools %s: %w", venue, err)
	}
	return nil
}

// SnapshotPath is the object key of a venue's pool set for window.
func SnapshotPath(venue string, window int64) string {
	return fmt.Sprintf("pools/%s/%d.json", venue, window)
}
