package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Writer implements domain.BlobWriter against the archive bucket. Day
// exports land under <prefix>/positions/<day>.jsonl.gz with a manifest
// sibling, both written by the archiver through Put.
type Writer struct {
	api      *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer over the client's archive bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		api:      c.API(),
		uploader: manager.NewUploader(c.API()),
		bucket:   c.Bucket(),
	}
}

// Put uploads one object in a single request. A day of settled positions
// compresses to a few kilobytes, so this is the normal archive path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads through the SDK's multipart manager, for oversized
// backfills that a single PutObject cannot carry. partSize below the S3
// minimum is raised to it.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}

	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   data,
	}, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}
