package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold is the body size above which uploads are split.
	multipartThreshold = 16 << 20
	// partSize stays above the 5 MiB S3 floor.
	partSize int64 = 8 << 20
)

// Bucket is the archive bucket behind domain.ArchiveBucket.
type Bucket struct {
	client   *s3.Client
	uploader *manager.Uploader
	name     string
}

// NewBucket returns the archive bucket of c.
func NewBucket(c *Client) *Bucket {
	return &Bucket{
		client: c.s3,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		name: c.bucket,
	}
}

// Exists reports whether key is already stored.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
}

// Upload stores body as a JSONL object. Large bodies go through the
// multipart uploader.
func (b *Bucket) Upload(ctx context.Context, key string, body []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(jsonlContentType),
	}
	if len(body) > multipartThreshold {
		if _, err := b.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}
	in.ContentLength = aws.Int64(int64(len(body)))
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// isNotFound matches the typed NotFound HeadObject returns and bare 404s
// from S3-compatible providers.
func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.ArchiveBucket = (*Bucket)(nil)
