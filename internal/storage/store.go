// Package storage keeps rendered label payloads in a blob bucket.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"
)

const pdfContentType = "application/pdf"

// ArtifactStore reads and writes label payloads under a key prefix.
type ArtifactStore struct {
	bucket *blob.Bucket
	prefix string
}

// OpenArtifactStore opens any gocloud bucket URL, e.g. mem://,
// file:///var/lib/labels or s3://bucket?region=eu-west-1.
func OpenArtifactStore(ctx context.Context, bucketURL, prefix string) (*ArtifactStore, error) {
	bucketURL = strings.TrimSpace(bucketURL)
	if bucketURL == "" {
		return nil, fmt.Errorf("artifact bucket url is required")
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open artifact bucket %s: %w", bucketURL, err)
	}
	return NewArtifactStore(bucket, prefix), nil
}

func NewArtifactStore(bucket *blob.Bucket, prefix string) *ArtifactStore {
	return &ArtifactStore{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Key builds the object key of one label in a print job.
func (s *ArtifactStore) Key(jobID string, index int, id domain.IdentifierPair) string {
	name := fmt.Sprintf("%03d-%s.pdf", index, sanitize(id.PalletNumber))
	return path.Join(s.prefix, "jobs", sanitize(jobID), name)
}

func (s *ArtifactStore) Put(ctx context.Context, key string, payload []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: pdfContentType})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("write artifact %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return data, nil
}

func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

func (s *ArtifactStore) Close() error {
	if s == nil || s.bucket == nil {
		return nil
	}
	return s.bucket.Close()
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(strings.TrimSpace(s))
}
