// Package gcs archives raw permit result pages in Google Cloud Storage.
//
// Archive paths carry the page digest, so an object that already exists holds
// the same bytes. Writes are conditional on the object being absent and an
// existing object counts as archived.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// DefaultContentType is applied when a caller passes none.
const DefaultContentType = "text/html; charset=utf-8"

// Config names the archive bucket.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

// BlobStore writes archived result pages to one bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a BlobStore.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads one page and returns its gs:// URI. Pages are small, so
// the upload is a single request.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, path)

	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.ChunkSize = 0

	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy page %s: %w (close writer: %v)", path, err, closeErr)
		}
		return "", fmt.Errorf("copy page %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("archive page %s: %w", path, err)
	}
	return uri, nil
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
