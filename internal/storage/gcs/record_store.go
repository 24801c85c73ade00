// Package gcs provides a RecordStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	recordcodec "github.com/JakeFAU/rule-aggregator/internal/storage"
)

// DefaultObject is used when no object name is configured.
const DefaultObject = "records.json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Object string
}

// RecordStore keeps the collection as a single object in a GCS bucket.
type RecordStore struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed record store.
func New(client *storage.Client, cfg Config) (*RecordStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := strings.TrimSpace(cfg.Object)
	if object == "" {
		object = DefaultObject
	}
	return &RecordStore{
		client: client,
		bucket: cfg.Bucket,
		object: object,
	}, nil
}

// URI returns the gs:// location of the collection.
func (s *RecordStore) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Save uploads the encoded collection, replacing the previous object.
func (s *RecordStore) Save(ctx context.Context, records []ingest.Record) error {
	data, err := recordcodec.EncodeRecords(records)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = recordcodec.ContentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Load downloads the collection. A missing object yields an empty collection.
func (s *RecordStore) Load(ctx context.Context) ([]ingest.Record, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return []ingest.Record{}, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.URI(), err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	return recordcodec.DecodeRecords(data)
}
