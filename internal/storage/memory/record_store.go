// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/storage"
)

// ErrEmpty is returned by Load before anything was saved.
var ErrEmpty = errors.New("no records stored")

// RecordStore keeps the encoded collection in memory, so callers never share
// maps with the store.
type RecordStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// Save replaces the stored collection.
func (s *RecordStore) Save(_ context.Context, records []ingest.Record) error {
	data, err := storage.EncodeRecords(records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// Load returns a copy of the stored collection.
func (s *RecordStore) Load(_ context.Context) ([]ingest.Record, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()
	if data == nil {
		return nil, ErrEmpty
	}
	return storage.DecodeRecords(data)
}
