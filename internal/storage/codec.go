// Package storage holds the record collection encoding shared by the storage backends.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

// ContentType of an encoded collection.
const ContentType = "application/json"

// EncodeRecords renders the collection as an indented JSON array.
func EncodeRecords(records []ingest.Record) ([]byte, error) {
	if records == nil {
		records = []ingest.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}

// DecodeRecords parses a JSON array of records.
func DecodeRecords(data []byte) ([]ingest.Record, error) {
	var records []ingest.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if records == nil {
		records = []ingest.Record{}
	}
	return records, nil
}
