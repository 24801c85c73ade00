package ingest

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Well-known record fields.
const (
	FieldName       = "name"
	FieldOrigin     = "origin"
	FieldSpecies    = "species"
	FieldAdditional = "additional_attribute"
)

// SpeciesSeparator joins a multi-valued species field.
const SpeciesSeparator = "/"

// Record is one completed output entity.
type Record map[string]any

// Name returns the sort key of the record.
func (r Record) Name() string {
	return textOf(r[FieldName])
}

// Origin returns the origin the record was seeded with.
func (r Record) Origin() string {
	return textOf(r[FieldOrigin])
}

// NormalizeSpecies joins a list-valued species field into a single string.
func (r Record) NormalizeSpecies() {
	list, ok := r[FieldSpecies].([]any)
	if !ok {
		return
	}
	parts := make([]string, 0, len(list))
	for _, v := range list {
		parts = append(parts, textOf(v))
	}
	r[FieldSpecies] = strings.Join(parts, SpeciesSeparator)
}

// Accumulate merges v into dst[key]: the first write is stored as-is, a second
// write turns the value into a two-element list and later writes append.
// Existing lists are copied, never appended to in place.
func Accumulate(dst map[string]any, key string, v any) {
	cur, ok := dst[key]
	if !ok {
		dst[key] = v
		return
	}
	if list, isList := cur.([]any); isList {
		dst[key] = append(slices.Clone(list), v)
		return
	}
	dst[key] = []any{cur, v}
}

// RecordBuilder is a record under construction. One builder belongs to one item
// and may be written by concurrent fetch branches of that item's pipeline.
type RecordBuilder struct {
	mu     sync.Mutex
	fields Record
}

// NewRecordBuilder seeds a record for the given origin.
func NewRecordBuilder(origin string) *RecordBuilder {
	return &RecordBuilder{
		fields: Record{
			FieldName:       "",
			FieldOrigin:     origin,
			FieldAdditional: "",
			FieldSpecies:    "",
		},
	}
}

// Overlay writes every key of values over the record, last write wins.
func (b *RecordBuilder) Overlay(values map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.Copy(b.fields, values)
}

// Get returns the current value of a field.
func (b *RecordBuilder) Get(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.fields[key]
	return v, ok
}

// Freeze returns a copy of the record as it stands.
func (b *RecordBuilder) Freeze() Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.fields)
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
