package pipeline

import (
	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/pathexpr"
)

// Extract resolves every mapping against payload. Mappings that target the
// same field accumulate in mapping order; absent values are skipped.
func Extract(payload any, fields []ingest.FieldMapping) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := pathexpr.Resolve(payload, f.ExternalField)
		if !ok {
			continue
		}
		ingest.Accumulate(out, f.Field, v)
	}
	return out
}
