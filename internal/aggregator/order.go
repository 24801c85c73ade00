package aggregator

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

// SortByName orders records by name ignoring case and accents, comparing digit
// runs numerically ("Character 2" before "Character 10"). Equal names keep
// their input order.
func SortByName(records []ingest.Record) {
	// collate.Collator keeps scratch buffers and is not safe for concurrent use.
	c := collate.New(language.English, collate.IgnoreCase, collate.IgnoreDiacritics, collate.Numeric)
	slices.SortStableFunc(records, func(a, b ingest.Record) int {
		return c.CompareString(a.Name(), b.Name())
	})
}
