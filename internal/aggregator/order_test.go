package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

func TestSortByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "numeric aware",
			in:   []string{"Character 10", "Character 2", "Character 1"},
			want: []string{"Character 1", "Character 2", "Character 10"},
		},
		{
			name: "case insensitive",
			in:   []string{"beta", "Alpha", "gamma", "Delta"},
			want: []string{"Alpha", "beta", "Delta", "gamma"},
		},
		{
			name: "accent insensitive",
			in:   []string{"Zed", "Éowyn", "Eomer"},
			want: []string{"Eomer", "Éowyn", "Zed"},
		},
		{
			name: "empty names first",
			in:   []string{"b", "", "a"},
			want: []string{"", "a", "b"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			records := make([]ingest.Record, 0, len(tc.in))
			for _, n := range tc.in {
				records = append(records, ingest.Record{"name": n})
			}
			SortByName(records)
			assert.Equal(t, tc.want, names(records))
		})
	}
}

func TestSortByNameIsStable(t *testing.T) {
	t.Parallel()

	records := []ingest.Record{
		{"name": "Rick", "origin": "first"},
		{"name": "Abe", "origin": "x"},
		{"name": "rick", "origin": "second"},
		{"name": "RICK", "origin": "third"},
	}
	SortByName(records)

	origins := make([]string, 0, len(records))
	for _, r := range records {
		origins = append(origins, r.Origin())
	}
	assert.Equal(t, []string{"x", "first", "second", "third"}, origins)
}
