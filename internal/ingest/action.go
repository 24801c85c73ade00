package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is one step of a pipeline. The set of variants is closed: GetValue and Fetch.
type Action interface {
	action()
}

// Pipeline is an ordered list of actions applied to one payload.
type Pipeline []Action

// GetValue copies values out of the current payload into the record. It performs no I/O.
type GetValue struct {
	Fields []FieldMapping
}

// Fetch dereferences the link(s) at URLPath and applies Pipeline to every fetched body.
type Fetch struct {
	URLPath  string
	Pipeline Pipeline
}

func (GetValue) action() {}
func (Fetch) action()    {}

// Action tags used in the rule document.
const (
	ActGetValue = "GET_VALUE"
	ActFetch    = "FETCH"
)

type wireAction struct {
	Act      string         `json:"act"`
	Fields   []FieldMapping `json:"fields,omitempty"`
	URL      string         `json:"url,omitempty"`
	Pipeline Pipeline       `json:"pipeline,omitempty"`
}

// UnmarshalJSON decodes the tagged action list of the rule document.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var raw []wireAction
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode pipeline: %w", err)
	}
	out := make(Pipeline, 0, len(raw))
	for i, w := range raw {
		switch strings.ToUpper(strings.TrimSpace(w.Act)) {
		case ActGetValue:
			out = append(out, GetValue{Fields: w.Fields})
		case ActFetch:
			out = append(out, Fetch{URLPath: w.URL, Pipeline: w.Pipeline})
		default:
			return fmt.Errorf("pipeline action %d: unknown act %q", i, w.Act)
		}
	}
	*p = out
	return nil
}

// MarshalJSON encodes the pipeline back into the rule document shape.
func (p Pipeline) MarshalJSON() ([]byte, error) {
	raw := make([]wireAction, 0, len(p))
	for _, a := range p {
		switch v := a.(type) {
		case GetValue:
			raw = append(raw, wireAction{Act: ActGetValue, Fields: v.Fields})
		case Fetch:
			raw = append(raw, wireAction{Act: ActFetch, URL: v.URLPath, Pipeline: v.Pipeline})
		default:
			return nil, fmt.Errorf("unsupported action %T", a)
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return data, nil
}
