package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"pulseboard/internal/record/domain"
)

// JSONSource reads a feed of items: a JSON array of objects, or an object holding the array
// under "items". Each object becomes one raw item as-is.
type JSONSource struct {
	name   string
	kind   domain.Kind
	target string
	loader Loader
}

// NewJSONSource returns a feed source of kind.
func NewJSONSource(name string, kind domain.Kind, target string, loader Loader) (*JSONSource, error) {
	if name == "" {
		return nil, errors.New("source name is empty")
	}
	k, ok := domain.ParseKind(string(kind))
	if !ok {
		return nil, fmt.Errorf("source %s: kind %q is not a record kind", name, kind)
	}
	if loader == nil {
		return nil, fmt.Errorf("source %s: loader is nil", name)
	}
	return &JSONSource{name: name, kind: k, target: target, loader: loader}, nil
}

func (s *JSONSource) Name() string      { return s.name }
func (s *JSONSource) Kind() domain.Kind { return s.kind }

func (s *JSONSource) Fetch(ctx context.Context) (iter.Seq2[RawItem, error], error) {
	page, err := s.loader.Load(ctx, s.target)
	if err != nil {
		return nil, &UnavailableError{Source: s.name, Err: err}
	}
	elems, err := feedElements(page.Body)
	if err != nil {
		return nil, &UnavailableError{Source: s.name, Err: err}
	}

	var used atomic.Bool
	return func(yield func(RawItem, error) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		for i, raw := range elems {
			if ctx.Err() != nil {
				return
			}
			item, err := decodeItem(raw)
			if err != nil {
				if !yield(nil, &ItemError{Source: s.name, Index: i, Err: err}) {
					return
				}
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
	}, nil
}

func feedElements(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty feed")
	}
	var elems []json.RawMessage
	if body[0] == '{' {
		var wrapper struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("decode feed: %w", err)
		}
		return wrapper.Items, nil
	}
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return elems, nil
}

// decodeItem keeps numbers as json.Number so their literal text survives.
// A nested "data" object keeps its key order.
func decodeItem(raw json.RawMessage) (RawItem, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	if m == nil {
		return nil, errors.New("item is null")
	}
	// Maps lose key order; re-read the payload as an ordered object.
	if _, ok := m["data"].(map[string]any); ok {
		var ordered struct {
			Data domain.Object `json:"data"`
		}
		if err := json.Unmarshal(raw, &ordered); err == nil {
			m["data"] = ordered.Data
		}
	}
	return RawItem(m), nil
}
