// Package source defines the adapter contract for scrape sources and ships a profile-driven
// HTML adapter with file, HTTP and browser page loaders.
package source

import (
	"context"
	"fmt"
	"iter"
	"time"

	"pulseboard/internal/record/domain"
)

// RawItem is one scraped item: a loose map of field name to value, not yet normalized.
type RawItem map[string]any

// Source is one external origin of records.
//
// Fetch returns a finite sequence of items. The sequence is single-use: ranging over it a
// second time yields nothing. A failed item is yielded as (nil, *ItemError) and iteration
// continues. When the origin cannot be reached at all Fetch returns a *UnavailableError.
type Source interface {
	// Name is the source id; it is also the default record source.
	Name() string
	// Kind is the record variant the items normalize to.
	Kind() domain.Kind
	Fetch(ctx context.Context) (iter.Seq2[RawItem, error], error)
}

// Located is implemented by sources whose dates and times are read in a specific zone.
type Located interface {
	Location() *time.Location
}

// ItemError reports a single item that could not be extracted.
type ItemError struct {
	Source string
	Index  int
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("source %s: item %d: %v", e.Source, e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// UnavailableError reports that a source could not be reached or loaded.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
