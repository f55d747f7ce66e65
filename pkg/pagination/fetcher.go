package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrTooManyPages is returned when a fetch exceeds the page budget.
	ErrTooManyPages = errors.New("page budget exceeded")

	// ErrCursorRepeated is returned when the remote hands back the cursor
	// it was just given, which would otherwise loop forever.
	ErrCursorRepeated = errors.New("pagination cursor repeated")
)

// DefaultMaxPages bounds a single full-collection fetch.
const DefaultMaxPages = 1000

// Config holds fetcher configuration.
type Config struct {
	// MaxPages aborts the fetch when exceeded. Defaults to DefaultMaxPages.
	MaxPages int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{MaxPages: DefaultMaxPages}
}

// ListFunc fetches a single page. An empty after means the first page;
// an empty returned cursor means the collection is exhausted.
type ListFunc[T any] func(ctx context.Context, after string) (items []T, nextAfter string, err error)

// FetchAll walks every page of a collection and returns the concatenated
// items. Termination: absent next cursor, or an empty page. A repeated
// cursor or an exceeded page budget aborts with an error rather than
// returning a silently truncated collection.
func FetchAll[T any](ctx context.Context, list ListFunc[T], cfg Config) ([]T, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	start := time.Now()
	var all []T
	var after string
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pages >= cfg.MaxPages {
			return nil, fmt.Errorf("%w: fetched %d pages", ErrTooManyPages, pages)
		}

		items, next, err := list(ctx, after)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++
		all = append(all, items...)

		if next == "" || len(items) == 0 {
			break
		}
		if next == after {
			return nil, fmt.Errorf("%w: %q", ErrCursorRepeated, next)
		}
		after = next
	}

	log.Debug().
		Int("pages", pages).
		Int("items", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Collection fetch complete")

	return all, nil
}
