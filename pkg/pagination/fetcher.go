package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/detectmap/pkg/hal"
	"github.com/Sternrassler/detectmap/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultStartPath is the embedded boards collection.
const DefaultStartPath = "/boards/?embed"

// ErrTooManyPages is returned when a collection exceeds Config.MaxPages.
var ErrTooManyPages = errors.New("too many pages")

var pagesFetchedTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
	Name: "detectmap_pages_fetched_total",
	Help: "Total collection pages fetched",
})

// Config holds fetcher configuration
type Config struct {
	// MaxPages aborts pagination after this many pages (0 = unbounded)
	MaxPages int
}

// DefaultConfig returns an unbounded configuration
func DefaultConfig() Config {
	return Config{MaxPages: 0}
}

// PageGetter is the interface the API client must implement for page fetching
type PageGetter interface {
	// GetJSON fetches href and decodes the JSON body into v
	GetJSON(ctx context.Context, href string, v any) error
}

// Fetcher walks a HAL collection by following next links
type Fetcher struct {
	getter PageGetter
	config Config
}

// NewFetcher creates a new fetcher
func NewFetcher(getter PageGetter, config Config) *Fetcher {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}

	return &Fetcher{
		getter: getter,
		config: config,
	}
}

// FetchAll fetches every page starting at startPath and returns all embedded
// items in page order, then in order within each page. Any error aborts the
// walk and no items are returned.
func (f *Fetcher) FetchAll(ctx context.Context, startPath string) ([]hal.Board, error) {
	start := time.Now()
	logger := zerolog.Ctx(ctx)

	var items []hal.Board
	pages := 0

	for next := startPath; next != ""; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if f.config.MaxPages > 0 && pages >= f.config.MaxPages {
			return nil, fmt.Errorf("%w: limit %d reached before %s", ErrTooManyPages, f.config.MaxPages, next)
		}

		var page hal.Page
		if err := f.getter.GetJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++
		pagesFetchedTotal.Inc()

		items = append(items, page.Embedded.Items...)

		logger.Debug().
			Str("path", next).
			Int("page", pages).
			Int("page_items", len(page.Embedded.Items)).
			Int("total_items", len(items)).
			Msg("Fetched page")

		next = page.Next()
	}

	logger.Info().
		Str("start_path", startPath).
		Int("pages", pages).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return items, nil
}
