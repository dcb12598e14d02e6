package compose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/detectmap/pkg/hal"
	"github.com/Sternrassler/detectmap/pkg/links"
	"github.com/Sternrassler/detectmap/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var devicesFetchedTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
	Name: "detectmap_devices_fetched_total",
	Help: "Total device resources fetched while composing records",
})

// Config holds composer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel device fetches (1 = sequential)
	MaxConcurrency int

	// Relation is the board link relation naming its devices; it is also the
	// link key of each device summary
	Relation string

	// RecordRelation is the link key under which a record's own link is emitted
	RecordRelation string
}

// DefaultConfig returns the configuration for the boards → devices association
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Relation:       "device",
		RecordRelation: "board",
	}
}

// Getter is the interface the API client must implement for detail lookups
type Getter interface {
	GetJSON(ctx context.Context, href string, v any) error
}

// Composer resolves device links and assembles records
type Composer struct {
	getter Getter
	links  *links.Absolutizer
	config Config
}

// NewComposer creates a new composer. Output links are made absolute with absolutizer.
func NewComposer(getter Getter, absolutizer *links.Absolutizer, config Config) *Composer {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Relation == "" {
		config.Relation = defaults.Relation
	}
	if config.RecordRelation == "" {
		config.RecordRelation = defaults.RecordRelation
	}

	return &Composer{
		getter: getter,
		links:  absolutizer,
		config: config,
	}
}

// deviceJob addresses one device slot of one record
type deviceJob struct {
	record int
	slot   int
	href   string
}

// Compose turns boards into records. Boards without a detect code are
// skipped; the order of the remaining boards and of each board's device
// links is preserved. The first error aborts the whole composition.
func (c *Composer) Compose(ctx context.Context, boards []hal.Board) ([]Record, error) {
	start := time.Now()

	records := make([]Record, 0, len(boards))
	var jobs []deviceJob

	for i := range boards {
		board := &boards[i]
		if !board.HasDetectCode() {
			continue
		}
		if err := board.Validate(); err != nil {
			return nil, err
		}

		boardHref, err := c.links.Absolute(board.SelfHref())
		if err != nil {
			return nil, fmt.Errorf("board %q: %w", hal.Text(board.Title), err)
		}

		deviceLinks := board.Related(c.config.Relation)
		for slot, link := range deviceLinks {
			jobs = append(jobs, deviceJob{record: len(records), slot: slot, href: link.Href})
		}

		records = append(records, Record{
			Title:      board.Title,
			DetectCode: board.DetectCode,
			Devices:    make([]DeviceSummary, len(deviceLinks)),
			Links:      map[string]Link{c.config.RecordRelation: {Href: boardHref}},
		})
	}

	if err := c.resolveDevices(ctx, records, jobs); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Int("boards", len(boards)).
		Int("records", len(records)).
		Int("devices", len(jobs)).
		Dur("duration", time.Since(start)).
		Msg("Compose complete")

	return records, nil
}

// resolveDevices fetches every job using a bounded worker pool. Each job
// writes only its own slot, so output order never depends on completion order.
func (c *Composer) resolveDevices(ctx context.Context, records []Record, jobs []deviceJob) error {
	if len(jobs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	jobQueue := make(chan deviceJob)
	go func() {
		defer close(jobQueue)
		for _, job := range jobs {
			select {
			case jobQueue <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	workers := c.config.MaxConcurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go c.worker(ctx, jobQueue, records, fail, &wg, i)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	// The parent context may have been cancelled without any job failing.
	return ctx.Err()
}

// worker processes device jobs from the queue
func (c *Composer) worker(ctx context.Context, jobQueue <-chan deviceJob, records []Record, fail func(error), wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	logger := zerolog.Ctx(ctx).With().Int("worker_id", workerID).Logger()
	processed := 0

	for job := range jobQueue {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}

		summary, err := c.fetchDevice(ctx, job.href)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("href", job.href).
				Msg("Device fetch failed")
			fail(err)
			return
		}

		records[job.record].Devices[job.slot] = summary
		processed++
	}

	logger.Debug().
		Int("devices_processed", processed).
		Msg("Worker completed")
}

// fetchDevice fetches one device and summarizes it.
func (c *Composer) fetchDevice(ctx context.Context, href string) (DeviceSummary, error) {
	var device hal.Device
	if err := c.getter.GetJSON(ctx, href, &device); err != nil {
		return DeviceSummary{}, err
	}
	devicesFetchedTotal.Inc()

	if err := device.Validate(href); err != nil {
		return DeviceSummary{}, err
	}

	deviceHref, err := c.links.Absolute(device.SelfHref())
	if err != nil {
		return DeviceSummary{}, fmt.Errorf("device %s: %w", href, err)
	}

	return DeviceSummary{
		Title:        device.Title,
		SourcePackID: device.SourcePackID,
		Links:        map[string]Link{c.config.Relation: {Href: deviceHref}},
	}, nil
}
