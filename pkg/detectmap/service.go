// Package detectmap runs complete fetch-compose cycles against the hardware
// API and serves the resulting board detect map as JSON.
package detectmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/detectmap/pkg/client"
	"github.com/Sternrassler/detectmap/pkg/compose"
	"github.com/Sternrassler/detectmap/pkg/hal"
	"github.com/Sternrassler/detectmap/pkg/logging"
	"github.com/Sternrassler/detectmap/pkg/metrics"
	"github.com/Sternrassler/detectmap/pkg/pagination"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	buildsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "detectmap_builds_total",
		Help: "Total fetch-compose cycles by outcome",
	}, []string{"outcome"})

	buildDuration = promauto.With(metrics.Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "detectmap_build_duration_seconds",
		Help:    "Duration of a full fetch-compose cycle in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// BoardFetcher walks the boards collection.
type BoardFetcher interface {
	FetchAll(ctx context.Context, startPath string) ([]hal.Board, error)
}

// RecordComposer turns boards into composed records.
type RecordComposer interface {
	Compose(ctx context.Context, boards []hal.Board) ([]compose.Record, error)
}

// Config holds service configuration.
type Config struct {
	// StartPath is the first page of the embedded boards collection
	StartPath string
}

// DefaultConfig returns the configuration for the public boards collection.
func DefaultConfig() Config {
	return Config{StartPath: pagination.DefaultStartPath}
}

// Service composes the detect map.
type Service struct {
	fetcher  BoardFetcher
	composer RecordComposer
	config   Config
	logger   zerolog.Logger
}

// New creates a service from its two stages.
func New(fetcher BoardFetcher, composer RecordComposer, cfg Config) *Service {
	if cfg.StartPath == "" {
		cfg.StartPath = pagination.DefaultStartPath
	}

	return &Service{
		fetcher:  fetcher,
		composer: composer,
		config:   cfg,
		logger:   logging.NewLogger("detectmap"),
	}
}

// NewFromClient wires the default fetcher and composer around an API client.
func NewFromClient(apiClient *client.Client, cfg Config, pageCfg pagination.Config, composeCfg compose.Config) *Service {
	fetcher := pagination.NewFetcher(apiClient, pageCfg)
	composer := compose.NewComposer(apiClient, apiClient.Links(), composeCfg)
	return New(fetcher, composer, cfg)
}

// Build runs one fetch-compose cycle. It returns a non-nil slice on success.
func (s *Service) Build(ctx context.Context) ([]compose.Record, error) {
	start := time.Now()
	logger := s.runLogger(ctx, uuid.NewString())
	ctx = logger.WithContext(ctx)

	logger.Info().Str("start_path", s.config.StartPath).Msg("Building detect map")

	records, err := s.build(ctx)
	buildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		buildsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Detect map build failed")
		return nil, err
	}

	buildsTotal.WithLabelValues("success").Inc()
	logger.Info().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Detect map built")

	return records, nil
}

// runLogger tags the logger already carried by ctx (for example one holding a
// request ID) with the run ID. Without one it falls back to the service logger.
func (s *Service) runLogger(ctx context.Context, runID string) zerolog.Logger {
	parent := zerolog.Ctx(ctx)
	if parent.GetLevel() == zerolog.Disabled {
		return s.logger.With().Str("run_id", runID).Logger()
	}
	return parent.With().Str("component", "detectmap").Str("run_id", runID).Logger()
}

func (s *Service) build(ctx context.Context) ([]compose.Record, error) {
	boards, err := s.fetcher.FetchAll(ctx, s.config.StartPath)
	if err != nil {
		return nil, fmt.Errorf("fetch boards: %w", err)
	}

	records, err := s.composer.Compose(ctx, boards)
	if err != nil {
		return nil, fmt.Errorf("compose boards: %w", err)
	}

	if records == nil {
		records = []compose.Record{}
	}
	return records, nil
}

// Render runs one cycle and returns the JSON-encoded record list.
func (s *Service) Render(ctx context.Context) ([]byte, error) {
	records, err := s.Build(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode detect map: %w", err)
	}
	return data, nil
}

// Handler returns an http.Handler that runs one cycle per request, whatever
// the method, path or body.
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := s.Render(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("detect map build failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}
