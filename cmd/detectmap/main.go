// Command detectmap prints the board detect-code map of the hardware API,
// or serves it over HTTP with the serve subcommand.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/detectmap/internal/config"
	"github.com/Sternrassler/detectmap/internal/server"
	"github.com/Sternrassler/detectmap/pkg/client"
	"github.com/Sternrassler/detectmap/pkg/detectmap"
	"github.com/Sternrassler/detectmap/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr, os.Getenv)
	if err := cmd.ExecuteContext(ctx); err != nil {
		reportFailure(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// reportFailure logs err, or writes it to stderr directly when logging is
// turned down below error level, so a failed run always leaves a diagnostic.
func reportFailure(stderr io.Writer, err error) {
	if zerolog.GlobalLevel() <= zerolog.ErrorLevel {
		log.Error().Err(err).Msg("detectmap failed")
		return
	}
	fmt.Fprintf(stderr, "detectmap: %v\n", err)
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer, getenv func(string) string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "detectmap",
		Short:         "Print the board detect-code map as JSON",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, stderr, getenv)
			if err != nil {
				return err
			}
			defer a.close()

			data, err := a.svc.Render(cmd.Context())
			if err != nil {
				return err
			}

			data = append(data, '\n')
			_, err = stdout.Write(data)
			return err
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (optional)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error|off (overrides LOG_LEVEL)")

	cmd.AddCommand(serveCmd(opts, stderr, getenv))
	return cmd
}

func serveCmd(opts *rootOptions, stderr io.Writer, getenv func(string) string) *cobra.Command {
	var addr string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the detect-code map over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, stderr, getenv)
			if err != nil {
				return err
			}
			defer a.close()

			if addr != "" {
				a.cfg.ListenAddr = addr
			}

			log.Info().
				Str("base_url", a.cfg.BaseURL).
				Str("user_agent", a.cfg.UserAgent).
				Int("max_concurrency", a.cfg.MaxConcurrency).
				Msg("Starting detectmap server")

			return server.Run(cmd.Context(), a.cfg.ListenAddr, server.NewRouter(a.svc.Handler()))
		},
	}

	c.Flags().StringVar(&addr, "addr", "", "Listen address (overrides PORT)")
	return c
}

type app struct {
	cfg    config.Config
	client *client.Client
	svc    *detectmap.Service
}

func newApp(opts *rootOptions, stderr io.Writer, getenv func(string) string) (*app, error) {
	cfg, err := config.Load(opts.configPath, getenv)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logging.Setup(cfg.Logging(stderr))

	apiClient, err := client.New(cfg.Client())
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		client: apiClient,
		svc:    detectmap.NewFromClient(apiClient, cfg.Service(), cfg.Pagination(), cfg.Compose()),
	}, nil
}

func (a *app) close() {
	if err := a.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close API client")
	}
}
