package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zenvox/switchboard/pkg/backend"
	"github.com/zenvox/switchboard/pkg/callog"
	"github.com/zenvox/switchboard/pkg/config"
	"github.com/zenvox/switchboard/pkg/eventbus"
	"github.com/zenvox/switchboard/pkg/retrieval"
	"github.com/zenvox/switchboard/pkg/session"
	"github.com/zenvox/switchboard/pkg/telephony"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Mediates live phone calls between a telephony switch and AI backends",
}

func newServeCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the call session orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(logLevel); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "zerolog level (trace|debug|info|warn|error)")
	return cmd
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func serve(ctx context.Context, cfg *config.Settings) error {
	bus, err := eventbus.New(cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "build event bus")
	}
	defer func() { _ = bus.Close() }()

	deps := session.Deps{
		Bus:         bus,
		Gate:        backend.NewGate(cfg.Backends.MaxConcurrent, cfg.Backends.AdmissionTimeout),
		Generator:   backend.NewChatGenerator(cfg.Backends.GenerationURL, cfg.Backends.GenerationModel, cfg.Backends.GenerationTimeout),
		Synthesizer: backend.NewHTTPSynthesizer(cfg.Backends.SynthesisURL, cfg.Backends.SynthesisTimeout),
	}
	if cfg.Backends.RecognitionURL != "" {
		deps.Recognizer = backend.NewWSRecognizer(cfg.Backends.RecognitionURL, bus)
	}
	if cfg.Retrieval.Enabled {
		deps.Retriever = retrieval.NewHTTPRetriever(cfg.Retrieval.URL, cfg.Retrieval.Collection)
	}
	if cfg.CallLog.Enabled {
		store, err := callog.NewSQLiteStore("file:" + cfg.CallLog.Path + "?_journal_mode=WAL")
		if err != nil {
			return errors.Wrap(err, "open call log")
		}
		defer func() { _ = store.Close() }()
		deps.CallLog = store
	}

	transport := telephony.NewTransport()
	deps.Notifier = transport
	mgr := session.NewManager(ctx, cfg, deps)
	transport.Bind(mgr)
	mgr.StartSweep(ctx)

	mux := http.NewServeMux()
	mux.Handle("/media-stream", transport)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening for media streams")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		mgr.CloseAll(session.CloseShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(newServeCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}
