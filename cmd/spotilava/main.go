// ABOUTME: Main entry point for the spotilava server
// ABOUTME: Loads config, logs providers in, serves the listen routes

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noaione/spotilava/internal/application/config"
	"github.com/noaione/spotilava/internal/application/manager"
	"github.com/noaione/spotilava/internal/infrastructure/httpserve"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The stock binary links no Spotify session protocol; builds that
	// carry one pass their dialer here.
	mgr, err := manager.New(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	defer mgr.Close()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start providers: %w", err)
	}

	server := httpserve.New(mgr.ServerConfig())

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     server.Handler(),
		ReadTimeout: 15 * time.Second,
		// Write and idle timeouts stay zero; audio bodies outlive any
		// sane fixed deadline.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	log.Info().Msg("shutdown complete")
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
