package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BerjisTech/kra-connect-go/internal/config"
	"github.com/BerjisTech/kra-connect-go/pkg/client"
	"github.com/BerjisTech/kra-connect-go/pkg/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := launchServer(); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	logger := logging.Setup(cfg.Logging())

	kra, err := client.New(cfg.Client(), client.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("client configuration failed: %w", err)
	}
	defer kra.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Proxy.Port),
		Handler:           configureRoutes(kra),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("base_url", cfg.API.BaseURL).
			Str("rate_limit_algorithm", cfg.RateLimit.Algorithm).
			Msg("starting KRA proxy server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down KRA proxy server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Proxy.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info().Msg("KRA proxy server stopped")
	return nil
}
