// Package serverutil runs an http.Server with graceful shutdown wired to
// a context.
package serverutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config describes one listener.
type Config struct {
	Addr    string
	Handler http.Handler
	Logger  *slog.Logger

	TLSCertFile string
	TLSKeyFile  string

	ShutdownTimeout time.Duration

	// Ready, when non-nil, receives the bound address once the listener
	// is accepting connections. Tests use it to learn the random port.
	Ready chan<- string
}

// Run serves until ctx is cancelled and then drains in-flight requests.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Handler == nil {
		return errors.New("serverutil: handler required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           cfg.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" || cfg.TLSKeyFile != ""
	if useTLS && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		listener.Close()
		return errors.New("serverutil: tls requires both a certificate and key")
	}

	if cfg.Ready != nil {
		cfg.Ready <- listener.Addr().String()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			slog.String("addr", listener.Addr().String()),
			slog.Bool("tls", useTLS))
		if useTLS {
			serveErr <- httpServer.ServeTLS(listener, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			serveErr <- httpServer.Serve(listener)
		}
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("http server stopped")
	return nil
}
