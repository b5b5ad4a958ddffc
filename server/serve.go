package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ShutdownTimeout bounds how long Serve waits for in-flight requests.
const ShutdownTimeout = 10 * time.Second

// NewHTTPServer wraps handler in an http.Server listening on addr.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully. It
// returns nil after a clean shutdown.
func Serve(ctx context.Context, logger *slog.Logger, srv *http.Server, logArgs ...any) error {
	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Server listening", append([]any{"addr", srv.Addr}, logArgs...)...)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down server", "addr", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
