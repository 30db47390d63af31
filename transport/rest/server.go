package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Server struct {
	logger      *slog.Logger
	handler     http.Handler
	pollTimeout time.Duration
}

func New(logger *slog.Logger, manager RoomManager, pollTimeout time.Duration) *Server {
	return &Server{
		logger:      logger,
		handler:     NewRouter(logger, manager),
		pollTimeout: pollTimeout,
	}
}

func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     that.handler,
		ReadTimeout: 10 * time.Second,
		// long-polls must finish inside the write timeout
		WriteTimeout: that.pollTimeout + 10*time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}

		return nil
	}
}
