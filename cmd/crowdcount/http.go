package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"crowdcount/internal/api"
	"crowdcount/internal/middleware"
)

// handleHTTPServer starts the HTTP server on addr. It shuts the server down
// when ctx is cancelled and reports listen errors on errc.
func handleHTTPServer(ctx context.Context, addr string, server *api.Server, validator middleware.TokenValidator, wg *sync.WaitGroup, errc chan error, logger *zap.Logger) {
	log := logger.Named("http").Sugar()

	// Streaming responses stay open, so there is no write timeout.
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(validator, logger),
		ReadHeaderTimeout: 60 * time.Second,
	}
	for _, m := range server.Mounts {
		log.Debugf("HTTP mounted on %s %s", m.Verb, m.Pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Infof("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errc <- err:
				default:
				}
			}
		}()

		<-ctx.Done()
		log.Infof("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("failed to shutdown: %v", err)
		}
	}()
}
