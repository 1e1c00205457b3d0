package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"loom/internal/engine"
	"loom/internal/logging"
)

// Daemon binds the engine to the HTTP listener and owns the server lifecycle.
type Daemon struct {
	addr     string
	token    string
	version  string
	registry *engine.Registry
	resolver *engine.WorldlineResolver
	logger   logging.Logger
	server   *http.Server
}

func New(addr, token, version string, registry *engine.Registry, resolver *engine.WorldlineResolver, logger logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Daemon{
		addr:     addr,
		token:    token,
		version:  version,
		registry: registry,
		resolver: resolver,
		logger:   logger,
	}
}

// Run serves until the context is cancelled or a shutdown is requested over
// the API. In-flight agent runs are interrupted before the listener closes.
func (d *Daemon) Run(ctx context.Context) error {
	api := &API{
		Version:  d.version,
		Registry: d.registry,
		Resolver: d.resolver,
		Logger:   d.logger,
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := LoggingMiddleware(d.logger, TokenAuthMiddleware(d.token, mux))
	d.server = &http.Server{
		Addr:    d.addr,
		Handler: handler,
	}
	api.Shutdown = d.server.Shutdown

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon_listening", logging.F("addr", d.addr))
		errCh <- d.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		d.registry.InterruptAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		d.registry.InterruptAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
