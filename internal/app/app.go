package app

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	transporthttp "github.com/vovakirdan/wirerelay/internal/transport/http"
	"github.com/vovakirdan/wirerelay/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	relay           *tcp.Server
	admin           *stdhttp.Server
	registry        *core.Registry
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	registry := core.NewRegistry(
		core.WithRegistryLogger(logger),
		core.WithEscaping(cfg.EscapeMessages),
	)

	a := &App{
		relay:           tcp.NewServer(registry, cfg, logger),
		registry:        registry,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
	if cfg.AdminAddr != "" {
		a.admin = transporthttp.NewAdminServer(registry, cfg, logger)
	}
	return a, nil
}

// Registry returns the shared connection registry.
func (a *App) Registry() *core.Registry {
	return a.registry
}

// RelayAddr returns the bound relay address once Run is listening, or nil.
func (a *App) RelayAddr() net.Addr {
	return a.relay.Addr()
}

// Run starts the relay (and admin server, if configured) and blocks until
// context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.relay.ListenAndServe(gctx)
		if errors.Is(err, tcp.ErrServerClosed) {
			return nil
		}
		return err
	})

	if a.admin != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.admin.Addr).Msg("admin listening")
			if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down relay")
		var errs []error
		if err := a.relay.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if a.admin != nil {
			if err := a.admin.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
