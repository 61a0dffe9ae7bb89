// Package bootstrap wires the btslice components together.
package bootstrap

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/dig"

	"github.com/dacapoday/btslice/internal/client"
	"github.com/dacapoday/btslice/internal/config"
	"github.com/dacapoday/btslice/internal/server"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/store"
)

// Container returns a container providing the configuration, logger,
// scheduler, store, server and client built from cfg.
func Container(cfg config.Config) (*dig.Container, error) {
	container := dig.New()
	constructors := []any{
		func() config.Config { return cfg },
		logger,
		scheduler,
		openStore,
		newServer,
		newClient,
	}
	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return nil, errors.Wrap(err, "provide")
		}
	}
	return container, nil
}

// Invoke builds a container from cfg and calls fn with its dependencies.
func Invoke(cfg config.Config, fn any) error {
	container, err := Container(cfg)
	if err != nil {
		return err
	}
	return dig.RootCause(container.Invoke(fn))
}

func logger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

func scheduler(cfg config.Config) *sched.Scheduler {
	return sched.New(cfg.Contexts)
}

func openStore(cfg config.Config, s *sched.Scheduler, log *slog.Logger) (*store.Store, error) {
	return store.Open(s, cfg.Store(log))
}

func newServer(cfg config.Config, st *store.Store, log *slog.Logger) *server.Server {
	return server.New(cfg.Addr, st, log)
}

func newClient(cfg config.Config) *client.Client {
	url := cfg.Addr
	if len(url) > 0 && url[0] == ':' {
		url = "localhost" + url
	}
	return client.New("http://" + url)
}
