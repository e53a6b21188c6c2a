package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"streamfilter/internal/config"
	"streamfilter/internal/logger"
)

// Base holds what every service process owns: config, logger and the
// resources that must be released on shutdown.
type Base struct {
	Config *config.Config
	Logger logger.Logger

	mu      sync.Mutex
	closers []namedCloser
}

type namedCloser struct {
	name   string
	closer io.Closer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// Track registers c to be closed by Shutdown. Resources are closed in
// reverse registration order.
func (b *Base) Track(name string, c io.Closer) {
	if c == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, namedCloser{name: name, closer: c})
}

func (b *Base) closeAll() []error {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", closers[i].name, err))
		}
	}
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.closeAll()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
