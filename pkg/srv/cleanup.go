package srv

import "context"

type cleanupService struct {
	cleanup func() error
}

func (c *cleanupService) Start(ctx context.Context) error {
	return nil
}

func (c *cleanupService) Shutdown(ctx context.Context) error {
	if c.cleanup != nil {
		return c.cleanup()
	}
	return nil
}

// NewCleanup wraps a close function as a Service with a no-op Start.
func NewCleanup(fn func() error) Service {
	return &cleanupService{cleanup: fn}
}

type drainService struct {
	drain func(ctx context.Context) error
}

func (d *drainService) Start(ctx context.Context) error {
	return nil
}

func (d *drainService) Shutdown(ctx context.Context) error {
	return d.drain(ctx)
}

// NewDrain wraps a context-aware shutdown function, e.g. waiting for background work.
func NewDrain(fn func(ctx context.Context) error) Service {
	return &drainService{drain: fn}
}
