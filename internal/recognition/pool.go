package recognition

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// EngineFactory builds one ready-to-use engine handle. The pool calls it
// once per slot during startup.
type EngineFactory func(ctx context.Context) (extraction.Engine, error)

// Pool holds a fixed set of engine handles in a bounded channel. Borrowers
// block until a handle is free, so at most Size recognitions run at once.
// Handles are started eagerly; a single failed start aborts the pool so a
// misconfigured engine surfaces before the first batch, not in the middle
// of one.
type Pool struct {
	handles chan extraction.Engine
	size    int
	logger  *zap.Logger

	closeMu sync.Mutex
	closed  bool
}

// NewPool starts size engines via the factory and parks them in the pool.
// On any startup failure the already-started engines are closed and the
// error is returned.
func NewPool(ctx context.Context, factory EngineFactory, size int, logger *zap.Logger) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("recognition pool: nil engine factory")
	}
	if size <= 0 {
		return nil, fmt.Errorf("recognition pool: size must be positive, got %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		handles: make(chan extraction.Engine, size),
		size:    size,
		logger:  logger.Named("recognition_pool"),
	}
	for i := 0; i < size; i++ {
		engine, err := factory(ctx)
		if err != nil {
			p.closeStarted(ctx)
			return nil, fmt.Errorf("start engine %d of %d: %w", i+1, size, err)
		}
		p.handles <- engine
	}
	p.logger.Info("engine pool ready", zap.Int("size", size))
	return p, nil
}

// Size reports the number of handles the pool was started with.
func (p *Pool) Size() int {
	return p.size
}

// Acquire borrows a handle, blocking until one is free or the context ends.
// Every successful Acquire must be paired with Release.
func (p *Pool) Acquire(ctx context.Context) (extraction.Engine, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire engine: %w", ctx.Err())
	case engine, ok := <-p.handles:
		if !ok {
			return nil, extraction.ErrPoolClosed
		}
		return engine, nil
	}
}

// Release returns a borrowed handle. If the pool closed while the handle
// was out, the handle is shut down instead of being parked.
func (p *Pool) Release(engine extraction.Engine) {
	if engine == nil {
		return
	}
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		if err := engine.Close(context.Background()); err != nil {
			p.logger.Warn("close returned engine", zap.Error(err))
		}
		return
	}
	p.handles <- engine
}

// Close shuts down all parked handles and rejects further borrows. Handles
// still out on loan are shut down when their borrower releases them.
func (p *Pool) Close(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.handles)
	p.closeMu.Unlock()

	var firstErr error
	for engine := range p.handles {
		if err := engine.Close(ctx); err != nil {
			p.logger.Warn("close pooled engine", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Pool) closeStarted(ctx context.Context) {
	close(p.handles)
	for engine := range p.handles {
		if err := engine.Close(ctx); err != nil {
			p.logger.Warn("close engine after failed startup", zap.Error(err))
		}
	}
}
