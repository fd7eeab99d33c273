package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent readers of one root. A writer takes the
// whole weight.
const maxReaders = 1 << 20

// Registry hands out one semaphore per catalog root.
type Registry struct {
	mu    sync.Mutex
	roots map[string]*semaphore.Weighted
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{roots: make(map[string]*semaphore.Weighted)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) sem(root string) *semaphore.Weighted {
	key := filepath.Clean(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.roots[key]
	if !ok {
		s = semaphore.NewWeighted(maxReaders)
		r.roots[key] = s
	}
	return s
}

// RLock takes a shared lock on root. The returned func releases it.
func (r *Registry) RLock(ctx context.Context, root string) (func(), error) {
	s := r.sem(root)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.Release(1) }, nil
}

// Lock takes the exclusive in-process lock on root and then the lock file
// in lockDir. The returned func releases both.
func (r *Registry) Lock(ctx context.Context, root, lockDir, op string) (func() error, error) {
	s := r.sem(root)
	if err := s.Acquire(ctx, maxReaders); err != nil {
		return nil, err
	}

	fl, err := NewFileLock(lockDir)
	if err != nil {
		s.Release(maxReaders)
		return nil, err
	}
	if err := fl.AcquireContext(ctx, op); err != nil {
		s.Release(maxReaders)
		return nil, fmt.Errorf("failed to lock %s: %w", root, err)
	}

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			err = fl.Release()
			s.Release(maxReaders)
		})
		return err
	}, nil
}
