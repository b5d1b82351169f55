package session

import (
	"context"
	"log/slog"
	"sync"
)

// Registry tracks the live views of one runtime instance.
type Registry struct {
	opts Options

	mu    sync.RWMutex
	views map[string]*View
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		views: make(map[string]*View),
	}
}

// Mount starts a new view of attemptID. Mounting the same attempt twice
// yields two independent views.
func (r *Registry) Mount(ctx context.Context, attemptID string) (*View, error) {
	v, err := Mount(ctx, attemptID, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.views[v.ID()] = v
	r.mu.Unlock()
	return v, nil
}

func (r *Registry) Get(viewID string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[viewID]
	if !ok {
		return nil, ErrViewNotFound
	}
	return v, nil
}

// Dispose tears down a view and forgets it.
func (r *Registry) Dispose(viewID string) error {
	r.mu.Lock()
	v, ok := r.views[viewID]
	delete(r.views, viewID)
	r.mu.Unlock()

	if !ok {
		return ErrViewNotFound
	}
	v.Dispose()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Close disposes every live view.
func (r *Registry) Close() {
	r.mu.Lock()
	views := make([]*View, 0, len(r.views))
	for id, v := range r.views {
		views = append(views, v)
		delete(r.views, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, v := range views {
		wg.Add(1)
		go func(v *View) {
			defer wg.Done()
			v.Dispose()
		}(v)
	}
	wg.Wait()

	if len(views) > 0 {
		r.opts.Logger.Info("Disposed live views", slog.Int("count", len(views)))
	}
}
