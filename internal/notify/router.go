// Package notify routes server-pushed notifications to handlers.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Handler reacts to one notification.
type Handler func(ctx context.Context, n kodi.Notification)

// Router maps notification methods to handlers. The table is fixed at construction.
type Router struct {
	log      *zap.Logger
	handlers map[string]Handler
	wg       sync.WaitGroup
}

// NewRouter copies handlers into a new router.
func NewRouter(log *zap.Logger, handlers map[string]Handler) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	table := make(map[string]Handler, len(handlers))
	for method, h := range handlers {
		if h != nil {
			table[method] = h
		}
	}
	return &Router{log: log, handlers: table}
}

// Handles reports whether method has a handler.
func (r *Router) Handles(method string) bool {
	_, ok := r.handlers[method]
	return ok
}

// Dispatch runs the handler for n in its own goroutine. Unknown methods are dropped.
func (r *Router) Dispatch(ctx context.Context, n kodi.Notification) {
	h, ok := r.handlers[n.Method]
	if !ok {
		r.log.Debug("unhandled notification", zap.String("method", n.Method), zap.Stringer("kind", n.Kind))
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		h(ctx, n)
	}()
}

// Wait blocks until in-flight handlers return.
func (r *Router) Wait() {
	r.wg.Wait()
}
