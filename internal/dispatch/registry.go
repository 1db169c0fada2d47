package dispatch

import (
	"context"
	"sort"
)

// Handler executes one action type.
type Handler interface {
	Type() string
	Description() string
	Handle(ctx context.Context, t *Turn, params Params) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Name string
	Desc string
	Fn   func(ctx context.Context, t *Turn, params Params) (Result, error)
}

func (h HandlerFunc) Type() string        { return h.Name }
func (h HandlerFunc) Description() string { return h.Desc }

func (h HandlerFunc) Handle(ctx context.Context, t *Turn, params Params) (Result, error) {
	return h.Fn(ctx, t, params)
}

// Registry manages the set of available handlers.
type Registry struct {
	Handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		Handlers: make(map[string]Handler),
	}
}

func (r *Registry) Register(h Handler) {
	r.Handlers[h.Type()] = h
}

func (r *Registry) Get(name string) Handler {
	return r.Handlers[name]
}

// Types lists the registered action types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.Handlers))
	for name := range r.Handlers {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
