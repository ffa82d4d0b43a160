package analysis

import (
	"sort"

	"support-inbox-ai/internal/domain"
)

// Registry maps kinds to handlers. It is immutable after construction.
type Registry struct {
	handlers map[domain.Kind]Handler
}

// NewRegistry indexes handlers by Kind. When two handlers share a kind the
// later one wins; callers should register exactly one per kind.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[domain.Kind]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		r.handlers[h.Kind()] = h
	}
	return r
}

func (r *Registry) Lookup(kind domain.Kind) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists registered kinds in lexical order.
func (r *Registry) Kinds() []domain.Kind {
	if r == nil {
		return nil
	}
	out := make([]domain.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
