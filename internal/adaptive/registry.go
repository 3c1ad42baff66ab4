package adaptive

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// EvaluatorSource enumerates the active evaluators.
type EvaluatorSource interface {
	Evaluators() []Evaluator
}

// ProviderSource enumerates the active context providers.
type ProviderSource interface {
	Providers() []ContextProvider
}

// Registry maps capability tags to evaluator instances and keeps the ordered
// provider list. It is populated at startup and frozen before serving; after
// Freeze registration fails.
type Registry struct {
	mu        sync.RWMutex
	frozen    bool
	byType    map[string][]Evaluator
	typeOrder []string
	providers []ContextProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string][]Evaluator)}
}

// RegisterEvaluator adds an evaluator under its Type tag.
func (r *Registry) RegisterEvaluator(e Evaluator) error {
	if e == nil || e.Type() == "" {
		return fmt.Errorf("evaluator must have a type tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	tag := e.Type()
	if _, ok := r.byType[tag]; !ok {
		r.typeOrder = append(r.typeOrder, tag)
	}
	r.byType[tag] = append(r.byType[tag], e)
	return nil
}

// RegisterProvider appends a provider. Earlier providers win on duplicate
// context tags.
func (r *Registry) RegisterProvider(p ContextProvider) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("provider must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("provider %q already registered", p.Name())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Evaluators returns every evaluator grouped by tag in first-registration
// order.
func (r *Registry) Evaluators() []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Evaluator
	for _, tag := range r.typeOrder {
		out = append(out, r.byType[tag]...)
	}
	return out
}

// EvaluatorsOf returns the evaluators registered under tag.
func (r *Registry) EvaluatorsOf(tag string) []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Evaluator(nil), r.byType[tag]...)
}

// EvaluatorTypes returns the registered tags in first-registration order.
func (r *Registry) EvaluatorTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.typeOrder...)
}

func (r *Registry) Providers() []ContextProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ContextProvider(nil), r.providers...)
}

// Close closes every registered evaluator and provider implementing io.Closer.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, tag := range r.typeOrder {
		for _, e := range r.byType[tag] {
			if c, ok := e.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close evaluator %s: %w", tag, err))
				}
			}
		}
	}
	for _, p := range r.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close provider %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
