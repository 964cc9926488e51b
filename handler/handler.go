// Package handler defines the method-dispatch contract for jobs of type
// "method", plus MethodSet, a registry-backed implementation. Dispatch is
// a table lookup against an explicit allow-list: registration inserts
// (name, callable) and execution refuses anything outside the table or
// matching a reserved identifier.
package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ludari/ludari/lens"
)

// Handler executes a named method on behalf of a "method" job. The job's
// name is the method name; implementations must restrict dispatch to an
// explicit whitelist and refuse reserved or private identifiers.
type Handler interface {
	ExecuteMethod(ctx context.Context, name string, jobCtx map[string]any, l *lens.Lens) (any, error)
}

// Introspector is optionally implemented by handlers that can enumerate
// their dispatchable methods.
type Introspector interface {
	HasMethod(name string) bool
	AvailableMethods() []string
}

// Method is a callable registered in a MethodSet.
type Method func(ctx context.Context, jobCtx map[string]any, l *lens.Lens) (any, error)

// reservedNames are identifiers that can never be registered or
// dispatched, regardless of registration state.
var reservedNames = map[string]struct{}{
	"constructor":         {},
	"executeMethod":       {},
	"ExecuteMethod":       {},
	"hasMethod":           {},
	"HasMethod":           {},
	"getAvailableMethods": {},
	"AvailableMethods":    {},
	// Go-reserved identifiers.
	"break": {}, "case": {}, "chan": {}, "const": {}, "continue": {},
	"default": {}, "defer": {}, "else": {}, "fallthrough": {}, "for": {},
	"func": {}, "go": {}, "goto": {}, "if": {}, "import": {},
	"interface": {}, "map": {}, "package": {}, "range": {}, "return": {},
	"select": {}, "struct": {}, "switch": {}, "type": {}, "var": {},
}

func isReserved(name string) bool {
	if name == "" || strings.HasPrefix(name, "_") {
		return true
	}
	_, ok := reservedNames[name]
	return ok
}

// MethodSet is a Handler backed by an explicit registration table.
// Safe for concurrent use.
type MethodSet struct {
	mu      sync.RWMutex
	methods map[string]Method
}

var _ Handler = (*MethodSet)(nil)
var _ Introspector = (*MethodSet)(nil)

// NewMethodSet creates an empty MethodSet.
func NewMethodSet() *MethodSet {
	return &MethodSet{methods: make(map[string]Method)}
}

// Register adds a method under the given name. Reserved identifiers and
// names starting with "_" are refused.
func (s *MethodSet) Register(name string, m Method) error {
	if isReserved(name) {
		return fmt.Errorf("ludari/handler: method name %q is reserved", name)
	}
	if m == nil {
		return fmt.Errorf("ludari/handler: method %q is nil", name)
	}

	s.mu.Lock()
	s.methods[name] = m
	s.mu.Unlock()
	return nil
}

// Unregister removes a method. Unknown names are a no-op.
func (s *MethodSet) Unregister(name string) {
	s.mu.Lock()
	delete(s.methods, name)
	s.mu.Unlock()
}

// ExecuteMethod dispatches to the registered method by name.
func (s *MethodSet) ExecuteMethod(ctx context.Context, name string, jobCtx map[string]any, l *lens.Lens) (any, error) {
	if isReserved(name) {
		return nil, fmt.Errorf("ludari/handler: method name %q is not allowed", name)
	}

	s.mu.RLock()
	m, ok := s.methods[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ludari/handler: no method registered for %q", name)
	}
	return m(ctx, jobCtx, l)
}

// HasMethod reports whether a dispatchable method is registered under name.
func (s *MethodSet) HasMethod(name string) bool {
	if isReserved(name) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.methods[name]
	return ok
}

// AvailableMethods returns the sorted names of all registered methods.
func (s *MethodSet) AvailableMethods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
