package serializer

import (
	"fmt"
	"reflect"
	"sync"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
)

// Registry maps wire type names onto Go types for the JSON codec. Build one
// per process at the composition root and register every message type that
// can travel through a queue.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register adds T under name. An empty name uses TypeName of T.
func Register[T any](r *Registry, name string) error {
	return r.Add(name, reflect.TypeFor[T]())
}

// MustRegister is Register that panics on error.
func MustRegister[T any](r *Registry, name string) {
	if err := Register[T](r, name); err != nil {
		panic(err)
	}
}

// Add registers t under name. Registering the same pair twice is a no-op;
// reusing a name or a type for something else fails.
func (r *Registry) Add(name string, t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("%w: nil type", errspkg.ErrUnknownMessageType)
	}
	if t.Kind() == reflect.Interface {
		return fmt.Errorf("asyncflow: cannot register interface type %s", t)
	}
	if name == "" {
		name = typeName(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("%w: %q is bound to %s", errspkg.ErrAlreadyRegistered, name, existing)
	}
	if existing, ok := r.byType[t]; ok {
		return fmt.Errorf("%w: %s is registered as %q", errspkg.ErrAlreadyRegistered, t, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// NameOf returns the registered name of msg's dynamic type.
func (r *Registry) NameOf(msg any) (string, bool) {
	if msg == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[reflect.TypeOf(msg)]
	return name, ok
}

// New returns a pointer to a fresh value of the type registered under name,
// plus a function turning that pointer back into a value of the registered
// type.
func (r *Registry) New(name string) (target any, finish func() any, ok bool) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}

	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		return ptr.Interface(), func() any { return ptr.Interface() }, true
	}
	ptr := reflect.New(t)
	return ptr.Interface(), func() any { return ptr.Elem().Interface() }, true
}

// Names lists the registered type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// TypeName is the default wire name of msg's type: its package path and
// name, prefixed with "*" for pointers.
func TypeName(msg any) string {
	if msg == nil {
		return ""
	}
	return typeName(reflect.TypeOf(msg))
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		return "*" + typeName(t.Elem())
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
