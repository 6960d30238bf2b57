// Package container is a small constructor-injection container used to
// wire the catalog at startup without an external DI dependency.
// Providers are plain constructor functions; dependencies are resolved
// by return type, with interface satisfaction as a fallback.
package container

import (
	"fmt"
	"reflect"
	"sync"
)

type Container struct {
	mu        sync.RWMutex
	prov      map[reflect.Type]provider
	instances map[reflect.Type]reflect.Value
}

type provider struct {
	fn        reflect.Value
	singleton bool
}

func New() *Container {
	return &Container{
		prov:      make(map[reflect.Type]provider),
		instances: make(map[reflect.Type]reflect.Value),
	}
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// Provide registers a constructor for the type of its first return value.
// Constructor parameters are resolved from the container. The function
// may return (T) or (T, error).
func (c *Container) Provide(constructor interface{}, singleton bool) error {
	v := reflect.ValueOf(constructor)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("container: constructor must be a function")
	}
	ft := v.Type()
	if ft.NumOut() == 0 || ft.NumOut() > 2 {
		return fmt.Errorf("container: constructor must return (T) or (T, error)")
	}
	if ft.NumOut() == 2 && ft.Out(1) != errType {
		return fmt.Errorf("container: second return value must be error")
	}

	outType := ft.Out(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.prov[outType]; exists {
		return fmt.Errorf("container: provider already exists for %v", outType)
	}
	c.prov[outType] = provider{fn: v, singleton: singleton}
	return nil
}

// Resolve populates the given pointer with an instance of its type.
// Example: var db *database.DB; c.Resolve(&db)
func (c *Container) Resolve(target interface{}) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("container: target must be a non-nil pointer")
	}
	val, err := c.get(ptr.Elem().Type(), make(map[reflect.Type]bool))
	if err != nil {
		return err
	}
	ptr.Elem().Set(val)
	return nil
}

// Invoke calls fn with its parameters resolved from the container. A
// trailing error return is propagated.
func (c *Container) Invoke(fn interface{}) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("container: Invoke requires a function")
	}
	ft := v.Type()
	args := make([]reflect.Value, ft.NumIn())
	seen := make(map[reflect.Type]bool)
	for i := 0; i < ft.NumIn(); i++ {
		val, err := c.get(ft.In(i), seen)
		if err != nil {
			return err
		}
		args[i] = val
	}
	outs := v.Call(args)
	if n := len(outs); n > 0 && outs[n-1].Type() == errType {
		if !outs[n-1].IsNil() {
			return outs[n-1].Interface().(error)
		}
	}
	return nil
}

func (c *Container) get(t reflect.Type, seen map[reflect.Type]bool) (reflect.Value, error) {
	c.mu.RLock()
	if v, ok := c.instances[t]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	prov, ok := c.prov[t]
	if !ok && t.Kind() == reflect.Interface {
		// Fall back to any provider whose concrete type satisfies the
		// requested interface.
		for pt, p := range c.prov {
			if pt.Implements(t) {
				prov, ok = p, true
				break
			}
		}
	}
	c.mu.RUnlock()
	if !ok {
		return reflect.Value{}, fmt.Errorf("container: no provider for %v", t)
	}

	if seen[t] {
		return reflect.Value{}, fmt.Errorf("container: cyclic dependency for %v", t)
	}
	seen[t] = true

	ft := prov.fn.Type()
	args := make([]reflect.Value, ft.NumIn())
	for i := 0; i < ft.NumIn(); i++ {
		depVal, err := c.get(ft.In(i), seen)
		if err != nil {
			return reflect.Value{}, err
		}
		args[i] = depVal
	}
	outs := prov.fn.Call(args)
	if len(outs) == 2 {
		if err, _ := outs[1].Interface().(error); err != nil {
			return reflect.Value{}, err
		}
	}

	res := outs[0]
	if prov.singleton {
		c.mu.Lock()
		c.instances[t] = res
		c.mu.Unlock()
	}
	return res, nil
}
