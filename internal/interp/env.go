package interp

import (
	"sort"
	"sync"
)

// Env is a variable scope.
type Env interface {
	Value
	Get(name string) (Value, bool)
	Set(name string, v Value)
	Names() []string
	Parent() Env
	// Debug is the "enter the debugger on evaluation" flag.
	Debug() bool
	SetDebug(on bool)
}

// MapEnv is a map-backed Env usable by any runtime.
type MapEnv struct {
	mu     sync.RWMutex
	vars   map[string]Value
	parent Env
	debug  bool
	name   string
}

// NewMapEnv creates an Env with the given parent (nil for none).
func NewMapEnv(name string, parent Env) *MapEnv {
	return &MapEnv{vars: make(map[string]Value), parent: parent, name: name}
}

func (e *MapEnv) TypeName() string { return "environment" }

// Get looks name up in e and then its parents.
func (e *MapEnv) Get(name string) (Value, bool) {
	e.mu.RLock()
	v, ok := e.vars[name]
	e.mu.RUnlock()
	if ok {
		return v, true
	}
	if e.parent != nil {
		return e.parent.Get(name)
	}
	return nil, false
}

// Set binds name in e itself.
func (e *MapEnv) Set(name string, v Value) {
	e.mu.Lock()
	e.vars[name] = v
	e.mu.Unlock()
}

// Names lists the bindings of e itself, sorted.
func (e *MapEnv) Names() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.vars))
	for k := range e.vars {
		names = append(names, k)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Local returns a binding of e without consulting parents.
func (e *MapEnv) Local(name string) (Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[name]
	return v, ok
}

func (e *MapEnv) Parent() Env { return e.parent }

func (e *MapEnv) Debug() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.debug
}

func (e *MapEnv) SetDebug(on bool) {
	e.mu.Lock()
	e.debug = on
	e.mu.Unlock()
}

func (e *MapEnv) String() string { return "<environment: " + e.name + ">" }
