package interp

import "sync"

// Protected is an owned handle to a runtime value that must stay alive
// outside the runtime's own bookkeeping, such as a captured display list.
// Handles created with Share refer to the same value; the release hook runs
// when the last handle is released.
type Protected struct {
	shared   *protectedValue
	mu       sync.Mutex
	released bool
}

type protectedValue struct {
	mu      sync.Mutex
	refs    int
	value   any
	invalid bool
	release func(any)
}

// Protect takes ownership of v. release, if non-nil, runs once when the
// last handle is released.
func Protect(v any, release func(any)) *Protected {
	return &Protected{shared: &protectedValue{refs: 1, value: v, release: release}}
}

// Value returns the protected value. ok is false once the handle was
// released or the runtime invalidated the value.
func (p *Protected) Value() (v any, ok bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return nil, false
	}
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, false
	}
	return s.value, true
}

// Valid reports whether Value would succeed.
func (p *Protected) Valid() bool {
	_, ok := p.Value()
	return ok
}

// Share returns a new handle to the same value.
func (p *Protected) Share() *Protected {
	s := p.shared
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
	return &Protected{shared: s}
}

// Release drops this handle. Releasing twice is a no-op.
func (p *Protected) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	s := p.shared
	s.mu.Lock()
	s.refs--
	last := s.refs == 0
	v := s.value
	if last {
		s.value = nil
	}
	s.mu.Unlock()

	if last && s.release != nil {
		s.release(v)
	}
}

// Invalidate marks the value as gone for every handle sharing it.
func (p *Protected) Invalidate() {
	s := p.shared
	s.mu.Lock()
	s.invalid = true
	s.mu.Unlock()
}

// Refs returns the number of live handles.
func (p *Protected) Refs() int {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
