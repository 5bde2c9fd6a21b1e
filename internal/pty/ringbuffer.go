// Package pty runs shell commands under a pseudo-terminal and collects
// their output. It backs the interpreter's system() call so commands see a
// terminal and format their output the way they would interactively.
package pty

import (
	"strings"
	"sync"
)

// RingBuffer keeps the last cap lines of command output. Older lines are
// overwritten once it is full.
type RingBuffer struct {
	mu sync.RWMutex

	lines []string
	// head is where the next write goes.
	head int
	size int
	cap  int

	dropped int
}

// NewRingBuffer creates a buffer for capacity lines; capacity <= 0 means
// 5000.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 5000
	}
	return &RingBuffer{
		lines: make([]string, capacity),
		cap:   capacity,
	}
}

// Write appends a line, overwriting the oldest one when full.
func (rb *RingBuffer) Write(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.cap {
		rb.dropped++
	}
	rb.lines[rb.head] = line
	rb.head = (rb.head + 1) % rb.cap
	if rb.size < rb.cap {
		rb.size++
	}
}

// Lines returns a copy of the stored lines, oldest first.
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]string, rb.size)
	if rb.size < rb.cap {
		copy(result, rb.lines[:rb.size])
		return result
	}
	for i := 0; i < rb.size; i++ {
		result[i] = rb.lines[(rb.head+i)%rb.cap]
	}
	return result
}

// String joins the stored lines.
func (rb *RingBuffer) String() string {
	return strings.Join(rb.Lines(), "")
}

func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Dropped returns how many lines were overwritten.
func (rb *RingBuffer) Dropped() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.dropped
}

func (rb *RingBuffer) Capacity() int { return rb.cap }

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.size = 0
	rb.dropped = 0
}
