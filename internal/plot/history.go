package plot

import "github.com/google/uuid"

// History is the ordered list of snapshots of one device. Active is -1 when
// the history is empty.
type History struct {
	plots  []*Snapshot
	active int

	// replaying suppresses the new-page append while a display list is
	// played back into the device.
	replaying bool
}

func newHistory() History { return History{active: -1} }

// Active returns the active snapshot, or nil when the history is empty.
func (h *History) Active() *Snapshot {
	if h.active < 0 || h.active >= len(h.plots) {
		return nil
	}
	return h.plots[h.active]
}

func (h *History) ActiveIndex() int { return h.active }
func (h *History) Len() int         { return len(h.plots) }

// Plots returns the snapshots in order.
func (h *History) Plots() []*Snapshot {
	return append([]*Snapshot(nil), h.plots...)
}

func (h *History) index(id uuid.UUID) int {
	for i, s := range h.plots {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the snapshot with the given id, or nil.
func (h *History) Get(id uuid.UUID) *Snapshot {
	if i := h.index(id); i >= 0 {
		return h.plots[i]
	}
	return nil
}

// Select makes id active. It reports false when id is already active or
// not in the history.
func (h *History) Select(id uuid.UUID) bool {
	i := h.index(id)
	if i < 0 || i == h.active {
		return false
	}
	h.active = i
	return true
}

func (h *History) MoveNext() {
	if h.active >= 0 && h.active < len(h.plots)-1 {
		h.active++
	}
}

func (h *History) MovePrevious() {
	if h.active > 0 {
		h.active--
	}
}

// Append adds s at the end and makes it active.
func (h *History) Append(s *Snapshot) {
	h.plots = append(h.plots, s)
	h.active = len(h.plots) - 1
}

// Remove takes id out of the history and returns it. Removing the active
// snapshot activates the last remaining one; removing another keeps the
// active snapshot.
func (h *History) Remove(id uuid.UUID) *Snapshot {
	i := h.index(id)
	if i < 0 {
		return nil
	}
	s := h.plots[i]
	h.plots = append(h.plots[:i], h.plots[i+1:]...)
	switch {
	case len(h.plots) == 0:
		h.active = -1
	case i == h.active:
		h.active = len(h.plots) - 1
	case i < h.active:
		h.active--
	}
	return s
}

// Clear empties the history and returns what it held.
func (h *History) Clear() []*Snapshot {
	plots := h.plots
	h.plots = nil
	h.active = -1
	return plots
}
