package plot

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/statshost/host/internal/interp"
)

// PendingRenderTimeout is how long drawing must be quiet before a pending
// snapshot is rendered by a non-forced render pass.
const PendingRenderTimeout = 50 * time.Millisecond

// Snapshot is one page of a device's history: the captured display list
// and the image file it was last rendered to.
type Snapshot struct {
	ID uuid.UUID

	device      *Device
	displayList *interp.Protected

	renderedFile string
	renderWidth  float64
	renderHeight float64

	pending      bool
	pendingSince time.Time
}

func newSnapshot(d *Device) *Snapshot {
	return &Snapshot{ID: uuid.New(), device: d}
}

// Pending reports whether the snapshot has drawing not yet rendered.
func (s *Snapshot) Pending() bool { return s.pending }

// RenderedFile returns the path of the last rendered image, if any.
func (s *Snapshot) RenderedFile() string { return s.renderedFile }

func (s *Snapshot) setPending(now time.Time) {
	s.pending = true
	s.pendingSince = now
}

func (s *Snapshot) timeoutElapsed(now time.Time) bool {
	return now.Sub(s.pendingSince) >= PendingRenderTimeout
}

// render saves the backing device and sends the image. With capture set the
// device's display list is recorded as this snapshot's content.
func (s *Snapshot) render(capture bool) {
	if !s.pending {
		return
	}
	s.pending = false

	d := s.device
	start := time.Now()
	path, err := d.save()
	s.removeFile()
	if err != nil {
		d.m.log.Warn("plot render failed, sending placeholder",
			"device", d.id, "plot", s.ID, "error", err)
		d.sendPlaceholder(s.ID, start)
		return
	}

	s.renderedFile = path
	s.renderWidth = d.width
	s.renderHeight = d.height
	d.m.watcher.Track(path)
	if capture {
		s.capture()
	}
	d.send(s.ID, path, "rendered", start)
}

// renderEmpty drops the rendered file and sends a placeholder for s.
func (s *Snapshot) renderEmpty() {
	s.removeFile()
	s.device.sendPlaceholder(s.ID, time.Now())
}

// renderFromSnapshot shows s again after navigation. A rendered file of the
// current size is re-sent; otherwise the captured display list is played
// into a fresh backing device and rendered. Without usable content the
// peer gets a placeholder.
func (s *Snapshot) renderFromSnapshot() {
	d := s.device
	d.killBacking()

	if s.fileCurrent() {
		if s.displayList.Valid() {
			// Keep the runtime's display list in step with what is shown.
			if err := d.replay(true, func() error {
				return d.m.graphics.PlaySnapshot(s.displayList, d)
			}); err != nil {
				d.m.log.Debug("display list resync failed", "device", d.id, "plot", s.ID, "error", err)
			}
		}
		d.send(s.ID, s.renderedFile, "resent", time.Now())
		return
	}

	if !s.displayList.Valid() {
		s.renderEmpty()
		return
	}
	err := d.replay(false, func() error {
		return d.m.graphics.PlaySnapshot(s.displayList, d)
	})
	if err != nil {
		d.killBacking()
		d.m.log.Warn("plot replay failed, sending placeholder",
			"device", d.id, "plot", s.ID, "error", err)
		s.pending = false
		s.renderEmpty()
		return
	}
	s.setPending(d.m.now())
	s.render(false)
}

// renderFromDisplayList replays the device's live display list and renders
// it, recording the result as this snapshot's content.
func (s *Snapshot) renderFromDisplayList() {
	d := s.device
	if err := d.replay(false, func() error { return d.m.graphics.PlayDisplayList(d) }); err != nil {
		d.killBacking()
		d.m.log.Warn("plot replay failed, sending placeholder",
			"device", d.id, "plot", s.ID, "error", err)
		s.pending = false
		s.renderEmpty()
		return
	}
	s.setPending(d.m.now())
	s.render(true)
}

// fileCurrent reports whether the rendered file can be re-sent as is.
func (s *Snapshot) fileCurrent() bool {
	d := s.device
	if s.renderedFile == "" || s.renderWidth != d.width || s.renderHeight != d.height {
		return false
	}
	if d.m.watcher.Missing(s.renderedFile) {
		return false
	}
	_, err := os.Stat(s.renderedFile)
	return err == nil
}

// capture records the device's current display list.
func (s *Snapshot) capture() {
	d := s.device
	snap, err := d.m.graphics.CreateSnapshot(d)
	if err != nil {
		d.m.log.Debug("display list capture failed", "device", d.id, "plot", s.ID, "error", err)
		return
	}
	s.setDisplayList(snap)
}

func (s *Snapshot) setDisplayList(p *interp.Protected) {
	if s.displayList != nil {
		s.displayList.Release()
	}
	s.displayList = p
}

func (s *Snapshot) removeFile() {
	if s.renderedFile == "" {
		return
	}
	if err := os.Remove(s.renderedFile); err != nil && !os.IsNotExist(err) {
		s.device.m.log.Debug("remove plot file", "path", s.renderedFile, "error", err)
	}
	s.device.m.watcher.Forget(s.renderedFile)
	s.renderedFile = ""
}

// destroy releases everything the snapshot holds.
func (s *Snapshot) destroy() {
	s.removeFile()
	s.setDisplayList(nil)
	s.pending = false
}
