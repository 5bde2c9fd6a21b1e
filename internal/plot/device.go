package plot

import (
	"os"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/gd"
)

// Device is a virtual graphics device shown in the IDE. Drawing goes to a
// disposable backing file device created on first use; every page becomes
// a snapshot in the device's history. Device methods run on the
// interpreter goroutine.
type Device struct {
	id uuid.UUID
	m  *Manager

	width, height, res float64
	desc               gd.Desc

	backing       gd.FileDevice
	backingFailed bool
	// muted drops drawing on the floor while the display list is only
	// being resynchronised.
	muted bool

	history History
	closed  bool
}

var _ gd.Device = (*Device)(nil)

func newDevice(m *Manager, id uuid.UUID, width, height, res float64) *Device {
	d := &Device{
		id:      id,
		m:       m,
		width:   width,
		height:  height,
		res:     res,
		history: newHistory(),
	}
	d.refreshDesc()
	return d
}

// ID returns the device id the IDE knows the device by.
func (d *Device) ID() uuid.UUID { return d.id }

// Dimensions returns the device size in pixels and its resolution.
func (d *Device) Dimensions() (width, height, res float64) { return d.width, d.height, d.res }

// History returns the device's snapshot history.
func (d *Device) History() *History { return &d.history }

// refreshDesc copies geometry and capabilities from a backing device of the
// current size. The device keeps answering size queries from this copy.
func (d *Device) refreshDesc() {
	b, err := d.m.factory(d.m.newRenderPath(), d.width, d.height, d.res)
	if err != nil {
		d.m.log.Warn("backing device unavailable, using computed geometry",
			"device", d.id, "error", err)
		d.desc = gd.DescFor(d.width, d.height, d.res)
	} else {
		d.desc = b.Desc()
		discard(b)
	}
	d.desc.DisplayListOn = true
}

// file returns the backing device, creating it and copying the display
// list into it when there is none. It is nil when creation failed.
func (d *Device) file() gd.FileDevice {
	if d.muted || d.closed {
		return nil
	}
	b, err := d.getOrCreateBacking()
	if err != nil {
		if !d.backingFailed {
			d.m.log.Warn("create backing device", "device", d.id, "error", err)
		}
		d.backingFailed = true
		return nil
	}
	return b
}

func (d *Device) getOrCreateBacking() (gd.FileDevice, error) {
	if d.backing != nil {
		return d.backing, nil
	}
	b, err := d.m.factory(d.m.newRenderPath(), d.width, d.height, d.res)
	if err != nil {
		return nil, apperrors.RenderFailed("create backing device", err)
	}
	d.backing = b
	d.backingFailed = false
	if d.m.graphics.DeviceNumber(d) > 0 {
		if err := d.m.graphics.CopyDisplayList(d, b); err != nil {
			d.m.log.Debug("sync backing device", "device", d.id, "error", err)
		}
	}
	return b, nil
}

// save closes the backing device so it writes its file, and returns the
// file's path.
func (d *Device) save() (string, error) {
	b, err := d.getOrCreateBacking()
	if err != nil {
		return "", err
	}
	d.backing = nil
	b.Close()
	if err := b.Err(); err != nil {
		os.Remove(b.FilePath())
		return "", apperrors.RenderFailed("write plot file", err)
	}
	return b.FilePath(), nil
}

// killBacking disposes of the backing device and its file.
func (d *Device) killBacking() {
	if d.backing == nil {
		return
	}
	b := d.backing
	d.backing = nil
	discard(b)
}

func discard(b gd.FileDevice) {
	b.Close()
	os.Remove(b.FilePath())
}

// replay runs f with the history append suppressed. With mute set the
// drawing is not forwarded and does not mark anything pending.
func (d *Device) replay(mute bool, f func() error) error {
	d.history.replaying = true
	d.muted = mute
	defer func() {
		d.history.replaying = false
		d.muted = false
	}()
	return f()
}

func (d *Device) markPending() {
	if d.muted {
		return
	}
	s := d.history.Active()
	if s == nil {
		if d.history.replaying {
			return
		}
		// Drawing after the history was cleared starts a new page entry.
		s = newSnapshot(d)
		d.history.Append(s)
	}
	s.setPending(d.m.now())
}

// renderRequest renders the active snapshot if it has pending drawing and
// either immediately is set or the drawing has been quiet long enough.
func (d *Device) renderRequest(immediately bool) {
	s := d.history.Active()
	if s == nil || !s.pending {
		return
	}
	if immediately || s.timeoutElapsed(d.m.now()) {
		s.render(true)
	}
}

// send emits !Plot for plotID with the image at path. An empty path sends
// a placeholder. result labels the send in metrics.
func (d *Device) send(plotID uuid.UUID, path, result string, start time.Time) {
	blob := []byte{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			d.m.log.Warn("read plot file, sending placeholder", "path", path, "error", err)
			path = ""
		} else {
			blob = data
		}
	}
	if path == "" {
		result = "placeholder"
	}

	args := []any{
		d.id.String(),
		plotID.String(),
		path,
		d.m.graphics.DeviceNumber(d),
		d.history.ActiveIndex(),
		d.history.Len(),
	}
	if _, err := d.m.peer.SendNotification("!Plot", args, blob); err != nil {
		d.m.log.Debug("send plot", "device", d.id, "error", err)
	}
	d.m.recordRender(d, plotID, path, int64(len(blob)), result, time.Since(start))
}

func (d *Device) sendPlaceholder(plotID uuid.UUID, start time.Time) {
	d.send(plotID, "", "placeholder", start)
}

// Desc returns the geometry copied from the backing device.
func (d *Device) Desc() gd.Desc { return d.desc }

func (d *Device) Activate()   {}
func (d *Device) Deactivate() {}

func (d *Device) Circle(x, y, r float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Circle(x, y, r, gc)
	}
}

func (d *Device) Line(x1, y1, x2, y2 float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Line(x1, y1, x2, y2, gc)
	}
}

func (d *Device) Rect(x0, y0, x1, y1 float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Rect(x0, y0, x1, y1, gc)
	}
}

func (d *Device) Polygon(x, y []float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Polygon(x, y, gc)
	}
}

func (d *Device) Polyline(x, y []float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Polyline(x, y, gc)
	}
}

func (d *Device) Path(x, y []float64, npoly []int, winding bool, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Path(x, y, npoly, winding, gc)
	}
}

func (d *Device) Raster(r gd.Raster, x, y, width, height, rot float64, interpolate bool, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Raster(r, x, y, width, height, rot, interpolate, gc)
	}
}

func (d *Device) Text(x, y float64, s string, rot, hadj float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.Text(x, y, s, rot, hadj, gc)
	}
}

func (d *Device) TextUTF8(x, y float64, s string, rot, hadj float64, gc *gd.GC) {
	if b := d.file(); b != nil {
		b.TextUTF8(x, y, s, rot, hadj, gc)
	}
}

func (d *Device) Clip(x0, x1, y0, y1 float64) {
	if b := d.file(); b != nil {
		b.Clip(x0, x1, y0, y1)
	}
}

// NewPage starts a snapshot for the new page. A previous page with
// unrendered drawing is captured and rendered first.
func (d *Device) NewPage(gc *gd.GC) {
	if !d.history.replaying {
		if prev := d.history.Active(); prev != nil && prev.pending {
			prev.capture()
			prev.render(false)
		}
		d.history.Append(newSnapshot(d))
	}
	if b := d.file(); b != nil {
		b.NewPage(gc)
	}
}

func (d *Device) Size() (left, right, bottom, top float64) {
	return d.desc.Left, d.desc.Right, d.desc.Bottom, d.desc.Top
}

func (d *Device) StrWidth(s string, gc *gd.GC) float64 {
	if b := d.file(); b != nil {
		return b.StrWidth(s, gc)
	}
	return 0
}

func (d *Device) StrWidthUTF8(s string, gc *gd.GC) float64 {
	if b := d.file(); b != nil {
		return b.StrWidthUTF8(s, gc)
	}
	return 0
}

func (d *Device) MetricInfo(c rune, gc *gd.GC) (ascent, descent, width float64) {
	if b := d.file(); b != nil {
		return b.MetricInfo(c, gc)
	}
	return 0, 0, 0
}

// Locator asks the IDE for a click on this device.
func (d *Device) Locator() (x, y float64, ok bool) {
	resp, err := d.m.peer.SendRequest("?Locator", d.id.String())
	if err != nil {
		d.m.log.Debug("locator request", "device", d.id, "error", err)
		return 0, 0, false
	}
	var clicked bool
	if len(resp.Args) != 3 || resp.Arg(0, &clicked) != nil || resp.Arg(1, &x) != nil || resp.Arg(2, &y) != nil {
		d.m.peer.Fail(apperrors.Violation(
			"Locator response is malformed; it must have 3 elements: bool, double, double"))
		return 0, 0, false
	}
	return x, y, clicked
}

func (d *Device) Cap() (gd.Raster, bool) {
	if b := d.file(); b != nil {
		return b.Cap()
	}
	return gd.Raster{}, false
}

func (d *Device) Hold(level int) int {
	if b := d.file(); b != nil {
		return b.Hold(level)
	}
	return 0
}

// Mode forwards the drawing mode and marks the active snapshot pending.
func (d *Device) Mode(mode int) {
	if b := d.file(); b != nil {
		b.Mode(mode)
	}
	d.markPending()
}

func (d *Device) EventHelper(code int) {}
func (d *Device) OnExit()              {}

// Close clears the IDE's plot window, announces the device's end and
// releases every snapshot.
func (d *Device) Close() {
	if d.closed {
		return
	}
	for _, s := range d.history.Clear() {
		s.destroy()
	}
	d.sendPlaceholder(uuid.Nil, time.Now())
	if _, err := d.m.peer.SendNotification("!PlotDeviceDestroy", []any{d.id.String()}); err != nil {
		d.m.log.Debug("send device destroy", "device", d.id, "error", err)
	}
	d.killBacking()
	d.closed = true
	d.m.forget(d)
}
