package calc

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/statshost/host/internal/gd"
	"github.com/statshost/host/internal/interp"
)

// op is one recorded drawing call.
type op func(d gd.Device)

type deviceEntry struct {
	dev  gd.Device
	list []op
}

// Graphics is the runtime's graphics engine. Every device has a display
// list holding the drawing calls since its last new page; the list can be
// replayed into the same or another device and captured as a snapshot.
// It is used from the interpreter goroutine only.
type Graphics struct {
	devices []*deviceEntry // slot i is device number i+1; nil slots are closed devices
	current int
	gc      gd.GC

	// DefaultDevice opens a device when drawing starts with none open.
	DefaultDevice func() (gd.Device, error)
}

var errNoDevice = errors.New("no graphics device is open")

// NewGraphics creates an engine with no devices.
func NewGraphics() *Graphics {
	return &Graphics{current: -1, gc: gd.DefaultGC()}
}

// SetDefaultDevice installs the hook that opens a device on first draw.
func (g *Graphics) SetDefaultDevice(open func() (gd.Device, error)) {
	g.DefaultDevice = open
}

func (g *Graphics) entry(d gd.Device) *deviceEntry {
	for _, e := range g.devices {
		if e != nil && e.dev == d {
			return e
		}
	}
	return nil
}

// AddDevice registers d and makes it current.
func (g *Graphics) AddDevice(d gd.Device) int {
	if e := g.entry(d); e != nil {
		return g.DeviceNumber(d)
	}
	slot := -1
	for i, e := range g.devices {
		if e == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		g.devices = append(g.devices, nil)
		slot = len(g.devices) - 1
	}
	g.devices[slot] = &deviceEntry{dev: d}
	g.activate(slot)
	return slot + 1
}

func (g *Graphics) activate(slot int) {
	if g.current >= 0 && g.current != slot && g.devices[g.current] != nil {
		g.devices[g.current].dev.Deactivate()
	}
	g.current = slot
	if slot >= 0 {
		g.devices[slot].dev.Activate()
	}
}

// RemoveDevice unregisters d and drops its display list. The next open
// device, if any, becomes current.
func (g *Graphics) RemoveDevice(d gd.Device) {
	for i, e := range g.devices {
		if e == nil || e.dev != d {
			continue
		}
		g.devices[i] = nil
		if g.current == i {
			g.current = -1
			for j := range g.devices {
				if k := (i + 1 + j) % len(g.devices); g.devices[k] != nil {
					g.activate(k)
					break
				}
			}
		}
		return
	}
}

func (g *Graphics) DeviceNumber(d gd.Device) int {
	for i, e := range g.devices {
		if e != nil && e.dev == d {
			return i + 1
		}
	}
	return 0
}

func (g *Graphics) CurrentDevice() gd.Device {
	if g.current < 0 {
		return nil
	}
	return g.devices[g.current].dev
}

func (g *Graphics) SelectDevice(d gd.Device) {
	if n := g.DeviceNumber(d); n > 0 {
		g.activate(n - 1)
	}
}

// Devices returns the open devices in number order.
func (g *Graphics) Devices() []gd.Device {
	var out []gd.Device
	for _, e := range g.devices {
		if e != nil {
			out = append(out, e.dev)
		}
	}
	return out
}

func (g *Graphics) PlayDisplayList(d gd.Device) error {
	e := g.entry(d)
	if e == nil {
		return fmt.Errorf("device is not registered")
	}
	replay(e.list, d)
	return nil
}

func (g *Graphics) CopyDisplayList(from, to gd.Device) error {
	e := g.entry(from)
	if e == nil {
		return fmt.Errorf("source device is not registered")
	}
	replay(e.list, to)
	return nil
}

func (g *Graphics) CreateSnapshot(d gd.Device) (*interp.Protected, error) {
	e := g.entry(d)
	if e == nil {
		return nil, fmt.Errorf("device is not registered")
	}
	list := append([]op(nil), e.list...)
	return interp.Protect(list, nil), nil
}

func (g *Graphics) PlaySnapshot(snapshot *interp.Protected, d gd.Device) error {
	v, ok := snapshot.Value()
	if !ok {
		return fmt.Errorf("snapshot is no longer valid")
	}
	list, ok := v.([]op)
	if !ok {
		return fmt.Errorf("snapshot holds %T, not a display list", v)
	}
	e := g.entry(d)
	if e == nil {
		return fmt.Errorf("device is not registered")
	}
	e.list = append([]op(nil), list...)
	replay(e.list, d)
	return nil
}

func replay(list []op, d gd.Device) {
	for _, f := range list {
		f(d)
	}
}

// target returns the current device entry, opening the default device if
// none is open.
func (g *Graphics) target() (*deviceEntry, error) {
	if g.current < 0 {
		if g.DefaultDevice == nil {
			return nil, errNoDevice
		}
		d, err := g.DefaultDevice()
		if err != nil {
			return nil, fmt.Errorf("open default device: %w", err)
		}
		if g.DeviceNumber(d) == 0 {
			g.AddDevice(d)
		} else {
			g.SelectDevice(d)
		}
	}
	return g.devices[g.current], nil
}

// NewPage starts a fresh page on the current device. The display list is
// reset to hold only the new page.
func (g *Graphics) NewPage() error {
	e, err := g.target()
	if err != nil {
		return err
	}
	gc := g.gc
	f := func(d gd.Device) { d.NewPage(&gc) }
	f(e.dev)
	e.list = []op{f}
	return nil
}

// draw runs a primitive on the current device, bracketed by drawing mode
// changes, and records it.
func (g *Graphics) draw(prim func(d gd.Device, gc *gd.GC)) error {
	e, err := g.target()
	if err != nil {
		return err
	}
	if len(e.list) == 0 {
		if err := g.NewPage(); err != nil {
			return err
		}
	}
	gc := g.gc
	f := func(d gd.Device) {
		d.Mode(1)
		prim(d, &gc)
		d.Mode(0)
	}
	f(e.dev)
	e.list = append(e.list, f)
	return nil
}

func (g *Graphics) Line(x1, y1, x2, y2 float64) error {
	return g.draw(func(d gd.Device, gc *gd.GC) { d.Line(x1, y1, x2, y2, gc) })
}

func (g *Graphics) Rect(x0, y0, x1, y1 float64) error {
	return g.draw(func(d gd.Device, gc *gd.GC) { d.Rect(x0, y0, x1, y1, gc) })
}

func (g *Graphics) Circle(x, y, r float64) error {
	return g.draw(func(d gd.Device, gc *gd.GC) { d.Circle(x, y, r, gc) })
}

func (g *Graphics) Polygon(x, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("polygon needs as many x as y coordinates (%d != %d)", len(x), len(y))
	}
	x, y = append([]float64(nil), x...), append([]float64(nil), y...)
	return g.draw(func(d gd.Device, gc *gd.GC) { d.Polygon(x, y, gc) })
}

func (g *Graphics) Text(x, y float64, s string) error {
	return g.draw(func(d gd.Device, gc *gd.GC) {
		if d.Desc().HasTextUTF8 {
			d.TextUTF8(x, y, s, 0, 0, gc)
		} else {
			d.Text(x, y, s, 0, 0, gc)
		}
	})
}

// Locator asks the current device for a click.
func (g *Graphics) Locator() (x, y float64, ok bool, err error) {
	e, err := g.target()
	if err != nil {
		return 0, 0, false, err
	}
	x, y, ok = e.dev.Locator()
	return x, y, ok, nil
}

// CloseCurrent closes and unregisters the current device.
func (g *Graphics) CloseCurrent() error {
	if g.current < 0 {
		return errNoDevice
	}
	d := g.devices[g.current].dev
	d.Close()
	g.RemoveDevice(d)
	return nil
}

// SetPen sets the stroke colour and line width for later primitives.
func (g *Graphics) SetPen(col string, width float64) error {
	c, err := parseColor(col)
	if err != nil {
		return err
	}
	g.gc.Col = c
	if width > 0 {
		g.gc.LineWidth = width
	}
	return nil
}

// SetFill sets the fill colour; "transparent" or "" disables filling.
func (g *Graphics) SetFill(col string) error {
	c, err := parseColor(col)
	if err != nil {
		return err
	}
	g.gc.Fill = c
	return nil
}

var namedColors = map[string]color.RGBA{
	"black":   {0, 0, 0, 0xff},
	"white":   {0xff, 0xff, 0xff, 0xff},
	"red":     {0xff, 0, 0, 0xff},
	"green":   {0, 0xcd, 0, 0xff},
	"blue":    {0, 0, 0xff, 0xff},
	"cyan":    {0, 0xff, 0xff, 0xff},
	"magenta": {0xff, 0, 0xff, 0xff},
	"yellow":  {0xff, 0xff, 0, 0xff},
	"gray":    {0xbe, 0xbe, 0xbe, 0xff},
	"grey":    {0xbe, 0xbe, 0xbe, 0xff},
	"orange":  {0xff, 0xa5, 0, 0xff},
	"purple":  {0xa0, 0x20, 0xf0, 0xff},
}

// parseColor accepts a colour name, #rrggbb or #rrggbbaa.
func parseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "transparent" || s == "na" {
		return color.RGBA{}, nil
	}
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if strings.HasPrefix(s, "#") && (len(s) == 7 || len(s) == 9) {
		n, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			if len(s) == 7 {
				return color.RGBA{uint8(n >> 16), uint8(n >> 8), uint8(n), 0xff}, nil
			}
			return color.RGBA{uint8(n >> 24), uint8(n >> 16), uint8(n >> 8), uint8(n)}, nil
		}
	}
	return color.RGBA{}, fmt.Errorf("invalid color %q", s)
}
