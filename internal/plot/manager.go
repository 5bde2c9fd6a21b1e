// Package plot virtualizes the interpreter's graphics devices for a remote
// IDE. Every page drawn on a virtual device becomes a snapshot in the
// device's history; snapshots are rendered to image files off a short
// debounce and sent to the IDE as !Plot notifications, and can be
// navigated, copied and re-rendered at a new size.
package plot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/gd"
	"github.com/statshost/host/internal/interp"
	"github.com/statshost/host/internal/metrics"
	"github.com/statshost/host/internal/storage"
	"github.com/statshost/host/internal/wire"
)

// DefaultRenderInterval is the minimum spacing of non-forced render passes.
const DefaultRenderInterval = 10 * time.Millisecond

// Peer is the side of the protocol engine the plot manager talks through.
type Peer interface {
	SendNotification(name string, args []any, blobs ...[]byte) (uint64, error)
	SendRequest(name string, args ...any) (*wire.Message, error)
	// Fail closes the connection with a fatal error.
	Fail(err error)
}

// Options configures a Manager.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Dir receives the rendered image files.
	Dir string
	// Format is the image format, gd.FormatPNG when empty.
	Format string
	// Factory creates backing devices. It overrides Format.
	Factory gd.Factory

	// DefaultWidth, DefaultHeight and DefaultResolution replace zeros in
	// the IDE's answer to ?PlotDeviceCreate.
	DefaultWidth      float64
	DefaultHeight     float64
	DefaultResolution float64

	// RenderLog, if set, records every !Plot sent.
	RenderLog storage.RenderLog
	// Watcher, if set, reports rendered files deleted behind our back.
	Watcher *Watcher

	// RenderInterval throttles non-forced render passes. Zero means
	// DefaultRenderInterval; negative disables throttling.
	RenderInterval time.Duration

	// Now overrides the clock used for the render debounce.
	Now func() time.Time
}

// Manager owns the virtual devices of one connection. Apart from
// construction every method must be called on the interpreter goroutine.
type Manager struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	peer     Peer
	graphics interp.Graphics

	dir     string
	ext     string
	factory gd.Factory

	defaults [3]float64

	renders storage.RenderLog
	watcher *Watcher
	limiter *rate.Limiter
	clock   func() time.Time

	devices []*Device
}

// NewManager creates a Manager that sends through peer and registers its
// devices with g.
func NewManager(peer Peer, g interp.Graphics, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dir == "" {
		return nil, apperrors.InvalidConfig("plot_dir", "must not be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}

	format := opts.Format
	if format == "" {
		format = gd.FormatPNG
	}
	factory := opts.Factory
	if factory == nil {
		f, err := gd.NewFactory(format)
		if err != nil {
			return nil, apperrors.InvalidConfig("plot_type", err.Error())
		}
		factory = f
	}

	limit := rate.Every(DefaultRenderInterval)
	switch {
	case opts.RenderInterval > 0:
		limit = rate.Every(opts.RenderInterval)
	case opts.RenderInterval < 0:
		limit = rate.Inf
	}

	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}

	return &Manager{
		log:      logger.With("component", "plot"),
		metrics:  opts.Metrics,
		peer:     peer,
		graphics: g,
		dir:      opts.Dir,
		ext:      format,
		factory:  factory,
		defaults: [3]float64{opts.DefaultWidth, opts.DefaultHeight, opts.DefaultResolution},
		renders:  opts.RenderLog,
		watcher:  opts.Watcher,
		limiter:  rate.NewLimiter(limit, 1),
		clock:    clock,
	}, nil
}

func (m *Manager) now() time.Time { return m.clock() }

func (m *Manager) newRenderPath() string {
	return filepath.Join(m.dir, "plot-"+uuid.NewString()+"."+m.ext)
}

func (m *Manager) forget(d *Device) {
	for i, x := range m.devices {
		if x == d {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}

func (m *Manager) recordRender(d *Device, plotID uuid.UUID, path string, bytes int64, result string, dur time.Duration) {
	m.metrics.PlotRendered(result, dur)
	if m.renders == nil {
		return
	}
	err := m.renders.RecordRender(storage.RenderRecord{
		DeviceID:    d.id.String(),
		PlotID:      plotID.String(),
		Path:        path,
		Width:       d.width,
		Height:      d.height,
		Bytes:       bytes,
		Placeholder: result == "placeholder",
	})
	if err != nil {
		m.log.Warn("record render", "device", d.id, "error", err)
	}
}

// NewDevice asks the IDE for a new plot window and registers a virtual
// device for it with the runtime. The device becomes current.
func (m *Manager) NewDevice() (*Device, error) {
	id := uuid.New()
	resp, err := m.peer.SendRequest("?PlotDeviceCreate", id.String())
	if err != nil {
		return nil, err
	}
	var size [3]float64
	malformed := len(resp.Args) != 3
	for i := 0; !malformed && i < 3; i++ {
		if resp.Arg(i, &size[i]) != nil {
			malformed = true
			break
		}
		if size[i] == 0 {
			size[i] = m.defaults[i]
		}
		malformed = size[i] <= 0
	}
	if malformed {
		err := apperrors.Violation("PlotDeviceCreate response is malformed; it must have 3 positive numbers: width, height, resolution")
		m.peer.Fail(err)
		return nil, err
	}
	width, height, res := size[0], size[1], size[2]

	d := newDevice(m, id, width, height, res)
	m.devices = append(m.devices, d)
	n := m.graphics.AddDevice(d)
	m.log.Info("plot device created", "device", id, "number", n,
		"width", width, "height", height, "res", res)
	return d, nil
}

// Device returns the open device with the given id.
func (m *Manager) Device(id string) (*Device, error) {
	for _, d := range m.devices {
		if d.id.String() == id {
			return d, nil
		}
	}
	return nil, apperrors.DeviceNotFound(id)
}

// Devices returns the open devices in creation order.
func (m *Manager) Devices() []*Device {
	return append([]*Device(nil), m.devices...)
}

// RenderPending renders the pending active snapshot of every device. Unless
// immediately is set only snapshots whose drawing has been quiet for
// PendingRenderTimeout are rendered, and the pass itself is rate limited.
func (m *Manager) RenderPending(immediately bool) {
	if !immediately && !m.limiter.Allow() {
		return
	}
	for _, d := range m.Devices() {
		d.renderRequest(immediately)
	}
}

func (m *Manager) snapshot(d *Device, plotID string) (*Snapshot, error) {
	id, err := uuid.Parse(plotID)
	if err != nil {
		return nil, apperrors.PlotNotFound(d.id.String(), plotID)
	}
	s := d.history.Get(id)
	if s == nil {
		return nil, apperrors.PlotNotFound(d.id.String(), plotID)
	}
	return s, nil
}

// show re-renders the active snapshot of d, or sends a placeholder when
// the history is empty.
func (m *Manager) show(d *Device) {
	if s := d.history.Active(); s != nil {
		s.renderFromSnapshot()
		return
	}
	d.killBacking()
	d.sendPlaceholder(uuid.Nil, time.Now())
}

func (m *Manager) navigate(id string, move func(h *History)) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	d.renderRequest(true)
	before := d.history.Active()
	move(&d.history)
	if after := d.history.Active(); after == nil || after != before {
		m.show(d)
	}
	return nil
}

// Next shows the snapshot after the active one. At the end of the history
// it does nothing.
func (m *Manager) Next(id string) error {
	return m.navigate(id, (*History).MoveNext)
}

// Previous shows the snapshot before the active one. At the start of the
// history it does nothing.
func (m *Manager) Previous(id string) error {
	return m.navigate(id, (*History).MovePrevious)
}

// Select makes plotID the active snapshot of device id. With force set the
// snapshot is shown again even if it is already active.
func (m *Manager) Select(id, plotID string, force bool) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	s, err := m.snapshot(d, plotID)
	if err != nil {
		return err
	}
	d.renderRequest(true)
	if d.history.Select(s.ID) || force {
		s.renderFromSnapshot()
	}
	return nil
}

// Remove drops plotID from the history of device id and shows whatever is
// active afterwards.
func (m *Manager) Remove(id, plotID string) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	s, err := m.snapshot(d, plotID)
	if err != nil {
		return err
	}
	d.renderRequest(true)
	d.history.Remove(s.ID)
	s.destroy()
	m.show(d)
	return nil
}

// Clear drops the whole history of device id.
func (m *Manager) Clear(id string) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	for _, s := range d.history.Clear() {
		s.destroy()
	}
	m.show(d)
	return nil
}

// Copy appends a snapshot sharing the content of plotID on device srcID to
// the history of device dstID and shows it there.
func (m *Manager) Copy(srcID, plotID, dstID string) error {
	src, err := m.Device(srcID)
	if err != nil {
		return err
	}
	dst, err := m.Device(dstID)
	if err != nil {
		return err
	}
	s, err := m.snapshot(src, plotID)
	if err != nil {
		return err
	}
	src.renderRequest(true)
	if dst != src {
		dst.renderRequest(true)
	}

	ns := newSnapshot(dst)
	if s.displayList.Valid() {
		ns.setDisplayList(s.displayList.Share())
	}
	dst.history.Append(ns)
	ns.renderFromSnapshot()
	return nil
}

// Resize changes the size of device id and re-renders its active snapshot
// at the new size.
func (m *Manager) Resize(id string, width, height, res float64) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 || res <= 0 {
		return apperrors.New(apperrors.CodePlotInvalidSize,
			fmt.Sprintf("invalid plot size %gx%g at %g dpi", width, height, res))
	}
	d.killBacking()
	d.width, d.height, d.res = width, height, res
	d.refreshDesc()

	s := d.history.Active()
	switch {
	case s == nil:
		d.sendPlaceholder(uuid.Nil, time.Now())
	case s.pending:
		s.renderFromDisplayList()
	default:
		s.renderFromSnapshot()
	}
	m.log.Debug("plot device resized", "device", d.id, "width", width, "height", height, "res", res)
	return nil
}

// Info describes a device and its history.
type Info struct {
	DeviceID    string   `json:"device_id"`
	Number      int      `json:"number"`
	Width       float64  `json:"width"`
	Height      float64  `json:"height"`
	Resolution  float64  `json:"resolution"`
	ActiveIndex int      `json:"active_index"`
	Plots       []string `json:"plots"`
}

// Info returns the state of device id.
func (m *Manager) Info(id string) (Info, error) {
	d, err := m.Device(id)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		DeviceID:    d.id.String(),
		Number:      m.graphics.DeviceNumber(d),
		Width:       d.width,
		Height:      d.height,
		Resolution:  d.res,
		ActiveIndex: d.history.ActiveIndex(),
		Plots:       []string{},
	}
	for _, s := range d.history.plots {
		info.Plots = append(info.Plots, s.ID.String())
	}
	return info, nil
}

// CloseDevice closes device id and unregisters it from the runtime.
func (m *Manager) CloseDevice(id string) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	d.Close()
	m.graphics.RemoveDevice(d)
	return nil
}

// Close closes every device. It is used at teardown.
func (m *Manager) Close() {
	for _, d := range m.Devices() {
		d.Close()
		m.graphics.RemoveDevice(d)
	}
}
