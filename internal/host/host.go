// Package host wires one IDE connection to the interpreter: the protocol
// engine, the console callbacks, the plot manager, the blob service and the
// shutdown and idle policies.
package host

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/eval"
	"github.com/statshost/host/internal/gd"
	"github.com/statshost/host/internal/interp"
	"github.com/statshost/host/internal/metrics"
	"github.com/statshost/host/internal/plot"
	"github.com/statshost/host/internal/protocol"
	"github.com/statshost/host/internal/storage"
	"github.com/statshost/host/internal/transport"
	"github.com/statshost/host/internal/wire"
)

// DefaultShutdownTimeout is how long a requested shutdown may take before
// the process is terminated.
const DefaultShutdownTimeout = time.Minute

// Options configures a Host.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Runtime is the interpreter. Required.
	Runtime interp.Runtime
	// Version is announced in the !Host handshake.
	Version string

	// Blobs backs the blob service. Blob messages are protocol violations
	// when it is nil.
	Blobs BlobStore
	// RenderLog records every !Plot sent.
	RenderLog storage.RenderLog

	PlotDir        string
	PlotFormat     string
	PlotWidth      float64
	PlotHeight     float64
	PlotResolution float64
	// WatchPlots re-renders plots whose files are deleted from PlotDir.
	WatchPlots bool

	// WorkspaceFile is loaded at startup and saved on "!Shutdown [true]".
	WorkspaceFile string

	// IdleTimeout requests a shutdown after this long without activity.
	// Zero disables it.
	IdleTimeout time.Duration
	// ShutdownTimeout bounds a requested shutdown. Zero means
	// DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
	// Exit terminates the process when a shutdown hangs. Default os.Exit.
	Exit func(code int)

	PollInterval time.Duration
}

// Host serves one connection.
type Host struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	rt      interp.Runtime
	engine  *protocol.Engine
	plots   *plot.Manager
	watcher *plot.Watcher
	blobs   BlobStore

	version         string
	workspace       string
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	exit            func(int)

	shutdownOnce sync.Once
	forceExit    *time.Timer
}

// New builds a Host for conn. Nothing is sent until Run.
func New(conn transport.Conn, opts Options) (*Host, error) {
	if opts.Runtime == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "host needs a runtime")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		log:             logger.With("component", "host"),
		metrics:         opts.Metrics,
		rt:              opts.Runtime,
		blobs:           opts.Blobs,
		version:         opts.Version,
		workspace:       opts.WorkspaceFile,
		idleTimeout:     opts.IdleTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
		exit:            opts.Exit,
	}
	if h.shutdownTimeout <= 0 {
		h.shutdownTimeout = DefaultShutdownTimeout
	}
	if h.exit == nil {
		h.exit = os.Exit
	}

	bridge := eval.NewBridge(opts.Runtime, logger)
	h.engine = protocol.New(conn, bridge, protocol.Options{
		Logger:       logger,
		Metrics:      opts.Metrics,
		PollInterval: opts.PollInterval,
	})

	if opts.WatchPlots && opts.PlotDir != "" {
		if err := os.MkdirAll(opts.PlotDir, 0755); err == nil {
			w, err := plot.NewWatcher(opts.PlotDir, logger)
			if err != nil {
				h.log.Warn("plot directory not watched", "dir", opts.PlotDir, "error", err)
			} else {
				h.watcher = w
			}
		}
	}

	plots, err := plot.NewManager(h.engine, opts.Runtime.Graphics(), plot.Options{
		Logger:            logger,
		Metrics:           opts.Metrics,
		Dir:               opts.PlotDir,
		Format:            opts.PlotFormat,
		DefaultWidth:      opts.PlotWidth,
		DefaultHeight:     opts.PlotHeight,
		DefaultResolution: opts.PlotResolution,
		RenderLog:         opts.RenderLog,
		Watcher:           h.watcher,
	})
	if err != nil {
		h.watcher.Close()
		return nil, err
	}
	h.plots = plots

	if g, ok := opts.Runtime.Graphics().(defaultDeviceSetter); ok {
		g.SetDefaultDevice(h.openDefaultDevice)
	}

	h.engine.OnCallback(func() { h.plots.RenderPending(false) })
	h.engine.OnIdle(func() { h.plots.RenderPending(false) })
	h.engine.Handle("!Shutdown", h.handleShutdown)
	if h.blobs != nil {
		h.registerBlobHandlers()
	}

	opts.Runtime.SetCallbacks(&console{engine: h.engine, plots: h.plots, log: h.log})
	h.registerExternals()
	return h, nil
}

type defaultDeviceSetter interface {
	SetDefaultDevice(open func() (gd.Device, error))
}

// openDefaultDevice opens a virtual device when code draws with none open.
func (h *Host) openDefaultDevice() (gd.Device, error) {
	d, err := h.plots.NewDevice()
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Engine returns the protocol engine.
func (h *Host) Engine() *protocol.Engine { return h.engine }

// Plots returns the plot manager.
func (h *Host) Plots() *plot.Manager { return h.plots }

// Run announces the host, serves the connection and runs the interpreter's
// REPL on the calling goroutine until the console ends, the peer asks to
// shut down, or the connection is lost. Cancelling ctx requests a shutdown
// without saving. It returns nil on an orderly end and the fatal error
// otherwise.
func (h *Host) Run(ctx context.Context) error {
	h.loadWorkspace()

	serveDone := make(chan error, 1)
	go func() { serveDone <- h.engine.Serve() }()

	if _, err := h.engine.SendNotification("!Host", []any{protocol.Version, h.version}); err != nil {
		h.teardown(serveDone)
		return err
	}
	h.log.Info("host started", "protocol", protocol.Version, "version", h.version)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.watch(ctx, stop)
	}()

	err := h.rt.Run(ctx)
	close(stop)
	wg.Wait()
	h.plots.Close()

	err = h.finish(ctx, err)
	h.teardown(serveDone)
	return err
}

// watch requests a shutdown when ctx ends or the host has been idle for
// too long.
func (h *Host) watch(ctx context.Context, stop <-chan struct{}) {
	var tick <-chan time.Time
	if h.idleTimeout > 0 {
		ticker := time.NewTicker(idleCheckInterval(h.idleTimeout))
		defer ticker.Stop()
		tick = ticker.C
		h.log.Info("idle timeout enabled", "timeout", h.idleTimeout)
	}
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			h.requestShutdown(false, "context done")
			return
		case <-tick:
			if idle := h.engine.IdleFor(); idle > h.idleTimeout {
				h.log.Info("idle timeout reached", "idle", idle.Round(time.Millisecond))
				h.requestShutdown(false, "idle timeout")
				return
			}
		}
	}
}

func idleCheckInterval(timeout time.Duration) time.Duration {
	return min(max(timeout/10, 10*time.Millisecond), time.Second)
}

// requestShutdown makes every wait loop unwind and arms the forced exit.
func (h *Host) requestShutdown(save bool, reason string) {
	h.engine.RequestShutdown(save)
	h.shutdownOnce.Do(func() {
		h.log.Info("shutting down", "reason", reason, "save", save)
		timeout := h.shutdownTimeout
		h.forceExit = time.AfterFunc(timeout, func() {
			h.log.Error("timed out waiting for graceful shutdown; terminating", "timeout", timeout)
			h.exit(2)
		})
	})
}

// finish turns the REPL's result into the host's and answers a requested
// shutdown with !End.
func (h *Host) finish(ctx context.Context, runErr error) error {
	if fatal := h.engine.Err(); fatal != nil {
		return fatal
	}
	if ctx.Err() != nil {
		h.requestShutdown(false, "context done")
	}
	if requested, save := h.engine.ShutdownRequested(); requested {
		saved := save && h.saveWorkspace()
		if _, err := h.engine.SendNotification("!End", []any{saved}); err != nil {
			h.log.Debug("!End not sent", "error", err)
		}
		return nil
	}
	switch {
	case runErr == nil:
		h.log.Info("console closed by peer")
		return nil
	case errors.Is(runErr, protocol.ErrDisconnected),
		apperrors.IsCode(runErr, apperrors.CodeProtocolDisconnected):
		return nil
	}
	h.log.Error("interpreter stopped", "error", runErr)
	return runErr
}

func (h *Host) teardown(serveDone <-chan error) {
	if err := h.watcher.Close(); err != nil {
		h.log.Debug("close plot watcher", "error", err)
	}
	_ = h.engine.Close()
	<-serveDone

	// A later Do is a no-op, so the timer cannot be armed after this.
	h.shutdownOnce.Do(func() {})
	if h.forceExit != nil {
		h.forceExit.Stop()
	}
	h.log.Info("host stopped")
}

func (h *Host) loadWorkspace() {
	if h.workspace == "" {
		return
	}
	loader, ok := h.rt.(interp.WorkspaceLoader)
	if !ok {
		return
	}
	if err := loader.LoadWorkspace(h.workspace); err != nil {
		h.log.Warn("workspace not loaded", "path", h.workspace, "error", err)
		return
	}
	h.log.Debug("workspace loaded", "path", h.workspace)
}

func (h *Host) saveWorkspace() bool {
	if h.workspace == "" {
		h.log.Info("workspace not saved: no workspace file configured")
		return false
	}
	saver, ok := h.rt.(interp.WorkspaceSaver)
	if !ok {
		h.log.Info("workspace not saved: runtime cannot save")
		return false
	}
	h.log.Info("saving workspace", "path", h.workspace)
	if err := saver.SaveWorkspace(h.workspace); err != nil {
		h.log.Error("failed to save workspace", "path", h.workspace, "error", err)
		return false
	}
	return true
}

// handleShutdown applies "!Shutdown [save]". Repeats are ignored.
func (h *Host) handleShutdown(msg *wire.Message) error {
	var save bool
	if len(msg.Args) != 1 || msg.Arg(0, &save) != nil {
		return apperrors.Violation("%s: one boolean argument expected", msg)
	}
	if requested, _ := h.engine.ShutdownRequested(); requested {
		return nil
	}
	h.requestShutdown(save, "requested by peer")
	return nil
}
