package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/statshost/host/internal/calc"
	"github.com/statshost/host/internal/certs"
	"github.com/statshost/host/internal/config"
	"github.com/statshost/host/internal/host"
	"github.com/statshost/host/internal/mdns"
	"github.com/statshost/host/internal/metrics"
	"github.com/statshost/host/internal/protocol"
	"github.com/statshost/host/internal/pty"
	"github.com/statshost/host/internal/storage"
	"github.com/statshost/host/internal/transport"
)

// renderRetention is how long entries stay in the plot render log.
const renderRetention = 7 * 24 * time.Hour

// systemTimeout bounds a single system() call.
const systemTimeout = 10 * time.Minute

// addHostFlags registers the flags shared by every command that runs a
// session. Zero values mean "use the config file".
func addHostFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "", "Log level: debug, info, warn, error (default: info)")
	f.String("log-format", "", "Log format: text or json (default: text)")
	f.String("log-file", "", "Append logs to this file instead of stderr")
	f.String("plot-dir", "", "Directory for rendered plots (default: <tmp>/statshost-plots)")
	f.String("plot-type", "", "Plot image format: png or jpeg (default: png)")
	f.String("db", "", "SQLite database for blobs and the render log (default: ~/.statshost/statshost.db)")
	f.String("workspace", "", "Workspace file loaded at startup and saved on request")
	f.Duration("idle-timeout", 0, "Shut down after this long without activity (default: never)")
}

// loadConfig reads the config file and applies the flags that were set on
// the command line over it.
func loadConfig(cmd *cobra.Command, mode string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Lookup(name) != nil && f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("log-file", &cfg.LogFile)
	str("plot-dir", &cfg.PlotDir)
	str("plot-type", &cfg.PlotType)
	str("db", &cfg.DBPath)
	str("workspace", &cfg.WorkspaceFile)
	str("addr", &cfg.Addr)
	str("tls-cert", &cfg.TLSCert)
	str("tls-key", &cfg.TLSKey)
	str("connect-url", &cfg.ConnectURL)
	if f.Changed("idle-timeout") {
		cfg.IdleTimeout, _ = f.GetDuration("idle-timeout")
	}
	if f.Lookup("mdns") != nil && f.Changed("mdns") {
		cfg.MdnsEnabled, _ = f.GetBool("mdns")
	}
	if f.Lookup("metrics") != nil && f.Changed("metrics") {
		cfg.Metrics, _ = f.GetBool("metrics")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}

func newServeCmd() *cobra.Command {
	var qr, selfSigned bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for one IDE connection over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, config.ModeWebSocket)
			if err != nil {
				return err
			}
			if selfSigned {
				pair, err := certs.Ensure(certs.Options{Hosts: certHosts(cfg.Addr)})
				if err != nil {
					return err
				}
				cfg.TLSCert, cfg.TLSKey = pair.CertPath, pair.KeyPath
				fmt.Fprintf(cmd.OutOrStdout(), "Certificate fingerprint: %s\n", pair.Fingerprint)
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return serve(ctx, cfg, qr, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addHostFlags(cmd)
	cmd.Flags().String("addr", "", "Listen address (default: 127.0.0.1:7171)")
	cmd.Flags().String("tls-cert", "", "TLS certificate; serves wss:// together with --tls-key")
	cmd.Flags().String("tls-key", "", "TLS private key")
	cmd.Flags().BoolVar(&selfSigned, "self-signed", false, "Serve wss:// with a generated certificate kept in ~/.statshost/certs")
	cmd.MarkFlagsMutuallyExclusive("self-signed", "tls-cert")
	cmd.Flags().Bool("mdns", false, "Advertise the listener on the local network")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
	cmd.Flags().BoolVar(&qr, "qr", false, "Print the connect URL as a QR code when stdout is a terminal")
	return cmd
}

func newPipeCmd() *cobra.Command {
	var stdio bool
	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Serve one IDE connection over framed stdin/stdout",
		Long: `pipe serves the protocol as length-prefixed frames on stdin and stdout.
With --stdio the host first moves those descriptors aside so output written
by evaluated code or child processes cannot corrupt the stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := config.ModePipe
			if stdio {
				mode = config.ModeStdio
			}
			cfg, err := loadConfig(cmd, mode)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			var conn transport.Conn
			if stdio {
				sc, err := transport.OpenStdio()
				if err != nil {
					return err
				}
				conn = sc
			} else {
				conn = transport.OpenPipe()
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return runSession(ctx, cfg, conn, logger, nil)
		},
	}
	addHostFlags(cmd)
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Detach fds 0 and 1 from the interpreter")
	return cmd
}

func newConnectCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "connect [url]",
		Short: "Dial an IDE's WebSocket endpoint and serve it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("connect-url", args[0]); err != nil {
					return err
				}
			}
			cfg, err := loadConfig(cmd, config.ModeConnect)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext(cmd)
			defer stop()
			conn, err := transport.Dial(ctx, cfg.ConnectURL, transport.DialOptions{
				Token:           token,
				ProtocolVersion: protocol.Version,
				Heartbeat:       cfg.HeartbeatInterval,
				Logger:          logger,
			})
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.ConnectURL, err)
			}
			return runSession(ctx, cfg, conn, logger, nil)
		},
	}
	addHostFlags(cmd)
	cmd.Flags().String("connect-url", "", "ws:// or wss:// endpoint of the IDE")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token presented to the IDE")
	return cmd
}

// serve listens, waits for one client and runs its session. The mDNS
// advertisement and the listener live as long as the session.
func serve(ctx context.Context, cfg *config.Config, qr bool, stdout, stderr io.Writer) error {
	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ln, err := transport.NewListener(transport.ListenerOptions{
		Addr:               cfg.Addr,
		TLSCert:            cfg.TLSCert,
		TLSKey:             cfg.TLSKey,
		TokenHash:          cfg.AuthTokenHash,
		ProtocolConstraint: cfg.ProtocolConstraint,
		Heartbeat:          cfg.HeartbeatInterval,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		ln.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	if err := ln.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ln.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("listener shutdown", "error", err)
		}
	}()

	tls := cfg.TLSCert != ""
	url := connectURL(ln.Addr(), tls)
	fmt.Fprintf(stdout, "Waiting for an IDE on %s\n", url)
	if qr && isTerminal(stdout) {
		displayQRCode(stdout, url)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MdnsEnabled {
		adv := mdns.NewAdvertiser(mdns.Config{
			Port:            listenPort(ln.Addr()),
			ProtocolVersion: protocol.Version,
			HostVersion:     Version,
			TLS:             tls,
			Auth:            cfg.AuthTokenHash != "",
			Logger:          logger,
		})
		g.Go(func() error {
			if err := adv.Run(gctx); err != nil {
				// Discovery is optional; the listener keeps serving.
				logger.Warn("mdns advertisement failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		conn, err := ln.Accept(gctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		return runSession(gctx, cfg, conn, logger, m)
	})
	return g.Wait()
}

// runSession wires storage, the runtime and the host around conn and runs
// until the session ends.
func runSession(ctx context.Context, cfg *config.Config, conn transport.Conn, logger *slog.Logger, m *metrics.Metrics) error {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
			conn.Close()
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer store.Close()

	if n, err := store.ResetBlobs(); err != nil {
		logger.Warn("reset blobs", "error", err)
	} else if n > 0 {
		logger.Info("dropped blobs from a previous session", "count", n)
	}
	if n, err := store.PruneRenders(renderRetention); err != nil {
		logger.Warn("prune render log", "error", err)
	} else if n > 0 {
		logger.Debug("pruned render log", "removed", n)
	}

	runner := &pty.Runner{Timeout: systemTimeout, Logger: logger}
	rt := calc.New(calc.Options{Logger: logger, System: runner.Run})

	h, err := host.New(conn, host.Options{
		Logger:         logger,
		Metrics:        m,
		Runtime:        rt,
		Version:        Version,
		Blobs:          store,
		RenderLog:      store,
		PlotDir:        cfg.PlotDir,
		PlotFormat:     cfg.PlotType,
		PlotWidth:      cfg.PlotWidth,
		PlotHeight:     cfg.PlotHeight,
		PlotResolution: cfg.PlotResolution,
		WatchPlots:     true,
		WorkspaceFile:  cfg.WorkspaceFile,
		IdleTimeout:    cfg.IdleTimeout,
	})
	if err != nil {
		conn.Close()
		return err
	}
	return h.Run(ctx)
}

func connectURL(addr string, tls bool) string {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, addr)
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// certHosts lists the names a generated certificate must cover for addr.
func certHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" || h == "localhost" || h == "127.0.0.1" {
		return hosts
	}
	if ip := net.ParseIP(h); ip != nil && ip.IsUnspecified() {
		return hosts
	}
	return append(hosts, h)
}
