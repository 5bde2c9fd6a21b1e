// Package mdns advertises the host's WebSocket listener on the local
// network with DNS-SD, so an IDE can find a running host without being
// told its address. Advertising is opt-in.
//
// The advertisement carries:
//   - service type _statshost._tcp
//   - TXT records: proto, version, name, and tls/auth flags
package mdns

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type of statshost listeners.
const ServiceType = "_statshost._tcp"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the listener port.
	Port int

	// Name is the instance name; the hostname when empty.
	Name string

	// ProtocolVersion and HostVersion let clients check compatibility
	// before connecting.
	ProtocolVersion string
	HostVersion     string

	// TLS and Auth tell clients to use wss:// and a bearer token.
	TLS  bool
	Auth bool

	Logger *slog.Logger
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	log    *slog.Logger
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser; Start registers it.
func NewAdvertiser(cfg Config) *Advertiser {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		config: cfg,
		log:    logger.With("component", "mdns"),
	}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "statshost"
	}
	return hostname
}

// txtRecords builds the TXT strings for name.
func (a *Advertiser) txtRecords(name string) []string {
	txt := []string{
		"proto=" + a.config.ProtocolVersion,
		"version=" + a.config.HostVersion,
		"name=" + name,
	}
	if a.config.TLS {
		txt = append(txt, "tls=1")
	}
	if a.config.Auth {
		txt = append(txt, "auth=1")
	}
	return txt
}

// Start registers the service. Calling it again while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(name, ServiceType, "local.", a.config.Port, a.txtRecords(name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	a.log.Info("advertising listener", "name", name, "port", a.config.Port)
	return nil
}

// Stop unregisters the service. It is safe to call at any time.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Run advertises until ctx is done.
func (a *Advertiser) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	a.Stop()
	return nil
}

func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is a listener found on the network.
type DiscoveredHost struct {
	Name            string
	Host            string
	Port            int
	ProtocolVersion string
	HostVersion     string
	TLS             bool
	Auth            bool
}

// URL returns the WebSocket URL of the host.
func (h DiscoveredHost) URL() string {
	scheme := "ws"
	if h.TLS {
		scheme = "wss"
	}
	host := h.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, host, h.Port)
}

func parseEntry(entry *zeroconf.ServiceEntry) DiscoveredHost {
	host := DiscoveredHost{
		Name: entry.Instance,
		Port: entry.Port,
	}
	if len(entry.AddrIPv4) > 0 {
		host.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host.Host = entry.AddrIPv6[0].String()
	}
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		switch key {
		case "proto":
			host.ProtocolVersion = value
		case "version":
			host.HostVersion = value
		case "name":
			host.Name = value
		case "tls":
			host.TLS = value == "1"
		case "auth":
			host.Auth = value == "1"
		}
	}
	return host
}

// Discover browses for statshost listeners until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		wg    sync.WaitGroup
	)
	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			hosts = append(hosts, parseEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	// zeroconf closes entries once ctx is done.
	wg.Wait()
	return hosts, nil
}
