package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/statshost/host/internal/errors"
)

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	Addr string

	// TLSCert and TLSKey enable wss:// when both are set.
	TLSCert string
	TLSKey  string

	// TokenHash is a bcrypt hash; when set, clients must present the
	// matching bearer token.
	TokenHash string

	// ProtocolConstraint, when set, must be satisfied by the version the
	// client declares in ProtocolHeader.
	ProtocolConstraint string

	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Listener accepts exactly one WebSocket peer on /ws. While a peer is
// attached, further upgrade attempts get 409 Conflict.
type Listener struct {
	opts       ListenerOptions
	log        *slog.Logger
	upgrader   websocket.Upgrader
	constraint *semver.Constraints
	mux        *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
	ln         net.Listener
	attached   bool

	conns chan *WSConn
}

// NewListener validates opts and builds a Listener. Call Start to listen.
func NewListener(opts ListenerOptions) (*Listener, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		opts: opts,
		log:  logger.With("component", "listener"),
		upgrader: websocket.Upgrader{
			// The IDE may run from any origin; access is gated by the token.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		mux:   http.NewServeMux(),
		conns: make(chan *WSConn, 1),
	}

	if opts.ProtocolConstraint != "" {
		c, err := semver.NewConstraint(opts.ProtocolConstraint)
		if err != nil {
			return nil, apperrors.InvalidConfig("protocol_constraint", err.Error())
		}
		l.constraint = c
	}

	l.mux.HandleFunc("/ws", l.handleWebSocket)
	return l, nil
}

// Handle registers an extra HTTP handler, such as /metrics.
func (l *Listener) Handle(pattern string, h http.Handler) {
	l.mux.Handle(pattern, h)
}

// Start listens and serves in the background. Port conflicts and
// certificate errors are returned immediately.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.opts.Addr, err)
	}

	if l.opts.TLSCert != "" && l.opts.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(l.opts.TLSCert, l.opts.TLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	l.mu.Lock()
	l.ln = ln
	l.httpServer = &http.Server{Handler: l.mux, ReadHeaderTimeout: 10 * time.Second}
	srv := l.httpServer
	l.mu.Unlock()

	go func() {
		l.log.Info("listening", "addr", ln.Addr().String(), "tls", l.opts.TLSCert != "")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.log.Error("listener stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.opts.Addr
}

// Accept waits for the peer to attach.
func (l *Listener) Accept(ctx context.Context) (*WSConn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the HTTP server.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	srv := l.httpServer
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (l *Listener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := l.authorize(r); err != nil {
		l.log.Warn("connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := l.checkProtocol(r); err != nil {
		l.log.Warn("connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusUpgradeRequired)
		return
	}

	l.mu.Lock()
	if l.attached {
		l.mu.Unlock()
		http.Error(w, "a client is already attached", http.StatusConflict)
		return
	}
	l.attached = true
	l.mu.Unlock()

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("websocket upgrade failed", "error", err)
		l.mu.Lock()
		l.attached = false
		l.mu.Unlock()
		return
	}

	l.log.Info("client attached", "remote", r.RemoteAddr)
	l.conns <- NewWSConn(conn, l.opts.Heartbeat, l.log)
}

func (l *Listener) authorize(r *http.Request) error {
	if l.opts.TokenHash == "" {
		return nil
	}
	token := extractBearerToken(r)
	if token == "" {
		return apperrors.New(apperrors.CodeAuthDenied, "missing bearer token")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(l.opts.TokenHash), []byte(token)); err != nil {
		return apperrors.Wrap(apperrors.CodeAuthDenied, "invalid bearer token", err)
	}
	return nil
}

func (l *Listener) checkProtocol(r *http.Request) error {
	if l.constraint == nil {
		return nil
	}
	declared := r.Header.Get(ProtocolHeader)
	if declared == "" {
		declared = r.URL.Query().Get("protocol")
	}
	if declared == "" {
		return nil
	}
	v, err := semver.NewVersion(declared)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeServerHandshakeFailed, "invalid protocol version", err)
	}
	if !l.constraint.Check(v) {
		return apperrors.New(apperrors.CodeServerHandshakeFailed,
			fmt.Sprintf("protocol %s does not satisfy %s", v, l.opts.ProtocolConstraint))
	}
	return nil
}

// extractBearerToken reads "Authorization: Bearer <token>", falling back to
// the "token" query parameter for clients that cannot set headers.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "bearer "
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return auth[len(bearerPrefix):]
	}
	return r.URL.Query().Get("token")
}

// HashToken returns the bcrypt hash to store in auth_token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
