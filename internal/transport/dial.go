package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

// DialOptions configures Dial.
type DialOptions struct {
	Token           string
	ProtocolVersion string
	Heartbeat       time.Duration
	// MaxElapsed bounds the total retry time. Zero means one minute.
	MaxElapsed time.Duration
	Logger     *slog.Logger
}

// Dial connects to a listening IDE, retrying with exponential backoff
// until MaxElapsed passes or ctx is done.
func Dial(ctx context.Context, url string, opts DialOptions) (*WSConn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport")

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	if opts.ProtocolVersion != "" {
		header.Set(ProtocolHeader, opts.ProtocolVersion)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = opts.MaxElapsed
	if b.MaxElapsedTime == 0 {
		b.MaxElapsedTime = time.Minute
	}

	var conn *websocket.Conn
	op := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Info("dial failed, retrying", "url", url, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	logger.Info("connected", "url", url)
	return NewWSConn(conn, opts.Heartbeat, logger), nil
}
