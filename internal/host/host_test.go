package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statshost/host/internal/calc"
	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/storage"
	"github.com/statshost/host/internal/transport"
	"github.com/statshost/host/internal/wire"
)

const waitTimeout = 5 * time.Second

// peer plays the IDE over an in-memory connection.
type peer struct {
	t      *testing.T
	conn   transport.Conn
	msgs   chan *wire.Message
	lastID uint64
	seen   []*wire.Message
}

func newPeer(t *testing.T, conn transport.Conn) *peer {
	p := &peer{t: t, conn: conn, msgs: make(chan *wire.Message, 64), lastID: 1}
	go func() {
		defer close(p.msgs)
		for {
			m, err := wire.Read(conn)
			if err != nil {
				return
			}
			p.msgs <- m
		}
	}()
	return p
}

// next returns the next message from the host, or nil once the connection
// is closed.
func (p *peer) next() *wire.Message {
	p.t.Helper()
	select {
	case m := <-p.msgs:
		return m
	case <-time.After(waitTimeout):
		p.t.Fatal("timed out waiting for a message from the host")
	}
	return nil
}

// await skips notifications until a message named name arrives. Any other
// request is a test failure.
func (p *peer) await(name string) *wire.Message {
	p.t.Helper()
	for {
		m := p.next()
		if m == nil {
			p.t.Fatalf("connection closed while waiting for %s", name)
		}
		if m.Name == name {
			return m
		}
		if m.IsRequest() {
			p.t.Fatalf("unexpected request %s while waiting for %s", m, name)
		}
		p.seen = append(p.seen, m)
	}
}

// drain reads until the host closes the connection.
func (p *peer) drain() {
	p.t.Helper()
	for m := p.next(); m != nil; m = p.next() {
		p.seen = append(p.seen, m)
	}
}

func (p *peer) nextID() uint64 {
	p.lastID += 2
	return p.lastID
}

func (p *peer) send(m *wire.Message, err error) *wire.Message {
	p.t.Helper()
	require.NoError(p.t, err)
	require.NoError(p.t, wire.Write(p.conn, m))
	return m
}

func (p *peer) request(name string, args ...any) *wire.Message {
	p.t.Helper()
	return p.send(wire.New(p.nextID(), wire.RequestMarker, name, args))
}

func (p *peer) notify(name string, args []any, blobs ...[]byte) {
	p.t.Helper()
	p.send(wire.New(p.nextID(), 0, name, args, blobs...))
}

func (p *peer) respond(req *wire.Message, args ...any) {
	p.t.Helper()
	p.send(wire.New(p.nextID(), req.ID, wire.ResponseName(req.Name), args))
}

func (p *peer) notifications(name string) []*wire.Message {
	var out []*wire.Message
	for _, m := range p.seen {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

func argString(t *testing.T, m *wire.Message, i int) string {
	t.Helper()
	var s string
	require.NoError(t, m.Arg(i, &s))
	return s
}

func argFloat(t *testing.T, m *wire.Message, i int) float64 {
	t.Helper()
	var f float64
	require.NoError(t, m.Arg(i, &f))
	return f
}

type fixture struct {
	h     *Host
	peer  *peer
	store *storage.SQLiteStore
	dir   string
	exits chan int
	done  chan error
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	hostConn, peerConn := transport.Pipe()

	store, err := storage.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store: store,
		dir:   t.TempDir(),
		exits: make(chan int, 1),
		done:  make(chan error, 1),
	}
	opts := Options{
		Runtime:      calc.New(calc.Options{}),
		Version:      "test",
		Blobs:        store,
		RenderLog:    store,
		PlotDir:      filepath.Join(f.dir, "plots"),
		PollInterval: 5 * time.Millisecond,
		Exit:         func(code int) { f.exits <- code },
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.h, err = New(hostConn, opts)
	require.NoError(t, err)
	f.peer = newPeer(t, peerConn)
	t.Cleanup(func() { _ = peerConn.Close() })
	return f
}

// start runs the host and consumes its handshake.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	go func() { f.done <- f.h.Run(context.Background()) }()
	hello := f.peer.await("!Host")
	assert.Equal(t, "1.0.0", argString(t, hello, 0))
	assert.Equal(t, "test", argString(t, hello, 1))
}

func (f *fixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("host did not stop")
	}
	return nil
}

// enter answers the next console prompt with line.
func (f *fixture) enter(t *testing.T, line string) {
	t.Helper()
	f.peer.respond(f.peer.await("?>"), line)
}

// quit answers the next console prompt with EOF and waits for Run.
func (f *fixture) quit(t *testing.T) {
	t.Helper()
	f.peer.respond(f.peer.await("?>"), nil)
	require.NoError(t, f.wait(t))
}

func TestRun_PromptAndEOF(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	prompt := f.peer.await("?>")
	require.Len(t, prompt.Args, 5)
	assert.JSONEq(t, `[]`, string(prompt.Args[0]))
	assert.Equal(t, float64(ConsoleBufferLen), argFloat(t, prompt, 1))
	assert.Equal(t, "true", string(prompt.Args[2]))
	assert.True(t, prompt.IsNullArg(3))
	assert.Equal(t, "> ", argString(t, prompt, 4))

	f.peer.respond(prompt, nil)
	require.NoError(t, f.wait(t))
	f.peer.drain()
	assert.Empty(t, f.peer.notifications("!End"))
}

func TestRun_ConsoleRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.enter(t, "x <- 2")
	f.enter(t, "x * 3")
	out := f.peer.await("!")
	assert.Contains(t, argString(t, out, 0), "6")
	assert.NotEmpty(t, f.peer.notifications("!+"))

	f.quit(t)
}

func TestRun_BufferOverflowRetries(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.enter(t, strings.Repeat("a", ConsoleBufferLen))
	retry := f.peer.await("?>")
	assert.Equal(t, RetryBufferOverflow, argString(t, retry, 3))

	f.peer.respond(retry, nil)
	require.NoError(t, f.wait(t))
}

func TestRun_NonStringInputIsViolation(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.peer.respond(f.peer.await("?>"), 42)
	err := f.wait(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))
}

func TestEval_BlockingCallbackRejected(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	prompt := f.peer.await("?>")

	req := f.peer.request("?=", `readline("name? ")`)
	resp := f.peer.await(":=")
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Equal(t, "OK", argString(t, resp, 0))
	assert.Contains(t, argString(t, resp, 1), "blocking callback not allowed")

	f.peer.respond(prompt, nil)
	require.NoError(t, f.wait(t))
}

func TestEval_ReentrantReadline(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	prompt := f.peer.await("?>")

	req := f.peer.request("?=@", `readline("name? ")`)
	nested := f.peer.await("?>")
	assert.JSONEq(t, fmt.Sprintf(`[%q]`, wire.FormatID(req.ID)), string(nested.Args[0]))
	assert.Equal(t, "false", string(nested.Args[2]))
	assert.Equal(t, "name? ", argString(t, nested, 4))
	f.peer.respond(nested, "ada")

	resp := f.peer.await(":=")
	assert.Equal(t, req.ID, resp.RequestID)
	assert.True(t, resp.IsNullArg(1))
	assert.Equal(t, "ada", argString(t, resp, 2))

	f.peer.respond(prompt, nil)
	require.NoError(t, f.wait(t))
}

func TestEval_YesNo(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.peer.await("?>")

	req := f.peer.request("?=@", `yesno("sure?")`)
	ask := f.peer.await("?YesNoCancel")
	assert.JSONEq(t, fmt.Sprintf(`[%q]`, wire.FormatID(req.ID)), string(ask.Args[0]))
	assert.Equal(t, "sure?", argString(t, ask, 1))
	f.peer.respond(ask, "Y")

	resp := f.peer.await(":=")
	assert.Equal(t, "true", string(resp.Args[2]))

	f.peer.request("?=@", `yesno("again?")`)
	f.peer.respond(f.peer.await("?YesNoCancel"), "maybe")

	err := f.wait(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))
}

func TestRun_MessagesAndErrors(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.enter(t, `alert("hi")`)
	msg := f.peer.await("!ShowMessage")
	assert.Equal(t, "hi", argString(t, msg, 0))

	f.enter(t, `stop("boom")`)
	errOut := f.peer.await("!!")
	assert.Equal(t, "Error: boom\n", argString(t, errOut, 0))

	f.quit(t)
}

func TestShutdown_SavesWorkspace(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws.json")
	f := newFixture(t, func(o *Options) { o.WorkspaceFile = ws })
	f.start(t)

	f.enter(t, "x <- 5")
	f.peer.await("?>")
	f.peer.notify("!Shutdown", []any{true})

	end := f.peer.await("!End")
	assert.Equal(t, "true", string(end.Args[0]))
	require.NoError(t, f.wait(t))

	data, err := os.ReadFile(ws)
	require.NoError(t, err)
	var vars map[string]any
	require.NoError(t, json.Unmarshal(data, &vars))
	assert.Equal(t, float64(5), vars["x"])
}

func TestShutdown_WithoutSave(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws.json")
	f := newFixture(t, func(o *Options) { o.WorkspaceFile = ws })
	f.start(t)

	f.peer.await("?>")
	f.peer.notify("!Shutdown", []any{false})

	end := f.peer.await("!End")
	assert.Equal(t, "false", string(end.Args[0]))
	require.NoError(t, f.wait(t))
	assert.NoFileExists(t, ws)
}

func TestShutdown_MalformedIsViolation(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.peer.await("?>")
	f.peer.notify("!Shutdown", []any{"yes"})

	err := f.wait(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))
}

func TestRun_LoadsWorkspace(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws.json")
	require.NoError(t, os.WriteFile(ws, []byte(`{"x": 7}`), 0600))
	f := newFixture(t, func(o *Options) { o.WorkspaceFile = ws })
	f.start(t)

	f.enter(t, "x + 1")
	out := f.peer.await("!")
	assert.Contains(t, argString(t, out, 0), "8")

	f.quit(t)
}

func TestIdleTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.IdleTimeout = 50 * time.Millisecond })
	f.start(t)

	f.peer.await("?>")
	end := f.peer.await("!End")
	assert.Equal(t, "false", string(end.Args[0]))
	require.NoError(t, f.wait(t))
}

func TestRun_ContextCancelEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { f.done <- f.h.Run(ctx) }()

	f.peer.await("!Host")
	f.peer.await("?>")
	cancel()

	end := f.peer.await("!End")
	assert.Equal(t, "false", string(end.Args[0]))
	require.NoError(t, f.wait(t))
}

func TestShutdown_ForcedExit(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ShutdownTimeout = 20 * time.Millisecond })
	t.Cleanup(func() { _ = f.h.Engine().Close() })

	f.h.requestShutdown(false, "test")
	select {
	case code := <-f.exits:
		assert.Equal(t, 2, code)
	case <-time.After(waitTimeout):
		t.Fatal("forced exit did not fire")
	}
}

func TestPeerDisconnectEndsRun(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.peer.await("?>")
	require.NoError(t, f.peer.conn.Close())
	require.NoError(t, f.wait(t))
}

func TestBlobService(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.peer.await("?>")

	f.peer.request("?CreateBlob")
	created := f.peer.await(":CreateBlob")
	id := argFloat(t, created, 0)

	f.peer.notify("!WriteBlob", []any{id, -1}, []byte("hello"))
	f.peer.request("?GetBlobSize", id)
	assert.Equal(t, float64(5), argFloat(t, f.peer.await(":GetBlobSize"), 0))

	f.peer.request("?ReadBlob", id, 1, 3)
	read := f.peer.await(":ReadBlob")
	assert.Empty(t, read.Args)
	require.Len(t, read.Blobs, 1)
	assert.Equal(t, "ell", string(read.Blobs[0]))

	f.peer.notify("!SetBlobSize", []any{id, 2})
	f.peer.request("?ReadBlob", id, 0, -1)
	read = f.peer.await(":ReadBlob")
	require.Len(t, read.Blobs, 1)
	assert.Equal(t, "he", string(read.Blobs[0]))

	n, err := f.store.CountBlobs()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.peer.notify("!DestroyBlob", []any{id})
	f.peer.request("?GetBlobSize", id)

	err = f.wait(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))
}

func TestBlobService_RejectsFractionalID(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.peer.await("?>")

	f.peer.request("?GetBlobSize", 1.5)
	err := f.wait(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))
}

func TestPlotExternals(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	prompt := f.peer.await("?>")

	f.peer.request("?=", "plot_device_new()")
	create := f.peer.await("?PlotDeviceCreate")
	f.peer.respond(create, 640, 480, 96)
	resp := f.peer.await(":=")
	dev := argString(t, resp, 2)
	assert.Equal(t, argString(t, create, 0), dev)

	f.peer.respond(prompt, "line(0, 0, 1, 1)")
	f.peer.await("?>")

	var drawn *wire.Message
	for _, m := range f.peer.notifications("!Plot") {
		if argString(t, m, 2) != "" {
			drawn = m
		}
	}
	require.NotNil(t, drawn, "no rendered plot before the prompt")
	assert.Equal(t, dev, argString(t, drawn, 0))
	require.Len(t, drawn.Blobs, 1)
	assert.NotEmpty(t, drawn.Blobs[0])
	assert.FileExists(t, argString(t, drawn, 2))

	f.peer.request("?=", fmt.Sprintf("plot_info(%q)", dev))
	info := f.peer.await(":=")
	var got struct {
		DeviceID string   `json:"device_id"`
		Width    float64  `json:"width"`
		Height   float64  `json:"height"`
		Plots    []string `json:"plots"`
	}
	require.NoError(t, info.Arg(2, &got))
	assert.Equal(t, dev, got.DeviceID)
	assert.Equal(t, float64(640), got.Width)
	assert.Equal(t, float64(480), got.Height)
	assert.Len(t, got.Plots, 1)
	assert.Equal(t, argString(t, drawn, 1), got.Plots[0])

	renders, err := f.store.RecentRenders(10)
	require.NoError(t, err)
	assert.NotEmpty(t, renders)
}

func TestPlotExternals_UnknownDevice(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	prompt := f.peer.await("?>")

	f.peer.request("?=", `plot_next("nope")`)
	resp := f.peer.await(":=")
	assert.False(t, resp.IsNullArg(1))

	f.peer.respond(prompt, nil)
	require.NoError(t, f.wait(t))
}

func TestNew_RequiresRuntime(t *testing.T) {
	a, _ := transport.Pipe()
	_, err := New(a, Options{PlotDir: t.TempDir()})
	require.Error(t, err)
}
