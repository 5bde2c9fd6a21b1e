// Command wsclient is an interactive console for a statshost listener. It
// answers console prompts from the terminal and prints output and plot
// paths as they arrive.
// Usage: go run ./cmd/wsclient [-token T] ws://127.0.0.1:7171/ws
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/statshost/host/internal/protocol"
	"github.com/statshost/host/internal/transport"
	"github.com/statshost/host/internal/wire"
)

func main() {
	token := flag.String("token", "", "Bearer token for the listener")
	flag.Parse()

	url := "ws://127.0.0.1:7171/ws"
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", url)
	conn, err := transport.Dial(ctx, url, transport.DialOptions{
		Token:           *token,
		ProtocolVersion: protocol.Version,
		MaxElapsed:      10 * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	in := newLineReader()
	defer in.Close()

	c := &client{conn: conn, in: in, out: os.Stdout, errOut: os.Stderr, lastID: 1}
	if err := c.loop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// lineReader reads one line of user input after a prompt.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

func newLineReader() lineReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return plainReader{r: bufio.NewReader(os.Stdin), w: os.Stdout}
	}
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	return &editReader{state: state}
}

// editReader is a terminal line editor with history.
type editReader struct {
	state *liner.State
}

func (e *editReader) Prompt(prompt string) (string, error) {
	for {
		line, err := e.state.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) != "" {
			e.state.AppendHistory(line)
		}
		return line, nil
	}
}

func (e *editReader) Close() error { return e.state.Close() }

// plainReader reads piped input.
type plainReader struct {
	r *bufio.Reader
	w io.Writer
}

func (p plainReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.w, prompt)
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (plainReader) Close() error { return nil }

type client struct {
	conn   transport.Conn
	in     lineReader
	out    io.Writer
	errOut io.Writer
	lastID uint64
}

func (c *client) nextID() uint64 {
	c.lastID += 2
	return c.lastID
}

func (c *client) respond(req *wire.Message, args ...any) error {
	m, err := wire.New(c.nextID(), req.ID, wire.ResponseName(req.Name), args)
	if err != nil {
		return err
	}
	return wire.Write(c.conn, m)
}

// loop handles messages until the host ends the session.
func (c *client) loop() error {
	for {
		m, err := wire.Read(c.conn)
		if err != nil {
			var ce *websocket.CloseError
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) || errors.As(err, &ce) {
				fmt.Fprintln(c.errOut, "Connection closed")
				return nil
			}
			return err
		}
		done, err := c.handle(m)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (c *client) handle(m *wire.Message) (done bool, err error) {
	arg := func(i int) string {
		var s string
		_ = m.Arg(i, &s)
		return s
	}

	switch m.Name {
	case "!Host":
		fmt.Fprintf(c.errOut, "Connected to statshost %s (protocol %s)\n", arg(1), arg(0))
	case "!":
		fmt.Fprint(c.out, arg(0))
	case "!!":
		fmt.Fprint(c.errOut, arg(0))
	case "!ShowMessage":
		fmt.Fprintf(c.out, "[message] %s\n", arg(0))
	case "!Plot":
		if path := arg(2); path != "" {
			fmt.Fprintf(c.out, "[plot] %s\n", path)
		}
	case "!PlotDeviceDestroy":
		fmt.Fprintf(c.out, "[plot device %s closed]\n", arg(0))
	case "!End":
		var saved bool
		_ = m.Arg(0, &saved)
		fmt.Fprintf(c.errOut, "Session ended (workspace saved: %v)\n", saved)
		return true, nil
	case "!+", "!-", "!CanceledAll":
	case "?>":
		if !m.IsNullArg(3) {
			fmt.Fprintf(c.errOut, "[input rejected: %s]\n", arg(3))
		}
		line, err := c.in.Prompt(arg(4))
		if err != nil {
			return false, c.respond(m, nil)
		}
		return false, c.respond(m, line)
	case "?YesNo", "?YesNoCancel", "?OkCancel":
		return false, c.respond(m, c.ask(m.Name, arg(1)))
	case "?PlotDeviceCreate":
		return false, c.respond(m, 640, 480, 96)
	case "?Locator":
		return false, c.respond(m, false, 0, 0)
	default:
		fmt.Fprintf(c.errOut, "[unhandled %s]\n", m)
	}
	return false, nil
}

// ask prompts until the answer is one the box allows.
func (c *client) ask(box, text string) string {
	choices := map[string]string{"?YesNo": "yn", "?YesNoCancel": "ync", "?OkCancel": "oc"}[box]
	prompt := fmt.Sprintf("%s [%s] ", text, strings.Join(strings.Split(choices, ""), "/"))
	for {
		line, err := c.in.Prompt(prompt)
		if err != nil {
			if strings.ContainsRune(choices, 'c') {
				return "C"
			}
			return "N"
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if len(answer) > 0 && strings.ContainsRune(choices, rune(answer[0])) {
			return strings.ToUpper(answer[:1])
		}
	}
}
