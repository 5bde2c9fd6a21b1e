package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/statshost/host/internal/transport"
	"github.com/statshost/host/internal/wire"
)

type scripted struct {
	lines   []string
	prompts []string
}

func (s *scripted) Prompt(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scripted) Close() error { return nil }

func newTestClient(t *testing.T, lines ...string) (*client, transport.Conn, *bytes.Buffer, *scripted) {
	t.Helper()
	a, b := transport.Pipe()
	t.Cleanup(func() { a.Close() })
	in := &scripted{lines: lines}
	var out bytes.Buffer
	c := &client{conn: a, in: in, out: &out, errOut: &out, lastID: 1}
	return c, b, &out, in
}

func request(t *testing.T, id uint64, name string, args ...any) *wire.Message {
	t.Helper()
	m, err := wire.New(id, wire.RequestMarker, name, args)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return m
}

func readResponse(t *testing.T, host transport.Conn) *wire.Message {
	t.Helper()
	m, err := wire.Read(host)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return m
}

func TestHandlePromptAnswersWithLine(t *testing.T) {
	c, host, _, in := newTestClient(t, "x <- 1")
	req := request(t, 2, "?>", []string{}, 4096, true, nil, "> ")

	errc := make(chan error, 1)
	go func() {
		_, err := c.handle(req)
		errc <- err
	}()

	resp := readResponse(t, host)
	if err := <-errc; err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.RequestID != req.ID {
		t.Fatalf("response to %d, want %d", resp.RequestID, req.ID)
	}
	var line string
	if err := resp.Arg(0, &line); err != nil || line != "x <- 1" {
		t.Fatalf("got %q (%v)", line, err)
	}
	if len(in.prompts) != 1 || in.prompts[0] != "> " {
		t.Fatalf("unexpected prompts %q", in.prompts)
	}
	if resp.ID%2 != 1 {
		t.Fatalf("client ids must be odd, got %d", resp.ID)
	}
}

func TestHandlePromptEOFAnswersNull(t *testing.T) {
	c, host, _, _ := newTestClient(t)
	req := request(t, 2, "?>", []string{}, 4096, true, nil, "> ")
	go c.handle(req)

	resp := readResponse(t, host)
	if !resp.IsNullArg(0) {
		t.Fatalf("expected null answer, got %s", resp)
	}
}

func TestAskRepeatsUntilValid(t *testing.T) {
	c, host, _, in := newTestClient(t, "maybe", "", "yes")
	req := request(t, 4, "?YesNo", []string{}, "Save workspace?")
	go c.handle(req)

	resp := readResponse(t, host)
	var answer string
	if err := resp.Arg(0, &answer); err != nil || answer != "Y" {
		t.Fatalf("got %q (%v)", answer, err)
	}
	if len(in.prompts) != 3 || in.prompts[0] != "Save workspace? [y/n] " {
		t.Fatalf("unexpected prompts %q", in.prompts)
	}
}

func TestAskEOFPicksSafeAnswer(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	if got := c.ask("?YesNoCancel", "Quit?"); got != "C" {
		t.Fatalf("YesNoCancel on EOF = %q, want C", got)
	}
	if got := c.ask("?YesNo", "Quit?"); got != "N" {
		t.Fatalf("YesNo on EOF = %q, want N", got)
	}
}

func TestHandleNotifications(t *testing.T) {
	c, _, out, _ := newTestClient(t)
	notify := func(name string, args ...any) bool {
		m, err := wire.New(2, 0, name, args)
		if err != nil {
			t.Fatalf("build %s: %v", name, err)
		}
		done, err := c.handle(m)
		if err != nil {
			t.Fatalf("handle %s: %v", name, err)
		}
		return done
	}

	notify("!", "[1] 2\n")
	notify("!Plot", "dev", "plot", "/tmp/p.png")
	if !notify("!End", true) {
		t.Fatal("!End should end the session")
	}

	got := out.String()
	for _, want := range []string{"[1] 2\n", "[plot] /tmp/p.png", "workspace saved: true"} {
		if !bytes.Contains([]byte(got), []byte(want)) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
