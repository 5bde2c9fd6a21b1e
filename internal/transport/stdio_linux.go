//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenStdio takes over fds 0 and 1 for framed messages. The originals are
// duplicated for the transport and fd 0 is pointed at /dev/null and fd 1 at
// stderr, so output written to the standard streams by the interpreter or
// its child processes cannot corrupt the message stream.
func OpenStdio() (*StreamConn, error) {
	in, err := unix.Dup(0)
	if err != nil {
		return nil, fmt.Errorf("dup stdin: %w", err)
	}
	out, err := unix.Dup(1)
	if err != nil {
		unix.Close(in)
		return nil, fmt.Errorf("dup stdout: %w", err)
	}

	devnull, err := unix.Open(os.DevNull, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer unix.Close(devnull)

	if err := unix.Dup3(devnull, 0, 0); err != nil {
		return nil, fmt.Errorf("redirect stdin: %w", err)
	}
	if err := unix.Dup3(2, 1, 0); err != nil {
		return nil, fmt.Errorf("redirect stdout: %w", err)
	}

	r := os.NewFile(uintptr(in), "transport-in")
	w := os.NewFile(uintptr(out), "transport-out")
	return NewStreamConn(r, w, multiCloser{r, w}), nil
}
