//go:build !linux

package transport

import "os"

// OpenStdio uses the standard streams directly for framed messages.
func OpenStdio() (*StreamConn, error) {
	return NewStreamConn(os.Stdin, os.Stdout, nil), nil
}
