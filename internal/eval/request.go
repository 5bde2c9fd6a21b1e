// Package eval turns eval requests into interpreter calls and encodes
// their outcome for the wire.
package eval

import (
	"strings"

	apperrors "github.com/statshost/host/internal/errors"
)

// Flags modify how an eval request runs.
type Flags uint16

const (
	FlagBaseEnv    Flags = 1 << iota // 'B': evaluate in the base environment
	FlagEmptyEnv                     // 'E': evaluate in the empty environment
	FlagNewEnv                       // 'N': evaluate in a fresh child environment
	FlagReentrant                    // '@': nested eval requests may run during this one
	FlagCancelable                   // '/': the peer may cancel this eval
	FlagNoResult                     // '0': do not send the value back
	FlagRaw                          // 'r': send the value as a blob
)

var flagChars = []struct {
	c    byte
	flag Flags
}{
	{'B', FlagBaseEnv},
	{'E', FlagEmptyEnv},
	{'N', FlagNewEnv},
	{'@', FlagReentrant},
	{'/', FlagCancelable},
	{'0', FlagNoResult},
	{'r', FlagRaw},
}

// Has reports whether all of want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

func (f Flags) String() string {
	var b strings.Builder
	for _, fc := range flagChars {
		if f.Has(fc.flag) {
			b.WriteByte(fc.c)
		}
	}
	return b.String()
}

// ParseFlags decodes the flag characters that follow "?=". Unknown
// characters and conflicting environment selectors are protocol violations.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for i := 0; i < len(s); i++ {
		found := false
		for _, fc := range flagChars {
			if fc.c == s[i] {
				f |= fc.flag
				found = true
				break
			}
		}
		if !found {
			return 0, apperrors.Violation("unknown eval flag %q", s[i])
		}
	}
	if f.Has(FlagBaseEnv | FlagEmptyEnv) {
		return 0, apperrors.Violation("eval flags %q select more than one environment", s)
	}
	return f, nil
}

// Request is one eval request from the peer.
type Request struct {
	ID    string
	Flags Flags
	Expr  string
}

// NewRequest builds a Request from the message name suffix after "?=" and
// the expression argument. A single leading '=' on the expression is
// dropped.
func NewRequest(id, flagChars, expr string) (*Request, error) {
	flags, err := ParseFlags(flagChars)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Flags: flags, Expr: strings.TrimPrefix(expr, "=")}, nil
}
