package interp

import (
	"math"
)

// Value is an interpreter value.
type Value interface {
	TypeName() string
}

// Tri is a logical with a missing state.
type Tri int8

const (
	False Tri = iota
	True
	NALogical
)

// NAInteger marks a missing integer.
const NAInteger int32 = math.MinInt32

// naDoubleBits is a quiet NaN with payload 1954, distinct from arithmetic NaN.
const naDoubleBits = 0x7FF00000000007A2

// NADouble returns the missing-value marker for doubles.
func NADouble() float64 { return math.Float64frombits(naDoubleBits) }

// IsNADouble reports whether x is the missing-value marker, as opposed to
// an arithmetic NaN.
func IsNADouble(x float64) bool {
	return math.IsNaN(x) && uint32(math.Float64bits(x)) == 1954
}

type (
	Null      struct{}
	Logical   []Tri
	Integer   []int32
	Double    []float64
	Character []*string // nil element is NA
	Raw       []byte
)

// List is a generic vector. Names is nil for an unnamed list.
type List struct {
	Values []Value
	Names  []string
}

// Opaque stands in for values the host cannot look into (closures,
// external pointers).
type Opaque struct {
	Type string
}

func (Null) TypeName() string      { return "NULL" }
func (Logical) TypeName() string   { return "logical" }
func (Integer) TypeName() string   { return "integer" }
func (Double) TypeName() string    { return "double" }
func (Character) TypeName() string { return "character" }
func (Raw) TypeName() string       { return "raw" }
func (*List) TypeName() string     { return "list" }
func (o Opaque) TypeName() string  { return o.Type }

// Str returns a character element.
func Str(s string) *string { return &s }

// Scalar constructors.
func Bool(b bool) Logical {
	if b {
		return Logical{True}
	}
	return Logical{False}
}
func Int(i int32) Integer       { return Integer{i} }
func Num(f float64) Double      { return Double{f} }
func String(s string) Character { return Character{Str(s)} }
