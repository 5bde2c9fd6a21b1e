package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
)

func TestToJSON_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   interp.Value
		want any
	}{
		{"null", interp.Null{}, nil},
		{"true", interp.Bool(true), true},
		{"logical NA", interp.Logical{interp.NALogical}, nil},
		{"integer", interp.Int(2), int64(2)},
		{"integer NA", interp.Integer{interp.NAInteger}, nil},
		{"double", interp.Num(1.5), 1.5},
		{"double NA", interp.Double{interp.NADouble()}, nil},
		{"string", interp.String("a"), "a"},
		{"string NA", interp.Character{nil}, nil},
		{"empty vector", interp.Double{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   interp.Value
	}{
		{"multi-element vector", interp.Double{1, 2}},
		{"NaN", interp.Num(math.NaN())},
		{"Inf", interp.Num(math.Inf(1))},
		{"raw", interp.Raw{1}},
		{"closure", interp.Opaque{Type: "closure"}},
		{"duplicate names", &interp.List{Values: []interp.Value{interp.Int(1), interp.Int(2)}, Names: []string{"a", "a"}}},
		{"partially named", &interp.List{Values: []interp.Value{interp.Int(1), interp.Int(2)}, Names: []string{"a", ""}}},
		{"nested failure", &interp.List{Values: []interp.Value{interp.Double{1, 2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToJSON(tt.in)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeEvalEncoding))
		})
	}
}

func TestToJSON_Lists(t *testing.T) {
	arr, err := ToJSON(&interp.List{Values: []interp.Value{interp.Int(1), interp.Null{}, interp.String("x")}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), nil, "x"}, arr)

	obj, err := ToJSON(&interp.List{
		Values: []interp.Value{interp.Int(1), interp.Null{}, interp.Logical{interp.NALogical}},
		Names:  []string{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, obj, "NULL and NA elements are dropped from objects")
}

func TestToJSON_Environment(t *testing.T) {
	env := interp.NewMapEnv("e", nil)
	env.Set("x", interp.Int(1))
	env.Set("y", interp.Null{})

	got, err := ToJSON(env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": int64(1)}, got)
}

func TestToBlob(t *testing.T) {
	b, err := ToBlob(interp.Raw{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)

	b, err = ToBlob(interp.Null{})
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = ToBlob(interp.String("x"))
	assert.Error(t, err)
}
