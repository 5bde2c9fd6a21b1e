package eval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
)

type fakeExpr string

func (e fakeExpr) Source() string { return string(e) }

type fakeRuntime struct {
	global, base, empty *interp.MapEnv
	evals               map[string]func(env interp.Env) (interp.Value, error)
	seenEnvs            []interp.Env
	debugSeen           []bool
}

func newFakeRuntime() *fakeRuntime {
	empty := interp.NewMapEnv("empty", nil)
	base := interp.NewMapEnv("base", empty)
	return &fakeRuntime{
		empty:  empty,
		base:   base,
		global: interp.NewMapEnv("global", base),
		evals:  map[string]func(interp.Env) (interp.Value, error){},
	}
}

func (r *fakeRuntime) Parse(text string) ([]interp.Expr, interp.ParseStatus, error) {
	switch {
	case strings.TrimSpace(text) == "":
		return nil, interp.ParseNull, nil
	case strings.HasSuffix(text, "("):
		return nil, interp.ParseIncomplete, nil
	case strings.Contains(text, "!!"):
		return nil, interp.ParseError, interp.Errorf("unexpected '!!'")
	}
	var out []interp.Expr
	for _, s := range strings.Split(text, ";") {
		out = append(out, fakeExpr(strings.TrimSpace(s)))
	}
	return out, interp.ParseOK, nil
}

func (r *fakeRuntime) Eval(e interp.Expr, env interp.Env) (interp.Value, error) {
	r.seenEnvs = append(r.seenEnvs, env)
	r.debugSeen = append(r.debugSeen, env.Debug())
	if fn, ok := r.evals[e.Source()]; ok {
		return fn(env)
	}
	return interp.String(e.Source()), nil
}

func (r *fakeRuntime) GlobalEnv() interp.Env                { return r.global }
func (r *fakeRuntime) BaseEnv() interp.Env                  { return r.base }
func (r *fakeRuntime) EmptyEnv() interp.Env                 { return r.empty }
func (r *fakeRuntime) NewEnv(p interp.Env) interp.Env       { return interp.NewMapEnv("new", p) }
func (r *fakeRuntime) SetCallbacks(interp.Callbacks)        {}
func (r *fakeRuntime) Register(string, interp.ExternalFunc) {}
func (r *fakeRuntime) Run(context.Context) error            { return nil }
func (r *fakeRuntime) Graphics() interp.Graphics            { return nil }

func counting() (before, after func(), counts *[2]int) {
	counts = &[2]int{}
	return func() { counts[0]++ }, func() { counts[1]++ }, counts
}

func TestEvaluate_LastStatementWins(t *testing.T) {
	rt := newFakeRuntime()
	rt.evals["fail"] = func(interp.Env) (interp.Value, error) { return nil, interp.Errorf("boom") }
	b := NewBridge(rt, nil)

	before, after, counts := counting()
	res := b.Evaluate(&Request{ID: "1", Expr: "fail; ok"}, before, after)

	assert.Equal(t, interp.ParseOK, res.Status)
	assert.NoError(t, res.Err, "earlier errors are discarded")
	assert.Equal(t, interp.String("ok"), res.Value)
	assert.Equal(t, [2]int{2, 2}, *counts)

	res = b.Evaluate(&Request{ID: "2", Expr: "ok; fail"}, before, after)
	require.Error(t, res.Err)
	assert.Equal(t, "boom", res.Err.Error())
	assert.Nil(t, res.Value)
}

func TestEvaluate_InterruptSkipsAfter(t *testing.T) {
	rt := newFakeRuntime()
	rt.evals["spin"] = func(interp.Env) (interp.Value, error) { return nil, interp.ErrInterrupted }
	b := NewBridge(rt, nil)

	before, after, counts := counting()
	res := b.Evaluate(&Request{ID: "1", Expr: "a; spin; never"}, before, after)

	assert.True(t, res.Canceled)
	assert.Nil(t, res.Value)
	assert.NoError(t, res.Err)
	assert.Equal(t, [2]int{2, 1}, *counts, "after is left to the caller for the interrupted statement")
	assert.Len(t, rt.seenEnvs, 2, "statements after the interrupt do not run")
}

func TestEvaluate_ParseOutcomes(t *testing.T) {
	b := NewBridge(newFakeRuntime(), nil)
	before, after, counts := counting()

	res := b.Evaluate(&Request{Expr: ""}, before, after)
	assert.Equal(t, interp.ParseNull, res.Status)
	assert.NoError(t, res.Err)

	res = b.Evaluate(&Request{Expr: "f("}, before, after)
	assert.Equal(t, interp.ParseIncomplete, res.Status)

	res = b.Evaluate(&Request{Expr: "x !! y"}, before, after)
	assert.Equal(t, interp.ParseError, res.Status)
	require.Error(t, res.Err)

	assert.Equal(t, [2]int{0, 0}, *counts, "nothing is evaluated when parsing fails")
}

func TestEvaluate_EnvironmentSelection(t *testing.T) {
	rt := newFakeRuntime()
	b := NewBridge(rt, nil)
	noop := func() {}

	b.Evaluate(&Request{Expr: "x"}, noop, noop)
	b.Evaluate(&Request{Expr: "x", Flags: FlagBaseEnv}, noop, noop)
	b.Evaluate(&Request{Expr: "x", Flags: FlagEmptyEnv}, noop, noop)
	b.Evaluate(&Request{Expr: "x", Flags: FlagNewEnv | FlagBaseEnv}, noop, noop)

	require.Len(t, rt.seenEnvs, 4)
	assert.Same(t, rt.global, rt.seenEnvs[0])
	assert.Same(t, rt.base, rt.seenEnvs[1])
	assert.Same(t, rt.empty, rt.seenEnvs[2])
	assert.Same(t, rt.base, rt.seenEnvs[3].Parent())
}

func TestEvaluate_SuspendsDebugFlag(t *testing.T) {
	rt := newFakeRuntime()
	rt.global.SetDebug(true)
	rt.evals["fail"] = func(interp.Env) (interp.Value, error) { return nil, interp.Errorf("x") }
	b := NewBridge(rt, nil)
	noop := func() {}

	b.Evaluate(&Request{Expr: "fail"}, noop, noop)

	assert.Equal(t, []bool{false}, rt.debugSeen)
	assert.True(t, rt.global.Debug(), "debug flag is restored after an error")
}

func TestEncode(t *testing.T) {
	b := NewBridge(newFakeRuntime(), nil)

	v, blob, err := b.Encode(Result{Value: interp.Int(2)}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Nil(t, blob)

	v, blob, err = b.Encode(Result{Value: interp.Int(2)}, FlagNoResult)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Nil(t, blob)

	v, blob, err = b.Encode(Result{Value: interp.Raw("abc")}, FlagRaw)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, []byte("abc"), blob)

	_, _, err = b.Encode(Result{Value: interp.Int(1)}, FlagRaw)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEvalEncoding))
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("1", "/", "=1+1")
	require.NoError(t, err)
	assert.Equal(t, "1+1", req.Expr)
	assert.True(t, req.Flags.Has(FlagCancelable))
	assert.False(t, req.Flags.Has(FlagReentrant))

	req, err = NewRequest("2", "", "==x")
	require.NoError(t, err)
	assert.Equal(t, "=x", req.Expr, "only one leading '=' is dropped")
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("BN@/0r")
	require.NoError(t, err)
	assert.Equal(t, "BN@/0r", f.String())

	_, err = ParseFlags("BE")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))

	_, err = ParseFlags("x")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation))
}
