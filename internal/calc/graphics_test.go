package calc

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statshost/host/internal/gd"
	"github.com/statshost/host/internal/interp"
)

func TestDrawWithoutDevice(t *testing.T) {
	g := NewGraphics()
	assert.ErrorIs(t, g.Line(0, 0, 1, 1), errNoDevice)
	assert.ErrorIs(t, g.CloseCurrent(), errNoDevice)
	assert.Nil(t, g.CurrentDevice())
}

func TestDisplayListRecording(t *testing.T) {
	g := NewGraphics()
	d := &recordingDevice{}
	require.Equal(t, 1, g.AddDevice(d))
	assert.Equal(t, []string{"activate"}, d.calls)

	require.NoError(t, g.Line(0, 0, 1, 1))
	require.NoError(t, g.Rect(0, 0, 2, 2))
	want := []string{"newpage", "mode1", "line", "mode0", "mode1", "rect", "mode0"}
	assert.Equal(t, want, d.drawing())

	d.reset()
	require.NoError(t, g.PlayDisplayList(d))
	assert.Equal(t, want, d.drawing())

	// A new page drops everything drawn before it.
	require.NoError(t, g.NewPage())
	require.NoError(t, g.Circle(1, 1, 1))
	d.reset()
	require.NoError(t, g.PlayDisplayList(d))
	assert.Equal(t, []string{"newpage", "mode1", "circle", "mode0"}, d.drawing())
}

func TestCopyDisplayListLeavesTargetList(t *testing.T) {
	g := NewGraphics()
	a, b := &recordingDevice{}, &recordingDevice{}
	g.AddDevice(a)
	require.NoError(t, g.Line(0, 0, 1, 1))
	g.AddDevice(b)
	require.NoError(t, g.Circle(0, 0, 1))

	b.reset()
	require.NoError(t, g.CopyDisplayList(a, b))
	assert.Equal(t, []string{"newpage", "mode1", "line", "mode0"}, b.drawing())

	b.reset()
	require.NoError(t, g.PlayDisplayList(b))
	assert.Equal(t, []string{"newpage", "mode1", "circle", "mode0"}, b.drawing())
}

func TestSnapshotReplay(t *testing.T) {
	g := NewGraphics()
	d := &recordingDevice{}
	g.AddDevice(d)
	require.NoError(t, g.Rect(0, 0, 1, 1))

	snap, err := g.CreateSnapshot(d)
	require.NoError(t, err)
	defer snap.Release()

	require.NoError(t, g.NewPage())
	require.NoError(t, g.Text(1, 1, "later"))

	d.reset()
	require.NoError(t, g.PlaySnapshot(snap, d))
	assert.Equal(t, []string{"newpage", "mode1", "rect", "mode0"}, d.drawing())

	// The snapshot became the display list.
	d.reset()
	require.NoError(t, g.PlayDisplayList(d))
	assert.Equal(t, []string{"newpage", "mode1", "rect", "mode0"}, d.drawing())
}

func TestSnapshotErrors(t *testing.T) {
	g := NewGraphics()
	d := &recordingDevice{}

	_, err := g.CreateSnapshot(d)
	assert.Error(t, err)

	g.AddDevice(d)
	snap, err := g.CreateSnapshot(d)
	require.NoError(t, err)
	snap.Release()
	assert.Error(t, g.PlaySnapshot(snap, d))

	assert.Error(t, g.PlaySnapshot(interp.Protect("not a list", nil), d))
}

func TestDeviceNumbering(t *testing.T) {
	g := NewGraphics()
	a, b, c := &recordingDevice{}, &recordingDevice{}, &recordingDevice{}
	assert.Equal(t, 1, g.AddDevice(a))
	assert.Equal(t, 2, g.AddDevice(b))
	assert.Equal(t, 2, g.AddDevice(b), "adding twice keeps the number")
	assert.Contains(t, a.calls, "deactivate")

	g.RemoveDevice(a)
	assert.Equal(t, 0, g.DeviceNumber(a))
	assert.Equal(t, b, g.CurrentDevice())

	// The freed slot is reused.
	assert.Equal(t, 1, g.AddDevice(c))
	assert.Equal(t, []gd.Device{c, b}, g.Devices())

	g.SelectDevice(b)
	assert.Equal(t, b, g.CurrentDevice())

	// Removing the current device selects the next open one.
	g.RemoveDevice(b)
	assert.Equal(t, c, g.CurrentDevice())
	g.RemoveDevice(c)
	assert.Nil(t, g.CurrentDevice())
}

func TestDefaultDevice(t *testing.T) {
	g := NewGraphics()
	d := &recordingDevice{}
	opened := 0
	g.DefaultDevice = func() (gd.Device, error) {
		opened++
		return d, nil
	}
	require.NoError(t, g.Circle(0, 0, 1))
	require.NoError(t, g.Circle(0, 0, 2))
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, g.DeviceNumber(d))

	g.DefaultDevice = func() (gd.Device, error) { return nil, errors.New("no display") }
	require.NoError(t, g.CloseCurrent())
	assert.True(t, d.closed)
	assert.ErrorContains(t, g.Line(0, 0, 1, 1), "no display")
}

func TestTextUsesUTF8WhenSupported(t *testing.T) {
	g := NewGraphics()
	plain := &recordingDevice{}
	utf8 := &recordingDevice{desc: gd.Desc{HasTextUTF8: true}}

	g.AddDevice(plain)
	require.NoError(t, g.Text(0, 0, "a"))
	g.AddDevice(utf8)
	require.NoError(t, g.Text(0, 0, "b"))

	assert.Contains(t, plain.calls, "text:a")
	assert.Contains(t, utf8.calls, "utf8:b")
}

func TestLocator(t *testing.T) {
	r := New(Options{})
	d := &recordingDevice{click: [2]float64{3, 4}, hasHit: true}
	r.Engine().AddDevice(d)

	v, err := evalString(t, r, "locator()")
	require.NoError(t, err)
	assert.Equal(t, interp.Double{3, 4}, v)

	d.hasHit = false
	v, err = evalString(t, r, "locator()")
	require.NoError(t, err)
	assert.Equal(t, interp.Null{}, v)
}

func TestGraphicsBuiltins(t *testing.T) {
	r := New(Options{})
	d := &recordingDevice{}
	r.Engine().DefaultDevice = func() (gd.Device, error) { return d, nil }

	for _, src := range []string{
		`pen("red", 2)`,
		`fill("#00ff0080")`,
		"polygon(c(0, 1, 1), c(0, 0, 1))",
		`text(1, 2, "label")`,
		"new_page()",
		"line(0, 0, 1, 1)",
	} {
		_, err := evalString(t, r, src)
		require.NoError(t, err, src)
	}
	assert.Equal(t, color.RGBA{0xff, 0, 0, 0xff}, r.Engine().gc.Col)
	assert.Equal(t, 2.0, r.Engine().gc.LineWidth)
	assert.Equal(t, color.RGBA{0, 0xff, 0, 0x80}, r.Engine().gc.Fill)

	_, err := evalString(t, r, "polygon(c(0, 1), c(0))")
	var ee *interp.EvalError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Message, "graphics: polygon needs")

	_, err = evalString(t, r, `pen("nocolour")`)
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, `graphics: invalid color "nocolour"`, ee.Message)

	_, err = evalString(t, r, "dev_off()")
	require.NoError(t, err)
	assert.True(t, d.closed)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"black", color.RGBA{0, 0, 0, 0xff}, false},
		{" Blue ", color.RGBA{0, 0, 0xff, 0xff}, false},
		{"#102030", color.RGBA{0x10, 0x20, 0x30, 0xff}, false},
		{"#10203040", color.RGBA{0x10, 0x20, 0x30, 0x40}, false},
		{"transparent", color.RGBA{}, false},
		{"", color.RGBA{}, false},
		{"#12", color.RGBA{}, true},
		{"#gggggg", color.RGBA{}, true},
		{"chartreuse", color.RGBA{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
