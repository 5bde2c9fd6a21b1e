package calc

import (
	"strings"

	"github.com/statshost/host/internal/gd"
	"github.com/statshost/host/internal/interp"
)

// scriptedConsole feeds lines to the runtime and records what it prints.
type scriptedConsole struct {
	input    []string
	prompts  []string
	out      strings.Builder
	errOut   strings.Builder
	busy     []bool
	messages []string
	answer   interp.Answer
	callback func() error
}

func (c *scriptedConsole) ReadConsole(prompt string, _ bool) (string, bool, error) {
	c.prompts = append(c.prompts, prompt)
	if len(c.input) == 0 {
		return "", false, nil
	}
	line := c.input[0]
	c.input = c.input[1:]
	return line, true, nil
}

func (c *scriptedConsole) WriteConsole(text string, isError bool) {
	if isError {
		c.errOut.WriteString(text)
		return
	}
	c.out.WriteString(text)
}

func (c *scriptedConsole) ShowMessage(text string) { c.messages = append(c.messages, text) }

func (c *scriptedConsole) Ask(_ interp.MessageBox, text string) (interp.Answer, error) {
	c.messages = append(c.messages, text)
	return c.answer, nil
}

func (c *scriptedConsole) Busy(b bool) { c.busy = append(c.busy, b) }

func (c *scriptedConsole) Callback() error {
	if c.callback != nil {
		return c.callback()
	}
	return nil
}

// recordingDevice logs every call made on it.
type recordingDevice struct {
	desc   gd.Desc
	calls  []string
	closed bool
	click  [2]float64
	hasHit bool
}

func (d *recordingDevice) rec(s string) { d.calls = append(d.calls, s) }

func (d *recordingDevice) Desc() gd.Desc { return d.desc }
func (d *recordingDevice) Activate()     { d.rec("activate") }
func (d *recordingDevice) Deactivate()   { d.rec("deactivate") }

func (d *recordingDevice) Circle(x, y, r float64, gc *gd.GC)      { d.rec("circle") }
func (d *recordingDevice) Line(x1, y1, x2, y2 float64, gc *gd.GC) { d.rec("line") }
func (d *recordingDevice) Rect(x0, y0, x1, y1 float64, gc *gd.GC) { d.rec("rect") }
func (d *recordingDevice) Polygon(x, y []float64, gc *gd.GC)      { d.rec("polygon") }
func (d *recordingDevice) Polyline(x, y []float64, gc *gd.GC)     { d.rec("polyline") }
func (d *recordingDevice) Path(x, y []float64, npoly []int, winding bool, gc *gd.GC) {
	d.rec("path")
}
func (d *recordingDevice) Raster(r gd.Raster, x, y, w, h, rot float64, interpolate bool, gc *gd.GC) {
	d.rec("raster")
}
func (d *recordingDevice) Text(x, y float64, s string, rot, hadj float64, gc *gd.GC) {
	d.rec("text:" + s)
}
func (d *recordingDevice) TextUTF8(x, y float64, s string, rot, hadj float64, gc *gd.GC) {
	d.rec("utf8:" + s)
}
func (d *recordingDevice) Clip(x0, x1, y0, y1 float64) {}
func (d *recordingDevice) NewPage(gc *gd.GC)           { d.rec("newpage") }
func (d *recordingDevice) Size() (float64, float64, float64, float64) {
	return 0, 100, 100, 0
}
func (d *recordingDevice) StrWidth(s string, gc *gd.GC) float64     { return float64(len(s)) }
func (d *recordingDevice) StrWidthUTF8(s string, gc *gd.GC) float64 { return float64(len(s)) }
func (d *recordingDevice) MetricInfo(c rune, gc *gd.GC) (float64, float64, float64) {
	return 1, 0, 1
}
func (d *recordingDevice) Locator() (float64, float64, bool) {
	d.rec("locator")
	return d.click[0], d.click[1], d.hasHit
}
func (d *recordingDevice) Cap() (gd.Raster, bool) { return gd.Raster{}, false }
func (d *recordingDevice) Hold(level int) int     { return 0 }
func (d *recordingDevice) Mode(mode int) {
	if mode == 1 {
		d.rec("mode1")
	} else {
		d.rec("mode0")
	}
}
func (d *recordingDevice) EventHelper(code int) {}
func (d *recordingDevice) OnExit()              {}
func (d *recordingDevice) Close() {
	d.closed = true
	d.rec("close")
}

// drawing filters out activation noise.
func (d *recordingDevice) drawing() []string {
	var out []string
	for _, c := range d.calls {
		if c != "activate" && c != "deactivate" {
			out = append(out, c)
		}
	}
	return out
}

func (d *recordingDevice) reset() { d.calls = nil }
