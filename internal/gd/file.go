package gd

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
)

// Image formats supported by FileDevice.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

var _ FileDevice = (*imageDevice)(nil)

// imageDevice rasterizes onto a gg context and saves on Close.
type imageDevice struct {
	path   string
	format string
	width  float64
	height float64
	res    float64

	dc      *gg.Context
	closed  bool
	hold    int
	saveErr error
}

// NewFactory returns a Factory for the given image format.
func NewFactory(format string) (Factory, error) {
	switch format {
	case FormatPNG, FormatJPEG:
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	return func(path string, width, height, res float64) (FileDevice, error) {
		return NewFileDevice(format, path, width, height, res)
	}, nil
}

// NewFileDevice opens a device that writes a width x height image to path.
func NewFileDevice(format, path string, width, height, res float64) (FileDevice, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid device size %gx%g", width, height)
	}
	if res <= 0 {
		return nil, fmt.Errorf("invalid resolution %g", res)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}

	d := &imageDevice{
		path:   path,
		format: format,
		width:  width,
		height: height,
		res:    res,
		dc:     gg.NewContext(int(math.Round(width)), int(math.Round(height))),
	}
	d.clear(color.White)
	return d, nil
}

func (d *imageDevice) FilePath() string { return d.path }

func (d *imageDevice) Desc() Desc { return DescFor(d.width, d.height, d.res) }

// DescFor describes a width x height raster at res dpi.
func DescFor(width, height, res float64) Desc {
	ps := 12.0
	cw := 0.9 * ps * res / 72
	ch := 1.2 * ps * res / 72
	return Desc{
		Left: 0, Right: width, Bottom: height, Top: 0,
		ClipLeft: 0, ClipRight: width, ClipBottom: height, ClipTop: 0,
		XCharOffset: 0.4900, YCharOffset: 0.3333, YLineBias: 0.2,
		IPR:            [2]float64{1 / res, 1 / res},
		CRA:            [2]float64{cw, ch},
		Gamma:          1,
		CanClip:        true,
		CanChangeGamma: false,
		CanHAdj:        2,
		StartPS:        ps,
		StartCol:       color.RGBA{A: 0xff},
		StartFill:      color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		StartLTY:       0,
		StartFont:      1,
		HasTextUTF8:    true,
		DisplayListOn:  true,

		HaveTransparency:  2,
		HaveTransparentBg: 2,
		HaveRaster:        2,
		HaveCapture:       2,
		HaveLocator:       1,
	}
}

func (d *imageDevice) Activate()   {}
func (d *imageDevice) Deactivate() {}

func (d *imageDevice) stroke(gc *GC) {
	d.dc.SetColor(gc.Col)
	d.dc.SetLineWidth(math.Max(gc.LineWidth, 0.01) * d.res / 96)
	d.dc.Stroke()
}

func (d *imageDevice) fillAndStroke(gc *GC) {
	if gc.Fill.A > 0 {
		d.dc.SetColor(gc.Fill)
		d.dc.FillPreserve()
	}
	d.stroke(gc)
}

func (d *imageDevice) Circle(x, y, r float64, gc *GC) {
	d.dc.DrawCircle(x, y, r)
	d.fillAndStroke(gc)
}

func (d *imageDevice) Line(x1, y1, x2, y2 float64, gc *GC) {
	d.dc.DrawLine(x1, y1, x2, y2)
	d.stroke(gc)
}

func (d *imageDevice) Rect(x0, y0, x1, y1 float64, gc *GC) {
	d.dc.DrawRectangle(math.Min(x0, x1), math.Min(y0, y1), math.Abs(x1-x0), math.Abs(y1-y0))
	d.fillAndStroke(gc)
}

func (d *imageDevice) tracePoly(x, y []float64) {
	for i := range x {
		if i == 0 {
			d.dc.MoveTo(x[i], y[i])
		} else {
			d.dc.LineTo(x[i], y[i])
		}
	}
}

func (d *imageDevice) Polygon(x, y []float64, gc *GC) {
	if len(x) == 0 || len(x) != len(y) {
		return
	}
	d.tracePoly(x, y)
	d.dc.ClosePath()
	d.fillAndStroke(gc)
}

func (d *imageDevice) Polyline(x, y []float64, gc *GC) {
	if len(x) == 0 || len(x) != len(y) {
		return
	}
	d.tracePoly(x, y)
	d.stroke(gc)
}

func (d *imageDevice) Path(x, y []float64, npoly []int, winding bool, gc *GC) {
	if winding {
		d.dc.SetFillRule(gg.FillRuleWinding)
	} else {
		d.dc.SetFillRule(gg.FillRuleEvenOdd)
	}
	start := 0
	for _, n := range npoly {
		end := start + n
		if end > len(x) || end > len(y) {
			break
		}
		d.tracePoly(x[start:end], y[start:end])
		d.dc.ClosePath()
		start = end
	}
	d.fillAndStroke(gc)
	d.dc.SetFillRule(gg.FillRuleWinding)
}

func (d *imageDevice) Raster(r Raster, x, y, width, height, rot float64, interpolate bool, gc *GC) {
	if r.Width == 0 || r.Height == 0 || len(r.Pixels) < r.Width*r.Height {
		return
	}
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, px := range r.Pixels[:r.Width*r.Height] {
		img.SetRGBA(i%r.Width, i/r.Width, px)
	}

	d.dc.Push()
	defer d.dc.Pop()
	// (x, y) is the bottom-left corner; height may be negative when the
	// y axis points down.
	top := y - math.Abs(height)
	d.dc.RotateAbout(-gg.Radians(rot), x, y)
	d.dc.Translate(x, top)
	d.dc.Scale(math.Abs(width)/float64(r.Width), math.Abs(height)/float64(r.Height))
	d.dc.DrawImage(img, 0, 0)
}

func (d *imageDevice) Text(x, y float64, s string, rot, hadj float64, gc *GC) {
	d.dc.Push()
	defer d.dc.Pop()
	d.dc.SetColor(gc.Col)
	if rot != 0 {
		d.dc.RotateAbout(-gg.Radians(rot), x, y)
	}
	d.dc.DrawStringAnchored(s, x, y, hadj, 0)
}

func (d *imageDevice) TextUTF8(x, y float64, s string, rot, hadj float64, gc *GC) {
	d.Text(x, y, s, rot, hadj, gc)
}

func (d *imageDevice) Clip(x0, x1, y0, y1 float64) {
	d.dc.ResetClip()
	d.dc.DrawRectangle(math.Min(x0, x1), math.Min(y0, y1), math.Abs(x1-x0), math.Abs(y1-y0))
	d.dc.Clip()
}

func (d *imageDevice) NewPage(gc *GC) {
	d.dc.ResetClip()
	bg := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	if gc != nil && gc.Fill.A > 0 {
		bg = gc.Fill
	}
	d.clear(bg)
}

func (d *imageDevice) clear(c color.Color) {
	d.dc.SetColor(c)
	d.dc.Clear()
}

func (d *imageDevice) Size() (left, right, bottom, top float64) {
	return 0, d.width, d.height, 0
}

func (d *imageDevice) StrWidth(s string, gc *GC) float64 {
	w, _ := d.dc.MeasureString(s)
	return w
}

func (d *imageDevice) StrWidthUTF8(s string, gc *GC) float64 { return d.StrWidth(s, gc) }

func (d *imageDevice) MetricInfo(c rune, gc *GC) (ascent, descent, width float64) {
	h := d.dc.FontHeight()
	w, _ := d.dc.MeasureString(string(c))
	return 0.8 * h, 0.2 * h, w
}

func (d *imageDevice) Locator() (float64, float64, bool) { return 0, 0, false }

func (d *imageDevice) Cap() (Raster, bool) {
	img := d.dc.Image()
	b := img.Bounds()
	r := Raster{Width: b.Dx(), Height: b.Dy(), Pixels: make([]color.RGBA, 0, b.Dx()*b.Dy())}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r.Pixels = append(r.Pixels, color.RGBAModel.Convert(img.At(x, y)).(color.RGBA))
		}
	}
	return r, true
}

func (d *imageDevice) Hold(level int) int {
	d.hold += level
	if d.hold < 0 {
		d.hold = 0
	}
	return d.hold
}

func (d *imageDevice) Mode(int)        {}
func (d *imageDevice) EventHelper(int) {}
func (d *imageDevice) OnExit()         {}

// Close writes the image. Later calls do nothing.
func (d *imageDevice) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.saveErr = d.save()
}

func (d *imageDevice) Err() error { return d.saveErr }

func (d *imageDevice) save() error {
	switch d.format {
	case FormatJPEG:
		return gg.SaveJPG(d.path, d.dc.Image(), 90)
	default:
		return d.dc.SavePNG(d.path)
	}
}
