// Package gd defines the graphics device contract used by the runtime's
// graphics engine, and a file-backed implementation that rasterizes into
// PNG or JPEG images.
package gd

import "image/color"

// GC is the graphics context passed with every drawing primitive.
type GC struct {
	Col        color.RGBA
	Fill       color.RGBA
	LineWidth  float64
	LineType   int
	PointSize  float64
	Cex        float64
	FontFace   int
	FontFamily string
}

// DefaultGC returns black strokes with no fill at 12pt.
func DefaultGC() GC {
	return GC{
		Col:       color.RGBA{A: 0xff},
		LineWidth: 1,
		PointSize: 12,
		Cex:       1,
		FontFace:  1,
	}
}

// Desc carries a device's geometry and capabilities. A virtual device
// copies it from its backing device so it can answer queries on its own.
type Desc struct {
	Left, Right, Bottom, Top float64

	ClipLeft, ClipRight, ClipBottom, ClipTop float64

	XCharOffset, YCharOffset, YLineBias float64

	// IPR is inches per raster unit; CRA is the character size in raster units.
	IPR [2]float64
	CRA [2]float64

	Gamma float64

	CanClip        bool
	CanChangeGamma bool
	CanHAdj        int

	StartPS   float64
	StartCol  color.RGBA
	StartFill color.RGBA
	StartLTY  int
	StartFont int

	HasTextUTF8             bool
	WantSymbolUTF8          bool
	UseRotatedTextInContour bool
	DisplayListOn           bool

	HaveTransparency  int
	HaveTransparentBg int
	HaveRaster        int
	HaveCapture       int
	HaveLocator       int
}

// Raster is a row-major RGBA image.
type Raster struct {
	Pixels []color.RGBA
	Width  int
	Height int
}

// Device is a graphics device. Coordinates are in device units as
// described by Desc.
type Device interface {
	Desc() Desc

	Activate()
	Deactivate()

	Circle(x, y, r float64, gc *GC)
	Line(x1, y1, x2, y2 float64, gc *GC)
	Rect(x0, y0, x1, y1 float64, gc *GC)
	Polygon(x, y []float64, gc *GC)
	Polyline(x, y []float64, gc *GC)
	// Path draws len(npoly) subpaths; npoly[i] is the point count of subpath i.
	Path(x, y []float64, npoly []int, winding bool, gc *GC)
	Raster(r Raster, x, y, width, height, rot float64, interpolate bool, gc *GC)
	Text(x, y float64, s string, rot, hadj float64, gc *GC)
	TextUTF8(x, y float64, s string, rot, hadj float64, gc *GC)

	Clip(x0, x1, y0, y1 float64)
	NewPage(gc *GC)
	Size() (left, right, bottom, top float64)
	StrWidth(s string, gc *GC) float64
	StrWidthUTF8(s string, gc *GC) float64
	MetricInfo(c rune, gc *GC) (ascent, descent, width float64)

	// Locator waits for a click; ok is false when none was made.
	Locator() (x, y float64, ok bool)
	Cap() (Raster, bool)
	// Hold adjusts the hold level by level and returns the new level.
	Hold(level int) int
	// Mode is 1 when drawing starts and 0 when it stops.
	Mode(mode int)
	EventHelper(code int)
	OnExit()
	Close()
}

// FileDevice is a concrete device that writes its page to FilePath on Close.
type FileDevice interface {
	Device
	FilePath() string
	// Err reports the error from writing the file on Close, if any.
	Err() error
}

// Factory creates a file device of width x height pixels at res dpi.
type Factory func(path string, width, height, res float64) (FileDevice, error)
