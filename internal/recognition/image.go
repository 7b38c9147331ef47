package recognition

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	knownColor   = color.RGBA{0, 200, 0, 255}
	unknownColor = color.RGBA{220, 0, 0, 255}
)

// downscale resizes img by factor. A factor of 1 returns img unchanged.
func downscale(img image.Image, factor float64) image.Image {
	if factor >= 1 {
		return img
	}
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*factor))
	h := max(1, int(float64(b.Dy())*factor))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// scaleRect maps a box found on the downscaled image back to the source
// frame and clips it to bounds.
func scaleRect(r image.Rectangle, factor float64, bounds image.Rectangle) image.Rectangle {
	if factor >= 1 {
		return r.Intersect(bounds)
	}
	up := func(v int) int { return int(float64(v) / factor) }
	out := image.Rect(up(r.Min.X), up(r.Min.Y), up(r.Max.X), up(r.Max.Y))
	return out.Add(bounds.Min).Intersect(bounds)
}

// annotate draws a labelled box per result and encodes the frame as JPEG.
func annotate(img image.Image, results []Result) ([]byte, error) {
	b := img.Bounds()
	canvas := image.NewRGBA(b)
	draw.Draw(canvas, b, img, b.Min, draw.Src)

	for _, r := range results {
		c := unknownColor
		if r.Match.IsKnown() {
			c = knownColor
		}
		outline(canvas, r.Box, c, 2)
		label(canvas, r.Box, r.Match.Label(), c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func outline(dst draw.Image, r image.Rectangle, c color.Color, width int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// label fills a bar under the box and writes text on it. Glyphs outside the
// basic font are skipped.
func label(dst draw.Image, r image.Rectangle, text string, c color.Color) {
	face := basicfont.Face7x13
	bar := image.Rect(r.Min.X, r.Max.Y, r.Max.X, r.Max.Y+face.Height+4).Intersect(dst.Bounds())
	if bar.Empty() {
		return
	}
	draw.Draw(dst, bar, image.NewUniform(c), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(bar.Min.X+3, bar.Min.Y+face.Ascent+2),
	}
	d.DrawString(text)
}
