package raster

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Translate moves img by d. Standard image types are shifted in place of
// their bounds and share pixels with img; others are copied.
func Translate(img image.Image, d image.Point) image.Image {
	if d == (image.Point{}) {
		return img
	}
	switch m := img.(type) {
	case *image.RGBA:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.NRGBA:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.RGBA64:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.NRGBA64:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.Gray:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.Gray16:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.Alpha:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.Paletted:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.CMYK:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *image.YCbCr:
		c := *m
		c.Rect = c.Rect.Add(d)
		return &c
	case *Bands:
		return m.translate(d)
	}
	b := img.Bounds()
	out := image.NewNRGBA(b.Add(d))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// Crop returns the part of img inside r, sharing pixels when possible.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if r == img.Bounds() {
		return img
	}
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	out := image.NewNRGBA(r)
	draw.Draw(out, r, img, r.Min, draw.Src)
	return out
}

// BackgroundColor maps fill values to a color: one value is gray, three are
// RGB and four are RGBA. Nothing means transparent.
func BackgroundColor(bg []uint8) color.NRGBA {
	switch len(bg) {
	case 0:
		return color.NRGBA{}
	case 1, 2:
		return color.NRGBA{bg[0], bg[0], bg[0], 0xff}
	case 3:
		return color.NRGBA{bg[0], bg[1], bg[2], 0xff}
	default:
		return color.NRGBA{bg[0], bg[1], bg[2], bg[3]}
	}
}

// Background returns a raster of r filled with bg.
func Background(r image.Rectangle, bg []uint8) *image.NRGBA {
	out := image.NewNRGBA(r)
	c := BackgroundColor(bg)
	if c != (color.NRGBA{}) {
		draw.Draw(out, r, image.NewUniform(c), image.Point{}, draw.Src)
	}
	return out
}

// Pad places img on a background raster of r.
func Pad(img image.Image, r image.Rectangle, bg []uint8) *image.NRGBA {
	out := Background(r, bg)
	draw.Draw(out, img.Bounds().Intersect(r), img, img.Bounds().Intersect(r).Min, draw.Over)
	return out
}

// ToNRGBA converts img to a component color model, reusing it when it
// already is one.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// CloneNRGBA returns a fresh, compact NRGBA copy of img.
func CloneNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	src, ok := img.(*image.NRGBA)
	if !ok {
		draw.Draw(out, b, img, b.Min, draw.Src)
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		copy(out.Pix[out.PixOffset(b.Min.X, y):out.PixOffset(b.Max.X, y)], src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
	}
	return out
}

// ExtractAlpha returns the last band of img as an alpha raster.
func ExtractAlpha(img image.Image) *image.Alpha {
	b := img.Bounds()
	out := image.NewAlpha(b)
	switch m := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.Pix[out.PixOffset(x, y)] = m.Pix[m.PixOffset(x, y)+3]
			}
		}
		return out
	case *image.Alpha:
		draw.Draw(out, b, m, b.Min, draw.Src)
		return out
	case *Bands:
		p := m.Planes[len(m.Planes)-1]
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(out.Pix[out.PixOffset(b.Min.X, y):out.PixOffset(b.Max.X, y)], p.Pix[p.PixOffset(b.Min.X, y):p.PixOffset(b.Max.X, y)])
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Pix[out.PixOffset(x, y)] = color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
		}
	}
	return out
}

// MultiplyAlpha zeroes alpha outside roi.
func MultiplyAlpha(alpha *image.Alpha, roi *ROI) *image.Alpha {
	out := image.NewAlpha(alpha.Rect)
	copy(out.Pix, alpha.Pix)
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			if !roi.Contains(x, y) {
				out.Pix[out.PixOffset(x, y)] = 0
			}
		}
	}
	return out
}

// MakeTransparent returns img with every pixel matching c (ignoring alpha)
// made fully transparent.
func MakeTransparent(img image.Image, c color.NRGBA) *image.NRGBA {
	out := CloneNRGBA(img)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		if out.Pix[i] == c.R && out.Pix[i+1] == c.G && out.Pix[i+2] == c.B {
			out.Pix[i+3] = 0
		}
	}
	return out
}

// ApplyAlpha returns img in NRGBA with its alpha replaced by a, or by the
// rasterized roi when a is nil.
func ApplyAlpha(img image.Image, a *image.Alpha, roi *ROI) *image.NRGBA {
	b := img.Bounds()
	if a == nil {
		a = roi.Alpha(b)
	}
	out := CloneNRGBA(img)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v uint8
			if image.Pt(x, y).In(a.Rect) {
				v = a.AlphaAt(x, y).A
			}
			out.Pix[out.PixOffset(x, y)+3] = v
		}
	}
	return out
}

// NewLike allocates an empty image of r with img's color model where the
// standard library has a matching type.
func NewLike(img image.Image, r image.Rectangle) xdraw.Image {
	switch m := img.(type) {
	case *image.Paletted:
		return image.NewPaletted(r, m.Palette)
	case *image.Gray:
		return image.NewGray(r)
	case *image.Gray16:
		return image.NewGray16(r)
	case *image.RGBA:
		return image.NewRGBA(r)
	case *image.RGBA64:
		return image.NewRGBA64(r)
	case *image.NRGBA64:
		return image.NewNRGBA64(r)
	case *image.CMYK:
		return image.NewCMYK(r)
	}
	return image.NewNRGBA(r)
}

// PadLike places img on a background raster of r, keeping band rasters,
// gray and indexed color models when the fill can be expressed in them. Pixels
// outside alpha (when given) are left as background.
func PadLike(img image.Image, r image.Rectangle, bg []uint8, alpha *image.Alpha) image.Image {
	if b, ok := img.(*Bands); ok && alpha == nil {
		return b.Pad(r, bg)
	}
	c := BackgroundColor(bg)
	var out xdraw.Image
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		if len(bg) <= 1 {
			out = NewLike(img, r)
		}
	case *image.Paletted:
		out = NewLike(img, r)
	}
	if out == nil {
		out = image.NewNRGBA(r)
	}
	if c != (color.NRGBA{}) {
		draw.Draw(out, r, image.NewUniform(c), image.Point{}, draw.Src)
	}
	in := img.Bounds().Intersect(r)
	if alpha == nil {
		draw.Draw(out, in, img, in.Min, draw.Over)
	} else {
		draw.DrawMask(out, in, img, in.Min, alpha, in.Min, draw.Over)
	}
	return out
}
