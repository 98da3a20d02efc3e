package raster

import (
	"image"
	"image/color"
)

// Bands is a multi-band raster with one 8-bit plane per band. It renders as
// gray for one band, gray+alpha for two, RGB for three, and RGB with the
// last band as alpha for four or more.
type Bands struct {
	Rect   image.Rectangle
	Planes []*image.Gray
}

func (b *Bands) ColorModel() color.Model {
	if len(b.Planes) == 1 {
		return color.GrayModel
	}
	return color.NRGBAModel
}

func (b *Bands) Bounds() image.Rectangle { return b.Rect }

func (b *Bands) At(x, y int) color.Color {
	if !image.Pt(x, y).In(b.Rect) || len(b.Planes) == 0 {
		return color.NRGBA{}
	}
	v := func(i int) uint8 { return b.Planes[i].GrayAt(x, y).Y }
	switch n := len(b.Planes); n {
	case 1:
		return color.Gray{Y: v(0)}
	case 2:
		return color.NRGBA{v(0), v(0), v(0), v(1)}
	case 3:
		return color.NRGBA{v(0), v(1), v(2), 0xff}
	default:
		return color.NRGBA{v(0), v(1), v(2), v(n - 1)}
	}
}

func (b *Bands) NumBands() int { return len(b.Planes) }

func (b *Bands) SubImage(r image.Rectangle) image.Image {
	r = r.Intersect(b.Rect)
	out := &Bands{Rect: r, Planes: make([]*image.Gray, len(b.Planes))}
	for i, p := range b.Planes {
		out.Planes[i] = p.SubImage(r).(*image.Gray)
	}
	return out
}

func (b *Bands) translate(d image.Point) *Bands {
	out := &Bands{Rect: b.Rect.Add(d), Planes: make([]*image.Gray, len(b.Planes))}
	for i, p := range b.Planes {
		out.Planes[i] = Translate(p, d).(*image.Gray)
	}
	return out
}

// Pad places every plane on r. Band i is filled with bg[i], a single fill
// value covers every band, and missing values are zero.
func (b *Bands) Pad(r image.Rectangle, bg []uint8) *Bands {
	if b.Rect == r {
		return b
	}
	out := &Bands{Rect: r, Planes: make([]*image.Gray, len(b.Planes))}
	in := b.Rect.Intersect(r)
	for i, p := range b.Planes {
		var fill uint8
		switch {
		case len(bg) == 1:
			fill = bg[0]
		case i < len(bg):
			fill = bg[i]
		}
		q := image.NewGray(r)
		if fill != 0 {
			for j := range q.Pix {
				q.Pix[j] = fill
			}
		}
		for y := in.Min.Y; y < in.Max.Y; y++ {
			copy(q.Pix[q.PixOffset(in.Min.X, y):q.PixOffset(in.Max.X, y)], p.Pix[p.PixOffset(in.Min.X, y):p.PixOffset(in.Max.X, y)])
		}
		out.Planes[i] = q
	}
	return out
}

// SplitBands decomposes img into 8-bit planes: gray images give one band,
// opaque color images three and everything else four.
func SplitBands(img image.Image) []*image.Gray {
	r := img.Bounds()
	switch m := img.(type) {
	case *Bands:
		return m.Planes
	case *image.Gray:
		return []*image.Gray{m}
	case *image.Gray16:
		g := image.NewGray(r)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				g.SetGray(x, y, color.GrayModel.Convert(m.Gray16At(x, y)).(color.Gray))
			}
		}
		return []*image.Gray{g}
	}
	n := 4
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		n = 3
	}
	planes := make([]*image.Gray, n)
	for i := range planes {
		planes[i] = image.NewGray(r)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := planes[0].PixOffset(x, y)
			planes[0].Pix[i] = c.R
			planes[1].Pix[i] = c.G
			planes[2].Pix[i] = c.B
			if n == 4 {
				planes[3].Pix[i] = c.A
			}
		}
	}
	return planes
}

// BandStack concatenates the bands of every source onto the first. All
// sources must share the bounds of the first one.
func BandStack(srcs []image.Image) (*Bands, bool) {
	if len(srcs) == 0 {
		return nil, false
	}
	r := srcs[0].Bounds()
	out := &Bands{Rect: r}
	for _, s := range srcs {
		if s.Bounds() != r {
			return nil, false
		}
		out.Planes = append(out.Planes, SplitBands(s)...)
	}
	return out, true
}
