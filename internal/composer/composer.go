// Package composer encodes composed mosaics into the negotiated image
// format.
package composer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

type Format int

const (
	FormatPNG Format = iota
	FormatJPEG
	FormatTIFF
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatTIFF:
		return "tiff"
	default:
		return "png"
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

type NegotiationInput struct {
	AcceptHeader  string
	OutputFormat  string
	DefaultFormat Format
}

type Negotiation struct {
	Format      Format
	ContentType string
}

func negotiated(f Format) Negotiation { return Negotiation{Format: f, ContentType: f.ContentType()} }

// formatFor maps a media type or short name to a format.
func formatFor(s string) (Format, bool) {
	switch s {
	case "png", "image/png", "png8", "image/png8":
		return FormatPNG, true
	case "jpeg", "jpg", "image/jpeg", "image/jpg":
		return FormatJPEG, true
	case "tiff", "tif", "geotiff", "image/tiff", "image/geotiff":
		return FormatTIFF, true
	}
	return 0, false
}

// NegotiateFormat determines the output format and content type. An
// explicit format parameter wins over the Accept header.
func NegotiateFormat(in NegotiationInput) Negotiation {
	of := strings.ToLower(strings.TrimSpace(in.OutputFormat))
	if i := strings.Index(of, ";"); i >= 0 {
		of = strings.TrimSpace(of[:i])
	}
	if f, ok := formatFor(of); ok {
		return negotiated(f)
	}

	ah := strings.ToLower(in.AcceptHeader)
	bestQ := -1.0
	best := Negotiation{}
	for part := range strings.SplitSeq(ah, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt := token
		params := ""
		if i := strings.Index(token, ";"); i >= 0 {
			mt = strings.TrimSpace(token[:i])
			params = token[i+1:]
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			p = strings.TrimSpace(p)
			if after, ok := strings.CutPrefix(p, "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		var cand *Negotiation
		switch {
		case mt == "*/*" || mt == "image/*":
			tmp := negotiated(in.DefaultFormat)
			cand = &tmp
		default:
			if f, ok := formatFor(mt); ok {
				tmp := negotiated(f)
				cand = &tmp
			}
		}
		if cand != nil && q > 0 && q > bestQ {
			bestQ = q
			best = *cand
		}
	}
	if bestQ >= 0 {
		return best
	}
	return negotiated(in.DefaultFormat)
}

type Options struct {
	JPEGQuality int
	// Matte fills transparent pixels for formats without alpha.
	Matte color.Color
}

type Result struct {
	Body        []byte
	ContentType string
	Format      Format
}

// Encode renders img in the negotiated format.
func Encode(img image.Image, neg Negotiation, opts Options) (Result, error) {
	if img == nil {
		return Result{}, fmt.Errorf("encode %s: nil image", neg.Format)
	}
	var buf bytes.Buffer
	var err error
	switch neg.Format {
	case FormatJPEG:
		q := opts.JPEGQuality
		if q <= 0 || q > 100 {
			q = jpeg.DefaultQuality
		}
		err = jpeg.Encode(&buf, flatten(img, opts.Matte), &jpeg.Options{Quality: q})
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		err = enc.Encode(&buf, img)
	}
	if err != nil {
		return Result{}, fmt.Errorf("encode %s: %w", neg.Format, err)
	}
	ct := neg.ContentType
	if ct == "" {
		ct = neg.Format.ContentType()
	}
	return Result{Body: buf.Bytes(), ContentType: ct, Format: neg.Format}, nil
}

// flatten composites img over the matte, white by default.
func flatten(img image.Image, matte color.Color) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	if matte == nil {
		matte = color.White
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.NewUniform(matte), image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}
