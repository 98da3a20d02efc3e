package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type BBox struct{ X1, Y1, X2, Y2 float64 }

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.X1, b.Y1, b.X2, b.Y2)
}

// parseExtent reads "minx,miny,maxx,maxy".
func parseExtent(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("extent needs 4 values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("extent value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return BBox{}, errors.New("extent min must be below max")
	}
	return BBox{v[0], v[1], v[2], v[3]}, nil
}

// makeBBoxes builds a pool of request windows inside extent. The first
// quarter (at least 8) are small "hot" windows clustered around a few
// anchors so a zipf draw hits them repeatedly; the rest are spread at random.
func makeBBoxes(extent BBox, count int, r *rand.Rand) []BBox {
	if count <= 0 {
		return nil
	}
	w, h := extent.X2-extent.X1, extent.Y2-extent.Y1
	anchors := [][2]float64{
		{extent.X1 + w*0.25, extent.Y1 + h*0.25},
		{extent.X1 + w*0.75, extent.Y1 + h*0.25},
		{extent.X1 + w*0.50, extent.Y1 + h*0.50},
		{extent.X1 + w*0.25, extent.Y1 + h*0.75},
	}
	out := make([]BBox, 0, count)
	hot := min(count, max(8, count/4))
	for i := range hot {
		a := anchors[i%len(anchors)]
		dx, dy := (r.Float64()-0.5)*w*0.05, (r.Float64()-0.5)*h*0.05
		bw, bh := w*(0.04+r.Float64()*0.02), h*(0.04+r.Float64()*0.02)
		out = append(out, clip(BBox{a[0] + dx - bw/2, a[1] + dy - bh/2, a[0] + dx + bw/2, a[1] + dy + bh/2}, extent))
	}
	for len(out) < count {
		bw, bh := w*(0.02+r.Float64()*0.15), h*(0.02+r.Float64()*0.15)
		x := extent.X1 + r.Float64()*(w-bw)
		y := extent.Y1 + r.Float64()*(h-bh)
		out = append(out, BBox{x, y, x + bw, y + bh})
	}
	return out
}

func clip(b, extent BBox) BBox {
	return BBox{
		math.Max(b.X1, extent.X1), math.Max(b.Y1, extent.Y1),
		math.Min(b.X2, extent.X2), math.Min(b.Y2, extent.Y2),
	}
}

// loadWindowsCSV reads windows from a CSV with minx,miny,maxx,maxy columns.
func loadWindowsCSV(path string) ([]BBox, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open windows: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	names := []string{"minx", "miny", "maxx", "maxy"}
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := col[n]
		if !ok {
			return nil, fmt.Errorf("windows csv: expected columns minx,miny,maxx,maxy; got %v", header)
		}
		idx[i] = j
	}

	var out []BBox
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		var v [4]float64
		for i, j := range idx {
			if v[i], err = strconv.ParseFloat(strings.TrimSpace(rec[j]), 64); err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", names[i], rec[j], err)
			}
		}
		if v[0] < v[2] && v[1] < v[3] {
			out = append(out, BBox{v[0], v[1], v[2], v[3]})
		}
	}
	return out, nil
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
