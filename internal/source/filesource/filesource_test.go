package filesource

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func gray(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func TestOpenWithOverviews(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "g.png"), gray(8, 8, 10))
	writePNG(t, filepath.Join(dir, "g.ovr1.png"), gray(4, 4, 20))
	writePNG(t, filepath.Join(dir, "g.ovr2.png"), gray(2, 2, 30))

	f, err := New(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Accepts("g.png") || f.Accepts("mem://g.png") || f.Accepts("g.txt") {
		t.Fatalf("Accepts mismatch")
	}
	s, err := f.Open(context.Background(), "g.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.Levels() != 3 {
		t.Fatalf("levels=%d", s.Levels())
	}
	if sz, err := s.Size(1); err != nil || sz != image.Pt(4, 4) {
		t.Fatalf("size=%v err=%v", sz, err)
	}
	img, err := s.Read(context.Background(), 2, image.Rect(0, 0, 2, 2), 1, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	if uint8(r>>8) != 30 {
		t.Fatalf("read wrong level, r=%d", r>>8)
	}
	if f.cache.Len() != 1 {
		t.Fatalf("decoded image not cached")
	}
	f.Invalidate("g.png")
	if f.cache.Len() != 0 {
		t.Fatalf("invalidate left %d entries", f.cache.Len())
	}
}

func TestTIFFSubsampledRead(t *testing.T) {
	dir := t.TempDir()
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.SetNRGBA(x, y, color.NRGBA{uint8(x * 10), uint8(y * 10), 0, 0xff})
		}
	}
	fh, err := os.Create(filepath.Join(dir, "t.tif"))
	if err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(fh, src, nil); err != nil {
		t.Fatal(err)
	}
	_ = fh.Close()

	f, _ := New(dir, 1)
	s, err := f.Open(context.Background(), filepath.Join(dir, "t.tif"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	img, err := s.Read(context.Background(), 0, image.Rect(0, 0, 4, 4), 2, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if img.Bounds().Size() != image.Pt(2, 2) {
		t.Fatalf("size=%v", img.Bounds())
	}
	c := color.NRGBAModel.Convert(img.At(1, 1)).(color.NRGBA)
	if c.R != 20 || c.G != 20 {
		t.Fatalf("pixel=%v", c)
	}
}

func TestOpenMissing(t *testing.T) {
	f, _ := New(t.TempDir(), 1)
	if _, err := f.Open(context.Background(), "nope.tif"); err == nil {
		t.Fatalf("expected error")
	}
}
