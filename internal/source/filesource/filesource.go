// Package filesource reads granules from local TIFF, PNG and JPEG files.
// Overviews live next to the base file as <name>.ovr1<ext>, <name>.ovr2<ext>
// and so on. Decoded images are kept in an LRU so neighbouring windows of
// the same file do not decode it again.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/tiff"

	"github.com/mohammed-shakir/granule-mosaic/internal/source"
)

// maxOverviews bounds the sidecar probe.
const maxOverviews = 32

type Format struct {
	root  string
	cache *lru.Cache[string, image.Image]
}

// New serves files below root; relative locations are resolved against it.
// cacheSize is the number of decoded images kept.
func New(root string, cacheSize int) (*Format, error) {
	if cacheSize <= 0 {
		cacheSize = 16
	}
	c, err := lru.New[string, image.Image](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("filesource: lru: %w", err)
	}
	return &Format{root: root, cache: c}, nil
}

func (f *Format) Name() string { return "file" }

func (f *Format) Accepts(location string) bool {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
		return !strings.Contains(location, "://") || strings.HasPrefix(location, "file://")
	}
	return false
}

func (f *Format) path(location string) string {
	p := strings.TrimPrefix(location, "file://")
	if !filepath.IsAbs(p) && f.root != "" {
		p = filepath.Join(f.root, p)
	}
	return p
}

func (f *Format) Open(_ context.Context, location string) (source.Source, error) {
	base := f.path(location)
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("filesource: %w", err)
	}
	paths := []string{base}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; i <= maxOverviews; i++ {
		p := fmt.Sprintf("%s.ovr%d%s", stem, i, ext)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("filesource: %w", err)
		}
		paths = append(paths, p)
	}
	return &fileSource{f: f, paths: paths, sizes: make([]*image.Point, len(paths))}, nil
}

// Invalidate drops decoded images of location and its overviews.
func (f *Format) Invalidate(location string) {
	base := f.path(location)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for _, k := range f.cache.Keys() {
		if k == base || strings.HasPrefix(k, stem+".ovr") {
			f.cache.Remove(k)
		}
	}
}

type fileSource struct {
	f     *Format
	paths []string
	sizes []*image.Point
}

func (s *fileSource) Levels() int { return len(s.paths) }

func (s *fileSource) Size(level int) (image.Point, error) {
	if level < 0 || level >= len(s.paths) {
		return image.Point{}, fmt.Errorf("filesource: no level %d", level)
	}
	if p := s.sizes[level]; p != nil {
		return *p, nil
	}
	if img, ok := s.f.cache.Get(s.paths[level]); ok {
		sz := img.Bounds().Size()
		s.sizes[level] = &sz
		return sz, nil
	}
	cfg, err := withFile(s.paths[level], decodeConfig)
	if err != nil {
		return image.Point{}, err
	}
	sz := image.Pt(cfg.Width, cfg.Height)
	s.sizes[level] = &sz
	return sz, nil
}

func (s *fileSource) Read(ctx context.Context, level int, window image.Rectangle, ssX, ssY int) (image.Image, error) {
	if level < 0 || level >= len(s.paths) {
		return nil, fmt.Errorf("filesource: no level %d", level)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.paths[level]
	img, ok := s.f.cache.Get(p)
	if !ok {
		var err error
		img, err = withFile(p, decode)
		if err != nil {
			return nil, err
		}
		s.f.cache.Add(p, img)
	}
	return source.Subsample(img, window.Add(img.Bounds().Min), ssX, ssY), nil
}

func (s *fileSource) Close() error { return nil }

func withFile[T any](path string, fn func(ext string, r io.Reader) (T, error)) (T, error) {
	var zero T
	fh, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("filesource: %w", err)
	}
	defer func() { _ = fh.Close() }()
	v, err := fn(strings.ToLower(filepath.Ext(path)), fh)
	if err != nil {
		return zero, fmt.Errorf("filesource: decode %s: %w", path, err)
	}
	return v, nil
}

func decode(ext string, r io.Reader) (image.Image, error) {
	switch ext {
	case ".tif", ".tiff":
		return tiff.Decode(r)
	case ".png":
		return png.Decode(r)
	default:
		return jpeg.Decode(r)
	}
}

func decodeConfig(ext string, r io.Reader) (image.Config, error) {
	switch ext {
	case ".tif", ".tiff":
		return tiff.DecodeConfig(r)
	case ".png":
		return png.DecodeConfig(r)
	default:
		return jpeg.DecodeConfig(r)
	}
}
