package router

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/granule-mosaic/internal/composer"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	mylog "github.com/mohammed-shakir/granule-mosaic/internal/logger"
)

const (
	maxOutputSide = 8192
	maxFilterLen  = 2000
	dimPrefix     = "dim_"
)

// MosaicQuery is a validated mosaic request with its negotiated encoding.
type MosaicQuery struct {
	Request *model.Request
	Format  composer.Negotiation
}

// receives validated mosaic requests and serves them
type MosaicHandler interface {
	HandleMosaic(ctx context.Context, w http.ResponseWriter, r *http.Request, q MosaicQuery)
}

// FilterCompiler turns a filter expression into a predicate over the
// attributes of a coverage.
type FilterCompiler interface {
	CompileFilter(coverage, src string) (filter.Predicate, error)
}

// validates input query params and calls the handler
func HandleMosaic(logger *slog.Logger, _ config.Config, fc FilterCompiler, h MosaicHandler) http.HandlerFunc {
	const route = "/coverages/{coverage}/mosaic"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		cov := chi.URLParam(r, "coverage")
		req, err := ParseMosaicRequest(cov, r.URL.Query(), fc)
		if err != nil {
			logger.DebugContext(r.Context(), "rejected mosaic request", "coverage", cov, "err", err)
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, route, http.StatusBadRequest, time.Since(start).Seconds())
			return
		}
		neg := composer.NegotiateFormat(composer.NegotiationInput{
			AcceptHeader:  r.Header.Get("Accept"),
			OutputFormat:  r.URL.Query().Get("format"),
			DefaultFormat: composer.FormatPNG,
		})

		ctx := mylog.WithCoverage(r.Context(), req.Coverage)
		h.HandleMosaic(ctx, sw, r.WithContext(ctx), MosaicQuery{Request: req, Format: neg})
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseMosaicRequest builds a request for coverage from query parameters.
// A nil fc rejects requests carrying a filter expression.
func ParseMosaicRequest(coverage string, v url.Values, fc FilterCompiler) (*model.Request, error) {
	coverage = strings.TrimSpace(coverage)
	if coverage == "" {
		return nil, errors.New("missing required parameter: coverage")
	}
	get := func(k string) string { return strings.TrimSpace(v.Get(k)) }

	rawBBox := get("bbox")
	if rawBBox == "" {
		return nil, errors.New("missing required parameter: bbox")
	}
	bbox, err := parseBBOX(rawBBox)
	if err != nil {
		return nil, fmt.Errorf("invalid bbox: %w", err)
	}

	req := &model.Request{Coverage: coverage, BBox: bbox}
	if req.Width, err = parseSide(get("width"), "width"); err != nil {
		return nil, err
	}
	if req.Height, err = parseSide(get("height"), "height"); err != nil {
		return nil, err
	}

	if s := get("resolution"); s != "" {
		res, err := parseResolution(s)
		if err != nil {
			return nil, fmt.Errorf("invalid resolution: %w", err)
		}
		req.Resolution = &res
	}
	if s := get("virtualResolution"); s != "" {
		res, err := parseResolution(s)
		if err != nil {
			return nil, fmt.Errorf("invalid virtualResolution: %w", err)
		}
		req.VirtualResolution = &res
	}

	if req.OverviewPolicy, err = model.ParseOverviewPolicy(get("overviewPolicy")); err != nil {
		return nil, err
	}
	if req.DecimationPolicy, err = model.ParseDecimationPolicy(get("decimation")); err != nil {
		return nil, err
	}
	if req.Merge, err = model.ParseMergeBehavior(get("merge")); err != nil {
		return nil, err
	}
	if req.Footprint, err = model.ParseFootprintBehavior(get("footprint")); err != nil {
		return nil, err
	}
	switch strings.ToLower(get("blend")) {
	case "", "overlay":
		req.BlendMode = model.BlendOverlay
	case "alpha":
		req.BlendMode = model.BlendAlpha
	default:
		return nil, fmt.Errorf("unknown blend mode %q", get("blend"))
	}

	req.Times = ParseDomainValues(get("time"))
	req.Elevations = ParseDomainValues(get("elevation"))
	for k, vals := range v {
		name, ok := strings.CutPrefix(k, dimPrefix)
		if !ok || name == "" || len(vals) == 0 {
			continue
		}
		if req.Dimensions == nil {
			req.Dimensions = make(map[string][]filter.DomainValue)
		}
		req.Dimensions[name] = ParseDomainValues(strings.TrimSpace(vals[0]))
	}

	if src := get("filter"); src != "" {
		if len(src) > maxFilterLen {
			return nil, errors.New("filter expression too long")
		}
		if fc == nil {
			return nil, errors.New("filters are not supported")
		}
		p, err := fc.CompileFilter(coverage, src)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		req.Filter = p
	}
	req.SortBy = get("sortBy")

	if s := get("maxGranules"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid maxGranules %q", s)
		}
		req.MaxGranules = n
	}
	if req.Multithreaded, err = parseBool(get("multithreaded"), "multithreaded"); err != nil {
		return nil, err
	}
	if req.HasAlpha, err = parseBool(get("alpha"), "alpha"); err != nil {
		return nil, err
	}
	if req.SkipFastPath, err = parseBool(get("skipFastPath"), "skipFastPath"); err != nil {
		return nil, err
	}

	if s := get("background"); s != "" {
		if req.Background, err = parseBackground(s); err != nil {
			return nil, fmt.Errorf("invalid background: %w", err)
		}
	}
	if s := get("inputTransparent"); s != "" {
		c, err := parseColor(s)
		if err != nil {
			return nil, fmt.Errorf("invalid inputTransparent: %w", err)
		}
		req.InputTransparent = &c
	}
	if s := get("outputTransparent"); s != "" {
		c, err := parseColor(s)
		if err != nil {
			return nil, fmt.Errorf("invalid outputTransparent: %w", err)
		}
		req.OutputTransparent = &c
	}
	if s := get("tileSize"); s != "" {
		w, h, ok := strings.Cut(s, ",")
		tw, errW := strconv.Atoi(strings.TrimSpace(w))
		th, errH := strconv.Atoi(strings.TrimSpace(h))
		if !ok || errW != nil || errH != nil || tw <= 0 || th <= 0 {
			return nil, fmt.Errorf("invalid tileSize %q", s)
		}
		req.TileSize = image.Pt(tw, th)
	}
	return req, nil
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("expected 4 or 5 comma-separated values: x1,y1,x2,y2[,CRS]")
	}
	xMin, err := parseFloat(parts[0])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x1: %w", err)
	}
	yMin, err := parseFloat(parts[1])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y1: %w", err)
	}
	xMax, err := parseFloat(parts[2])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x2: %w", err)
	}
	yMax, err := parseFloat(parts[3])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y2: %w", err)
	}

	srid := "EPSG:4326"
	if len(parts) == 5 {
		srid = strings.ToUpper(strings.TrimSpace(parts[4]))
	}
	if srid == "EPSG:4326" {
		if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
			return model.BBox{}, errors.New("longitude must be in [-180,180]")
		}
		if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
			return model.BBox{}, errors.New("latitude must be in [-90,90]")
		}
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func parseSide(s, name string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > maxOutputSide {
		return 0, fmt.Errorf("%s must be an integer in [1,%d]", name, maxOutputSide)
	}
	return n, nil
}

func parseResolution(s string) (model.Resolution, error) {
	x, y, ok := strings.Cut(s, ",")
	if !ok {
		y = x
	}
	rx, err := parseFloat(x)
	if err != nil {
		return model.Resolution{}, err
	}
	ry, err := parseFloat(y)
	if err != nil {
		return model.Resolution{}, err
	}
	if rx <= 0 || ry <= 0 {
		return model.Resolution{}, errors.New("must be positive")
	}
	return model.Resolution{X: rx, Y: ry}, nil
}

func parseBool(s, name string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", name, s)
	}
	return b, nil
}

// ParseDomainValues splits a comma separated list of values and lo/hi
// ranges. Numbers and RFC 3339 times are typed; anything else stays a
// string.
func ParseDomainValues(s string) []filter.DomainValue {
	if s == "" {
		return nil
	}
	var out []filter.DomainValue
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "/"); ok {
			out = append(out, filter.Range(domainValue(lo), domainValue(hi)))
			continue
		}
		out = append(out, filter.Scalar(domainValue(part)))
	}
	return out
}

func domainValue(s string) any {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t
	}
	return s
}

// parseColor reads RRGGBB or RRGGBBAA with an optional # or 0x prefix.
func parseColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "#"), "0x")
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("expected RRGGBB or RRGGBBAA, got %q", s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("parse color: %w", err)
	}
	if len(s) == 6 {
		return color.NRGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
	}
	return color.NRGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

// parseBackground accepts a hex color or a list of per band values.
func parseBackground(s string) ([]uint8, error) {
	if !strings.Contains(s, ",") && (strings.HasPrefix(s, "#") || strings.HasPrefix(strings.ToLower(s), "0x") || len(s) == 6 || len(s) == 8) {
		if c, err := parseColor(s); err == nil {
			if c.A == 0xff {
				return []uint8{c.R, c.G, c.B}, nil
			}
			return []uint8{c.R, c.G, c.B, c.A}, nil
		}
	}
	var out []uint8
	for part := range strings.SplitSeq(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("band value %q not in [0,255]", part)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}
