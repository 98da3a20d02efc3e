// Package keys builds Redis keys for cached mosaic responses.
package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
)

const prefix = "mosaic"

var punct = regexp.MustCompile(`\s*([=<>!\.,\(\)\[\]])\s*`)

// Key is the cache key of a rendered response. The generation segment lets
// invalidation retire every response of a coverage with one INCR.
func Key(coverage string, generation int64, format, request string) string {
	cov := sanitize(strings.TrimSpace(coverage), false)
	text := normalize(request)
	safe := sanitize(text, true)

	const maxRequestTextLen = 160
	if len(safe) > maxRequestTextLen {
		safe = safe[:maxRequestTextLen]
	}
	sum := xxhash.Sum64String(format + "|" + text)
	return fmt.Sprintf("%s:%s:g%d:%s:r=%s:h=%016x", prefix, cov, generation, sanitize(format, false), safe, sum)
}

// GenerationKey holds the coverage's response generation counter.
func GenerationKey(coverage string) string {
	return prefix + ":" + sanitize(strings.TrimSpace(coverage), false) + ":gen"
}

// Canonical renders the parts of req that affect the output image as a
// stable string.
func Canonical(req *model.Request) string {
	var b strings.Builder
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 12, 64) }
	fmt.Fprintf(&b, "bbox=%s,%s,%s,%s,%s;size=%dx%d", f(req.BBox.X1), f(req.BBox.Y1), f(req.BBox.X2), f(req.BBox.Y2), req.BBox.SRID, req.Width, req.Height)
	if r := req.Resolution; r != nil {
		fmt.Fprintf(&b, ";res=%s,%s", f(r.X), f(r.Y))
	}
	if r := req.VirtualResolution; r != nil {
		fmt.Fprintf(&b, ";vres=%s,%s", f(r.X), f(r.Y))
	}
	fmt.Fprintf(&b, ";ov=%s;dec=%s;merge=%s;fp=%s;blend=%d", req.OverviewPolicy, req.DecimationPolicy, req.Merge, req.Footprint, req.BlendMode)
	domain(&b, "time", req.Times)
	domain(&b, "elev", req.Elevations)
	for _, name := range req.DimensionNames() {
		domain(&b, "dim."+name, req.Dimensions[name])
	}
	if req.Filter != nil && req.Filter != filter.Include {
		fmt.Fprintf(&b, ";filter=%s", req.Filter)
	}
	if req.SortBy != "" {
		fmt.Fprintf(&b, ";sort=%s", req.SortBy)
	}
	if req.MaxGranules > 0 {
		fmt.Fprintf(&b, ";max=%d", req.MaxGranules)
	}
	if len(req.Background) > 0 {
		fmt.Fprintf(&b, ";bg=%x", req.Background)
	}
	if c := req.InputTransparent; c != nil {
		fmt.Fprintf(&b, ";itr=%02x%02x%02x", c.R, c.G, c.B)
	}
	if c := req.OutputTransparent; c != nil {
		fmt.Fprintf(&b, ";otr=%02x%02x%02x", c.R, c.G, c.B)
	}
	if req.HasAlpha {
		b.WriteString(";alpha")
	}
	return b.String()
}

func domain(b *strings.Builder, name string, vals []filter.DomainValue) {
	if len(vals) == 0 {
		return
	}
	fmt.Fprintf(b, ";%s=", name)
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('|')
		}
		if v.IsRange() {
			fmt.Fprintf(b, "%v/%v", v.Min, v.Max)
		} else {
			fmt.Fprintf(b, "%v", v.Min)
		}
	}
}

func normalize(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punct.ReplaceAllString(s, "$1")
}

// sanitize keeps key-safe ASCII; any other rune becomes '-' and whitespace
// '_', with runs collapsed.
func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || (allowEq && r == '='):
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
