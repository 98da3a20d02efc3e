package filter

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
)

type feat struct {
	attrs map[string]any
	bound orb.Bound
}

func (f feat) Attr(name string) (any, bool) {
	v, ok := f.attrs[name]
	return v, ok
}

func (f feat) Bound() orb.Bound { return f.bound }

func withAttrs(kv map[string]any) feat { return feat{attrs: kv} }

func TestDomainBuilder_SingleAttributeScalars(t *testing.T) {
	b := NewDomainBuilder("elev", nil)
	p := b.Build([]DomainValue{Scalar(5), Scalar(7)})

	if got, want := p.String(), "(elev = 5 OR elev = 7)"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
	for _, tc := range []struct {
		elev any
		want bool
	}{
		{5, true}, {7.0, true}, {int64(6), false}, {"5", false},
	} {
		if got := p.Evaluate(withAttrs(map[string]any{"elev": tc.elev})); got != tc.want {
			t.Fatalf("elev=%v got %v want %v", tc.elev, got, tc.want)
		}
	}
}

func TestDomainBuilder_SingleTermIsUnwrapped(t *testing.T) {
	p := NewDomainBuilder("elev", nil).Build([]DomainValue{{}, Scalar(3)})
	if _, isOr := p.(Or); isOr {
		t.Fatalf("single term must not be wrapped in OR: %s", p)
	}
	if p.String() != "elev = 3" {
		t.Fatalf("String()=%q", p)
	}
}

func TestDomainBuilder_SingleAttributeRange(t *testing.T) {
	p := NewDomainBuilder("elev", nil).Build([]DomainValue{Range(10, 20)})
	if got, want := p.String(), "(elev <= 20 AND elev >= 10)"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
	if !p.Evaluate(withAttrs(map[string]any{"elev": 15})) {
		t.Fatalf("15 must be inside [10,20]")
	}
	if p.Evaluate(withAttrs(map[string]any{"elev": 21})) {
		t.Fatalf("21 must be outside [10,20]")
	}
}

func TestDomainBuilder_StartEndRangeIntersects(t *testing.T) {
	d1 := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	d5 := time.Date(2000, 1, 5, 0, 0, 0, 0, time.UTC)
	p := NewRangeDomainBuilder("begin", "end", nil).Build([]DomainValue{Range(d1, d5)})

	want := "(begin <= 2000-01-05T00:00:00Z AND end >= 2000-01-01T00:00:00Z)"
	if p.String() != want {
		t.Fatalf("String()=%q want %q", p.String(), want)
	}

	cases := []struct {
		name       string
		begin, end time.Time
		want       bool
	}{
		{"overlaps start", d1.AddDate(0, 0, -3), d1.AddDate(0, 0, 1), true},
		{"contains request", d1.AddDate(0, 0, -3), d5.AddDate(0, 0, 3), true},
		{"inside request", d1.AddDate(0, 0, 1), d1.AddDate(0, 0, 2), true},
		{"before", d1.AddDate(0, 0, -5), d1.AddDate(0, 0, -1), false},
		{"after", d5.AddDate(0, 0, 1), d5.AddDate(0, 0, 4), false},
	}
	for _, tc := range cases {
		f := withAttrs(map[string]any{"begin": tc.begin, "end": tc.end})
		if got := p.Evaluate(f); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDomainBuilder_StartEndScalarAndDegenerateRange(t *testing.T) {
	b := NewRangeDomainBuilder("lo", "hi", nil)
	scalar := b.Build([]DomainValue{Scalar(5)})
	degenerate := b.Build([]DomainValue{Range(5, 5)})
	if scalar.String() != degenerate.String() {
		t.Fatalf("degenerate range %q must match scalar %q", degenerate, scalar)
	}
	if scalar.String() != "(lo <= 5 AND hi >= 5)" {
		t.Fatalf("String()=%q", scalar)
	}
}

func TestDomainBuilder_EmptyMatchesNothing(t *testing.T) {
	p := NewDomainBuilder("elev", nil).Build(nil)
	if p != Exclude {
		t.Fatalf("empty value list must build Exclude, got %s", p)
	}
	if p.Evaluate(withAttrs(map[string]any{"elev": 1})) {
		t.Fatalf("Exclude matched")
	}
}

func TestStringAttributesCompareWithTimes(t *testing.T) {
	d := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	p := Equal("ingestion", d)
	if !p.Evaluate(withAttrs(map[string]any{"ingestion": "2020-06-01T00:00:00Z"})) {
		t.Fatalf("RFC3339 string attribute must compare equal to time")
	}
}

func TestAllOfAndAnyOf(t *testing.T) {
	a := Equal("a", 1)
	if AllOf(Include, a, nil) != Predicate(a) {
		t.Fatalf("AllOf must drop Include and unwrap")
	}
	if AllOf(a, Exclude) != Exclude {
		t.Fatalf("AllOf with Exclude must be Exclude")
	}
	if AllOf() != Include {
		t.Fatalf("empty AllOf must be Include")
	}
	nested := AllOf(And{a, a}, a)
	if and, ok := nested.(And); !ok || len(and) != 3 {
		t.Fatalf("nested And must flatten: %#v", nested)
	}
	if AnyOf(Exclude) != Exclude {
		t.Fatalf("AnyOf of Exclude must be Exclude")
	}
	if AnyOf(a, Include) != Include {
		t.Fatalf("AnyOf with Include must be Include")
	}
}

func TestBBoxes_ExtractsIndexableTerms(t *testing.T) {
	b1 := BBox{Property: "the_geom", Bound: orb.Bound{Max: orb.Point{1, 1}}}
	b2 := BBox{Property: "the_geom", Bound: orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{6, 6}}}

	got, ok := BBoxes(And{Or{b1, b2}, Equal("x", 1)})
	if !ok || len(got) != 2 {
		t.Fatalf("got %v,%v", got, ok)
	}
	if _, ok := BBoxes(Or{b1, Equal("x", 1)}); ok {
		t.Fatalf("mixed disjunction cannot be indexed")
	}
}

func TestCompileExpr(t *testing.T) {
	e, err := CompileExpr(`cloud < 20.0 && sensor == "OLI"`, []string{"cloud", "sensor"})
	if err != nil {
		t.Fatalf("CompileExpr: %v", err)
	}
	if !e.Evaluate(withAttrs(map[string]any{"cloud": 10.0, "sensor": "OLI"})) {
		t.Fatalf("expected match")
	}
	if e.Evaluate(withAttrs(map[string]any{"cloud": 30.0, "sensor": "OLI"})) {
		t.Fatalf("expected no match")
	}
	if e.Evaluate(withAttrs(map[string]any{"sensor": "OLI"})) {
		t.Fatalf("missing attribute must not match")
	}

	if _, err := CompileExpr(`cloud <`, []string{"cloud"}); err == nil {
		t.Fatalf("expected syntax error")
	}
	if _, err := CompileExpr(`unknown == 1`, []string{"cloud"}); err == nil {
		t.Fatalf("expected undeclared reference error")
	}
}
