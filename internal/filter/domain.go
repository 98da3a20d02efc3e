package filter

import (
	"log/slog"
)

// DomainValue is one requested value on a time, elevation or custom
// dimension: either a scalar or a closed [Min, Max] range. The zero value is
// the null value.
type DomainValue struct {
	Min, Max any
	isRange  bool
}

func Scalar(v any) DomainValue { return DomainValue{Min: v, Max: v} }

func Range(lo, hi any) DomainValue { return DomainValue{Min: lo, Max: hi, isRange: true} }

func (v DomainValue) IsNull() bool { return v.Min == nil && v.Max == nil }

func (v DomainValue) IsRange() bool { return v.isRange }

// degenerate reports a range whose ends are equal.
func (v DomainValue) degenerate() bool {
	cmp, ok := CompareValues(v.Min, v.Max)
	return ok && cmp == 0
}

// DomainBuilder turns requested domain values into a catalog predicate over
// either one attribute or a start/end attribute pair.
type DomainBuilder struct {
	attr   string
	start  string
	end    string
	logger *slog.Logger
}

func NewDomainBuilder(attr string, logger *slog.Logger) *DomainBuilder {
	return &DomainBuilder{attr: attr, logger: orDiscard(logger)}
}

// NewRangeDomainBuilder is used when granules store their extent on the
// domain as two columns. An empty end falls back to single attribute mode.
func NewRangeDomainBuilder(start, end string, logger *slog.Logger) *DomainBuilder {
	if end == "" {
		return NewDomainBuilder(start, logger)
	}
	return &DomainBuilder{start: start, end: end, logger: orDiscard(logger)}
}

func (b *DomainBuilder) Attributes() []string {
	if b.attr != "" {
		return []string{b.attr}
	}
	return []string{b.start, b.end}
}

// Build ORs one term per non-null value. No usable values yields Exclude.
func (b *DomainBuilder) Build(values []DomainValue) Predicate {
	terms := make([]Predicate, 0, len(values))
	for i, v := range values {
		if v.IsNull() {
			b.logger.Debug("skipping null domain value", "index", i, "attrs", b.Attributes())
			continue
		}
		if b.attr != "" {
			terms = append(terms, b.single(v))
		} else {
			terms = append(terms, b.startEnd(v))
		}
	}
	return AnyOf(terms...)
}

func (b *DomainBuilder) single(v DomainValue) Predicate {
	if !v.IsRange() {
		return Equal(b.attr, v.Min)
	}
	return And{LessOrEqual(b.attr, v.Max), GreaterOrEqual(b.attr, v.Min)}
}

// startEnd uses intersection semantics: a granule matches when its
// [start, end] interval overlaps the requested one.
func (b *DomainBuilder) startEnd(v DomainValue) Predicate {
	if !v.IsRange() || v.degenerate() {
		return And{LessOrEqual(b.start, v.Min), GreaterOrEqual(b.end, v.Min)}
	}
	return And{LessOrEqual(b.start, v.Max), GreaterOrEqual(b.end, v.Min)}
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
