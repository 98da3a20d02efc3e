package filter

import (
	"strings"
	"time"
)

// CompareValues orders two attribute values. Numbers of any Go numeric type
// compare numerically, times chronologically (strings are parsed as RFC 3339
// when compared with a time) and strings lexically. ok is false when the
// values are not comparable.
func CompareValues(a, b any) (cmp int, ok bool) {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return compareFloat(fa, fb), true
		}
		return 0, false
	}
	if ta, okA := toTime(a, false); okA {
		if tb, okB := toTime(b, true); okB {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	if sa, okA := a.(string); okA {
		if tb, okB := b.(time.Time); okB {
			if ta, okT := toTime(sa, true); okT {
				return ta.Compare(tb), true
			}
			return 0, false
		}
		if sb, okB := b.(string); okB {
			return strings.Compare(sa, sb), true
		}
	}
	if ba, okA := a.(bool); okA {
		if bb, okB := b.(bool); okB {
			switch {
			case ba == bb:
				return 0, true
			case !ba:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toTime(v any, parse bool) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if !parse {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
