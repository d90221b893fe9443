package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The remote end is loosely typed: the same field may arrive as a JSON
// number, a numeric string or a boolean depending on firmware version. These
// helpers coerce a decoded scalar without ever failing; malformed input
// yields the zero value.

// AsString renders a scalar as text. nil becomes "".
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

// AsInt coerces a scalar to an integer. Strings are read up to the first
// non-digit ("12px" is 12), fractions are truncated, booleans map to 1/0
// and anything unparseable is 0.
func AsInt(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		if val {
			return 1
		}
		return 0
	case float64:
		// Out of range conversions are implementation-defined.
		if math.IsNaN(val) || math.Abs(val) >= 1<<63 {
			return 0
		}
		return int64(val)
	case float32:
		return AsInt(float64(val))
	case int:
		return int64(val)
	case int64:
		return val
	case string:
		return leadingInt(val)
	default:
		return 0
	}
}

func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// AsFloat coerces a scalar to a float. Unparseable input is 0.
func AsFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		return val
	case float32:
		return AsFloat(float64(val))
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

// AsBool accepts true, "true", "1" and any non-zero number.
func AsBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.TrimSpace(val)
		return strings.EqualFold(s, "true") || s == "1"
	case float64:
		return val != 0 && !math.IsNaN(val)
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return false
	}
}
