package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
)

// ToInt64 converts a loosely typed JSON scalar to int64.
// LMS triggers emit numeric columns either as JSON numbers or as quoted strings,
// so both forms are accepted. A nil value is reported as an error.
func ToInt64(val any) (int64, error) {
	switch v := val.(type) {
	case nil:
		return 0, fmt.Errorf("value is null")
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		return floatToInt64(f)
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		return floatToInt64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, fmt.Errorf("value is empty")
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q: %w", v, err)
		}
		return i, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %v is not an integer", f)
	}
	return int64(f), nil
}

// ToString converts a JSON scalar to its string form. Null becomes "".
func ToString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToIPv4 converts an LMS address column to dotted notation.
// LMS stores IPv4 addresses as unsigned 32-bit integers in network byte order;
// a zero address means "not set" and yields "". Dotted strings pass through after validation.
func ToIPv4(val any) (string, error) {
	if s, ok := val.(string); ok && strings.Contains(s, ".") {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil || !addr.Is4() {
			return "", fmt.Errorf("invalid IPv4 address %q", s)
		}
		return addr.String(), nil
	}

	n, err := ToInt64(val)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 || n > math.MaxUint32 {
		return "", fmt.Errorf("address %d out of IPv4 range", n)
	}
	u := uint32(n)
	return netip.AddrFrom4([4]byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}).String(), nil
}
