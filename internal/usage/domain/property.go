package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// NumericValue interprets a decoded property value as a decimal. Numbers and
// numeric strings qualify; booleans, objects, arrays and null do not.
func NumericValue(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt32(val), true
	default:
		return decimal.Decimal{}, false
	}
}

// CanonicalValue returns a comparable key for distinct-value counting.
// Numbers compare by value (1 and 1.0 are the same) and never collide with
// strings. Null has no canonical value.
func CanonicalValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case json.Number:
		if d, err := decimal.NewFromString(val.String()); err == nil {
			return "n:" + d.String(), true
		}
		return "n:" + val.String(), true
	case float64:
		return "n:" + decimal.NewFromFloat(val).String(), true
	case int:
		return "n:" + decimal.NewFromInt(int64(val)).String(), true
	case int64:
		return "n:" + decimal.NewFromInt(val).String(), true
	case string:
		return "s:" + val, true
	case bool:
		if val {
			return "b:true", true
		}
		return "b:false", true
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return "j:" + string(raw), true
	}
}
