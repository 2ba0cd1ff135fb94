package hydrate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/roach88/aggql/internal/metadata"
)

func coerce(f field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if f.column.Kind == metadata.KindTimeDimension {
		return toTime(raw, f.grain)
	}
	switch f.column.Type {
	case metadata.TypeInteger:
		return toInteger(raw)
	case metadata.TypeDecimal:
		return toDecimal(raw)
	case metadata.TypeBoolean:
		return cast.ToBoolE(unwrapNumber(raw))
	case metadata.TypeTime:
		return toTime(raw, metadata.GrainSecond)
	case metadata.TypeText:
		if len(f.column.Values) > 0 {
			return toEnum(raw, f.column.Values)
		}
		return cast.ToStringE(raw)
	default:
		return cast.ToStringE(raw)
	}
}

// unwrapNumber turns JSON numbers from cached results back into Go
// numbers cast understands.
func unwrapNumber(raw any) any {
	n, ok := raw.(json.Number)
	if !ok {
		return raw
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}

func toDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case json.Number:
		return decimal.NewFromString(string(v))
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case []byte:
		return decimal.NewFromString(strings.TrimSpace(string(v)))
	case float32:
		return decimal.NewFromFloat32(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	}
	i, err := cast.ToInt64E(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(i), nil
}

// toInteger accepts any integral value. Fractions are an error rather
// than being truncated.
func toInteger(raw any) (int64, error) {
	switch raw.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return cast.ToInt64E(raw)
	}
	d, err := toDecimal(raw)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%s is not an integer", d)
	}
	return d.IntPart(), nil
}

// toEnum maps an ordinal to its value name. Text values must already be
// one of the declared names.
func toEnum(raw any, values []string) (string, error) {
	switch raw.(type) {
	case string, []byte:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return "", err
		}
		for _, v := range values {
			if v == s {
				return s, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %v", s, values)
	}
	i, err := toInteger(raw)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= int64(len(values)) {
		return "", fmt.Errorf("ordinal %d out of range", i)
	}
	return values[i], nil
}

func toTime(raw any, g metadata.TimeGrain) (Time, error) {
	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v
	case []byte:
		parsed, err := cast.ToTimeE(string(v))
		if err != nil {
			return Time{}, err
		}
		t = parsed
	default:
		parsed, err := cast.ToTimeE(unwrapNumber(raw))
		if err != nil {
			return Time{}, err
		}
		t = parsed
	}
	return Time{Grain: g, Value: truncate(t.UTC(), g)}, nil
}
