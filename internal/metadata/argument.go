package metadata

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Argument is a typed parameter of a table or column formula.
type Argument struct {
	Name string
	Type ValueType

	Default    string
	HasDefault bool

	// Values is a closed set of legal values (empty means open).
	Values []string

	// TableSource names a "table.column" whose values are the legal set.
	// It is informational for upstream layers and not enforced here.
	TableSource string
}

// Text-like argument values are inlined into SQL, so their alphabet is
// restricted.
var (
	textArgPattern = regexp.MustCompile(`^[A-Za-z0-9_ .:,/\-]*$`)
	timeArgPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([ T]\d{2}(:\d{2}(:\d{2}(\.\d+)?)?)?)?$`)
)

// Normalize checks value against the argument's type and value set and
// returns its canonical text: integers without leading zeros or sign
// noise, booleans as true/false, decimals in shortest form.
func (a Argument) Normalize(value string) (string, error) {
	var normalized string

	switch a.Type {
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return "", a.invalid(value)
		}
		normalized = strconv.FormatInt(n, 10)
	case TypeDecimal:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return "", a.invalid(value)
		}
		normalized = d.String()
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return "", a.invalid(value)
		}
		normalized = strconv.FormatBool(b)
	case TypeTime:
		if !timeArgPattern.MatchString(value) {
			return "", a.invalid(value)
		}
		normalized = value
	default:
		if !textArgPattern.MatchString(value) {
			return "", a.invalid(value)
		}
		normalized = value
	}

	if len(a.Values) > 0 && !slices.Contains(a.Values, normalized) {
		return "", a.invalid(value)
	}
	return normalized, nil
}

func (a Argument) invalid(value string) error {
	return &ArgumentError{Argument: a.Name, Value: value}
}

// ArgumentError reports a value rejected by Argument.Normalize.
type ArgumentError struct {
	Argument string
	Value    string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("Argument %s has an invalid value: %s", e.Argument, e.Value)
}
