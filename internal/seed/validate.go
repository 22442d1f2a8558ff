package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Validator checks an encoded constant value.
type Validator func(value string) error

// ErrInvalidValue is returned when a value fails its constant's validator.
var ErrInvalidValue = errors.New("invalid constant value")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// ValidName reports whether name is a dotted constant key such as
// "power.ftp.bike".
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// ParseValidator resolves a validator reference: "text" (or empty), "int",
// "float", "json", or "json:" followed by comma separated gjson paths that
// must be present.
func ParseValidator(ref string) (Validator, error) {
	kind, args, _ := strings.Cut(strings.TrimSpace(ref), ":")
	switch kind {
	case "", "text":
		if args != "" {
			return nil, fmt.Errorf("validator %q takes no arguments", ref)
		}
		return validateText, nil
	case "int":
		if args != "" {
			return nil, fmt.Errorf("validator %q takes no arguments", ref)
		}
		return validateInt, nil
	case "float":
		if args != "" {
			return nil, fmt.Errorf("validator %q takes no arguments", ref)
		}
		return validateFloat, nil
	case "json":
		var keys []string
		for _, k := range strings.Split(args, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return jsonValidator(keys), nil
	default:
		return nil, fmt.Errorf("unknown validator %q", ref)
	}
}

func validateText(v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidValue)
	}
	return nil
}

func validateInt(v string) error {
	if _, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
		return fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, v)
	}
	return nil
}

func validateFloat(v string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidValue, v)
	}
	return nil
}

func jsonValidator(keys []string) Validator {
	return func(v string) error {
		if !gjson.Valid(v) {
			return fmt.Errorf("%w: not valid JSON", ErrInvalidValue)
		}
		var missing []string
		for _, k := range keys {
			if !gjson.Get(v, k).Exists() {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: missing %s", ErrInvalidValue, strings.Join(missing, ", "))
		}
		return nil
	}
}

// EncodeValue renders a scalar or structured value as stored text.
// Strings are kept verbatim, maps and slices become JSON.
func EncodeValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("%w: no value", ErrInvalidValue)
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("%w: %v", ErrInvalidValue, x)
		}
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case map[string]any:
		return encodeJSON(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = val
		}
		return encodeJSON(m)
	case []any:
		return encodeJSON(x)
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return string(b), nil
}

// ValidatorHelp describes the accepted validator references.
const ValidatorHelp = "text, int, float, json, json:<key>[,<key>...]"
