package dump

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrInvalidText is returned for text that is not valid UTF-8 or holds NUL.
	ErrInvalidText = errors.New("text is not replayable")
	// ErrNaN is returned for NaN floats, which have no SQL literal.
	ErrNaN = errors.New("NaN has no SQL literal")
)

// Literal renders a value scanned from database/sql as an SQL literal that
// reads back as the same value and storage class.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case float64:
		return FloatLiteral(x)
	case float32:
		return FloatLiteral(float64(x))
	case string:
		return TextLiteral(x)
	case []byte:
		return BlobLiteral(x), nil
	case time.Time:
		return TextLiteral(x.Format(time.RFC3339Nano))
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// FloatLiteral is the shortest decimal form that parses back to f exactly.
// It always carries a decimal point or exponent so the value keeps REAL
// storage. Infinities overflow on purpose: 1e999 reads back as +Inf.
func FloatLiteral(f float64) (string, error) {
	switch {
	case math.IsNaN(f):
		return "", ErrNaN
	case math.IsInf(f, 1):
		return "1e999", nil
	case math.IsInf(f, -1):
		return "-1e999", nil
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s, nil
}

// TextLiteral single-quotes s, doubling embedded quotes. Newlines are kept
// verbatim; the Reader understands quoted newlines.
func TextLiteral(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrInvalidText)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("%w: embedded NUL", ErrInvalidText)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
}

// BlobLiteral renders b as X'..'.
func BlobLiteral(b []byte) string {
	return "X'" + strings.ToUpper(hex.EncodeToString(b)) + "'"
}
