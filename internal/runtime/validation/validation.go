// Package validation checks parameter values against their declared type and size.
package validation

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

const (
	TypeStr    = "str"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeGUID   = "guid"
	TypeMD5    = "md5"
	TypeJSON   = "json"
	TypeBin    = "bin"
	TypeBase64 = "base64"
	TypeDate   = "date"
	TypeBool   = "bool"
)

// Base64Prefix marks base64 encoded string params.
const Base64Prefix = "base64="

type checker func(name, size string, v any) error

var checkers = map[string]checker{
	TypeStr:    checkStr,
	TypeInt:    checkInt,
	TypeFloat:  checkFloat,
	TypeGUID:   checkGUID,
	TypeMD5:    checkMD5,
	TypeJSON:   checkJSON,
	TypeBin:    func(string, string, any) error { return nil },
	TypeBase64: checkBase64,
	TypeDate:   checkDate,
	TypeBool:   checkBool,
}

// KnownType reports whether typ is a supported param type.
func KnownType(typ string) bool {
	_, ok := checkers[typ]
	return ok
}

// CheckValue validates v for a param of the given type and size. Type
// mismatches return ErrWrongTypeParam, bound violations ErrWrongSizeParam and
// malformed content ErrParamValidateFail.
func CheckValue(name, typ, size string, v any) error {
	check, ok := checkers[typ]
	if !ok {
		return apierrors.ParamValidateFail(name, fmt.Errorf("unknown param type %q", typ))
	}
	return check(name, strings.TrimSpace(size), v)
}

func checkStr(name, size string, v any) error {
	s, ok := v.(string)
	if !ok {
		return apierrors.WrongType(name, TypeStr, v)
	}
	if size == "" {
		return nil
	}
	limit, err := strconv.Atoi(size)
	if err != nil {
		return apierrors.ParamValidateFail(name, fmt.Errorf("bad size %q: %w", size, err))
	}
	if utf8.RuneCountInString(s) > limit {
		return apierrors.WrongSize(name, fmt.Sprintf("at most %d characters", limit), s)
	}
	return nil
}

func checkInt(name, size string, v any) error {
	digits, ok := integerDigits(v)
	if !ok {
		return apierrors.WrongType(name, TypeInt, v)
	}
	if size == "" {
		return nil
	}
	limit, err := strconv.Atoi(size)
	if err != nil {
		return apierrors.ParamValidateFail(name, fmt.Errorf("bad size %q: %w", size, err))
	}
	if len(digits) > limit {
		return apierrors.WrongSize(name, fmt.Sprintf("at most %d digits", limit), v)
	}
	return nil
}

// integerDigits returns the decimal digits of an integer value, sign excluded.
func integerDigits(v any) (string, bool) {
	var text string
	switch n := v.(type) {
	case int:
		text = strconv.FormatInt(int64(n), 10)
	case int8:
		text = strconv.FormatInt(int64(n), 10)
	case int16:
		text = strconv.FormatInt(int64(n), 10)
	case int32:
		text = strconv.FormatInt(int64(n), 10)
	case int64:
		text = strconv.FormatInt(n, 10)
	case uint:
		text = strconv.FormatUint(uint64(n), 10)
	case uint8:
		text = strconv.FormatUint(uint64(n), 10)
	case uint16:
		text = strconv.FormatUint(uint64(n), 10)
	case uint32:
		text = strconv.FormatUint(uint64(n), 10)
	case uint64:
		text = strconv.FormatUint(n, 10)
	case *big.Int:
		if n == nil {
			return "", false
		}
		text = n.String()
	case json.Number:
		text = n.String()
		if strings.ContainsAny(text, ".eE") {
			return "", false
		}
	default:
		return "", false
	}
	text = strings.TrimLeft(text, "+-")
	if text == "" || strings.Trim(text, "0123456789") != "" {
		return "", false
	}
	return text, true
}

func checkFloat(name, size string, v any) error {
	text, ok := decimalText(v)
	if !ok {
		return apierrors.WrongType(name, TypeFloat, v)
	}
	if size == "" {
		return nil
	}
	maxInt, maxFrac, err := parseFloatSize(size)
	if err != nil {
		return apierrors.ParamValidateFail(name, err)
	}
	intPart, fracPart, _ := strings.Cut(strings.TrimLeft(text, "+-"), ".")
	if len(intPart) > maxInt {
		return apierrors.WrongSize(name, fmt.Sprintf("at most %d integer digits", maxInt), v)
	}
	if maxFrac >= 0 && len(fracPart) > maxFrac {
		return apierrors.WrongSize(name, fmt.Sprintf("at most %d fraction digits", maxFrac), v)
	}
	return nil
}

// decimalText renders a numeric value in plain positional notation.
func decimalText(v any) (string, bool) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case json.Number:
		text := n.String()
		if strings.ContainsAny(text, "eE") {
			f, err := n.Float64()
			if err != nil {
				return "", false
			}
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		if _, err := n.Float64(); err != nil {
			return "", false
		}
		return text, true
	default:
		if digits, ok := integerDigits(v); ok {
			return digits, true
		}
		return "", false
	}
}

// parseFloatSize reads "I.F". A missing fraction bound is reported as -1.
func parseFloatSize(size string) (int, int, error) {
	intText, fracText, hasFrac := strings.Cut(size, ".")
	maxInt, err := strconv.Atoi(intText)
	if err != nil {
		return 0, 0, fmt.Errorf("bad float size %q", size)
	}
	if !hasFrac || fracText == "" {
		return maxInt, -1, nil
	}
	maxFrac, err := strconv.Atoi(fracText)
	if err != nil {
		return 0, 0, fmt.Errorf("bad float size %q", size)
	}
	return maxInt, maxFrac, nil
}

func checkGUID(name, _ string, v any) error {
	s, ok := v.(string)
	if !ok {
		return apierrors.WrongType(name, TypeGUID, v)
	}
	if _, err := uuid.Parse(s); err != nil {
		return apierrors.ParamValidateFail(name, err)
	}
	return nil
}

// checkMD5 only checks that the value is hashable text or bytes.
func checkMD5(name, _ string, v any) error {
	switch v.(type) {
	case string, []byte:
		return nil
	default:
		return apierrors.WrongType(name, TypeMD5, v)
	}
}

func checkJSON(name, _ string, v any) error {
	var raw []byte
	switch s := v.(type) {
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return apierrors.WrongType(name, TypeJSON, v)
	}
	if !jsoncodec.Valid(raw) {
		return apierrors.ParamValidateFail(name, fmt.Errorf("value is not valid JSON"))
	}
	return nil
}

func checkBase64(name, _ string, v any) error {
	s, ok := v.(string)
	if !ok {
		return apierrors.WrongType(name, TypeBase64, v)
	}
	if !strings.HasPrefix(s, Base64Prefix) {
		return apierrors.ParamValidateFail(name, fmt.Errorf("value must start with %q", Base64Prefix))
	}
	return nil
}

func checkBool(name, _ string, v any) error {
	if _, ok := v.(bool); !ok {
		return apierrors.WrongType(name, TypeBool, v)
	}
	return nil
}

// dateLength is the rune length of YYYY-MM-DDThh:mm:ss±hh:mm.
const dateLength = 25

// The offset sign is '+' or U+00B1; times west of UTC are sent in UTC.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[+±]\d{2}:\d{2}$`)

func checkDate(name, _ string, v any) error {
	s, ok := v.(string)
	if !ok {
		return apierrors.WrongType(name, TypeDate, v)
	}
	if n := utf8.RuneCountInString(s); n != dateLength {
		return apierrors.ParamValidateFail(name, fmt.Errorf("date must be %d characters, got %d", dateLength, n))
	}
	if !datePattern.MatchString(s) {
		return apierrors.ParamValidateFail(name, fmt.Errorf("date %q does not match YYYY-MM-DDThh:mm:ss±hh:mm", s))
	}
	if _, err := ParseDate(s); err != nil {
		return apierrors.ParamValidateFail(name, err)
	}
	return nil
}

const dateLayout = "2006-01-02T15:04:05-07:00"

// FormatDate renders t as YYYY-MM-DDThh:mm:ss±hh:mm, writing U+00B1 in place
// of the offset sign. A negative offset is rendered as the same instant in UTC.
func FormatDate(t time.Time) string {
	if _, offset := t.Zone(); offset < 0 {
		t = t.UTC()
	}
	return strings.Replace(t.Truncate(time.Second).Format(dateLayout), "+", "±", 1)
}

// ParseDate is the inverse of FormatDate and also accepts a literal '+'.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, strings.Replace(s, "±", "+", 1))
}
