package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var (
	errFailedToConvertStringToType = func(t any, err error) error { return fmt.Errorf("failed to convert string to type %T: %w", t, err) }
)

// FromString converts str into T. Empty strings, "null" and "<nil>" produce
// the zero value of T.
func FromString[T any](str string) (T, error) {
	var empty T

	if str == "" || str == "null" || str == "<nil>" {
		return empty, nil
	}

	switch any(empty).(type) {
	case string:
		val, _ := any(str).(T)
		return val, nil
	case *string:
		val, _ := any(&str).(T)
		return val, nil
	case int:
		val, err := strconv.ParseInt(str, 10, 0)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		typeVal, _ := any(int(val)).(T)

		return typeVal, nil
	case int64:
		val, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		typeVal, _ := any(val).(T)

		return typeVal, nil
	case uint64:
		val, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		typeVal, _ := any(val).(T)

		return typeVal, nil
	case float64:
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		typeVal, _ := any(val).(T)

		return typeVal, nil
	case *float64:
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		typeVal, _ := any(lo.ToPtr(val)).(T)

		return typeVal, nil
	case bool:
		val, err := strconv.ParseBool(str)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		typeVal, _ := any(val).(T)

		return typeVal, nil
	case []byte:
		val, _ := any([]byte(str)).(T)
		return val, nil
	default:
		var initial T

		err := json.Unmarshal([]byte(str), &initial)
		if err != nil {
			return empty, errFailedToConvertStringToType(empty, err)
		}

		return initial, nil
	}
}

func FromStringOrEmpty[T any](str string) T {
	var empty T

	val, err := FromString[T](str)
	if err != nil {
		return empty
	}

	return val
}

// MaskSecret keeps the first and last few characters of a secret.
func MaskSecret(secret string) string {
	const visible = 4

	if len(secret) <= visible*2 {
		return strings.Repeat("*", len(secret))
	}

	return secret[:visible] + strings.Repeat("*", len(secret)-visible*2) + secret[len(secret)-visible:]
}
