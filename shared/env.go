package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func GetenvString(s string) (string, error) { return s, nil }

func GetenvInt(s string) (int, error) { return strconv.Atoi(s) }

func GetenvBool(s string) (bool, error) { return strconv.ParseBool(s) }

func GetenvDuration(s string) (time.Duration, error) { return time.ParseDuration(s) }

// Getenv reads key from the environment and parses it. An unset or blank
// value yields def, or ErrRequiredEnvNotSet when required is true.
func Getenv[T any](parse func(string) (T, error), key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		if required {
			return def, fmt.Errorf("%s: %w", key, ErrRequiredEnvNotSet)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

func MustGetenv[T any](parse func(string) (T, error), key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}
