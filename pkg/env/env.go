package env

import (
	"os"
	"strconv"
	"strings"
)

// Get returns the value of the given environment variable or a fallback.
// Used before config.Load runs, when the logger is first built.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Bool parses key as a boolean, returning fallback when unset or malformed.
func Bool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(Get(key, ""))
	if err != nil {
		return fallback
	}
	return val
}
