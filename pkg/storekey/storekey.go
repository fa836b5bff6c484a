// Package storekey canonicalizes storefront identifiers. Every comparison of a
// storefront identifier (grouping, credential lookup, webhook references,
// fulfillment claims) goes through Normalize so that variants such as
// "https://www.real-acme.example/" and "acme.example" resolve to one key.
package storekey

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	referencePrefix = "txn-"
	// variantPrefix marks storefront domains registered through the
	// platform's staging host alias.
	variantPrefix = "real-"
)

// Normalize returns the canonical domain key for raw, or "" when nothing
// usable remains.
func Normalize(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(key, "://"); idx >= 0 {
		key = key[idx+3:]
	}
	if idx := strings.IndexAny(key, "/?#"); idx >= 0 {
		key = key[:idx]
	}
	if idx := strings.LastIndex(key, "@"); idx >= 0 {
		key = key[idx+1:]
	}
	if host, port, ok := strings.Cut(key, ":"); ok && isDigits(port) {
		key = host
	}
	key = strings.TrimSuffix(key, ".")
	key = strings.TrimPrefix(key, "www.")
	for strings.HasPrefix(key, variantPrefix) {
		key = strings.TrimPrefix(key, variantPrefix)
	}
	return key
}

// Equal reports whether a and b name the same storefront.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Reference builds the external reference passed to the payment processor.
// It is the only handle an inbound webhook has to find its store payment.
func Reference(transactionID uint64, key string) string {
	return fmt.Sprintf("%s%d/%s", referencePrefix, transactionID, Normalize(key))
}

// ParseReference is the inverse of Reference. The store key is normalized so
// references minted before a normalization change still resolve.
func ParseReference(ref string) (uint64, string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, referencePrefix) {
		return 0, "", fmt.Errorf("reference %q missing %s prefix", ref, referencePrefix)
	}
	idPart, keyPart, ok := strings.Cut(strings.TrimPrefix(ref, referencePrefix), "/")
	if !ok {
		return 0, "", fmt.Errorf("reference %q missing store key", ref)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("reference %q has invalid transaction id", ref)
	}
	key := Normalize(keyPart)
	if key == "" {
		return 0, "", fmt.Errorf("reference %q has empty store key", ref)
	}
	return id, key, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
