package enums

// RateSource tags a shipping quote with the tier that produced it.
type RateSource string

const (
	RateSourceRealtime RateSource = "realtime"
	RateSourceStatic   RateSource = "static"
	RateSourceDefault  RateSource = "default"
)

// IsVerified reports whether the quote came from the storefront itself.
func (r RateSource) IsVerified() bool {
	return r == RateSourceRealtime || r == RateSourceStatic
}

// IsValid reports whether the value is a known RateSource.
func (r RateSource) IsValid() bool {
	switch r {
	case RateSourceRealtime, RateSourceStatic, RateSourceDefault:
		return true
	default:
		return false
	}
}
