package storekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"acme.example":                       "acme.example",
		"real-acme.example":                  "acme.example",
		"  REAL-Acme.Example ":               "acme.example",
		"https://www.real-acme.example/shop": "acme.example",
		"http://acme.example:443/?q=1":       "acme.example",
		"www.acme.example.":                  "acme.example",
		"real-real-acme.example":             "acme.example",
		"":                                   "",
		"   ":                                "",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestEqualTreatsVariantsAsOneStore(t *testing.T) {
	require.True(t, Equal("real-acme.example", "acme.example"))
	require.False(t, Equal("acme.example", "other.example"))
	require.False(t, Equal("", ""))
}

func TestReferenceRoundTrip(t *testing.T) {
	ref := Reference(42, "real-acme.example")
	require.Equal(t, "txn-42/acme.example", ref)

	id, key, err := ParseReference(ref)
	require.NoError(t, err)
	require.EqualValues(t, 42, id)
	require.Equal(t, "acme.example", key)

	id, key, err = ParseReference("txn-7/real-acme.example")
	require.NoError(t, err)
	require.EqualValues(t, 7, id)
	require.Equal(t, "acme.example", key)
}

func TestParseReferenceRejectsMalformed(t *testing.T) {
	for _, ref := range []string{"", "42/acme.example", "txn-/acme.example", "txn-0/acme.example", "txn-abc/acme.example", "txn-5", "txn-5/"} {
		_, _, err := ParseReference(ref)
		require.Error(t, err, "ref %q", ref)
	}
}
