package wiegand

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encode builds a valid bitstring for a format given facility/user
// values, computing correct parity bits. It is the inverse of
// Validate and is used to assert the round-trip property from the
// spec's testable properties.
func encode(t *testing.T, f Format, facility, userID uint64) string {
	t.Helper()
	bits := make([]byte, f.BitLength)
	for i := range bits {
		bits[i] = '0'
	}
	writeRange := func(r BitRange, v uint64) {
		width := r.End - r.Start + 1
		for i := 0; i < width; i++ {
			bit := (v >> uint(width-1-i)) & 1
			bits[r.Start+i] = byte('0' + bit)
		}
	}
	writeRange(f.FacilityRange, facility)
	writeRange(f.UserRange, userID)

	if f.Parity != nil {
		var evenXOR byte
		for _, i := range f.Parity.EvenBits {
			evenXOR ^= bits[i] - '0'
		}
		bits[f.Parity.EvenPos] = '0' + evenXOR

		oddXOR := byte(1)
		for _, i := range f.Parity.OddBits {
			oddXOR ^= bits[i] - '0'
		}
		bits[f.Parity.OddPos] = '0' + oddXOR
	}
	return string(bits)
}

func TestFormatRegistryValidateStandardLengths(t *testing.T) {
	r := NewFormatRegistry()
	for _, bl := range []int{26, 32, 34, 35, 36, 37, 48} {
		f, ok := r.Lookup(bl)
		require.Truef(t, ok, "missing standard format for %d bits", bl)

		bs := encode(t, f, 123, 45678%uint64(1<<uint(f.UserRange.End-f.UserRange.Start+1)))
		decoded, ok := r.Validate(bs)
		require.Truef(t, ok, "expected %d-bit encoded card to validate", bl)
		assert.Equal(t, f.Name, decoded.Format.Name)
	}
}

func TestFormatRegistryValidateRoundTrip26Bit(t *testing.T) {
	r := NewFormatRegistry()
	f, ok := r.Lookup(26)
	require.True(t, ok)

	bs := encode(t, f, 123, 45678)
	decoded, ok := r.Validate(bs)
	require.True(t, ok)

	assert.Equal(t, "123", decoded.Facility)
	assert.Equal(t, "45678", decoded.UserID)

	want := fmt.Sprintf("%07x", mustParseBinary(t, bs))
	assert.Equal(t, want, decoded.CardID)
}

func TestFormatRegistryValidateRejectsBadParity(t *testing.T) {
	r := NewFormatRegistry()
	f, ok := r.Lookup(26)
	require.True(t, ok)

	bs := encode(t, f, 123, 45678)
	flipped := flipBit(bs, 5)

	_, ok = r.Validate(flipped)
	assert.False(t, ok, "flipped-bit string should fail parity")
}

func TestFormatRegistryValidateRejectsUnknownLength(t *testing.T) {
	r := NewFormatRegistry()
	_, ok := r.Validate(strings.Repeat("0", 13))
	assert.False(t, ok)
}

func TestFormatRegistryValidateRejectsNonBinaryCharacters(t *testing.T) {
	r := NewFormatRegistry()
	bad := strings.Repeat("0", 25) + "x"
	_, ok := r.Validate(bad)
	assert.False(t, ok)
}

func TestFormatRegistryLoadCustomFormatsNonFatalOnMissingFile(t *testing.T) {
	r := NewFormatRegistry()
	err := r.LoadCustomFormats("/nonexistent/formats.json")
	assert.Error(t, err)

	// Standard catalogue survives.
	_, ok := r.Lookup(26)
	assert.True(t, ok)
}

func TestFormatRegistryLoadCustomFormatsMergesNewLength(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/formats.json"
	writeFile(t, path, `{
		"formats": [
			{
				"bit_length": 40,
				"name": "custom-40",
				"facility_start": 0,
				"facility_end": 15,
				"user_id_start": 16,
				"user_id_end": 39,
				"has_parity": false
			}
		]
	}`)

	r := NewFormatRegistry()
	require.NoError(t, r.LoadCustomFormats(path))

	f, ok := r.Lookup(40)
	require.True(t, ok)
	assert.Equal(t, "custom-40", f.Name)
	assert.Nil(t, f.Parity)

	bs := encode(t, f, 7, 99)
	decoded, ok := r.Validate(bs)
	require.True(t, ok)
	assert.Equal(t, "7", decoded.Facility)
	assert.Equal(t, "99", decoded.UserID)
}

func flipBit(s string, i int) string {
	b := []byte(s)
	if b[i] == '0' {
		b[i] = '1'
	} else {
		b[i] = '0'
	}
	return string(b)
}

func mustParseBinary(t *testing.T, s string) uint64 {
	t.Helper()
	var v uint64
	for _, c := range s {
		v = (v << 1) | uint64(c-'0')
	}
	return v
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
