package version

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Alphabet is the 64-digit alphabet of the version clock, in ASCII order so
// that equal-length version strings compare like the numbers they encode.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// DocLength is the minimum length a document clock is kept at.
// Six digits cover 64^6 (about 6.9e10) mutations before the first overflow,
// so most comparisons never need padding.
const DocLength = 6

const (
	zeroDigit byte = '-'
	oneDigit  byte = '0'
)

// digitValue maps an alphabet byte to its digit value, -1 otherwise.
var digitValue = func() [256]int {
	var t [256]int
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = i
	}
	return t
}()

// Version is a value of the order-preserving logical clock.
// The empty Version means "unset" and is older than every set Version.
// It encodes as JSON null.
type Version string

// None is the unset version.
const None Version = ""

// IsSet reports whether v holds a clock value.
func (v Version) IsSet() bool {
	return v != None
}

// MarshalJSON encodes None as null.
func (v Version) MarshalJSON() ([]byte, error) {
	if v == None {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

// UnmarshalJSON accepts null or a string of alphabet digits.
func (v *Version) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = None
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse validates s as a version string.
func Parse(s string) (Version, error) {
	for i := 0; i < len(s); i++ {
		if digitValue[s[i]] < 0 {
			return None, fmt.Errorf("invalid version %q: byte %q at %d is not a clock digit", s, s[i], i)
		}
	}
	return Version(s), nil
}

// Next returns the successor of v, left-padded to at least minLength digits.
//
// The string is incremented as a big-endian base-64 counter. When the
// leftmost digit overflows, the second alphabet digit is prepended (never
// the first), so the result always compares greater than its input under
// Compare.
func Next(v Version, minLength int) Version {
	digits := []byte(pad(string(v), minLength))
	if len(digits) == 0 {
		return Version(oneDigit)
	}

	for i := len(digits) - 1; i >= 0; i-- {
		d := digitValue[digits[i]]
		if d < len(Alphabet)-1 {
			digits[i] = Alphabet[d+1]
			return Version(digits)
		}
		digits[i] = zeroDigit
	}
	return Version(append([]byte{oneDigit}, digits...))
}

// Compare orders two versions.
// The shorter value is left-padded with the zero digit before a plain
// lexicographic comparison; None sorts before every set version.
// Every merge predicate goes through this function so peers whose clocks
// have different lengths still agree on ordering.
func Compare(a, b Version) int {
	switch {
	case a == None && b == None:
		return 0
	case a == None:
		return -1
	case b == None:
		return 1
	}
	width := max(len(a), len(b))
	return strings.Compare(pad(string(a), width), pad(string(b), width))
}

// IsNewer reports whether a is strictly newer than b.
func IsNewer(a, b Version) bool {
	return Compare(a, b) > 0
}

// Latest returns the newer of a and b.
func Latest(a, b Version) Version {
	if IsNewer(b, a) {
		return b
	}
	return a
}

// Encode writes n as base-64 digits, left-padded with the zero digit to width.
// Numbers needing more than width digits are written in full.
func Encode(n uint64, width int) string {
	var buf [11]byte // 64^11 > 2^64
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%64]
		n /= 64
	}
	return pad(string(buf[i:]), width)
}

// Decode parses base-64 clock digits back into a number.
func Decode(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		d := digitValue[s[i]]
		if d < 0 {
			return 0, fmt.Errorf("decode %q: byte %q at %d is not a clock digit", s, s[i], i)
		}
		if n > (^uint64(0))/64 {
			return 0, fmt.Errorf("decode %q: overflows uint64", s)
		}
		n = n*64 + uint64(d)
	}
	return n, nil
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(string(zeroDigit), width-len(s)) + s
}
