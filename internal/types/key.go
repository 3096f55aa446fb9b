package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

const (
	KeySize     = 16
	KeySizeBits = KeySize * 8
)

// ErrLengthMismatch is returned when raw input is not exactly KeySize bytes.
var ErrLengthMismatch = errors.New("key length mismatch")

// Key is a 128-bit identifier stored big-endian: byte 0 is the most
// significant byte.
type Key [KeySize]byte

// NewKey copies b into a Key. b must be exactly KeySize bytes long.
func NewKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// ParseKey decodes a 32 character hex string.
func ParseKey(s string) (Key, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return NewKey(decoded)
}

// MustParseKey is like ParseKey but panics on error.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Compare returns -1, 0 or +1 depending on whether a is less than, equal to
// or greater than b when both are read as big-endian unsigned integers.
func Compare(a, b Key) int {
	for i := 0; i < KeySize; i++ {
		if a[i] > b[i] {
			return 1
		}
		if a[i] < b[i] {
			return -1
		}
	}
	return 0
}

// Distance returns the XOR distance between a and b.
func Distance(a, b Key) Key {
	var d Key
	for i := 0; i < KeySize; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Xor combines two distances. Distance(a, b) ^ Distance(b, c) == Distance(a, c).
func Xor(a, b Key) Key {
	return Distance(a, b)
}

// CommonPrefixLen returns the number of leading bits a and b share.
func CommonPrefixLen(a, b Key) int {
	for i := 0; i < KeySize; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KeySizeBits
}

// CloserTo reports whether a is strictly closer to target than b.
func CloserTo(target, a, b Key) bool {
	return Compare(Distance(a, target), Distance(b, target)) < 0
}

func (k Key) Cmp(other Key) int {
	return Compare(k, other)
}

func (k Key) Less(other Key) bool {
	return Compare(k, other) < 0
}

func (k Key) Equal(other Key) bool {
	return k == other
}

func (k Key) Distance(other Key) Key {
	return Distance(k, other)
}

func (k Key) IsZero() bool {
	return k == Key{}
}

// BitLen returns the number of significant bits in k. Zero for the zero key.
func (k Key) BitLen() int {
	for i := 0; i < KeySize; i++ {
		if k[i] != 0 {
			return (KeySize-i)*8 - bits.LeadingZeros8(k[i])
		}
	}
	return 0
}

// Bytes returns a copy of the key as a slice.
func (k Key) Bytes() []byte {
	b := make([]byte, KeySize)
	copy(b, k[:])
	return b
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
