package types

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashFunc derives a Key from arbitrary input.
type HashFunc func(data []byte) Key

// HashFuncs lists the key derivations by name.
var HashFuncs = map[string]HashFunc{
	"sha3":    func(data []byte) Key { return KeyFromAddress(string(data)) },
	"blake2b": KeyFromContent,
	"murmur3": KeyFromMurmur,
}

// HashFuncNames returns the registered derivation names in sorted order.
func HashFuncNames() []string {
	names := make([]string, 0, len(HashFuncs))
	for name := range HashFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KeyFromAddress derives a peer identifier from its address: the leading
// KeySize bytes of SHA3-256.
func KeyFromAddress(address string) Key {
	sum := sha3.Sum256([]byte(address))
	var k Key
	copy(k[:], sum[:KeySize])
	return k
}

// KeyFromContent derives a content key using BLAKE2b with a KeySize digest.
func KeyFromContent(data []byte) Key {
	h, err := blake2b.New(KeySize, nil)
	if err != nil {
		// only fails for invalid sizes or oversized keys
		panic(err)
	}
	h.Write(data)

	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// KeyFromMurmur derives a non-cryptographic key from MurmurHash3 x64 128.
func KeyFromMurmur(data []byte) Key {
	h1, h2 := murmur3.Sum128(data)

	var k Key
	binary.BigEndian.PutUint64(k[:8], h1)
	binary.BigEndian.PutUint64(k[8:], h2)
	return k
}

// RandomKey returns a uniformly random key.
func RandomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("failed to read random key: %w", err)
	}
	return k, nil
}

// RandomKeyInBucket returns a random key sharing exactly cpl leading bits
// with self.
func RandomKeyInBucket(self Key, cpl int) (Key, error) {
	if cpl < 0 || cpl >= KeySizeBits {
		return Key{}, fmt.Errorf("common prefix length %d out of range [0, %d)", cpl, KeySizeBits)
	}

	k, err := RandomKey()
	if err != nil {
		return Key{}, err
	}

	byteIdx, bitIdx := cpl/8, uint(cpl%8)
	copy(k[:byteIdx], self[:byteIdx])

	// keep the first bitIdx bits of self, flip the next one, leave the rest random
	prefix := byte(0xff) << (8 - bitIdx)
	flip := byte(0x80) >> bitIdx
	k[byteIdx] = (self[byteIdx] & prefix) | (^self[byteIdx] & flip) | (k[byteIdx] &^ (prefix | flip))

	return k, nil
}
