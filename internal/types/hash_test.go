package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polinanime/keyspace/internal/types"
)

func TestHashFuncsAreDeterministic(t *testing.T) {
	for _, name := range types.HashFuncNames() {
		t.Run(name, func(t *testing.T) {
			fn := types.HashFuncs[name]
			a := fn([]byte("hello"))
			b := fn([]byte("hello"))
			c := fn([]byte("hello!"))

			assert.Equal(t, a, b)
			assert.NotEqual(t, a, c)
			assert.False(t, a.IsZero())
		})
	}
}

func TestHashFuncNames(t *testing.T) {
	assert.Equal(t, []string{"blake2b", "murmur3", "sha3"}, types.HashFuncNames())
}

func TestKeyDerivationsDiffer(t *testing.T) {
	data := []byte("127.0.0.1:8080")
	assert.NotEqual(t, types.KeyFromAddress(string(data)), types.KeyFromContent(data))
	assert.NotEqual(t, types.KeyFromContent(data), types.KeyFromMurmur(data))
}

func TestRandomKey(t *testing.T) {
	a, err := types.RandomKey()
	require.NoError(t, err)
	b, err := types.RandomKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestRandomKeyInBucket(t *testing.T) {
	self := types.KeyFromAddress("127.0.0.1:9000")

	for _, cpl := range []int{0, 1, 7, 8, 9, 63, 64, 100, 127} {
		for i := 0; i < 16; i++ {
			k, err := types.RandomKeyInBucket(self, cpl)
			require.NoError(t, err)
			require.Equal(t, cpl, types.CommonPrefixLen(self, k), "cpl %d, key %s", cpl, k)
		}
	}

	_, err := types.RandomKeyInBucket(self, -1)
	assert.Error(t, err)
	_, err = types.RandomKeyInBucket(self, types.KeySizeBits)
	assert.Error(t, err)
}
