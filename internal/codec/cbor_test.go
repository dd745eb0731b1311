package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string            `cbor:"name"`
	Count uint64            `cbor:"count"`
	Tags  map[string]uint32 `cbor:"tags"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := sample{
		Name:  "shard",
		Count: 7,
		Tags:  map[string]uint32{"zeta": 1, "alpha": 2, "mid": 3, "beta": 4},
	}

	first, err := Marshal(value)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(value)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	var decoded sample
	require.NoError(t, Unmarshal(first, &decoded))
	assert.Equal(t, value, decoded)
}

func TestUnmarshalGarbage(t *testing.T) {
	var decoded sample
	assert.Error(t, Unmarshal([]byte{0xff, 0x00, 0x13}, &decoded))
}
