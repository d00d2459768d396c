package checksum_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsarpub/internal/pub/checksum"
)

func TestCompute_KnownVector(t *testing.T) {
	// CRC-32C check value from RFC 3720 / iSCSI.
	assert.Equal(t, uint32(0xE3069283), checksum.Compute([]byte("123456789")))
	assert.Equal(t, uint32(0), checksum.Compute(nil))
}

func TestCompute_Deterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	assert.Equal(t, checksum.Compute(data), checksum.Compute(data))
}

func TestCompute_SingleByteFlip(t *testing.T) {
	data := []byte("payload bytes under test")
	want := checksum.Compute(data)

	for i := range data {
		flipped := append([]byte(nil), data...)
		flipped[i] ^= 0x01
		assert.NotEqual(t, want, checksum.Compute(flipped), "flip at byte %d went undetected", i)
	}
}

func TestNew_MatchesComputeOverConcatenation(t *testing.T) {
	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, 11)
	metadata := []byte("metadata!!!")
	payload := []byte("compressed payload")

	h := checksum.New()
	for _, part := range [][]byte{size, metadata, payload} {
		_, err := h.Write(part)
		require.NoError(t, err)
	}

	joined := append(append(append([]byte(nil), size...), metadata...), payload...)
	assert.Equal(t, checksum.Compute(joined), h.Sum32())
}
