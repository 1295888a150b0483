package sandals

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameStdStreamStdout(t *testing.T) {
	out := FrameStdStream([]byte("hello"), false)
	require.Len(t, out, 9)
	n := binary.BigEndian.Uint32(out[:4])
	assert.Equal(t, uint32(5), n)
	assert.Equal(t, "hello", string(out[4:]))
}

func TestFrameStdStreamStderrSetsHighBit(t *testing.T) {
	out := FrameStdStream([]byte("err"), true)
	n := binary.BigEndian.Uint32(out[:4])
	assert.NotZero(t, n&stderrBit)
	assert.Equal(t, uint32(3), n&^stderrBit)
}

func TestClassifyStdStreamPeer(t *testing.T) {
	stderr, ok := ClassifyStdStreamPeer(StdStreamsStdoutAddr)
	assert.True(t, ok)
	assert.False(t, stderr)

	stderr, ok = ClassifyStdStreamPeer(StdStreamsStderrAddr)
	assert.True(t, ok)
	assert.True(t, stderr)

	_, ok = ClassifyStdStreamPeer("unknown")
	assert.False(t, ok)
}
