package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReleaser struct{ released []*RawBuffer }

func (r *countingReleaser) Release(buf *RawBuffer) {
	r.released = append(r.released, buf)
	buf.Unbind()
}

func TestParsePixelFormat(t *testing.T) {
	for f, name := range pixelFormatNames {
		got, err := ParsePixelFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, f, got)
		assert.Equal(t, name, got.String())
	}

	_, err := ParsePixelFormat("YUV422")
	assert.Error(t, err)
	assert.Equal(t, "PixelFormat(0x0110abcd)", PixelFormat(0x0110abcd).String())
}

func TestBufferLists_FIFO(t *testing.T) {
	var l BufferLists
	a, b := &RawBuffer{}, &RawBuffer{}
	l.PushFree(a)
	l.PushFree(b)
	assert.Same(t, a, l.PopFree())

	l.PushDone(a)
	free, done := l.Len()
	assert.Equal(t, 1, free)
	assert.Equal(t, 1, done)
	assert.Same(t, a, l.PopDone())
	assert.Nil(t, l.PopDone())
}

func TestBufferLists_ReleaseAll(t *testing.T) {
	var l BufferLists
	r := &countingReleaser{}
	owned := &RawBuffer{Data: make([]byte, 4)}
	owned.Bind(r)
	unowned := &RawBuffer{}

	l.PushFree(owned)
	l.PushDone(unowned)
	assert.Equal(t, 2, l.ReleaseAll())
	assert.Len(t, r.released, 1)
	assert.False(t, owned.Owned())

	free, done := l.Len()
	assert.Zero(t, free+done)
}

func TestRawBuffer_Bytes(t *testing.T) {
	buf := &RawBuffer{Data: make([]byte, 8), Size: 5}
	assert.Len(t, buf.Bytes(), 5)
	buf.Size = 20
	assert.Len(t, buf.Bytes(), 8)
}
