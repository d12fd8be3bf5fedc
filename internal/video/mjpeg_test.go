package video

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMJPEGReader_SplitsStream(t *testing.T) {
	a := testFrame(t, 1, 10).Data
	b := testFrame(t, 2, 200).Data

	var stream bytes.Buffer
	stream.Write([]byte("garbage"))
	stream.Write(a)
	stream.Write(b)

	r := NewMJPEGReader(&stream)

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestMJPEGReader_OneByteReads(t *testing.T) {
	a := testFrame(t, 1, 90).Data
	r := NewMJPEGReader(iotest.OneByteReader(bytes.NewReader(append(append([]byte{}, a...), a...))))

	for i := 0; i < 2; i++ {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestMJPEGReader_TruncatedFrame(t *testing.T) {
	a := testFrame(t, 1, 90).Data
	r := NewMJPEGReader(bytes.NewReader(a[:len(a)/2]))

	_, err := r.Next()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestMJPEGReader_ReadError(t *testing.T) {
	boom := errors.New("pipe broken")
	r := NewMJPEGReader(iotest.ErrReader(boom))

	_, err := r.Next()
	assert.True(t, errors.Is(err, boom))
}
