package video

import (
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame_EncodesAndSeals(t *testing.T) {
	f := testFrame(t, 7, 128)

	assert.Equal(t, uint64(7), f.Seq)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)
	assert.Equal(t, []byte{0xFF, 0xD8}, f.Data[:2])
	assert.True(t, f.Verify())
}

func TestDecodeFrame(t *testing.T) {
	src := testFrame(t, 1, 200)

	f, err := DecodeFrame(2, time.Now(), src.Data)
	require.NoError(t, err)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)
	assert.NotNil(t, f.Image)
	assert.True(t, f.Verify())
}

func TestDecodeFrame_Invalid(t *testing.T) {
	_, err := DecodeFrame(1, time.Now(), nil)
	assert.True(t, errors.Is(err, ErrEmptyFrame))

	_, err = DecodeFrame(1, time.Now(), []byte("not a jpeg"))
	assert.Error(t, err)
}

func TestFrame_CloneIsIndependent(t *testing.T) {
	f := testFrame(t, 1, 10)
	c := f.Clone()

	c.Data[len(c.Data)-3] ^= 0xFF
	assert.True(t, f.Verify(), "original must be untouched")
	assert.False(t, c.Verify(), "corrupted clone must fail verification")
}

func TestNewFrame_NilImage(t *testing.T) {
	_, err := NewFrame(1, time.Now(), nil, 80)
	assert.True(t, errors.Is(err, ErrEmptyFrame))
}

func TestToRGBA_CopiesPixels(t *testing.T) {
	src := solidImage(4, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	dst := ToRGBA(src)
	dst.Pix[0] = 99
	assert.Equal(t, uint8(1), src.Pix[0])
}
