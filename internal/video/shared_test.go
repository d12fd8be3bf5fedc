package video

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedFrame_Empty(t *testing.T) {
	s := NewSharedFrame()

	f, ok := s.Latest()
	assert.False(t, ok)
	assert.Nil(t, f)
	assert.False(t, s.Live())
	assert.Equal(t, uint64(0), s.Seq())
	_, v, ok := s.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), v)
}

func TestSharedFrame_PublishAndLatest(t *testing.T) {
	s := NewSharedFrame()
	s.Publish(testFrame(t, 1, 50))
	s.Publish(testFrame(t, 2, 60))

	f, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Seq)
	assert.True(t, f.Verify())
	assert.False(t, s.UpdatedAt().IsZero())
}

func TestSharedFrame_VersionCountsPublishes(t *testing.T) {
	s := NewSharedFrame()
	assert.Equal(t, uint64(0), s.Version())

	s.Publish(testFrame(t, 7, 50))
	// A reopened source starts its frame numbers again
	s.Publish(testFrame(t, 7, 60))
	s.Publish(nil)

	f, v, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, uint64(2), s.Version())
	assert.Equal(t, uint64(7), f.Seq)
	assert.True(t, f.Verify())
}

func TestSharedFrame_LatestIsPrivateCopy(t *testing.T) {
	s := NewSharedFrame()
	s.Publish(testFrame(t, 1, 50))

	a, _ := s.Latest()
	for i := range a.Data {
		a.Data[i] = 0
	}

	b, _ := s.Latest()
	assert.True(t, b.Verify(), "mutating a copy must not affect the slot")
}

func TestSharedFrame_Liveness(t *testing.T) {
	s := NewSharedFrame()
	s.SetLive(true)
	assert.True(t, s.Live())
	s.SetLive(false)
	assert.False(t, s.Live())
}

func TestSharedFrame_ConcurrentNoTornFrames(t *testing.T) {
	s := NewSharedFrame()

	frames := make([]*Frame, 8)
	for i := range frames {
		frames[i] = testFrame(t, uint64(i+1), uint8(i*30))
	}

	stop := make(chan struct{})
	var torn, reads atomic.Int64
	var lastSeen atomic.Uint64
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				f, ok := s.Latest()
				if !ok {
					continue
				}
				reads.Add(1)
				if !f.Verify() {
					torn.Add(1)
				}
				lastSeen.Store(f.Seq)
			}
		}()
	}

	published := uint64(0)
	deadline := time.Now().Add(200 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		src := frames[i%len(frames)]
		published++
		f := src.Clone()
		f.Seq = published
		s.Publish(f)
	}

	// Latest must reflect the last completed publish
	f, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, published, f.Seq)

	close(stop)
	wg.Wait()

	assert.Zero(t, torn.Load(), "readers observed torn frames")
	assert.Positive(t, reads.Load())
	assert.LessOrEqual(t, lastSeen.Load(), published)
}
