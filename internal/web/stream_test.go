package web

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

func publishTestFrame(t *testing.T, shared *video.SharedFrame, seq uint64) *video.Frame {
	t.Helper()
	return publishShade(t, shared, seq, 120)
}

func publishShade(t *testing.T, shared *video.SharedFrame, seq uint64, green uint8) *video.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{G: green, A: 255}), image.Point{}, draw.Src)
	f, err := video.NewFrame(seq, time.Now(), img, 70)
	require.NoError(t, err)
	shared.Publish(f)
	return f
}

func TestHandleFrame_Placeholder(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/api/frame", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-Frame-Seq"))
	assert.Equal(t, "false", w.Header().Get("X-Camera-Live"))

	_, err := video.DecodeFrame(0, time.Now(), w.Body.Bytes())
	assert.NoError(t, err)
}

func TestHandleFrame_Latest(t *testing.T) {
	env := setupTestServer(t)
	f := publishTestFrame(t, env.shared, 9)
	env.shared.SetLive(true)

	w := env.do(t, http.MethodGet, "/api/frame", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9", w.Header().Get("X-Frame-Seq"))
	assert.Equal(t, "true", w.Header().Get("X-Camera-Live"))
	assert.Equal(t, f.Data, w.Body.Bytes())
}

func openLiveFeed(t *testing.T, env *testEnv) *bufio.Reader {
	t.Helper()
	ts := httptest.NewServer(env.server.router)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/live-feed", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

// readPart reads one multipart section and returns its body
func readPart(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame", strings.TrimSpace(line))

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg", strings.TrimSpace(line))

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "Content-Length:")))
	require.NoError(t, err)

	_, _ = r.ReadString('\n') // blank line
	body := make([]byte, n)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	_, _ = r.ReadString('\n') // part terminator
	return body
}

func TestHandleLiveFeed(t *testing.T) {
	env := setupTestServer(t)
	f := publishTestFrame(t, env.shared, 1)

	r := openLiveFeed(t, env)
	assert.Equal(t, f.Data, readPart(t, r))
}

func TestHandleLiveFeed_FrameAfterReconnect(t *testing.T) {
	env := setupTestServer(t)
	first := publishShade(t, env.shared, 1, 40)

	r := openLiveFeed(t, env)
	require.Equal(t, first.Data, readPart(t, r))

	// The reopened source numbers its frames from 1 again
	second := publishShade(t, env.shared, 1, 200)
	require.NotEqual(t, first.Data, second.Data)
	assert.Equal(t, second.Data, readPart(t, r))
}

func TestWritePart(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, writePart(&sb, []byte("abc")))
	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\nabc\r\n", sb.String())
}
