package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

const (
	placeholderText     = "No Signal"
	placeholderInterval = time.Second
)

// Upgrader upgrades event subscribers; any origin on the local network
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// currentJPEG returns the latest frame or a rendered placeholder. seq is the
// source frame number, version the shared publish count; both are 0 for the
// placeholder. Sources restart seq on reconnect, so only version identifies
// a frame.
func (s *Server) currentJPEG() (data []byte, seq, version uint64, err error) {
	if s.frames != nil {
		if f, v, ok := s.frames.Snapshot(); ok {
			return f.Data, f.Seq, v, nil
		}
	}
	data, err = video.PlaceholderJPEG(640, 480, placeholderText)
	return data, 0, 0, err
}

// handleFrame returns the latest annotated frame as a single JPEG
func (s *Server) handleFrame(c *gin.Context) {
	data, seq, _, err := s.currentJPEG()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render frame"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-Seq", strconv.FormatUint(seq, 10))
	c.Header("X-Camera-Live", strconv.FormatBool(s.frames != nil && s.frames.Live()))
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleLiveFeed streams the shared frame as multipart MJPEG. Each client
// polls at the configured rate and only writes frames it has not sent yet.
func (s *Server) handleLiveFeed(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering if behind proxy

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	if s.metrics != nil {
		s.metrics.StreamClients.Add(1)
		defer s.metrics.StreamClients.Add(-1)
	}

	fps := s.config.StreamFPS
	if fps <= 0 {
		fps = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var (
		lastVersion     uint64
		lastPlaceholder time.Time
		first           = true
	)

	c.Stream(func(w io.Writer) bool {
		if !first {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-ticker.C:
			}
		}
		first = false

		data, _, version, err := s.currentJPEG()
		if err != nil {
			s.LogWarn("Failed to render live feed frame", "error", err)
			return false
		}
		if version != 0 && version == lastVersion {
			return true
		}
		if version == 0 {
			if time.Since(lastPlaceholder) < placeholderInterval {
				return true
			}
			lastPlaceholder = time.Now()
		}
		lastVersion = version

		if err := writePart(w, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
}

func writePart(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// handleEventsWS registers a websocket subscriber for counting and camera
// events. Messages from the client are read and discarded.
func (s *Server) handleEventsWS(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.LogWarn("WebSocket upgrade error", "error", err)
		return
	}
	conn.SetReadLimit(512)

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	if s.metrics != nil {
		s.metrics.EventClients.Add(1)
		defer s.metrics.EventClients.Add(-1)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.LogDebug("Event subscriber disconnected")
			} else {
				s.LogDebug("Event subscriber dropped", "error", err)
			}
			return
		}
	}
}
