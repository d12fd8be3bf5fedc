package web

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/location"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
)

const dateLayout = "2006-01-02"

// handleIndex serves the dashboard page
func (s *Server) handleIndex(c *gin.Context) {
	s.serveStatic(c, "index.html", "text/html; charset=utf-8")
}

// handleDashboard serves the dashboard for one known location
func (s *Server) handleDashboard(c *gin.Context) {
	if s.locations != nil {
		if _, err := s.locations.Resolve(c.Param("location_id")); err != nil {
			c.String(http.StatusNotFound, "Location not found")
			return
		}
	}
	s.serveStatic(c, "index.html", "text/html; charset=utf-8")
}

func (s *Server) serveStatic(c *gin.Context, path, contentType string) {
	file, err := staticContentFS.Open(path)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, contentType, content)
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	resp := gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.pipeline != nil {
		resp["pipeline"] = s.pipeline.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// handleCameraStatus reports whether frames are flowing
func (s *Server) handleCameraStatus(c *gin.Context) {
	live := s.frames != nil && s.frames.Live()
	msg := "Camera is inactive"
	if live {
		msg = "Camera is active"
	}

	resp := gin.H{
		"active":  live,
		"message": msg,
	}
	if s.pipeline != nil {
		st := s.pipeline.Status()
		resp["state"] = st.Camera.State
		resp["camera"] = st.Camera
		resp["location"] = st.Location
		resp["totals"] = st.Counting.Totals
		resp["total"] = st.Counting.Total
	}
	c.JSON(http.StatusOK, resp)
}

// handleListLocations lists configured locations and the active one
func (s *Server) handleListLocations(c *gin.Context) {
	if s.locations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location register not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current":   s.locations.Current(),
		"available": s.locations.Available(),
	})
}

type setLocationRequest struct {
	LocationID string `json:"location_id" binding:"required"`
}

// handleSetLocation switches the active location
func (s *Server) handleSetLocation(c *gin.Context) {
	if s.locations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location register not available"})
		return
	}

	var req setLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	current, err := s.locations.Set(req.LocationID)
	if err != nil {
		s.locationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": current})
}

// handleSetLocationRedirect switches the location and opens its dashboard
func (s *Server) handleSetLocationRedirect(c *gin.Context) {
	if s.locations == nil {
		c.String(http.StatusServiceUnavailable, "Location register not available")
		return
	}

	current, err := s.locations.Set(c.Param("location_id"))
	if err != nil {
		if errors.Is(err, location.ErrUnknownLocation) {
			c.String(http.StatusNotFound, "Location not found")
			return
		}
		s.LogError("Failed to set location", err)
		c.String(http.StatusInternalServerError, "Failed to set location")
		return
	}
	c.Redirect(http.StatusFound, "/dashboard/"+url.PathEscape(current))
}

func (s *Server) locationError(c *gin.Context, err error) {
	if errors.Is(err, location.ErrUnknownLocation) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.LogError("Failed to set location", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set location"})
}

func (s *Server) trafficAvailable(c *gin.Context) bool {
	if s.traffic == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Vehicle store not available"})
		return false
	}
	return true
}

// handleSummary returns today/week totals, peak hour and current hour
func (s *Server) handleSummary(c *gin.Context) {
	if !s.trafficAvailable(c) {
		return
	}
	summary, err := s.traffic.Summary(c.Request.Context(), c.Param("location_id"), time.Now())
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleVehicleTypes returns today's count per class
func (s *Server) handleVehicleTypes(c *gin.Context) {
	if !s.trafficAvailable(c) {
		return
	}
	counts, err := s.traffic.VehicleTypes(c.Request.Context(), c.Param("location_id"), time.Now(), s.classes)
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// handleHourly returns 24 hourly buckets for ?date=YYYY-MM-DD, today by default
func (s *Server) handleHourly(c *gin.Context) {
	if !s.trafficAvailable(c) {
		return
	}

	day := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	hourly, err := s.traffic.Hourly(c.Request.Context(), c.Param("location_id"), day)
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, hourly)
}

// handleDaily returns the last seven days, oldest first
func (s *Server) handleDaily(c *gin.Context) {
	if !s.trafficAvailable(c) {
		return
	}
	daily, err := s.traffic.Daily(c.Request.Context(), c.Param("location_id"), time.Now())
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, daily)
}

// handleRecent returns the latest counted vehicles, ?limit=N (default 20)
func (s *Server) handleRecent(c *gin.Context) {
	if !s.trafficAvailable(c) {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	records, err := s.traffic.RecentVehicles(c.Request.Context(), c.Param("location_id"), limit)
	if err != nil {
		s.queryError(c, err)
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"id":           r.ID,
			"timestamp":    r.Timestamp.Format(state.TimestampLayout),
			"vehicle_type": r.VehicleType,
			"vehicle_id":   r.VehicleID,
			"location_id":  r.LocationID,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicles": out,
		"count":    len(out),
	})
}

func (s *Server) queryError(c *gin.Context, err error) {
	s.LogError("Traffic query failed", err, "path", c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query vehicle data"})
}
