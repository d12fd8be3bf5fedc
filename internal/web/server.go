package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	hub        *Hub
	cancel     context.CancelFunc
	routesOnce sync.Once
	version    string    // Application version
	startTime  time.Time // Server start time for uptime calculation

	frames    FrameSource    // Optional shared frame for the live feed
	pipeline  StatusSource   // Optional ingestion loop status
	locations LocationStore  // Optional location register
	traffic   TrafficStore   // Optional vehicle store for dashboard queries
	classes   []string       // Classes reported by vehicle-types
	healthMgr *health.Manager
	metrics   *metrics.Metrics
}

// FrameSource is the shared frame buffer
type FrameSource interface {
	Snapshot() (*video.Frame, uint64, bool)
	Live() bool
}

// StatusSource reports the ingestion loop state
type StatusSource interface {
	Status() pipeline.Status
}

// LocationStore is the active-location register
type LocationStore interface {
	Current() string
	Available() []string
	Resolve(id string) (string, error)
	Set(id string) (string, error)
}

// TrafficStore answers dashboard queries
type TrafficStore interface {
	Summary(ctx context.Context, locationID string, now time.Time) (*state.TrafficSummary, error)
	VehicleTypes(ctx context.Context, locationID string, day time.Time, classes []string) (map[string]int, error)
	Hourly(ctx context.Context, locationID string, day time.Time) (map[string]int, error)
	Daily(ctx context.Context, locationID string, now time.Time) ([]state.DailyCount, error)
	RecentVehicles(ctx context.Context, locationID string, limit int) ([]state.VehicleRecord, error)
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		hub:         NewHub(log),
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetFrameSource sets the shared frame served by the live feed
func (s *Server) SetFrameSource(frames FrameSource) {
	s.frames = frames
}

// SetPipeline sets the ingestion loop used for status
func (s *Server) SetPipeline(p StatusSource) {
	s.pipeline = p
}

// SetLocations sets the location register
func (s *Server) SetLocations(locations LocationStore) {
	s.locations = locations
}

// SetTrafficStore sets the store for dashboard queries. classes are always
// present in vehicle-types responses, zero when unseen.
func (s *Server) SetTrafficStore(store TrafficStore, classes []string) {
	s.traffic = store
	s.classes = classes
}

// SetObservability sets the health manager and metrics registry
func (s *Server) SetObservability(h *health.Manager, m *metrics.Metrics) {
	s.healthMgr = h
	s.metrics = m
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.setupRoutes()

	hubCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(hubCtx)
	if bus := s.GetEventBus(); bus != nil {
		go s.forwardEvents(hubCtx, bus)
	}

	// WriteTimeout stays disabled for the MJPEG stream
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// forwardEvents pushes bus events of interest to websocket clients
func (s *Server) forwardEvents(ctx context.Context, bus *service.EventBus) {
	ch := bus.SubscribeAll()
	defer bus.UnsubscribeAll(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !pushed(ev.Type) {
				continue
			}
			msg, err := json.Marshal(gin.H{
				"type":      ev.Type,
				"source":    ev.Source,
				"timestamp": ev.Timestamp,
				"data":      ev.Data,
			})
			if err != nil {
				s.LogWarn("Failed to encode event", "type", ev.Type, "error", err)
				continue
			}
			s.hub.Broadcast(msg)
		}
	}
}

func pushed(t service.EventType) bool {
	switch t {
	case service.EventTypeVehicleCounted,
		service.EventTypeCameraStateChanged,
		service.EventTypeLocationChanged,
		service.EventTypeSinkFault,
		service.EventTypePipelineFinished:
		return true
	}
	return false
}

// setupRoutes sets up all routes once; dependencies must be set before
func (s *Server) setupRoutes() {
	s.routesOnce.Do(s.registerRoutes)
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/dashboard/:location_id", s.handleDashboard)
	s.router.GET("/set_location/:location_id", s.handleSetLocationRedirect)

	// Streaming
	s.router.GET("/live-feed", s.handleLiveFeed)
	s.router.GET("/ws/events", s.handleEventsWS)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/frame", s.handleFrame)
		api.GET("/camera/status", s.handleCameraStatus)
		api.GET("/locations", s.handleListLocations)
		api.PUT("/location", s.handleSetLocation)

		traffic := api.Group("/:location_id/traffic")
		{
			traffic.GET("/summary", s.handleSummary)
			traffic.GET("/vehicle-types", s.handleVehicleTypes)
			traffic.GET("/hourly", s.handleHourly)
			traffic.GET("/daily", s.handleDaily)
			traffic.GET("/recent", s.handleRecent)
		}
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.healthMgr != nil {
		s.router.GET("/health", gin.WrapF(s.healthMgr.HandleHealth))
		s.router.GET("/health/live", gin.WrapF(s.healthMgr.HandleLiveness))
		s.router.GET("/health/ready", gin.WrapF(s.healthMgr.HandleReadiness))
		s.router.GET("/health/services", gin.WrapF(s.healthMgr.HandleServices))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
