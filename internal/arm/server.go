package arm

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/armctl/internal/auth"
	"github.com/danmuck/armctl/internal/observability"
)

// Server exposes the control surface over HTTP.
type Server struct {
	name    string
	ctrl    *Controller
	sup     *Supervisor
	router  *gin.Engine
	keys    auth.Validator
	started time.Time
}

func NewServer(name string, ctrl *Controller, sup *Supervisor, corsOrigins []string, apiKey string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-API-Key"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:    name,
		ctrl:    ctrl,
		sup:     sup,
		router:  r,
		started: time.Now(),
	}
	if apiKey != "" {
		s.keys = auth.StaticKey{Key: apiKey}
	}
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	r := s.router

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":  s.name,
			"status":   "ok",
			"channels": s.ctrl.ChannelIDs(),
		})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.name,
			"version": "0.0.1",
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.started).String(),
			"node":    s.name,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/servos", s.handleListServos)
	api.GET("/servos/:id", s.handleServoStatus)

	// Engaging the stop is never auth-gated; releasing it is.
	api.POST("/emergency-stop", s.handleEmergencyStop)

	mutating := api.Group("")
	mutating.Use(s.requireKey())
	mutating.POST("/initialize", s.handleInitialize)
	mutating.POST("/servos/:id/start", s.handleStart)
	mutating.POST("/servos/:id/stop", s.handleStop)
	mutating.POST("/servos/:id/position", s.handlePosition)
	mutating.POST("/servos/:id/speed", s.handleSpeed)
	mutating.POST("/servos/:id/reset", s.handleReset)
	mutating.POST("/emergency-stop/clear", s.handleEmergencyClear)
}

func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.keys == nil {
			c.Next()
			return
		}
		if err := s.keys.Validate(c.GetHeader("X-API-Key")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sup.Snapshot())
}

func (s *Server) handleListServos(c *gin.Context) {
	snap := s.sup.Snapshot()
	c.JSON(http.StatusOK, gin.H{"servos": snap.Servos})
}

func (s *Server) handleServoStatus(c *gin.Context) {
	status, err := s.ctrl.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type startRequest struct {
	Direction string  `json:"direction"`
	Speed     float64 `json:"speed"`
}

func (s *Server) handleStart(c *gin.Context) {
	var body startRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	dir, err := ParseDirection(body.Direction)
	if err != nil {
		writeError(c, err)
		return
	}

	req := NewCommandRequest(c.Param("id"), ActionStart)
	req.Direction = dir
	req.Speed = body.Speed
	req.Issuer = issuer(c)

	res, err := s.ctrl.Apply(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStop(c *gin.Context) {
	req := NewCommandRequest(c.Param("id"), ActionStop)
	req.Issuer = issuer(c)

	res, err := s.ctrl.Apply(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type positionRequest struct {
	Angle *float64 `json:"angle"`
	Speed float64  `json:"speed"`
}

func (s *Server) handlePosition(c *gin.Context) {
	var body positionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if body.Angle == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "angle is required"})
		return
	}

	req := NewCommandRequest(c.Param("id"), ActionSetPosition)
	req.Angle = *body.Angle
	req.Speed = body.Speed
	req.Issuer = issuer(c)

	res, err := s.ctrl.Apply(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type speedRequest struct {
	Speed float64 `json:"speed"`
}

func (s *Server) handleSpeed(c *gin.Context) {
	var body speedRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req := NewCommandRequest(c.Param("id"), ActionSetSpeed)
	req.Speed = body.Speed
	req.Issuer = issuer(c)

	res, err := s.ctrl.Apply(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleReset(c *gin.Context) {
	req := NewCommandRequest(c.Param("id"), ActionReset)
	req.Issuer = issuer(c)

	res, err := s.ctrl.Apply(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleInitialize(c *gin.Context) {
	results, err := s.ctrl.Initialize(issuer(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	// A malformed body must never keep the stop from engaging.
	source := issuer(c)
	var req struct {
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err == nil && strings.TrimSpace(req.Source) != "" {
		source = strings.TrimSpace(req.Source)
	}
	s.sup.EmergencyStop(source)
	c.JSON(http.StatusOK, gin.H{"emergency_stop": s.sup.EStop()})
}

func (s *Server) handleEmergencyClear(c *gin.Context) {
	if err := s.sup.ClearEmergencyStop(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergency_stop": s.sup.EStop()})
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidDirection),
		errors.Is(err, ErrOutOfBounds),
		errors.Is(err, ErrSpeedExceeded),
		errors.Is(err, ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmergencyStopActive),
		errors.Is(err, ErrUnsafeToClear),
		errors.Is(err, ErrChannelFaulted),
		errors.Is(err, ErrNotFaulted),
		errors.Is(err, ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func issuer(c *gin.Context) string {
	return "api:" + c.ClientIP()
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
