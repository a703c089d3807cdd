package api

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/bitable"
	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

// FarmInfoProvider assembles the complete traceability document for one
// farmer record.
type FarmInfoProvider interface {
	CompleteInfo(ctx context.Context, tenantNum, farmerID string) (*model.FarmInfo, error)
}

// SensorIngestor applies a decoded sensor reading to a tenant's base.
type SensorIngestor interface {
	Apply(ctx context.Context, tenantNum string, reading model.SensorReading) (bool, error)
}

// TenantDirectory answers tenant-scoped lookups against the cached registry.
type TenantDirectory interface {
	IsAuthorized(ctx context.Context, tenantNum, farmerID string) (bool, error)
	Tables(ctx context.Context, tenantNum string) (map[string]model.TableSchema, error)
	ClientFor(tenantNum string) (*bitable.Client, *bitable.Schema, error)
	Stats(ctx context.Context) (*model.RegistryStats, error)
}

// Server carries the handler dependencies behind small interfaces so tests
// can stub each one independently.
type Server struct {
	info    FarmInfoProvider
	sensors SensorIngestor
	tenants TenantDirectory
}

// NewServer wires a Server.
func NewServer(info FarmInfoProvider, sensors SensorIngestor, tenants TenantDirectory) *Server {
	return &Server{info: info, sensors: sensors, tenants: tenants}
}

// NewRouter builds the public gin router.
func NewRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestID(), accessLog(), gin.Recovery(), cors())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})
		v1.GET("/farm/info", s.getFarmInfo)
		v1.GET("/farm/tables", s.getFarmTables)
		v1.GET("/img/:token", s.getImage)
		v1.POST("/iot/dht11", s.postDHT11)
		v1.GET("/live/callback", s.getLiveCallback)
		v1.GET("/tenants/stats", s.getTenantStats)
	}
	return router
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// drainClose discards the remainder of a proxied body so the connection can
// be reused.
func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
