package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vpn-bot/internal/service"
)

const requestIDHeader = "X-Request-ID"

// NewRouter configura el router de Gin con middlewares y rutas base.
// adminH puede ser nil; en ese caso el API de administracion no se publica.
func NewRouter(
	logger *zap.Logger,
	apiH *APIHandler,
	adminH *AdminHandler,
	adminTokens *service.AdminTokenService,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: request id, logging y recovery.
	r.Use(requestIDMiddleware(), zapLoggerMiddleware(logger), gin.Recovery())

	api := r.Group("/api")
	api.POST("/validate", apiH.Validate)
	api.GET("/config", apiH.GetConfig)
	api.GET("/telegram-link", apiH.TelegramLink)
	// Ruta previa a la app; se mantiene para clientes viejos.
	api.GET("/v1/config/wg", apiH.GetConfig)

	if adminH != nil && adminTokens.Enabled() {
		admin := api.Group("/admin", AdminAuthMiddleware(adminTokens))
		admin.GET("/users/:id", adminH.GetUser)
		admin.POST("/users/:id/grant", adminH.Grant)
		admin.POST("/sweep", adminH.Sweep)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// requestIDMiddleware reutiliza X-Request-ID o genera uno nuevo.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
