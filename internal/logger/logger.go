// Package logger holds the process-wide zap logger and its gin integration.
package logger

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDKey is both the header name and the gin context key for the request id.
const RequestIDKey = "X-Request-ID"

const contextKey = "logger"

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// New builds a JSON production logger at the given level ("debug", "info", ...).
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level.SetLevel(lvl)

	return cfg.Build()
}

// SetDefault replaces the global logger.
func SetDefault(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// L returns the global logger, falling back to a no-op logger before SetDefault.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Middleware assigns a request id, stores a request-scoped logger in the gin
// context and logs each completed request.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDKey, requestID)

		ctxLogger := L().With(zap.String("request_id", requestID))
		c.Set(contextKey, ctxLogger)

		c.Next()

		fields := []zapcore.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			ctxLogger.Error("HTTP request failed", fields...)
			return
		}
		ctxLogger.Info("HTTP request completed", fields...)
	}
}

// FromContext returns the request-scoped logger, or the global one.
func FromContext(c *gin.Context) *zap.Logger {
	if c != nil {
		if l, ok := c.Get(contextKey); ok {
			if zl, ok := l.(*zap.Logger); ok {
				return zl
			}
		}
	}
	return L()
}
