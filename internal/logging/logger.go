package logging

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Anything other than "development" gets the
// JSON production encoder.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

type Logger struct {
	zapLogger *zap.Logger
}

func NewLogger(zapLogger *zap.Logger) *Logger {
	return &Logger{
		zapLogger: zapLogger,
	}
}

func (l *Logger) Zap() *zap.Logger {
	return l.zapLogger
}

// GinLogger logs one line per request. Server errors log at error level and
// client errors at warn.
func (l *Logger) GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("route", route),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("user-agent", c.Request.UserAgent()),
		}
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			fields = append(fields, zap.String("error", errorMessage))
		}

		switch {
		case statusCode >= 500:
			l.zapLogger.Error("request failed", fields...)
		case statusCode >= 400:
			l.zapLogger.Warn("request rejected", fields...)
		default:
			l.zapLogger.Info("request served", fields...)
		}

		if gin.Mode() == gin.DebugMode {
			fmt.Printf("[FLASHPOLL] %v | %3d | %13v | %-7s %s\n",
				start.Format("2006/01/02 - 15:04:05"),
				statusCode,
				latency,
				c.Request.Method,
				path,
			)
		}
	}
}

func (l *Logger) Error(msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zapLogger.Error(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zapLogger.Info(msg, fields...)
}

func (l *Logger) Fatal(msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zapLogger.Fatal(msg, fields...)
}

// Sync flushes buffered entries. Syncing stderr fails on some platforms, so
// the error is only reported, never returned.
func (l *Logger) Sync() {
	if err := l.zapLogger.Sync(); err != nil {
		l.zapLogger.Debug("Failed to sync logger", zap.Error(err))
	}
}
