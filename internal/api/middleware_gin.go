package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/dwelltime/internal/auth"
	"github.com/goodtune/dwelltime/internal/metrics"
	"github.com/rs/zerolog"
)

// LoggingMiddlewareGin logs each request and records request metrics.
func LoggingMiddlewareGin(logger zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := ctx.Writer.Status()

		metrics.RequestsTotal.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		logger.Info().
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Str("remote_addr", ctx.ClientIP()).
			Int("status", status).
			Int("size", ctx.Writer.Size()).
			Dur("duration", elapsed).
			Msg("API request")
	}
}

// RateLimitMiddlewareGin limits each client IP. It runs ahead of
// authentication so rejected keys spend the same budget. A nil limiter
// disables rate limiting.
func RateLimitMiddlewareGin(limiter *RateLimiter) gin.HandlerFunc {
	return rateLimit(limiter, func(ctx *gin.Context) string {
		return "ip:" + ctx.ClientIP()
	})
}

// RateLimitByKeyGin limits each authenticated API key, whichever address
// it is used from. It must run after auth.RequireAPIKeyGin.
func RateLimitByKeyGin(limiter *RateLimiter) gin.HandlerFunc {
	return rateLimit(limiter, func(ctx *gin.Context) string {
		if digest := ctx.GetString(auth.ContextKeyDigest); digest != "" {
			return "key:" + digest
		}
		return ""
	})
}

func rateLimit(limiter *RateLimiter, identify func(*gin.Context) string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if limiter == nil {
			ctx.Next()
			return
		}

		identifier := identify(ctx)
		if identifier != "" && !limiter.Allow(identifier) {
			metrics.RateLimited.Inc()
			writeMessage(ctx, http.StatusTooManyRequests, "Too many requests, please try again later")
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}
