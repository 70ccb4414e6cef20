package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/bgremover/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger 给每个请求分配 request id，挂上 zerolog logger，并计数
func RequestLogger(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		rid := req.Header.Get(requestIDHeader)
		if rid == "" {
			rid = ksuid.New().String()
		}
		c.Header(requestIDHeader, rid)

		logger := log.With().
			Str("request_id", rid).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Request = req.WithContext(logger.WithContext(req.Context()))

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := map[string]string{
			"method": req.Method,
			"path":   route,
			"status": metrics.StatusClass(status),
		}
		reg.Inc(c.Request.Context(), metrics.HTTPRequestsTotal, labels, 1)

		var ev *zerolog.Event
		if status >= http.StatusInternalServerError || len(c.Errors) > 0 {
			ev = logger.Error()
			if last := c.Errors.Last(); last != nil {
				ev = ev.Err(last.Err)
			}
			reg.Inc(c.Request.Context(), metrics.HTTPRequestErrors, labels, 1)
		} else {
			ev = logger.Info()
		}
		ev.Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request served")
	}
}

// Recovery 把 panic 转成 500 JSON 并记录日志
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		zerolog.Ctx(c.Request.Context()).Error().
			Interface("panic", recovered).
			Msg("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
