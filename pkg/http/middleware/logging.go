package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "FxPull/pkg/logger"
)

// RequestLogging logs every request at debug level, server errors at error
// level. The request id is set by echo's RequestID middleware.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo's error handler write the status before logging it
				c.Error(err)
			}

			res := c.Response()
			fields := []applogger.Field{
				applogger.String("id", res.Header().Get(echo.HeaderXRequestID)),
				applogger.String("method", c.Request().Method),
				applogger.String("route", c.Path()),
				applogger.String("uri", c.Request().RequestURI),
				applogger.Int("status", res.Status),
				applogger.Int64("bytes", res.Size),
				applogger.Duration("latency", time.Since(start)),
			}
			if res.Status >= 500 {
				if err != nil {
					fields = append(fields, applogger.Error(err))
				}
				l.Error("http request failed", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
