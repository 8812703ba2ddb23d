package gateway

import (
	"math"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware 基于令牌桶的限流中间件，所有转发请求共用一个桶
func RateLimitMiddleware(rps float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"detail": "Too many requests",
				})
			}
			return next(c)
		}
	}
}
