package middleware

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// PerUserRateLimit 每用户令牌桶限频, 身份取自 JWT 中间件注入的 Locals("id")
// 匿名请求按客户端 IP 限频
func PerUserRateLimit(rps float64, burst int) fiber.Handler {
	var limiters sync.Map // key -> *rate.Limiter

	return func(c *fiber.Ctx) error {
		key := c.IP()
		if id := c.Locals("id"); id != nil {
			key = fmt.Sprint(id)
		}

		v, _ := limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(rps), burst))
		limiter := v.(*rate.Limiter)

		if !limiter.Allow() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"Error": "Too many requests, slow down",
			})
		}
		return c.Next()
	}
}
