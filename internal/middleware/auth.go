package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerAuth 创建一个Bearer Token认证中间件
func BearerAuth(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// 获取Authorization header
			auth := c.Request().Header.Get(echo.HeaderAuthorization)

			// 检查header格式
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			// 提取并验证token
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			return next(c)
		}
	}
}
