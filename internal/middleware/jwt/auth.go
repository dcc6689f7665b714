package jwt

import (
	"strings"

	"InsightLink/pkg/back"
	"InsightLink/pkg/util/myjwt"
	"InsightLink/pkg/xerr"

	"github.com/gin-gonic/gin"
)

const (
	CtxUserID   = "uuid"
	CtxUsername = "username"
)

// Auth 使用配置文件中的签名密钥
func Auth() gin.HandlerFunc {
	return authWith(myjwt.ParseToken)
}

// AuthWithKey 指定签名密钥，便于测试与多租户部署
func AuthWithKey(key string) gin.HandlerFunc {
	return authWith(func(tok string) (*myjwt.CustomClaims, error) {
		return myjwt.ParseTokenWith(key, tok)
	})
}

func authWith(parse func(string) (*myjwt.CustomClaims, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			back.Error(c, xerr.Unauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}

		claims, err := parse(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			back.Error(c, xerr.Unauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.Uuid)
		c.Set(CtxUsername, claims.Username)
		c.Next()
	}
}
