package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/datapult/datapult/pkg/crypto"
	"github.com/datapult/datapult/pkg/errors"
	"github.com/datapult/datapult/pkg/response"
)

// ServiceTokenHeader carries the shared secret on service-to-service calls.
const ServiceTokenHeader = "X-Service-Token"

// ServiceAuth guards internal endpoints with a shared-secret header compared
// in constant time. An empty configured secret rejects every request rather
// than leaving the endpoint open.
func ServiceAuth(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)

	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(ServiceTokenHeader))
		if secret == "" || presented == "" || !crypto.SecureCompare(presented, secret) {
			response.Error(c, errors.NewUnauthorized("Invalid service token"))
			c.Abort()
			return
		}
		c.Next()
	}
}
