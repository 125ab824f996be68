package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/prepa-tools/colloscope-api/internal/models"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
	"github.com/prepa-tools/colloscope-api/pkg/response"
)

// RBAC restricts a route to the listed roles. It requires JWT to have run
// first so claims are present on the context.
func RBAC(allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextClientKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		for _, role := range allowed {
			if claims.Role == role {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
