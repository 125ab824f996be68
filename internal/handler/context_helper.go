package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prepa-tools/colloscope-api/internal/middleware"
	"github.com/prepa-tools/colloscope-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextClientKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
