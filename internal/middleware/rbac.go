package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
	"github.com/itd-tools/erp-change-portal/pkg/response"
)

// RequireRoles enforces role-based access control for routes. Admins pass
// every DBA gate since the admin role implies DBA capability.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}
		if _, ok := allowed[models.RoleDBA]; ok && claims.Role.IsDBA() {
			c.Next()
			return
		}
		if claims.Role.IsAdmin() {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
