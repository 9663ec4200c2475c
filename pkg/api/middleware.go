package api

import (
	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/tenant"
)

// ctxKeyTenant is the gin context key carrying the resolved tenant id.
const ctxKeyTenant = "warden.tenant"

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// resolveTenant reads the X-Tenant-Id header, falling back to the default
// tenant. Ambient attribution is not available on the admin surface.
func resolveTenant() gin.HandlerFunc {
	resolver := tenant.NewResolver("")
	return func(c *gin.Context) {
		c.Set(ctxKeyTenant, resolver.Resolve(c.GetHeader(tenant.HeaderTenantID), ""))
		c.Next()
	}
}

func requestTenant(c *gin.Context) string {
	return c.GetString(ctxKeyTenant)
}
