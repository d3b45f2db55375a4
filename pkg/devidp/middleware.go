package devidp

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const sessionKey = "devidp.session"

// bearerAuth rejects requests without a live access token and stores the
// session on the context.
func (p *Provider) bearerAuth(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	tok, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || tok == "" {
		c.Header("WWW-Authenticate", `Bearer error="invalid_request"`)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	p.mu.Lock()
	s, ok := p.access[tok]
	p.mu.Unlock()
	if !ok || !p.now().Before(s.expiresAt) {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Set(sessionKey, s)
	c.Next()
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.Next()
}
