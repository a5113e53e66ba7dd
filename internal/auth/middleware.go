package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"questboard/internal/guard"
	"questboard/internal/metrics"
	"questboard/internal/model"
	"questboard/internal/session"
)

const claimsKey = "claims"

// SessionCookie parses the portal session cookie when present. A missing or
// invalid cookie is not an error here: the request continues without claims
// and the portal starts a fresh session.
func SessionCookie(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(CookieName); err == nil && raw != "" {
			if claims, err := Parse(raw, signingKey, issuer); err == nil {
				c.Set(claimsKey, claims)
			}
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims SessionCookie stored on the context.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// StateFunc returns the session state for the request.
type StateFunc func(c *gin.Context) session.State

// RequireRole applies the route guard. An empty role admits any signed-in
// session. Loading sessions get 202 with a placeholder body; redirects use
// 303 with the target in both the Location header and the body.
func RequireRole(role model.Role, state StateFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := guard.Decide(state(c), role, c.Request.URL.RequestURI())
		metrics.ObserveGuard(d.Kind.String())
		switch d.Kind {
		case guard.Placeholder:
			c.AbortWithStatusJSON(http.StatusAccepted, gin.H{"state": "loading"})
		case guard.Redirect:
			c.Header("Location", d.Target)
			c.AbortWithStatusJSON(http.StatusSeeOther, gin.H{"redirect": d.Target})
		default:
			c.Next()
		}
	}
}
