package httpserver

import (
	"github.com/gin-gonic/gin"

	"github.com/atelier-lumen/portal/internal/model"
)

const userKey = "portal.user"

// WithUser stores the authenticated user on the request context.
func WithUser(c *gin.Context, u model.AppUser) {
	c.Set(userKey, u)
}

// UserFrom fetches the authenticated user from the request context.
func UserFrom(c *gin.Context) (model.AppUser, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return model.AppUser{}, false
	}
	u, ok := v.(model.AppUser)
	return u, ok
}
