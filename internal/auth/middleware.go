package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutormarket/internal/model"
)

const userKey = "user"

// Syncer records a verified identity and returns the stored user.
type Syncer interface {
	SyncUser(ctx context.Context, u model.User) (model.User, error)
}

// Config configures the bearer middleware.
type Config struct {
	SigningKey  string
	Issuer      string
	AdminEmails []string
	Syncer      Syncer
	Logger      *zap.Logger
}

// Bearer enforces HS256 identity tokens. The token comes from the
// Authorization header, or from the token query parameter for WebSocket
// upgrades where browsers cannot set headers.
func Bearer(cfg Config) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, cfg.SigningKey, cfg.Issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		u, err := claims.User(cfg.AdminEmails)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if cfg.Syncer != nil {
			stored, err := cfg.Syncer.SyncUser(c.Request.Context(), u)
			switch {
			case err != nil:
				logger.Warn("user sync failed", zap.String("user_id", u.ID), zap.Error(err))
			case !adminListed(cfg.AdminEmails, u.ID) && stored.Role != "":
				// role changes made by admins outrank the token
				u.Role = stored.Role
			}
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return c.Query("token")
}

// CurrentUser returns the identity set by Bearer.
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}
