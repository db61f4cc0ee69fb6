package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/fintrack/internal/observability/context"
)

const (
	contextUserIDKey      = "user_id"
	contextSessionIDKey   = "session_id"
	contextAccessTokenKey = "access_token"
)

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AuthRequired authenticates the bearer access token and records the caller on the context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, user, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, user.ID)
		c.Set(contextSessionIDKey, session.ID.String())
		c.Set(contextAccessTokenKey, token)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), user.ID, session.ID.String()))
		c.Next()
	}
}

// authorize requires AuthRequired to have run.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), c.GetString(contextUserIDKey), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) SigninRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.signinLimiter == nil {
			c.Next()
			return
		}
		decision := s.signinLimiter.Allow(c.Request.Context(), c.ClientIP())
		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
