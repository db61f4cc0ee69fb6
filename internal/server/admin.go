package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fintrack/pkg/db"
	"go.uber.org/zap"
)

func (s *Server) ListActiveSessions(c *gin.Context) {
	sessions, err := s.adminSessions.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

func (s *Server) SessionStats(c *gin.Context) {
	stats, err := s.adminSessions.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// RevokeUserSessions revokes every active session of the target user.
// A second request for the same user while one is running gets 409.
func (s *Server) RevokeUserSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()
	if _, err := s.authsvc.GetUser(ctx, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	var count int64
	revoke := func(ctx context.Context) error {
		n, err := s.authsvc.RevokeUserSessions(ctx, userID)
		count = n
		return err
	}

	var err error
	if s.revokeGuard != nil {
		err = s.revokeGuard.Run(ctx, userID, revoke)
	} else {
		err = revoke(ctx)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("admin revoked user sessions",
		zap.String("actor_id", c.GetString(contextUserIDKey)),
		zap.String("user_id", userID),
		zap.Int64("count", count),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) SetUserActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		AbortWithError(c, newValidationError("is_active", "required", "is_active is required"))
		return
	}

	userID := strings.TrimSpace(c.Param("id"))
	profile, err := s.profilesvc.SetActive(c.Request.Context(), userID, *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("admin changed account status",
		zap.String("actor_id", c.GetString(contextUserIDKey)),
		zap.String("user_id", userID),
		zap.Bool("is_active", *req.IsActive),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": profile})
}

func (s *Server) DeleteUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()
	if userID == c.GetString(contextUserIDKey) {
		AbortWithError(c, newValidationError("id", "self_delete", "You cannot delete your own account"))
		return
	}

	err := db.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if err := s.authsvc.DeleteUser(ctx, userID); err != nil {
			return err
		}
		return s.profilesvc.Delete(ctx, userID)
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("admin deleted user",
		zap.String("actor_id", c.GetString(contextUserIDKey)),
		zap.String("user_id", userID),
	)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
