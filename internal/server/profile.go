package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fintrack/internal/authorization"
	defaultsservice "github.com/smallbiznis/fintrack/internal/defaults/service"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"go.uber.org/zap"
)

// GetProfile returns the caller's own profile, or any profile for an administrator.
func (s *Server) GetProfile(c *gin.Context) {
	ctx := c.Request.Context()
	callerID := c.GetString(contextUserIDKey)
	targetID := strings.TrimSpace(c.Param("id"))
	if targetID == "" || targetID == "me" {
		targetID = callerID
	}

	if targetID != callerID {
		if err := s.authzSvc.Authorize(ctx, callerID, authorization.ObjectProfile, authorization.ActionProfileViewAny); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	profile, err := s.profilesvc.Get(ctx, targetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": profile})
}

func (s *Server) UpdateMyProfile(c *gin.Context) {
	var req profiledomain.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	profile, err := s.profilesvc.Update(c.Request.Context(), c.GetString(contextUserIDKey), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": profile})
}

func (s *Server) InitializeDefaults(c *gin.Context) {
	userID := c.GetString(contextUserIDKey)
	stats, err := s.defaultsSvc.InitializeDefaults(c.Request.Context(), userID)
	if err != nil {
		if !errors.Is(err, defaultsservice.ErrEmptyUser) {
			s.log.Error("initialize defaults failed", zap.String("user_id", userID), zap.Error(err))
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Defaults initialized successfully",
		"stats":   stats,
	})
}
