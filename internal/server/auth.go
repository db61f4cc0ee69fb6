package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	signindomain "github.com/smallbiznis/fintrack/internal/signin/domain"
	signupdomain "github.com/smallbiznis/fintrack/internal/signup/domain"
	"go.uber.org/zap"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.signupsvc.Signup(c.Request.Context(), signupdomain.Request{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"message":              result.Message,
		"requiresVerification": result.RequiresVerification,
		"user":                 toUserView(result.User),
	})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.signinsvc.Signin(c.Request.Context(), signindomain.Request{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": toSessionView(result.Tokens),
		"user":    toUserView(result.User),
	})
}

func (s *Server) Signout(c *gin.Context) {
	if err := s.authsvc.Logout(c.Request.Context(), c.GetString(contextAccessTokenKey)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pair, user, err := s.authsvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": toSessionView(pair),
		"user":    toUserView(user),
	})
}

func (s *Server) CurrentSession(c *gin.Context) {
	session, user, err := s.authsvc.Authenticate(c.Request.Context(), c.GetString(contextAccessTokenKey))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    toUserView(user),
		"session": gin.H{
			"id":                session.ID.String(),
			"access_expires_at": session.AccessExpiresAt.Unix(),
			"expires_at":        session.ExpiresAt.Unix(),
		},
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if _, err := mailAddress(req.Email); err != nil {
		AbortWithError(c, err)
		return
	}

	msg, err := s.signupsvc.ResendVerification(c.Request.Context(), signupdomain.LinkRequest{
		Email:  req.Email,
		Origin: c.GetHeader("Origin"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (s *Server) RequestPasswordReset(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if _, err := mailAddress(req.Email); err != nil {
		AbortWithError(c, err)
		return
	}

	msg, err := s.signupsvc.RequestPasswordReset(c.Request.Context(), signupdomain.LinkRequest{
		Email:  req.Email,
		Origin: c.GetHeader("Origin"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// Verify consumes an emailed link. With redirect_to the browser is sent back to the app,
// otherwise the outcome is returned as JSON. A confirmed email does not sign the user in.
func (s *Server) Verify(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	linkType := authdomain.LinkType(strings.TrimSpace(c.Query("type")))
	redirectTo := strings.TrimSpace(c.Query("redirect_to"))
	ctx := c.Request.Context()

	if !linkType.Valid() || token == "" {
		s.verifyFailed(c, redirectTo, authdomain.ErrInvalidLink)
		return
	}

	user, err := s.authsvc.ConsumeLink(ctx, token, linkType)
	if err != nil {
		s.verifyFailed(c, redirectTo, err)
		return
	}

	if linkType != authdomain.LinkTypeRecovery {
		if redirectTo != "" {
			c.Redirect(http.StatusSeeOther, withQuery(redirectTo, url.Values{"verified": {"true"}}))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Email verified. You can now sign in.",
			"user":    toUserView(user),
		})
		return
	}

	pair, err := s.authsvc.IssueSession(ctx, user, authdomain.ClientMeta{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
		Grant:     "recovery",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if redirectTo != "" {
		fragment := url.Values{
			"access_token":  {pair.AccessToken},
			"refresh_token": {pair.RefreshToken},
			"type":          {string(authdomain.LinkTypeRecovery)},
		}
		c.Redirect(http.StatusSeeOther, redirectTo+"#"+fragment.Encode())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": toSessionView(pair),
		"user":    toUserView(user),
	})
}

func (s *Server) verifyFailed(c *gin.Context, redirectTo string, err error) {
	if redirectTo != "" && errors.Is(err, authdomain.ErrInvalidLink) {
		c.Redirect(http.StatusSeeOther, withQuery(redirectTo, url.Values{"error": {"invalid_link"}}))
		return
	}
	s.log.Debug("link verification failed", zap.Error(err))
	AbortWithError(c, err)
}

type updatePasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) UpdatePassword(c *gin.Context) {
	var req updatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authsvc.ChangePassword(c.Request.Context(), c.GetString(contextUserIDKey), req.Password); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated"})
}

func mailAddress(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", authdomain.ErrInvalidEmail
	}
	addr, err := url.Parse("mailto:" + strings.TrimSpace(raw))
	if err != nil || !strings.Contains(addr.Opaque, "@") {
		return "", authdomain.ErrInvalidEmail
	}
	return addr.Opaque, nil
}

func withQuery(raw string, values url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, v := range values {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}
