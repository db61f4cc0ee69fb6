package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/authorization"
	defaultsservice "github.com/smallbiznis/fintrack/internal/defaults/service"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/internal/ratelimit"
	signindomain "github.com/smallbiznis/fintrack/internal/signin/domain"
	signupdomain "github.com/smallbiznis/fintrack/internal/signup/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	if len(v.Errors) > 0 {
		return v.Errors[0].Message
	}
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not_found")
	ErrRateLimited  = errors.New("rate_limited")
)

const (
	MessageInvalidCredentials = "Invalid email or password"
	MessageDeactivated        = "Your account has been deactivated. Please contact an administrator."
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "Invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// domainValidation maps validation sentinels to the field they concern and the message shown to users.
var domainValidation = []struct {
	err     error
	field   string
	code    string
	message string
}{
	{authdomain.ErrInvalidEmail, "email", "invalid_email", "Invalid email address"},
	{authdomain.ErrPasswordRequired, "password", "required", "Password is required"},
	{authdomain.ErrPasswordTooShort, "password", "too_short", "Password must be at least 6 characters"},
	{authdomain.ErrInvalidLink, "token", "invalid_link", "Invalid or expired link"},
	{signupdomain.ErrEmailAlreadyVerified, "email", "already_verified", "Email is already verified. You can sign in."},
	{profiledomain.ErrInvalidUpdate, "full_name", "invalid_value", "Full name cannot be empty"},
	{defaultsservice.ErrEmptyUser, "user_id", "required", "User id is required"},
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "Internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: vErr.Error(),
			Errors:  vErr.Errors,
		}
	}

	for _, v := range domainValidation {
		if errors.Is(err, v.err) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: v.message,
				Errors:  []ValidationError{{Field: v.field, Code: v.code, Message: v.message}},
			}
		}
	}

	switch {
	case errors.Is(err, authdomain.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: MessageInvalidCredentials}
	case errors.Is(err, authdomain.ErrSessionExpired):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "Session expired"}
	case errors.Is(err, authdomain.ErrSessionRevoked):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "Session revoked"}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidSession):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "Invalid or expired session"}
	case errors.Is(err, signindomain.ErrAccountDeactivated):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: MessageDeactivated}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "Forbidden"}
	case errors.Is(err, profiledomain.ErrProfileNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "Profile not found"}
	case errors.Is(err, authdomain.ErrUserNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "User not found"}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "Not found"}
	case errors.Is(err, ratelimit.ErrRevokeInProgress):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "Session revoke already in progress for this user"}
	case errors.Is(err, authdomain.ErrUserExists):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "User already exists"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "Too many attempts. Please try again later."}
	case errors.Is(err, signupdomain.ErrEmailDelivery):
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "Failed to send verification email"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "Internal server error"}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog returns the payload type and a stable code for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		code = "internal"
	}
	return payload.Type, code
}
