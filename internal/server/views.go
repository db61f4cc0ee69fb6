package server

import (
	"time"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
)

type sessionView struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
}

type userView struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func toSessionView(pair *authdomain.TokenPair) *sessionView {
	if pair == nil {
		return nil
	}
	return &sessionView{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		ExpiresAt:    pair.ExpiresAt.Unix(),
		TokenType:    pair.TokenType,
	}
}

func toUserView(user *authdomain.User) *userView {
	if user == nil {
		return nil
	}
	meta := map[string]any{}
	for k, v := range user.Metadata {
		meta[k] = v
	}
	meta["full_name"] = user.FullName()
	return &userView{
		ID:               user.ID,
		Email:            user.Email,
		EmailConfirmedAt: user.EmailConfirmedAt,
		UserMetadata:     meta,
	}
}
