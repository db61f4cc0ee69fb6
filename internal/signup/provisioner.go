package signup

import (
	"context"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/internal/signup/domain"
)

// ProfileProvisioner creates the regular, active profile that mirrors a new identity.
type ProfileProvisioner struct {
	profiles profiledomain.Service
}

func NewProfileProvisioner(profiles profiledomain.Service) domain.Provisioner {
	return &ProfileProvisioner{profiles: profiles}
}

func (p *ProfileProvisioner) Provision(ctx context.Context, user *authdomain.User) error {
	_, err := p.profiles.Upsert(ctx, profiledomain.Profile{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName(),
		IsAdmin:  false,
		IsActive: true,
	})
	return err
}
