// Package auth issues sessions for users backed by an identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/db"
	"sealtrack/models"
	"sealtrack/portal"
)

// SignInResult is returned by SignIn and Refresh.
type SignInResult struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	User         *models.User    `json:"user"`
	Session      *portal.Session `json:"session"`
}

// Service signs users in and manages their credentials.
type Service struct {
	identities IdentityProvider
	users      *db.Collection[models.User]
	stations   *db.Collection[models.Station]
	jwt        *JWTManager
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(identities IdentityProvider, users *db.Collection[models.User], stations *db.Collection[models.Station], jwt *JWTManager, log zerolog.Logger) *Service {
	return &Service{
		identities: identities,
		users:      users,
		stations:   stations,
		jwt:        jwt,
		now:        time.Now,
		log:        log,
	}
}

// SignIn verifies credentials and resolves the user's portal session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	uid, err := s.identities.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, uid, map[string]interface{}{"lastActive": s.now().UTC()}); err != nil {
		s.log.Warn().Err(err).Str("user_id", uid).Msg("failed to update last active")
	}
	s.log.Info().Str("user_id", uid).Str("portal", string(result.Session.Portal)).Msg("user signed in")
	return result, nil
}

// Refresh re-resolves the session so role and station changes take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*SignInResult, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return s.issue(ctx, claims.Session.UserID)
}

// SendPasswordReset starts a reset. Unknown emails succeed silently.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	err := s.identities.SendPasswordReset(ctx, email)
	if errors.Is(err, ErrUnknownEmail) {
		s.log.Debug().Str("email", email).Msg("password reset for unknown email")
		return nil
	}
	return err
}

// ConfirmPasswordReset sets a new password from a reset token.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	setter, ok := s.identities.(PasswordSetter)
	if !ok {
		return ErrUnsupported
	}
	claims, err := s.jwt.ValidateResetToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	return setter.SetPassword(ctx, claims.Session.Email, newPassword)
}

func (s *Service) CreateIdentity(ctx context.Context, email, password, name string) (string, error) {
	return s.identities.CreateIdentity(ctx, email, password, name)
}

func (s *Service) issue(ctx context.Context, uid string) (*SignInResult, error) {
	user, err := s.users.Get(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: no profile for user", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var station *models.Station
	if user.StationID != "" {
		station, err = s.stations.Get(ctx, user.StationID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to load station: %w", err)
		}
	}

	session, err := portal.NewSession(user, station)
	if err != nil {
		return nil, err
	}
	token, err := s.jwt.GenerateToken(session)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwt.GenerateRefreshToken(session)
	if err != nil {
		return nil, err
	}
	return &SignInResult{
		Token:        token,
		RefreshToken: refresh,
		ExpiresAt:    s.now().Add(s.jwt.TokenExpiration()),
		User:         user,
		Session:      session,
	}, nil
}
