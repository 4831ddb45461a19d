package portal

import (
	"fmt"

	"sealtrack/models"
)

// Session is the actor's identity and portal, resolved once at sign-in.
type Session struct {
	UserID      string          `json:"userId"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Role        models.UserRole `json:"role"`
	Portal      Portal          `json:"portal"`
	StationID   string          `json:"stationId,omitempty"`
	StationName string          `json:"stationName,omitempty"`
}

// NewSession resolves the portal for user. station may be nil for admins.
func NewSession(user *models.User, station *models.Station) (*Session, error) {
	p, ok := ForRole(user.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, user.Role)
	}
	s := &Session{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Portal:    p,
		StationID: user.StationID,
	}
	if station != nil {
		s.StationID = station.ID
		s.StationName = station.Name
	}
	return s, nil
}

// Actor is the identity recorded in activity logs.
func (s *Session) Actor() *models.Actor {
	if s == nil {
		return nil
	}
	return &models.Actor{UserID: s.UserID, Name: s.Name, Email: s.Email}
}

// Can reports whether the session's portal offers perm.
func (s *Session) Can(perm Permission) bool {
	return s != nil && s.Portal.Allows(perm)
}

// Require returns ErrForbidden unless the session has perm.
func (s *Session) Require(perm Permission) error {
	if !s.Can(perm) {
		return fmt.Errorf("%w: %s", ErrForbidden, perm)
	}
	return nil
}

// Global reports whether the session sees every station.
func (s *Session) Global() bool {
	return s != nil && s.Portal == Admin
}

// InScope reports whether the seal is visible to the session. Station portals
// see seals whose source, destination or current station is theirs.
func (s *Session) InScope(seal *models.Seal) bool {
	if s.Global() {
		return true
	}
	return s != nil && seal.AtStation(s.StationName)
}

// CanSetStatus reports whether the session may move a seal to status through
// the status operation. Sub-station portals can only report damage.
func (s *Session) CanSetStatus(status models.SealStatus) bool {
	if s.Can(UpdateSealStatus) {
		return true
	}
	return status == models.SealDamaged && s.Can(ReportDamage)
}
