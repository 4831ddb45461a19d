// Package directory manages stations and users.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sealtrack/audit"
	"sealtrack/db"
	"sealtrack/models"
	"sealtrack/validation"
)

// Identities provisions sign-in identities for new users.
type Identities interface {
	CreateIdentity(ctx context.Context, email, password, name string) (string, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// Auditor records directory changes.
type Auditor interface {
	Record(ctx context.Context, actor *models.Actor, e audit.Entry)
}

type Directory struct {
	stations   *db.Collection[models.Station]
	users      *db.Collection[models.User]
	identities Identities
	audit      Auditor
	now        func() time.Time
	validate   *validation.Validator
	log        zerolog.Logger
}

func New(stations *db.Collection[models.Station], users *db.Collection[models.User], identities Identities, auditor Auditor, now func() time.Time, log zerolog.Logger) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{
		stations:   stations,
		users:      users,
		identities: identities,
		audit:      auditor,
		now:        now,
		validate:   validation.New(),
		log:        log,
	}
}

type StationInput struct {
	Name      string             `json:"name" validate:"required"`
	Type      models.StationType `json:"type" validate:"required,oneof=main sub mobile"`
	Location  models.Location    `json:"location"`
	ManagerID string             `json:"managerId"`
}

// StationUpdate holds the fields to change; nil fields are left alone.
type StationUpdate struct {
	Name      *string               `json:"name"`
	Type      *models.StationType   `json:"type"`
	Location  *models.Location      `json:"location"`
	ManagerID *string               `json:"managerId"`
	Status    *models.StationStatus `json:"status"`
}

type UserInput struct {
	Email     string          `json:"email" validate:"required,email"`
	Name      string          `json:"name" validate:"required"`
	Role      models.UserRole `json:"role" validate:"required,oneof=admin main-store-manager station-manager sub-station-manager"`
	StationID string          `json:"stationId"`
}

// UserUpdate holds the fields to change; nil fields are left alone.
type UserUpdate struct {
	Name      *string          `json:"name"`
	Role      *models.UserRole `json:"role"`
	StationID *string          `json:"stationId"`
}

// AddStation creates an active station with zeroed counters.
func (d *Directory) AddStation(ctx context.Context, actor *models.Actor, in StationInput) (*models.Station, error) {
	if err := d.validate.Struct(in); err != nil {
		return nil, err
	}
	station := &models.Station{
		Name:       in.Name,
		Type:       in.Type,
		Location:   in.Location,
		Status:     models.StationActive,
		LastActive: d.now().UTC(),
	}
	if in.ManagerID != "" {
		mgr, err := d.manager(ctx, in.ManagerID)
		if err != nil {
			return nil, err
		}
		station.Manager = *mgr
	}

	if _, err := d.stations.Create(ctx, station); err != nil {
		return nil, fmt.Errorf("failed to create station: %w", err)
	}
	d.audit.Record(ctx, actor, audit.StationAdded(station))
	d.log.Info().Str("station_id", station.ID).Str("name", station.Name).Msg("station added")
	return station, nil
}

// UpdateStation applies a partial update and bumps lastActive.
func (d *Directory) UpdateStation(ctx context.Context, actor *models.Actor, id string, upd StationUpdate) (*models.Station, error) {
	updates := map[string]interface{}{"lastActive": d.now().UTC()}
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, validation.Field("name", "is required")
		}
		updates["name"] = *upd.Name
	}
	if upd.Type != nil {
		switch *upd.Type {
		case models.StationMain, models.StationSub, models.StationMobile:
		default:
			return nil, validation.Field("type", "must be one of: main sub mobile")
		}
		updates["type"] = *upd.Type
	}
	if upd.Status != nil {
		if *upd.Status != models.StationActive && *upd.Status != models.StationInactive {
			return nil, validation.Field("status", "must be one of: active inactive")
		}
		updates["status"] = *upd.Status
	}
	if upd.Location != nil {
		updates["location"] = *upd.Location
	}
	if upd.ManagerID != nil {
		mgr := &models.Manager{}
		if *upd.ManagerID != "" {
			var err error
			if mgr, err = d.manager(ctx, *upd.ManagerID); err != nil {
				return nil, err
			}
		}
		updates["manager"] = *mgr
	}

	if err := d.stations.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("station %s: %w", id, err)
	}
	d.audit.Record(ctx, actor, audit.StationUpdated(id))
	return d.stations.Get(ctx, id)
}

func (d *Directory) ListStations(ctx context.Context) ([]models.Station, error) {
	return d.stations.List(ctx)
}

func (d *Directory) GetStation(ctx context.Context, id string) (*models.Station, error) {
	return d.stations.Get(ctx, id)
}

// AddUser provisions an identity with a throwaway password, stores the user
// under the identity uid and sends a password reset so the user sets their own.
func (d *Directory) AddUser(ctx context.Context, actor *models.Actor, in UserInput) (*models.User, error) {
	if err := d.validate.Struct(in); err != nil {
		return nil, err
	}
	if err := d.checkStation(ctx, in.Role, in.StationID); err != nil {
		return nil, err
	}
	existing, err := d.users.Find(ctx, "email", in.Email, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if len(existing) > 0 {
		return nil, validation.Field("email", "a user with this email already exists")
	}

	uid, err := d.identities.CreateIdentity(ctx, in.Email, uuid.NewString(), in.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	now := d.now().UTC()
	user := &models.User{
		ID:         uid,
		Email:      in.Email,
		Name:       in.Name,
		Role:       in.Role,
		StationID:  in.StationID,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := d.users.Put(ctx, uid, user); err != nil {
		return nil, fmt.Errorf("failed to store user: %w", err)
	}

	if err := d.identities.SendPasswordReset(ctx, in.Email); err != nil {
		d.log.Warn().Err(err).Str("user_id", uid).Msg("failed to send password reset to new user")
	}
	d.audit.Record(ctx, actor, audit.UserAdded(user))
	d.log.Info().Str("user_id", uid).Str("role", string(user.Role)).Msg("user added")
	return user, nil
}

// UpdateUser applies a partial update and bumps lastActive.
func (d *Directory) UpdateUser(ctx context.Context, actor *models.Actor, id string, upd UserUpdate) (*models.User, error) {
	current, err := d.users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}

	updates := map[string]interface{}{"lastActive": d.now().UTC()}
	role, stationID := current.Role, current.StationID
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, validation.Field("name", "is required")
		}
		updates["name"] = *upd.Name
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, validation.Field("role", "is invalid")
		}
		role = *upd.Role
		updates["role"] = role
	}
	if upd.StationID != nil {
		stationID = *upd.StationID
		updates["stationId"] = stationID
	}
	if err := d.checkStation(ctx, role, stationID); err != nil {
		return nil, err
	}

	if err := d.users.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	d.audit.Record(ctx, actor, audit.UserUpdated(id))
	return d.users.Get(ctx, id)
}

func (d *Directory) ListUsers(ctx context.Context) ([]models.User, error) {
	return d.users.List(ctx)
}

func (d *Directory) GetUser(ctx context.Context, id string) (*models.User, error) {
	return d.users.Get(ctx, id)
}

// manager resolves a user eligible to manage a station.
func (d *Directory) manager(ctx context.Context, userID string) (*models.Manager, error) {
	user, err := d.users.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, validation.Field("managerId", "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manager: %w", err)
	}
	if !user.Role.IsManager() {
		return nil, validation.Field("managerId", "user does not have a manager role")
	}
	return &models.Manager{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// checkStation requires station roles to reference an existing station.
func (d *Directory) checkStation(ctx context.Context, role models.UserRole, stationID string) error {
	if role != models.RoleStationManager && role != models.RoleSubStationManager {
		return nil
	}
	if stationID == "" {
		return validation.Field("stationId", "is required for station roles")
	}
	if _, err := d.stations.Get(ctx, stationID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return validation.Field("stationId", "station not found")
		}
		return fmt.Errorf("failed to load station: %w", err)
	}
	return nil
}
