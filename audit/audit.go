// Package audit appends activity log entries for mutating operations.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/db"
	"sealtrack/metrics"
	"sealtrack/models"
)

// Entry is the operation-specific part of an activity log.
type Entry struct {
	Action     string
	Details    string
	EntityID   string
	EntityType models.EntityType
}

// Recorder writes activity logs. Recording is best-effort: failures are
// logged and counted, never returned to the caller.
type Recorder struct {
	logs *db.Collection[models.ActivityLog]
	now  func() time.Time
	log  zerolog.Logger
}

// NewRecorder creates a recorder over the activity log collection.
func NewRecorder(logs *db.Collection[models.ActivityLog], now func() time.Time, log zerolog.Logger) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{logs: logs, now: now, log: log}
}

// Record appends an entry for the actor. Anonymous operations are not logged.
func (r *Recorder) Record(ctx context.Context, actor *models.Actor, e Entry) {
	if actor == nil {
		return
	}

	entry := &models.ActivityLog{
		UserID:     actor.UserID,
		UserName:   actor.DisplayName(),
		Action:     e.Action,
		Details:    e.Details,
		Timestamp:  r.now().UTC(),
		EntityID:   e.EntityID,
		EntityType: e.EntityType,
	}
	if _, err := r.logs.Create(ctx, entry); err != nil {
		metrics.AuditFailuresTotal.Inc()
		r.log.Error().Err(err).
			Str("action", e.Action).
			Str("entity_id", e.EntityID).
			Msg("failed to record activity")
	}
}

// Recent returns the latest activity, newest first.
func (r *Recorder) Recent(ctx context.Context) ([]models.ActivityLog, error) {
	return r.logs.List(ctx)
}

// Watch subscribes to the latest activity.
func (r *Recorder) Watch(ctx context.Context) (*db.Live[models.ActivityLog], error) {
	return r.logs.Watch(ctx)
}

// SealAction derives the action text from a seal update.
func SealAction(updates map[string]interface{}) string {
	if status, ok := updates["status"]; ok {
		return fmt.Sprintf("updated seal status to %v", status)
	}
	if dest, ok := updates["destinationStation"]; ok {
		return fmt.Sprintf("issued seal to %v", dest)
	}
	return "updated seal details"
}

// SealUpdated is the entry for a partial update of a seal.
func SealUpdated(sealID string, updates map[string]interface{}) Entry {
	return Entry{
		Action:     SealAction(updates),
		Details:    fmt.Sprintf("Updated seal %s", sealID),
		EntityID:   sealID,
		EntityType: models.EntitySeal,
	}
}

// SealCreated is the entry for a newly recorded seal.
func SealCreated(seal *models.Seal) Entry {
	return Entry{
		Action:     "added a new seal",
		Details:    fmt.Sprintf("Added seal with serial code %s", seal.SerialCode),
		EntityID:   seal.ID,
		EntityType: models.EntitySeal,
	}
}

func StationAdded(station *models.Station) Entry {
	return Entry{
		Action:     "added a new station",
		Details:    fmt.Sprintf("Added station %s", station.Name),
		EntityID:   station.ID,
		EntityType: models.EntityStation,
	}
}

func StationUpdated(stationID string) Entry {
	return Entry{
		Action:     "updated station details",
		Details:    fmt.Sprintf("Updated station %s", stationID),
		EntityID:   stationID,
		EntityType: models.EntityStation,
	}
}

func UserAdded(user *models.User) Entry {
	return Entry{
		Action:     "added a new user",
		Details:    fmt.Sprintf("Added user %s with role %s", user.Email, user.Role),
		EntityID:   user.ID,
		EntityType: models.EntityUser,
	}
}

func UserUpdated(userID string) Entry {
	return Entry{
		Action:     "updated user details",
		Details:    fmt.Sprintf("Updated user %s", userID),
		EntityID:   userID,
		EntityType: models.EntityUser,
	}
}

// Exported is the entry for a seal export.
func Exported(format string, count int) Entry {
	return Entry{
		Action:  "exported seals",
		Details: fmt.Sprintf("Exported %d seals as %s", count, format),
	}
}

// SettingsUpdated is the entry for a settings change.
func SettingsUpdated(name string) Entry {
	return Entry{
		Action:  "updated settings",
		Details: fmt.Sprintf("Updated %s settings", name),
	}
}
