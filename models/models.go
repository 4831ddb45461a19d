// models.go
// Defines the documents stored in Firestore and shared with the web portals.
// Field names follow the collections written by the browser client (camelCase).

package models

import (
	"time"
)

// Collection names in the document store.
const (
	CollectionSeals    = "seals"
	CollectionStations = "stations"
	CollectionUsers    = "users"
	CollectionLogs     = "activity_logs"
	CollectionSettings = "settings"
	CollectionPassword = "passwords"

	SettingsOrganization = "organization"
	SettingsIntegrations = "integrations"
)

// SealStatus is the lifecycle state of a seal.
type SealStatus string

const (
	SealReceived  SealStatus = "Received"
	SealIssued    SealStatus = "Issued"
	SealInTransit SealStatus = "In Transit"
	SealDamaged   SealStatus = "Damaged"
	SealRepaired  SealStatus = "Repaired"
)

// SealStatuses lists every status in display order.
var SealStatuses = []SealStatus{SealReceived, SealIssued, SealInTransit, SealDamaged, SealRepaired}

// Valid reports whether s is a known status.
func (s SealStatus) Valid() bool {
	for _, known := range SealStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ImageType tags why a photo was attached to a seal.
type ImageType string

const (
	ImageInitial ImageType = "initial"
	ImageDamage  ImageType = "damage"
	ImageRepair  ImageType = "repair"
)

// SealImage is an inline-encoded photo (data URL) stored on the seal document.
type SealImage struct {
	Data         string    `firestore:"data" json:"data"`
	Timestamp    time.Time `firestore:"timestamp" json:"timestamp"`
	Type         ImageType `firestore:"type" json:"type"`
	OriginalName string    `firestore:"originalName" json:"originalName"`
}

// GeoPoint is where a seal was last scanned.
type GeoPoint struct {
	Latitude  float64 `firestore:"latitude" json:"latitude"`
	Longitude float64 `firestore:"longitude" json:"longitude"`
}

// IssuedTo records the manager a seal was issued to.
type IssuedTo struct {
	Name      string    `firestore:"name" json:"name"`
	ID        string    `firestore:"id" json:"id"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

// Seal is the physical asset being tracked.
type Seal struct {
	ID                 string      `firestore:"-" json:"id"`
	SerialCode         string      `firestore:"serialCode" json:"serialCode"`
	QRCode             string      `firestore:"qrCode" json:"qrCode"`
	Status             SealStatus  `firestore:"status" json:"status"`
	SourceStation      string      `firestore:"sourceStation,omitempty" json:"sourceStation,omitempty"`
	DestinationStation string      `firestore:"destinationStation,omitempty" json:"destinationStation,omitempty"`
	CurrentStation     string      `firestore:"currentStation,omitempty" json:"currentStation,omitempty"`
	GPSLocation        *GeoPoint   `firestore:"gpsLocation,omitempty" json:"gpsLocation,omitempty"`
	IsUnutilized       bool        `firestore:"isUnutilized" json:"isUnutilized"`
	IssuedTo           *IssuedTo   `firestore:"issuedTo,omitempty" json:"issuedTo,omitempty"`
	Notes              string      `firestore:"notes,omitempty" json:"notes,omitempty"`
	Images             []SealImage `firestore:"images" json:"images"`
	ReceivedDate       time.Time   `firestore:"receivedDate" json:"receivedDate"`
	LastUpdated        time.Time   `firestore:"lastUpdated" json:"lastUpdated"`
}

func (s *Seal) SetID(id string) { s.ID = id }

// DaysInTransit is the whole days since dispatch for a seal in transit, else 0.
func (s *Seal) DaysInTransit(now time.Time) int {
	if s.Status != SealInTransit || s.LastUpdated.IsZero() || now.Before(s.LastUpdated) {
		return 0
	}
	return int(now.Sub(s.LastUpdated).Hours() / 24)
}

// AtStation reports whether the seal references the named station in any station field.
func (s *Seal) AtStation(name string) bool {
	if name == "" {
		return false
	}
	return s.CurrentStation == name || s.DestinationStation == name || s.SourceStation == name
}

// StationType classifies stations.
type StationType string

const (
	StationMain   StationType = "main"
	StationSub    StationType = "sub"
	StationMobile StationType = "mobile"
)

// StationStatus marks whether a station is in service.
type StationStatus string

const (
	StationActive   StationStatus = "active"
	StationInactive StationStatus = "inactive"
)

// Location is a geocoded point.
type Location struct {
	Latitude  float64 `firestore:"latitude" json:"latitude"`
	Longitude float64 `firestore:"longitude" json:"longitude"`
	Address   string  `firestore:"address" json:"address"`
}

// Manager identifies the user responsible for a station.
type Manager struct {
	ID    string `firestore:"id" json:"id"`
	Name  string `firestore:"name" json:"name"`
	Email string `firestore:"email" json:"email"`
}

// Station is a location that holds and issues seals.
type Station struct {
	ID          string        `firestore:"-" json:"id"`
	Name        string        `firestore:"name" json:"name"`
	Type        StationType   `firestore:"type" json:"type"`
	Location    Location      `firestore:"location" json:"location"`
	Manager     Manager       `firestore:"manager" json:"manager"`
	ActiveSeals int           `firestore:"activeSeals" json:"activeSeals"`
	TotalSeals  int           `firestore:"totalSeals" json:"totalSeals"`
	Status      StationStatus `firestore:"status" json:"status"`
	LastActive  time.Time     `firestore:"lastActive" json:"lastActive"`
}

func (s *Station) SetID(id string) { s.ID = id }

// UserRole defines the access level of a user.
type UserRole string

const (
	RoleAdmin             UserRole = "admin"
	RoleMainStoreManager  UserRole = "main-store-manager"
	RoleStationManager    UserRole = "station-manager"
	RoleSubStationManager UserRole = "sub-station-manager"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleMainStoreManager, RoleStationManager, RoleSubStationManager:
		return true
	}
	return false
}

// IsManager reports whether the role can be assigned as a station manager.
func (r UserRole) IsManager() bool {
	return r == RoleMainStoreManager || r == RoleStationManager || r == RoleSubStationManager
}

// User is an actor with a role. The document id is the auth identity uid.
type User struct {
	ID         string    `firestore:"id" json:"id"`
	Email      string    `firestore:"email" json:"email"`
	Name       string    `firestore:"name" json:"name"`
	Role       UserRole  `firestore:"role" json:"role"`
	StationID  string    `firestore:"stationId,omitempty" json:"stationId,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt" json:"createdAt"`
	LastActive time.Time `firestore:"lastActive" json:"lastActive"`
}

func (u *User) SetID(id string) { u.ID = id }

// EntityType names the kind of document an activity log refers to.
type EntityType string

const (
	EntitySeal    EntityType = "seal"
	EntityStation EntityType = "station"
	EntityUser    EntityType = "user"
)

// ActivityLog is an immutable audit record.
type ActivityLog struct {
	ID         string     `firestore:"-" json:"id"`
	UserID     string     `firestore:"userId" json:"userId"`
	UserName   string     `firestore:"userName" json:"userName"`
	Action     string     `firestore:"action" json:"action"`
	Details    string     `firestore:"details" json:"details"`
	Timestamp  time.Time  `firestore:"timestamp" json:"timestamp"`
	EntityID   string     `firestore:"entityId,omitempty" json:"entityId,omitempty"`
	EntityType EntityType `firestore:"entityType,omitempty" json:"entityType,omitempty"`
}

func (l *ActivityLog) SetID(id string) { l.ID = id }

// Actor is the authenticated identity performing an operation.
type Actor struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// DisplayName falls back to the email, then a placeholder.
func (a *Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Email != "" {
		return a.Email
	}
	return "Unknown User"
}

// OrganizationSettings is the settings/organization singleton.
type OrganizationSettings struct {
	Name           string `firestore:"name" json:"name"`
	Logo           string `firestore:"logo" json:"logo"`
	PrimaryColor   string `firestore:"primaryColor" json:"primaryColor"`
	SecondaryColor string `firestore:"secondaryColor" json:"secondaryColor"`
	ContactEmail   string `firestore:"contactEmail" json:"contactEmail"`
	ContactPhone   string `firestore:"contactPhone" json:"contactPhone"`
	WhatsappNumber string `firestore:"whatsappNumber" json:"whatsappNumber"`
	Address        string `firestore:"address" json:"address"`
	Website        string `firestore:"website" json:"website"`
	Description    string `firestore:"description" json:"description"`
}

// NotificationTemplates holds per-event message templates.
type NotificationTemplates struct {
	SealIssued   string `firestore:"sealIssued" json:"sealIssued"`
	SealDamaged  string `firestore:"sealDamaged" json:"sealDamaged"`
	SealReceived string `firestore:"sealReceived" json:"sealReceived"`
}

// WhatsappIntegration configures WhatsApp notifications.
type WhatsappIntegration struct {
	Enabled          bool                  `firestore:"enabled" json:"enabled"`
	APIKey           string                `firestore:"apiKey" json:"apiKey"`
	TemplateMessages NotificationTemplates `firestore:"templateMessages" json:"templateMessages"`
}

// EmailIntegration configures email notifications.
type EmailIntegration struct {
	Enabled   bool                  `firestore:"enabled" json:"enabled"`
	Provider  string                `firestore:"provider" json:"provider"` // smtp or sendgrid
	APIKey    string                `firestore:"apiKey" json:"apiKey"`
	FromEmail string                `firestore:"fromEmail" json:"fromEmail"`
	FromName  string                `firestore:"fromName" json:"fromName"`
	Templates NotificationTemplates `firestore:"templates" json:"templates"`
}

// IntegrationSettings is the settings/integrations singleton.
type IntegrationSettings struct {
	Whatsapp WhatsappIntegration `firestore:"whatsapp" json:"whatsapp"`
	Email    EmailIntegration    `firestore:"email" json:"email"`
}

// NotificationsEnabled reports whether any outbound channel is switched on.
func (s *IntegrationSettings) NotificationsEnabled() bool {
	return s != nil && (s.Whatsapp.Enabled || s.Email.Enabled)
}
