// Package portal maps roles to portals and the operations each portal offers.
package portal

import (
	"errors"

	"sealtrack/models"
)

// ErrForbidden is returned when a session lacks a permission or scope.
var ErrForbidden = errors.New("operation not permitted for this portal")

// AuthEntryPoint is where unauthenticated actors are sent.
const AuthEntryPoint = "/auth"

// Portal is the shell an actor is routed to.
type Portal string

const (
	Admin      Portal = "admin"
	Station    Portal = "station"
	SubStation Portal = "sub-station"
)

// Home returns the portal's landing route.
func (p Portal) Home() string {
	switch p {
	case Admin:
		return "/dashboard"
	case Station:
		return "/station/dashboard"
	case SubStation:
		return "/substation/dashboard"
	}
	return AuthEntryPoint
}

// Permission names an operation a portal may offer.
type Permission string

const (
	ViewDashboard     Permission = "dashboard:view"
	ViewSeals         Permission = "seals:view"
	CreateSeal        Permission = "seals:create"
	DispatchSeal      Permission = "seals:dispatch"
	ReceiveSeal       Permission = "seals:receive"
	IssueSeal         Permission = "seals:issue"
	UpdateSealStatus  Permission = "seals:status"
	ReportDamage      Permission = "seals:report-damage"
	UpdateUtilization Permission = "seals:utilization"
	AttachImage       Permission = "seals:images"
	ViewStations      Permission = "stations:view"
	ManageStations    Permission = "stations:manage"
	ManageUsers       Permission = "users:manage"
	ViewLogs          Permission = "logs:view"
	ManageSettings    Permission = "settings:manage"
	ExportSeals       Permission = "seals:export"
)

var permissions = map[Portal][]Permission{
	Admin: {
		ViewDashboard, ViewSeals, CreateSeal, DispatchSeal, ReceiveSeal, IssueSeal,
		UpdateSealStatus, ReportDamage, UpdateUtilization, AttachImage,
		ViewStations, ManageStations, ManageUsers, ViewLogs, ManageSettings, ExportSeals,
	},
	Station: {
		ViewDashboard, ViewSeals, DispatchSeal, ReceiveSeal, ViewStations,
	},
	SubStation: {
		ViewDashboard, ViewSeals, ReceiveSeal, ReportDamage, AttachImage,
	},
}

// ForRole resolves the portal for a role. Unknown roles get no portal.
func ForRole(role models.UserRole) (Portal, bool) {
	switch role {
	case models.RoleAdmin, models.RoleMainStoreManager:
		return Admin, true
	case models.RoleStationManager:
		return Station, true
	case models.RoleSubStationManager:
		return SubStation, true
	}
	return "", false
}

// Permissions lists what the portal offers.
func (p Portal) Permissions() []Permission {
	return permissions[p]
}

// Allows reports whether the portal offers perm.
func (p Portal) Allows(perm Permission) bool {
	for _, granted := range permissions[p] {
		if granted == perm {
			return true
		}
	}
	return false
}
