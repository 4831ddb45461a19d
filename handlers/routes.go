package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sealtrack/auth"
	"sealtrack/middleware"
	"sealtrack/portal"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

// Router holds the handlers and cross-cutting middleware for the API.
type Router struct {
	JWT         *auth.JWTManager
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Log         zerolog.Logger

	Auth      *AuthHandler
	Seals     *SealHandler
	Directory *DirectoryHandler
	Admin     *AdminHandler
	Dashboard *DashboardHandler
}

// Handler builds the mux. Every route is instrumented under its path.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(path string, h http.Handler) {
		mux.Handle(path, middleware.Instrument(path, h))
	}
	authMiddleware := middleware.AuthMiddleware(rt.JWT)
	protected := func(h http.HandlerFunc, perms ...portal.Permission) http.Handler {
		return authMiddleware(middleware.RequirePermission(perms...)(h))
	}

	// Public routes (no authentication required)
	handle("/health", http.HandlerFunc(handleHealth))
	mux.Handle("/metrics", promhttp.Handler())
	handle("/api/login", http.HandlerFunc(rt.Auth.Login))
	handle("/api/refresh", http.HandlerFunc(rt.Auth.RefreshToken))
	handle("/api/password-reset", http.HandlerFunc(rt.Auth.PasswordReset))
	handle("/api/password-reset/confirm", http.HandlerFunc(rt.Auth.ConfirmPasswordReset))

	// Any signed-in portal
	handle("/api/session", protected(rt.Auth.Session))
	handle("/api/seals", protected(rt.Seals.List, portal.ViewSeals))
	handle("/api/seals/get", protected(rt.Seals.Get, portal.ViewSeals))
	handle("/api/seals/create", protected(rt.Seals.Create, portal.CreateSeal))
	handle("/api/seals/dispatch", protected(rt.Seals.Dispatch, portal.DispatchSeal))
	handle("/api/seals/receive", protected(rt.Seals.Receive, portal.ReceiveSeal))
	handle("/api/seals/issue", protected(rt.Seals.Issue, portal.IssueSeal))
	handle("/api/seals/status", protected(rt.Seals.Status, portal.ViewSeals))
	handle("/api/seals/utilization", protected(rt.Seals.Utilization, portal.UpdateUtilization))
	handle("/api/seals/images", protected(rt.Seals.Images, portal.AttachImage))
	handle("/api/stations", protected(rt.Directory.GetStations, portal.ViewStations))
	handle("/api/dashboard", protected(rt.Dashboard.Get, portal.ViewDashboard))
	handle("/api/live/dashboard", protected(rt.Dashboard.Live, portal.ViewDashboard))

	// Admin portal
	handle("/api/admin/users", protected(rt.Directory.GetUsers, portal.ManageUsers))
	handle("/api/admin/users/create", protected(rt.Directory.CreateUser, portal.ManageUsers))
	handle("/api/admin/users/update", protected(rt.Directory.UpdateUser, portal.ManageUsers))
	handle("/api/admin/stations/create", protected(rt.Directory.CreateStation, portal.ManageStations))
	handle("/api/admin/stations/update", protected(rt.Directory.UpdateStation, portal.ManageStations))
	handle("/api/admin/geocode", protected(rt.Directory.Geocode, portal.ManageStations))
	handle("/api/admin/logs", protected(rt.Admin.GetLogs, portal.ViewLogs))
	handle("/api/admin/settings/organization", protected(rt.Admin.Organization, portal.ManageSettings))
	handle("/api/admin/settings/integrations", protected(rt.Admin.Integrations, portal.ManageSettings))
	handle("/api/admin/export", protected(rt.Admin.Export, portal.ExportSeals))

	// Apply global middleware
	var handler http.Handler = mux
	if rt.RateLimiter != nil {
		handler = rt.RateLimiter.Middleware()(handler)
	}
	handler = middleware.CORSMiddleware(rt.CORSOrigins)(handler)
	handler = middleware.Logger(rt.Log)(handler)
	return middleware.RequestID(handler)
}

// Health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%d,"version":%q}`, time.Now().Unix(), Version)
}
