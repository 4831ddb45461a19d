package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"sealtrack/audit"
	"sealtrack/export"
	"sealtrack/lifecycle"
	"sealtrack/models"
	"sealtrack/settings"
)

// AdminHandler serves activity logs, settings and exports.
type AdminHandler struct {
	recorder *audit.Recorder
	settings *settings.Service
	exporter *export.Exporter
	log      zerolog.Logger
}

func NewAdminHandler(recorder *audit.Recorder, settings *settings.Service, exporter *export.Exporter, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{recorder: recorder, settings: settings, exporter: exporter, log: log}
}

// GetLogs returns the latest activity, newest first.
func (h *AdminHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	logs, err := h.recorder.Recent(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// Organization reads (GET) or merges (PUT) the organization settings.
func (h *AdminHandler) Organization(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		org, err := h.settings.Organization(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
		return
	}

	h.updateSettings(w, r, models.SettingsOrganization, func(updates map[string]interface{}) (interface{}, error) {
		return h.settings.UpdateOrganization(r.Context(), updates)
	})
}

// Integrations reads (GET) or merges (PUT) the integration settings.
func (h *AdminHandler) Integrations(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		integ, err := h.settings.Integrations(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, integ)
		return
	}

	h.updateSettings(w, r, models.SettingsIntegrations, func(updates map[string]interface{}) (interface{}, error) {
		return h.settings.UpdateIntegrations(r.Context(), updates)
	})
}

func (h *AdminHandler) updateSettings(w http.ResponseWriter, r *http.Request, name string, update func(map[string]interface{}) (interface{}, error)) {
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	var updates map[string]interface{}
	if !decodeJSON(w, r, &updates) {
		return
	}
	if len(updates) == 0 {
		writeError(w, "No fields to update", http.StatusBadRequest)
		return
	}

	out, err := update(updates)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.recorder.Record(r.Context(), session.Actor(), audit.SettingsUpdated(name))
	writeJSON(w, http.StatusOK, out)
}

// Export renders the caller's seals as ?format=csv|xlsx, optionally filtered
// by ?status= and ?search=. With an export bucket configured the response is
// a JSON download link; otherwise the file is streamed.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filter := lifecycle.Filter{Status: models.SealStatus(q.Get("status")), Search: q.Get("search")}

	res, err := h.exporter.Export(r.Context(), session, format, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.URL != "" {
		writeJSON(w, http.StatusOK, res)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+res.Filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}
