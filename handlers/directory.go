package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"sealtrack/directory"
)

// DirectoryHandler serves station and user administration.
type DirectoryHandler struct {
	dir      *directory.Directory
	geocoder directory.Geocoder
	log      zerolog.Logger
}

// NewDirectoryHandler creates the handler. geocoder may be nil when no maps key is configured.
func NewDirectoryHandler(dir *directory.Directory, geocoder directory.Geocoder, log zerolog.Logger) *DirectoryHandler {
	return &DirectoryHandler{dir: dir, geocoder: geocoder, log: log}
}

// --- Stations ---

func (h *DirectoryHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	stations, err := h.dir.ListStations(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

func (h *DirectoryHandler) CreateStation(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req directory.StationInput
	if !decodeJSON(w, r, &req) {
		return
	}
	station, err := h.dir.AddStation(r.Context(), session.Actor(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.log.Info().Str("station_id", station.ID).Str("by", session.UserID).Msg("station created")
	writeJSON(w, http.StatusCreated, station)
}

type UpdateStationRequest struct {
	ID string `json:"id"`
	directory.StationUpdate
}

func (h *DirectoryHandler) UpdateStation(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req UpdateStationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}
	station, err := h.dir.UpdateStation(r.Context(), session.Actor(), req.ID, req.StationUpdate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, station)
}

// Geocode resolves ?lat=&lng= to an address.
func (h *DirectoryHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.geocoder == nil {
		writeError(w, "Geocoding is not configured", http.StatusNotImplemented)
		return
	}

	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, "Valid lat and lng are required", http.StatusBadRequest)
		return
	}

	address, err := h.geocoder.ReverseGeocode(r.Context(), lat, lng)
	if errors.Is(err, directory.ErrNoAddress) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"latitude":  lat,
		"longitude": lng,
		"address":   address,
	})
}

// --- Users ---

func (h *DirectoryHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	users, err := h.dir.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *DirectoryHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req directory.UserInput
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.dir.AddUser(r.Context(), session.Actor(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type UpdateUserRequest struct {
	ID string `json:"id"`
	directory.UserUpdate
}

func (h *DirectoryHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}
	user, err := h.dir.UpdateUser(r.Context(), session.Actor(), req.ID, req.UserUpdate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
