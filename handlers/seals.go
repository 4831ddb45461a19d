package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/images"
	"sealtrack/lifecycle"
	"sealtrack/models"
	"sealtrack/portal"
	"sealtrack/validation"
)

// maxUploadBytes bounds a multipart request: five source images plus form fields.
const maxUploadBytes = images.MaxPerSeal*images.MaxSourceSize + 1<<20

type SealHandler struct {
	engine *lifecycle.Engine
	log    zerolog.Logger
}

func NewSealHandler(engine *lifecycle.Engine, log zerolog.Logger) *SealHandler {
	return &SealHandler{engine: engine, log: log}
}

var timeNow = time.Now

type sealView struct {
	models.Seal
	DaysInTransit int `json:"daysInTransit"`
}

func viewOf(s *models.Seal) sealView {
	return sealView{Seal: *s, DaysInTransit: s.DaysInTransit(timeNow())}
}

// List returns seals visible to the caller, filtered by ?status= and ?search=.
func (h *SealHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := lifecycle.Filter{Status: models.SealStatus(q.Get("status")), Search: q.Get("search")}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, "Unknown status", http.StatusBadRequest)
		return
	}

	seals, err := h.engine.List(r.Context(), session, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]sealView, 0, len(seals))
	for i := range seals {
		out = append(out, viewOf(&seals[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one seal by ?id=.
func (h *SealHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	seal, err := h.engine.Get(r.Context(), session, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(seal))
}

// Create accepts multipart/form-data with serialCode, qrCode, stationId,
// optional notes, latitude and longitude, and one to five "images" files.
func (h *SealHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads, err := readUploads(r.MultipartForm.File["images"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	in := lifecycle.CreateInput{
		SerialCode: r.FormValue("serialCode"),
		QRCode:     r.FormValue("qrCode"),
		StationID:  r.FormValue("stationId"),
		Notes:      r.FormValue("notes"),
		Images:     uploads,
	}
	if lat, lng := r.FormValue("latitude"), r.FormValue("longitude"); lat != "" && lng != "" {
		la, errLat := strconv.ParseFloat(lat, 64)
		lo, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil {
			writeError(w, "Invalid coordinates", http.StatusBadRequest)
			return
		}
		in.Location = &models.GeoPoint{Latitude: la, Longitude: lo}
	}

	seal, err := h.engine.Create(r.Context(), session.Actor(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(seal))
}

// Dispatch sends a received seal to another station.
func (h *SealHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	transition(h, w, r, func(in *lifecycle.DispatchInput) string { return in.SealID },
		func(ctx context.Context, s *portal.Session, in *lifecycle.DispatchInput) (*models.Seal, error) {
			return h.engine.Dispatch(ctx, s.Actor(), *in)
		})
}

// Receive accepts an in-transit seal. Station portals always receive at their own station.
func (h *SealHandler) Receive(w http.ResponseWriter, r *http.Request) {
	transition(h, w, r, func(in *lifecycle.ReceiveInput) string { return in.SealID },
		func(ctx context.Context, s *portal.Session, in *lifecycle.ReceiveInput) (*models.Seal, error) {
			if !s.Global() {
				in.AtStationID = s.StationID
			}
			return h.engine.Receive(ctx, s.Actor(), *in)
		})
}

// Issue assigns a seal to a station's manager.
func (h *SealHandler) Issue(w http.ResponseWriter, r *http.Request) {
	transition(h, w, r, func(in *lifecycle.IssueInput) string { return in.SealID },
		func(ctx context.Context, s *portal.Session, in *lifecycle.IssueInput) (*models.Seal, error) {
			return h.engine.Issue(ctx, s.Actor(), *in)
		})
}

// Status records a condition report. Sub-station portals may only report damage.
func (h *SealHandler) Status(w http.ResponseWriter, r *http.Request) {
	transition(h, w, r, func(in *lifecycle.StatusInput) string { return in.SealID },
		func(ctx context.Context, s *portal.Session, in *lifecycle.StatusInput) (*models.Seal, error) {
			if status, ok := in.Condition.Status(); ok && !s.CanSetStatus(status) {
				return nil, fmt.Errorf("%w: cannot set status %s", portal.ErrForbidden, status)
			}
			return h.engine.UpdateStatus(ctx, s.Actor(), *in)
		})
}

// Utilization marks a seal in use or unutilized.
func (h *SealHandler) Utilization(w http.ResponseWriter, r *http.Request) {
	transition(h, w, r, func(in *lifecycle.UtilizationInput) string { return in.SealID },
		func(ctx context.Context, s *portal.Session, in *lifecycle.UtilizationInput) (*models.Seal, error) {
			return h.engine.UpdateUtilization(ctx, s.Actor(), *in)
		})
}

// Images attaches one photo from multipart/form-data fields sealId, type and image.
func (h *SealHandler) Images(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, images.MaxSourceSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads, err := readUploads(r.MultipartForm.File["image"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(uploads) != 1 {
		writeServiceError(w, r, validation.Field("image", "exactly one image is required"))
		return
	}

	in := lifecycle.AttachImageInput{
		SealID: r.FormValue("sealId"),
		Type:   models.ImageType(r.FormValue("type")),
		Image:  uploads[0],
	}
	if in.SealID != "" {
		if _, err := h.engine.Get(r.Context(), session, in.SealID); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	seal, err := h.engine.AttachImage(r.Context(), session.Actor(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(seal))
}

// transition decodes a JSON input, checks the seal is in the caller's scope
// and runs op.
func transition[T any](h *SealHandler, w http.ResponseWriter, r *http.Request, sealID func(*T) string, op func(context.Context, *portal.Session, *T) (*models.Seal, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	var in T
	if !decodeJSON(w, r, &in) {
		return
	}

	if id := sealID(&in); id != "" {
		if _, err := h.engine.Get(r.Context(), session, id); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	seal, err := op(r.Context(), session, &in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(seal))
}

func readUploads(files []*multipart.FileHeader) ([]lifecycle.ImageUpload, error) {
	if len(files) > images.MaxPerSeal {
		return nil, validation.Field("images", fmt.Sprintf("must have at most %d", images.MaxPerSeal))
	}
	out := make([]lifecycle.ImageUpload, 0, len(files))
	for _, fh := range files {
		if fh.Size > images.MaxSourceSize {
			return nil, fmt.Errorf("%s: %w", fh.Filename, images.ErrTooLarge)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
		}
		out = append(out, lifecycle.ImageUpload{Name: fh.Filename, Data: data})
	}
	return out, nil
}
