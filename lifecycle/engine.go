// Package lifecycle implements the seal state machine: it validates each
// operation, writes a single seal document and records the activity.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/audit"
	"sealtrack/db"
	"sealtrack/events"
	"sealtrack/images"
	"sealtrack/metrics"
	"sealtrack/models"
	"sealtrack/validation"
)

// Auditor records activity for a mutation that already succeeded.
type Auditor interface {
	Record(ctx context.Context, actor *models.Actor, e audit.Entry)
}

// Notifier receives notification events for completed transitions.
type Notifier interface {
	Notify(ctx context.Context, e events.Event)
}

// Engine applies lifecycle operations to seals.
type Engine struct {
	seals    *db.Collection[models.Seal]
	stations *db.Collection[models.Station]
	audit    Auditor
	notify   Notifier
	now      func() time.Time
	validate *validation.Validator
	log      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier publishes events for issue, damage and receipt.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

func NewEngine(seals *db.Collection[models.Seal], stations *db.Collection[models.Station], auditor Auditor, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		seals:    seals,
		stations: stations,
		audit:    auditor,
		now:      time.Now,
		validate: validation.New(),
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ImageUpload is a raw photo submitted with a seal.
type ImageUpload struct {
	Name string
	Data []byte
}

type CreateInput struct {
	SerialCode string           `json:"serialCode" validate:"required"`
	QRCode     string           `json:"qrCode" validate:"required"`
	StationID  string           `json:"stationId" validate:"required"`
	Notes      string           `json:"notes"`
	Location   *models.GeoPoint `json:"gpsLocation"`
	Images     []ImageUpload    `json:"images" validate:"min=1,max=5"`
}

type DispatchInput struct {
	SealID               string `json:"sealId" validate:"required"`
	DestinationStationID string `json:"destinationStationId" validate:"required"`
	Notes                string `json:"notes"`
}

type ReceiveInput struct {
	SealID      string `json:"sealId" validate:"required"`
	AtStationID string `json:"atStationId"`
	Notes       string `json:"notes"`
}

type IssueInput struct {
	SealID    string `json:"sealId" validate:"required"`
	StationID string `json:"stationId" validate:"required"`
}

type StatusInput struct {
	SealID    string    `json:"sealId" validate:"required"`
	Condition Condition `json:"condition" validate:"required,oneof=good damaged repaired"`
}

type UtilizationInput struct {
	SealID string `json:"sealId" validate:"required"`
	InUse  bool   `json:"inUse"`
}

type AttachImageInput struct {
	SealID string           `json:"sealId" validate:"required"`
	Type   models.ImageType `json:"type" validate:"required,oneof=initial damage repair"`
	Image  ImageUpload      `json:"image"`
}

// Create records a new seal at the given station. Images are compressed
// before anything is written.
func (e *Engine) Create(ctx context.Context, actor *models.Actor, in CreateInput) (seal *models.Seal, err error) {
	defer e.observe("create", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	station, err := e.station(ctx, "stationId", in.StationID)
	if err != nil {
		return nil, err
	}
	if err := e.ensureUnique(ctx, "serialCode", in.SerialCode); err != nil {
		return nil, err
	}
	if err := e.ensureUnique(ctx, "qrCode", in.QRCode); err != nil {
		return nil, err
	}

	now := NextTimestamp(e.now(), time.Time{})
	imgs := make([]models.SealImage, 0, len(in.Images))
	for i, upload := range in.Images {
		img, err := prepareImage(upload, models.ImageInitial, now)
		if err != nil {
			return nil, fmt.Errorf("image %d (%s): %w", i+1, upload.Name, err)
		}
		imgs = append(imgs, img)
	}

	seal = &models.Seal{
		SerialCode:     in.SerialCode,
		QRCode:         in.QRCode,
		Status:         models.SealReceived,
		SourceStation:  station.Name,
		CurrentStation: station.Name,
		GPSLocation:    in.Location,
		IsUnutilized:   true,
		Notes:          in.Notes,
		Images:         imgs,
		ReceivedDate:   now,
		LastUpdated:    now,
	}
	if _, err := e.seals.Create(ctx, seal); err != nil {
		return nil, fmt.Errorf("failed to create seal: %w", err)
	}

	e.audit.Record(ctx, actor, audit.SealCreated(seal))
	e.log.Info().Str("seal_id", seal.ID).Str("serial_code", seal.SerialCode).Str("station", station.Name).Msg("seal created")
	return seal, nil
}

// Dispatch sends a Received seal toward another station.
func (e *Engine) Dispatch(ctx context.Context, actor *models.Actor, in DispatchInput) (seal *models.Seal, err error) {
	defer e.observe("dispatch", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	dest, err := e.station(ctx, "destinationStationId", in.DestinationStationID)
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, actor, in.SealID, func(cur *models.Seal, now time.Time) (map[string]interface{}, error) {
		return PlanDispatch(cur, dest.Name, in.Notes, now)
	})
}

// Receive accepts an in-transit seal, optionally at a station that becomes its current one.
func (e *Engine) Receive(ctx context.Context, actor *models.Actor, in ReceiveInput) (seal *models.Seal, err error) {
	defer e.observe("receive", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	var at string
	if in.AtStationID != "" {
		station, err := e.station(ctx, "atStationId", in.AtStationID)
		if err != nil {
			return nil, err
		}
		at = station.Name
	}

	seal, err = e.apply(ctx, actor, in.SealID, func(cur *models.Seal, now time.Time) (map[string]interface{}, error) {
		return PlanReceive(cur, at, in.Notes, now)
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, events.Event{
		Type:       events.SealReceived,
		EntityID:   seal.ID,
		SerialCode: seal.SerialCode,
		Station:    seal.CurrentStation,
	})
	return seal, nil
}

// Issue hands a seal to the manager of a station.
func (e *Engine) Issue(ctx context.Context, actor *models.Actor, in IssueInput) (seal *models.Seal, err error) {
	defer e.observe("issue", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	station, err := e.station(ctx, "stationId", in.StationID)
	if err != nil {
		return nil, err
	}

	seal, err = e.apply(ctx, actor, in.SealID, func(cur *models.Seal, now time.Time) (map[string]interface{}, error) {
		return PlanIssue(cur, station, now)
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, events.Event{
		Type:       events.SealIssued,
		EntityID:   seal.ID,
		SerialCode: seal.SerialCode,
		Station:    station.Name,
		Recipient:  station.Manager.Email,
		Data:       map[string]string{"managerName": station.Manager.Name},
	})
	return seal, nil
}

// UpdateStatus records the seal's physical condition.
func (e *Engine) UpdateStatus(ctx context.Context, actor *models.Actor, in StatusInput) (seal *models.Seal, err error) {
	defer e.observe("status", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	seal, err = e.apply(ctx, actor, in.SealID, func(cur *models.Seal, now time.Time) (map[string]interface{}, error) {
		return PlanStatus(cur, in.Condition, now)
	})
	if err != nil {
		return nil, err
	}
	if seal.Status == models.SealDamaged {
		e.emit(ctx, events.Event{
			Type:       events.SealDamaged,
			EntityID:   seal.ID,
			SerialCode: seal.SerialCode,
			Station:    seal.CurrentStation,
		})
	}
	return seal, nil
}

// UpdateUtilization sets whether the seal is in use.
func (e *Engine) UpdateUtilization(ctx context.Context, actor *models.Actor, in UtilizationInput) (seal *models.Seal, err error) {
	defer e.observe("utilization", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	return e.apply(ctx, actor, in.SealID, func(cur *models.Seal, now time.Time) (map[string]interface{}, error) {
		return PlanUtilization(cur, in.InUse, now)
	})
}

// AttachImage adds a photo to the seal. The image is compressed before the
// capacity check runs in the transaction.
func (e *Engine) AttachImage(ctx context.Context, actor *models.Actor, in AttachImageInput) (seal *models.Seal, err error) {
	defer e.observe("attach_image", &err)

	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	img, err := prepareImage(in.Image, in.Type, time.Time{})
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, actor, in.SealID, func(cur *models.Seal, now time.Time) (map[string]interface{}, error) {
		img.Timestamp = now
		return PlanAttachImage(cur, img, now)
	})
}

// apply runs plan against the current seal inside a store transaction, then
// records the activity for the written fields.
func (e *Engine) apply(ctx context.Context, actor *models.Actor, id string, plan func(*models.Seal, time.Time) (map[string]interface{}, error)) (*models.Seal, error) {
	var written map[string]interface{}
	seal, err := e.seals.Transact(ctx, id, func(cur *models.Seal) (map[string]interface{}, error) {
		updates, err := plan(cur, NextTimestamp(e.now(), cur.LastUpdated))
		if err != nil {
			return nil, err
		}
		written = updates
		return updates, nil
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("seal %s: %w", id, db.ErrNotFound)
		}
		return nil, err
	}

	e.audit.Record(ctx, actor, audit.SealUpdated(id, written))
	return seal, nil
}

func (e *Engine) station(ctx context.Context, field, id string) (*models.Station, error) {
	station, err := e.stations.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, invalidField(field, "station not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load station: %w", err)
	}
	return station, nil
}

func (e *Engine) ensureUnique(ctx context.Context, field, value string) error {
	existing, err := e.seals.Find(ctx, field, value, 1)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", field, err)
	}
	if len(existing) > 0 {
		return invalidField(field, "a seal with this value already exists")
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if e.notify == nil {
		return
	}
	ev.Timestamp = e.now().UTC()
	e.notify.Notify(ctx, ev)
}

func (e *Engine) observe(op string, err *error) {
	metrics.SealTransitionsTotal.WithLabelValues(op, result(*err)).Inc()
	if *err != nil {
		e.log.Debug().Err(*err).Str("operation", op).Msg("seal operation rejected")
	}
}

func result(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrCapacity):
		return "rejected"
	}
	return "error"
}

func prepareImage(upload ImageUpload, kind models.ImageType, now time.Time) (models.SealImage, error) {
	res, err := images.Compress(upload.Data)
	if err != nil {
		return models.SealImage{}, err
	}
	return models.SealImage{
		Data:         images.DataURL(res.MIME, res.Data),
		Timestamp:    now,
		Type:         kind,
		OriginalName: upload.Name,
	}, nil
}
