package lifecycle

import (
	"time"

	"sealtrack/images"
	"sealtrack/models"
)

// Field names written by the planners.
const (
	fieldStatus             = "status"
	fieldSourceStation      = "sourceStation"
	fieldDestinationStation = "destinationStation"
	fieldCurrentStation     = "currentStation"
	fieldIsUnutilized       = "isUnutilized"
	fieldIssuedTo           = "issuedTo"
	fieldNotes              = "notes"
	fieldImages             = "images"
	fieldLastUpdated        = "lastUpdated"
)

// Condition is the physical state reported through UpdateStatus.
type Condition string

const (
	ConditionGood     Condition = "good"
	ConditionDamaged  Condition = "damaged"
	ConditionRepaired Condition = "repaired"
)

// Status maps a condition to the seal status it sets.
func (c Condition) Status() (models.SealStatus, bool) {
	switch c {
	case ConditionGood:
		return models.SealReceived, true
	case ConditionDamaged:
		return models.SealDamaged, true
	case ConditionRepaired:
		return models.SealRepaired, true
	}
	return "", false
}

// NextTimestamp returns now at store precision, moved past prev when the
// clock has not advanced, so lastUpdated strictly increases per seal.
func NextTimestamp(now, prev time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(prev) {
		ts = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return ts
}

// PlanDispatch moves a Received seal into transit toward destination.
func PlanDispatch(seal *models.Seal, destination, notes string, now time.Time) (map[string]interface{}, error) {
	if seal.Status != models.SealReceived {
		return nil, transitionError("dispatch", seal.Status)
	}
	if destination == "" {
		return nil, invalidField("destinationStationId", "is required")
	}
	if destination == currentOf(seal) {
		return nil, invalidField("destinationStationId", "must differ from the current station")
	}

	updates := map[string]interface{}{
		fieldStatus:             models.SealInTransit,
		fieldDestinationStation: destination,
		fieldLastUpdated:        now,
	}
	if notes != "" {
		updates[fieldNotes] = notes
	}
	return updates, nil
}

// PlanReceive marks an in-transit seal as received. When atStation is set the
// seal's current station becomes the receiving station.
func PlanReceive(seal *models.Seal, atStation, notes string, now time.Time) (map[string]interface{}, error) {
	if seal.Status != models.SealInTransit {
		return nil, transitionError("receive", seal.Status)
	}

	updates := map[string]interface{}{
		fieldStatus:      models.SealReceived,
		fieldLastUpdated: now,
	}
	if atStation != "" {
		updates[fieldCurrentStation] = atStation
	}
	if notes != "" {
		updates[fieldNotes] = notes
	}
	return updates, nil
}

// PlanIssue issues the seal to the manager of station. Allowed from any status.
func PlanIssue(seal *models.Seal, station *models.Station, now time.Time) (map[string]interface{}, error) {
	if station.Manager.ID == "" {
		return nil, invalidField("stationId", "station has no manager to issue to")
	}

	return map[string]interface{}{
		fieldStatus:             models.SealIssued,
		fieldDestinationStation: station.Name,
		fieldSourceStation:      seal.CurrentStation,
		fieldIsUnutilized:       false,
		fieldIssuedTo: models.IssuedTo{
			Name:      station.Manager.Name,
			ID:        station.Manager.ID,
			Timestamp: now,
		},
		fieldLastUpdated: now,
	}, nil
}

// PlanStatus sets the status for a reported condition.
func PlanStatus(seal *models.Seal, condition Condition, now time.Time) (map[string]interface{}, error) {
	status, ok := condition.Status()
	if !ok {
		return nil, invalidField("condition", "must be one of: good damaged repaired")
	}
	return map[string]interface{}{
		fieldStatus:      status,
		fieldLastUpdated: now,
	}, nil
}

// PlanUtilization records whether the seal is in use.
func PlanUtilization(seal *models.Seal, inUse bool, now time.Time) (map[string]interface{}, error) {
	return map[string]interface{}{
		fieldIsUnutilized: !inUse,
		fieldLastUpdated:  now,
	}, nil
}

// PlanAttachImage appends an image, up to the per-seal capacity.
func PlanAttachImage(seal *models.Seal, img models.SealImage, now time.Time) (map[string]interface{}, error) {
	if len(seal.Images) >= images.MaxPerSeal {
		return nil, ErrCapacity
	}

	next := make([]models.SealImage, 0, len(seal.Images)+1)
	next = append(next, seal.Images...)
	next = append(next, img)
	return map[string]interface{}{
		fieldImages:      next,
		fieldLastUpdated: now,
	}, nil
}

func currentOf(seal *models.Seal) string {
	if seal.CurrentStation != "" {
		return seal.CurrentStation
	}
	return seal.SourceStation
}

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
