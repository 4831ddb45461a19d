package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"sealtrack/models"
	"sealtrack/portal"
)

// Filter narrows a seal listing.
type Filter struct {
	Status models.SealStatus
	Search string
}

// Get returns a seal visible to the session.
func (e *Engine) Get(ctx context.Context, session *portal.Session, id string) (*models.Seal, error) {
	seal, err := e.seals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", id, err)
	}
	if !session.InScope(seal) {
		return nil, fmt.Errorf("%w: seal %s is outside your station", portal.ErrForbidden, id)
	}
	return seal, nil
}

// List returns the session's seals, most recently updated first.
func (e *Engine) List(ctx context.Context, session *portal.Session, f Filter) ([]models.Seal, error) {
	seals, err := e.seals.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list seals: %w", err)
	}
	return Match(seals, session, f), nil
}

// Match applies session scope, status and a case-insensitive search over
// serial code, QR code and current station.
func Match(seals []models.Seal, session *portal.Session, f Filter) []models.Seal {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]models.Seal, 0, len(seals))
	for i := range seals {
		s := &seals[i]
		if !session.InScope(s) {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(s.SerialCode), search) &&
			!strings.Contains(strings.ToLower(s.QRCode), search) &&
			!strings.Contains(strings.ToLower(s.CurrentStation), search) {
			continue
		}
		out = append(out, *s)
	}
	return out
}
