package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/db"
	"sealtrack/models"
)

func TestSealAction(t *testing.T) {
	tests := []struct {
		name    string
		updates map[string]interface{}
		want    string
	}{
		{"status", map[string]interface{}{"status": models.SealDamaged, "lastUpdated": time.Now()}, "updated seal status to Damaged"},
		{"status wins over destination", map[string]interface{}{"status": models.SealIssued, "destinationStation": "North"}, "updated seal status to Issued"},
		{"destination only", map[string]interface{}{"destinationStation": "North"}, "issued seal to North"},
		{"other", map[string]interface{}{"isUnutilized": false}, "updated seal details"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SealAction(tt.updates); got != tt.want {
				t.Errorf("SealAction() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newRecorder(store db.Store, now time.Time) *Recorder {
	logs := db.NewCollection[models.ActivityLog](store, models.CollectionLogs, db.Order{Field: "timestamp", Desc: true, Limit: 100}, zerolog.Nop())
	return NewRecorder(logs, func() time.Time { return now }, zerolog.Nop())
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	defer store.Close()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rec := newRecorder(store, now)

	rec.Record(ctx, &models.Actor{UserID: "u1", Email: "ops@example.com"}, SealUpdated("s1", map[string]interface{}{"status": "Damaged"}))
	rec.Record(ctx, nil, SealUpdated("s1", map[string]interface{}{"status": "Repaired"}))

	logs, err := rec.Recent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected only the authenticated entry, got %d", len(logs))
	}
	got := logs[0]
	if got.UserName != "ops@example.com" || got.Details != "Updated seal s1" || got.EntityType != models.EntitySeal {
		t.Errorf("unexpected log %+v", got)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}
}

type failingStore struct{ db.Store }

func (failingStore) Create(context.Context, string, interface{}) (string, error) {
	return "", errors.New("unavailable")
}

func TestRecordSwallowsFailures(t *testing.T) {
	rec := newRecorder(failingStore{db.NewMemoryStore()}, time.Now())
	// Must not panic or block.
	rec.Record(context.Background(), &models.Actor{UserID: "u1"}, SealCreated(&models.Seal{ID: "s1", SerialCode: "SN-1"}))
}
