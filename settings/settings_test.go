package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"sealtrack/db"
)

func TestOrganizationMergeAndCache(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	defer store.Close()
	svc := NewService(store, zerolog.Nop())

	org, err := svc.Organization(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if org.Name != "" {
		t.Errorf("expected empty settings, got %+v", org)
	}

	if _, err := svc.UpdateOrganization(ctx, map[string]interface{}{"name": "Port Authority"}); err != nil {
		t.Fatal(err)
	}
	org, err = svc.UpdateOrganization(ctx, map[string]interface{}{"contactEmail": "ops@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if org.Name != "Port Authority" || org.ContactEmail != "ops@example.com" {
		t.Errorf("merge lost fields: %+v", org)
	}

	// Writes that bypass the service are not visible until the next update.
	store.Merge(ctx, "settings", "organization", map[string]interface{}{"name": "Changed"})
	cached, _ := svc.Organization(ctx)
	if cached.Name != "Port Authority" {
		t.Errorf("expected cached value, got %q", cached.Name)
	}
}

func TestIntegrationsGateNotifications(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	defer store.Close()
	svc := NewService(store, zerolog.Nop())

	if svc.NotificationsEnabled(ctx) {
		t.Fatal("notifications should default to off")
	}

	integ, err := svc.UpdateIntegrations(ctx, map[string]interface{}{
		"email": map[string]interface{}{"enabled": true, "provider": "smtp"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !integ.Email.Enabled || integ.Email.Provider != "smtp" {
		t.Errorf("unexpected integrations %+v", integ)
	}
	if !svc.NotificationsEnabled(ctx) {
		t.Error("expected notifications to be enabled")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	svc := NewService(db.NewMemoryStore(), zerolog.Nop())
	_, err := svc.UpdateIntegrations(context.Background(), map[string]interface{}{
		"whatsapp": map[string]interface{}{"bogus": 1},
	})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}
