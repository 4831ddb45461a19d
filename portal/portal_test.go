package portal

import (
	"errors"
	"testing"

	"sealtrack/models"
)

func TestForRole(t *testing.T) {
	tests := []struct {
		role models.UserRole
		want Portal
	}{
		{models.RoleAdmin, Admin},
		{models.RoleMainStoreManager, Admin},
		{models.RoleStationManager, Station},
		{models.RoleSubStationManager, SubStation},
	}
	for _, tt := range tests {
		got, ok := ForRole(tt.role)
		if !ok || got != tt.want {
			t.Errorf("ForRole(%s) = %s, %v; want %s", tt.role, got, ok, tt.want)
		}
	}
	if _, ok := ForRole("guest"); ok {
		t.Error("unknown role should not resolve")
	}
}

func TestPermissions(t *testing.T) {
	station := &Session{Portal: Station, StationName: "North"}
	if !station.Can(DispatchSeal) || !station.Can(ReceiveSeal) {
		t.Error("station portal should dispatch and receive")
	}
	if station.Can(IssueSeal) || station.Can(ManageUsers) {
		t.Error("station portal should not issue seals or manage users")
	}

	sub := &Session{Portal: SubStation, StationName: "Dock 3"}
	if sub.Can(DispatchSeal) {
		t.Error("sub-station portal should not dispatch")
	}
	if !sub.CanSetStatus(models.SealDamaged) {
		t.Error("sub-station portal should report damage")
	}
	if sub.CanSetStatus(models.SealRepaired) {
		t.Error("sub-station portal should not mark repairs")
	}

	admin := &Session{Portal: Admin}
	if !admin.CanSetStatus(models.SealRepaired) || !admin.Can(ManageSettings) {
		t.Error("admin portal should have full access")
	}

	var anonymous *Session
	if anonymous.Can(ViewSeals) {
		t.Error("nil session must not have permissions")
	}
	if err := anonymous.Require(ViewSeals); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestInScope(t *testing.T) {
	seal := &models.Seal{SourceStation: "Central", CurrentStation: "Central", DestinationStation: "North"}

	if !(&Session{Portal: Admin}).InScope(seal) {
		t.Error("admin sees every seal")
	}
	if !(&Session{Portal: Station, StationName: "North"}).InScope(seal) {
		t.Error("destination station should see the seal")
	}
	if (&Session{Portal: Station, StationName: "South"}).InScope(seal) {
		t.Error("unrelated station should not see the seal")
	}
	if (&Session{Portal: Station}).InScope(seal) {
		t.Error("station session without a station sees nothing")
	}
}

func TestNewSession(t *testing.T) {
	user := &models.User{ID: "u1", Email: "a@example.com", Role: models.RoleStationManager, StationID: "st1"}
	s, err := NewSession(user, &models.Station{ID: "st1", Name: "North"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Portal != Station || s.StationName != "North" || s.Portal.Home() != "/station/dashboard" {
		t.Errorf("unexpected session %+v", s)
	}
	if a := s.Actor(); a.UserID != "u1" || a.DisplayName() != "a@example.com" {
		t.Errorf("unexpected actor %+v", a)
	}

	if _, err := NewSession(&models.User{Role: "guest"}, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
