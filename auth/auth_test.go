package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sealtrack/db"
	"sealtrack/events"
	"sealtrack/models"
	"sealtrack/portal"
)

type capturePublisher struct {
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, e events.Event) error {
	c.events = append(c.events, e)
	return nil
}

type env struct {
	svc      *Service
	local    *LocalIdentity
	pub      *capturePublisher
	jwt      *JWTManager
	users    *db.Collection[models.User]
	stations *db.Collection[models.Station]
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zerolog.Nop()
	store := db.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	e := &env{
		pub:      &capturePublisher{},
		jwt:      NewJWTManager("test-secret", 15*time.Minute, 24*time.Hour),
		users:    db.NewCollection[models.User](store, models.CollectionUsers, db.Order{Field: "name"}, log),
		stations: db.NewCollection[models.Station](store, models.CollectionStations, db.Order{Field: "lastActive", Desc: true}, log),
	}
	e.local = NewLocalIdentity(store, e.jwt, e.pub, bcrypt.MinCost, log)
	e.svc = NewService(e.local, e.users, e.stations, e.jwt, log)
	return e
}

// register provisions an identity and a matching profile.
func (e *env) register(t *testing.T, email, password string, user models.User) string {
	t.Helper()
	ctx := context.Background()
	uid, err := e.svc.CreateIdentity(ctx, email, password, user.Name)
	if err != nil {
		t.Fatal(err)
	}
	user.Email = email
	if err := e.users.Put(ctx, uid, &user); err != nil {
		t.Fatal(err)
	}
	return uid
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, time.Hour)
	s := &portal.Session{UserID: "u1", Role: models.RoleAdmin, Portal: portal.Admin}

	access, err := m.GenerateToken(s)
	if err != nil {
		t.Fatal(err)
	}
	refresh, _ := m.GenerateRefreshToken(s)

	claims, err := m.ValidateToken(access)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Session.Portal != portal.Admin || claims.Subject != "u1" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if _, err := m.ValidateToken(refresh); err == nil {
		t.Error("refresh token accepted as access token")
	}
	if _, err := m.ValidateRefreshToken(access); err == nil {
		t.Error("access token accepted as refresh token")
	}
	if _, err := NewJWTManager("other", time.Minute, time.Hour).ValidateToken(access); err == nil {
		t.Error("token signed with another secret accepted")
	}
}

func TestExpiredToken(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, time.Hour)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	token, _ := m.GenerateToken(&portal.Session{UserID: "u1"})

	m.now = time.Now
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
	}
	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ExtractToken(%q) = %q, %v", tt.header, got, err)
		}
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := map[string]bool{
		"short1":      false,
		"longenough":  false,
		"1234567890":  false,
		"passw0rd123": true,
	}
	for pw, ok := range tests {
		err := ValidatePasswordStrength(pw)
		if (err == nil) != ok {
			t.Errorf("%q: err = %v", pw, err)
		}
		if err != nil && !errors.Is(err, ErrWeakPassword) {
			t.Errorf("%q: expected ErrWeakPassword, got %v", pw, err)
		}
	}
}

func TestSignInResolvesStationSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	north := &models.Station{Name: "North", Status: models.StationActive}
	e.stations.Create(ctx, north)
	uid := e.register(t, "lin@example.com", "secret123", models.User{Name: "Lin", Role: models.RoleSubStationManager, StationID: north.ID})

	res, err := e.svc.SignIn(ctx, "lin@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Session.UserID != uid || res.Session.Portal != portal.SubStation || res.Session.StationName != "North" {
		t.Errorf("unexpected session %+v", res.Session)
	}
	claims, err := e.jwt.ValidateToken(res.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Session.StationName != "North" {
		t.Errorf("token session = %+v", claims.Session)
	}

	if _, err := e.svc.SignIn(ctx, "lin@example.com", "wrong-pass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v", err)
	}
	if _, err := e.svc.SignIn(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: %v", err)
	}
}

func TestSignInWithoutProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if _, err := e.svc.CreateIdentity(ctx, "ghost@example.com", "secret123", "Ghost"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.SignIn(ctx, "ghost@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected invalid credentials, got %v", err)
	}
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	uid := e.register(t, "ada@example.com", "secret123", models.User{Name: "Ada", Role: models.RoleAdmin})

	res, err := e.svc.SignIn(ctx, "ada@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	e.users.Update(ctx, uid, map[string]interface{}{"role": models.RoleMainStoreManager})

	refreshed, err := e.svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Session.Role != models.RoleMainStoreManager {
		t.Errorf("role = %s", refreshed.Session.Role)
	}
	if _, err := e.svc.Refresh(ctx, res.Token); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("access token should not refresh, got %v", err)
	}
}

func TestDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.svc.CreateIdentity(ctx, "a@example.com", "secret123", "A")
	if _, err := e.svc.CreateIdentity(ctx, "a@example.com", "secret456", "A"); !errors.Is(err, ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "ada@example.com", "secret123", models.User{Name: "Ada", Role: models.RoleAdmin})

	if err := e.svc.SendPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Errorf("unknown email should succeed silently, got %v", err)
	}
	if len(e.pub.events) != 0 {
		t.Fatalf("no event expected for unknown email, got %d", len(e.pub.events))
	}

	if err := e.svc.SendPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatal(err)
	}
	if len(e.pub.events) != 1 || e.pub.events[0].Type != events.PasswordReset || e.pub.events[0].Recipient != "ada@example.com" {
		t.Fatalf("unexpected events %+v", e.pub.events)
	}
	token := e.pub.events[0].Data["token"]

	if err := e.svc.ConfirmPasswordReset(ctx, token, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected weak password, got %v", err)
	}
	if err := e.svc.ConfirmPasswordReset(ctx, "garbage", "newpass456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected invalid token, got %v", err)
	}
	if err := e.svc.ConfirmPasswordReset(ctx, token, "newpass456"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.SignIn(ctx, "ada@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted")
	}
	if _, err := e.svc.SignIn(ctx, "ada@example.com", "newpass456"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestFirebaseToolkitErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "web-key" {
			t.Errorf("missing api key, got %q", r.URL.RawQuery)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/accounts:signInWithPassword":
			if body["password"] == "secret123" {
				json.NewEncoder(w).Encode(map[string]string{"localId": "uid-1"})
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"INVALID_LOGIN_CREDENTIALS"}}`))
		case "/accounts:sendOobCode":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"EMAIL_NOT_FOUND"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := &FirebaseIdentity{apiKey: "web-key", baseURL: srv.URL + "/accounts:", http: srv.Client()}
	ctx := context.Background()

	uid, err := f.VerifyPassword(ctx, "a@example.com", "secret123")
	if err != nil || uid != "uid-1" {
		t.Errorf("VerifyPassword = %q, %v", uid, err)
	}
	if _, err := f.VerifyPassword(ctx, "a@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected invalid credentials, got %v", err)
	}
	if err := f.SendPasswordReset(ctx, "x@example.com"); !errors.Is(err, ErrUnknownEmail) {
		t.Errorf("expected unknown email, got %v", err)
	}
}

func TestFirebaseResetConfirmUnsupported(t *testing.T) {
	e := newEnv(t)
	svc := NewService(&FirebaseIdentity{}, e.users, e.stations, e.jwt, zerolog.Nop())

	token, err := e.jwt.GenerateResetToken("a@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ConfirmPasswordReset(context.Background(), token, "newpass123"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestToolkitErrCodes(t *testing.T) {
	if err := toolkitErr("signInWithPassword", "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled"); errors.Is(err, ErrInvalidCredentials) {
		t.Error("throttling should not look like bad credentials")
	}
	if err := toolkitErr("signInWithPassword", "INVALID_PASSWORD"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("got %v", err)
	}
	if err := toolkitErr("sendOobCode", "EMAIL_NOT_FOUND:no user record"); !errors.Is(err, ErrUnknownEmail) {
		t.Errorf("code before a colon should be recognised, got %v", err)
	}
}
