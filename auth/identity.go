package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/db"
	"sealtrack/events"
	"sealtrack/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrUnknownEmail       = errors.New("no account for email")
	ErrWeakPassword       = errors.New("weak password")
	ErrUnsupported        = errors.New("operation not supported by identity provider")
)

// IdentityProvider owns sign-in credentials. User profiles live in the users
// collection keyed by the uid the provider returns.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password, name string) (string, error)
	VerifyPassword(ctx context.Context, email, password string) (string, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// PasswordSetter is implemented by providers that complete resets in-process.
type PasswordSetter interface {
	SetPassword(ctx context.Context, email, password string) error
}

type credential struct {
	ID        string    `firestore:"-" json:"-"`
	Email     string    `firestore:"email" json:"email"`
	Hash      string    `firestore:"hash" json:"hash"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

func (c *credential) SetID(id string) { c.ID = id }

// ResetTokenTTL bounds how long a local password reset link stays valid.
const ResetTokenTTL = time.Hour

// LocalIdentity stores bcrypt hashes in the passwords collection. Reset links
// are signed tokens handed to the notification pipeline.
type LocalIdentity struct {
	creds *db.Collection[credential]
	jwt   *JWTManager
	pub   events.Publisher
	cost  int
	now   func() time.Time
	log   zerolog.Logger
}

func NewLocalIdentity(store db.Store, jwt *JWTManager, pub events.Publisher, cost int, log zerolog.Logger) *LocalIdentity {
	if cost == 0 {
		cost = BcryptCost
	}
	return &LocalIdentity{
		creds: db.NewCollection[credential](store, models.CollectionPassword, db.Order{Field: "email"}, log),
		jwt:   jwt,
		pub:   pub,
		cost:  cost,
		now:   time.Now,
		log:   log,
	}
}

func (l *LocalIdentity) CreateIdentity(ctx context.Context, email, password, name string) (string, error) {
	if _, err := l.find(ctx, email); err == nil {
		return "", ErrEmailExists
	} else if !errors.Is(err, ErrUnknownEmail) {
		return "", err
	}

	hash, err := HashPassword(password, l.cost)
	if err != nil {
		return "", err
	}
	uid, err := l.creds.Create(ctx, &credential{Email: email, Hash: hash, UpdatedAt: l.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("failed to store credential: %w", err)
	}
	return uid, nil
}

func (l *LocalIdentity) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	cred, err := l.find(ctx, email)
	if errors.Is(err, ErrUnknownEmail) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := CheckPassword(password, cred.Hash); err != nil {
		return "", err
	}
	return cred.ID, nil
}

func (l *LocalIdentity) SendPasswordReset(ctx context.Context, email string) error {
	if _, err := l.find(ctx, email); err != nil {
		return err
	}
	token, err := l.jwt.GenerateResetToken(email, ResetTokenTTL)
	if err != nil {
		return err
	}
	err = l.pub.Publish(ctx, events.Event{
		Type:      events.PasswordReset,
		Recipient: email,
		Data:      map[string]string{"token": token},
		Timestamp: l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish reset: %w", err)
	}
	return nil
}

func (l *LocalIdentity) SetPassword(ctx context.Context, email, password string) error {
	cred, err := l.find(ctx, email)
	if err != nil {
		return err
	}
	hash, err := HashPassword(password, l.cost)
	if err != nil {
		return err
	}
	return l.creds.Update(ctx, cred.ID, map[string]interface{}{
		"hash":      hash,
		"updatedAt": l.now().UTC(),
	})
}

func (l *LocalIdentity) find(ctx context.Context, email string) (*credential, error) {
	found, err := l.creds.Find(ctx, "email", email, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}
	if len(found) == 0 {
		return nil, ErrUnknownEmail
	}
	return &found[0], nil
}
