package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	firebase "firebase.google.com/go"
	fbauth "firebase.google.com/go/auth"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1/accounts:"

// FirebaseIdentity provisions users through the Admin SDK. Password checks and
// reset emails go through the Identity Toolkit REST API, which the Admin SDK
// does not expose. Resets complete on Firebase's hosted page, so it is not a
// PasswordSetter.
type FirebaseIdentity struct {
	client  *fbauth.Client
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewFirebaseIdentity(ctx context.Context, app *firebase.App, webAPIKey string) (*FirebaseIdentity, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Auth client: %w", err)
	}
	return &FirebaseIdentity{
		client:  client,
		apiKey:  webAPIKey,
		baseURL: identityToolkitURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (f *FirebaseIdentity) CreateIdentity(ctx context.Context, email, password, name string) (string, error) {
	params := (&fbauth.UserToCreate{}).
		Email(email).
		Password(password).
		DisplayName(name)
	u, err := f.client.CreateUser(ctx, params)
	if err != nil {
		if fbauth.IsEmailAlreadyExists(err) {
			return "", ErrEmailExists
		}
		return "", fmt.Errorf("error creating user: %w", err)
	}
	return u.UID, nil
}

func (f *FirebaseIdentity) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	var out struct {
		LocalID string `json:"localId"`
	}
	err := f.call(ctx, "signInWithPassword", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.LocalID, nil
}

func (f *FirebaseIdentity) SendPasswordReset(ctx context.Context, email string) error {
	return f.call(ctx, "sendOobCode", map[string]interface{}{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

type toolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *FirebaseIdentity) call(ctx context.Context, method string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := f.baseURL + method + "?key=" + url.QueryEscape(f.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity toolkit %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var te toolkitError
		if err := json.NewDecoder(resp.Body).Decode(&te); err != nil {
			return fmt.Errorf("identity toolkit %s: status %d", method, resp.StatusCode)
		}
		return toolkitErr(method, te.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// toolkitErr maps Identity Toolkit error codes, e.g. "INVALID_PASSWORD" or
// "TOO_MANY_ATTEMPTS_TRY_LATER : ...".
func toolkitErr(method, message string) error {
	code := message
	if i := strings.IndexAny(message, " :"); i >= 0 {
		code = message[:i]
	}
	switch code {
	case "EMAIL_NOT_FOUND":
		if method == "sendOobCode" {
			return ErrUnknownEmail
		}
		return ErrInvalidCredentials
	case "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED", "INVALID_EMAIL":
		return ErrInvalidCredentials
	}
	return errors.New("identity toolkit " + method + ": " + message)
}
