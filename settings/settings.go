// Package settings reads and merge-updates the organization and integration
// singletons, caching them after the first read.
package settings

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"sealtrack/db"
	"sealtrack/models"
)

// ErrUnknownField is returned when an update names a field the settings do not have.
var ErrUnknownField = errors.New("unknown settings field")

type Service struct {
	store db.Store
	log   zerolog.Logger

	mu           sync.RWMutex
	organization *models.OrganizationSettings
	integrations *models.IntegrationSettings
}

func NewService(store db.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Organization returns the organization settings; a missing document yields zero values.
func (s *Service) Organization(ctx context.Context) (*models.OrganizationSettings, error) {
	s.mu.RLock()
	cached := s.organization
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	org := &models.OrganizationSettings{}
	if err := s.load(ctx, models.SettingsOrganization, org); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.organization = org
	s.mu.Unlock()
	return org, nil
}

// Integrations returns the integration settings; a missing document yields zero values.
func (s *Service) Integrations(ctx context.Context) (*models.IntegrationSettings, error) {
	s.mu.RLock()
	cached := s.integrations
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	integ := &models.IntegrationSettings{}
	if err := s.load(ctx, models.SettingsIntegrations, integ); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.integrations = integ
	s.mu.Unlock()
	return integ, nil
}

// UpdateOrganization merges updates into the organization settings.
func (s *Service) UpdateOrganization(ctx context.Context, updates map[string]interface{}) (*models.OrganizationSettings, error) {
	if err := checkFields(reflect.TypeOf(models.OrganizationSettings{}), updates); err != nil {
		return nil, err
	}
	if err := s.store.Merge(ctx, models.CollectionSettings, models.SettingsOrganization, updates); err != nil {
		return nil, fmt.Errorf("failed to update organization settings: %w", err)
	}

	s.mu.Lock()
	s.organization = nil
	s.mu.Unlock()
	return s.Organization(ctx)
}

// UpdateIntegrations merges updates into the integration settings.
func (s *Service) UpdateIntegrations(ctx context.Context, updates map[string]interface{}) (*models.IntegrationSettings, error) {
	if err := checkFields(reflect.TypeOf(models.IntegrationSettings{}), updates); err != nil {
		return nil, err
	}
	if err := s.store.Merge(ctx, models.CollectionSettings, models.SettingsIntegrations, updates); err != nil {
		return nil, fmt.Errorf("failed to update integration settings: %w", err)
	}

	s.mu.Lock()
	s.integrations = nil
	s.mu.Unlock()
	return s.Integrations(ctx)
}

// NotificationsEnabled reports whether any outbound channel is on.
// Read failures disable notifications.
func (s *Service) NotificationsEnabled(ctx context.Context) bool {
	integ, err := s.Integrations(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read integration settings")
		return false
	}
	return integ.NotificationsEnabled()
}

func (s *Service) load(ctx context.Context, id string, out interface{}) error {
	doc, err := s.store.Get(ctx, models.CollectionSettings, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s settings: %w", id, err)
	}
	if err := doc.DataTo(out); err != nil {
		return fmt.Errorf("failed to parse %s settings: %w", id, err)
	}
	return nil
}

// checkFields rejects update keys that do not match a field tag of t, descending into nested structs.
func checkFields(t reflect.Type, updates map[string]interface{}) error {
	fields := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("firestore"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		fields[name] = f.Type
	}

	for key, value := range updates {
		ft, ok := fields[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if nested, ok := value.(map[string]interface{}); ok && ft.Kind() == reflect.Struct {
			if err := checkFields(ft, nested); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}
