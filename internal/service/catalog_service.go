package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"prenotazioni/internal/config"
	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

// CatalogService manages properties and cleaning services and keeps the list
// of bookable properties in memory.
type CatalogService struct {
	store  domain.Store
	logger *zerolog.Logger

	mu     sync.RWMutex
	active []*models.Property
	loaded bool
}

func NewCatalogService(store domain.Store, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{
		store:  store,
		logger: ensureLogger(logger),
	}
}

// SyncFromConfig upserts the configured cleaning services and properties by name.
// Records that exist only in the database are left alone.
func (s *CatalogService) SyncFromConfig(
	ctx context.Context,
	services []config.CleaningServiceSeed,
	properties []config.PropertySeed,
) error {
	serviceIDs := make(map[string]string, len(services))
	for _, seed := range services {
		svc := &models.CleaningService{
			Name:       seed.Name,
			Phone:      seed.Phone,
			Email:      seed.Email,
			SMSEnabled: seed.SMSEnabled,
			IsDefault:  seed.Default,
		}
		if err := s.store.UpsertCleaningService(ctx, svc); err != nil {
			return fmt.Errorf("failed to sync cleaning service %q: %w", seed.Name, err)
		}
		serviceIDs[strings.ToLower(strings.TrimSpace(seed.Name))] = svc.ID
	}

	for _, seed := range properties {
		p := &models.Property{
			Name:        seed.Name,
			Type:        seed.Type,
			Address:     seed.Address,
			City:        seed.City,
			Bedrooms:    seed.Bedrooms,
			Bathrooms:   seed.Bathrooms,
			MaxGuests:   seed.MaxGuests,
			BasePrice:   seed.BasePrice,
			CleaningFee: seed.CleaningFee,
			Amenities:   seed.Amenities,
			Status:      models.PropertyStatus(seed.Status),
		}
		if name := strings.ToLower(strings.TrimSpace(seed.CleaningService)); name != "" {
			id, ok := serviceIDs[name]
			if !ok {
				return fmt.Errorf("property %q references unknown cleaning service %q", seed.Name, seed.CleaningService)
			}
			p.CleaningServiceID = &id
		}
		if err := s.store.UpsertProperty(ctx, p); err != nil {
			return fmt.Errorf("failed to sync property %q: %w", seed.Name, err)
		}
	}

	s.logger.Info().
		Int("cleaning_services", len(services)).
		Int("properties", len(properties)).
		Msg("Catalog synced from config")
	return s.Refresh(ctx)
}

func (s *CatalogService) Refresh(ctx context.Context) error {
	active, err := s.store.ListActiveProperties(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	s.loaded = true
	return nil
}

// ListActiveProperties returns the cached bookable properties, loading them on first use.
func (s *CatalogService) ListActiveProperties(ctx context.Context) ([]*models.Property, error) {
	s.mu.RLock()
	if s.loaded {
		active := append([]*models.Property(nil), s.active...)
		s.mu.RUnlock()
		return active, nil
	}
	s.mu.RUnlock()

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.ListActiveProperties(ctx)
}

// GetPropertyByName always reads the store so a deactivated property is seen at once.
func (s *CatalogService) GetPropertyByName(ctx context.Context, name string) (*models.Property, error) {
	return s.store.GetPropertyByName(ctx, name)
}

func (s *CatalogService) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	return s.store.GetProperty(ctx, id)
}

func (s *CatalogService) ListProperties(ctx context.Context) ([]*models.Property, error) {
	return s.store.ListProperties(ctx)
}

func (s *CatalogService) UpsertProperty(ctx context.Context, p *models.Property) error {
	if err := s.store.UpsertProperty(ctx, p); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *CatalogService) ListCleaningServices(ctx context.Context) ([]*models.CleaningService, error) {
	return s.store.ListCleaningServices(ctx)
}

func (s *CatalogService) UpsertCleaningService(ctx context.Context, svc *models.CleaningService) error {
	return s.store.UpsertCleaningService(ctx, svc)
}

func (s *CatalogService) SetDefaultCleaningService(ctx context.Context, id string) error {
	if err := s.store.SetDefaultCleaningService(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("service_id", id).Msg("Default cleaning service changed")
	return nil
}

func (s *CatalogService) DeleteCleaningService(ctx context.Context, id string) error {
	return s.store.DeleteCleaningService(ctx, id)
}
