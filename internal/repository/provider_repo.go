package repository

import (
	"context"
	"fmt"

	"github.com/segsight/segsight/internal/models"
	"gorm.io/gorm"
)

// providerRepo implements ProviderRepository using GORM.
type providerRepo struct {
	db *gorm.DB
}

// NewProviderRepository creates a new ProviderRepository.
func NewProviderRepository(db *gorm.DB) *providerRepo {
	return &providerRepo{db: db}
}

// Create creates a new provider.
func (r *providerRepo) Create(ctx context.Context, provider *models.Provider) error {
	if err := r.db.WithContext(ctx).Create(provider).Error; err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	return nil
}

// GetByID retrieves a provider by ID.
func (r *providerRepo) GetByID(ctx context.Context, id models.ULID) (*models.Provider, error) {
	var provider models.Provider
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&provider).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting provider by ID: %w", err)
	}
	return &provider, nil
}

// GetByName retrieves a provider by name.
func (r *providerRepo) GetByName(ctx context.Context, name string) (*models.Provider, error) {
	var provider models.Provider
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&provider).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting provider by name: %w", err)
	}
	return &provider, nil
}

// GetAll retrieves all providers.
func (r *providerRepo) GetAll(ctx context.Context) ([]*models.Provider, error) {
	var providers []*models.Provider
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("getting all providers: %w", err)
	}
	return providers, nil
}

// GetActive retrieves all active providers.
func (r *providerRepo) GetActive(ctx context.Context) ([]*models.Provider, error) {
	var providers []*models.Provider
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("name ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("getting active providers: %w", err)
	}
	return providers, nil
}

// Update updates an existing provider.
func (r *providerRepo) Update(ctx context.Context, provider *models.Provider) error {
	if err := r.db.WithContext(ctx).Save(provider).Error; err != nil {
		return fmt.Errorf("updating provider: %w", err)
	}
	return nil
}

// Delete deletes a provider by ID.
func (r *providerRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Provider{}).Error; err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}
	return nil
}

// SetActive toggles a provider. The capability-claim check and the update run
// in one transaction: at most one active provider may claim each capability.
func (r *providerRepo) SetActive(ctx context.Context, id models.ULID, active bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var provider models.Provider
		if err := tx.Where("id = ?", id).First(&provider).Error; err != nil {
			return fmt.Errorf("getting provider: %w", err)
		}

		if active {
			var others []*models.Provider
			if err := tx.Where("active = ? AND id != ?", true, id).Find(&others).Error; err != nil {
				return fmt.Errorf("getting active providers: %w", err)
			}
			for _, other := range others {
				for _, c := range provider.Capabilities {
					if other.HasCapability(c) {
						return fmt.Errorf("%w: %s held by %s", models.ErrCapabilityClaimed, c, other.Name)
					}
				}
			}
		}

		provider.Active = active
		if err := tx.Save(&provider).Error; err != nil {
			return fmt.Errorf("updating provider: %w", err)
		}
		return nil
	})
}

// Ensure providerRepo implements ProviderRepository at compile time.
var _ ProviderRepository = (*providerRepo)(nil)
