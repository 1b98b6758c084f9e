package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/segsight/segsight/internal/models"
	"gorm.io/gorm"
)

// brandRepo implements BrandRepository using GORM.
type brandRepo struct {
	db *gorm.DB
}

// NewBrandRepository creates a new BrandRepository.
func NewBrandRepository(db *gorm.DB) *brandRepo {
	return &brandRepo{db: db}
}

// Create creates a new brand.
func (r *brandRepo) Create(ctx context.Context, brand *models.Brand) error {
	if err := r.db.WithContext(ctx).Create(brand).Error; err != nil {
		return fmt.Errorf("creating brand: %w", err)
	}
	return nil
}

// GetByID retrieves a brand by ID.
func (r *brandRepo) GetByID(ctx context.Context, id models.ULID) (*models.Brand, error) {
	var brand models.Brand
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&brand).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting brand by ID: %w", err)
	}
	return &brand, nil
}

// GetAll retrieves all brands.
func (r *brandRepo) GetAll(ctx context.Context) ([]*models.Brand, error) {
	var brands []*models.Brand
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&brands).Error; err != nil {
		return nil, fmt.Errorf("getting all brands: %w", err)
	}
	return brands, nil
}

// GetActive retrieves all active brands.
func (r *brandRepo) GetActive(ctx context.Context) ([]*models.Brand, error) {
	var brands []*models.Brand
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("name ASC").Find(&brands).Error; err != nil {
		return nil, fmt.Errorf("getting active brands: %w", err)
	}
	return brands, nil
}

// Update updates an existing brand.
func (r *brandRepo) Update(ctx context.Context, brand *models.Brand) error {
	if err := r.db.WithContext(ctx).Save(brand).Error; err != nil {
		return fmt.Errorf("updating brand: %w", err)
	}
	return nil
}

// Delete deletes a brand by ID.
func (r *brandRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Brand{}).Error; err != nil {
		return fmt.Errorf("deleting brand: %w", err)
	}
	return nil
}

// ActiveSearchTerms flattens active brands into a term-to-brand vocabulary.
// A brand with no explicit search terms contributes its own name. The first
// brand to claim a term wins; brands are ordered by name so the mapping is
// stable across reloads.
func (r *brandRepo) ActiveSearchTerms(ctx context.Context) (map[string]string, error) {
	brands, err := r.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	vocab := make(map[string]string)
	for _, brand := range brands {
		terms := brand.SearchTerms
		if len(terms) == 0 {
			terms = models.StringList{brand.Name}
		}
		for _, term := range terms {
			term = strings.TrimSpace(strings.ToLower(term))
			if term == "" {
				continue
			}
			if _, taken := vocab[term]; !taken {
				vocab[term] = brand.Name
			}
		}
	}
	return vocab, nil
}

// Ensure brandRepo implements BrandRepository at compile time.
var _ BrandRepository = (*brandRepo)(nil)
