package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// BrandHandler handles the logo-detection vocabulary endpoints.
type BrandHandler struct {
	brands repository.BrandRepository
	logger *slog.Logger
}

// NewBrandHandler creates a new brand handler.
func NewBrandHandler(brands repository.BrandRepository, logger *slog.Logger) *BrandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrandHandler{brands: brands, logger: logger}
}

// Register registers the brand routes with the API.
func (h *BrandHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBrands",
		Method:      "GET",
		Path:        "/api/v1/brands",
		Summary:     "List brands",
		Tags:        []string{"Brands"},
	}, h.ListBrands)

	huma.Register(api, huma.Operation{
		OperationID:   "createBrand",
		Method:        "POST",
		Path:          "/api/v1/brands",
		Summary:       "Create a brand",
		Tags:          []string{"Brands"},
		DefaultStatus: 201,
	}, h.CreateBrand)

	huma.Register(api, huma.Operation{
		OperationID: "getBrand",
		Method:      "GET",
		Path:        "/api/v1/brands/{id}",
		Summary:     "Get a brand by ID",
		Tags:        []string{"Brands"},
	}, h.GetBrand)

	huma.Register(api, huma.Operation{
		OperationID: "updateBrand",
		Method:      "PUT",
		Path:        "/api/v1/brands/{id}",
		Summary:     "Update a brand",
		Tags:        []string{"Brands"},
	}, h.UpdateBrand)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteBrand",
		Method:        "DELETE",
		Path:          "/api/v1/brands/{id}",
		Summary:       "Delete a brand",
		Tags:          []string{"Brands"},
		DefaultStatus: 204,
	}, h.DeleteBrand)
}

// ListBrandsInput is the input for listing brands.
type ListBrandsInput struct{}

// ListBrandsOutput is the output for listing brands.
type ListBrandsOutput struct {
	Body struct {
		Success bool            `json:"success"`
		Items   []*models.Brand `json:"items"`
		Total   int             `json:"total"`
	}
}

// ListBrands returns all brands.
func (h *BrandHandler) ListBrands(ctx context.Context, input *ListBrandsInput) (*ListBrandsOutput, error) {
	items, err := h.brands.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch brands")
	}

	resp := &ListBrandsOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	resp.Body.Total = len(items)
	return resp, nil
}

// BrandBody carries the writable fields of a brand.
type BrandBody struct {
	Name        string            `json:"name" required:"true" maxLength:"100"`
	SearchTerms models.StringList `json:"search_terms"`
	Active      bool              `json:"active"`
	Category    string            `json:"category,omitempty" maxLength:"50"`
}

// CreateBrandInput is the input for creating a brand.
type CreateBrandInput struct {
	Body BrandBody
}

// BrandOutput wraps a single brand.
type BrandOutput struct {
	Body struct {
		Success bool          `json:"success"`
		Data    *models.Brand `json:"data"`
	}
}

// CreateBrand adds a brand to the vocabulary.
func (h *BrandHandler) CreateBrand(ctx context.Context, input *CreateBrandInput) (*BrandOutput, error) {
	brand := &models.Brand{
		Name:        input.Body.Name,
		SearchTerms: input.Body.SearchTerms,
		Active:      input.Body.Active,
		Category:    input.Body.Category,
	}

	if err := h.brands.Create(ctx, brand); err != nil {
		return nil, huma.Error500InternalServerError("Failed to create brand")
	}

	resp := &BrandOutput{}
	resp.Body.Success = true
	resp.Body.Data = brand
	return resp, nil
}

// GetBrandInput is the input for getting a brand.
type GetBrandInput struct {
	ID string `path:"id" required:"true"`
}

// GetBrand returns a specific brand by ID.
func (h *BrandHandler) GetBrand(ctx context.Context, input *GetBrandInput) (*BrandOutput, error) {
	brand, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := &BrandOutput{}
	resp.Body.Success = true
	resp.Body.Data = brand
	return resp, nil
}

// UpdateBrandInput is the input for updating a brand.
type UpdateBrandInput struct {
	ID   string `path:"id" required:"true"`
	Body BrandBody
}

// UpdateBrand updates a brand's vocabulary entry.
func (h *BrandHandler) UpdateBrand(ctx context.Context, input *UpdateBrandInput) (*BrandOutput, error) {
	brand, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	brand.Name = input.Body.Name
	brand.SearchTerms = input.Body.SearchTerms
	brand.Active = input.Body.Active
	brand.Category = input.Body.Category

	if err := h.brands.Update(ctx, brand); err != nil {
		return nil, huma.Error500InternalServerError("Failed to update brand")
	}

	resp := &BrandOutput{}
	resp.Body.Success = true
	resp.Body.Data = brand
	return resp, nil
}

// DeleteBrandInput is the input for deleting a brand.
type DeleteBrandInput struct {
	ID string `path:"id" required:"true"`
}

// DeleteBrandOutput is the output for deleting a brand.
type DeleteBrandOutput struct{}

// DeleteBrand removes a brand from the vocabulary.
func (h *BrandHandler) DeleteBrand(ctx context.Context, input *DeleteBrandInput) (*DeleteBrandOutput, error) {
	brand, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.brands.Delete(ctx, brand.ID); err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete brand")
	}
	return &DeleteBrandOutput{}, nil
}

func (h *BrandHandler) lookup(ctx context.Context, rawID string) (*models.Brand, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid brand ID")
	}

	brand, err := h.brands.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch brand")
	}
	if brand == nil {
		return nil, huma.Error404NotFound("Brand not found")
	}
	return brand, nil
}
