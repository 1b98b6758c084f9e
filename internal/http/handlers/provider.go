package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/providers"
	"github.com/segsight/segsight/internal/repository"
)

// ProviderHandler handles provider management endpoints. Mutations trigger a
// registry reload so bindings take effect without a restart.
type ProviderHandler struct {
	providers repository.ProviderRepository
	registry  *providers.Registry
	logger    *slog.Logger
}

// NewProviderHandler creates a new provider handler.
func NewProviderHandler(repo repository.ProviderRepository, registry *providers.Registry, logger *slog.Logger) *ProviderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderHandler{providers: repo, registry: registry, logger: logger}
}

// Register registers the provider routes with the API.
func (h *ProviderHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listProviders",
		Method:      "GET",
		Path:        "/api/v1/providers",
		Summary:     "List providers",
		Tags:        []string{"Providers"},
	}, h.ListProviders)

	huma.Register(api, huma.Operation{
		OperationID:   "createProvider",
		Method:        "POST",
		Path:          "/api/v1/providers",
		Summary:       "Create a provider",
		Tags:          []string{"Providers"},
		DefaultStatus: 201,
	}, h.CreateProvider)

	huma.Register(api, huma.Operation{
		OperationID: "getProvider",
		Method:      "GET",
		Path:        "/api/v1/providers/{id}",
		Summary:     "Get a provider by ID",
		Tags:        []string{"Providers"},
	}, h.GetProvider)

	huma.Register(api, huma.Operation{
		OperationID: "updateProvider",
		Method:      "PUT",
		Path:        "/api/v1/providers/{id}",
		Summary:     "Update a provider",
		Tags:        []string{"Providers"},
	}, h.UpdateProvider)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteProvider",
		Method:        "DELETE",
		Path:          "/api/v1/providers/{id}",
		Summary:       "Delete a provider",
		Tags:          []string{"Providers"},
		DefaultStatus: 204,
	}, h.DeleteProvider)

	huma.Register(api, huma.Operation{
		OperationID: "activateProvider",
		Method:      "POST",
		Path:        "/api/v1/providers/{id}/activate",
		Summary:     "Activate a provider",
		Description: "Fails when another active provider already claims one of its capabilities.",
		Tags:        []string{"Providers"},
	}, h.ActivateProvider)

	huma.Register(api, huma.Operation{
		OperationID: "deactivateProvider",
		Method:      "POST",
		Path:        "/api/v1/providers/{id}/deactivate",
		Summary:     "Deactivate a provider",
		Tags:        []string{"Providers"},
	}, h.DeactivateProvider)

	huma.Register(api, huma.Operation{
		OperationID: "reloadProviders",
		Method:      "POST",
		Path:        "/api/v1/providers/reload",
		Summary:     "Reload provider bindings",
		Description: "Rebuilds the capability-to-provider bindings from the database and refreshes the disk mirror.",
		Tags:        []string{"Providers"},
	}, h.ReloadProviders)

	huma.Register(api, huma.Operation{
		OperationID: "getProviderBindings",
		Method:      "GET",
		Path:        "/api/v1/providers/bindings",
		Summary:     "Get active capability bindings",
		Tags:        []string{"Providers"},
	}, h.GetBindings)
}

// ListProvidersInput is the input for listing providers.
type ListProvidersInput struct{}

// ListProvidersOutput is the output for listing providers.
type ListProvidersOutput struct {
	Body struct {
		Success bool               `json:"success"`
		Items   []*models.Provider `json:"items"`
		Total   int                `json:"total"`
	}
}

// ListProviders returns all declared providers.
func (h *ProviderHandler) ListProviders(ctx context.Context, input *ListProvidersInput) (*ListProvidersOutput, error) {
	items, err := h.providers.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch providers")
	}

	resp := &ListProvidersOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	resp.Body.Total = len(items)
	return resp, nil
}

// ProviderBody carries the writable fields of a provider.
type ProviderBody struct {
	Name            string                `json:"name" required:"true" maxLength:"100"`
	ProviderType    models.ProviderType   `json:"provider_type" required:"true"`
	ModelIdentifier string                `json:"model_identifier,omitempty" maxLength:"200"`
	Capabilities    models.CapabilityList `json:"capabilities"`
	APIConfig       models.APIConfig      `json:"api_config,omitempty"`
	Active          bool                  `json:"active"`
}

// CreateProviderInput is the input for creating a provider.
type CreateProviderInput struct {
	Body ProviderBody
}

// ProviderOutput wraps a single provider.
type ProviderOutput struct {
	Body struct {
		Success bool             `json:"success"`
		Data    *models.Provider `json:"data"`
	}
}

// CreateProvider declares a new provider.
func (h *ProviderHandler) CreateProvider(ctx context.Context, input *CreateProviderInput) (*ProviderOutput, error) {
	if existing, err := h.providers.GetByName(ctx, input.Body.Name); err != nil {
		return nil, huma.Error500InternalServerError("Failed to check provider name")
	} else if existing != nil {
		return nil, huma.Error409Conflict("A provider with this name already exists")
	}

	provider := &models.Provider{
		Name:            input.Body.Name,
		ProviderType:    input.Body.ProviderType,
		ModelIdentifier: input.Body.ModelIdentifier,
		Capabilities:    input.Body.Capabilities,
		APIConfig:       input.Body.APIConfig,
		Active:          input.Body.Active,
	}
	if err := provider.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	if err := h.providers.Create(ctx, provider); err != nil {
		return nil, huma.Error500InternalServerError("Failed to create provider")
	}
	h.reload(ctx)

	resp := &ProviderOutput{}
	resp.Body.Success = true
	resp.Body.Data = provider
	return resp, nil
}

// GetProviderInput is the input for getting a provider.
type GetProviderInput struct {
	ID string `path:"id" required:"true"`
}

// GetProvider returns a specific provider by ID.
func (h *ProviderHandler) GetProvider(ctx context.Context, input *GetProviderInput) (*ProviderOutput, error) {
	provider, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := &ProviderOutput{}
	resp.Body.Success = true
	resp.Body.Data = provider
	return resp, nil
}

// UpdateProviderInput is the input for updating a provider.
type UpdateProviderInput struct {
	ID   string `path:"id" required:"true"`
	Body ProviderBody
}

// UpdateProvider updates a provider's configuration.
func (h *ProviderHandler) UpdateProvider(ctx context.Context, input *UpdateProviderInput) (*ProviderOutput, error) {
	provider, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	provider.Name = input.Body.Name
	provider.ProviderType = input.Body.ProviderType
	provider.ModelIdentifier = input.Body.ModelIdentifier
	provider.Capabilities = input.Body.Capabilities
	provider.APIConfig = input.Body.APIConfig

	if err := provider.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.providers.Update(ctx, provider); err != nil {
		return nil, huma.Error500InternalServerError("Failed to update provider")
	}
	h.reload(ctx)

	resp := &ProviderOutput{}
	resp.Body.Success = true
	resp.Body.Data = provider
	return resp, nil
}

// DeleteProviderInput is the input for deleting a provider.
type DeleteProviderInput struct {
	ID string `path:"id" required:"true"`
}

// DeleteProviderOutput is the output for deleting a provider.
type DeleteProviderOutput struct{}

// DeleteProvider removes a provider.
func (h *ProviderHandler) DeleteProvider(ctx context.Context, input *DeleteProviderInput) (*DeleteProviderOutput, error) {
	provider, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.providers.Delete(ctx, provider.ID); err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete provider")
	}
	h.reload(ctx)
	return &DeleteProviderOutput{}, nil
}

// SetActiveInput is the input for toggling a provider.
type SetActiveInput struct {
	ID string `path:"id" required:"true"`
}

// ActivateProvider activates a provider.
func (h *ProviderHandler) ActivateProvider(ctx context.Context, input *SetActiveInput) (*ProviderOutput, error) {
	return h.setActive(ctx, input.ID, true)
}

// DeactivateProvider deactivates a provider.
func (h *ProviderHandler) DeactivateProvider(ctx context.Context, input *SetActiveInput) (*ProviderOutput, error) {
	return h.setActive(ctx, input.ID, false)
}

func (h *ProviderHandler) setActive(ctx context.Context, rawID string, active bool) (*ProviderOutput, error) {
	provider, err := h.lookup(ctx, rawID)
	if err != nil {
		return nil, err
	}

	if err := h.providers.SetActive(ctx, provider.ID, active); err != nil {
		if errors.Is(err, models.ErrCapabilityClaimed) {
			return nil, huma.Error409Conflict("Another active provider already claims one of this provider's capabilities")
		}
		return nil, huma.Error500InternalServerError("Failed to toggle provider")
	}
	h.reload(ctx)

	provider.Active = active
	resp := &ProviderOutput{}
	resp.Body.Success = true
	resp.Body.Data = provider
	return resp, nil
}

// ReloadProvidersInput is the input for reloading provider bindings.
type ReloadProvidersInput struct{}

// ReloadProvidersOutput is the output for reloading provider bindings.
type ReloadProvidersOutput struct {
	Body struct {
		Success      bool                `json:"success"`
		Capabilities []models.Capability `json:"capabilities"`
		LoadedAt     time.Time           `json:"loaded_at"`
	}
}

// ReloadProviders rebuilds the capability bindings from the database.
func (h *ProviderHandler) ReloadProviders(ctx context.Context, input *ReloadProvidersInput) (*ReloadProvidersOutput, error) {
	if err := h.registry.Reload(ctx); err != nil {
		return nil, huma.Error500InternalServerError("Failed to reload provider bindings")
	}

	snapshot := h.registry.Current()
	resp := &ReloadProvidersOutput{}
	resp.Body.Success = true
	resp.Body.Capabilities = snapshot.ActiveCapabilities()
	resp.Body.LoadedAt = snapshot.LoadedAt()
	return resp, nil
}

// GetBindingsInput is the input for getting capability bindings.
type GetBindingsInput struct{}

// CapabilityBinding describes which provider serves a capability.
type CapabilityBinding struct {
	Capability   models.Capability   `json:"capability"`
	ProviderID   models.ULID         `json:"provider_id"`
	ProviderName string              `json:"provider_name"`
	ProviderType models.ProviderType `json:"provider_type"`
}

// GetBindingsOutput is the output for getting capability bindings.
type GetBindingsOutput struct {
	Body struct {
		Success  bool                `json:"success"`
		Bindings []CapabilityBinding `json:"bindings"`
		LoadedAt time.Time           `json:"loaded_at,omitempty"`
	}
}

// GetBindings returns the active capability-to-provider bindings.
func (h *ProviderHandler) GetBindings(ctx context.Context, input *GetBindingsInput) (*GetBindingsOutput, error) {
	snapshot := h.registry.Current()

	resp := &GetBindingsOutput{}
	resp.Body.Success = true
	resp.Body.Bindings = []CapabilityBinding{}
	if snapshot == nil {
		return resp, nil
	}

	for _, c := range snapshot.ActiveCapabilities() {
		provider, ok := snapshot.Get(c)
		if !ok {
			continue
		}
		resp.Body.Bindings = append(resp.Body.Bindings, CapabilityBinding{
			Capability:   c,
			ProviderID:   provider.ID,
			ProviderName: provider.Name,
			ProviderType: provider.ProviderType,
		})
	}
	resp.Body.LoadedAt = snapshot.LoadedAt()
	return resp, nil
}

// reload refreshes the registry after a mutation. Failures are logged, not
// surfaced: the mutation itself committed.
func (h *ProviderHandler) reload(ctx context.Context) {
	if h.registry == nil {
		return
	}
	if err := h.registry.Reload(ctx); err != nil {
		h.logger.Warn("provider registry reload failed", slog.String("error", err.Error()))
	}
}

func (h *ProviderHandler) lookup(ctx context.Context, rawID string) (*models.Provider, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid provider ID")
	}

	provider, err := h.providers.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch provider")
	}
	if provider == nil {
		return nil, huma.Error404NotFound("Provider not found")
	}
	return provider, nil
}
