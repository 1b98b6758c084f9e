package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// StreamHandler handles stream management endpoints.
type StreamHandler struct {
	streams repository.StreamRepository
	logger  *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(streams repository.StreamRepository, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{streams: streams, logger: logger}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Tags:        []string{"Streams"},
	}, h.ListStreams)

	huma.Register(api, huma.Operation{
		OperationID:   "createStream",
		Method:        "POST",
		Path:          "/api/v1/streams",
		Summary:       "Create a stream",
		Tags:          []string{"Streams"},
		DefaultStatus: 201,
	}, h.CreateStream)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Get a stream by ID",
		Tags:        []string{"Streams"},
	}, h.GetStream)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PUT",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Update a stream",
		Tags:        []string{"Streams"},
	}, h.UpdateStream)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteStream",
		Method:        "DELETE",
		Path:          "/api/v1/streams/{id}",
		Summary:       "Delete a stream",
		Tags:          []string{"Streams"},
		DefaultStatus: 204,
	}, h.DeleteStream)

	huma.Register(api, huma.Operation{
		OperationID: "startStream",
		Method:      "POST",
		Path:        "/api/v1/streams/{id}/start",
		Summary:     "Start a stream",
		Description: "Activates the stream and mints a fresh session ID. Only one stream can be active at a time.",
		Tags:        []string{"Streams"},
	}, h.StartStream)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      "POST",
		Path:        "/api/v1/streams/{id}/stop",
		Summary:     "Stop a stream",
		Tags:        []string{"Streams"},
	}, h.StopStream)
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Success bool             `json:"success"`
		Items   []*models.Stream `json:"items"`
		Total   int              `json:"total"`
	}
}

// ListStreams returns all declared streams.
func (h *StreamHandler) ListStreams(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	streams, err := h.streams.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch streams")
	}

	resp := &ListStreamsOutput{}
	resp.Body.Success = true
	resp.Body.Items = streams
	resp.Body.Total = len(streams)
	return resp, nil
}

// StreamBody carries the writable fields of a stream.
type StreamBody struct {
	Name       string            `json:"name" required:"true" maxLength:"200"`
	StreamKey  string            `json:"stream_key" required:"true" maxLength:"64"`
	SourceType models.SourceType `json:"source_type,omitempty" enum:"rtmp,file,webcam"`
	SourceURL  string            `json:"source_url,omitempty" maxLength:"500"`
	SourcePath string            `json:"source_path,omitempty" maxLength:"500"`
}

// CreateStreamInput is the input for creating a stream.
type CreateStreamInput struct {
	Body StreamBody
}

// StreamOutput wraps a single stream.
type StreamOutput struct {
	Body struct {
		Success bool           `json:"success"`
		Data    *models.Stream `json:"data"`
	}
}

// CreateStream declares a new stream.
func (h *StreamHandler) CreateStream(ctx context.Context, input *CreateStreamInput) (*StreamOutput, error) {
	stream := &models.Stream{
		Name:       input.Body.Name,
		StreamKey:  input.Body.StreamKey,
		SourceType: input.Body.SourceType,
		SourceURL:  input.Body.SourceURL,
		SourcePath: input.Body.SourcePath,
	}
	if stream.SourceType == "" {
		stream.SourceType = models.SourceTypeRTMP
	}

	if existing, err := h.streams.GetByKey(ctx, stream.StreamKey); err != nil {
		return nil, huma.Error500InternalServerError("Failed to check stream key")
	} else if existing != nil {
		return nil, huma.Error409Conflict("A stream with this key already exists")
	}

	if err := h.streams.Create(ctx, stream); err != nil {
		return nil, huma.Error500InternalServerError("Failed to create stream")
	}

	resp := &StreamOutput{}
	resp.Body.Success = true
	resp.Body.Data = stream
	return resp, nil
}

// GetStreamInput is the input for getting a stream.
type GetStreamInput struct {
	ID string `path:"id" required:"true"`
}

// GetStream returns a specific stream by ID.
func (h *StreamHandler) GetStream(ctx context.Context, input *GetStreamInput) (*StreamOutput, error) {
	stream, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := &StreamOutput{}
	resp.Body.Success = true
	resp.Body.Data = stream
	return resp, nil
}

// UpdateStreamInput is the input for updating a stream.
type UpdateStreamInput struct {
	ID   string `path:"id" required:"true"`
	Body StreamBody
}

// UpdateStream updates a stream's declaration.
func (h *StreamHandler) UpdateStream(ctx context.Context, input *UpdateStreamInput) (*StreamOutput, error) {
	stream, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	stream.Name = input.Body.Name
	stream.StreamKey = input.Body.StreamKey
	if input.Body.SourceType != "" {
		stream.SourceType = input.Body.SourceType
	}
	stream.SourceURL = input.Body.SourceURL
	stream.SourcePath = input.Body.SourcePath

	if err := h.streams.Update(ctx, stream); err != nil {
		return nil, huma.Error500InternalServerError("Failed to update stream")
	}

	resp := &StreamOutput{}
	resp.Body.Success = true
	resp.Body.Data = stream
	return resp, nil
}

// DeleteStreamInput is the input for deleting a stream.
type DeleteStreamInput struct {
	ID string `path:"id" required:"true"`
}

// DeleteStreamOutput is the output for deleting a stream.
type DeleteStreamOutput struct{}

// DeleteStream removes a stream declaration.
func (h *StreamHandler) DeleteStream(ctx context.Context, input *DeleteStreamInput) (*DeleteStreamOutput, error) {
	stream, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if stream.IsActive() {
		return nil, huma.Error409Conflict("Stop the stream before deleting it")
	}

	if err := h.streams.Delete(ctx, stream.ID); err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete stream")
	}
	return &DeleteStreamOutput{}, nil
}

// StartStreamInput is the input for starting a stream.
type StartStreamInput struct {
	ID string `path:"id" required:"true"`
}

// StartStream activates a stream.
func (h *StreamHandler) StartStream(ctx context.Context, input *StartStreamInput) (*StreamOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid stream ID")
	}

	stream, err := h.streams.Activate(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, huma.Error404NotFound("Stream not found")
		case errors.Is(err, models.ErrStreamAlreadyActive):
			return nil, huma.Error409Conflict("Another stream is already active")
		}
		return nil, huma.Error500InternalServerError("Failed to start stream")
	}

	h.logger.Info("stream started",
		slog.String("stream_key", stream.StreamKey),
		slog.String("session_id", stream.SessionID))

	resp := &StreamOutput{}
	resp.Body.Success = true
	resp.Body.Data = stream
	return resp, nil
}

// StopStreamInput is the input for stopping a stream.
type StopStreamInput struct {
	ID string `path:"id" required:"true"`
}

// StopStream deactivates a stream.
func (h *StreamHandler) StopStream(ctx context.Context, input *StopStreamInput) (*StreamOutput, error) {
	stream, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.streams.Deactivate(ctx, stream.ID, models.StreamStatusInactive); err != nil {
		return nil, huma.Error500InternalServerError("Failed to stop stream")
	}

	h.logger.Info("stream stopped", slog.String("stream_key", stream.StreamKey))

	stream.Status = models.StreamStatusInactive
	stream.SessionID = ""

	resp := &StreamOutput{}
	resp.Body.Success = true
	resp.Body.Data = stream
	return resp, nil
}

func (h *StreamHandler) lookup(ctx context.Context, rawID string) (*models.Stream, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid stream ID")
	}

	stream, err := h.streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch stream")
	}
	if stream == nil {
		return nil, huma.Error404NotFound("Stream not found")
	}
	return stream, nil
}
