package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/hlsforge/internal/config"
	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/service"
)

// StreamHandler handles the stream catalogue endpoints.
type StreamHandler struct {
	streams *service.StreamService
	server  config.ServerConfig
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(streams *service.StreamService, server config.ServerConfig) *StreamHandler {
	return &StreamHandler{streams: streams, server: server}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Description: "Returns all uploaded streams, newest first",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Get stream",
		Description: "Returns a stream by ID",
		Tags:        []string{"Streams"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteStream",
		Method:        "DELETE",
		Path:          "/api/v1/streams/{id}",
		Summary:       "Delete stream",
		Description:   "Deletes a stream record and its HLS output",
		Tags:          []string{"Streams"},
		DefaultStatus: 204,
	}, h.Delete)
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []StreamResponse `json:"streams"`
		Total   int              `json:"total"`
	}
}

// List returns all streams.
func (h *StreamHandler) List(ctx context.Context, _ *ListStreamsInput) (*ListStreamsOutput, error) {
	streams, err := h.streams.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list streams", err)
	}

	resp := &ListStreamsOutput{}
	resp.Body.Streams = make([]StreamResponse, 0, len(streams))
	for _, s := range streams {
		resp.Body.Streams = append(resp.Body.Streams, StreamFromModel(s, h.server.PlaylistURL(s.ID)))
	}
	resp.Body.Total = len(resp.Body.Streams)
	return resp, nil
}

// GetStreamInput is the input for getting a stream.
type GetStreamInput struct {
	ID string `path:"id" doc:"Stream ID (UUID)"`
}

// GetStreamOutput is the output for getting a stream.
type GetStreamOutput struct {
	Body StreamResponse
}

// GetByID returns a stream by ID.
func (h *StreamHandler) GetByID(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	s, err := h.streams.Get(ctx, input.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	return &GetStreamOutput{Body: StreamFromModel(s, h.server.PlaylistURL(s.ID))}, nil
}

// DeleteStreamInput is the input for deleting a stream.
type DeleteStreamInput struct {
	ID string `path:"id" doc:"Stream ID (UUID)"`
}

// DeleteStreamOutput is the output for deleting a stream.
type DeleteStreamOutput struct{}

// Delete removes a stream and its output.
func (h *StreamHandler) Delete(ctx context.Context, input *DeleteStreamInput) (*DeleteStreamOutput, error) {
	err := h.streams.Delete(ctx, input.ID)
	switch {
	case err == nil:
		return &DeleteStreamOutput{}, nil
	case errors.Is(err, models.ErrNotFound):
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", input.ID))
	case errors.Is(err, service.ErrStreamBusy):
		return nil, huma.Error409Conflict(fmt.Sprintf("stream %s is still uploading", input.ID))
	default:
		return nil, huma.Error500InternalServerError("failed to delete stream", err)
	}
}
