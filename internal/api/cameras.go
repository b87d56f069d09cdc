package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camkit/internal/api/models"
)

// CameraInput selects a camera by ID.
type CameraInput struct {
	ID string `path:"id" example:"vivid-000-vid-cap" doc:"Camera identifier"`
}

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "List registered cameras with their state, streams, controls and properties",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.CamerasResponse, error) {
		cams, err := s.cameras(ctx)
		if err != nil {
			return nil, err
		}
		return &models.CamerasResponse{Body: models.CamerasData{Cameras: cams, Count: len(cams)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}",
		Summary:     "Get Camera",
		Description: "Get one camera by identifier",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(ctx context.Context, input *CameraInput) (*models.CameraResponse, error) {
		cams, err := s.cameras(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range cams {
			if c.ID == input.ID {
				return &models.CameraResponse{Body: c}, nil
			}
		}
		return nil, huma.Error404NotFound("Camera not found", errors.Join(ErrCameraNotFound, errors.New(input.ID)))
	})
}

func (s *Server) cameras(ctx context.Context) ([]models.CameraInfo, error) {
	if s.options.Cameras == nil {
		return []models.CameraInfo{}, nil
	}
	cams, err := s.options.Cameras.Cameras(ctx)
	if err != nil {
		s.logger.Warn("Failed to snapshot cameras", "error", err)
		return nil, huma.Error503ServiceUnavailable("Capture session not responding", err)
	}
	if cams == nil {
		cams = []models.CameraInfo{}
	}
	return cams, nil
}
