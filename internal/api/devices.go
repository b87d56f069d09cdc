package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camkit/internal/api/models"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Media Devices",
		Description: "List media devices known to the enumerator and whether a pipeline handler claimed them",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.DevicesResponse, error) {
		devices := []models.DeviceInfo{}
		if s.options.Cameras != nil {
			got, err := s.options.Cameras.Devices(ctx)
			if err != nil {
				s.logger.Warn("Failed to snapshot devices", "error", err)
				return nil, huma.Error503ServiceUnavailable("Capture session not responding", err)
			}
			devices = append(devices, got...)
		}
		return &models.DevicesResponse{Body: models.DevicesData{Devices: devices, Count: len(devices)}}, nil
	})
}
