package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camkit/internal/api/models"
	"github.com/smazurov/camkit/internal/metrics"
)

func (s *Server) registerMetricsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-metrics",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Capture Totals",
		Description: "Per-camera request, frame and byte totals. Prometheus exposition lives at /metrics.",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.MetricsResponse, error) {
		return &models.MetricsResponse{Body: models.MetricsData{Cameras: metrics.GetAllCameraMetrics()}}, nil
	})
}
