package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// LEDStatusResponse describes the indicator LED.
type LEDStatusResponse struct {
	Body struct {
		Indicator         string   `json:"indicator" example:"system" doc:"LED type showing capture state, empty when the board has none"`
		Pattern           string   `json:"pattern" example:"solid" doc:"Pattern last applied: solid, heartbeat or off"`
		AvailableTypes    []string `json:"available_types" doc:"LED types on this board"`
		AvailablePatterns []string `json:"available_patterns" doc:"Patterns supported on this board"`
	}
}

func (s *Server) registerLEDRoutes() {
	if s.options.LEDManager == nil {
		s.logger.Debug("LED manager not available, skipping LED routes")
		return
	}
	mgr := s.options.LEDManager

	huma.Register(s.api, huma.Operation{
		OperationID: "get-led",
		Method:      http.MethodGet,
		Path:        "/api/led",
		Summary:     "Indicator LED",
		Description: "Get the capture indicator LED and the LED capabilities of this board",
		Tags:        []string{"leds"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*LEDStatusResponse, error) {
		resp := &LEDStatusResponse{}
		ctrl := mgr.Controller()
		resp.Body.Indicator = mgr.Indicator()
		resp.Body.Pattern = mgr.Pattern()
		resp.Body.AvailableTypes = ctrl.Available()
		resp.Body.AvailablePatterns = ctrl.Patterns()
		return resp, nil
	})
}
