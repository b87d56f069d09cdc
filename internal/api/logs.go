package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camkit/internal/api/models"
	"github.com/smazurov/camkit/internal/logging"
)

// LogsInput filters the recent log entries.
type LogsInput struct {
	Limit  int    `query:"limit" default:"100" minimum:"0" maximum:"1000" doc:"Newest entries to return, 0 for all"`
	Module string `query:"module" example:"camera" doc:"Only entries of this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" doc:"Minimum level"`
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Return recent log entries from the in-memory history",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *LogsInput) (*models.LogsResponse, error) {
		entries := logging.History().Tail(0)
		filtered := make([]logging.LogEntry, 0, len(entries))
		for _, e := range entries {
			if input.Module != "" && e.Module != input.Module {
				continue
			}
			if input.Level != "" && levelRank[strings.ToLower(e.Level)] < levelRank[input.Level] {
				continue
			}
			filtered = append(filtered, e)
		}
		if input.Limit > 0 && len(filtered) > input.Limit {
			filtered = filtered[len(filtered)-input.Limit:]
		}
		return &models.LogsResponse{Body: models.LogsData{Entries: filtered, Count: len(filtered)}}, nil
	})
}
