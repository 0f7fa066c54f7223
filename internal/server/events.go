package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/engine"
	"missionline/internal/engine/auth"
	"missionline/internal/maintenance"
	"missionline/internal/repo"
)

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"mission,channel,carrier,owner"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMaintenance(api huma.API, e *engine.Engine, sw *maintenance.Sweeper) {
	huma.Register(api, huma.Operation{
		OperationID: "run-inactivity-sweep",
		Method:      http.MethodPost,
		Path:        "/maintenance/sweep",
		Summary:     "Demote owners inactive past the threshold",
		Errors:      []int{http.StatusForbidden, http.StatusNotImplemented},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermMaintenance); err != nil {
			return nil, handleError(err)
		}
		if sw == nil {
			return nil, newAPIError(http.StatusNotImplemented, "not_configured", "inactivity sweep not configured", nil)
		}
		report, err := sw.Sweep(ctx)
		if err != nil && report.Owners == 0 {
			return nil, handleError(err)
		}
		body := SweepResponse{
			Owners:  report.Owners,
			Demoted: nonNilSlice(report.Demoted),
			Skipped: report.Skipped,
		}
		if err != nil {
			// Per-owner failures; the rest of the sweep went through.
			body.Error = err.Error()
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recover-orphans",
		Method:      http.MethodPost,
		Path:        "/maintenance/recover",
		Summary:     "Schedule teardown of mission channels with no mission",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RecoverResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermMaintenance); err != nil {
			return nil, handleError(err)
		}
		orphans, err := e.Recover(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecoverResponse `json:"body"`
		}{Body: RecoverResponse{Orphans: nonNilSlice(orphans)}}, nil
	})
}
