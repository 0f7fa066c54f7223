package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/destination"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/engine/auth"
	"missionline/internal/repo"
)

var missionErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
}

type missionResultOutput struct {
	Body MissionResultResponse `json:"body"`
}

func registerMissions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List active missions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Mission `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermMissionRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Missions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Mission `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/carriers/{carrier}/mission",
		Summary:     "Get a carrier's active mission",
		Errors:      missionErrors,
	}, func(ctx context.Context, input *CarrierParam) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermMissionRead); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.FindCarrier(ctx, input.Carrier, repo.FieldShortName)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.FindMissionByCarrierID(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission-state",
		Method:      http.MethodGet,
		Path:        "/carriers/{carrier}/state",
		Summary:     "Lifecycle state of a carrier",
		Errors:      missionErrors,
	}, func(ctx context.Context, input *CarrierParam) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermMissionRead); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.FindCarrier(ctx, input.Carrier, repo.FieldShortName)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := e.State(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: StateResponse{Carrier: c.LongName, State: state}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-mission",
		Method:        http.MethodPost,
		Path:          "/carriers/{carrier}/mission",
		Summary:       "Generate and publish a mission",
		DefaultStatus: http.StatusCreated,
		Errors:        missionErrors,
	}, func(ctx context.Context, input *struct {
		CarrierParam
		Body GenerateMissionRequest `json:"body"`
	}) (*missionResultOutput, error) {
		principal, c, err := requireCarrier(ctx, e, input.Carrier, auth.PermMissionWrite)
		if err != nil {
			return nil, handleError(err)
		}
		raw := input.Body.Targets
		if strings.TrimSpace(raw) == "" {
			raw = "chat"
		}
		targets, err := domain.ParseTargets(raw)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"targets": raw})
		}
		res, err := e.Generate(ctx, engine.GenerateRequest{
			Carrier:      c.ShortName,
			Field:        repo.FieldShortName,
			Input:        input.Body.input(),
			Targets:      targets,
			ActorID:      principal.ActorID,
			ReplyChannel: input.Body.ReplyChannel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResultOutput{Body: missionResult(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-mission",
		Method:      http.MethodPatch,
		Path:        "/carriers/{carrier}/mission",
		Summary:     "Edit the active mission",
		Errors:      missionErrors,
	}, func(ctx context.Context, input *struct {
		CarrierParam
		Body EditMissionRequest `json:"body"`
	}) (*missionResultOutput, error) {
		principal, c, err := requireCarrier(ctx, e, input.Carrier, auth.PermMissionWrite)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.Edit(ctx, engine.EditRequest{
			Carrier:      c.ShortName,
			Field:        repo.FieldShortName,
			Input:        input.Body.input(),
			ActorID:      principal.ActorID,
			ReplyChannel: input.Body.ReplyChannel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResultOutput{Body: missionResult(res)}, nil
	})

	conclude := func(outcome destination.Outcome) func(context.Context, *concludeInput) (*missionResultOutput, error) {
		return func(ctx context.Context, input *concludeInput) (*missionResultOutput, error) {
			principal, c, err := requireCarrier(ctx, e, input.Carrier, auth.PermMissionWrite)
			if err != nil {
				return nil, handleError(err)
			}
			res, err := e.Conclude(ctx, engine.ConcludeRequest{
				Carrier: c.ShortName,
				Field:   repo.FieldShortName,
				Outcome: outcome,
				Reason:  input.Body.reason(),
				ActorID: principal.ActorID,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &missionResultOutput{Body: missionResult(res)}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "complete-mission",
		Method:      http.MethodPost,
		Path:        "/carriers/{carrier}/mission/complete",
		Summary:     "Mark the mission complete and retire it",
		Errors:      missionErrors,
	}, conclude(destination.OutcomeComplete))
	huma.Register(api, huma.Operation{
		OperationID: "fail-mission",
		Method:      http.MethodPost,
		Path:        "/carriers/{carrier}/mission/fail",
		Summary:     "Abandon the mission with a reason",
		Errors:      missionErrors,
	}, conclude(destination.OutcomeFailed))
}

// concludeInput takes an optional body; a plain POST concludes without a reason.
type concludeInput struct {
	CarrierParam
	Body *ConcludeMissionRequest
}
