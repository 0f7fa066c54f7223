package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/engine/auth"
	"missionline/internal/repo"
)

type CarrierParam struct {
	Carrier string `path:"carrier" doc:"Carrier short name or a unique part of it"`
}

var carrierErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerCarriers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-carriers",
		Method:      http.MethodGet,
		Path:        "/carriers",
		Summary:     "List or search carriers",
		Errors:      carrierErrors,
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
		Field string `query:"field" enum:"short_name,long_name,code,owner" default:"short_name"`
	}) (*struct {
		Body []domain.Carrier `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermCarrierRead); err != nil {
			return nil, handleError(err)
		}
		var (
			items []domain.Carrier
			err   error
		)
		if strings.TrimSpace(input.Query) == "" {
			items, err = e.Repo.ListCarriers(ctx)
		} else {
			items, err = e.Repo.FindCarriers(ctx, input.Query, repo.CarrierField(input.Field))
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Carrier `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-carrier",
		Method:      http.MethodGet,
		Path:        "/carriers/{carrier}",
		Summary:     "Get carrier",
		Errors:      carrierErrors,
	}, func(ctx context.Context, input *CarrierParam) (*struct {
		Body domain.Carrier `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermCarrierRead); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.FindCarrier(ctx, input.Carrier, repo.FieldShortName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Carrier `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-carrier",
		Method:        http.MethodPost,
		Path:          "/carriers",
		Summary:       "Register a carrier",
		DefaultStatus: http.StatusCreated,
		Errors:        carrierErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCarrierRequest `json:"body"`
	}) (*struct {
		Body domain.Carrier `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermCarrierWrite)
		if err != nil {
			return nil, handleError(err)
		}
		channel := input.Body.ChannelName
		if strings.TrimSpace(channel) == "" {
			channel = input.Body.ShortName
		}
		c, err := e.AddCarrier(ctx, domain.Carrier{
			LongName:    input.Body.LongName,
			ShortName:   input.Body.ShortName,
			Code:        input.Body.Code,
			OwnerID:     input.Body.OwnerID,
			ChannelName: channel,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Carrier `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-carrier",
		Method:      http.MethodPatch,
		Path:        "/carriers/{carrier}",
		Summary:     "Edit carrier",
		Errors:      carrierErrors,
	}, func(ctx context.Context, input *struct {
		CarrierParam
		Body UpdateCarrierRequest `json:"body"`
	}) (*struct {
		Body domain.Carrier `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermCarrierWrite)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.FindCarrier(ctx, input.Carrier, repo.FieldShortName)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.EditCarrier(ctx, c.ID, input.Body.update(), principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Carrier `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-carrier",
		Method:        http.MethodDelete,
		Path:          "/carriers/{carrier}",
		Summary:       "Delete carrier",
		DefaultStatus: http.StatusNoContent,
		Errors:        carrierErrors,
	}, func(ctx context.Context, input *CarrierParam) (*struct{}, error) {
		principal, err := requirePermission(ctx, auth.PermCarrierWrite)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.FindCarrier(ctx, input.Carrier, repo.FieldShortName)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteCarrier(ctx, c.ID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
