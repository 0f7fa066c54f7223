package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/engine/auth"
)

var communityErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func now(e *engine.Engine) string {
	return e.Clock.Now().UTC().Format(time.RFC3339)
}

func registerWebhooks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-webhooks",
		Method:      http.MethodGet,
		Path:        "/webhooks",
		Summary:     "List the caller's webhook registrations",
		Errors:      communityErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WebhookRegistration `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermMissionWrite)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListWebhooks(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WebhookRegistration `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-webhook",
		Method:        http.MethodPost,
		Path:          "/webhooks",
		Summary:       "Register a webhook missions are also posted to",
		DefaultStatus: http.StatusCreated,
		Errors:        communityErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateWebhookRequest `json:"body"`
	}) (*struct {
		Body domain.WebhookRegistration `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermMissionWrite)
		if err != nil {
			return nil, handleError(err)
		}
		w, err := domain.NewWebhookRegistration(principal.ActorID, input.Body.Name, input.Body.URL)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		w.CreatedAt = now(e)
		if err := e.Repo.InsertWebhook(ctx, w); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WebhookRegistration `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-webhook",
		Method:        http.MethodDelete,
		Path:          "/webhooks/{name}",
		Summary:       "Remove one of the caller's webhooks",
		DefaultStatus: http.StatusNoContent,
		Errors:        communityErrors,
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct{}, error) {
		principal, err := requirePermission(ctx, auth.PermMissionWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteWebhook(ctx, principal.ActorID, input.Name); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerNominations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tally-nominations",
		Method:      http.MethodGet,
		Path:        "/nominations",
		Summary:     "Nomination counts, most nominated first",
		Errors:      communityErrors,
	}, func(ctx context.Context, input *struct {
		NomineeID string `query:"nominee_id"`
	}) (*struct {
		Body []domain.NominationCount `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermCommunityAdmin); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListNominations(ctx, input.NomineeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.NominationCount `json:"body"`
		}{Body: domain.TallyNominations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-nomination",
		Method:        http.MethodPost,
		Path:          "/nominations",
		Summary:       "Nominate a member",
		DefaultStatus: http.StatusCreated,
		Errors:        communityErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateNominationRequest `json:"body"`
	}) (*struct {
		Body domain.Nomination `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermCommunityWrite)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := domain.NewNomination(principal.ActorID, input.Body.NomineeID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		if n.NomineeID == n.NominatorID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "cannot nominate yourself", nil)
		}
		n.CreatedAt = now(e)
		if err := e.Repo.InsertNomination(ctx, n); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Nomination `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-nomination",
		Method:        http.MethodDelete,
		Path:          "/nominations/{nominee_id}",
		Summary:       "Withdraw a nomination, or clear all of them with all=true",
		DefaultStatus: http.StatusNoContent,
		Errors:        communityErrors,
	}, func(ctx context.Context, input *struct {
		NomineeID string `path:"nominee_id"`
		All       bool   `query:"all"`
	}) (*struct{}, error) {
		if input.All {
			if _, err := requirePermission(ctx, auth.PermCommunityAdmin); err != nil {
				return nil, handleError(err)
			}
			if _, err := e.Repo.DeleteNominationsFor(ctx, input.NomineeID); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		}
		principal, err := requirePermission(ctx, auth.PermCommunityWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteNomination(ctx, principal.ActorID, input.NomineeID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCommunity(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-community-channels",
		Method:      http.MethodGet,
		Path:        "/community",
		Summary:     "List community channels",
		Errors:      communityErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.CommunityChannel `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermCarrierRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCommunityChannels(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CommunityChannel `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-community-channel",
		Method:        http.MethodPost,
		Path:          "/community",
		Summary:       "Record a community channel; each owner may hold one",
		DefaultStatus: http.StatusCreated,
		Errors:        communityErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCommunityChannelRequest `json:"body"`
	}) (*struct {
		Body domain.CommunityChannel `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermCommunityWrite)
		if err != nil {
			return nil, handleError(err)
		}
		owner := input.Body.OwnerID
		if owner == "" {
			owner = principal.ActorID
		}
		if owner != principal.ActorID {
			if err := auth.Require(principal.Roles, auth.PermCommunityAdmin); err != nil {
				return nil, handleError(err)
			}
		}
		c, err := domain.NewCommunityChannel(owner, input.Body.ChannelID, input.Body.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		c.CreatedAt = now(e)
		if err := e.Repo.InsertCommunityChannel(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CommunityChannel `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-community-channel",
		Method:        http.MethodDelete,
		Path:          "/community/{owner_id}",
		Summary:       "Remove a community channel record",
		DefaultStatus: http.StatusNoContent,
		Errors:        communityErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
	}) (*struct{}, error) {
		principal, err := requirePermission(ctx, auth.PermCommunityWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if input.OwnerID != principal.ActorID {
			if err := auth.Require(principal.Roles, auth.PermCommunityAdmin); err != nil {
				return nil, handleError(err)
			}
		}
		if err := e.Repo.DeleteCommunityChannel(ctx, input.OwnerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
