package server

import (
	"encoding/json"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
)

// Request payloads

type CreateCarrierRequest struct {
	LongName    string `json:"long_name" example:"P.T.N. Hot Pocket"`
	ShortName   string `json:"short_name" example:"hotpocket"`
	Code        string `json:"code" example:"H0T-P0K"`
	OwnerID     string `json:"owner_id"`
	ChannelName string `json:"channel_name,omitempty" doc:"Defaults to short_name"`
}

type UpdateCarrierRequest struct {
	LongName    *string `json:"long_name,omitempty"`
	ShortName   *string `json:"short_name,omitempty"`
	Code        *string `json:"code,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
	ChannelName *string `json:"channel_name,omitempty"`
}

func (r UpdateCarrierRequest) update() repo.CarrierUpdate {
	return repo.CarrierUpdate{
		LongName:    r.LongName,
		ShortName:   r.ShortName,
		Code:        r.Code,
		OwnerID:     r.OwnerID,
		ChannelName: r.ChannelName,
	}
}

// MissionInput carries user-typed mission fields; values are parsed server side
// so "15k" and "l" work the same as in chat.
type MissionInput struct {
	Kind      string `json:"kind,omitempty" example:"load"`
	Commodity string `json:"commodity,omitempty" example:"gold"`
	Station   string `json:"station,omitempty"`
	System    string `json:"system,omitempty"`
	Profit    string `json:"profit,omitempty" example:"15k"`
	Pads      string `json:"pads,omitempty" example:"L"`
	Demand    string `json:"demand,omitempty" example:"20k"`
	RPText    string `json:"rp_text,omitempty"`
}

func (m MissionInput) input() engine.Input {
	return engine.Input{
		Kind:      m.Kind,
		Commodity: m.Commodity,
		Station:   m.Station,
		System:    m.System,
		Profit:    m.Profit,
		Pads:      m.Pads,
		Demand:    m.Demand,
		RPText:    m.RPText,
	}
}

type GenerateMissionRequest struct {
	MissionInput
	Targets      string `json:"targets,omitempty" default:"chat" example:"chat,discussion,webhooks"`
	ReplyChannel string `json:"reply_channel,omitempty"`
}

type EditMissionRequest struct {
	MissionInput
	ReplyChannel string `json:"reply_channel,omitempty"`
}

type ConcludeMissionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r *ConcludeMissionRequest) reason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

type CreateWebhookRequest struct {
	Name string `json:"name"`
	URL  string `json:"url" format:"uri"`
}

type CreateNominationRequest struct {
	NomineeID string `json:"nominee_id"`
	Note      string `json:"note,omitempty"`
}

type CreateCommunityChannelRequest struct {
	OwnerID   string `json:"owner_id,omitempty" doc:"Defaults to the caller"`
	ChannelID string `json:"channel_id"`
	RoleID    string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type MissionResultResponse struct {
	Mission   domain.Mission  `json:"mission"`
	Persisted bool            `json:"persisted"`
	Notices   []engine.Notice `json:"notices"`
}

func missionResult(res engine.Result) MissionResultResponse {
	return MissionResultResponse{
		Mission:   res.Mission,
		Persisted: res.Persisted,
		Notices:   nonNilSlice(res.Notices),
	}
}

type StateResponse struct {
	Carrier string       `json:"carrier"`
	State   engine.State `json:"state"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type SweepResponse struct {
	Owners  int      `json:"owners"`
	Demoted []string `json:"demoted"`
	Skipped bool     `json:"skipped"`
	Error   string   `json:"error,omitempty"`
}

type RecoverResponse struct {
	Orphans []string `json:"orphans"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
