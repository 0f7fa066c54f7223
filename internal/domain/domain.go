package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMissingField is wrapped by every constructor that rejects an empty required field.
var ErrMissingField = errors.New("missing required field")

func missing(record, field string) error {
	return fmt.Errorf("%s: %s: %w", record, field, ErrMissingField)
}

type Carrier struct {
	ID          int64  `json:"id"`
	LongName    string `json:"long_name"`
	ShortName   string `json:"short_name"`
	Code        string `json:"code"`
	OwnerID     string `json:"owner_id"`
	ChannelName string `json:"channel_name"`
	LastTrade   int64  `json:"last_trade"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

func NewCarrier(longName, shortName, code, ownerID, channelName string) (Carrier, error) {
	c := Carrier{
		LongName:    strings.TrimSpace(longName),
		ShortName:   strings.TrimSpace(shortName),
		Code:        strings.ToUpper(strings.TrimSpace(code)),
		OwnerID:     strings.TrimSpace(ownerID),
		ChannelName: strings.TrimSpace(channelName),
	}
	switch {
	case c.LongName == "":
		return Carrier{}, missing("carrier", "long_name")
	case c.ShortName == "":
		return Carrier{}, missing("carrier", "short_name")
	case c.Code == "":
		return Carrier{}, missing("carrier", "code")
	case c.OwnerID == "":
		return Carrier{}, missing("carrier", "owner_id")
	case c.ChannelName == "":
		return Carrier{}, missing("carrier", "channel_name")
	}
	return c, nil
}

type MissionKind string

const (
	KindLoad   MissionKind = "load"
	KindUnload MissionKind = "unload"
)

func (k MissionKind) Valid() bool { return k == KindLoad || k == KindUnload }

type PadSize string

const (
	PadsLarge  PadSize = "L"
	PadsMedium PadSize = "M"
)

// Targets is the set of destinations a mission is sent to.
type Targets struct {
	Chat       bool `json:"chat"`
	Discussion bool `json:"discussion"`
	Webhooks   bool `json:"webhooks"`
	Echo       bool `json:"echo"`
}

func (t Targets) Names() []string {
	var names []string
	if t.Chat {
		names = append(names, "chat")
	}
	if t.Discussion {
		names = append(names, "discussion")
	}
	if t.Webhooks {
		names = append(names, "webhooks")
	}
	if t.Echo {
		names = append(names, "echo")
	}
	return names
}

func (t Targets) String() string { return strings.Join(t.Names(), ",") }

// ParseTargets reads a comma separated target list such as "chat,discussion".
func ParseTargets(s string) (Targets, error) {
	var t Targets
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "chat", "c":
			t.Chat = true
		case "discussion", "r":
			t.Discussion = true
		case "webhooks", "webhook", "w":
			t.Webhooks = true
		case "echo", "text", "t":
			t.Echo = true
		default:
			return Targets{}, fmt.Errorf("unknown target %q", part)
		}
	}
	return t, nil
}

// MissionParams holds everything a user supplies when generating or editing a mission.
type MissionParams struct {
	Kind      MissionKind `json:"kind" enum:"load,unload"`
	Commodity string      `json:"commodity"`
	Station   string      `json:"station"`
	System    string      `json:"system"`
	Profit    float64     `json:"profit"`
	Pads      PadSize     `json:"pads" enum:"L,M"`
	Demand    int         `json:"demand"`
	RPText    string      `json:"rp_text,omitempty"`
}

type ChatState struct {
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func (s ChatState) Posted() bool { return s.MessageID != "" }

type DiscussionState struct {
	PostID     string `json:"post_id,omitempty"`
	PostURL    string `json:"post_url,omitempty"`
	CommentID  string `json:"comment_id,omitempty"`
	CommentURL string `json:"comment_url,omitempty"`
}

func (s DiscussionState) Posted() bool { return s.PostID != "" }

type WebhookState struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MessageID string `json:"message_id"`
	JumpURL   string `json:"jump_url,omitempty"`
}

// DestinationState is every identifier needed to later edit or retire what a mission posted.
type DestinationState struct {
	ChannelID  string          `json:"channel_id"`
	Chat       ChatState       `json:"chat"`
	Discussion DiscussionState `json:"discussion"`
	Webhooks   []WebhookState  `json:"webhooks,omitempty"`
}

func (s DestinationState) Clone() DestinationState {
	out := s
	if s.Webhooks != nil {
		out.Webhooks = append([]WebhookState(nil), s.Webhooks...)
	}
	return out
}

type Mission struct {
	ID          string `json:"id"`
	CarrierID   int64  `json:"carrier_id"`
	CarrierName string `json:"carrier_name"`
	ChannelID   string `json:"channel_id"`
	MissionParams
	Targets   Targets          `json:"targets"`
	State     DestinationState `json:"state"`
	CreatedAt string           `json:"created_at" format:"date-time"`
	UpdatedAt string           `json:"updated_at" format:"date-time"`
}

func NewMission(id string, carrier Carrier, channelID string, params MissionParams, targets Targets) (Mission, error) {
	switch {
	case id == "":
		return Mission{}, missing("mission", "id")
	case carrier.ID == 0:
		return Mission{}, missing("mission", "carrier_id")
	case carrier.LongName == "":
		return Mission{}, missing("mission", "carrier_name")
	case channelID == "":
		return Mission{}, missing("mission", "channel_id")
	case !params.Kind.Valid():
		return Mission{}, missing("mission", "kind")
	case params.Commodity == "":
		return Mission{}, missing("mission", "commodity")
	case params.Station == "":
		return Mission{}, missing("mission", "station")
	case params.System == "":
		return Mission{}, missing("mission", "system")
	case params.Pads == "":
		return Mission{}, missing("mission", "pads")
	}
	return Mission{
		ID:            id,
		CarrierID:     carrier.ID,
		CarrierName:   carrier.LongName,
		ChannelID:     channelID,
		MissionParams: params,
		Targets:       targets,
		State:         DestinationState{ChannelID: channelID},
	}, nil
}

type Nomination struct {
	NominatorID string `json:"nominator_id"`
	NomineeID   string `json:"nominee_id"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

func NewNomination(nominatorID, nomineeID, note string) (Nomination, error) {
	n := Nomination{NominatorID: strings.TrimSpace(nominatorID), NomineeID: strings.TrimSpace(nomineeID), Note: strings.TrimSpace(note)}
	if n.NominatorID == "" {
		return Nomination{}, missing("nomination", "nominator_id")
	}
	if n.NomineeID == "" {
		return Nomination{}, missing("nomination", "nominee_id")
	}
	return n, nil
}

// NominationCount is the per-nominee tally shown to community leads.
type NominationCount struct {
	NomineeID string `json:"nominee_id"`
	Count     int    `json:"count"`
}

// TallyNominations counts nominations per nominee, most nominated first.
func TallyNominations(ns []Nomination) []NominationCount {
	counts := map[string]int{}
	for _, n := range ns {
		counts[n.NomineeID]++
	}
	out := make([]NominationCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, NominationCount{NomineeID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].NomineeID < out[j].NomineeID
	})
	return out
}

type CommunityChannel struct {
	OwnerID   string `json:"owner_id"`
	ChannelID string `json:"channel_id"`
	RoleID    string `json:"role_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func NewCommunityChannel(ownerID, channelID, roleID string) (CommunityChannel, error) {
	c := CommunityChannel{OwnerID: strings.TrimSpace(ownerID), ChannelID: strings.TrimSpace(channelID), RoleID: strings.TrimSpace(roleID)}
	switch {
	case c.OwnerID == "":
		return CommunityChannel{}, missing("community channel", "owner_id")
	case c.ChannelID == "":
		return CommunityChannel{}, missing("community channel", "channel_id")
	case c.RoleID == "":
		return CommunityChannel{}, missing("community channel", "role_id")
	}
	return c, nil
}

type WebhookRegistration struct {
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func NewWebhookRegistration(ownerID, name, url string) (WebhookRegistration, error) {
	w := WebhookRegistration{OwnerID: strings.TrimSpace(ownerID), Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)}
	switch {
	case w.OwnerID == "":
		return WebhookRegistration{}, missing("webhook", "owner_id")
	case w.Name == "":
		return WebhookRegistration{}, missing("webhook", "name")
	case w.URL == "":
		return WebhookRegistration{}, missing("webhook", "url")
	}
	if !strings.HasPrefix(w.URL, "https://") && !strings.HasPrefix(w.URL, "http://") {
		return WebhookRegistration{}, fmt.Errorf("webhook: url must be http(s): %q", w.URL)
	}
	return w, nil
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
