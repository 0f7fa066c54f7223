package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	MissionCreated   = "mission.created"
	MissionEdited    = "mission.edited"
	MissionConcluded = "mission.concluded"
	ChannelScheduled = "channel.teardown_scheduled"
	ChannelTornDown  = "channel.teardown"
	ChannelOrphaned  = "channel.orphaned"
	OwnerDemoted     = "owner.demoted"
	CarrierAdded     = "carrier.added"
	CarrierEdited    = "carrier.edited"
	CarrierDeleted   = "carrier.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit event. With a nil tx the event is written on its own.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	const query = `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	} else {
		_, err = w.DB.ExecContext(ctx, query, ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
