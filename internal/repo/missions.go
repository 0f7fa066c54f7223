package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"missionline/internal/domain"
)

// stateVersion is the destination-state layout written by this build. Version 1 rows
// carried a JSON blob and are rewritten by migration 0004.
const stateVersion = 2

const missionColumns = `id,carrier_id,carrier_name,channel_id,kind,commodity,station,system,profit,pads,demand,
COALESCE(rp_text,''),targets,COALESCE(chat_channel_id,''),COALESCE(chat_message_id,''),
COALESCE(discussion_post_id,''),COALESCE(discussion_post_url,''),COALESCE(discussion_comment_id,''),COALESCE(discussion_comment_url,''),
created_at,updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanMission(row rowScanner) (domain.Mission, error) {
	var (
		m       domain.Mission
		targets string
	)
	err := row.Scan(&m.ID, &m.CarrierID, &m.CarrierName, &m.ChannelID, &m.Kind, &m.Commodity, &m.Station, &m.System,
		&m.Profit, &m.Pads, &m.Demand, &m.RPText, &targets,
		&m.State.Chat.ChannelID, &m.State.Chat.MessageID,
		&m.State.Discussion.PostID, &m.State.Discussion.PostURL, &m.State.Discussion.CommentID, &m.State.Discussion.CommentURL,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.State.ChannelID = m.ChannelID
	if m.Targets, err = domain.ParseTargets(targets); err != nil {
		return m, fmt.Errorf("mission %s targets: %w", m.ID, err)
	}
	return m, nil
}

func (r Repo) findMission(ctx context.Context, where string, arg any) (domain.Mission, error) {
	m, err := scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE `+where+` LIMIT 1`, arg))
	if err != nil {
		return m, err
	}
	m.State.Webhooks, err = listMissionWebhooks(ctx, r.DB, m.ID)
	return m, err
}

// FindMissionByCarrier returns the active mission for the carrier with the given long name.
func (r Repo) FindMissionByCarrier(ctx context.Context, carrierName string) (domain.Mission, error) {
	return r.findMission(ctx, `carrier_name=?`, carrierName)
}

func (r Repo) FindMissionByCarrierID(ctx context.Context, carrierID int64) (domain.Mission, error) {
	return r.findMission(ctx, `carrier_id=?`, carrierID)
}

// FindMissionByChannel returns the mission currently using a channel.
func (r Repo) FindMissionByChannel(ctx context.Context, channelID string) (domain.Mission, error) {
	return r.findMission(ctx, `channel_id=?`, channelID)
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return r.findMission(ctx, `id=?`, id)
}

func (r Repo) ListMissions(ctx context.Context) ([]domain.Mission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+missionColumns+` FROM missions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	// Webhook rows are loaded after the cursor is closed; the pool holds a single connection.
	for i := range res {
		if res[i].State.Webhooks, err = listMissionWebhooks(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListMissionChannelIDs returns the channel of every active mission.
func (r Repo) ListMissionChannelIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT channel_id FROM missions ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertMission stores a new mission. A second mission for the same carrier fails with
// ErrConflict from the carrier_id constraint, so the insert is atomic insert-if-absent.
func (r Repo) InsertMission(ctx context.Context, m domain.Mission) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if m.CreatedAt == "" {
		m.CreatedAt = now
	}
	if m.UpdatedAt == "" {
		m.UpdatedAt = m.CreatedAt
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO missions(id,carrier_id,carrier_name,channel_id,kind,commodity,station,system,profit,pads,demand,rp_text,targets,
state_version,chat_channel_id,chat_message_id,discussion_post_id,discussion_post_url,discussion_comment_id,discussion_comment_url,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.CarrierID, m.CarrierName, m.ChannelID, m.Kind, m.Commodity, m.Station, m.System, m.Profit, m.Pads, m.Demand,
		nullable(m.RPText), m.Targets.String(), stateVersion,
		nullable(m.State.Chat.ChannelID), nullable(m.State.Chat.MessageID),
		nullable(m.State.Discussion.PostID), nullable(m.State.Discussion.PostURL),
		nullable(m.State.Discussion.CommentID), nullable(m.State.Discussion.CommentURL),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("mission for %s: %w", m.CarrierName, ErrConflict)
		}
		return err
	}
	if err := replaceMissionWebhooks(ctx, tx, m.ID, m.State.Webhooks); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateMission rewrites the mission parameters and destination state in place.
func (r Repo) UpdateMission(ctx context.Context, m domain.Mission) error {
	if m.UpdatedAt == "" {
		m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE missions SET kind=?,commodity=?,station=?,system=?,profit=?,pads=?,demand=?,rp_text=?,targets=?,
state_version=?,chat_channel_id=?,chat_message_id=?,discussion_post_id=?,discussion_post_url=?,discussion_comment_id=?,discussion_comment_url=?,updated_at=?
WHERE id=?`,
		m.Kind, m.Commodity, m.Station, m.System, m.Profit, m.Pads, m.Demand, nullable(m.RPText), m.Targets.String(), stateVersion,
		nullable(m.State.Chat.ChannelID), nullable(m.State.Chat.MessageID),
		nullable(m.State.Discussion.PostID), nullable(m.State.Discussion.PostURL),
		nullable(m.State.Discussion.CommentID), nullable(m.State.Discussion.CommentURL),
		m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := replaceMissionWebhooks(ctx, tx, m.ID, m.State.Webhooks); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteMissionByCarrierID removes the active mission for a carrier.
func (r Repo) DeleteMissionByCarrierID(ctx context.Context, carrierID int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM missions WHERE carrier_id=?`, carrierID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMission removes the active mission for a carrier, by carrier long name.
func (r Repo) DeleteMission(ctx context.Context, carrierName string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM missions WHERE carrier_name=?`, carrierName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func replaceMissionWebhooks(ctx context.Context, tx *sql.Tx, missionID string, hooks []domain.WebhookState) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_webhooks WHERE mission_id=?`, missionID); err != nil {
		return err
	}
	for i, h := range hooks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mission_webhooks(mission_id,position,url,name,message_id,jump_url) VALUES (?,?,?,?,?,?)`,
			missionID, i, h.URL, h.Name, h.MessageID, nullable(h.JumpURL)); err != nil {
			return fmt.Errorf("mission webhook %d: %w", i, err)
		}
	}
	return nil
}

func listMissionWebhooks(ctx context.Context, q queryer, missionID string) ([]domain.WebhookState, error) {
	rows, err := q.QueryContext(ctx, `SELECT url,name,message_id,COALESCE(jump_url,'') FROM mission_webhooks WHERE mission_id=? ORDER BY position`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hooks []domain.WebhookState
	for rows.Next() {
		var h domain.WebhookState
		if err := rows.Scan(&h.URL, &h.Name, &h.MessageID, &h.JumpURL); err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}
