package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"missionline/internal/domain"
)

func stamp(v string) string {
	if v != "" {
		return v
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// InsertNomination records one nomination; a repeat by the same nominator fails with ErrConflict.
func (r Repo) InsertNomination(ctx context.Context, n domain.Nomination) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO nominations(nominator_id,nominee_id,note,created_at) VALUES (?,?,?,?)`,
		n.NominatorID, n.NomineeID, nullable(n.Note), stamp(n.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("nomination %s -> %s: %w", n.NominatorID, n.NomineeID, ErrConflict)
	}
	return err
}

// ListNominations returns nominations, optionally only those for one nominee.
func (r Repo) ListNominations(ctx context.Context, nomineeID string) ([]domain.Nomination, error) {
	query := `SELECT nominator_id,nominee_id,COALESCE(note,''),created_at FROM nominations`
	var args []any
	if nomineeID != "" {
		query += ` WHERE nominee_id=?`
		args = append(args, nomineeID)
	}
	query += ` ORDER BY created_at, nominator_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Nomination
	for rows.Next() {
		var n domain.Nomination
		if err := rows.Scan(&n.NominatorID, &n.NomineeID, &n.Note, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) DeleteNomination(ctx context.Context, nominatorID, nomineeID string) error {
	return expectRow(r.DB.ExecContext(ctx, `DELETE FROM nominations WHERE nominator_id=? AND nominee_id=?`, nominatorID, nomineeID))
}

// DeleteNominationsFor clears every nomination of a nominee and reports how many went.
func (r Repo) DeleteNominationsFor(ctx context.Context, nomineeID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM nominations WHERE nominee_id=?`, nomineeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertCommunityChannel stores the one community channel an owner may hold.
func (r Repo) InsertCommunityChannel(ctx context.Context, c domain.CommunityChannel) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO community_channels(owner_id,channel_id,role_id,created_at) VALUES (?,?,?,?)`,
		c.OwnerID, c.ChannelID, c.RoleID, stamp(c.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("community channel for %s: %w", c.OwnerID, ErrConflict)
	}
	return err
}

func (r Repo) GetCommunityChannel(ctx context.Context, ownerID string) (domain.CommunityChannel, error) {
	var c domain.CommunityChannel
	err := r.DB.QueryRowContext(ctx, `SELECT owner_id,channel_id,role_id,created_at FROM community_channels WHERE owner_id=?`, ownerID).
		Scan(&c.OwnerID, &c.ChannelID, &c.RoleID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCommunityChannels(ctx context.Context) ([]domain.CommunityChannel, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT owner_id,channel_id,role_id,created_at FROM community_channels ORDER BY created_at, owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommunityChannel
	for rows.Next() {
		var c domain.CommunityChannel
		if err := rows.Scan(&c.OwnerID, &c.ChannelID, &c.RoleID, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCommunityChannel(ctx context.Context, ownerID string) error {
	return expectRow(r.DB.ExecContext(ctx, `DELETE FROM community_channels WHERE owner_id=?`, ownerID))
}

// InsertWebhook registers a named webhook for an owner; names are unique per owner.
func (r Repo) InsertWebhook(ctx context.Context, w domain.WebhookRegistration) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhooks(owner_id,name,url,created_at) VALUES (?,?,?,?)`,
		w.OwnerID, w.Name, w.URL, stamp(w.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("webhook %s for %s: %w", w.Name, w.OwnerID, ErrConflict)
	}
	return err
}

// ListWebhooks returns webhook registrations, optionally for one owner only.
func (r Repo) ListWebhooks(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error) {
	query := `SELECT owner_id,name,url,created_at FROM webhooks`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY owner_id, name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WebhookRegistration
	for rows.Next() {
		var w domain.WebhookRegistration
		if err := rows.Scan(&w.OwnerID, &w.Name, &w.URL, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) DeleteWebhook(ctx context.Context, ownerID, name string) error {
	return expectRow(r.DB.ExecContext(ctx, `DELETE FROM webhooks WHERE owner_id=? AND name=?`, ownerID, name))
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
