package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"missionline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// AmbiguousError is returned when a lookup term matches more than one record.
type AmbiguousError struct {
	Term    string
	Field   string
	Matches []string
}

func (e AmbiguousError) Error() string {
	return fmt.Sprintf("%q matches %d carriers by %s: %s", e.Term, len(e.Matches), e.Field, strings.Join(e.Matches, ", "))
}

// CarrierField names the carrier column a lookup term is matched against.
type CarrierField string

const (
	FieldShortName CarrierField = "short_name"
	FieldLongName  CarrierField = "long_name"
	FieldCode      CarrierField = "code"
	FieldOwner     CarrierField = "owner"
)

func (f CarrierField) column() (string, error) {
	switch f {
	case FieldShortName, "":
		return "short_name", nil
	case FieldLongName:
		return "long_name", nil
	case FieldCode:
		return "code", nil
	case FieldOwner:
		return "owner_id", nil
	default:
		return "", fmt.Errorf("unknown carrier field %q", f)
	}
}

const carrierColumns = `id,long_name,short_name,code,owner_id,channel_name,last_trade,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCarrier(row rowScanner) (domain.Carrier, error) {
	var c domain.Carrier
	err := row.Scan(&c.ID, &c.LongName, &c.ShortName, &c.Code, &c.OwnerID, &c.ChannelName, &c.LastTrade, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertCarrier(ctx context.Context, c domain.Carrier) (domain.Carrier, error) {
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO carriers(long_name,short_name,code,owner_id,channel_name,last_trade,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.LongName, c.ShortName, c.Code, c.OwnerID, c.ChannelName, c.LastTrade, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Carrier{}, fmt.Errorf("carrier %s: %w", c.ShortName, ErrConflict)
		}
		return domain.Carrier{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

func (r Repo) GetCarrier(ctx context.Context, id int64) (domain.Carrier, error) {
	return scanCarrier(r.DB.QueryRowContext(ctx, `SELECT `+carrierColumns+` FROM carriers WHERE id=?`, id))
}

// FindCarrier returns the carrier whose field equals term, or failing that the single
// carrier whose field contains it. Matching ignores case.
func (r Repo) FindCarrier(ctx context.Context, term string, field CarrierField) (domain.Carrier, error) {
	col, err := field.column()
	if err != nil {
		return domain.Carrier{}, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return domain.Carrier{}, ErrNotFound
	}
	c, err := scanCarrier(r.DB.QueryRowContext(ctx, `SELECT `+carrierColumns+` FROM carriers WHERE `+col+`=? COLLATE NOCASE ORDER BY id LIMIT 1`, term))
	if err != ErrNotFound {
		return c, err
	}
	matches, err := r.FindCarriers(ctx, term, field)
	if err != nil {
		return domain.Carrier{}, err
	}
	switch len(matches) {
	case 0:
		return domain.Carrier{}, ErrNotFound
	case 1:
		return matches[0], nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.LongName)
	}
	return domain.Carrier{}, AmbiguousError{Term: term, Field: string(field), Matches: names}
}

// FindCarriers returns every carrier whose field contains term.
func (r Repo) FindCarriers(ctx context.Context, term string, field CarrierField) ([]domain.Carrier, error) {
	col, err := field.column()
	if err != nil {
		return nil, err
	}
	return r.queryCarriers(ctx, `SELECT `+carrierColumns+` FROM carriers WHERE `+col+` LIKE ? ESCAPE '\' ORDER BY long_name`, "%"+escapeLike(strings.TrimSpace(term))+"%")
}

func (r Repo) ListCarriers(ctx context.Context) ([]domain.Carrier, error) {
	return r.queryCarriers(ctx, `SELECT `+carrierColumns+` FROM carriers ORDER BY long_name`)
}

func (r Repo) queryCarriers(ctx context.Context, query string, args ...any) ([]domain.Carrier, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Carrier
	for rows.Next() {
		c, err := scanCarrier(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CarrierUpdate holds the optional fields of an admin edit.
type CarrierUpdate struct {
	LongName    *string
	ShortName   *string
	Code        *string
	OwnerID     *string
	ChannelName *string
}

func (r Repo) UpdateCarrier(ctx context.Context, id int64, u CarrierUpdate) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v *string) error {
		if v == nil {
			return nil
		}
		if strings.TrimSpace(*v) == "" {
			return fmt.Errorf("carrier %s: %w", col, domain.ErrMissingField)
		}
		fields = append(fields, col+"=?")
		args = append(args, strings.TrimSpace(*v))
		return nil
	}
	for _, f := range []struct {
		col string
		v   *string
	}{
		{"long_name", u.LongName},
		{"short_name", u.ShortName},
		{"code", u.Code},
		{"owner_id", u.OwnerID},
		{"channel_name", u.ChannelName},
	} {
		if err := set(f.col, f.v); err != nil {
			return err
		}
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE carriers SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("carrier %d: %w", id, ErrConflict)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastTrade stamps the carrier's last trade time in epoch seconds.
func (r Repo) UpdateLastTrade(ctx context.Context, id int64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE carriers SET last_trade=? WHERE id=?`, at.Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCarrier removes the carrier and, through the foreign key, any mission it still has.
func (r Repo) DeleteCarrier(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM carriers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
