package repo

import (
	"context"
	"database/sql"

	"foiadesk/internal/domain"
)

const composerColumns = `id,owner_id,org_id,title,ask,status,submitted_at,created_at,updated_at`

func scanComposer(scan func(dest ...any) error) (domain.Composer, error) {
	var c domain.Composer
	var orgID, submittedAt sql.NullString
	err := scan(&c.ID, &c.OwnerID, &orgID, &c.Title, &c.Ask, &c.Status, &submittedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if orgID.Valid {
		c.OrgID = &orgID.String
	}
	if submittedAt.Valid {
		c.SubmittedAt = &submittedAt.String
	}
	return c, nil
}

func (r Repo) InsertComposer(ctx context.Context, tx *sql.Tx, c domain.Composer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO composers(`+composerColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, nullableStringPtr(c.OrgID), c.Title, c.Ask, c.Status, nullableStringPtr(c.SubmittedAt), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateComposer(ctx context.Context, tx *sql.Tx, c domain.Composer) error {
	res, err := tx.ExecContext(ctx, `UPDATE composers SET title=?, ask=?, status=?, submitted_at=?, updated_at=? WHERE id=?`,
		c.Title, c.Ask, c.Status, nullableStringPtr(c.SubmittedAt), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetComposer(ctx context.Context, id string) (domain.Composer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+composerColumns+` FROM composers WHERE id=?`, id)
	c, err := scanComposer(row.Scan)
	if err != nil {
		return c, err
	}
	c.AgencyIDs, err = r.composerAgencies(ctx, r.DB.QueryContext, id)
	return c, err
}

func (r Repo) GetComposerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Composer, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+composerColumns+` FROM composers WHERE id=?`, id)
	c, err := scanComposer(row.Scan)
	if err != nil {
		return c, err
	}
	c.AgencyIDs, err = r.composerAgencies(ctx, tx.QueryContext, id)
	return c, err
}

func (r Repo) ListComposers(ctx context.Context, ownerID string) ([]domain.Composer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+composerColumns+` FROM composers WHERE owner_id=? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Composer
	for rows.Next() {
		c, err := scanComposer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) composerAgencies(ctx context.Context, query queryFunc, composerID string) ([]string, error) {
	rows, err := query(ctx, `SELECT agency_id FROM composer_agencies WHERE composer_id=? ORDER BY rowid ASC`, composerID)
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

func (r Repo) SetComposerAgencies(ctx context.Context, tx *sql.Tx, composerID string, agencyIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM composer_agencies WHERE composer_id=?`, composerID); err != nil {
		return err
	}
	for _, id := range agencyIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO composer_agencies(composer_id, agency_id) VALUES (?,?)`, composerID, id); err != nil {
			return err
		}
	}
	return nil
}
