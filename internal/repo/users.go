package repo

import (
	"context"
	"database/sql"

	"foiadesk/internal/domain"
)

const userColumns = `id,name,email,tier,org_id,org_share,staff,active,monthly_requests,regular_requests,monthly_reset_date,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var orgID, resetDate sql.NullString
	err := scan(&u.ID, &u.Name, &u.Email, &u.Tier, &orgID, &u.OrgShare, &u.Staff, &u.Active,
		&u.MonthlyRequests, &u.RegularRequests, &resetDate, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if orgID.Valid {
		u.OrgID = &orgID.String
	}
	if resetDate.Valid {
		u.MonthlyResetDate = resetDate.String
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Tier, nullableStringPtr(u.OrgID), u.OrgShare, u.Staff, u.Active,
		u.MonthlyRequests, u.RegularRequests, nullable(u.MonthlyResetDate), u.CreatedAt)
	return err
}

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Tier, nullableStringPtr(u.OrgID), u.OrgShare, u.Staff, u.Active,
		u.MonthlyRequests, u.RegularRequests, nullable(u.MonthlyResetDate), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) UpdateUserQuota(ctx context.Context, tx *sql.Tx, userID string, monthly, regular int) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET monthly_requests=?, regular_requests=? WHERE id=?`, monthly, regular, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET name=?, email=?, tier=?, org_id=?, org_share=?, staff=?, active=?, monthly_requests=?, regular_requests=?, monthly_reset_date=? WHERE id=?`,
		u.Name, u.Email, u.Tier, nullableStringPtr(u.OrgID), u.OrgShare, u.Staff, u.Active,
		u.MonthlyRequests, u.RegularRequests, nullable(u.MonthlyResetDate), u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const orgColumns = `id,name,active,monthly_requests,regular_requests,created_at`

func scanOrg(scan func(dest ...any) error) (domain.Organization, error) {
	var o domain.Organization
	err := scan(&o.ID, &o.Name, &o.Active, &o.MonthlyRequests, &o.RegularRequests, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(`+orgColumns+`) VALUES (?,?,?,?,?,?)`,
		o.ID, o.Name, o.Active, o.MonthlyRequests, o.RegularRequests, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Organization, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id=?`, id)
	return scanOrg(row.Scan)
}

func (r Repo) GetOrgTx(ctx context.Context, tx *sql.Tx, id string) (domain.Organization, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id=?`, id)
	return scanOrg(row.Scan)
}

func (r Repo) UpdateOrgQuota(ctx context.Context, tx *sql.Tx, orgID string, monthly, regular int) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET monthly_requests=?, regular_requests=? WHERE id=?`, monthly, regular, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveOrgMembers returns active users belonging to the organization.
func (r Repo) ActiveOrgMembers(ctx context.Context, orgID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users WHERE org_id=? AND active=1`, orgID)
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
