package repo

import (
	"context"
	"database/sql"
	"strings"

	"foiadesk/internal/domain"
)

const agencyColumns = `id,name,jurisdiction,status,email,fax,portal_url,address,stale,appeal_agency_id,created_at`

func scanAgency(scan func(dest ...any) error) (domain.Agency, error) {
	var a domain.Agency
	var email, fax, portalURL, address, appealAgencyID sql.NullString
	err := scan(&a.ID, &a.Name, &a.Jurisdiction, &a.Status, &email, &fax, &portalURL, &address, &a.Stale, &appealAgencyID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if email.Valid {
		a.Email = email.String
	}
	if fax.Valid {
		a.Fax = fax.String
	}
	if portalURL.Valid {
		a.PortalURL = portalURL.String
	}
	if address.Valid {
		a.Address = address.String
	}
	if appealAgencyID.Valid {
		a.AppealAgencyID = &appealAgencyID.String
	}
	return a, nil
}

func (r Repo) InsertAgency(ctx context.Context, tx *sql.Tx, a domain.Agency) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agencies(`+agencyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Jurisdiction, a.Status, nullable(a.Email), nullable(a.Fax), nullable(a.PortalURL),
		nullable(a.Address), a.Stale, nullableStringPtr(a.AppealAgencyID), a.CreatedAt)
	return err
}

func (r Repo) UpdateAgency(ctx context.Context, tx *sql.Tx, a domain.Agency) error {
	res, err := tx.ExecContext(ctx, `UPDATE agencies SET name=?, jurisdiction=?, status=?, email=?, fax=?, portal_url=?, address=?, stale=?, appeal_agency_id=? WHERE id=?`,
		a.Name, a.Jurisdiction, a.Status, nullable(a.Email), nullable(a.Fax), nullable(a.PortalURL),
		nullable(a.Address), a.Stale, nullableStringPtr(a.AppealAgencyID), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAgency(ctx context.Context, id string) (domain.Agency, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE id=?`, id)
	return scanAgency(row.Scan)
}

func (r Repo) GetAgencyTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agency, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE id=?`, id)
	return scanAgency(row.Scan)
}

func (r Repo) GetAgencyByName(ctx context.Context, tx *sql.Tx, name, jurisdiction string) (domain.Agency, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE name=? AND jurisdiction=?`, name, jurisdiction)
	return scanAgency(row.Scan)
}

type AgencyFilters struct {
	Status       string
	Jurisdiction string
	Stale        *bool
	Limit        int
}

func (r Repo) ListAgencies(ctx context.Context, f AgencyFilters) ([]domain.Agency, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Jurisdiction != "" {
		clauses = append(clauses, "jurisdiction=?")
		args = append(args, f.Jurisdiction)
	}
	if f.Stale != nil {
		clauses = append(clauses, "stale=?")
		args = append(args, *f.Stale)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + agencyColumns + ` FROM agencies ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agency
	for rows.Next() {
		a, err := scanAgency(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetAgencyStale(ctx context.Context, tx *sql.Tx, agencyID string, stale bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE agencies SET stale=? WHERE id=?`, stale, agencyID)
	return err
}

// LatestInboundTS returns the timestamp of the newest inbound communication
// across all of an agency's requests, or "" when the agency never replied.
func (r Repo) LatestInboundTS(ctx context.Context, agencyID string) (string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(c.ts),'') FROM communications c
JOIN requests q ON q.id=c.request_id
WHERE q.agency_id=? AND c.direction='inbound'`, agencyID)
	var ts string
	if err := row.Scan(&ts); err != nil {
		return "", err
	}
	return ts, nil
}
