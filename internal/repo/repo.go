package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"foiadesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,composer_id,agency_id,owner_id,title,slug,status,embargo,permanent_embargo,embargo_expires,access_key,tracking_id,price,date_estimate,date_submitted,date_processing,date_done,created_at,updated_at`

func scanRequest(scan func(dest ...any) error) (domain.Request, error) {
	var r domain.Request
	var composerID, embargoExpires, accessKey, trackingID, dateEstimate, dateSubmitted, dateProcessing, dateDone sql.NullString
	var price sql.NullFloat64
	err := scan(&r.ID, &composerID, &r.AgencyID, &r.OwnerID, &r.Title, &r.Slug, &r.Status,
		&r.Embargo, &r.PermanentEmbargo, &embargoExpires, &accessKey, &trackingID, &price,
		&dateEstimate, &dateSubmitted, &dateProcessing, &dateDone, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if composerID.Valid {
		r.ComposerID = &composerID.String
	}
	if embargoExpires.Valid {
		r.EmbargoExpires = &embargoExpires.String
	}
	if accessKey.Valid {
		r.AccessKey = &accessKey.String
	}
	if trackingID.Valid {
		r.TrackingID = trackingID.String
	}
	if price.Valid {
		r.Price = &price.Float64
	}
	if dateEstimate.Valid {
		r.DateEstimate = &dateEstimate.String
	}
	if dateSubmitted.Valid {
		r.DateSubmitted = &dateSubmitted.String
	}
	if dateProcessing.Valid {
		r.DateProcessing = &dateProcessing.String
	}
	if dateDone.Valid {
		r.DateDone = &dateDone.String
	}
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, nullableStringPtr(req.ComposerID), req.AgencyID, req.OwnerID, req.Title, req.Slug, req.Status,
		req.Embargo, req.PermanentEmbargo, nullableStringPtr(req.EmbargoExpires), nullableStringPtr(req.AccessKey),
		nullable(req.TrackingID), nullableFloatPtr(req.Price), nullableStringPtr(req.DateEstimate),
		nullableStringPtr(req.DateSubmitted), nullableStringPtr(req.DateProcessing), nullableStringPtr(req.DateDone),
		req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET composer_id=?, agency_id=?, owner_id=?, title=?, slug=?, status=?,
embargo=?, permanent_embargo=?, embargo_expires=?, access_key=?, tracking_id=?, price=?, date_estimate=?,
date_submitted=?, date_processing=?, date_done=?, updated_at=? WHERE id=?`,
		nullableStringPtr(req.ComposerID), req.AgencyID, req.OwnerID, req.Title, req.Slug, req.Status,
		req.Embargo, req.PermanentEmbargo, nullableStringPtr(req.EmbargoExpires), nullableStringPtr(req.AccessKey),
		nullable(req.TrackingID), nullableFloatPtr(req.Price), nullableStringPtr(req.DateEstimate),
		nullableStringPtr(req.DateSubmitted), nullableStringPtr(req.DateProcessing), nullableStringPtr(req.DateDone),
		req.UpdatedAt, req.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	req, err := scanRequest(row.Scan)
	if err != nil {
		return req, err
	}
	return r.attachCollaborators(ctx, req)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

func (r Repo) GetRequestBySlug(ctx context.Context, slug string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE slug=?`, slug)
	req, err := scanRequest(row.Scan)
	if err != nil {
		return req, err
	}
	return r.attachCollaborators(ctx, req)
}

func (r Repo) attachCollaborators(ctx context.Context, req domain.Request) (domain.Request, error) {
	editors, err := r.ListEditors(ctx, req.ID)
	if err != nil {
		return req, err
	}
	viewers, err := r.ListViewers(ctx, req.ID)
	if err != nil {
		return req, err
	}
	req.EditorIDs = editors
	req.ViewerIDs = viewers
	return req, nil
}

type RequestFilters struct {
	OwnerID         string
	AgencyID        string
	Status          string
	ComposerID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.AgencyID != "" {
		clauses = append(clauses, "agency_id=?")
		args = append(args, f.AgencyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ComposerID != "" {
		clauses = append(clauses, "composer_id=?")
		args = append(args, f.ComposerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// OpenRequestsForAgency returns non-draft, non-terminal requests filed against an agency,
// oldest submission first.
func (r Repo) OpenRequestsForAgency(ctx context.Context, agencyID string) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests
WHERE agency_id=? AND status NOT IN ('started','done','rejected','no_docs','partial','abandoned')
ORDER BY date_submitted ASC, id ASC`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// NonDraftRequestsForAgency returns every request against the agency that left the draft state.
func (r Repo) NonDraftRequestsForAgency(ctx context.Context, tx *sql.Tx, agencyID string) ([]domain.Request, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests
WHERE agency_id=? AND status != 'started' ORDER BY created_at ASC, id ASC`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// ExpiredEmbargoes returns ids of non-permanent embargoed requests whose
// expiration date is at or before the supplied instant.
func (r Repo) ExpiredEmbargoes(ctx context.Context, now string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM requests
WHERE embargo=1 AND permanent_embargo=0 AND embargo_expires IS NOT NULL AND embargo_expires <= ?`, now)
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

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
