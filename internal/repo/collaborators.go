package repo

import (
	"context"
	"database/sql"
)

func (r Repo) AddEditor(ctx context.Context, tx *sql.Tx, requestID, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO request_editors(request_id, user_id) VALUES (?,?)`, requestID, userID)
	return err
}

func (r Repo) RemoveEditor(ctx context.Context, tx *sql.Tx, requestID, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM request_editors WHERE request_id=? AND user_id=?`, requestID, userID)
	return err
}

func (r Repo) AddViewer(ctx context.Context, tx *sql.Tx, requestID, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO request_viewers(request_id, user_id) VALUES (?,?)`, requestID, userID)
	return err
}

func (r Repo) RemoveViewer(ctx context.Context, tx *sql.Tx, requestID, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM request_viewers WHERE request_id=? AND user_id=?`, requestID, userID)
	return err
}

func (r Repo) ListEditors(ctx context.Context, requestID string) ([]string, error) {
	return r.listCollaborators(ctx, `SELECT user_id FROM request_editors WHERE request_id=?`, requestID)
}

func (r Repo) ListViewers(ctx context.Context, requestID string) ([]string, error) {
	return r.listCollaborators(ctx, `SELECT user_id FROM request_viewers WHERE request_id=?`, requestID)
}

func (r Repo) listCollaborators(ctx context.Context, query, requestID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, requestID)
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

func (r Repo) IsEditor(ctx context.Context, requestID, userID string) (bool, error) {
	return r.isCollaborator(ctx, `SELECT 1 FROM request_editors WHERE request_id=? AND user_id=? LIMIT 1`, requestID, userID)
}

func (r Repo) IsViewer(ctx context.Context, requestID, userID string) (bool, error) {
	return r.isCollaborator(ctx, `SELECT 1 FROM request_viewers WHERE request_id=? AND user_id=? LIMIT 1`, requestID, userID)
}

func (r Repo) isCollaborator(ctx context.Context, query, requestID, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, query, requestID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
