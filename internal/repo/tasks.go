package repo

import (
	"context"
	"database/sql"
	"strings"

	"foiadesk/internal/domain"
)

const taskColumns = `id,kind,resolved,resolved_by,deferred_until,communication_id,agency_id,request_id,user_id,category,note,created_at,done_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var resolvedBy, deferredUntil, commID, agencyID, requestID, userID, category, note, doneAt sql.NullString
	err := scan(&t.ID, &t.Kind, &t.Resolved, &resolvedBy, &deferredUntil, &commID, &agencyID, &requestID, &userID, &category, &note, &t.CreatedAt, &doneAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if resolvedBy.Valid {
		t.ResolvedBy = &resolvedBy.String
	}
	if deferredUntil.Valid {
		t.DeferredUntil = &deferredUntil.String
	}
	if commID.Valid {
		t.CommunicationID = &commID.String
	}
	if agencyID.Valid {
		t.AgencyID = &agencyID.String
	}
	if requestID.Valid {
		t.RequestID = &requestID.String
	}
	if userID.Valid {
		t.UserID = &userID.String
	}
	if category.Valid {
		t.Category = category.String
	}
	if note.Valid {
		t.Note = note.String
	}
	if doneAt.Valid {
		t.DoneAt = &doneAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Kind, t.Resolved, nullableStringPtr(t.ResolvedBy), nullableStringPtr(t.DeferredUntil),
		nullableStringPtr(t.CommunicationID), nullableStringPtr(t.AgencyID), nullableStringPtr(t.RequestID),
		nullableStringPtr(t.UserID), t.Category, t.Note, t.CreatedAt, nullableStringPtr(t.DoneAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ResolveTask(ctx context.Context, tx *sql.Tx, id, actorID, doneAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET resolved=1, resolved_by=?, done_at=? WHERE id=? AND resolved=0`, actorID, doneAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeferTask(ctx context.Context, tx *sql.Tx, id, until string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET deferred_until=? WHERE id=? AND resolved=0`, until, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return err
}

type TaskFilters struct {
	Kind       string
	Resolved   *bool
	RequestID  string
	AgencyID   string
	ShowAll    bool
	Now        string
	StaffKinds bool
	Limit      int
}

// Kinds only surfaced to staff operators.
var staffOnlyKinds = []string{domain.TaskReviewAgency, domain.TaskFlagged, domain.TaskCrowdfund}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Resolved != nil {
		where = append(where, "resolved=?")
		args = append(args, *f.Resolved)
	}
	if f.RequestID != "" {
		where = append(where, "request_id=?")
		args = append(args, f.RequestID)
	}
	if f.AgencyID != "" {
		where = append(where, "agency_id=?")
		args = append(args, f.AgencyID)
	}
	if !f.ShowAll && f.Now != "" {
		where = append(where, "(deferred_until IS NULL OR deferred_until<=?)")
		args = append(args, f.Now)
	}
	if !f.StaffKinds {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(staffOnlyKinds)), ",")
		where = append(where, "kind NOT IN ("+placeholders+")")
		for _, k := range staffOnlyKinds {
			args = append(args, k)
		}
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// refColumn maps a task kind to the column identifying its subject. Duplicate
// detection and clean-up key off this column.
func refColumn(kind string) string {
	switch kind {
	case domain.TaskOrphan, domain.TaskResponse, domain.TaskPortal:
		return "communication_id"
	case domain.TaskStaleAgency, domain.TaskNewAgency, domain.TaskReviewAgency:
		return "agency_id"
	case domain.TaskFlagged, domain.TaskCrowdfund:
		return "user_id"
	default:
		return "request_id"
	}
}

// UnresolvedTasksByRef returns unresolved tasks of a kind pointing at the same
// subject, oldest first.
func (r Repo) UnresolvedTasksByRef(ctx context.Context, tx *sql.Tx, kind, ref string) ([]domain.Task, error) {
	col := refColumn(kind)
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE kind=? AND resolved=0 AND `+col+`=? ORDER BY created_at ASC, id ASC`, kind, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UnresolvedTaskExists(ctx context.Context, tx *sql.Tx, kind, ref string) (bool, error) {
	col := refColumn(kind)
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE kind=? AND resolved=0 AND `+col+`=? LIMIT 1`, kind, ref)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UnresolvedOrphansBySenderDomain finds open orphan tasks whose communication
// came from the given sender domain.
func (r Repo) UnresolvedOrphansBySenderDomain(ctx context.Context, tx *sql.Tx, dom string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+prefixedTaskColumns("t")+` FROM tasks t
		JOIN communications c ON c.id=t.communication_id
		WHERE t.kind=? AND t.resolved=0 AND c.from_addr LIKE ?`, domain.TaskOrphan, "%@"+dom)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func prefixedTaskColumns(alias string) string {
	parts := strings.Split(taskColumns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ",")
}
