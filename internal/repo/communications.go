package repo

import (
	"context"
	"database/sql"

	"foiadesk/internal/domain"
)

const communicationColumns = `id,request_id,direction,ts,from_addr,to_addr,subject,body,status,confidence,created_at`

func scanCommunication(scan func(dest ...any) error) (domain.Communication, error) {
	var c domain.Communication
	var requestID, status sql.NullString
	var confidence sql.NullFloat64
	err := scan(&c.ID, &requestID, &c.Direction, &c.TS, &c.From, &c.To, &c.Subject, &c.Body, &status, &confidence, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if requestID.Valid {
		c.RequestID = &requestID.String
	}
	if status.Valid {
		c.Status = status.String
	}
	if confidence.Valid {
		c.Confidence = &confidence.Float64
	}
	return c, nil
}

func (r Repo) InsertCommunication(ctx context.Context, tx *sql.Tx, c domain.Communication) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO communications(`+communicationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, nullableStringPtr(c.RequestID), c.Direction, c.TS, c.From, c.To, c.Subject, c.Body,
		nullable(c.Status), nullableFloatPtr(c.Confidence), c.CreatedAt)
	return err
}

func (r Repo) GetCommunication(ctx context.Context, id string) (domain.Communication, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+communicationColumns+` FROM communications WHERE id=?`, id)
	return scanCommunication(row.Scan)
}

func (r Repo) GetCommunicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Communication, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+communicationColumns+` FROM communications WHERE id=?`, id)
	return scanCommunication(row.Scan)
}

// ListCommunications returns a request's correspondence in timestamp order.
func (r Repo) ListCommunications(ctx context.Context, requestID string) ([]domain.Communication, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+communicationColumns+` FROM communications WHERE request_id=? ORDER BY ts ASC, created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Communication
	for rows.Next() {
		c, err := scanCommunication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ReassignCommunication moves a communication to another request. The timestamp
// is deliberately left untouched.
func (r Repo) ReassignCommunication(ctx context.Context, tx *sql.Tx, commID string, requestID *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE communications SET request_id=? WHERE id=?`, nullableStringPtr(requestID), commID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetCommunicationStatus(ctx context.Context, tx *sql.Tx, commID, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE communications SET status=? WHERE id=?`, nullable(status), commID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetCommunicationPrediction(ctx context.Context, tx *sql.Tx, commID, status string, confidence float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE communications SET status=?, confidence=? WHERE id=?`, status, confidence, commID)
	return err
}

func (r Repo) SetCommunicationTS(ctx context.Context, tx *sql.Tx, commID, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE communications SET ts=? WHERE id=?`, ts, commID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- channel records ---

func (r Repo) InsertEmailRecord(ctx context.Context, tx *sql.Tx, e domain.EmailRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO emails(id,communication_id,to_addr,message_id,delivery_status,receipt) VALUES (?,?,?,?,?,?)`,
		e.ID, e.CommunicationID, e.To, nullable(e.MessageID), e.DeliveryStatus, nullable(e.Receipt))
	return err
}

func (r Repo) InsertFaxRecord(ctx context.Context, tx *sql.Tx, f domain.FaxRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO faxes(id,communication_id,number,delivery_status,receipt,error_detail) VALUES (?,?,?,?,?,?)`,
		f.ID, f.CommunicationID, f.Number, f.DeliveryStatus, nullable(f.Receipt), nullable(f.ErrorDetail))
	return err
}

func (r Repo) InsertLetterRecord(ctx context.Context, tx *sql.Tx, l domain.LetterRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO letters(id,communication_id,address,category,amount,check_number,pdf_url) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.CommunicationID, l.Address, l.Category, nullableFloatPtr(l.Amount), nullableIntPtr(l.CheckNumber), nullable(l.PDFURL))
	return err
}

func (r Repo) InsertPortalRecord(ctx context.Context, tx *sql.Tx, p domain.PortalRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO portal_messages(id,communication_id,portal_url,confirmation,delivery_status) VALUES (?,?,?,?,?)`,
		p.ID, p.CommunicationID, p.PortalURL, nullable(p.Confirmation), p.DeliveryStatus)
	return err
}

func (r Repo) GetLetterByCommunication(ctx context.Context, tx *sql.Tx, commID string) (domain.LetterRecord, error) {
	var l domain.LetterRecord
	var amount sql.NullFloat64
	var checkNumber sql.NullInt64
	var pdfURL sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,communication_id,address,category,amount,check_number,pdf_url FROM letters WHERE communication_id=?`, commID).
		Scan(&l.ID, &l.CommunicationID, &l.Address, &l.Category, &amount, &checkNumber, &pdfURL)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if amount.Valid {
		l.Amount = &amount.Float64
	}
	if checkNumber.Valid {
		n := int(checkNumber.Int64)
		l.CheckNumber = &n
	}
	if pdfURL.Valid {
		l.PDFURL = pdfURL.String
	}
	return l, nil
}

func (r Repo) SetLetterCheckNumber(ctx context.Context, tx *sql.Tx, letterID string, checkNumber int) error {
	res, err := tx.ExecContext(ctx, `UPDATE letters SET check_number=? WHERE id=?`, checkNumber, letterID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- notes and appeals ---

func (r Repo) InsertNote(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notes(id,request_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		n.ID, n.RequestID, n.AuthorID, n.Body, n.CreatedAt)
	return err
}

func (r Repo) ListNotes(ctx context.Context, requestID string) ([]domain.Note, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,request_id,author_id,body,created_at FROM notes WHERE request_id=? ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.RequestID, &n.AuthorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) InsertAppeal(ctx context.Context, tx *sql.Tx, a domain.Appeal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO appeals(id,request_id,communication_id,created_at) VALUES (?,?,?,?)`,
		a.ID, a.RequestID, a.CommunicationID, a.CreatedAt)
	return err
}

func (r Repo) ListAppeals(ctx context.Context, requestID string) ([]domain.Appeal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,request_id,communication_id,created_at FROM appeals WHERE request_id=? ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Appeal
	for rows.Next() {
		var a domain.Appeal
		if err := rows.Scan(&a.ID, &a.RequestID, &a.CommunicationID, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- orphan blacklist ---

func (r Repo) BlacklistDomain(ctx context.Context, tx *sql.Tx, dom, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO orphan_blacklist(domain, created_at) VALUES (?,?)`, dom, now)
	return err
}

func (r Repo) IsBlacklisted(ctx context.Context, tx *sql.Tx, dom string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM orphan_blacklist WHERE domain=? LIMIT 1`, dom)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
