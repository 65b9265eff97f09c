package repo

import (
	"context"
	"database/sql"

	"foiadesk/internal/domain"
)

const eventColumns = `id,ts,type,entity_kind,entity_id,actor_id,payload_json`

// EventsAfter returns up to limit events with IDs greater than afterID.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, actorID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &actorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if actorID.Valid {
			e.ActorID = actorID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the newest event ID, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// TailEvents returns the newest n events in chronological order.
func (r Repo) TailEvents(ctx context.Context, n int) ([]domain.Event, error) {
	latest, err := r.LatestEventID(ctx)
	if err != nil {
		return nil, err
	}
	after := latest - int64(n)
	if after < 0 {
		after = 0
	}
	return r.EventsAfter(ctx, n, after)
}
