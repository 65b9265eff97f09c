package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine/access"
	"foiadesk/internal/events"
)

// collabOp wraps a collaborator mutation in the usual load, capability check
// and audit plumbing.
func (e Engine) collabOp(ctx context.Context, requestID, actorID, evtType string, fn func(tx *sql.Tx, req domain.Request) error) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Access.Require(ctx, req, actorID, "", access.CapChange); err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := fn(tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "request", req.ID, actorID, nil); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return e.Repo.GetRequest(ctx, requestID)
}

// AddEditor grants view+change. Adding the owner is an idempotent no-op.
func (e Engine) AddEditor(ctx context.Context, requestID, userID, actorID string) (domain.Request, error) {
	return e.collabOp(ctx, requestID, actorID, "request.editor.add", func(tx *sql.Tx, req domain.Request) error {
		if userID == req.OwnerID {
			return nil
		}
		return e.Repo.AddEditor(ctx, tx, requestID, userID)
	})
}

func (e Engine) RemoveEditor(ctx context.Context, requestID, userID, actorID string) (domain.Request, error) {
	return e.collabOp(ctx, requestID, actorID, "request.editor.remove", func(tx *sql.Tx, req domain.Request) error {
		return e.Repo.RemoveEditor(ctx, tx, requestID, userID)
	})
}

// AddViewer grants view only. Adding the owner is an idempotent no-op.
func (e Engine) AddViewer(ctx context.Context, requestID, userID, actorID string) (domain.Request, error) {
	return e.collabOp(ctx, requestID, actorID, "request.viewer.add", func(tx *sql.Tx, req domain.Request) error {
		if userID == req.OwnerID {
			return nil
		}
		return e.Repo.AddViewer(ctx, tx, requestID, userID)
	})
}

func (e Engine) RemoveViewer(ctx context.Context, requestID, userID, actorID string) (domain.Request, error) {
	return e.collabOp(ctx, requestID, actorID, "request.viewer.remove", func(tx *sql.Tx, req domain.Request) error {
		return e.Repo.RemoveViewer(ctx, tx, requestID, userID)
	})
}

// PromoteViewer moves a user from the viewer to the editor set.
func (e Engine) PromoteViewer(ctx context.Context, requestID, userID, actorID string) (domain.Request, error) {
	return e.collabOp(ctx, requestID, actorID, "request.viewer.promote", func(tx *sql.Tx, req domain.Request) error {
		if userID == req.OwnerID {
			return nil
		}
		if err := e.Repo.RemoveViewer(ctx, tx, requestID, userID); err != nil {
			return err
		}
		return e.Repo.AddEditor(ctx, tx, requestID, userID)
	})
}

// DemoteEditor moves a user from the editor to the viewer set.
func (e Engine) DemoteEditor(ctx context.Context, requestID, userID, actorID string) (domain.Request, error) {
	return e.collabOp(ctx, requestID, actorID, "request.editor.demote", func(tx *sql.Tx, req domain.Request) error {
		if userID == req.OwnerID {
			return nil
		}
		if err := e.Repo.RemoveEditor(ctx, tx, requestID, userID); err != nil {
			return err
		}
		return e.Repo.AddViewer(ctx, tx, requestID, userID)
	})
}

// SetEmbargo restricts visibility. The permanent flag needs the stronger
// capability; lacking it the embargo still applies but the flag is silently
// dropped.
func (e Engine) SetEmbargo(ctx context.Context, requestID string, permanent bool, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	set, err := e.Access.Capabilities(ctx, req, actorID, "")
	if err != nil {
		return domain.Request{}, err
	}
	if !set.Has(access.CapEmbargo) {
		return domain.Request{}, access.DeniedError{Capability: access.CapEmbargo, RequestID: requestID}
	}
	if permanent && !set.Has(access.CapEmbargoPerm) {
		permanent = false
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req.Embargo = true
	req.PermanentEmbargo = permanent
	if permanent {
		req.EmbargoExpires = nil
	}
	req.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.embargo.set", "request", req.ID, actorID, events.EventPayload{"permanent": permanent}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// RemoveEmbargo clears the embargo. Any editor may unembargo; the embargo
// capability is not required here.
func (e Engine) RemoveEmbargo(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Access.Require(ctx, req, actorID, "", access.CapChange); err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req.Embargo = false
	req.PermanentEmbargo = false
	req.EmbargoExpires = nil
	req.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.embargo.remove", "request", req.ID, actorID, nil); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// GenerateAccessKey creates or rotates the share-link key. The previous key
// stops working immediately.
func (e Engine) GenerateAccessKey(ctx context.Context, requestID, actorID string) (string, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if err := e.Access.Require(ctx, req, actorID, "", access.CapChange); err != nil {
		return "", err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	key := uuid.NewString()
	req.AccessKey = &key
	req.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return "", err
	}
	if err := e.Events.Append(ctx, tx, "request.access_key.rotate", "request", req.ID, actorID, nil); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return key, nil
}
