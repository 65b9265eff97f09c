package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"foiadesk/internal/channel"
	"foiadesk/internal/domain"
	"foiadesk/internal/events"
)

// dispatch routes one outbound message over the agency's best channel and
// records the attempt. Channel records are append-only: a retry produces a
// fresh Communication rather than mutating an earlier one. Returns the
// created Communication.
func (e Engine) dispatch(ctx context.Context, tx *sql.Tx, req domain.Request, agency domain.Agency, body, category, actorID string) (domain.Communication, error) {
	now := e.nowString()
	comm := domain.Communication{
		ID:        uuid.NewString(),
		RequestID: &req.ID,
		Direction: "outbound",
		TS:        now,
		From:      e.ReplyAddress(req),
		Subject:   req.Title,
		Body:      body,
		CreatedAt: now,
	}
	payload := channel.Payload{From: comm.From, Subject: comm.Subject, Body: body}

	switch {
	case agency.Email != "" && e.Channels.Email != nil:
		comm.To = agency.Email
		if err := e.Repo.InsertCommunication(ctx, tx, comm); err != nil {
			return domain.Communication{}, err
		}
		rec := domain.EmailRecord{ID: uuid.NewString(), CommunicationID: comm.ID, To: agency.Email}
		receipt, err := e.Channels.Email.Deliver(ctx, agency.Email, payload)
		if err != nil {
			rec.DeliveryStatus = "rejected"
			if err := e.createTask(ctx, tx, domain.Task{
				Kind: domain.TaskRejectedEmail, CommunicationID: &comm.ID, AgencyID: &agency.ID, RequestID: &req.ID,
				Note: err.Error(),
			}); err != nil {
				return domain.Communication{}, err
			}
		} else {
			rec.DeliveryStatus = "sent"
			rec.Receipt = receipt
		}
		if err := e.Repo.InsertEmailRecord(ctx, tx, rec); err != nil {
			return domain.Communication{}, err
		}

	case agency.Fax != "" && e.Channels.Fax != nil:
		comm.To = agency.Fax
		if err := e.Repo.InsertCommunication(ctx, tx, comm); err != nil {
			return domain.Communication{}, err
		}
		rec := domain.FaxRecord{ID: uuid.NewString(), CommunicationID: comm.ID, Number: agency.Fax}
		receipt, err := e.Channels.Fax.Deliver(ctx, agency.Fax, payload)
		if err != nil {
			rec.DeliveryStatus = "failed"
			rec.ErrorDetail = err.Error()
			if err := e.createTask(ctx, tx, domain.Task{
				Kind: domain.TaskFailedFax, CommunicationID: &comm.ID, AgencyID: &agency.ID, RequestID: &req.ID,
				Note: rec.ErrorDetail,
			}); err != nil {
				return domain.Communication{}, err
			}
		} else {
			rec.DeliveryStatus = "sent"
			rec.Receipt = receipt
		}
		if err := e.Repo.InsertFaxRecord(ctx, tx, rec); err != nil {
			return domain.Communication{}, err
		}

	case agency.PortalURL != "" && e.Channels.Portal != nil:
		comm.To = agency.PortalURL
		if err := e.Repo.InsertCommunication(ctx, tx, comm); err != nil {
			return domain.Communication{}, err
		}
		rec := domain.PortalRecord{ID: uuid.NewString(), CommunicationID: comm.ID, PortalURL: agency.PortalURL}
		confirmation, err := e.Channels.Portal.Deliver(ctx, agency.PortalURL, payload)
		if err != nil {
			rec.DeliveryStatus = "failed"
			if err := e.createTask(ctx, tx, domain.Task{
				Kind: domain.TaskPortal, CommunicationID: &comm.ID, AgencyID: &agency.ID, RequestID: &req.ID,
				Note: err.Error(),
			}); err != nil {
				return domain.Communication{}, err
			}
		} else {
			rec.DeliveryStatus = "sent"
			rec.Confirmation = confirmation
		}
		if err := e.Repo.InsertPortalRecord(ctx, tx, rec); err != nil {
			return domain.Communication{}, err
		}

	default:
		// Manual postal mail: the letter sits queued until an operator
		// physically sends it via the snail mail task.
		comm.To = agency.Address
		if err := e.Repo.InsertCommunication(ctx, tx, comm); err != nil {
			return domain.Communication{}, err
		}
		rec := domain.LetterRecord{ID: uuid.NewString(), CommunicationID: comm.ID, Address: agency.Address, Category: category}
		if req.Price != nil && category == "payment" {
			rec.Amount = req.Price
		}
		if err := e.Repo.InsertLetterRecord(ctx, tx, rec); err != nil {
			return domain.Communication{}, err
		}
		if err := e.createTask(ctx, tx, domain.Task{
			Kind: domain.TaskSnailMail, CommunicationID: &comm.ID, AgencyID: &agency.ID, RequestID: &req.ID,
			Category: category,
		}); err != nil {
			return domain.Communication{}, err
		}
	}

	if err := e.Events.Append(ctx, tx, "communication.outbound", "communication", comm.ID, actorID, events.EventPayload{
		"request_id": req.ID, "to": comm.To,
	}); err != nil {
		return domain.Communication{}, err
	}
	return comm, nil
}

// Dispatch sends a follow-up message on a request over its agency's channel.
func (e Engine) Dispatch(ctx context.Context, requestID, body, actorID string) (domain.Communication, error) {
	return e.dispatchCategory(ctx, requestID, body, "followup", actorID)
}

// DispatchPayment mails a fee payment for a request. The resulting snail mail
// task expects a check number to be recorded when the letter goes out.
func (e Engine) DispatchPayment(ctx context.Context, requestID, body, actorID string) (domain.Communication, error) {
	return e.dispatchCategory(ctx, requestID, body, "payment", actorID)
}

func (e Engine) dispatchCategory(ctx context.Context, requestID, body, category, actorID string) (domain.Communication, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Communication{}, err
	}
	agency, err := e.Repo.GetAgency(ctx, req.AgencyID)
	if err != nil {
		return domain.Communication{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Communication{}, err
	}
	defer tx.Rollback()
	comm, err := e.dispatch(ctx, tx, req, agency, body, category, actorID)
	if err != nil {
		return domain.Communication{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Communication{}, err
	}
	return comm, nil
}

// createTask inserts a task unless an unresolved one already points at the
// same subject. Timestamps default to the engine clock.
func (e Engine) createTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == "" {
		t.CreatedAt = e.nowString()
	}
	if ref := taskRef(t); ref != "" {
		exists, err := e.Repo.UnresolvedTaskExists(ctx, tx, t.Kind, ref)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	return e.Repo.InsertTask(ctx, tx, t)
}

func taskRef(t domain.Task) string {
	switch t.Kind {
	case domain.TaskOrphan, domain.TaskResponse, domain.TaskPortal:
		if t.CommunicationID != nil {
			return *t.CommunicationID
		}
	case domain.TaskStaleAgency, domain.TaskNewAgency, domain.TaskReviewAgency:
		if t.AgencyID != nil {
			return *t.AgencyID
		}
	case domain.TaskFlagged, domain.TaskCrowdfund:
		if t.UserID != nil {
			return *t.UserID
		}
	default:
		if t.RequestID != nil {
			return *t.RequestID
		}
	}
	return ""
}

// parseDate accepts RFC3339 or a bare date.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
