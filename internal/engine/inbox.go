package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"foiadesk/internal/domain"
	"foiadesk/internal/events"
	"foiadesk/internal/repo"
)

// InboundMessage is one incoming reply as handed over by the mail gateway.
type InboundMessage struct {
	To      string
	From    string
	Subject string
	Body    string
	// TS overrides the receipt timestamp when the gateway supplies one.
	TS string
}

// IngestInbound stores an incoming message. A recipient alias matching a
// request slug appends the message to that request and queues a response
// task; anything else is stored orphaned with an orphan task. Classification
// is advisory and its failures never block ingestion.
func (e Engine) IngestInbound(ctx context.Context, msg InboundMessage) (domain.Communication, error) {
	now := e.nowString()
	ts := msg.TS
	if ts == "" {
		ts = now
	}
	comm := domain.Communication{
		ID:        uuid.NewString(),
		Direction: "inbound",
		TS:        ts,
		From:      msg.From,
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		CreatedAt: now,
	}

	req, matched := e.matchAlias(ctx, msg.To)
	if matched {
		comm.RequestID = &req.ID
		if status, confidence, err := e.Classify.Classify(ctx, msg.Body); err == nil && status != "" {
			comm.Status = status
			comm.Confidence = &confidence
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Communication{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCommunication(ctx, tx, comm); err != nil {
		return domain.Communication{}, err
	}

	if matched {
		if err := e.createTask(ctx, tx, domain.Task{
			Kind: domain.TaskResponse, CommunicationID: &comm.ID, RequestID: &req.ID,
		}); err != nil {
			return domain.Communication{}, err
		}
	} else {
		task := domain.Task{Kind: domain.TaskOrphan, CommunicationID: &comm.ID}
		// A sender domain the operators already blacklisted self-resolves.
		if dom := senderDomain(msg.From); dom != "" {
			listed, err := e.Repo.IsBlacklisted(ctx, tx, dom)
			if err != nil {
				return domain.Communication{}, err
			}
			if listed {
				task.Resolved = true
				task.DoneAt = &now
			}
		}
		if err := e.createTask(ctx, tx, task); err != nil {
			return domain.Communication{}, err
		}
	}

	if err := e.Events.Append(ctx, tx, "communication.inbound", "communication", comm.ID, "", events.EventPayload{
		"matched": matched, "from": msg.From,
	}); err != nil {
		return domain.Communication{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Communication{}, err
	}
	return comm, nil
}

// matchAlias resolves a recipient address of the form <slug>@<reply domain>.
func (e Engine) matchAlias(ctx context.Context, to string) (domain.Request, bool) {
	addr := strings.ToLower(strings.TrimSpace(to))
	local, dom, ok := strings.Cut(addr, "@")
	if !ok || dom != strings.ToLower(e.Config.Service.ReplyDomain) {
		return domain.Request{}, false
	}
	req, err := e.Repo.GetRequestBySlug(ctx, local)
	if err == repo.ErrNotFound {
		return domain.Request{}, false
	}
	if err != nil {
		return domain.Request{}, false
	}
	return req, true
}

func senderDomain(from string) string {
	addr := strings.ToLower(strings.TrimSpace(from))
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.Trim(addr[i:], "<>")
	}
	_, dom, ok := strings.Cut(addr, "@")
	if !ok {
		return ""
	}
	return dom
}
