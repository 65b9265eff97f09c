package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"foiadesk/internal/channel"
	"foiadesk/internal/classify"
	"foiadesk/internal/config"
	"foiadesk/internal/domain"
	"foiadesk/internal/engine/access"
	"foiadesk/internal/events"
	"foiadesk/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Access   access.Service
	Config   *config.Config
	Classify classify.Classifier
	Channels channel.Providers
	Letters  channel.LetterRenderer
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	var classifier classify.Classifier = classify.Noop{}
	if cfg.Classifier.URL != "" {
		classifier = classify.NewHTTP(cfg.Classifier.URL, cfg.Classifier.TimeoutSeconds)
	}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Access:   access.Service{Repo: r},
		Config:   cfg,
		Classify: classifier,
		Channels: channel.FromConfig(cfg),
		Letters:  channel.TemplateRenderer{FromAddress: cfg.Channels.FromAddress},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InvalidStatusError reports a status code outside the request enum or an
// unsupported transition source.
type InvalidStatusError struct {
	Status string
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid request status %q", e.Status)
}

// ValidationError reports malformed operator input, e.g. a bad price or
// tracking id.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var requestStatuses = map[string]bool{
	"started": true, "submitted": true, "ack": true, "processed": true,
	"fix": true, "payment": true, "appealing": true, "lawsuit": true,
	"done": true, "rejected": true, "no_docs": true, "partial": true, "abandoned": true,
}

var terminalStatuses = map[string]bool{
	"done": true, "rejected": true, "no_docs": true, "partial": true, "abandoned": true,
}

func IsTerminal(status string) bool { return terminalStatuses[status] }

func validStatus(status string) error {
	if !requestStatuses[status] {
		return InvalidStatusError{Status: status}
	}
	return nil
}

// ReplyAddress is the inbound alias agencies are asked to reply to.
func (e Engine) ReplyAddress(req domain.Request) string {
	return req.Slug + "@" + e.Config.Service.ReplyDomain
}

// RequestCreateOptions are parameters for drafting a single request outside a
// composer.
type RequestCreateOptions struct {
	AgencyID string
	OwnerID  string
	Title    string
	Ask      string
	Embargo  bool
	ActorID  string
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.Request, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Request{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.AgencyID == "" {
		return domain.Request{}, ValidationError{Field: "agency_id", Reason: "required"}
	}
	if _, err := e.Repo.GetAgency(ctx, opts.AgencyID); err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	now := e.nowString()
	req := domain.Request{
		ID:        uuid.NewString(),
		AgencyID:  opts.AgencyID,
		OwnerID:   opts.OwnerID,
		Title:     strings.TrimSpace(opts.Title),
		Status:    "started",
		Embargo:   opts.Embargo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.Slug = slugify(req.Title) + "-" + req.ID[:8]
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if opts.Ask != "" {
		// Draft body is kept as a note until submission renders the letter.
		n := domain.Note{ID: uuid.NewString(), RequestID: req.ID, AuthorID: opts.OwnerID, Body: opts.Ask, CreatedAt: now}
		if err := e.Repo.InsertNote(ctx, tx, n); err != nil {
			return domain.Request{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "request.create", "request", req.ID, opts.ActorID, events.EventPayload{"status": req.Status}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// Submit files a drafted request: consumes one allowance, dispatches the
// opening letter and moves the request to submitted.
func (e Engine) Submit(ctx context.Context, requestID, ask, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Access.Require(ctx, req, actorID, "", access.CapChange); err != nil {
		return domain.Request{}, err
	}
	if req.Status != "started" {
		return domain.Request{}, InvalidStatusError{Status: req.Status}
	}
	agency, err := e.Repo.GetAgency(ctx, req.AgencyID)
	if err != nil {
		return domain.Request{}, err
	}
	owner, err := e.Repo.GetUser(ctx, req.OwnerID)
	if err != nil {
		return domain.Request{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	split, err := e.allocateQuota(ctx, tx, owner, owner.OrgID, 1)
	if err != nil {
		return domain.Request{}, err
	}
	if split.Funded < 1 {
		return domain.Request{}, ValidationError{Field: "quota", Reason: "no request allowance remaining"}
	}

	if ask == "" {
		ask = req.Title
	}
	body := e.Letters.Render(agency.Jurisdiction, agency.Name, ask)
	now := e.nowString()
	req.Status = "submitted"
	req.DateSubmitted = &now
	req.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if _, err := e.dispatch(ctx, tx, req, agency, body, "letter", actorID); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.submit", "request", req.ID, actorID, events.EventPayload{"agency_id": agency.ID}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// SetStatus moves a request to a new status and maintains the embargo
// expiration bookkeeping around the terminal set.
func (e Engine) SetStatus(ctx context.Context, requestID, newStatus, actorID string) (domain.Request, error) {
	if err := validStatus(newStatus); err != nil {
		return domain.Request{}, err
	}
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

	req, err = e.applyStatus(ctx, tx, req, newStatus, actorID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// applyStatus performs the status change inside an open transaction so task
// resolution can compose it with its own writes.
func (e Engine) applyStatus(ctx context.Context, tx *sql.Tx, req domain.Request, newStatus, actorID string) (domain.Request, error) {
	oldStatus := req.Status
	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)

	wasTerminal := terminalStatuses[oldStatus]
	isTerminal := terminalStatuses[newStatus]

	req.Status = newStatus
	req.UpdatedAt = nowStr
	switch {
	case isTerminal && !wasTerminal:
		if req.DateDone == nil {
			req.DateDone = &nowStr
		}
		if req.Embargo && req.EmbargoExpires == nil {
			exp := now.UTC().AddDate(0, 0, e.Config.Embargo.ExpireDays).Format(time.RFC3339)
			req.EmbargoExpires = &exp
		}
	case wasTerminal && !isTerminal:
		// Reopening keeps the embargo flag but drops the scheduled expiry.
		req.EmbargoExpires = nil
		req.DateDone = nil
	}
	if newStatus == "processed" && req.DateProcessing == nil {
		req.DateProcessing = &nowStr
	}
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.status", "request", req.ID, actorID, events.EventPayload{
		"from": oldStatus, "to": newStatus,
	}); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// nonAppealable statuses cannot host an appeal: drafts have nothing to appeal
// and freshly submitted or already appealing requests must wait for a
// determination first.
var nonAppealable = map[string]bool{"started": true, "submitted": true, "appealing": true}

// Appeal files an appeal letter. Empty text or a missing capability is a
// silent no-op per the operator contract: the request is returned unchanged.
func (e Engine) Appeal(ctx context.Context, requestID, text, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if strings.TrimSpace(text) == "" {
		return req, nil
	}
	if nonAppealable[req.Status] {
		return req, nil
	}
	set, err := e.Access.Capabilities(ctx, req, actorID, "")
	if err != nil {
		return domain.Request{}, err
	}
	if !set.Has(access.CapChange) {
		return req, nil
	}
	agency, err := e.Repo.GetAgency(ctx, req.AgencyID)
	if err != nil {
		return domain.Request{}, err
	}
	if agency.AppealAgencyID != nil {
		if appealTo, err := e.Repo.GetAgency(ctx, *agency.AppealAgencyID); err == nil {
			agency = appealTo
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	comm, err := e.dispatch(ctx, tx, req, agency, text, "appeal", actorID)
	if err != nil {
		return domain.Request{}, err
	}
	a := domain.Appeal{ID: uuid.NewString(), RequestID: req.ID, CommunicationID: comm.ID, CreatedAt: e.nowString()}
	if err := e.Repo.InsertAppeal(ctx, tx, a); err != nil {
		return domain.Request{}, err
	}
	req, err = e.applyStatus(ctx, tx, req, "appealing", actorID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.appeal", "request", req.ID, actorID, events.EventPayload{"appeal_id": a.ID}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// AddNote appends an operator note to a request.
func (e Engine) AddNote(ctx context.Context, requestID, body, actorID string) (domain.Note, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Note{}, err
	}
	if err := e.Access.Require(ctx, req, actorID, "", access.CapChange); err != nil {
		return domain.Note{}, err
	}
	if strings.TrimSpace(body) == "" {
		return domain.Note{}, ValidationError{Field: "body", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Note{}, err
	}
	defer tx.Rollback()
	n := domain.Note{ID: uuid.NewString(), RequestID: requestID, AuthorID: actorID, Body: body, CreatedAt: e.nowString()}
	if err := e.Repo.InsertNote(ctx, tx, n); err != nil {
		return domain.Note{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
