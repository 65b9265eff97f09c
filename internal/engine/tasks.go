package engine

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"foiadesk/internal/domain"
	"foiadesk/internal/events"
	"foiadesk/internal/repo"
)

// TaskResolution carries the kind-specific payload for resolving a task. Only
// the fields a kind understands are consulted; the rest are ignored.
type TaskResolution struct {
	ActorID string
	// KeepOpen applies the kind actions without marking the task resolved,
	// for incremental edits from the operator UI.
	KeepOpen bool

	Status    string
	Propagate bool

	TrackingID   string
	DateEstimate string
	Price        *float64

	// RequestIDs are orphan move targets, a response move destination, or
	// the requests a stale agency's new address applies to.
	RequestIDs []string

	Blacklist   bool
	CheckNumber *int
	UpdateDate  bool

	Email               string
	Approve             *bool
	ReplacementAgencyID string

	Reply string
}

// taskResolver applies a kind's actions inside the resolution transaction and
// reports whether the task should be marked resolved.
type taskResolver func(e Engine, ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error)

var taskResolvers = map[string]taskResolver{
	domain.TaskOrphan:        Engine.resolveOrphan,
	domain.TaskResponse:      Engine.resolveResponse,
	domain.TaskSnailMail:     Engine.resolveSnailMail,
	domain.TaskStaleAgency:   Engine.resolveStaleAgency,
	domain.TaskNewAgency:     Engine.resolveAgencyReview,
	domain.TaskReviewAgency:  Engine.resolveAgencyReview,
	domain.TaskFailedFax:     Engine.resolveThin,
	domain.TaskRejectedEmail: Engine.resolveThin,
	domain.TaskFlagged:       Engine.resolveThin,
	domain.TaskCrowdfund:     Engine.resolveThin,
	domain.TaskPortal:        Engine.resolveThin,
}

// ResolveTask runs a task's kind-specific actions and, unless the payload
// says otherwise, marks it resolved. The whole resolution is one atomic unit.
func (e Engine) ResolveTask(ctx context.Context, taskID string, res TaskResolution) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	resolve := true
	if fn, ok := taskResolvers[t.Kind]; ok {
		resolve, err = fn(e, ctx, tx, t, res)
		if err != nil {
			return domain.Task{}, err
		}
	}
	if res.KeepOpen {
		resolve = false
	}
	if resolve && !t.Resolved {
		if err := e.Repo.ResolveTask(ctx, tx, t.ID, res.ActorID, e.nowString()); err != nil {
			return domain.Task{}, err
		}
		if err := e.Events.Append(ctx, tx, "task.resolve", "task", t.ID, res.ActorID, events.EventPayload{"kind": t.Kind}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// DeferTask hides a task from the undeferred queue until the given time.
func (e Engine) DeferTask(ctx context.Context, taskID, until, actorID string) (domain.Task, error) {
	if _, err := parseDate(until); err != nil {
		return domain.Task{}, ValidationError{Field: "deferred_until", Reason: "not a date"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeferTask(ctx, tx, taskID, until); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.defer", "task", taskID, actorID, events.EventPayload{"until": until}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// ListTasks returns queue entries, filtering deferred ones against the engine
// clock unless the caller asks for everything.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Now == "" {
		f.Now = e.nowString()
	}
	return e.Repo.ListTasks(ctx, f)
}

// TasksForRequest lists a request's tasks with staff-only kinds hidden from
// ordinary users.
func (e Engine) TasksForRequest(ctx context.Context, requestID, actorID string) ([]domain.Task, error) {
	staff := false
	if actorID != "" {
		if u, err := e.Repo.GetUser(ctx, actorID); err == nil {
			staff = u.Staff
		}
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		RequestID:  requestID,
		ShowAll:    true,
		StaffKinds: staff,
	})
}

// EnsureOneTask heals duplicate-task races: the earliest unresolved task for
// the kind and subject survives, later duplicates are deleted, and the
// survivor is returned.
func (e Engine) EnsureOneTask(ctx context.Context, kind, ref string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	tasks, err := e.Repo.UnresolvedTasksByRef(ctx, tx, kind, ref)
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, repo.ErrNotFound
	}
	for _, dup := range tasks[1:] {
		if err := e.Repo.DeleteTask(ctx, tx, dup.ID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, tasks[0].ID)
}

func (e Engine) resolveOrphan(ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error) {
	if t.CommunicationID == nil {
		return true, nil
	}
	comm, err := e.Repo.GetCommunicationTx(ctx, tx, *t.CommunicationID)
	if err != nil {
		return false, err
	}

	if res.Blacklist {
		dom := senderDomain(comm.From)
		if dom == "" {
			return false, ValidationError{Field: "from", Reason: "sender has no domain"}
		}
		now := e.nowString()
		if err := e.Repo.BlacklistDomain(ctx, tx, dom, now); err != nil {
			return false, err
		}
		// Every open orphan from the same domain goes with it.
		siblings, err := e.Repo.UnresolvedOrphansBySenderDomain(ctx, tx, dom)
		if err != nil {
			return false, err
		}
		for _, sib := range siblings {
			if sib.ID == t.ID {
				continue
			}
			if err := e.Repo.ResolveTask(ctx, tx, sib.ID, res.ActorID, now); err != nil {
				return false, err
			}
		}
		if err := e.Events.Append(ctx, tx, "orphan.blacklist", "communication", comm.ID, res.ActorID, events.EventPayload{"domain": dom}); err != nil {
			return false, err
		}
		return true, nil
	}

	if len(res.RequestIDs) > 0 {
		// Moved mail gets the same advisory classification as mail that
		// matched a request alias on arrival.
		if comm.Status == "" {
			if status, confidence, err := e.Classify.Classify(ctx, comm.Body); err == nil && status != "" {
				if err := e.Repo.SetCommunicationPrediction(ctx, tx, comm.ID, status, confidence); err != nil {
					return false, err
				}
				comm.Status = status
				comm.Confidence = &confidence
			}
		}
		// The original attaches to the first target; further targets get a
		// clone so each request keeps a complete correspondence log.
		for i, requestID := range res.RequestIDs {
			if _, err := e.Repo.GetRequestTx(ctx, tx, requestID); err != nil {
				return false, err
			}
			attached := comm
			if i == 0 {
				if err := e.Repo.ReassignCommunication(ctx, tx, comm.ID, &requestID); err != nil {
					return false, err
				}
			} else {
				attached.ID = uuid.NewString()
				attached.RequestID = &requestID
				if err := e.Repo.InsertCommunication(ctx, tx, attached); err != nil {
					return false, err
				}
			}
			if err := e.createTask(ctx, tx, domain.Task{
				Kind: domain.TaskResponse, CommunicationID: &attached.ID, RequestID: &requestID,
			}); err != nil {
				return false, err
			}
		}
		if err := e.Events.Append(ctx, tx, "orphan.move", "communication", comm.ID, res.ActorID, events.EventPayload{
			"requests": len(res.RequestIDs),
		}); err != nil {
			return false, err
		}
		return true, nil
	}
	return true, nil
}

func (e Engine) resolveResponse(ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error) {
	if t.CommunicationID == nil {
		return true, nil
	}
	comm, err := e.Repo.GetCommunicationTx(ctx, tx, *t.CommunicationID)
	if err != nil {
		return false, err
	}

	if len(res.RequestIDs) == 1 && (comm.RequestID == nil || *comm.RequestID != res.RequestIDs[0]) {
		// Reassignment never touches the timestamp.
		target := res.RequestIDs[0]
		if _, err := e.Repo.GetRequestTx(ctx, tx, target); err != nil {
			return false, err
		}
		if err := e.Repo.ReassignCommunication(ctx, tx, comm.ID, &target); err != nil {
			return false, err
		}
		comm.RequestID = &target
	}
	if comm.RequestID == nil {
		return true, nil
	}
	req, err := e.Repo.GetRequestTx(ctx, tx, *comm.RequestID)
	if err != nil {
		return false, err
	}

	dirty := false
	if res.TrackingID != "" {
		if len(res.TrackingID) > 255 {
			return false, ValidationError{Field: "tracking_id", Reason: "too long"}
		}
		req.TrackingID = strings.TrimSpace(res.TrackingID)
		dirty = true
	}
	if res.DateEstimate != "" {
		if _, err := parseDate(res.DateEstimate); err != nil {
			return false, ValidationError{Field: "date_estimate", Reason: "not a date"}
		}
		req.DateEstimate = &res.DateEstimate
		dirty = true
	}
	if res.Price != nil {
		if *res.Price < 0 {
			return false, ValidationError{Field: "price", Reason: "negative"}
		}
		req.Price = res.Price
		dirty = true
	}
	if dirty {
		req.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return false, err
		}
	}

	if res.Status != "" {
		if err := validStatus(res.Status); err != nil {
			return false, err
		}
		if err := e.Repo.SetCommunicationStatus(ctx, tx, comm.ID, res.Status); err != nil {
			return false, err
		}
		if res.Propagate {
			if _, err := e.applyStatus(ctx, tx, req, res.Status, res.ActorID); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

func (e Engine) resolveSnailMail(ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error) {
	if t.CommunicationID == nil {
		return true, nil
	}
	comm, err := e.Repo.GetCommunicationTx(ctx, tx, *t.CommunicationID)
	if err != nil {
		return false, err
	}

	if res.UpdateDate {
		// The letter went into the mail now, not when it was drafted.
		if err := e.Repo.SetCommunicationTS(ctx, tx, comm.ID, e.nowString()); err != nil {
			return false, err
		}
	}
	if res.CheckNumber != nil {
		letter, err := e.Repo.GetLetterByCommunication(ctx, tx, comm.ID)
		if err != nil {
			return false, err
		}
		if err := e.Repo.SetLetterCheckNumber(ctx, tx, letter.ID, *res.CheckNumber); err != nil {
			return false, err
		}
		if letter.Category == "payment" && comm.RequestID != nil {
			n := domain.Note{
				ID:        uuid.NewString(),
				RequestID: *comm.RequestID,
				AuthorID:  res.ActorID,
				Body:      "Mailed check #" + strconv.Itoa(*res.CheckNumber),
				CreatedAt: e.nowString(),
			}
			if err := e.Repo.InsertNote(ctx, tx, n); err != nil {
				return false, err
			}
		}
	}
	if res.Status != "" && comm.RequestID != nil {
		if err := validStatus(res.Status); err != nil {
			return false, err
		}
		if err := e.Repo.SetCommunicationStatus(ctx, tx, comm.ID, res.Status); err != nil {
			return false, err
		}
		if res.Propagate {
			req, err := e.Repo.GetRequestTx(ctx, tx, *comm.RequestID)
			if err != nil {
				return false, err
			}
			if _, err := e.applyStatus(ctx, tx, req, res.Status, res.ActorID); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

func (e Engine) resolveStaleAgency(ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error) {
	if t.AgencyID == nil {
		return true, nil
	}
	if res.Email == "" {
		return true, nil
	}
	if !strings.Contains(res.Email, "@") {
		return false, ValidationError{Field: "email", Reason: "not an address"}
	}
	agency, err := e.Repo.GetAgencyTx(ctx, tx, *t.AgencyID)
	if err != nil {
		return false, err
	}
	agency.Email = strings.TrimSpace(res.Email)
	if err := e.Repo.UpdateAgency(ctx, tx, agency); err != nil {
		return false, err
	}
	for _, requestID := range res.RequestIDs {
		req, err := e.Repo.GetRequestTx(ctx, tx, requestID)
		if err != nil {
			return false, err
		}
		body := "Following up on the request below; please confirm receipt at the new address on file.\n\n" +
			e.Letters.Render(agency.Jurisdiction, agency.Name, req.Title)
		if _, err := e.dispatch(ctx, tx, req, agency, body, "followup", res.ActorID); err != nil {
			return false, err
		}
	}
	if err := e.Repo.SetAgencyStale(ctx, tx, agency.ID, false); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "agency.email.update", "agency", agency.ID, res.ActorID, events.EventPayload{
		"email": agency.Email, "requests": len(res.RequestIDs),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) resolveAgencyReview(ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error) {
	if t.AgencyID == nil || res.Approve == nil {
		return true, nil
	}
	agency, err := e.Repo.GetAgencyTx(ctx, tx, *t.AgencyID)
	if err != nil {
		return false, err
	}

	if *res.Approve {
		agency.Status = "approved"
		if err := e.Repo.UpdateAgency(ctx, tx, agency); err != nil {
			return false, err
		}
		// Requests filed while the agency was pending finally go out.
		pending, err := e.Repo.NonDraftRequestsForAgency(ctx, tx, agency.ID)
		if err != nil {
			return false, err
		}
		for _, req := range pending {
			ask := req.Title
			if req.ComposerID != nil {
				if c, err := e.Repo.GetComposerTx(ctx, tx, *req.ComposerID); err == nil && c.Ask != "" {
					ask = c.Ask
				}
			}
			body := e.Letters.Render(agency.Jurisdiction, agency.Name, ask)
			if _, err := e.dispatch(ctx, tx, req, agency, body, "letter", res.ActorID); err != nil {
				return false, err
			}
		}
		if err := e.Events.Append(ctx, tx, "agency.approve", "agency", agency.ID, res.ActorID, events.EventPayload{
			"resubmitted": len(pending),
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	if res.ReplacementAgencyID == "" {
		return false, ValidationError{Field: "replacement_agency_id", Reason: "required to reject"}
	}
	replacement, err := e.Repo.GetAgencyTx(ctx, tx, res.ReplacementAgencyID)
	if err != nil {
		return false, err
	}
	agency.Status = "rejected"
	if err := e.Repo.UpdateAgency(ctx, tx, agency); err != nil {
		return false, err
	}
	orphaned, err := e.Repo.NonDraftRequestsForAgency(ctx, tx, agency.ID)
	if err != nil {
		return false, err
	}
	for _, req := range orphaned {
		req.AgencyID = replacement.ID
		req.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return false, err
		}
	}
	if err := e.Events.Append(ctx, tx, "agency.reject", "agency", agency.ID, res.ActorID, events.EventPayload{
		"replacement": replacement.ID, "reassigned": len(orphaned),
	}); err != nil {
		return false, err
	}
	return true, nil
}

// resolveThin covers the kinds with no state of their own. A reply notifies
// the originating user without forcing resolution.
func (e Engine) resolveThin(ctx context.Context, tx *sql.Tx, t domain.Task, res TaskResolution) (bool, error) {
	if res.Reply == "" {
		return true, nil
	}
	userID := ""
	if t.UserID != nil {
		userID = *t.UserID
	} else if t.RequestID != nil {
		if req, err := e.Repo.GetRequestTx(ctx, tx, *t.RequestID); err == nil {
			userID = req.OwnerID
		}
	}
	if err := e.Events.Append(ctx, tx, "task.reply", "task", t.ID, res.ActorID, events.EventPayload{
		"user_id": userID, "text": res.Reply,
	}); err != nil {
		return false, err
	}
	return false, nil
}

// StaleRequests reports the unresponsive requests behind a stale agency task,
// oldest submission first.
func (e Engine) StaleRequests(ctx context.Context, taskID string) ([]domain.Request, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.AgencyID == nil {
		return nil, nil
	}
	return e.Repo.OpenRequestsForAgency(ctx, *t.AgencyID)
}

// StalestRequest returns the longest-waiting request for the task's agency.
func (e Engine) StalestRequest(ctx context.Context, taskID string) (domain.Request, error) {
	reqs, err := e.StaleRequests(ctx, taskID)
	if err != nil {
		return domain.Request{}, err
	}
	if len(reqs) == 0 {
		return domain.Request{}, repo.ErrNotFound
	}
	return reqs[0], nil
}

