package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine/access"
	"foiadesk/internal/events"
	"foiadesk/internal/repo"
)

// quotaSplit records how many allowances a draw actually consumed from each
// pool.
type quotaSplit struct {
	Monthly int
	Regular int
	Funded  int
}

// allocateQuota draws n allowances, monthly pool first then the standing
// regular balance. Org members draw the shared organization pools. The split
// may fund fewer than n; the caller decides what to do with the shortfall.
func (e Engine) allocateQuota(ctx context.Context, tx *sql.Tx, owner domain.User, orgID *string, n int) (quotaSplit, error) {
	if orgID != nil {
		org, err := e.Repo.GetOrgTx(ctx, tx, *orgID)
		if err != nil {
			return quotaSplit{}, err
		}
		split := drawPools(org.MonthlyRequests, org.RegularRequests, n)
		if err := e.Repo.UpdateOrgQuota(ctx, tx, org.ID, org.MonthlyRequests-split.Monthly, org.RegularRequests-split.Regular); err != nil {
			return quotaSplit{}, err
		}
		return split, nil
	}

	owner, err := e.refreshMonthlyPool(ctx, tx, owner)
	if err != nil {
		return quotaSplit{}, err
	}
	split := drawPools(owner.MonthlyRequests, owner.RegularRequests, n)
	if err := e.Repo.UpdateUserQuota(ctx, tx, owner.ID, owner.MonthlyRequests-split.Monthly, owner.RegularRequests-split.Regular); err != nil {
		return quotaSplit{}, err
	}
	return split, nil
}

// returnQuota credits unused allowances back to the pools they came from.
func (e Engine) returnQuota(ctx context.Context, tx *sql.Tx, ownerID string, orgID *string, monthly, regular int) error {
	if monthly == 0 && regular == 0 {
		return nil
	}
	if orgID != nil {
		org, err := e.Repo.GetOrgTx(ctx, tx, *orgID)
		if err != nil {
			return err
		}
		return e.Repo.UpdateOrgQuota(ctx, tx, org.ID, org.MonthlyRequests+monthly, org.RegularRequests+regular)
	}
	owner, err := e.Repo.GetUserTx(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	return e.Repo.UpdateUserQuota(ctx, tx, owner.ID, owner.MonthlyRequests+monthly, owner.RegularRequests+regular)
}

// refreshMonthlyPool resets the monthly allowance when the reset date has
// passed and schedules the next reset a month out.
func (e Engine) refreshMonthlyPool(ctx context.Context, tx *sql.Tx, u domain.User) (domain.User, error) {
	if u.MonthlyResetDate == "" {
		return u, nil
	}
	reset, err := parseDate(u.MonthlyResetDate)
	if err != nil {
		return u, fmt.Errorf("monthly_reset_date: %w", err)
	}
	now := e.now().UTC()
	if now.Before(reset) {
		return u, nil
	}
	u.MonthlyRequests = e.Config.MonthlyQuota(u.Tier)
	u.MonthlyResetDate = now.AddDate(0, 1, 0).Format(time.RFC3339)
	if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
		return u, err
	}
	return u, nil
}

func drawPools(monthly, regular, n int) quotaSplit {
	var s quotaSplit
	s.Monthly = min(n, monthly)
	s.Regular = min(n-s.Monthly, regular)
	s.Funded = s.Monthly + s.Regular
	return s
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// AgencyRef identifies a submission target either by ID or by a free-form
// name plus jurisdiction. Unrecognized names create pending agencies.
type AgencyRef struct {
	ID           string
	Name         string
	Jurisdiction string
}

type ComposerOptions struct {
	Title    string
	Ask      string
	OwnerID  string
	OrgID    *string
	Agencies []AgencyRef
	ActorID  string
}

func (e Engine) CreateComposer(ctx context.Context, opts ComposerOptions) (domain.Composer, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Composer{}, ValidationError{Field: "title", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Composer{}, err
	}
	defer tx.Rollback()

	now := e.nowString()
	c := domain.Composer{
		ID:        uuid.NewString(),
		OwnerID:   opts.OwnerID,
		OrgID:     opts.OrgID,
		Title:     strings.TrimSpace(opts.Title),
		Ask:       opts.Ask,
		Status:    "started",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertComposer(ctx, tx, c); err != nil {
		return domain.Composer{}, err
	}
	c.AgencyIDs, err = e.resolveAgencies(ctx, tx, opts.Agencies, opts.ActorID)
	if err != nil {
		return domain.Composer{}, err
	}
	if err := e.Repo.SetComposerAgencies(ctx, tx, c.ID, c.AgencyIDs); err != nil {
		return domain.Composer{}, err
	}
	if err := e.Events.Append(ctx, tx, "composer.create", "composer", c.ID, opts.ActorID, nil); err != nil {
		return domain.Composer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Composer{}, err
	}
	return c, nil
}

// UpdateComposer is the autosave path. Submitted composers are immutable.
func (e Engine) UpdateComposer(ctx context.Context, composerID string, opts ComposerOptions) (domain.Composer, error) {
	c, err := e.Repo.GetComposer(ctx, composerID)
	if err != nil {
		return domain.Composer{}, err
	}
	if opts.ActorID != c.OwnerID {
		return domain.Composer{}, access.DeniedError{Capability: access.CapChange, RequestID: composerID}
	}
	if c.Status != "started" {
		return domain.Composer{}, InvalidStatusError{Status: c.Status}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Composer{}, err
	}
	defer tx.Rollback()

	if opts.Title != "" {
		c.Title = strings.TrimSpace(opts.Title)
	}
	if opts.Ask != "" {
		c.Ask = opts.Ask
	}
	c.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateComposer(ctx, tx, c); err != nil {
		return domain.Composer{}, err
	}
	if opts.Agencies != nil {
		c.AgencyIDs, err = e.resolveAgencies(ctx, tx, opts.Agencies, opts.ActorID)
		if err != nil {
			return domain.Composer{}, err
		}
		if err := e.Repo.SetComposerAgencies(ctx, tx, c.ID, c.AgencyIDs); err != nil {
			return domain.Composer{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Composer{}, err
	}
	return c, nil
}

// resolveAgencies maps refs to agency IDs, registering a pending Agency plus
// a review task for every name the directory does not know yet.
func (e Engine) resolveAgencies(ctx context.Context, tx *sql.Tx, refs []AgencyRef, actorID string) ([]string, error) {
	var ids []string
	for _, ref := range refs {
		if ref.ID != "" {
			if _, err := e.Repo.GetAgencyTx(ctx, tx, ref.ID); err != nil {
				return nil, err
			}
			ids = append(ids, ref.ID)
			continue
		}
		name := strings.TrimSpace(ref.Name)
		if name == "" {
			return nil, ValidationError{Field: "agency", Reason: "name or id required"}
		}
		a, err := e.Repo.GetAgencyByName(ctx, tx, name, ref.Jurisdiction)
		if err == repo.ErrNotFound {
			a = domain.Agency{
				ID:           uuid.NewString(),
				Name:         name,
				Jurisdiction: ref.Jurisdiction,
				Status:       "pending",
				CreatedAt:    e.nowString(),
			}
			if err := e.Repo.InsertAgency(ctx, tx, a); err != nil {
				return nil, err
			}
			if err := e.createTask(ctx, tx, domain.Task{Kind: domain.TaskNewAgency, AgencyID: &a.ID}); err != nil {
				return nil, err
			}
			if err := e.Events.Append(ctx, tx, "agency.create", "agency", a.ID, actorID, events.EventPayload{"status": a.Status}); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// ComposerSubmitResult reports the per-agency outcome of a submission.
type ComposerSubmitResult struct {
	Composer domain.Composer
	Requests []domain.Request
	// Unfunded agencies had no allowance left; no Request was created for
	// them and nothing was consumed on their behalf.
	Unfunded []string
	// Failed agencies had an allowance reserved but request creation broke;
	// the allowance was credited back.
	Failed []string
}

// SubmitComposer fans the draft out into one Request per target agency. Quota
// is reserved up front; a failure for one agency never rolls back its
// siblings, it just returns that slot's allowance.
func (e Engine) SubmitComposer(ctx context.Context, composerID, actorID string) (ComposerSubmitResult, error) {
	c, err := e.Repo.GetComposer(ctx, composerID)
	if err != nil {
		return ComposerSubmitResult{}, err
	}
	if actorID != c.OwnerID {
		actor, err := e.Repo.GetUser(ctx, actorID)
		if err != nil || !actor.Staff {
			return ComposerSubmitResult{}, access.DeniedError{Capability: access.CapChange, RequestID: composerID}
		}
	}
	if c.Status != "started" {
		return ComposerSubmitResult{}, InvalidStatusError{Status: c.Status}
	}
	if len(c.AgencyIDs) == 0 {
		return ComposerSubmitResult{}, ValidationError{Field: "agencies", Reason: "at least one target required"}
	}
	owner, err := e.Repo.GetUser(ctx, c.OwnerID)
	if err != nil {
		return ComposerSubmitResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ComposerSubmitResult{}, err
	}
	defer tx.Rollback()

	split, err := e.allocateQuota(ctx, tx, owner, c.OrgID, len(c.AgencyIDs))
	if err != nil {
		return ComposerSubmitResult{}, err
	}
	now := e.nowString()
	c.Status = "submitted"
	c.SubmittedAt = &now
	c.UpdatedAt = now
	if err := e.Repo.UpdateComposer(ctx, tx, c); err != nil {
		return ComposerSubmitResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "composer.submit", "composer", c.ID, actorID, events.EventPayload{
		"agencies": len(c.AgencyIDs), "monthly": split.Monthly, "regular": split.Regular,
	}); err != nil {
		return ComposerSubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ComposerSubmitResult{}, err
	}

	res := ComposerSubmitResult{Composer: c}
	for i, agencyID := range c.AgencyIDs {
		if i >= split.Funded {
			res.Unfunded = append(res.Unfunded, agencyID)
			continue
		}
		req, err := e.fileComposerRequest(ctx, c, agencyID, actorID)
		if err != nil {
			res.Failed = append(res.Failed, agencyID)
			// Credit the slot back to whichever pool funded it.
			monthly, regular := 0, 1
			if i < split.Monthly {
				monthly, regular = 1, 0
			}
			if rtx, rerr := e.DB.BeginTx(ctx, nil); rerr == nil {
				if rerr = e.returnQuota(ctx, rtx, c.OwnerID, c.OrgID, monthly, regular); rerr == nil {
					rtx.Commit()
				} else {
					rtx.Rollback()
				}
			}
			continue
		}
		res.Requests = append(res.Requests, req)
	}
	return res, nil
}

// fileComposerRequest creates and dispatches one Request in its own
// transaction. Pending agencies get the Request on the books but no letter
// until approval resubmits them.
func (e Engine) fileComposerRequest(ctx context.Context, c domain.Composer, agencyID, actorID string) (domain.Request, error) {
	agency, err := e.Repo.GetAgency(ctx, agencyID)
	if err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	now := e.nowString()
	req := domain.Request{
		ID:            uuid.NewString(),
		ComposerID:    &c.ID,
		AgencyID:      agencyID,
		OwnerID:       c.OwnerID,
		Title:         c.Title,
		Status:        "submitted",
		DateSubmitted: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	req.Slug = slugify(req.Title) + "-" + req.ID[:8]
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if agency.Status == "approved" {
		body := e.Letters.Render(agency.Jurisdiction, agency.Name, c.Ask)
		if _, err := e.dispatch(ctx, tx, req, agency, body, "letter", actorID); err != nil {
			return domain.Request{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "request.submit", "request", req.ID, actorID, events.EventPayload{
		"composer_id": c.ID, "agency_id": agencyID,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}
