package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"foiadesk/internal/domain"
	"foiadesk/internal/events"
	"foiadesk/internal/repo"
)

type AgencyCreateOptions struct {
	Name           string
	Jurisdiction   string
	Email          string
	Fax            string
	PortalURL      string
	Address        string
	AppealAgencyID *string
	// Approved skips the review queue; only staff set it.
	Approved bool
	ActorID  string
}

// CreateAgency registers a directory entry. Non-approved entries queue a
// review task, same as first-reference creation during composer submission.
func (e Engine) CreateAgency(ctx context.Context, opts AgencyCreateOptions) (domain.Agency, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Agency{}, ValidationError{Field: "name", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agency{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetAgencyByName(ctx, tx, name, opts.Jurisdiction); err == nil {
		return domain.Agency{}, ValidationError{Field: "name", Reason: "already registered for this jurisdiction"}
	} else if err != repo.ErrNotFound {
		return domain.Agency{}, err
	}

	a := domain.Agency{
		ID:             uuid.NewString(),
		Name:           name,
		Jurisdiction:   opts.Jurisdiction,
		Status:         "pending",
		Email:          opts.Email,
		Fax:            opts.Fax,
		PortalURL:      opts.PortalURL,
		Address:        opts.Address,
		AppealAgencyID: opts.AppealAgencyID,
		CreatedAt:      e.nowString(),
	}
	if opts.Approved {
		a.Status = "approved"
	}
	if err := e.Repo.InsertAgency(ctx, tx, a); err != nil {
		return domain.Agency{}, err
	}
	if a.Status == "pending" {
		if err := e.createTask(ctx, tx, domain.Task{Kind: domain.TaskNewAgency, AgencyID: &a.ID}); err != nil {
			return domain.Agency{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "agency.create", "agency", a.ID, opts.ActorID, events.EventPayload{"status": a.Status}); err != nil {
		return domain.Agency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agency{}, err
	}
	return a, nil
}

type AgencyUpdateOptions struct {
	Email          *string
	Fax            *string
	PortalURL      *string
	Address        *string
	Status         *string
	AppealAgencyID *string
	ActorID        string
}

func (e Engine) UpdateAgency(ctx context.Context, agencyID string, opts AgencyUpdateOptions) (domain.Agency, error) {
	a, err := e.Repo.GetAgency(ctx, agencyID)
	if err != nil {
		return domain.Agency{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agency{}, err
	}
	defer tx.Rollback()

	if opts.Email != nil {
		a.Email = strings.TrimSpace(*opts.Email)
	}
	if opts.Fax != nil {
		a.Fax = strings.TrimSpace(*opts.Fax)
	}
	if opts.PortalURL != nil {
		a.PortalURL = strings.TrimSpace(*opts.PortalURL)
	}
	if opts.Address != nil {
		a.Address = *opts.Address
	}
	if opts.AppealAgencyID != nil {
		if *opts.AppealAgencyID == "" {
			a.AppealAgencyID = nil
		} else {
			if _, err := e.Repo.GetAgencyTx(ctx, tx, *opts.AppealAgencyID); err != nil {
				return domain.Agency{}, err
			}
			a.AppealAgencyID = opts.AppealAgencyID
		}
	}
	if opts.Status != nil {
		switch *opts.Status {
		case "pending", "approved", "rejected":
			a.Status = *opts.Status
		default:
			return domain.Agency{}, InvalidStatusError{Status: *opts.Status}
		}
	}
	if err := e.Repo.UpdateAgency(ctx, tx, a); err != nil {
		return domain.Agency{}, err
	}
	if err := e.Events.Append(ctx, tx, "agency.update", "agency", a.ID, opts.ActorID, nil); err != nil {
		return domain.Agency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agency{}, err
	}
	return a, nil
}
