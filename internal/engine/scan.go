package engine

import (
	"context"
	"time"

	"foiadesk/internal/domain"
	"foiadesk/internal/events"
	"foiadesk/internal/repo"
)

// ScanReport summarizes one scanner run.
type ScanReport struct {
	Examined int `json:"examined"`
	Flagged  int `json:"flagged"`
	Skipped  int `json:"skipped"`
}

// RunStaleScan flags agencies whose latest reply is older than the configured
// threshold for their jurisdiction and queues one stale agency task each.
// Re-running against unchanged state is a no-op.
func (e Engine) RunStaleScan(ctx context.Context) (ScanReport, error) {
	agencies, err := e.Repo.ListAgencies(ctx, repo.AgencyFilters{Status: "approved"})
	if err != nil {
		return ScanReport{}, err
	}
	now := e.now().UTC()
	var report ScanReport
	for _, agency := range agencies {
		report.Examined++
		open, err := e.Repo.OpenRequestsForAgency(ctx, agency.ID)
		if err != nil {
			return report, err
		}
		if len(open) == 0 {
			report.Skipped++
			continue
		}
		ref, err := e.latestActivity(ctx, agency, open)
		if err != nil {
			return report, err
		}
		if ref.IsZero() {
			report.Skipped++
			continue
		}
		threshold := time.Duration(e.Config.StaleDays(agency.Jurisdiction)) * 24 * time.Hour
		if now.Sub(ref) <= threshold {
			continue
		}
		if err := e.flagStale(ctx, agency); err != nil {
			return report, err
		}
		report.Flagged++
	}
	return report, nil
}

// latestActivity is the newest inbound reply across the agency's requests,
// falling back to the newest submission date when it has never replied.
func (e Engine) latestActivity(ctx context.Context, agency domain.Agency, open []domain.Request) (time.Time, error) {
	ts, err := e.Repo.LatestInboundTS(ctx, agency.ID)
	if err != nil {
		return time.Time{}, err
	}
	if ts != "" {
		return parseDate(ts)
	}
	var latest time.Time
	for _, req := range open {
		if req.DateSubmitted == nil {
			continue
		}
		t, err := parseDate(*req.DateSubmitted)
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest, nil
}

func (e Engine) flagStale(ctx context.Context, agency domain.Agency) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if !agency.Stale {
		if err := e.Repo.SetAgencyStale(ctx, tx, agency.ID, true); err != nil {
			return err
		}
	}
	// createTask already guards against an unresolved duplicate.
	if err := e.createTask(ctx, tx, domain.Task{Kind: domain.TaskStaleAgency, AgencyID: &agency.ID}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "agency.stale", "agency", agency.ID, "", nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RunEmbargoExpiry lifts every non-permanent embargo whose expiration date
// has passed.
func (e Engine) RunEmbargoExpiry(ctx context.Context) (ScanReport, error) {
	ids, err := e.Repo.ExpiredEmbargoes(ctx, e.nowString())
	if err != nil {
		return ScanReport{}, err
	}
	report := ScanReport{Examined: len(ids)}
	for _, id := range ids {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return report, err
		}
		req, err := e.Repo.GetRequestTx(ctx, tx, id)
		if err != nil {
			tx.Rollback()
			return report, err
		}
		req.Embargo = false
		req.PermanentEmbargo = false
		req.EmbargoExpires = nil
		req.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			tx.Rollback()
			return report, err
		}
		if err := e.Events.Append(ctx, tx, "request.embargo.expire", "request", req.ID, "", events.EventPayload{}); err != nil {
			tx.Rollback()
			return report, err
		}
		if err := tx.Commit(); err != nil {
			return report, err
		}
		report.Flagged++
	}
	return report, nil
}
