package engine_test

import (
	"errors"
	"testing"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
)

func TestComposerQuotaSplit(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "filer", "basic", false, 2, 1)
	var refs []engine.AgencyRef
	for _, name := range []string{"Agency A", "Agency B", "Agency C", "Agency D"} {
		a := env.seedAgency(t, name, "ny")
		refs = append(refs, engine.AgencyRef{ID: a.ID})
	}

	c, err := env.Engine.CreateComposer(env.Ctx, engine.ComposerOptions{
		Title:    "Use of force records",
		Ask:      "All use of force reports from 2025.",
		OwnerID:  "filer",
		Agencies: refs,
		ActorID:  "filer",
	})
	if err != nil {
		t.Fatalf("create composer: %v", err)
	}
	res, err := env.Engine.SubmitComposer(env.Ctx, c.ID, "filer")
	if err != nil {
		t.Fatalf("submit composer: %v", err)
	}
	// 2 monthly + 1 regular funds three of the four targets
	if len(res.Requests) != 3 {
		t.Fatalf("expected 3 filed requests, got %d", len(res.Requests))
	}
	if len(res.Unfunded) != 1 {
		t.Fatalf("expected 1 unfunded target, got %d", len(res.Unfunded))
	}
	if len(res.Failed) != 0 {
		t.Fatalf("expected no failures, got %v", res.Failed)
	}
	owner, err := env.Engine.Repo.GetUser(env.Ctx, "filer")
	if err != nil {
		t.Fatal(err)
	}
	if owner.MonthlyRequests != 0 || owner.RegularRequests != 0 {
		t.Fatalf("expected drained pools, got %d/%d", owner.MonthlyRequests, owner.RegularRequests)
	}
	if res.Composer.Status != "submitted" {
		t.Fatalf("expected composer submitted, got %s", res.Composer.Status)
	}
	for _, req := range res.Requests {
		if req.Status != "submitted" || req.ComposerID == nil {
			t.Fatalf("expected submitted composer-linked request, got %+v", req)
		}
	}
}

func TestComposerUnknownAgencyQueuesReview(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "filer", "basic", false, 4, 0)

	c, err := env.Engine.CreateComposer(env.Ctx, engine.ComposerOptions{
		Title:    "Inspection reports",
		Ask:      "All inspection reports.",
		OwnerID:  "filer",
		Agencies: []engine.AgencyRef{{Name: "Bureau of Mines", Jurisdiction: "nv"}},
		ActorID:  "filer",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(c.AgencyIDs) != 1 {
		t.Fatalf("expected one resolved agency, got %v", c.AgencyIDs)
	}
	agency, err := env.Engine.Repo.GetAgency(env.Ctx, c.AgencyIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if agency.Status != "pending" {
		t.Fatalf("expected pending agency, got %s", agency.Status)
	}
	reviewTask := env.openTask(t, domain.TaskNewAgency)
	if reviewTask.AgencyID == nil || *reviewTask.AgencyID != agency.ID {
		t.Fatalf("expected review task on %s", agency.ID)
	}

	// filing against a pending agency books the request but sends nothing
	res, err := env.Engine.SubmitComposer(env.Ctx, c.ID, "filer")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(res.Requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(res.Requests))
	}
	comms, err := env.Engine.Repo.ListCommunications(env.Ctx, res.Requests[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comms) != 0 {
		t.Fatalf("expected no dispatch before approval, got %d", len(comms))
	}

	// approval resubmits the held request
	if _, err := env.Engine.ResolveTask(env.Ctx, reviewTask.ID, engine.TaskResolution{
		ActorID: "staffer",
		Approve: boolPtr(true),
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	comms, err = env.Engine.Repo.ListCommunications(env.Ctx, res.Requests[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comms) != 1 {
		t.Fatalf("expected opening letter after approval, got %d", len(comms))
	}
	agency, err = env.Engine.Repo.GetAgency(env.Ctx, agency.ID)
	if err != nil || agency.Status != "approved" {
		t.Fatalf("expected approved agency: %v %s", err, agency.Status)
	}
}

func TestComposerImmutableAfterSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "filer", "basic", false, 4, 0)
	a := env.seedAgency(t, "Agency A", "ny")
	c, err := env.Engine.CreateComposer(env.Ctx, engine.ComposerOptions{
		Title:    "Records",
		OwnerID:  "filer",
		Agencies: []engine.AgencyRef{{ID: a.ID}},
		ActorID:  "filer",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitComposer(env.Ctx, c.ID, "filer"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.UpdateComposer(env.Ctx, c.ID, engine.ComposerOptions{Title: "New title", ActorID: "filer"})
	var ise engine.InvalidStatusError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStatusError, got %v", err)
	}
	_, err = env.Engine.SubmitComposer(env.Ctx, c.ID, "filer")
	if !errors.As(err, &ise) {
		t.Fatalf("expected double submit rejected, got %v", err)
	}
}

func TestComposerOnlyOwnerSubmits(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "filer", "basic", false, 4, 0)
	env.seedUser(t, "other", "basic", false, 4, 0)
	a := env.seedAgency(t, "Agency A", "ny")
	c, err := env.Engine.CreateComposer(env.Ctx, engine.ComposerOptions{
		Title:    "Records",
		OwnerID:  "filer",
		Agencies: []engine.AgencyRef{{ID: a.ID}},
		ActorID:  "filer",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitComposer(env.Ctx, c.ID, "other"); err == nil {
		t.Fatalf("expected denial for non-owner")
	}
	// staff may submit on the owner's behalf
	if _, err := env.Engine.SubmitComposer(env.Ctx, c.ID, "staffer"); err != nil {
		t.Fatalf("expected staff submit allowed: %v", err)
	}
}

func TestOrgPoolFundsComposer(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.EnsureOrg(env.Ctx, tx, domain.Organization{
		ID: "org-1", Name: "Newsroom", Active: true, MonthlyRequests: 2, CreatedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	orgID := "org-1"
	env.seedUser(t, "member", "org", false, 0, 0)

	a := env.seedAgency(t, "Agency A", "ny")
	b := env.seedAgency(t, "Agency B", "ny")
	c, err := env.Engine.CreateComposer(env.Ctx, engine.ComposerOptions{
		Title:    "Records",
		OwnerID:  "member",
		OrgID:    &orgID,
		Agencies: []engine.AgencyRef{{ID: a.ID}, {ID: b.ID}},
		ActorID:  "member",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.SubmitComposer(env.Ctx, c.ID, "member")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Requests) != 2 {
		t.Fatalf("expected 2 org-funded requests, got %d", len(res.Requests))
	}
	org, err := env.Engine.Repo.GetOrg(env.Ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if org.MonthlyRequests != 0 {
		t.Fatalf("expected drained org pool, got %d", org.MonthlyRequests)
	}
	// the member's personal pool is untouched
	member, err := env.Engine.Repo.GetUser(env.Ctx, "member")
	if err != nil || member.MonthlyRequests != 0 || member.RegularRequests != 0 {
		t.Fatalf("unexpected member pool change: %v %+v", err, member)
	}
}

func boolPtr(b bool) *bool { return &b }
