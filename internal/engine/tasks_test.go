package engine_test

import (
	"strings"
	"testing"
	"time"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
	"foiadesk/internal/repo"
)

func TestResolveResponsePropagatesStatus(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	req := env.submitRequest(t, agency.ID, "tester", "Permit records")

	comm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   env.Engine.ReplyAddress(req),
		From: "clerk@agency.gov",
		Body: "Your request is complete, records attached.",
	})
	if err != nil {
		t.Fatal(err)
	}
	task := env.openTask(t, domain.TaskResponse)
	price := 12.50
	if _, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{
		ActorID:    "staffer",
		Status:     "done",
		Propagate:  true,
		TrackingID: "REQ-889",
		Price:      &price,
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	req, err = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != "done" {
		t.Fatalf("expected propagated done, got %s", req.Status)
	}
	if req.TrackingID != "REQ-889" || req.Price == nil || *req.Price != price {
		t.Fatalf("expected metadata stored, got %+v", req)
	}
	got, err := env.Engine.Repo.GetCommunication(env.Ctx, comm.ID)
	if err != nil || got.Status != "done" {
		t.Fatalf("expected communication status done: %v %s", err, got.Status)
	}
}

func TestResolveResponseMovePreservesTS(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	first := env.submitRequest(t, agency.ID, "tester", "First")
	second := env.submitRequest(t, agency.ID, "tester", "Second")

	comm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   env.Engine.ReplyAddress(first),
		From: "clerk@agency.gov",
		Body: "Actually about your other request.",
		TS:   "2026-01-05T09:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	task := env.openTask(t, domain.TaskResponse)
	if _, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{
		ActorID:    "staffer",
		RequestIDs: []string{second.ID},
	}); err != nil {
		t.Fatal(err)
	}
	moved, err := env.Engine.Repo.GetCommunication(env.Ctx, comm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.RequestID == nil || *moved.RequestID != second.ID {
		t.Fatalf("expected reassignment to %s, got %v", second.ID, moved.RequestID)
	}
	if moved.TS != "2026-01-05T09:00:00Z" {
		t.Fatalf("expected timestamp preserved across move, got %s", moved.TS)
	}
}

func TestResolveSnailMailPaymentCheck(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	req := env.submitRequest(t, agency.ID, "tester", "Deed copies")

	// the opening letter sits queued for two days before someone mails it
	opening := env.openTask(t, domain.TaskSnailMail)
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC) }
	if _, err := env.Engine.ResolveTask(env.Ctx, opening.ID, engine.TaskResolution{
		ActorID:    "staffer",
		UpdateDate: true,
	}); err != nil {
		t.Fatal(err)
	}
	comm, err := env.Engine.Repo.GetCommunication(env.Ctx, *opening.CommunicationID)
	if err != nil {
		t.Fatal(err)
	}
	if comm.TS != "2026-01-12T00:00:00Z" {
		t.Fatalf("expected mail date advanced to mailing time, got %s", comm.TS)
	}

	// the agency quotes a fee
	respComm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   env.Engine.ReplyAddress(req),
		From: "clerk@agency.gov",
		Body: "Copies cost $25.00, payable by check.",
	})
	if err != nil {
		t.Fatal(err)
	}
	respTask := env.openTask(t, domain.TaskResponse)
	if respTask.CommunicationID == nil || *respTask.CommunicationID != respComm.ID {
		t.Fatalf("unexpected response task %+v", respTask)
	}
	price := 25.0
	if _, err := env.Engine.ResolveTask(env.Ctx, respTask.ID, engine.TaskResolution{
		ActorID:   "staffer",
		Status:    "payment",
		Propagate: true,
		Price:     &price,
	}); err != nil {
		t.Fatal(err)
	}
	req, err = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil || req.Status != "payment" {
		t.Fatalf("expected payment status: %v %s", err, req.Status)
	}

	// mailing the check records the number as a request note
	if _, err := env.Engine.DispatchPayment(env.Ctx, req.ID, "Check enclosed.", "tester"); err != nil {
		t.Fatal(err)
	}
	mail := env.openTask(t, domain.TaskSnailMail)
	check := 1043
	if _, err := env.Engine.ResolveTask(env.Ctx, mail.ID, engine.TaskResolution{
		ActorID:     "staffer",
		UpdateDate:  true,
		CheckNumber: &check,
	}); err != nil {
		t.Fatalf("resolve mail: %v", err)
	}
	notes, err := env.Engine.Repo.ListNotes(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, n := range notes {
		if n.Body == "Mailed check #1043" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected check note, got %+v", notes)
	}
}

func TestResolveStaleAgencyNewEmail(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Dormant Bureau", "ny")
	req := env.submitRequest(t, agency.ID, "tester", "Old request")

	// push the clock past the jurisdiction threshold and flag
	days := env.Engine.Config.StaleDays("ny")
	env.Engine.Now = func() time.Time {
		return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days+1)
	}
	report, err := env.Engine.RunStaleScan(env.Ctx)
	if err != nil || report.Flagged != 1 {
		t.Fatalf("expected one flag: %v %+v", err, report)
	}
	task := env.openTask(t, domain.TaskStaleAgency)

	stale, err := env.Engine.StaleRequests(env.Ctx, task.ID)
	if err != nil || len(stale) != 1 || stale[0].ID != req.ID {
		t.Fatalf("expected the open request listed: %v %+v", err, stale)
	}

	if _, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{
		ActorID:    "staffer",
		Email:      "records@bureau.ny.gov",
		RequestIDs: []string{req.ID},
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	agency, err = env.Engine.Repo.GetAgency(env.Ctx, agency.ID)
	if err != nil {
		t.Fatal(err)
	}
	if agency.Email != "records@bureau.ny.gov" || agency.Stale {
		t.Fatalf("expected updated unstale agency, got %+v", agency)
	}
	comms, err := env.Engine.Repo.ListCommunications(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	var followup bool
	for _, c := range comms {
		if c.Direction == "outbound" && strings.Contains(c.Body, "new address on file") {
			followup = true
		}
	}
	if !followup {
		t.Fatalf("expected follow-up dispatched to the new address")
	}
}

func TestResolveThinReplyKeepsOpen(t *testing.T) {
	env := newTestEnv(t)
	uid := "tester"
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	task := domain.Task{
		ID: "task-flag", Kind: domain.TaskFlagged, UserID: &uid, Note: "possible duplicate",
		CreatedAt: "2026-01-09T00:00:00Z",
	}
	if err := env.Engine.Repo.InsertTask(env.Ctx, tx, task); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{
		ActorID: "staffer",
		Reply:   "Looking into it.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Resolved {
		t.Fatalf("reply alone must not resolve the task")
	}
	got, err = env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{ActorID: "staffer"})
	if err != nil || !got.Resolved {
		t.Fatalf("expected plain resolve: %v %+v", err, got)
	}
}

func TestInsertTaskBlankOptionalText(t *testing.T) {
	env := newTestEnv(t)
	uid := "tester"
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	// category and note left blank, like most system-created tasks
	task := domain.Task{
		ID: "task-bare", Kind: domain.TaskFlagged, UserID: &uid,
		CreatedAt: "2026-01-09T00:00:00Z",
	}
	if err := env.Engine.Repo.InsertTask(env.Ctx, tx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != "" || got.Note != "" {
		t.Fatalf("expected blank optional text, got %+v", got)
	}
}

func TestDeferHidesUntilDue(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	env.submitRequest(t, agency.ID, "tester", "Anything")
	task := env.openTask(t, domain.TaskSnailMail)

	if _, err := env.Engine.DeferTask(env.Ctx, task.ID, "2026-02-01", "staffer"); err != nil {
		t.Fatalf("defer: %v", err)
	}
	resolved := false
	visible, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskSnailMail, Resolved: &resolved, StaffKinds: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 0 {
		t.Fatalf("expected deferred task hidden, got %d", len(visible))
	}
	all, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskSnailMail, Resolved: &resolved, ShowAll: true, StaffKinds: true})
	if err != nil || len(all) != 1 {
		t.Fatalf("expected deferred task under show-all: %v %d", err, len(all))
	}
	// due date passed, it surfaces again
	env.Engine.Now = func() time.Time { return time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC) }
	visible, err = env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskSnailMail, Resolved: &resolved, StaffKinds: true})
	if err != nil || len(visible) != 1 {
		t.Fatalf("expected task due again: %v %d", err, len(visible))
	}
}

func TestStaffOnlyKindsHidden(t *testing.T) {
	env := newTestEnv(t)
	uid := "tester"
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	task := domain.Task{
		ID: "task-flag-2", Kind: domain.TaskFlagged, UserID: &uid, Note: "quota abuse report",
		CreatedAt: "2026-01-09T00:00:00Z",
	}
	if err := env.Engine.Repo.InsertTask(env.Ctx, tx, task); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	resolved := false
	public, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Resolved: &resolved})
	if err != nil {
		t.Fatal(err)
	}
	for _, got := range public {
		if got.Kind == domain.TaskFlagged {
			t.Fatalf("flagged task leaked to non-staff listing")
		}
	}
	staff, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Resolved: &resolved, StaffKinds: true})
	if err != nil {
		t.Fatal(err)
	}
	var seen bool
	for _, got := range staff {
		if got.ID == task.ID {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("expected flagged task in staff listing")
	}
}

func TestEnsureOneTaskCollapsesDuplicates(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, id := range []string{"dup-a", "dup-b", "dup-c"} {
		task := domain.Task{
			ID: id, Kind: domain.TaskStaleAgency, AgencyID: &agency.ID,
			CreatedAt: time.Date(2026, 1, 1, i, 0, 0, 0, time.UTC).Format(time.RFC3339),
		}
		if err := env.Engine.Repo.InsertTask(env.Ctx, tx, task); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	survivor, err := env.Engine.EnsureOneTask(env.Ctx, domain.TaskStaleAgency, agency.ID)
	if err != nil {
		t.Fatal(err)
	}
	if survivor.ID != "dup-a" {
		t.Fatalf("expected earliest task to survive, got %s", survivor.ID)
	}
	resolved := false
	remaining, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskStaleAgency, Resolved: &resolved, StaffKinds: true})
	if err != nil || len(remaining) != 1 {
		t.Fatalf("expected single survivor: %v %d", err, len(remaining))
	}
}
