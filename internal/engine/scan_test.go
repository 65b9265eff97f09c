package engine_test

import (
	"testing"
	"time"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
	"foiadesk/internal/repo"
)

func TestStaleScanFlagsAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Silent Bureau", "zz")
	env.submitRequest(t, agency.ID, "tester", "Meeting minutes")

	days := env.Engine.Config.StaleDays("zz")
	env.Engine.Now = func() time.Time {
		return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days+1)
	}
	report, err := env.Engine.RunStaleScan(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Examined != 1 || report.Flagged != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	agency, err = env.Engine.Repo.GetAgency(env.Ctx, agency.ID)
	if err != nil || !agency.Stale {
		t.Fatalf("expected agency flagged stale: %v %+v", err, agency)
	}

	// a second pass over unchanged state must not queue a duplicate task
	if _, err := env.Engine.RunStaleScan(env.Ctx); err != nil {
		t.Fatal(err)
	}
	resolved := false
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskStaleAgency, Resolved: &resolved, StaffKinds: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one stale task, got %d", len(tasks))
	}
}

func TestStaleScanSkipsWithoutOpenRequests(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Quiet Bureau", "zz")
	req := env.submitRequest(t, agency.ID, "tester", "Old business")
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, "done", "staffer"); err != nil {
		t.Fatal(err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC) }
	report, err := env.Engine.RunStaleScan(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Flagged != 0 || report.Skipped != 1 {
		t.Fatalf("expected skip, got %+v", report)
	}
}

func TestStaleScanCountsInboundReplies(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Slow Bureau", "zz")
	req := env.submitRequest(t, agency.ID, "tester", "Inspection logs")

	// the agency replied recently even though the submission is ancient
	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   env.Engine.ReplyAddress(req),
		From: "clerk@slow.zz.gov",
		Body: "Still digging through the archives.",
	}); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	report, err := env.Engine.RunStaleScan(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Flagged != 0 {
		t.Fatalf("reply within threshold, expected no flag: %+v", report)
	}
}
