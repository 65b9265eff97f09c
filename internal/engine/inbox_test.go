package engine_test

import (
	"context"
	"testing"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
	"foiadesk/internal/repo"
)

// stubClassifier always predicts the same status.
type stubClassifier struct {
	status     string
	confidence float64
}

func (s stubClassifier) Classify(ctx context.Context, text string) (string, float64, error) {
	return s.status, s.confidence, nil
}

// submitRequest drafts and files one request for the inbox tests.
func (env testEnv) submitRequest(t *testing.T, agencyID, owner, title string) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		AgencyID: agencyID, OwnerID: owner, Title: title, ActorID: owner,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req, err = env.Engine.Submit(env.Ctx, req.ID, "", owner)
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	return req
}

func (env testEnv) openTask(t *testing.T, kind string) domain.Task {
	t.Helper()
	resolved := false
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: kind, Resolved: &resolved, StaffKinds: true})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("expected an open %s task", kind)
	}
	return tasks[0]
}

func TestInboundMatchedAlias(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	req := env.submitRequest(t, agency.ID, "tester", "Budget documents")

	comm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:      env.Engine.ReplyAddress(req),
		From:    "clerk@agency.gov",
		Subject: "RE: Budget documents",
		Body:    "We received your request.",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if comm.RequestID == nil || *comm.RequestID != req.ID {
		t.Fatalf("expected attachment to %s, got %v", req.ID, comm.RequestID)
	}
	task := env.openTask(t, domain.TaskResponse)
	if task.CommunicationID == nil || *task.CommunicationID != comm.ID {
		t.Fatalf("expected response task on %s", comm.ID)
	}
}

func TestInboundUnknownAliasOrphans(t *testing.T) {
	env := newTestEnv(t)
	comm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   "nobody@" + env.Engine.Config.Service.ReplyDomain,
		From: "noreply@spam.example",
		Body: "out of office",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if comm.RequestID != nil {
		t.Fatalf("expected orphan, got attachment to %v", *comm.RequestID)
	}
	env.openTask(t, domain.TaskOrphan)
}

func TestOrphanBlacklistSelfResolves(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   "nobody@" + env.Engine.Config.Service.ReplyDomain,
		From: "Daily Digest <noreply@spam.example>",
		Body: "newsletter",
	}); err != nil {
		t.Fatal(err)
	}
	task := env.openTask(t, domain.TaskOrphan)
	resolvedTask, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{ActorID: "staffer", Blacklist: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolvedTask.Resolved {
		t.Fatalf("expected task resolved")
	}

	// the next message from the same domain self-resolves
	if _, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   "nobody@" + env.Engine.Config.Service.ReplyDomain,
		From: "other@spam.example",
		Body: "more spam",
	}); err != nil {
		t.Fatal(err)
	}
	resolved := false
	open, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskOrphan, Resolved: &resolved, StaffKinds: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open orphan tasks, got %d", len(open))
	}
}

func TestOrphanMoveFansOut(t *testing.T) {
	env := newTestEnv(t)
	agency := env.seedAgency(t, "Records Office", "ny")
	first := env.submitRequest(t, agency.ID, "tester", "First request")
	second := env.submitRequest(t, agency.ID, "tester", "Second request")

	comm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   "typo@" + env.Engine.Config.Service.ReplyDomain,
		From: "clerk@agency.gov",
		Body: "Response covering both of your requests.",
	})
	if err != nil {
		t.Fatal(err)
	}
	task := env.openTask(t, domain.TaskOrphan)
	if _, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{
		ActorID:    "staffer",
		RequestIDs: []string{first.ID, second.ID},
	}); err != nil {
		t.Fatalf("move: %v", err)
	}

	// the original attaches to the first target
	moved, err := env.Engine.Repo.GetCommunication(env.Ctx, comm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.RequestID == nil || *moved.RequestID != first.ID {
		t.Fatalf("expected original on first request, got %v", moved.RequestID)
	}
	// the second target receives a copy
	secondComms, err := env.Engine.Repo.ListCommunications(env.Ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	inbound := 0
	for _, c := range secondComms {
		if c.Direction == "inbound" {
			inbound++
		}
	}
	if inbound != 1 {
		t.Fatalf("expected 1 inbound copy on second request, got %d", inbound)
	}
	// each attachment gets its own response task
	resolved := false
	respTasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Kind: domain.TaskResponse, Resolved: &resolved, StaffKinds: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(respTasks) != 2 {
		t.Fatalf("expected 2 response tasks, got %d", len(respTasks))
	}
}

func TestOrphanMoveClassifies(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Classify = stubClassifier{status: "fix", confidence: 0.87}
	agency := env.seedAgency(t, "Records Office", "ny")
	first := env.submitRequest(t, agency.ID, "tester", "First request")
	second := env.submitRequest(t, agency.ID, "tester", "Second request")

	comm, err := env.Engine.IngestInbound(env.Ctx, engine.InboundMessage{
		To:   "typo@" + env.Engine.Config.Service.ReplyDomain,
		From: "clerk@agency.gov",
		Body: "Please clarify the date range.",
	})
	if err != nil {
		t.Fatal(err)
	}
	task := env.openTask(t, domain.TaskOrphan)
	if _, err := env.Engine.ResolveTask(env.Ctx, task.ID, engine.TaskResolution{
		ActorID:    "staffer",
		RequestIDs: []string{first.ID, second.ID},
	}); err != nil {
		t.Fatalf("move: %v", err)
	}

	// moved mail is classified like mail matched on arrival, copies included
	moved, err := env.Engine.Repo.GetCommunication(env.Ctx, comm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Status != "fix" || moved.Confidence == nil || *moved.Confidence != 0.87 {
		t.Fatalf("expected classified original, got status=%q confidence=%v", moved.Status, moved.Confidence)
	}
	secondComms, err := env.Engine.Repo.ListCommunications(env.Ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	classified := 0
	for _, c := range secondComms {
		if c.Direction == "inbound" && c.Status == "fix" {
			classified++
		}
	}
	if classified != 1 {
		t.Fatalf("expected classified copy on second request, got %d", classified)
	}
}
