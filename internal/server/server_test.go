package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"foiadesk/internal/config"
	"foiadesk/internal/db"
	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
	"foiadesk/internal/migrate"
)

const (
	testJWTSecret     = "test-secret"
	testInboundSecret = "gw-secret"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("foiadesk")
	e := engine.New(conn, cfg)
	seedServerUser(t, e, "tester", false)
	seedServerUser(t, e, "staffer", true)

	handler, err := New(Config{
		Engine: e,
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
		InboundSecret: testInboundSecret,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedServerUser(t *testing.T, e engine.Engine, id string, staff bool) {
	t.Helper()
	tx, err := e.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	u := domain.User{
		ID:              id,
		Name:            id,
		Tier:            "basic",
		Staff:           staff,
		Active:          true,
		MonthlyRequests: 4,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(context.Background(), tx, u); err != nil {
		t.Fatalf("insert user %s: %v", id, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func createTestAgency(t *testing.T, srv *testServer) domain.Agency {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agencies", map[string]any{
		"name":         "Records Office",
		"jurisdiction": "ny",
		"address":      "1 Main St",
	}, asActor("staffer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create agency: %d %s", res.StatusCode, string(data))
	}
	var out AgencyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal agency: %v", err)
	}
	return out.Agency
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	agency := createTestAgency(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "Meeting minutes 2025",
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if created.Request.Status != "started" {
		t.Fatalf("expected draft, got %s", created.Request.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.Request.ID+"/submit", map[string]any{}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var submitted RequestResponse
	_ = json.Unmarshal(data, &submitted)
	if submitted.Request.Status != "submitted" {
		t.Fatalf("expected submitted, got %s", submitted.Request.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.Request.ID+"/status", map[string]any{
		"status": "processed",
	}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests?owner=tester", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var list RequestListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Requests) != 1 || list.Requests[0].Status != "processed" {
		t.Fatalf("unexpected list %+v", list)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+created.Request.ID+"/communications", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("communications: %d %s", res.StatusCode, string(data))
	}
	var comms CommunicationListResponse
	_ = json.Unmarshal(data, &comms)
	if len(comms.Communications) != 1 {
		t.Fatalf("expected the opening letter, got %d", len(comms.Communications))
	}
}

func TestInvalidStatusRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	agency := createTestAgency(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "Anything",
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/"+created.Request.ID+"/status", map[string]any{
		"status": "teleported",
	}, asActor("tester"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestEmbargoedRequestRequiresKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	agency := createTestAgency(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "Sensitive investigation",
		"embargo":   true,
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	_ = json.Unmarshal(data, &created)
	id := created.Request.ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+id, nil, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("anonymous read of embargoed request: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+id+"/access-key", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate key: %d %s", res.StatusCode, string(data))
	}
	var keyOut AccessKeyResponse
	if err := json.Unmarshal(data, &keyOut); err != nil || keyOut.AccessKey == "" {
		t.Fatalf("unmarshal key: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+id+"?key="+keyOut.AccessKey, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("keyed read: %d %s", res.StatusCode, string(data))
	}
}

func TestInboundSecretEnforced(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	msg := map[string]any{
		"to":   "nobody@requests.foiadesk.example",
		"from": "clerk@agency.gov",
		"body": "Who is this for?",
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inbound", msg, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/inbound", msg, map[string]string{
		"X-Inbound-Secret": testInboundSecret,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", res.StatusCode, string(data))
	}
	var out InboundResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal inbound: %v", err)
	}
	if out.RequestID != nil {
		t.Fatalf("expected orphaned message, got request %v", *out.RequestID)
	}
}

func TestTaskQueueIsStaffOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, asActor("tester"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-staff, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, asActor("staffer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for staff, got %d %s", res.StatusCode, string(data))
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	agency := createTestAgency(t, srv)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "Filed with a bearer token",
	}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("jwt create: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"name": "ci",
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key KeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("unmarshal key: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "Filed with an api key",
	}, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("api key create: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "No credentials at all",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
}

func TestListFilterFlags(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	agency := createTestAgency(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/agencies?stale=false", nil, asActor("staffer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agencies stale=false: %d %s", res.StatusCode, string(data))
	}
	var fresh AgencyListResponse
	if err := json.Unmarshal(data, &fresh); err != nil || len(fresh.Agencies) != 1 {
		t.Fatalf("expected the fresh agency: %v %s", err, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agencies?stale=true", nil, asActor("staffer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agencies stale=true: %d %s", res.StatusCode, string(data))
	}
	var stale AgencyListResponse
	if err := json.Unmarshal(data, &stale); err != nil || len(stale.Agencies) != 0 {
		t.Fatalf("expected no stale agencies: %v %s", err, string(data))
	}

	// filing a request leaves an open letter task in the queue
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"agency_id": agency.ID,
		"title":     "Anything",
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	_ = json.Unmarshal(data, &created)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.Request.ID+"/submit", map[string]any{}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?resolved=false", nil, asActor("staffer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tasks resolved=false: %d %s", res.StatusCode, string(data))
	}
	var open TaskListResponse
	if err := json.Unmarshal(data, &open); err != nil || len(open.Tasks) == 0 {
		t.Fatalf("expected open tasks: %v %s", err, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?resolved=true", nil, asActor("staffer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tasks resolved=true: %d %s", res.StatusCode, string(data))
	}
	var closed TaskListResponse
	if err := json.Unmarshal(data, &closed); err != nil || len(closed.Tasks) != 0 {
		t.Fatalf("expected no resolved tasks: %v %s", err, string(data))
	}
}

func TestComposerFanOutOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	a1 := createTestAgency(t, srv)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agencies", map[string]any{
		"name":         "County Clerk",
		"jurisdiction": "ny",
		"address":      "2 Court St",
	}, asActor("staffer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("second agency: %d %s", res.StatusCode, string(data))
	}
	var a2 AgencyResponse
	_ = json.Unmarshal(data, &a2)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/composers", map[string]any{
		"title": "Use of force records",
		"ask":   "All use of force reports for 2025.",
		"agencies": []map[string]any{
			{"id": a1.ID},
			{"id": a2.Agency.ID},
		},
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create composer: %d %s", res.StatusCode, string(data))
	}
	var composer ComposerResponse
	if err := json.Unmarshal(data, &composer); err != nil {
		t.Fatalf("unmarshal composer: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/composers/"+composer.Composer.ID+"/submit", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit composer: %d %s", res.StatusCode, string(data))
	}
	var result ComposerSubmitResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Requests) != 2 || len(result.Unfunded) != 0 {
		t.Fatalf("expected both requests funded, got %+v", result)
	}
	for _, req := range result.Requests {
		if req.Status != "submitted" {
			t.Fatalf("expected submitted, got %s", req.Status)
		}
	}
}
