package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("gigline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, zerolog.Nop())
	if err := e.Repo.UpsertMarketplaceConfig(context.Background(), cfg.Marketplace.ID, cfg); err != nil {
		t.Fatalf("seed marketplace config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			Logger:                 zerolog.Nop(),
		},
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

func asActor(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func createJob(t *testing.T, srv *testServer, owner string) JobResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":        "Design a logo",
		"budget_cents": 30000,
	}, asActor(owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job status %d: %s", res.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	return job
}

func submitProposal(t *testing.T, srv *testServer, jobID, applicant string) ProposalResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/proposals", map[string]any{
		"job_id": jobID,
	}, asActor(applicant))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit proposal status %d: %s", res.StatusCode, string(data))
	}
	var p ProposalResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	return p
}

func TestAcceptFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	job := createJob(t, srv, "client")
	p := submitProposal(t, srv, job.ID, "freelancer")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+p.ID+"/accept", nil, asActor("client"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var accepted AcceptProposalResponse
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	if accepted.Proposal.Status != "accepted" {
		t.Fatalf("expected accepted, got %s", accepted.Proposal.Status)
	}
	if accepted.Order.AmountCents != 30000 || accepted.Order.PerformerID != "freelancer" {
		t.Fatalf("unexpected order: %+v", accepted.Order)
	}

	jobRes, jobData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+job.ID, nil, asActor("client"))
	if jobRes.StatusCode != http.StatusOK {
		t.Fatalf("get job status %d: %s", jobRes.StatusCode, string(jobData))
	}
	var fetched JobResponse
	_ = json.Unmarshal(jobData, &fetched)
	if fetched.Status != "in_progress" || fetched.AssignedFreelancerID == nil || *fetched.AssignedFreelancerID != "freelancer" {
		t.Fatalf("job not assigned: %+v", fetched)
	}
}

func TestAcceptConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	job := createJob(t, srv, "client")
	winner := submitProposal(t, srv, job.ID, "freelancer-a")
	loser := submitProposal(t, srv, job.ID, "freelancer-b")

	// only the owner may accept
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+winner.ID+"/accept", nil, asActor("freelancer-a"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+winner.ID+"/accept", nil, asActor("client"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept winner: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+loser.ID+"/accept", nil, asActor("client"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for sibling, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "job_unavailable" {
		t.Fatalf("expected job_unavailable, got %q (%s)", envelope.Error.Code, string(data))
	}
}

func TestSubmitProposalErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	job := createJob(t, srv, "client")

	// self application
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals", map[string]any{
		"job_id": job.ID,
	}, asActor("client"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for self application, got %d: %s", res.StatusCode, string(data))
	}

	submitProposal(t, srv, job.ID, "freelancer")
	// duplicate pending
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals", map[string]any{
		"job_id": job.ID,
	}, asActor("freelancer"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d: %s", res.StatusCode, string(data))
	}

	// unknown job
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals", map[string]any{
		"job_id": "missing",
	}, asActor("freelancer"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestApplicationStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	job := createJob(t, srv, "client")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+job.ID+"/application-status", nil, asActor("freelancer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var st ApplicationStatusResponse
	_ = json.Unmarshal(data, &st)
	if st.HasApplied {
		t.Fatalf("expected no application: %+v", st)
	}

	submitProposal(t, srv, job.ID, "freelancer")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+job.ID+"/application-status", nil, asActor("freelancer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &st)
	if !st.HasApplied || st.Status == nil || *st.Status != "pending" {
		t.Fatalf("expected pending application: %+v", st)
	}
}

func TestProposalListOwnerOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	job := createJob(t, srv, "client")
	submitProposal(t, srv, job.ID, "freelancer")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+job.ID+"/proposals", nil, asActor("freelancer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+job.ID+"/proposals", nil, asActor("client"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list proposals: %d %s", res.StatusCode, string(data))
	}
	var items []ProposalResponse
	if err := json.Unmarshal(data, &items); err != nil || len(items) != 1 {
		t.Fatalf("expected one proposal: %v %s", err, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// health is open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "client",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "client" || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestOrdersScopedToParties(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	job := createJob(t, srv, "client")
	p := submitProposal(t, srv, job.ID, "freelancer")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+p.ID+"/accept", nil, asActor("client"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	var accepted AcceptProposalResponse
	_ = json.Unmarshal(data, &accepted)

	for _, actor := range []string{"client", "freelancer"} {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/orders/"+accepted.Order.ID, nil, asActor(actor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("get order as %s: %d %s", actor, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/orders/"+accepted.Order.ID, nil, asActor("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d: %s", res.StatusCode, string(data))
	}
}
