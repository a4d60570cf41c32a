package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("mkt-1")
	eng := engine.New(conn, cfg, zerolog.Nop())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertMarketplaceConfig(ctx, "mkt-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) createJob(t *testing.T, owner string, budgetCents int64) domain.Job {
	t.Helper()
	job, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		OwnerID:     owner,
		Title:       "Build a landing page",
		BudgetCents: budgetCents,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (env testEnv) submit(t *testing.T, jobID, applicant string) domain.Proposal {
	t.Helper()
	p, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       jobID,
		ApplicantID: applicant,
	})
	if err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	return p
}

func TestSubmitProposal(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	if p.Status != domain.ProposalStatusPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}
	if p.OwnerID != "client" || p.JobID != job.ID {
		t.Fatalf("proposal not linked to job: %+v", p)
	}
	got, err := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusOpen || got.AssignedFreelancerID != nil {
		t.Fatalf("submission must not mutate the job: %+v", got)
	}
}

func TestSubmitProposalToOwnJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	_, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       job.ID,
		ApplicantID: "client",
	})
	if !errors.Is(err, engine.ErrSelfApplication) {
		t.Fatalf("expected self application error, got %v", err)
	}
}

func TestSubmitProposalMissingJob(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       "nope",
		ApplicantID: "freelancer",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicatePendingProposal(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	_, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       job.ID,
		ApplicantID: "freelancer",
	})
	if !errors.Is(err, engine.ErrDuplicatePending) {
		t.Fatalf("expected duplicate pending, got %v", err)
	}
	// after a rejection the applicant may apply again
	if _, err := env.Engine.RejectProposal(env.Ctx, p.ID, "client"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       job.ID,
		ApplicantID: "freelancer",
	}); err != nil {
		t.Fatalf("expected resubmission after rejection: %v", err)
	}
}

func TestPendingLimit(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Limits.MaxPendingPerApplicant = 2
	j1 := env.createJob(t, "client", 10000)
	j2 := env.createJob(t, "client", 10000)
	j3 := env.createJob(t, "client", 10000)
	env.submit(t, j1.ID, "freelancer")
	env.submit(t, j2.ID, "freelancer")
	_, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       j3.ID,
		ApplicantID: "freelancer",
	})
	if !errors.Is(err, engine.ErrPendingLimit) {
		t.Fatalf("expected pending limit, got %v", err)
	}
}

func TestRejectProposal(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	sibling := env.submit(t, job.ID, "other")

	// only the job owner may reject
	_, err := env.Engine.RejectProposal(env.Ctx, p.ID, "freelancer")
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}

	rejected, err := env.Engine.RejectProposal(env.Ctx, p.ID, "client")
	if err != nil || rejected.Status != domain.ProposalStatusRejected {
		t.Fatalf("reject: %v %+v", err, rejected)
	}
	// rejecting a terminal proposal fails
	_, err = env.Engine.RejectProposal(env.Ctx, p.ID, "client")
	var terminal engine.AlreadyTerminalError
	if !errors.As(err, &terminal) || terminal.Status != domain.ProposalStatusRejected {
		t.Fatalf("expected already terminal, got %v", err)
	}
	// sibling is untouched and the job is still open
	got, err := env.Engine.Repo.GetProposal(env.Ctx, sibling.ID)
	if err != nil || got.Status != domain.ProposalStatusPending {
		t.Fatalf("sibling mutated: %v %+v", err, got)
	}
	j, _ := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if j.Status != domain.JobStatusOpen {
		t.Fatalf("rejection must not touch the job: %s", j.Status)
	}
}

func TestAcceptProposal(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 75000)
	p := env.submit(t, job.ID, "freelancer")

	accepted, order, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.ProposalStatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	j, err := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobStatusInProgress || j.AssignedFreelancerID == nil || *j.AssignedFreelancerID != "freelancer" {
		t.Fatalf("job not assigned: %+v", j)
	}
	if order.AmountCents != 75000 || order.Currency != "USD" {
		t.Fatalf("order must carry the job budget: %+v", order)
	}
	if order.OwnerID != "client" || order.PerformerID != "freelancer" || order.ProposalID != p.ID {
		t.Fatalf("order parties wrong: %+v", order)
	}
	if order.Label != "Job assignment" {
		t.Fatalf("unexpected label %q", order.Label)
	}
}

func TestAcceptNotAuthorized(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	_, _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "freelancer")
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	_, _, err = env.Engine.AcceptProposal(env.Ctx, p.ID, "stranger")
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestAcceptSiblingAfterAssignment(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	winner := env.submit(t, job.ID, "freelancer-a")
	loser := env.submit(t, job.ID, "freelancer-b")

	if _, _, err := env.Engine.AcceptProposal(env.Ctx, winner.ID, "client"); err != nil {
		t.Fatalf("accept winner: %v", err)
	}
	_, _, err := env.Engine.AcceptProposal(env.Ctx, loser.ID, "client")
	if !errors.Is(err, engine.ErrJobUnavailable) {
		t.Fatalf("expected job unavailable, got %v", err)
	}
	// the losing proposal stays pending; the owner may still reject it
	got, _ := env.Engine.Repo.GetProposal(env.Ctx, loser.ID)
	if got.Status != domain.ProposalStatusPending {
		t.Fatalf("loser mutated: %s", got.Status)
	}
	if _, err := env.Engine.RejectProposal(env.Ctx, loser.ID, "client"); err != nil {
		t.Fatalf("reject loser: %v", err)
	}
}

func TestAcceptTwice(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	if _, _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client")
	var terminal engine.AlreadyTerminalError
	if !errors.As(err, &terminal) || terminal.Status != domain.ProposalStatusAccepted {
		t.Fatalf("expected already terminal, got %v", err)
	}
}

func TestSubmitAfterAssignment(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	if _, _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
		JobID:       job.ID,
		ApplicantID: "latecomer",
	})
	if !errors.Is(err, engine.ErrJobUnavailable) {
		t.Fatalf("expected job unavailable, got %v", err)
	}
}

func TestAcceptReplayAfterInterruptedAssignment(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")

	// simulate an accept that committed the job transition and then died:
	// the job is assigned but the proposal is still pending and no order
	// exists.
	applied, err := env.Engine.Repo.AssignJob(env.Ctx, job.ID, "freelancer", "2024-01-01T00:00:00Z")
	if err != nil || !applied {
		t.Fatalf("seed assignment: %v applied=%v", err, applied)
	}

	accepted, order, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client")
	if err != nil {
		t.Fatalf("replay accept: %v", err)
	}
	if accepted.Status != domain.ProposalStatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if order.ID == "" || order.AmountCents != 50000 {
		t.Fatalf("replay must create the order: %+v", order)
	}
	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM orders WHERE job_id=?`, job.ID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one order, got %d", count)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	const n = 8
	proposals := make([]domain.Proposal, n)
	for i := range proposals {
		proposals[i] = env.submit(t, job.ID, "freelancer-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range proposals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.Engine.AcceptProposal(env.Ctx, proposals[i].ID, "client")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, engine.ErrJobUnavailable):
		default:
			t.Fatalf("accept %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	var orders, accepted int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM orders WHERE job_id=?`, job.ID).Scan(&orders); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM proposals WHERE job_id=? AND status='accepted'`, job.ID).Scan(&accepted); err != nil {
		t.Fatal(err)
	}
	if orders != 1 || accepted != 1 {
		t.Fatalf("expected one order and one accepted proposal, got %d/%d", orders, accepted)
	}
	j, _ := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if j.Status != domain.JobStatusInProgress || j.AssignedFreelancerID == nil {
		t.Fatalf("job not assigned after race: %+v", j)
	}
}

func TestConcurrentSubmitSingleProposal(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.SubmitProposal(env.Ctx, engine.SubmitProposalOptions{
				JobID:       job.ID,
				ApplicantID: "freelancer",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, engine.ErrDuplicatePending):
		default:
			t.Fatalf("submit %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one submission to win, got %d", winners)
	}
	var pending int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM proposals WHERE job_id=? AND applicant_id=?`, job.ID, "freelancer").Scan(&pending); err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Fatalf("expected one proposal after race, got %d", pending)
	}
}

func TestCompleteJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	// open jobs cannot be completed
	_, err := env.Engine.CompleteJob(env.Ctx, job.ID, "client")
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	p := env.submit(t, job.ID, "freelancer")
	if _, _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err = env.Engine.CompleteJob(env.Ctx, job.ID, "freelancer")
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	done, err := env.Engine.CompleteJob(env.Ctx, job.ID, "client")
	if err != nil || done.Status != domain.JobStatusCompleted {
		t.Fatalf("complete: %v %+v", err, done)
	}
}

func TestCheckApplicationStatus(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	st, err := env.Engine.CheckApplicationStatus(env.Ctx, job.ID, "freelancer")
	if err != nil || st.HasApplied {
		t.Fatalf("expected no application: %v %+v", err, st)
	}
	p := env.submit(t, job.ID, "freelancer")
	st, err = env.Engine.CheckApplicationStatus(env.Ctx, job.ID, "freelancer")
	if err != nil || !st.HasApplied || st.Status == nil || *st.Status != domain.ProposalStatusPending {
		t.Fatalf("expected pending application: %v %+v", err, st)
	}
	// reject and resubmit under the fixed clock: both proposals share a
	// created_at, so the latest must be resolved by insertion order, not
	// by timestamp or id.
	if _, err := env.Engine.RejectProposal(env.Ctx, p.ID, "client"); err != nil {
		t.Fatal(err)
	}
	p2 := env.submit(t, job.ID, "freelancer")
	st, err = env.Engine.CheckApplicationStatus(env.Ctx, job.ID, "freelancer")
	if err != nil || st.Status == nil || *st.Status != domain.ProposalStatusPending {
		t.Fatalf("expected latest proposal to win: %v %+v", err, st)
	}
	// second cycle: three same-timestamp proposals, pending still wins
	if _, err := env.Engine.RejectProposal(env.Ctx, p2.ID, "client"); err != nil {
		t.Fatal(err)
	}
	env.submit(t, job.ID, "freelancer")
	st, err = env.Engine.CheckApplicationStatus(env.Ctx, job.ID, "freelancer")
	if err != nil || st.Status == nil || *st.Status != domain.ProposalStatusPending {
		t.Fatalf("expected latest proposal to win after second resubmit: %v %+v", err, st)
	}
}

func TestProposalsForJobOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	env.submit(t, job.ID, "freelancer-a")
	env.submit(t, job.ID, "freelancer-b")
	_, err := env.Engine.ProposalsForJob(env.Ctx, job.ID, "freelancer-a")
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	list, err := env.Engine.ProposalsForJob(env.Ctx, job.ID, "client")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two proposals: %v %d", err, len(list))
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "client", 50000)
	p := env.submit(t, job.ID, "freelancer")
	if _, _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, "client"); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type, ts FROM events ORDER BY id`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	seen := map[string]bool{}
	for rows.Next() {
		var typ, ts string
		if err := rows.Scan(&typ, &ts); err != nil {
			t.Fatal(err)
		}
		seen[typ] = true
		// events share the engine clock with the mutations they describe
		if ts != "2024-01-01T00:00:00Z" {
			t.Fatalf("event %s has ts %s, want engine clock", typ, ts)
		}
	}
	for _, want := range []string{"job.created", "proposal.submitted", "job.assigned", "proposal.accepted", "order.created"} {
		if !seen[want] {
			t.Fatalf("missing event %s (have %v)", want, seen)
		}
	}
}
