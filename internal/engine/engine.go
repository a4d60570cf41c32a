package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// Engine owns the proposal lifecycle and the job assignment protocol. It
// holds no state of its own; every cross-entity decision is settled against
// the store, with the job's conditional transition as the single
// serialization point for competing accepts.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log zerolog.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// eventWriter hands out the event writer with the engine's clock attached,
// so event timestamps follow Now overrides in tests.
func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) orderLabel() string {
	if e.Config != nil && e.Config.Marketplace.OrderLabel != "" {
		return e.Config.Marketplace.OrderLabel
	}
	return "Job assignment"
}

// JobCreateOptions are parameters for posting a job.
type JobCreateOptions struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	BudgetCents int64
	Currency    string
}

// CreateJob posts a new open job owned by the caller.
func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if e.Config == nil {
		return domain.Job{}, errors.New("config not loaded")
	}
	if opts.OwnerID == "" {
		return domain.Job{}, errors.New("owner is required")
	}
	if opts.Title == "" {
		return domain.Job{}, errors.New("title is required")
	}
	if opts.BudgetCents <= 0 {
		return domain.Job{}, errors.New("budget must be positive")
	}
	if opts.Currency == "" {
		opts.Currency = e.Config.Marketplace.Currency
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	j := domain.Job{
		ID:          id,
		OwnerID:     opts.OwnerID,
		Title:       opts.Title,
		Description: opts.Description,
		BudgetCents: opts.BudgetCents,
		Currency:    opts.Currency,
		Status:      domain.JobStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, j.OwnerID, now); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeJobCreated, "job", j.ID, j.OwnerID, events.EventPayload{
		"title":        j.Title,
		"budget_cents": j.BudgetCents,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// SubmitProposalOptions are parameters for applying to a job.
type SubmitProposalOptions struct {
	JobID       string
	ApplicantID string
	CoverNote   string
}

// SubmitProposal creates a pending proposal on an open job. The applicant
// may not be the job's owner, and may hold at most one pending proposal per
// job. The job itself is never mutated here.
func (e Engine) SubmitProposal(ctx context.Context, opts SubmitProposalOptions) (domain.Proposal, error) {
	if e.Config == nil {
		return domain.Proposal{}, errors.New("config not loaded")
	}
	if opts.ApplicantID == "" {
		return domain.Proposal{}, errors.New("applicant is required")
	}
	job, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if job.OwnerID == opts.ApplicantID {
		return domain.Proposal{}, ErrSelfApplication
	}
	if job.Status != domain.JobStatusOpen {
		return domain.Proposal{}, ErrJobUnavailable
	}
	exists, err := e.Repo.PendingProposalExists(ctx, opts.JobID, opts.ApplicantID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if exists {
		return domain.Proposal{}, ErrDuplicatePending
	}
	if limit := e.Config.Limits.MaxPendingPerApplicant; limit > 0 {
		pending, err := e.Repo.CountPendingByApplicant(ctx, opts.ApplicantID)
		if err != nil {
			return domain.Proposal{}, err
		}
		if pending >= limit {
			return domain.Proposal{}, ErrPendingLimit
		}
	}
	now := e.nowString()
	p := domain.Proposal{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		ApplicantID: opts.ApplicantID,
		OwnerID:     job.OwnerID,
		CoverNote:   opts.CoverNote,
		Status:      domain.ProposalStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, p.ApplicantID, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		// Concurrent submit for the same (job, applicant): the pre-check
		// passed for both, the partial unique index rejects the loser here.
		if repo.IsUniqueConstraint(err) {
			return domain.Proposal{}, ErrDuplicatePending
		}
		return domain.Proposal{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeProposalSubmitted, "proposal", p.ID, p.ApplicantID, events.EventPayload{
		"job_id": p.JobID,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// RejectProposal moves a pending proposal to rejected. Only the job owner
// may reject; accepted and rejected are both terminal. Sibling proposals on
// the same job are untouched, so the owner can reject many and still accept
// one of the remainder.
func (e Engine) RejectProposal(ctx context.Context, proposalID, actingUserID string) (domain.Proposal, error) {
	p, err := e.Repo.GetProposal(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if p.OwnerID != actingUserID {
		return domain.Proposal{}, ErrNotAuthorized
	}
	if p.Status != domain.ProposalStatusPending {
		return domain.Proposal{}, AlreadyTerminalError{Status: p.Status}
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProposalStatus(ctx, tx, p.ID, domain.ProposalStatusRejected, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeProposalRejected, "proposal", p.ID, actingUserID, events.EventPayload{
		"job_id": p.JobID,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = domain.ProposalStatusRejected
	p.UpdatedAt = now
	return p, nil
}

// AcceptProposal runs the assignment protocol. Mutual exclusion among
// concurrent accepts does not depend on proposal state at all: every
// competing proposal fights over the same job row, and the conditional
// open -> in_progress update in AssignJob is the one indivisible step.
// Whoever's update applies proceeds to mark the proposal accepted and spawn
// the order; everyone else gets ErrJobUnavailable.
func (e Engine) AcceptProposal(ctx context.Context, proposalID, actingUserID string) (domain.Proposal, domain.Order, error) {
	p, err := e.Repo.GetProposal(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, domain.Order{}, err
	}
	if p.OwnerID != actingUserID {
		return domain.Proposal{}, domain.Order{}, ErrNotAuthorized
	}
	if p.Status != domain.ProposalStatusPending {
		return domain.Proposal{}, domain.Order{}, AlreadyTerminalError{Status: p.Status}
	}
	job, err := e.Repo.GetJob(ctx, p.JobID)
	if err != nil {
		return domain.Proposal{}, domain.Order{}, err
	}

	now := e.nowString()
	applied, err := e.Repo.AssignJob(ctx, p.JobID, p.ApplicantID, now)
	if err != nil {
		return domain.Proposal{}, domain.Order{}, err
	}
	if !applied {
		// The predicate is authoritative over the read above. Reload to tell
		// a lost race from a replay of an interrupted accept: if this
		// proposal's applicant already holds the assignment while the
		// proposal is still pending, a prior accept committed the job but
		// died before finishing, and the completion below is safe to rerun.
		job, err = e.Repo.GetJob(ctx, p.JobID)
		if err != nil {
			return domain.Proposal{}, domain.Order{}, err
		}
		replay := job.Status == domain.JobStatusInProgress &&
			job.AssignedFreelancerID != nil &&
			*job.AssignedFreelancerID == p.ApplicantID
		if !replay {
			return domain.Proposal{}, domain.Order{}, ErrJobUnavailable
		}
	}

	proposal, order, err := e.completeAssignment(ctx, job, p, actingUserID, now)
	if err != nil {
		perr := &PartialAssignmentError{JobID: job.ID, ProposalID: p.ID, Err: err}
		e.Log.Error().
			Str("job_id", job.ID).
			Str("proposal_id", p.ID).
			Str("applicant_id", p.ApplicantID).
			Err(err).
			Msg("job assigned but acceptance incomplete; replay accept to finish")
		e.recordPartialAssignment(ctx, p, actingUserID, err)
		return proposal, order, perr
	}
	return proposal, order, nil
}

// completeAssignment is step two of the accept flow, reached only by the
// single caller whose conditional update applied (or its replay). It marks
// the proposal accepted and creates the order, checking for an existing
// order first so replays never bill twice.
func (e Engine) completeAssignment(ctx context.Context, job domain.Job, p domain.Proposal, actingUserID, now string) (domain.Proposal, domain.Order, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, domain.Order{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetOrderByJobTx(ctx, tx, job.ID)
	created := false
	if errors.Is(err, repo.ErrNotFound) {
		order = domain.Order{
			ID:          uuid.New().String(),
			JobID:       job.ID,
			ProposalID:  p.ID,
			OwnerID:     job.OwnerID,
			PerformerID: p.ApplicantID,
			AmountCents: job.BudgetCents,
			Currency:    job.Currency,
			Label:       e.orderLabel(),
			CreatedAt:   now,
		}
		if err := e.Repo.InsertOrder(ctx, tx, order); err != nil {
			return p, domain.Order{}, err
		}
		created = true
	} else if err != nil {
		return p, domain.Order{}, err
	}

	if err := e.Repo.UpdateProposalStatus(ctx, tx, p.ID, domain.ProposalStatusAccepted, now); err != nil {
		return p, domain.Order{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeJobAssigned, "job", job.ID, actingUserID, events.EventPayload{
		"proposal_id":   p.ID,
		"freelancer_id": p.ApplicantID,
	}); err != nil {
		return p, domain.Order{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeProposalAccepted, "proposal", p.ID, actingUserID, events.EventPayload{
		"job_id": job.ID,
	}); err != nil {
		return p, domain.Order{}, err
	}
	if created {
		if err := e.eventWriter().Append(ctx, tx, events.TypeOrderCreated, "order", order.ID, actingUserID, events.EventPayload{
			"job_id":       job.ID,
			"amount_cents": order.AmountCents,
		}); err != nil {
			return p, domain.Order{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, domain.Order{}, err
	}
	p.Status = domain.ProposalStatusAccepted
	p.UpdatedAt = now
	return p, order, nil
}

// recordPartialAssignment durably notes an assignment left without its order
// so reconciliation can find it. Best effort: the primary failure is already
// on its way to the caller.
func (e Engine) recordPartialAssignment(ctx context.Context, p domain.Proposal, actingUserID string, cause error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Log.Error().Err(err).Str("job_id", p.JobID).Msg("record partial assignment")
		return
	}
	defer tx.Rollback()
	if err := e.eventWriter().Append(ctx, tx, events.TypeAssignmentPartial, "job", p.JobID, actingUserID, events.EventPayload{
		"proposal_id": p.ID,
		"error":       cause.Error(),
	}); err != nil {
		e.Log.Error().Err(err).Str("job_id", p.JobID).Msg("record partial assignment")
		return
	}
	if err := tx.Commit(); err != nil {
		e.Log.Error().Err(err).Str("job_id", p.JobID).Msg("record partial assignment")
	}
}

// CompleteJob moves an assigned job to completed. Owner only.
func (e Engine) CompleteJob(ctx context.Context, jobID, actingUserID string) (domain.Job, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.OwnerID != actingUserID {
		return domain.Job{}, ErrNotAuthorized
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	applied, err := e.Repo.CompleteJob(ctx, tx, jobID, now)
	if err != nil {
		return domain.Job{}, err
	}
	if !applied {
		return domain.Job{}, InvalidTransitionError{From: job.Status, To: domain.JobStatusCompleted}
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeJobCompleted, "job", jobID, actingUserID, nil); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatusCompleted
	job.UpdatedAt = now
	return job, nil
}

// ProposalsForJob lists a job's proposals for its owner.
func (e Engine) ProposalsForJob(ctx context.Context, jobID, actingUserID string) ([]domain.Proposal, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != actingUserID {
		return nil, ErrNotAuthorized
	}
	return e.Repo.ListProposals(ctx, repo.ProposalFilters{JobID: jobID})
}

// CheckApplicationStatus reports whether the applicant has applied to the
// job and, if so, the status of their most recent proposal.
func (e Engine) CheckApplicationStatus(ctx context.Context, jobID, applicantID string) (domain.ApplicationStatus, error) {
	p, err := e.Repo.LatestProposalFor(ctx, jobID, applicantID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ApplicationStatus{}, nil
	}
	if err != nil {
		return domain.ApplicationStatus{}, err
	}
	status := p.Status
	return domain.ApplicationStatus{HasApplied: true, Status: &status}, nil
}
