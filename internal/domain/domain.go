package domain

// Job statuses. A job is created open, is assigned exactly once
// (open -> in_progress), and ends completed or cancelled.
const (
	JobStatusOpen       = "open"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Proposal statuses. accepted and rejected are terminal.
const (
	ProposalStatusPending  = "pending"
	ProposalStatusAccepted = "accepted"
	ProposalStatusRejected = "rejected"
)

type Job struct {
	ID                   string  `json:"id"`
	OwnerID              string  `json:"owner_id"`
	Title                string  `json:"title"`
	Description          string  `json:"description,omitempty"`
	BudgetCents          int64   `json:"budget_cents"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status" enum:"open,in_progress,completed,cancelled"`
	AssignedFreelancerID *string `json:"assigned_freelancer_id,omitempty"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// Proposal carries a denormalized copy of the job owner id so the
// accept/reject authorization check needs no join.
type Proposal struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	ApplicantID string `json:"applicant_id"`
	OwnerID     string `json:"owner_id"`
	CoverNote   string `json:"cover_note,omitempty"`
	Status      string `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Order is the engagement/billing record spawned when a proposal wins a job.
// At most one order ever exists per job.
type Order struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	ProposalID  string `json:"proposal_id"`
	OwnerID     string `json:"owner_id"`
	PerformerID string `json:"performer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Label       string `json:"label"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// ApplicationStatus reports whether an applicant has a proposal on a job.
type ApplicationStatus struct {
	HasApplied bool    `json:"has_applied"`
	Status     *string `json:"status,omitempty" enum:"pending,accepted,rejected"`
}

type Actor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
