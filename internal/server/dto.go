package server

import (
	"encoding/json"

	"gigline/internal/domain"
)

// Request payloads

type CreateJobRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	BudgetCents int64   `json:"budget_cents"`
	Currency    *string `json:"currency,omitempty"`
}

type SubmitProposalRequest struct {
	JobID     string  `json:"job_id"`
	CoverNote *string `json:"cover_note,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type JobResponse struct {
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

type ProposalResponse struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	ApplicantID string `json:"applicant_id"`
	OwnerID     string `json:"owner_id"`
	CoverNote   string `json:"cover_note,omitempty"`
	Status      string `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type OrderResponse struct {
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

type AcceptProposalResponse struct {
	Proposal ProposalResponse `json:"proposal"`
	Order    OrderResponse    `json:"order"`
}

type ApplicationStatusResponse struct {
	HasApplied bool    `json:"has_applied"`
	Status     *string `json:"status,omitempty" enum:"pending,accepted,rejected"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedJobs struct {
	Items      []JobResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func jobResponse(j domain.Job) JobResponse {
	return JobResponse(j)
}

func proposalResponse(p domain.Proposal) ProposalResponse {
	return ProposalResponse(p)
}

func orderResponse(o domain.Order) OrderResponse {
	return OrderResponse(o)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapJobs(items []domain.Job) []JobResponse {
	res := make([]JobResponse, 0, len(items))
	for _, j := range items {
		res = append(res, jobResponse(j))
	}
	return res
}

func mapProposals(items []domain.Proposal) []ProposalResponse {
	res := make([]ProposalResponse, 0, len(items))
	for _, p := range items {
		res = append(res, proposalResponse(p))
	}
	return res
}

func mapOrders(items []domain.Order) []OrderResponse {
	res := make([]OrderResponse, 0, len(items))
	for _, o := range items {
		res = append(res, orderResponse(o))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
