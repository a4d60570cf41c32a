package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model.
type Job struct {
	ID                   string  `json:"id"`
	OwnerID              string  `json:"owner_id"`
	Title                string  `json:"title"`
	Description          string  `json:"description,omitempty"`
	BudgetCents          int64   `json:"budget_cents"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	AssignedFreelancerID *string `json:"assigned_freelancer_id,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// Proposal represents a freelancer's application to a job.
type Proposal struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	ApplicantID string `json:"applicant_id"`
	OwnerID     string `json:"owner_id"`
	CoverNote   string `json:"cover_note,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Order is the billing record minted when a proposal is accepted.
type Order struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	ProposalID  string `json:"proposal_id"`
	OwnerID     string `json:"owner_id"`
	PerformerID string `json:"performer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Label       string `json:"label,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// AcceptResult pairs the accepted proposal with its order.
type AcceptResult struct {
	Proposal Proposal `json:"proposal"`
	Order    Order    `json:"order"`
}

// ApplicationStatus reports whether an applicant has a proposal on a job.
type ApplicationStatus struct {
	HasApplied bool    `json:"has_applied"`
	Status     *string `json:"status,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedJobs wraps job listings with cursors.
type PaginatedJobs struct {
	Items      []Job  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateJob posts a job owned by the authenticated actor.
func (c *Client) CreateJob(ctx context.Context, title, description string, budgetCents int64) (Job, error) {
	body := map[string]any{
		"title":        title,
		"description":  description,
		"budget_cents": budgetCents,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v1/jobs", body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v1/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Jobs returns a paginated job listing.
func (c *Client) Jobs(ctx context.Context, limit int, cursor string) (PaginatedJobs, error) {
	endpoint := "v1/jobs" + query(limit, cursor)
	var resp PaginatedJobs
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteJob marks an assigned job completed.
func (c *Client) CompleteJob(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/jobs/%s/complete", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SubmitProposal applies to a job on behalf of the authenticated actor.
func (c *Client) SubmitProposal(ctx context.Context, jobID, coverNote string) (Proposal, error) {
	body := map[string]any{
		"job_id":     jobID,
		"cover_note": coverNote,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v1/proposals", body, &resp)
	return resp, err
}

// AcceptProposal accepts a proposal, assigning the job and minting an order.
func (c *Client) AcceptProposal(ctx context.Context, id string) (AcceptResult, error) {
	var resp AcceptResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/proposals/%s/accept", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RejectProposal rejects a pending proposal.
func (c *Client) RejectProposal(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/proposals/%s/reject", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// JobProposals lists a job's proposals; only the job owner may call this.
func (c *Client) JobProposals(ctx context.Context, jobID string) ([]Proposal, error) {
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/jobs/%s/proposals", url.PathEscape(jobID)), nil, &resp)
	return resp, err
}

// ApplicationStatus reports whether the authenticated actor has applied to a job.
func (c *Client) ApplicationStatus(ctx context.Context, jobID string) (ApplicationStatus, error) {
	var resp ApplicationStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/jobs/%s/application-status", url.PathEscape(jobID)), nil, &resp)
	return resp, err
}

// Orders lists orders where the authenticated actor is a party.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var resp []Order
	err := c.do(ctx, http.MethodGet, "v1/orders", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v1/events" + query(limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func query(limit int, cursor string) string {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
