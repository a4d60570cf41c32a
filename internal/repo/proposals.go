package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const proposalColumns = `id,job_id,applicant_id,owner_id,COALESCE(cover_note,''),status,created_at,updated_at`

func scanProposal(scan func(dest ...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	err := scan(&p.ID, &p.JobID, &p.ApplicantID, &p.OwnerID, &p.CoverNote, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proposals(id,job_id,applicant_id,owner_id,cover_note,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.ApplicantID, p.OwnerID, nullable(p.CoverNote), p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

// UpdateProposalStatus moves a proposal to a terminal status.
func (r Repo) UpdateProposalStatus(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

type ProposalFilters struct {
	JobID           string
	ApplicantID     string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
	var clauses []string
	var args []any
	if f.JobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, f.JobID)
	}
	if f.ApplicantID != "" {
		clauses = append(clauses, "applicant_id=?")
		args = append(args, f.ApplicantID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + proposalColumns + ` FROM proposals ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PendingProposalExists reports whether the applicant already has a pending
// proposal on the job.
func (r Repo) PendingProposalExists(ctx context.Context, jobID, applicantID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM proposals WHERE job_id=? AND applicant_id=? AND status=? LIMIT 1`,
		jobID, applicantID, domain.ProposalStatusPending)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CountPendingByApplicant counts pending proposals an applicant holds across
// all jobs.
func (r Repo) CountPendingByApplicant(ctx context.Context, applicantID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM proposals WHERE applicant_id=? AND status=?`,
		applicantID, domain.ProposalStatusPending)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LatestProposalFor returns the most recent proposal by an applicant on a
// job, or ErrNotFound. Orders by rowid so that two proposals created within
// the same second (reject then resubmit) still resolve in insertion order;
// created_at alone has one-second granularity and ids carry no ordering.
func (r Repo) LatestProposalFor(ctx context.Context, jobID, applicantID string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE job_id=? AND applicant_id=? ORDER BY rowid DESC LIMIT 1`,
		jobID, applicantID)
	return scanProposal(row.Scan)
}
