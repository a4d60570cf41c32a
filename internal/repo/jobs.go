package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const jobColumns = `id,owner_id,title,COALESCE(description,''),budget_cents,currency,status,assigned_freelancer_id,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var assigned sql.NullString
	err := scan(&j.ID, &j.OwnerID, &j.Title, &j.Description, &j.BudgetCents, &j.Currency, &j.Status, &assigned, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if assigned.Valid {
		j.AssignedFreelancerID = &assigned.String
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,owner_id,title,description,budget_cents,currency,status,assigned_freelancer_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.OwnerID, j.Title, nullable(j.Description), j.BudgetCents, j.Currency, j.Status, nullableStringPtr(j.AssignedFreelancerID), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

type JobFilters struct {
	OwnerID         string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
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
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// AssignJob is the atomic conditional update at the heart of the acceptance
// protocol: transition the job open -> in_progress and record the winning
// freelancer, but only if the job is still exactly open. The predicate and
// the mutation are one statement, so concurrent accept calls racing on the
// same job see exactly one applied=true.
func (r Repo) AssignJob(ctx context.Context, jobID, freelancerID, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, assigned_freelancer_id=?, updated_at=? WHERE id=? AND status=?`,
		domain.JobStatusInProgress, freelancerID, now, jobID, domain.JobStatusOpen)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteJob conditionally transitions in_progress -> completed.
func (r Repo) CompleteJob(ctx context.Context, tx *sql.Tx, jobID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.JobStatusCompleted, now, jobID, domain.JobStatusInProgress)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r Repo) CountJobsByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM jobs`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
