package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const orderColumns = `id,job_id,proposal_id,owner_id,performer_id,amount_cents,currency,label,created_at`

func scanOrder(scan func(dest ...any) error) (domain.Order, error) {
	var o domain.Order
	err := scan(&o.ID, &o.JobID, &o.ProposalID, &o.OwnerID, &o.PerformerID, &o.AmountCents, &o.Currency, &o.Label, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orders(id,job_id,proposal_id,owner_id,performer_id,amount_cents,currency,label,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.JobID, o.ProposalID, o.OwnerID, o.PerformerID, o.AmountCents, o.Currency, o.Label, o.CreatedAt)
	return err
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

// GetOrderByJob returns the single order for a job, if one exists. The
// schema enforces at most one per job.
func (r Repo) GetOrderByJob(ctx context.Context, jobID string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE job_id=?`, jobID)
	return scanOrder(row.Scan)
}

func (r Repo) GetOrderByJobTx(ctx context.Context, tx *sql.Tx, jobID string) (domain.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE job_id=?`, jobID)
	return scanOrder(row.Scan)
}

type OrderFilters struct {
	OwnerID     string
	PerformerID string
	Limit       int
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.PerformerID != "" {
		clauses = append(clauses, "performer_id=?")
		args = append(args, f.PerformerID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " OR ")
	}
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}
