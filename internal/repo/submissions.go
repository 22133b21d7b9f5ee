package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"examline/internal/domain"
)

const submissionColumns = `id,demand_id,name,handle,COALESCE(email,''),payout_key,proof_path,code,status,note,paid_amount,created_at,notified_at,deadline_at,analyzed_at,paid_at`

func scanSubmission(scan func(dest ...any) error) (domain.Submission, error) {
	var s domain.Submission
	var proofPath, note, paidAmount, notifiedAt, deadlineAt, analyzedAt, paidAt sql.NullString
	err := scan(&s.ID, &s.DemandID, &s.Name, &s.Handle, &s.Email, &s.PayoutKey, &proofPath, &s.Code, &s.Status, &note, &paidAmount, &s.CreatedAt, &notifiedAt, &deadlineAt, &analyzedAt, &paidAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if proofPath.Valid {
		s.ProofPath = &proofPath.String
	}
	if note.Valid {
		s.Note = &note.String
	}
	if paidAmount.Valid {
		amount, err := decimal.NewFromString(paidAmount.String)
		if err != nil {
			return s, fmt.Errorf("submission %d has invalid paid_amount %q: %w", s.ID, paidAmount.String, err)
		}
		s.PaidAmount = &amount
	}
	if notifiedAt.Valid {
		s.NotifiedAt = &notifiedAt.String
	}
	if deadlineAt.Valid {
		s.DeadlineAt = &deadlineAt.String
	}
	if analyzedAt.Valid {
		s.AnalyzedAt = &analyzedAt.String
	}
	if paidAt.Valid {
		s.PaidAt = &paidAt.String
	}
	return s, nil
}

func (r Repo) InsertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO submissions(demand_id,name,handle,email,payout_key,proof_path,code,status,note,created_at,notified_at,deadline_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.DemandID, s.Name, s.Handle, nullable(s.Email), s.PayoutKey, s.ProofPath, s.Code, s.Status, s.Note, s.CreatedAt, s.NotifiedAt, s.DeadlineAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row.Scan)
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row.Scan)
}

func (r Repo) GetSubmissionByCode(ctx context.Context, code string) (domain.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE code=?`, code)
	return scanSubmission(row.Scan)
}

// ListSubmissions returns submissions for a demand, oldest first, optionally
// filtered by status, with keyset pagination on (created_at, id).
func (r Repo) ListSubmissions(ctx context.Context, demandID, status string, limit int, cursorCreatedAt string, cursorID int64) ([]domain.Submission, error) {
	clauses := []string{"demand_id=?"}
	args := []any{demandID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if cursorCreatedAt != "" && cursorID > 0 {
		clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.querySubmissions(ctx, query, args...)
}

// ListActiveSubmissions returns the demand's live queue in arrival order.
func (r Repo) ListActiveSubmissions(ctx context.Context, demandID string) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE demand_id=? AND status IN ('queued','notified','awaiting_review','in_review') ORDER BY created_at ASC, id ASC`
	return r.querySubmissions(ctx, query, demandID)
}

// ListActiveSubmissionsTx is ListActiveSubmissions inside a transaction.
func (r Repo) ListActiveSubmissionsTx(ctx context.Context, tx *sql.Tx, demandID string) ([]domain.Submission, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE demand_id=? AND status IN ('queued','notified','awaiting_review','in_review') ORDER BY created_at ASC, id ASC`, demandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// ActiveExistsTx reports whether any submission currently occupies the
// demand's queue or review slot.
func (r Repo) ActiveExistsTx(ctx context.Context, tx *sql.Tx, demandID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM submissions WHERE demand_id=? AND status IN ('queued','notified','awaiting_review','in_review')`, demandID).Scan(&n)
	return n > 0, err
}

// LiveByHandleTx returns a non-terminal submission for the handle on this
// demand, or ErrNotFound.
func (r Repo) LiveByHandleTx(ctx context.Context, tx *sql.Tx, demandID, handle string) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE demand_id=? AND handle=? AND status IN ('queued','notified','awaiting_review','in_review','approved') ORDER BY created_at ASC, id ASC LIMIT 1`, demandID, handle)
	return scanSubmission(row.Scan)
}

// NextQueuedTx returns the oldest queued submission for the demand, or
// ErrNotFound when the queue is empty.
func (r Repo) NextQueuedTx(ctx context.Context, tx *sql.Tx, demandID string) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE demand_id=? AND status='queued' ORDER BY created_at ASC, id ASC LIMIT 1`, demandID)
	return scanSubmission(row.Scan)
}

// MaxCodeTx returns the highest code issued with the given date prefix, or
// ErrNotFound if none exist yet. Codes past the four-digit daily sequence are
// longer, so order by length before the lexicographic comparison.
func (r Repo) MaxCodeTx(ctx context.Context, tx *sql.Tx, prefix string) (string, error) {
	var code string
	err := tx.QueryRowContext(ctx, `SELECT code FROM submissions WHERE code LIKE ? ORDER BY length(code) DESC, code DESC LIMIT 1`, prefix+"%").Scan(&code)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return code, err
}

func (r Repo) UpdateSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	var paidAmount *string
	if s.PaidAmount != nil {
		v := s.PaidAmount.String()
		paidAmount = &v
	}
	res, err := tx.ExecContext(ctx, `UPDATE submissions SET proof_path=?,status=?,note=?,paid_amount=?,notified_at=?,deadline_at=?,analyzed_at=?,paid_at=? WHERE id=?`,
		s.ProofPath, s.Status, s.Note, paidAmount, s.NotifiedAt, s.DeadlineAt, s.AnalyzedAt, s.PaidAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLiveTx returns non-terminal submissions on a demand, excluding one id.
// Used for close-out rejection of the losing queue when a proof is paid.
func (r Repo) ListLiveTx(ctx context.Context, tx *sql.Tx, demandID string, excludeID int64) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE demand_id=? AND id<>? AND status IN ('queued','notified','awaiting_review','in_review','approved') ORDER BY created_at ASC, id ASC`
	rows, err := tx.QueryContext(ctx, query, demandID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// ListDueNotified returns notified submissions whose upload deadline has
// passed as of now (RFC3339).
func (r Repo) ListDueNotified(ctx context.Context, now string) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE status='notified' AND deadline_at IS NOT NULL AND deadline_at <= ? ORDER BY deadline_at ASC, id ASC`
	return r.querySubmissions(ctx, query, now)
}

func (r Repo) DeleteSubmissions(ctx context.Context, demandID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{demandID}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM submissions WHERE demand_id=? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) CountSubmissionsByStatus(ctx context.Context, demandID string) (map[domain.SubmissionStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM submissions WHERE demand_id=? GROUP BY status`, demandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.SubmissionStatus]int{}
	for rows.Next() {
		var status domain.SubmissionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) querySubmissions(ctx context.Context, query string, args ...any) ([]domain.Submission, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

func collectSubmissions(rows *sql.Rows) ([]domain.Submission, error) {
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
