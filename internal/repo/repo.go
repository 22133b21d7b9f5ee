package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"examline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const demandColumns = `id,title,notice_number,COALESCE(authority,''),COALESCE(office,''),COALESCE(exam_date,''),reward,status,created_at,updated_at`

func scanDemand(scan func(dest ...any) error) (domain.Demand, error) {
	var d domain.Demand
	var reward string
	err := scan(&d.ID, &d.Title, &d.NoticeNumber, &d.Authority, &d.Office, &d.ExamDate, &reward, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Reward, err = decimal.NewFromString(reward)
	if err != nil {
		return d, fmt.Errorf("demand %s has invalid reward %q: %w", d.ID, reward, err)
	}
	return d, nil
}

func (r Repo) InsertDemandTx(ctx context.Context, tx *sql.Tx, d domain.Demand) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO demands(id,title,notice_number,authority,office,exam_date,reward,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Title, d.NoticeNumber, d.Authority, nullable(d.Office), nullable(d.ExamDate), d.Reward.String(), d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDemand(ctx context.Context, id string) (domain.Demand, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+demandColumns+` FROM demands WHERE id=?`, id)
	return scanDemand(row.Scan)
}

func (r Repo) GetDemandTx(ctx context.Context, tx *sql.Tx, id string) (domain.Demand, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+demandColumns+` FROM demands WHERE id=?`, id)
	return scanDemand(row.Scan)
}

// ListDemands returns demands newest first, optionally filtered by status,
// with keyset pagination on (created_at, id).
func (r Repo) ListDemands(ctx context.Context, status string, limit int, cursorCreatedAt, cursorID string) ([]domain.Demand, error) {
	var clauses []string
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + demandColumns + ` FROM demands`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Demand
	for rows.Next() {
		d, err := scanDemand(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDemandTx(ctx context.Context, tx *sql.Tx, d domain.Demand) error {
	res, err := tx.ExecContext(ctx, `UPDATE demands SET title=?,notice_number=?,authority=?,office=?,exam_date=?,reward=?,status=?,updated_at=? WHERE id=?`,
		d.Title, d.NoticeNumber, d.Authority, nullable(d.Office), nullable(d.ExamDate), d.Reward.String(), d.Status, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDemandStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.DemandStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE demands SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDemand(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM demands WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestEvents returns the most recent events, newest first, optionally
// scoped to one demand.
func (r Repo) LatestEvents(ctx context.Context, demandID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(demand_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if demandID != "" {
		query += ` WHERE demand_id=?`
		args = append(args, demandID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DemandID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
