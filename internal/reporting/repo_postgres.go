package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medical-ai-platform/internal/recordings"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) SummaryRows(ctx context.Context, studioID string, from, to time.Time) ([]Row, error) {
	q, args, err := psql.Select("visit_type", "processing_status", "COUNT(*)", "COALESCE(SUM(duration), 0)").
		From("recordings").
		Where(sq.Eq{"studio_id": studioID}).
		Where(sq.NotEq{"status": recordings.RecordDeleted}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to}).
		GroupBy("visit_type", "processing_status").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("reporting: summary: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.VisitType, &row.Status, &row.Count, &row.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
