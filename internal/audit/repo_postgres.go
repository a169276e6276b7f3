package audit

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// PostgresRepo writes to audit_events. The table rejects UPDATE and DELETE
// through a trigger (see migrations/).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	q, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert("audit_events").
		Columns("id", "studio_id", "type", "actor_user_id", "actor_role", "recording_id", "message", "metadata", "created_at").
		Values(e.ID, e.StudioID, e.Type, e.ActorUserID, e.ActorRole, e.RecordingID, e.Message, nullJSON(e.Metadata), e.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func nullJSON(s string) any {
	if s == "" {
		return nil
	}
	return s
}
