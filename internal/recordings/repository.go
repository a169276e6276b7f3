package recordings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-ai-platform/pkg/utils"

	sq "github.com/Masterminds/squirrel"
)

// Repository is the persistence contract for recordings.
// Every read excludes soft-deleted rows.
type Repository interface {
	Create(ctx context.Context, rec Recording) error
	Get(ctx context.Context, id string) (Recording, error)
	List(ctx context.Context, f ListFilter) ([]Recording, error)
	Update(ctx context.Context, studioID, id string, p Patch) (Recording, error)
	SoftDelete(ctx context.Context, studioID, id string) (Recording, error)

	// Claim moves a recording to processing. It fails with ErrAlreadyProcessing
	// when another run holds a claim newer than staleBefore.
	Claim(ctx context.Context, id string, staleBefore time.Time) (Recording, error)
	// Complete stores all pipeline outputs and marks the recording completed.
	Complete(ctx context.Context, id string, out Outputs) (Recording, error)
	// Release ends a failed run, leaving the recording re-triggerable.
	Release(ctx context.Context, id string, status ProcessingStatus, reason string) error
}

// NOTE: This repository assumes the recordings table from migrations/.
// JSON columns are jsonb; ids are text uuids.

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var recordingColumns = []string{
	"id",
	"studio_id",
	"patient_id",
	"user_id",
	"duration",
	"visit_type",
	"doctor_name",
	"audio_url",
	"transcript",
	"referto_data",
	"odontogramma_data",
	"processing_status",
	"processing_error",
	"status",
	"created_at",
	"updated_at",
}

var returningRecording = "RETURNING " + strings.Join(recordingColumns, ", ")

type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var (
		r                     Recording
		userID, doctor, audio sql.NullString
		transcript, procErr   sql.NullString
		referto, chart        []byte
	)
	if err := row.Scan(
		&r.ID,
		&r.StudioID,
		&r.PatientID,
		&userID,
		&r.DurationSeconds,
		&r.VisitType,
		&doctor,
		&audio,
		&transcript,
		&referto,
		&chart,
		&r.ProcessingStatus,
		&procErr,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, err
	}
	r.UserID = userID.String
	r.DoctorName = doctor.String
	r.AudioURL = audio.String
	r.Transcript = transcript.String
	r.ProcessingError = procErr.String
	if len(referto) > 0 {
		r.RefertoData = json.RawMessage(referto)
	}
	if len(chart) > 0 {
		r.OdontogrammaData = json.RawMessage(chart)
	}
	return r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func (r *PostgresRepo) Create(ctx context.Context, rec Recording) error {
	q, args, err := psql.Insert("recordings").
		Columns(recordingColumns...).
		Values(
			rec.ID,
			rec.StudioID,
			rec.PatientID,
			nullString(rec.UserID),
			rec.DurationSeconds,
			rec.VisitType,
			nullString(rec.DoctorName),
			nullString(rec.AudioURL),
			nullString(rec.Transcript),
			nullJSON(rec.RefertoData),
			nullJSON(rec.OdontogrammaData),
			rec.ProcessingStatus,
			nullString(rec.ProcessingError),
			rec.Status,
			rec.CreatedAt,
			rec.UpdatedAt,
		).ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("recordings: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Recording, error) {
	q, args, err := psql.Select(recordingColumns...).
		From("recordings").
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": RecordDeleted}).
		ToSql()
	if err != nil {
		return Recording{}, err
	}
	return scanRecording(r.db.QueryRowContext(ctx, q, args...))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Recording, error) {
	b := psql.Select(recordingColumns...).
		From("recordings").
		Where(sq.Eq{"studio_id": f.StudioID}).
		Where(sq.NotEq{"status": RecordDeleted}).
		OrderBy("created_at DESC")
	if f.PatientID != "" {
		b = b.Where(sq.Eq{"patient_id": f.PatientID})
	}
	if !f.From.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": f.From})
	}
	if !f.To.IsZero() {
		b = b.Where(sq.Lt{"created_at": f.To})
	}
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recordings: list: %w", err)
	}
	defer rows.Close()

	out := make([]Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, studioID, id string, p Patch) (Recording, error) {
	b := psql.Update("recordings").
		Set("updated_at", r.clock()).
		Where(sq.Eq{"id": id, "studio_id": studioID}).
		Where(sq.NotEq{"status": RecordDeleted}).
		Suffix(returningRecording)
	if p.DoctorName != nil {
		b = b.Set("doctor_name", nullString(*p.DoctorName))
	}
	if p.Transcript != nil {
		b = b.Set("transcript", nullString(*p.Transcript))
	}
	if p.RefertoData != nil {
		b = b.Set("referto_data", nullJSON(*p.RefertoData))
	}
	if p.OdontogrammaData != nil {
		b = b.Set("odontogramma_data", nullJSON(*p.OdontogrammaData))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return Recording{}, err
	}
	return scanRecording(r.db.QueryRowContext(ctx, q, args...))
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, studioID, id string) (Recording, error) {
	q, args, err := psql.Update("recordings").
		Set("status", RecordDeleted).
		Set("updated_at", r.clock()).
		Where(sq.Eq{"id": id, "studio_id": studioID}).
		Where(sq.NotEq{"status": RecordDeleted}).
		Suffix(returningRecording).
		ToSql()
	if err != nil {
		return Recording{}, err
	}
	return scanRecording(r.db.QueryRowContext(ctx, q, args...))
}

// Claim locks the row to serialize concurrent process triggers per recording.
func (r *PostgresRepo) Claim(ctx context.Context, id string, staleBefore time.Time) (Recording, error) {
	var out Recording
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		lockQ, lockArgs, err := psql.Select("processing_status", "updated_at").
			From("recordings").
			Where(sq.Eq{"id": id}).
			Where(sq.NotEq{"status": RecordDeleted}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}
		var (
			status    ProcessingStatus
			updatedAt time.Time
		)
		if err := tx.QueryRowContext(ctx, lockQ, lockArgs...).Scan(&status, &updatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if status == ProcessingProcessing && !updatedAt.Before(staleBefore) {
			return ErrAlreadyProcessing
		}

		q, args, err := psql.Update("recordings").
			Set("processing_status", ProcessingProcessing).
			Set("processing_error", nil).
			Set("updated_at", r.clock()).
			Where(sq.Eq{"id": id}).
			Suffix(returningRecording).
			ToSql()
		if err != nil {
			return err
		}
		out, err = scanRecording(tx.QueryRowContext(ctx, q, args...))
		return err
	})
	if err != nil {
		return Recording{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, o Outputs) (Recording, error) {
	q, args, err := psql.Update("recordings").
		Set("transcript", o.Transcript).
		Set("referto_data", nullJSON(o.Report)).
		Set("odontogramma_data", nullJSON(o.Chart)).
		Set("processing_status", ProcessingCompleted).
		Set("processing_error", nil).
		Set("updated_at", r.clock()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": RecordDeleted}).
		Suffix(returningRecording).
		ToSql()
	if err != nil {
		return Recording{}, err
	}
	return scanRecording(r.db.QueryRowContext(ctx, q, args...))
}

func (r *PostgresRepo) Release(ctx context.Context, id string, status ProcessingStatus, reason string) error {
	q, args, err := psql.Update("recordings").
		Set("processing_status", status).
		Set("processing_error", nullString(reason)).
		Set("updated_at", r.clock()).
		Where(sq.Eq{"id": id, "processing_status": ProcessingProcessing}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("recordings: release: %w", err)
	}
	return nil
}
