package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portal-consent/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresConsentsRepository implements ConsentsRepository over the
// consents table. Soft delete is deleted_at/deleted_by; rows are never
// physically erased.
type PostgresConsentsRepository struct {
	db *sql.DB
}

func NewPostgresConsentsRepository(db *sql.DB) *PostgresConsentsRepository {
	return &PostgresConsentsRepository{db: db}
}

var _ ConsentsRepository = (*PostgresConsentsRepository)(nil)

const consentColumns = `
	record_id::text,
	subject_id,
	org_id,
	research_study_id,
	status,
	COALESCE(agreement_url, '') as agreement_url,
	acceptance_date,
	staff_editable,
	include_in_reports,
	send_reminders,
	expires_at,
	deleted_at,
	COALESCE(deleted_by, '') as deleted_by,
	recorded_at,
	COALESCE(recorded_by, '') as recorded_by`

func (r *PostgresConsentsRepository) ListConsents(ctx context.Context, subjectID string, filter ConsentsFilter) ([]*domain.ConsentRecord, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	query := `SELECT ` + consentColumns + ` FROM consents WHERE subject_id = $1`
	args := []any{subjectID}
	idx := 2
	if filter.OrganizationID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", idx)
		args = append(args, filter.OrganizationID)
		idx++
	}
	if filter.ResearchStudyID != "" {
		query += fmt.Sprintf(" AND research_study_id = $%d", idx)
		args = append(args, filter.ResearchStudyID)
		idx++
	}
	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY recorded_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConsentRecord
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresConsentsRepository) WriteConsent(ctx context.Context, subjectID string, rec *domain.ConsentRecord) (*domain.ConsentRecord, error) {
	if subjectID == "" || rec == nil || rec.OrganizationID == "" {
		return nil, fmt.Errorf("subject_id and org_id are required")
	}

	now := time.Now().UTC()
	stored := *rec
	stored.SubjectID = subjectID
	if stored.RecordID == "" {
		stored.RecordID = uuid.NewString()
	}
	if stored.RecordedMeta.At.IsZero() {
		stored.RecordedMeta.At = now
	}
	if stored.AcceptanceDate.IsZero() {
		stored.AcceptanceDate = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// supersede-in-place: retire the prior active row for this triple
	_, err = tx.ExecContext(ctx, `
		UPDATE consents
		SET deleted_at = $1, deleted_by = $2
		WHERE subject_id = $3 AND org_id = $4 AND research_study_id = $5
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $1)`,
		now, stored.RecordedMeta.ByActorID, subjectID, stored.OrganizationID, stored.ResearchStudyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede prior consent: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consents (
			record_id, subject_id, org_id, research_study_id, status,
			agreement_url, acceptance_date,
			staff_editable, include_in_reports, send_reminders,
			expires_at, recorded_at, recorded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		stored.RecordID, subjectID, stored.OrganizationID, stored.ResearchStudyID, string(stored.Status),
		stored.AgreementURL, stored.AcceptanceDate,
		stored.StaffEditable, stored.IncludeInReports, stored.SendReminders,
		stored.ExpiresAt, stored.RecordedMeta.At, stored.RecordedMeta.ByActorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert consent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consent write: %w", err)
	}
	return &stored, nil
}

func (r *PostgresConsentsRepository) SoftDeleteConsents(ctx context.Context, subjectID, scopeOrgID string, exclude []string, actorID string) (int, error) {
	if subjectID == "" {
		return 0, fmt.Errorf("subject_id is required")
	}

	// pq.Array(nil) encodes SQL NULL and `NOT (org_id = ANY(NULL))` is
	// NULL for every row, turning a purge-everything call into a no-op
	if exclude == nil {
		exclude = []string{}
	}

	now := time.Now().UTC()
	query := `
		UPDATE consents
		SET deleted_at = $1, deleted_by = $2
		WHERE subject_id = $3
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $1)
		  AND NOT (org_id = ANY($4))`
	args := []any{now, actorID, subjectID, pq.Array(exclude)}
	if scopeOrgID != "all" {
		query += " AND org_id = $5"
		args = append(args, scopeOrgID)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete consents: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresConsentsRepository) WithdrawConsent(ctx context.Context, subjectID, orgID, researchStudyID, actorID string) (*domain.ConsentRecord, error) {
	// carry the agreement forward from the record being superseded
	var agreementURL string
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(agreement_url, '')
		FROM consents
		WHERE subject_id = $1 AND org_id = $2 AND research_study_id = $3
		  AND deleted_at IS NULL
		ORDER BY recorded_at DESC
		LIMIT 1`,
		subjectID, orgID, researchStudyID,
	).Scan(&agreementURL)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up prior consent: %w", err)
	}

	now := time.Now().UTC()
	return r.WriteConsent(ctx, subjectID, &domain.ConsentRecord{
		OrganizationID:  orgID,
		ResearchStudyID: researchStudyID,
		Status:          domain.StatusSuspended,
		AgreementURL:    agreementURL,
		AcceptanceDate:  now,
		// legacy history encoding for a withdrawal
		StaffEditable:    true,
		IncludeInReports: true,
		SendReminders:    false,
		RecordedMeta:     domain.ActionMeta{At: now, ByActorID: actorID},
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*domain.ConsentRecord, error) {
	var rec domain.ConsentRecord
	var status string
	var expiresAt, deletedAt sql.NullTime
	var deletedBy string

	err := row.Scan(
		&rec.RecordID,
		&rec.SubjectID,
		&rec.OrganizationID,
		&rec.ResearchStudyID,
		&status,
		&rec.AgreementURL,
		&rec.AcceptanceDate,
		&rec.StaffEditable,
		&rec.IncludeInReports,
		&rec.SendReminders,
		&expiresAt,
		&deletedAt,
		&deletedBy,
		&rec.RecordedMeta.At,
		&rec.RecordedMeta.ByActorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan consent: %w", err)
	}

	rec.Status = domain.ConsentStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	if deletedAt.Valid {
		rec.DeletedMeta = &domain.ActionMeta{At: deletedAt.Time, ByActorID: deletedBy}
	}
	return &rec, nil
}
