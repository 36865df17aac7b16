package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

const absenceFineColumns = `student_id, consecutive_months_with_excessive, last_excessive_absence_month, monthly_absence_history, created_at, updated_at`

// AbsenceFineRepository persists the per-student absence fine tracking row.
type AbsenceFineRepository struct {
	db *sqlx.DB
}

// NewAbsenceFineRepository constructs an AbsenceFineRepository.
func NewAbsenceFineRepository(db *sqlx.DB) *AbsenceFineRepository {
	return &AbsenceFineRepository{db: db}
}

// Get returns the tracking row for a student, or a default state when none exists yet.
func (r *AbsenceFineRepository) Get(ctx context.Context, studentID string) (*models.AbsenceFineTracking, error) {
	query := `SELECT ` + absenceFineColumns + ` FROM absence_fine_tracking WHERE student_id = $1`
	var tracking models.AbsenceFineTracking
	if err := r.db.GetContext(ctx, &tracking, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewAbsenceFineTracking(studentID), nil
		}
		return nil, fmt.Errorf("get absence fine tracking: %w", err)
	}
	return &tracking, nil
}

// GetOrCreateForUpdateWithTx seeds the tracking row if missing and returns it locked inside tx.
func (r *AbsenceFineRepository) GetOrCreateForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) (*models.AbsenceFineTracking, error) {
	now := time.Now().UTC()
	const seed = `INSERT INTO absence_fine_tracking (student_id, consecutive_months_with_excessive, monthly_absence_history, created_at, updated_at)
VALUES ($1, 0, '[]'::jsonb, $2, $2) ON CONFLICT (student_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, seed, studentID, now); err != nil {
		return nil, fmt.Errorf("seed absence fine tracking: %w", err)
	}

	query := `SELECT ` + absenceFineColumns + ` FROM absence_fine_tracking WHERE student_id = $1 FOR UPDATE`
	var tracking models.AbsenceFineTracking
	if err := tx.GetContext(ctx, &tracking, query, studentID); err != nil {
		return nil, fmt.Errorf("lock absence fine tracking: %w", err)
	}
	return &tracking, nil
}

// UpsertWithTx stores the tracking state inside tx.
func (r *AbsenceFineRepository) UpsertWithTx(ctx context.Context, tx *sqlx.Tx, tracking *models.AbsenceFineTracking) error {
	return r.upsert(ctx, tx, tracking)
}

func (r *AbsenceFineRepository) upsert(ctx context.Context, exec sqlx.ExtContext, tracking *models.AbsenceFineTracking) error {
	now := time.Now().UTC()
	if tracking.CreatedAt.IsZero() {
		tracking.CreatedAt = now
	}
	tracking.UpdatedAt = now
	if tracking.MonthlyAbsenceHistory == nil {
		tracking.MonthlyAbsenceHistory = models.AbsenceHistory{}
	}
	const query = `INSERT INTO absence_fine_tracking (student_id, consecutive_months_with_excessive, last_excessive_absence_month, monthly_absence_history, created_at, updated_at)
VALUES (:student_id, :consecutive_months_with_excessive, :last_excessive_absence_month, :monthly_absence_history, :created_at, :updated_at)
ON CONFLICT (student_id) DO UPDATE SET
consecutive_months_with_excessive = EXCLUDED.consecutive_months_with_excessive,
last_excessive_absence_month = EXCLUDED.last_excessive_absence_month,
monthly_absence_history = EXCLUDED.monthly_absence_history,
updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, tracking); err != nil {
		return fmt.Errorf("upsert absence fine tracking: %w", err)
	}
	return nil
}
