package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

// StudentRepository reads the student roster the ledger bills against.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, nis, full_name, monthly_fee, admission_date, active, created_at, updated_at`

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// ListActive returns every active student ordered by NIS.
func (r *StudentRepository) ListActive(ctx context.Context) ([]models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE active = TRUE ORDER BY nis ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return students, nil
}

// LockWithTx takes a row lock on the student so concurrent payments for the
// same student are serialised inside tx.
func (r *StudentRepository) LockWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `SELECT id FROM students WHERE id = $1 FOR UPDATE`
	var locked string
	if err := tx.GetContext(ctx, &locked, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock student: %w", err)
	}
	return nil
}
