package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

// ErrVersionConflict is returned when an update loses an optimistic lock race.
var ErrVersionConflict = errors.New("fee record was modified concurrently")

const feeColumns = `id, student_id, fee_type, description, period_due_date, base_amount, absence_fine, other_adjustments, amount, paid_amount, remaining_amount, status, payment_method, transaction_id, remarks, payment_date, recorded_by, version, created_at, updated_at`

const outstandingStatusClause = `status IN ('unpaid', 'partial', 'overdue')`

// FeeRepository persists fee records. Every write runs FeeRecord.Recompute first so
// amount, remaining amount, status and the end-of-month due date can never be stored stale.
type FeeRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewFeeRepository constructs a FeeRepository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db, now: time.Now}
}

func (r *FeeRepository) prepareInsert(record *models.FeeRecord) error {
	if record == nil {
		return fmt.Errorf("fee record payload is nil")
	}
	now := r.now().UTC()
	if err := record.Recompute(now); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Version = 1
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return nil
}

const insertFeeQuery = `INSERT INTO fee_records (` + feeColumns + `)
VALUES (:id, :student_id, :fee_type, :description, :period_due_date, :base_amount, :absence_fine, :other_adjustments, :amount, :paid_amount, :remaining_amount, :status, :payment_method, :transaction_id, :remarks, :payment_date, :recorded_by, :version, :created_at, :updated_at)`

// CreateBatch inserts records atomically; one duplicate rolls back the whole batch.
func (r *FeeRepository) CreateBatch(ctx context.Context, records []*models.FeeRecord) (err error) {
	for _, record := range records {
		if err := r.prepareInsert(record); err != nil {
			return err
		}
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fee batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, record := range records {
		if _, err = sqlx.NamedExecContext(ctx, tx, insertFeeQuery, record); err != nil {
			return fmt.Errorf("create fee record: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit fee batch: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts the record unless one already exists for the same student,
// fee type and period. It reports whether a row was created.
func (r *FeeRepository) CreateIfAbsent(ctx context.Context, record *models.FeeRecord) (bool, error) {
	if err := r.prepareInsert(record); err != nil {
		return false, err
	}
	query, args, err := sqlx.Named(insertFeeQuery+` ON CONFLICT ON CONSTRAINT fee_records_period_unique DO NOTHING RETURNING id`, record)
	if err != nil {
		return false, fmt.Errorf("bind fee record: %w", err)
	}
	var id string
	if err := r.db.QueryRowxContext(ctx, r.db.Rebind(query), args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("create fee record if absent: %w", err)
	}
	return true, nil
}

// Update persists a mutated record guarded by its version.
func (r *FeeRepository) Update(ctx context.Context, record *models.FeeRecord) error {
	return r.update(ctx, r.db, record)
}

// UpdateWithTx persists a mutated record inside tx guarded by its version.
func (r *FeeRepository) UpdateWithTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error {
	return r.update(ctx, tx, record)
}

func (r *FeeRepository) update(ctx context.Context, exec sqlx.ExtContext, record *models.FeeRecord) error {
	if record == nil {
		return fmt.Errorf("fee record payload is nil")
	}
	now := r.now().UTC()
	if err := record.Recompute(now); err != nil {
		return err
	}
	record.UpdatedAt = now

	const query = `UPDATE fee_records SET
description = :description,
period_due_date = :period_due_date,
base_amount = :base_amount,
absence_fine = :absence_fine,
other_adjustments = :other_adjustments,
amount = :amount,
paid_amount = :paid_amount,
remaining_amount = :remaining_amount,
status = :status,
payment_method = :payment_method,
transaction_id = :transaction_id,
remarks = :remarks,
payment_date = :payment_date,
recorded_by = :recorded_by,
version = version + 1,
updated_at = :updated_at
WHERE id = :id AND version = :version AND paid_amount <= :paid_amount`
	result, err := sqlx.NamedExecContext(ctx, exec, query, record)
	if err != nil {
		return fmt.Errorf("update fee record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fee record rows affected: %w", err)
	}
	if affected == 0 {
		return r.staleUpdateError(ctx, exec, record)
	}
	record.Version++
	return nil
}

// staleUpdateError tells a lost version race apart from an attempt to lower paid_amount.
func (r *FeeRepository) staleUpdateError(ctx context.Context, exec sqlx.QueryerContext, record *models.FeeRecord) error {
	var current struct {
		Version    int             `db:"version"`
		PaidAmount decimal.Decimal `db:"paid_amount"`
	}
	if err := sqlx.GetContext(ctx, exec, &current, `SELECT version, paid_amount FROM fee_records WHERE id = $1`, record.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVersionConflict
		}
		return fmt.Errorf("inspect stale fee record: %w", err)
	}
	if current.Version == record.Version && current.PaidAmount.GreaterThan(record.PaidAmount) {
		return models.ErrPaidAmountDecrease
	}
	return ErrVersionConflict
}

// FindByID loads a fee record by identifier.
func (r *FeeRepository) FindByID(ctx context.Context, id string) (*models.FeeRecord, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_records WHERE id = $1`
	var record models.FeeRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find fee record: %w", err)
	}
	record.RefreshStatus(r.now())
	return &record, nil
}

// FindByIDWithTx loads a fee record and locks it for update inside tx.
func (r *FeeRepository) FindByIDWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeRecord, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_records WHERE id = $1 FOR UPDATE`
	var record models.FeeRecord
	if err := tx.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock fee record: %w", err)
	}
	record.RefreshStatus(r.now())
	return &record, nil
}

// FindForPeriodWithTx returns the record for a student, fee type and billing period locked inside tx.
func (r *FeeRepository) FindForPeriodWithTx(ctx context.Context, tx *sqlx.Tx, studentID string, feeType models.FeeType, dueDate time.Time) (*models.FeeRecord, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_records WHERE student_id = $1 AND fee_type = $2 AND period_due_date = $3 FOR UPDATE`
	var record models.FeeRecord
	if err := tx.GetContext(ctx, &record, query, studentID, feeType, models.EndOfMonth(dueDate)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find fee record for period: %w", err)
	}
	record.RefreshStatus(r.now())
	return &record, nil
}

// List returns fee records matching the filter with the total count.
func (r *FeeRepository) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if len(filter.StudentIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("student_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.StudentIDs))
	}
	if filter.DueDate != nil {
		conditions = append(conditions, fmt.Sprintf("period_due_date = $%d", len(args)+1))
		args = append(args, models.EndOfMonth(*filter.DueDate))
	}
	if filter.FeeType != nil {
		conditions = append(conditions, fmt.Sprintf("fee_type = $%d", len(args)+1))
		args = append(args, *filter.FeeType)
	}
	if filter.Status != nil {
		// Stored status can lag behind the calendar, so overdue and unpaid are resolved by date.
		now := r.now().UTC()
		switch *filter.Status {
		case models.FeeStatusOverdue:
			conditions = append(conditions, fmt.Sprintf("status IN ('unpaid', 'overdue') AND period_due_date < $%d", len(args)+1))
			args = append(args, now)
		case models.FeeStatusUnpaid:
			conditions = append(conditions, fmt.Sprintf("status IN ('unpaid', 'overdue') AND period_due_date >= $%d", len(args)+1))
			args = append(args, now)
		default:
			conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
			args = append(args, *filter.Status)
		}
	}

	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM fee_records WHERE %s ORDER BY period_due_date DESC, created_at DESC LIMIT %d OFFSET %d", feeColumns, where, size, offset)
	var records []models.FeeRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fee records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM fee_records WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fee records: %w", err)
	}

	r.refresh(records)
	return records, total, nil
}

// ListByStudent returns every record of a student ascending by due date.
func (r *FeeRepository) ListByStudent(ctx context.Context, studentID string) ([]models.FeeRecord, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_records WHERE student_id = $1 ORDER BY period_due_date ASC, created_at ASC`
	var records []models.FeeRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list student fee records: %w", err)
	}
	r.refresh(records)
	return records, nil
}

// ListOutstanding returns the student's unpaid, partial and overdue records oldest first.
func (r *FeeRepository) ListOutstanding(ctx context.Context, studentID string) ([]models.FeeRecord, error) {
	return r.listOutstanding(ctx, r.db, studentID, false)
}

// ListOutstandingWithTx is ListOutstanding with the rows locked for update inside tx.
func (r *FeeRepository) ListOutstandingWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.FeeRecord, error) {
	return r.listOutstanding(ctx, tx, studentID, true)
}

func (r *FeeRepository) listOutstanding(ctx context.Context, exec sqlx.ExtContext, studentID string, lock bool) ([]models.FeeRecord, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_records WHERE student_id = $1 AND ` + outstandingStatusClause + ` ORDER BY period_due_date ASC, created_at ASC`
	if lock {
		query += ` FOR UPDATE`
	}
	var records []models.FeeRecord
	if err := sqlx.SelectContext(ctx, exec, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list outstanding fee records: %w", err)
	}
	r.refresh(records)
	return records, nil
}

// DeleteOrphaned removes records whose student is missing or inactive and returns the
// affected student ids, one per deleted record.
func (r *FeeRepository) DeleteOrphaned(ctx context.Context) ([]string, error) {
	const query = `DELETE FROM fee_records f
WHERE NOT EXISTS (SELECT 1 FROM students s WHERE s.id = f.student_id AND s.active = TRUE)
RETURNING f.student_id`
	var studentIDs []string
	if err := r.db.SelectContext(ctx, &studentIDs, query); err != nil {
		return nil, fmt.Errorf("delete orphaned fee records: %w", err)
	}
	return studentIDs, nil
}

// InsertPaymentWithTx records one allocation slice inside tx.
func (r *FeeRepository) InsertPaymentWithTx(ctx context.Context, tx *sqlx.Tx, payment *models.FeePayment) error {
	return r.insertPayment(ctx, tx, payment)
}

func (r *FeeRepository) insertPayment(ctx context.Context, exec sqlx.ExtContext, payment *models.FeePayment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = r.now().UTC()
	}
	const query = `INSERT INTO fee_payments (id, fee_record_id, student_id, amount, payment_method, transaction_id, remarks, paid_at, recorded_by)
VALUES (:id, :fee_record_id, :student_id, :amount, :payment_method, :transaction_id, :remarks, :paid_at, :recorded_by)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, payment); err != nil {
		return fmt.Errorf("insert fee payment: %w", err)
	}
	return nil
}

// PaymentExistsWithTx reports whether a transaction id was already allocated to any student.
func (r *FeeRepository) PaymentExistsWithTx(ctx context.Context, tx *sqlx.Tx, transactionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM fee_payments WHERE transaction_id = $1)`
	var exists bool
	if err := tx.GetContext(ctx, &exists, query, transactionID); err != nil {
		return false, fmt.Errorf("check fee payment transaction: %w", err)
	}
	return exists, nil
}

// ListPayments returns a student's payment history ordered by time.
func (r *FeeRepository) ListPayments(ctx context.Context, studentID string) ([]models.FeePayment, error) {
	const query = `SELECT id, fee_record_id, student_id, amount, payment_method, transaction_id, remarks, paid_at, recorded_by
FROM fee_payments WHERE student_id = $1 ORDER BY paid_at ASC`
	var payments []models.FeePayment
	if err := r.db.SelectContext(ctx, &payments, query, studentID); err != nil {
		return nil, fmt.Errorf("list fee payments: %w", err)
	}
	return payments, nil
}

func (r *FeeRepository) refresh(records []models.FeeRecord) {
	now := r.now()
	for i := range records {
		records[i].RefreshStatus(now)
	}
}
