package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-finance-api/internal/models"
	"github.com/noah-isme/sma-finance-api/pkg/database"
)

var repoNow = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func newFeeRepo(t *testing.T) (*FeeRepository, sqlmock.Sqlmock) {
	db, mock := newSQLMock(t)
	repo := NewFeeRepository(db)
	repo.now = func() time.Time { return repoNow }
	return repo, mock
}

var feeColumnNames = []string{"id", "student_id", "fee_type", "description", "period_due_date", "base_amount", "absence_fine", "other_adjustments", "amount", "paid_amount", "remaining_amount", "status", "payment_method", "transaction_id", "remarks", "payment_date", "recorded_by", "version", "created_at", "updated_at"}

func feeRow(rows *sqlmock.Rows, id string, due time.Time, amount, paid string, status models.FeeStatus) *sqlmock.Rows {
	a, _ := decimal.NewFromString(amount)
	p, _ := decimal.NewFromString(paid)
	remaining := decimal.Max(decimal.Zero, a.Sub(p)).String()
	return rows.AddRow(id, "student-1", "tuition", "Monthly tuition", due, amount, "0", "0", amount, paid, remaining, string(status), nil, nil, nil, nil, nil, 1, repoNow, repoNow)
}

func sampleFee(t *testing.T) *models.FeeRecord {
	record, err := models.NewFeeRecord("student-1", models.FeeTypeTuition, models.PeriodDueDate(2026, 4), decimal.NewFromInt(2500), decimal.Zero, decimal.Zero, repoNow)
	require.NoError(t, err)
	return record
}

func TestFeeRepositoryCreateIfAbsent(t *testing.T) {
	repo, mock := newFeeRepo(t)
	conflictClause := regexp.QuoteMeta("ON CONFLICT ON CONSTRAINT fee_records_period_unique DO NOTHING RETURNING id")

	mock.ExpectQuery(conflictClause).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("fee-1"))
	mock.ExpectQuery(conflictClause).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	record := sampleFee(t)
	created, err := repo.CreateIfAbsent(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, 1, record.Version)

	created, err = repo.CreateIfAbsent(context.Background(), sampleFee(t))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryCreateBatchRollsBackOnDuplicate(t *testing.T) {
	repo, mock := newFeeRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fee_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO fee_records").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	exam := sampleFee(t)
	exam.FeeType = models.FeeTypeExam
	err := repo.CreateBatch(context.Background(), []*models.FeeRecord{sampleFee(t), exam})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryCreateBatchRejectsNegativeAmounts(t *testing.T) {
	repo, mock := newFeeRepo(t)
	record := sampleFee(t)
	record.OtherAdjustments = decimal.NewFromInt(-1)

	err := repo.CreateBatch(context.Background(), []*models.FeeRecord{record})
	assert.ErrorIs(t, err, models.ErrNegativeAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryUpdateOptimisticLock(t *testing.T) {
	repo, mock := newFeeRepo(t)
	updateQuery := regexp.QuoteMeta("version = version + 1")

	mock.ExpectExec(updateQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, paid_amount FROM fee_records WHERE id = $1")).
		WithArgs("fee-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "paid_amount"}).AddRow(5, "1000"))

	record := sampleFee(t)
	record.ID = "fee-1"
	record.Version = 3
	record.PaidAmount = decimal.NewFromInt(1000)
	require.NoError(t, repo.Update(context.Background(), record))
	assert.Equal(t, 4, record.Version)
	assert.Equal(t, models.FeeStatusPartial, record.Status)
	assert.True(t, record.RemainingAmount.Equal(decimal.NewFromInt(1500)))

	err := repo.Update(context.Background(), record)
	assert.True(t, errors.Is(err, ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryUpdateRejectsPaidAmountDecrease(t *testing.T) {
	repo, mock := newFeeRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("paid_amount <= :paid_amount")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, paid_amount FROM fee_records WHERE id = $1")).
		WithArgs("fee-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "paid_amount"}).AddRow(2, "1500"))

	record := sampleFee(t)
	record.ID = "fee-1"
	record.Version = 2
	record.PaidAmount = decimal.NewFromInt(1000)

	err := repo.Update(context.Background(), record)
	assert.ErrorIs(t, err, models.ErrPaidAmountDecrease)
	assert.False(t, errors.Is(err, ErrVersionConflict))
	assert.Equal(t, 2, record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryFindByIDRefreshesStatus(t *testing.T) {
	repo, mock := newFeeRepo(t)
	rows := feeRow(sqlmock.NewRows(feeColumnNames), "fee-1", models.PeriodDueDate(2026, 2), "2500", "0", models.FeeStatusUnpaid)
	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_records WHERE id = $1")).WithArgs("fee-1").WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_records WHERE id = $1")).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	record, err := repo.FindByID(context.Background(), "fee-1")
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusOverdue, record.Status)
	assert.True(t, record.Amount.Equal(decimal.NewFromInt(2500)))

	_, err = repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryListBuildsFilters(t *testing.T) {
	repo, mock := newFeeRepo(t)
	overdue := models.FeeStatusOverdue
	feeType := models.FeeTypeTuition

	where := "WHERE 1=1 AND student_id = ANY($1) AND fee_type = $2 AND status IN ('unpaid', 'overdue') AND period_due_date < $3"
	rows := feeRow(sqlmock.NewRows(feeColumnNames), "fee-1", models.PeriodDueDate(2026, 1), "2500", "0", models.FeeStatusUnpaid)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+feeColumns+" FROM fee_records "+where+" ORDER BY period_due_date DESC, created_at DESC LIMIT 50 OFFSET 50")).
		WithArgs(sqlmock.AnyArg(), "tuition", repoNow).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM fee_records " + where)).
		WithArgs(sqlmock.AnyArg(), "tuition", repoNow).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(51))

	records, total, err := repo.List(context.Background(), models.FeeFilter{
		StudentIDs: []string{"student-1", "student-2"},
		Status:     &overdue,
		FeeType:    &feeType,
		Page:       2,
		PageSize:   50,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 51, total)
	assert.Equal(t, models.FeeStatusOverdue, records[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryListOutstandingWithTxLocksRows(t *testing.T) {
	repo, mock := newFeeRepo(t)
	mock.ExpectBegin()
	rows := sqlmock.NewRows(feeColumnNames)
	feeRow(rows, "fee-1", models.PeriodDueDate(2026, 1), "100", "0", models.FeeStatusOverdue)
	feeRow(rows, "fee-2", models.PeriodDueDate(2026, 2), "200", "50", models.FeeStatusPartial)
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('unpaid', 'partial', 'overdue') ORDER BY period_due_date ASC, created_at ASC FOR UPDATE")).
		WithArgs("student-1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := repo.db.Beginx()
	require.NoError(t, err)
	records, err := repo.ListOutstandingWithTx(context.Background(), tx, "student-1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, records, 2)
	assert.True(t, records[1].RemainingAmount.Equal(decimal.NewFromInt(150)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryDeleteOrphaned(t *testing.T) {
	repo, mock := newFeeRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM fee_records f")).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("gone-1").AddRow("gone-1"))

	ids, err := repo.DeleteOrphaned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gone-1", "gone-1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryPayments(t *testing.T) {
	repo, mock := newFeeRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM fee_payments WHERE transaction_id = $1)")).
		WithArgs("TX-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO fee_payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_payments WHERE student_id = $1 ORDER BY paid_at ASC")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fee_record_id", "student_id", "amount", "payment_method", "transaction_id", "remarks", "paid_at", "recorded_by"}).
			AddRow("pay-1", "fee-1", "student-1", "100", "cash", "TX-1", nil, repoNow, nil))

	tx, err := repo.db.Beginx()
	require.NoError(t, err)
	exists, err := repo.PaymentExistsWithTx(context.Background(), tx, "TX-1")
	require.NoError(t, err)
	assert.False(t, exists)

	txID := "TX-1"
	payment := &models.FeePayment{FeeRecordID: "fee-1", StudentID: "student-1", Amount: decimal.NewFromInt(100), PaymentMethod: "cash", TransactionID: &txID}
	require.NoError(t, repo.InsertPaymentWithTx(context.Background(), tx, payment))
	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, repoNow, payment.PaidAt)
	require.NoError(t, tx.Commit())

	payments, err := repo.ListPayments(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "TX-1", *payments[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
