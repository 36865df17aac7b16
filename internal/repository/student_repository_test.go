package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var studentColumnNames = []string{"id", "nis", "full_name", "monthly_fee", "admission_date", "active", "created_at", "updated_at"}

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStudentRepository(db)
	admitted := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + studentColumns + " FROM students WHERE id = $1")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows(studentColumnNames).AddRow("student-1", "2026/001", "Siti Aminah", "2500.00", admitted, true, admitted, admitted))
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	student, err := repo.FindByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "2026/001", student.NIS)
	assert.Equal(t, "2500", student.MonthlyFee.String())
	assert.Equal(t, admitted, student.AdmissionDate)

	_, err = repo.FindByID(context.Background(), "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListActive(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStudentRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE active = TRUE ORDER BY nis ASC")).
		WillReturnRows(sqlmock.NewRows(studentColumnNames).
			AddRow("s-1", "001", "A", "0", now, true, now, now).
			AddRow("s-2", "002", "B", "1800", now, true, now, now))

	students, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.True(t, students[0].MonthlyFee.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryLockWithTx(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStudentRepository(db)
	lockQuery := regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR UPDATE")

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs("s-1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1"))
	mock.ExpectQuery(lockQuery).WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.LockWithTx(context.Background(), tx, "s-1"))
	assert.True(t, errors.Is(repo.LockWithTx(context.Background(), tx, "ghost"), sql.ErrNoRows))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
