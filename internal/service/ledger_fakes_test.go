package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-finance-api/internal/models"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// fakeFeeStore keeps fee records in memory and ignores the transaction handle.
type fakeFeeStore struct {
	mu        sync.Mutex
	now       time.Time
	seq       int
	records   map[string]models.FeeRecord
	payments  []models.FeePayment
	orphans   []string
	updateErr error
	updates   int
}

func newFakeFeeStore(now time.Time) *fakeFeeStore {
	return &fakeFeeStore{now: now, records: map[string]models.FeeRecord{}}
}

func (f *fakeFeeStore) seed(t *testing.T, studentID string, feeType models.FeeType, year, month int, base int64) models.FeeRecord {
	t.Helper()
	record, err := models.NewFeeRecord(studentID, feeType, models.PeriodDueDate(year, month), amount(base), decimal.Zero, decimal.Zero, f.now)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insert(record)
	return *record
}

func (f *fakeFeeStore) insert(record *models.FeeRecord) {
	if record.ID == "" {
		f.seq++
		record.ID = fmt.Sprintf("fee-%d", f.seq)
	}
	record.Version = 1
	f.records[record.ID] = *record
}

func (f *fakeFeeStore) get(id string) models.FeeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeFeeStore) findPeriod(studentID string, feeType models.FeeType, due time.Time) (models.FeeRecord, bool) {
	for _, record := range f.records {
		if record.StudentID == studentID && record.FeeType == feeType && record.PeriodDueDate.Equal(models.EndOfMonth(due)) {
			return record, true
		}
	}
	return models.FeeRecord{}, false
}

func (f *fakeFeeStore) sorted(match func(models.FeeRecord) bool) []models.FeeRecord {
	out := []models.FeeRecord{}
	for _, record := range f.records {
		if match(record) {
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PeriodDueDate.Equal(out[j].PeriodDueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].PeriodDueDate.Before(out[j].PeriodDueDate)
	})
	return out
}

func (f *fakeFeeStore) CreateIfAbsent(ctx context.Context, record *models.FeeRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.findPeriod(record.StudentID, record.FeeType, record.PeriodDueDate); exists {
		return false, nil
	}
	f.insert(record)
	return true, nil
}

func (f *fakeFeeStore) CreateBatch(ctx context.Context, records []*models.FeeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range records {
		if _, exists := f.findPeriod(record.StudentID, record.FeeType, record.PeriodDueDate); exists {
			return &pq.Error{Code: "23505"}
		}
	}
	for _, record := range records {
		f.insert(record)
	}
	return nil
}

func (f *fakeFeeStore) Update(ctx context.Context, record *models.FeeRecord) error {
	return f.UpdateWithTx(ctx, nil, record)
}

func (f *fakeFeeStore) UpdateWithTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if err := record.Recompute(f.now); err != nil {
		return err
	}
	record.Version++
	f.records[record.ID] = *record
	f.updates++
	return nil
}

func (f *fakeFeeStore) FindByID(ctx context.Context, id string) (*models.FeeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (f *fakeFeeStore) FindByIDWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeRecord, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeFeeStore) FindForPeriodWithTx(ctx context.Context, tx *sqlx.Tx, studentID string, feeType models.FeeType, dueDate time.Time) (*models.FeeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.findPeriod(studentID, feeType, dueDate)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (f *fakeFeeStore) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range filter.StudentIDs {
		wanted[id] = true
	}
	records := f.sorted(func(r models.FeeRecord) bool {
		return len(wanted) == 0 || wanted[r.StudentID]
	})
	return records, len(records), nil
}

func (f *fakeFeeStore) ListByStudent(ctx context.Context, studentID string) ([]models.FeeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(r models.FeeRecord) bool { return r.StudentID == studentID }), nil
}

func (f *fakeFeeStore) ListOutstanding(ctx context.Context, studentID string) ([]models.FeeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(r models.FeeRecord) bool { return r.StudentID == studentID && r.Status.Outstanding() }), nil
}

func (f *fakeFeeStore) ListOutstandingWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.FeeRecord, error) {
	return f.ListOutstanding(ctx, studentID)
}

func (f *fakeFeeStore) ListPayments(ctx context.Context, studentID string) ([]models.FeePayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FeePayment
	for _, payment := range f.payments {
		if payment.StudentID == studentID {
			out = append(out, payment)
		}
	}
	return out, nil
}

func (f *fakeFeeStore) InsertPaymentWithTx(ctx context.Context, tx *sqlx.Tx, payment *models.FeePayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment.ID = fmt.Sprintf("pay-%d", len(f.payments)+1)
	f.payments = append(f.payments, *payment)
	return nil
}

func (f *fakeFeeStore) PaymentExistsWithTx(ctx context.Context, tx *sqlx.Tx, transactionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, payment := range f.payments {
		if payment.TransactionID != nil && *payment.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFeeStore) DeleteOrphaned(ctx context.Context) ([]string, error) {
	return f.orphans, nil
}

type fakeStudentStore struct {
	students map[string]models.Student
	locked   []string
}

func newFakeStudentStore(students ...models.Student) *fakeStudentStore {
	store := &fakeStudentStore{students: map[string]models.Student{}}
	for _, student := range students {
		store.students[student.ID] = student
	}
	return store
}

func (s *fakeStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

func (s *fakeStudentStore) LockWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, ok := s.students[id]; !ok {
		return sql.ErrNoRows
	}
	s.locked = append(s.locked, id)
	return nil
}

func (s *fakeStudentStore) ListActive(ctx context.Context) ([]models.Student, error) {
	out := []models.Student{}
	for _, student := range s.students {
		if student.Active {
			out = append(out, student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeLedgerCache stores JSON payloads the way the Redis repository does.
type fakeLedgerCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
	patterns    []string
}

func newFakeLedgerCache() *fakeLedgerCache {
	return &fakeLedgerCache{entries: map[string][]byte{}}
}

func (c *fakeLedgerCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(payload, dest)
}

func (c *fakeLedgerCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

func (c *fakeLedgerCache) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

func (c *fakeLedgerCache) InvalidatePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	c.patterns = append(c.patterns, pattern)
	return nil
}

type fakePaymentGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func newFakePaymentGuard() *fakePaymentGuard {
	return &fakePaymentGuard{claimed: map[string]bool{}}
}

func (g *fakePaymentGuard) Claim(ctx context.Context, transactionID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.claimed[transactionID] {
		return false, nil
	}
	g.claimed[transactionID] = true
	return true, nil
}

func (g *fakePaymentGuard) Release(ctx context.Context, transactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, transactionID)
	g.released = append(g.released, transactionID)
	return nil
}

func errorCode(err error) string {
	return appErrors.FromError(err).Code
}
