package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/middleware"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

type absenceFineServiceMock struct {
	lastRequest dto.CalculateAbsenceFineRequest
	lastStudent string
	err         error
}

func (m *absenceFineServiceMock) Calculate(ctx context.Context, req dto.CalculateAbsenceFineRequest) (*dto.AbsenceFineResult, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.AbsenceFineResult{StudentID: req.StudentID, FineAmount: decimal.NewFromInt(500), ConsecutiveMonthNumber: 1}, nil
}

func (m *absenceFineServiceMock) History(ctx context.Context, studentID string) (*dto.AbsenceFineHistoryResponse, error) {
	m.lastStudent = studentID
	return &dto.AbsenceFineHistoryResponse{StudentID: studentID}, m.err
}

func (m *absenceFineServiceMock) Reset(ctx context.Context, studentID string) (*dto.AbsenceFineHistoryResponse, error) {
	m.lastStudent = studentID
	return &dto.AbsenceFineHistoryResponse{StudentID: studentID}, m.err
}

func TestAbsenceFineHandlerCalculate(t *testing.T) {
	svc := &absenceFineServiceMock{}
	handler := NewAbsenceFineHandler(svc)

	c, w := newFeeTestContext(http.MethodPost, "/absence-fine/calculate", []byte(`{"studentId":"s-1","year":2026,"month":3,"absenceCount":6,"applyToFee":false}`), nil)
	handler.Calculate(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", svc.lastRequest.StudentID)
	require.NotNil(t, svc.lastRequest.AbsenceCount)
	assert.Equal(t, 6, *svc.lastRequest.AbsenceCount)
	require.NotNil(t, svc.lastRequest.ApplyToFee)
	assert.False(t, *svc.lastRequest.ApplyToFee)
}

func TestAbsenceFineHandlerCalculateErrors(t *testing.T) {
	svc := &absenceFineServiceMock{}
	handler := NewAbsenceFineHandler(svc)

	c, w := newFeeTestContext(http.MethodPost, "/absence-fine/calculate", []byte(`{"studentId":`), nil)
	handler.Calculate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
	c, w = newFeeTestContext(http.MethodPost, "/absence-fine/calculate", []byte(`{"studentId":"ghost","year":2026,"month":3,"absenceCount":1}`), nil)
	handler.Calculate(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAbsenceFineHandlerHistoryAndReset(t *testing.T) {
	svc := &absenceFineServiceMock{}
	handler := NewAbsenceFineHandler(svc)

	c, w := newFeeTestContext(http.MethodGet, "/absence-fine/history/s-2", nil, nil)
	c.Params = gin.Params{{Key: middleware.StudentParam, Value: "s-2"}}
	handler.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-2", svc.lastStudent)

	c, w = newFeeTestContext(http.MethodPut, "/absence-fine/reset/s-3", nil, nil)
	c.Params = gin.Params{{Key: middleware.StudentParam, Value: "s-3"}}
	handler.Reset(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-3", svc.lastStudent)
}
