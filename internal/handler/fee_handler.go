package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/middleware"
	"github.com/noah-isme/sma-finance-api/internal/models"
	"github.com/noah-isme/sma-finance-api/internal/service"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
	"github.com/noah-isme/sma-finance-api/pkg/response"
)

type feeLedgerService interface {
	List(ctx context.Context, query dto.FeeListQuery) ([]models.FeeRecord, *models.Pagination, error)
	Create(ctx context.Context, req dto.CreateFeeRequest, claims *models.JWTClaims) ([]models.FeeRecord, error)
	Get(ctx context.Context, id string) (*models.FeeRecord, error)
	Update(ctx context.Context, id string, req dto.UpdateFeeRequest, claims *models.JWTClaims) (*models.FeeRecord, error)
	Arrears(ctx context.Context, studentID string) (*dto.ArrearsResponse, error)
	StudentAggregate(ctx context.Context, studentID string) (*dto.StudentAggregateResponse, bool, error)
	Statement(ctx context.Context, studentID string) (*dto.StatementResponse, error)
	CleanupOrphaned(ctx context.Context) (*dto.CleanupResult, error)
}

type feePaymentService interface {
	ProcessAggregate(ctx context.Context, studentID string, req dto.AggregatePaymentRequest, claims *models.JWTClaims) (*dto.AggregatePaymentResult, error)
	PaySingle(ctx context.Context, feeID string, req dto.RecordPaymentRequest, claims *models.JWTClaims) (*models.FeeRecord, error)
}

type feeGenerationService interface {
	Generate(ctx context.Context, req dto.GenerateMonthlyRequest) (*dto.GenerateMonthlyResult, error)
}

type statementRenderer interface {
	RenderStatement(stmt *dto.StatementResponse, format service.StatementFormat) (*service.RenderedStatement, error)
}

// FeeHandler exposes the fee ledger endpoints.
type FeeHandler struct {
	fees      feeLedgerService
	payments  feePaymentService
	generator feeGenerationService
	exporter  statementRenderer
}

// NewFeeHandler builds a fee handler.
func NewFeeHandler(fees feeLedgerService, payments feePaymentService, generator feeGenerationService, exporter statementRenderer) *FeeHandler {
	return &FeeHandler{fees: fees, payments: payments, generator: generator, exporter: exporter}
}

// List godoc
// @Summary List fee records
// @Tags Fees
// @Produce json
// @Param studentIds query string false "Comma separated student IDs"
// @Param studentId query string false "Single student ID"
// @Param month query int false "Billing month (requires year)"
// @Param year query int false "Billing year"
// @Param status query string false "unpaid|partial|overdue|paid"
// @Param feeType query string false "Fee type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /fees [get]
func (h *FeeHandler) List(c *gin.Context) {
	month, err := queryInt(c, "month")
	if err != nil {
		response.Error(c, err)
		return
	}
	year, err := queryInt(c, "year")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, err := queryInt(c, "page")
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}

	studentIDs := splitCSV(append(c.QueryArray("studentIds"), c.QueryArray("studentId")...))
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleStudent {
		studentIDs = []string{claims.UserID}
	}

	query := dto.FeeListQuery{
		StudentIDs: studentIDs,
		Month:      month,
		Year:       year,
		Status:     c.Query("status"),
		FeeType:    c.Query("feeType"),
		Page:       page,
		Limit:      limit,
	}
	records, pagination, err := h.fees.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Create godoc
// @Summary Create fee record(s)
// @Description feeType "all" creates tuition and exam charges together
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body dto.CreateFeeRequest true "Fee payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees [post]
func (h *FeeHandler) Create(c *gin.Context) {
	var req dto.CreateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fee payload"))
		return
	}
	records, err := h.fees.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, records)
}

// Get godoc
// @Summary Get a fee record
// @Tags Fees
// @Produce json
// @Param id path string true "Fee ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/{id} [get]
func (h *FeeHandler) Get(c *gin.Context) {
	record, err := h.fees.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent && claims.UserID != record.StudentID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Update godoc
// @Summary Update a fee record
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Fee ID"
// @Param payload body dto.UpdateFeeRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/{id} [put]
func (h *FeeHandler) Update(c *gin.Context) {
	var req dto.UpdateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fee payload"))
		return
	}
	record, err := h.fees.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// RecordPayment godoc
// @Summary Pay a single fee record
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Fee ID"
// @Param payload body dto.RecordPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/{id}/payment [put]
func (h *FeeHandler) RecordPayment(c *gin.Context) {
	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	record, err := h.payments.PaySingle(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// ProcessAggregatePayment godoc
// @Summary Allocate one payment across outstanding fees
// @Description Oldest charges are settled first; leftover is reported as unallocated
// @Tags Fees
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.AggregatePaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/process-aggregate-payment/{studentId} [put]
func (h *FeeHandler) ProcessAggregatePayment(c *gin.Context) {
	var req dto.AggregatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	result, err := h.payments.ProcessAggregate(c.Request.Context(), c.Param(middleware.StudentParam), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Arrears godoc
// @Summary Outstanding balance from previous months
// @Tags Fees
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/arrears/{studentId} [get]
func (h *FeeHandler) Arrears(c *gin.Context) {
	result, err := h.fees.Arrears(c.Request.Context(), c.Param(middleware.StudentParam))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// StudentAggregate godoc
// @Summary Current month, fines and arrears summary
// @Tags Fees
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /fees/student-aggregate/{studentId} [get]
func (h *FeeHandler) StudentAggregate(c *gin.Context) {
	result, hit, err := h.fees.StudentAggregate(c.Request.Context(), c.Param(middleware.StudentParam))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// GenerateMonthly godoc
// @Summary Generate monthly tuition for all active students
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body dto.GenerateMonthlyRequest false "Generation payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /fees/generate-monthly [post]
func (h *FeeHandler) GenerateMonthly(c *gin.Context) {
	var req dto.GenerateMonthlyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
			return
		}
	}
	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Statement godoc
// @Summary Full fee ledger for a student
// @Tags Fees
// @Produce json
// @Produce text/csv
// @Produce application/pdf
// @Param studentId path string true "Student ID"
// @Param format query string false "json|csv|pdf"
// @Success 200 {object} response.Envelope
// @Router /fees/statement/{studentId} [get]
func (h *FeeHandler) Statement(c *gin.Context) {
	format, err := service.ParseStatementFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	stmt, err := h.fees.Statement(c.Request.Context(), c.Param(middleware.StudentParam))
	if err != nil {
		response.Error(c, err)
		return
	}
	if format == service.StatementFormatJSON {
		response.JSON(c, http.StatusOK, stmt, nil)
		return
	}
	rendered, err := h.exporter.RenderStatement(stmt, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, rendered.Filename, rendered.ContentType, rendered.Body)
}

// CleanupOrphaned godoc
// @Summary Delete fees whose student is missing or inactive
// @Tags Fees
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /fees/cleanup-orphaned [delete]
func (h *FeeHandler) CleanupOrphaned(c *gin.Context) {
	result, err := h.fees.CleanupOrphaned(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
