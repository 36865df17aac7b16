package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/middleware"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
	"github.com/noah-isme/sma-finance-api/pkg/response"
)

type absenceFineService interface {
	Calculate(ctx context.Context, req dto.CalculateAbsenceFineRequest) (*dto.AbsenceFineResult, error)
	History(ctx context.Context, studentID string) (*dto.AbsenceFineHistoryResponse, error)
	Reset(ctx context.Context, studentID string) (*dto.AbsenceFineHistoryResponse, error)
}

// AbsenceFineHandler exposes the absence fine escalation endpoints.
type AbsenceFineHandler struct {
	service absenceFineService
}

// NewAbsenceFineHandler builds the handler.
func NewAbsenceFineHandler(service absenceFineService) *AbsenceFineHandler {
	return &AbsenceFineHandler{service: service}
}

// Calculate godoc
// @Summary Calculate the absence fine for a month
// @Description Fines escalate with each consecutive month over the allowance
// @Tags AbsenceFines
// @Accept json
// @Produce json
// @Param payload body dto.CalculateAbsenceFineRequest true "Absence payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /absence-fine/calculate [post]
func (h *AbsenceFineHandler) Calculate(c *gin.Context) {
	var req dto.CalculateAbsenceFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid absence fine payload"))
		return
	}
	result, err := h.service.Calculate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary Absence fine tracking for a student
// @Tags AbsenceFines
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /absence-fine/history/{studentId} [get]
func (h *AbsenceFineHandler) History(c *gin.Context) {
	result, err := h.service.History(c.Request.Context(), c.Param(middleware.StudentParam))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reset godoc
// @Summary Reset the consecutive month counter
// @Tags AbsenceFines
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /absence-fine/reset/{studentId} [put]
func (h *AbsenceFineHandler) Reset(c *gin.Context) {
	result, err := h.service.Reset(c.Request.Context(), c.Param(middleware.StudentParam))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
