package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bi-compliance-backend/internal/model"
	"bi-compliance-backend/internal/workflow"
)

type submitBITestRequest struct {
	Operator string             `json:"operator" binding:"required"`
	Status   model.BITestStatus `json:"status"`
	ToolID   string             `json:"toolId"`
}

type operatorRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// ListBITests returns the facility's BI test history, newest first.
func (h *Handler) ListBITests(c *gin.Context) {
	results, err := h.store.ListTestResults(c.Request.Context(), c.Param("facility_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// SubmitBITest records the operator's selection. A failure is not committed
// until it is confirmed; the response then carries the quarantine scope.
func (h *Handler) SubmitBITest(c *gin.Context) {
	var req submitBITestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.machine.Submit(c.Request.Context(), workflow.Submission{
		FacilityID: c.Param("facility_id"),
		Operator:   req.Operator,
		Status:     req.Status,
		ToolID:     req.ToolID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if outcome.State == workflow.StatePendingConfirmation {
		status = http.StatusAccepted
	}
	c.JSON(status, outcome)
}

// GetPending returns the failure awaiting confirmation for ?operator=.
func (h *Handler) GetPending(c *gin.Context) {
	operator := c.Query("operator")
	if operator == "" {
		writeError(c, workflow.ErrOperatorRequired)
		return
	}

	pending, ok := h.machine.Pending(c.Param("facility_id"), operator)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": workflow.ErrNoPendingFailure.Error()})
		return
	}
	c.JSON(http.StatusOK, pending)
}

// ConfirmBITest commits the pending failure and activates the quarantine.
func (h *Handler) ConfirmBITest(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activation, err := h.machine.Confirm(c.Request.Context(), c.Param("facility_id"), req.Operator)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, activation)
}

// CancelBITest discards the pending failure. Nothing is written.
func (h *Handler) CancelBITest(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.machine.Cancel(c.Param("facility_id"), req.Operator)
	c.Status(http.StatusNoContent)
}
