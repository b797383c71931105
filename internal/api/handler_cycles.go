package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bi-compliance-backend/internal/model"
)

type startCycleRequest struct {
	ID          string     `json:"id"`
	CycleNumber string     `json:"cycleNumber"`
	StartTime   *time.Time `json:"startTime"`
	Operator    string     `json:"operator" binding:"required"`
	Tools       []string   `json:"tools"`
	BatchID     *string    `json:"batchId"`
}

type completePhaseRequest struct {
	Name        string     `json:"name" binding:"required"`
	CompletedAt *time.Time `json:"completedAt"`
}

type closeCycleRequest struct {
	Status  string     `json:"status" binding:"omitempty,oneof=completed failed aborted"`
	EndTime *time.Time `json:"endTime"`
}

// StartCycle opens a new sterilization cycle.
func (h *Handler) StartCycle(c *gin.Context) {
	var req startCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cycle := &model.SterilizationCycle{
		ID:          req.ID,
		FacilityID:  c.Param("facility_id"),
		CycleNumber: req.CycleNumber,
		StartTime:   time.Now(),
		Operator:    req.Operator,
		Tools:       req.Tools,
		BatchID:     req.BatchID,
	}
	if cycle.ID == "" {
		cycle.ID = uuid.NewString()
	}
	if req.StartTime != nil {
		cycle.StartTime = *req.StartTime
	}
	if cycle.BatchID != nil && *cycle.BatchID == "" {
		cycle.BatchID = nil
	}

	if err := h.store.StartCycle(c.Request.Context(), cycle); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cycle)
}

// CompletePhase appends a finished phase to an open cycle.
func (h *Handler) CompletePhase(c *gin.Context) {
	var req completePhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	phase := model.CyclePhase{Name: req.Name, CompletedAt: time.Now()}
	if req.CompletedAt != nil {
		phase.CompletedAt = *req.CompletedAt
	}

	cycle, err := h.store.CompletePhase(c.Request.Context(), c.Param("facility_id"), c.Param("cycle_id"), phase)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cycle)
}

// CloseCycle ends an open cycle.
func (h *Handler) CloseCycle(c *gin.Context) {
	var req closeCycleRequest
	// An empty body closes the cycle as completed now.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	end := time.Now()
	if req.EndTime != nil {
		end = *req.EndTime
	}

	cycle, err := h.store.CloseCycle(c.Request.Context(), c.Param("facility_id"), c.Param("cycle_id"), req.Status, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cycle)
}

type toolRequest struct {
	ID        string `json:"id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Barcode   string `json:"barcode"`
	Category  string `json:"category"`
	MaxCycles int    `json:"maxCycles"`
	Status    string `json:"status"`
}

// PutTools creates or updates roster entries of the facility.
func (h *Handler) PutTools(c *gin.Context) {
	var req []toolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	facilityID := c.Param("facility_id")
	tools := make([]model.Tool, 0, len(req))
	for _, t := range req {
		if t.ID == "" || t.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every tool needs an id and a name"})
			return
		}
		tools = append(tools, model.Tool{
			ID:         t.ID,
			FacilityID: facilityID,
			Name:       t.Name,
			Barcode:    t.Barcode,
			Category:   t.Category,
			MaxCycles:  t.MaxCycles,
			Status:     t.Status,
		})
	}

	if err := h.store.UpsertTools(c.Request.Context(), tools); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
