package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bi-compliance-backend/internal/model"
)

type activationResponse struct {
	Active     bool                        `json:"active"`
	Activation *model.QuarantineActivation `json:"activation,omitempty"`
}

// GetQuarantine handles GET /api/facilities/:facility_id/quarantine.
func (h *Handler) GetQuarantine(c *gin.Context) {
	data, err := h.quarantine.Compute(c.Request.Context(), c.Param("facility_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// GetActivation returns the facility's current quarantine activation, if any.
func (h *Handler) GetActivation(c *gin.Context) {
	activation, err := h.machine.CurrentActivation(c.Request.Context(), c.Param("facility_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, activationResponse{Active: activation != nil, Activation: activation})
}

// ListActivations returns the activation log, newest first.
func (h *Handler) ListActivations(c *gin.Context) {
	activations, err := h.store.ListActivations(c.Request.Context(), c.Param("facility_id"), h.activationsLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, activations)
}

// ServeWS subscribes a websocket client to the facility's quarantine events.
func (h *Handler) ServeWS(c *gin.Context) {
	facilityID := c.Param("facility_id")
	activation, err := h.machine.CurrentActivation(c.Request.Context(), facilityID)
	if err != nil {
		writeError(c, err)
		return
	}

	snapshot := activationResponse{Active: activation != nil, Activation: activation}
	if err := h.hub.Serve(c.Writer, c.Request, facilityID, snapshot); err != nil {
		// The upgrader has already replied to the client.
		c.Error(err)
	}
}
