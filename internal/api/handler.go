package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"bi-compliance-backend/internal/quarantine"
	"bi-compliance-backend/internal/realtime"
	"bi-compliance-backend/internal/store"
	"bi-compliance-backend/internal/workflow"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store            store.Store
	machine          *workflow.Machine
	quarantine       workflow.Quarantiner
	hub              *realtime.Hub
	webpush          *webpush.Options
	activationsLimit int
}

// Options carries the collaborators of a Handler.
type Options struct {
	Store            store.Store
	Machine          *workflow.Machine
	Quarantine       workflow.Quarantiner
	Hub              *realtime.Hub
	WebPush          *webpush.Options
	ActivationsLimit int
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		store:            opts.Store,
		machine:          opts.Machine,
		quarantine:       opts.Quarantine,
		hub:              opts.Hub,
		webpush:          opts.WebPush,
		activationsLimit: opts.ActivationsLimit,
	}
}

// writeError maps domain errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	switch {
	case errors.Is(err, workflow.ErrActivationFailed):
		status = http.StatusServiceUnavailable
		body["retry"] = true
	case errors.Is(err, quarantine.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, quarantine.ErrDataUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, workflow.ErrOperatorRequired),
		errors.Is(err, workflow.ErrInvalidStatus),
		errors.Is(err, workflow.ErrNoResultSelected):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicateSubmission),
		errors.Is(err, workflow.ErrNoPendingFailure),
		errors.Is(err, workflow.ErrFailurePending),
		errors.Is(err, store.ErrCycleClosed):
		status = http.StatusConflict
	}

	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, body)
}
