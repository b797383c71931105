package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"bi-compliance-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, limit rate.Limit, burst int) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(limit, burst)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		facility := api.Group("/facilities/:facility_id")

		facility.GET("/quarantine", h.GetQuarantine)
		facility.GET("/activation", h.GetActivation)
		facility.GET("/activations", h.ListActivations)
		facility.GET("/ws", h.ServeWS)

		facility.GET("/bi-tests", h.ListBITests)
		facility.POST("/bi-tests", h.SubmitBITest)
		facility.GET("/bi-tests/pending", h.GetPending)
		facility.POST("/bi-tests/confirm", h.ConfirmBITest)
		facility.POST("/bi-tests/cancel", h.CancelBITest)

		facility.POST("/cycles", h.StartCycle)
		facility.POST("/cycles/:cycle_id/phases", h.CompletePhase)
		facility.POST("/cycles/:cycle_id/close", h.CloseCycle)
		facility.PUT("/tools", h.PutTools)

		facility.PUT("/subscriptions", h.PutSubscription)
		facility.DELETE("/subscriptions", h.DeleteSubscription)
	}

	return r
}
