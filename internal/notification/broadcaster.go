package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"bi-compliance-backend/internal/model"
	"bi-compliance-backend/internal/realtime"
)

const enqueueTimeout = 2 * time.Second

// Publisher delivers an event to the live clients of a facility.
type Publisher interface {
	Publish(facilityID, eventType string, data any)
}

// PushMessage is the web push payload shown by the service worker.
type PushMessage struct {
	Kind         string `json:"kind"`
	FacilityID   string `json:"facilityId"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	ActivationID string `json:"activationId,omitempty"`
	ResultID     string `json:"resultId,omitempty"`
}

// Broadcaster fans workflow events out to websocket clients and push subscribers.
type Broadcaster struct {
	hub  Publisher
	pool *WorkerPool // nil when push is not configured
}

// NewBroadcaster creates a Broadcaster. pool may be nil.
func NewBroadcaster(hub Publisher, pool *WorkerPool) *Broadcaster {
	return &Broadcaster{hub: hub, pool: pool}
}

// ActivationCommitted announces a committed quarantine. Push delivery failures are logged only.
func (b *Broadcaster) ActivationCommitted(ctx context.Context, activation *model.QuarantineActivation) {
	b.hub.Publish(activation.FacilityID, realtime.EventQuarantineActivated, activation)

	body := fmt.Sprintf("%d tools quarantined after a failed BI test by %s.", activation.AffectedToolsCount, activation.Operator)
	if len(activation.AffectedBatchIDs) > 0 {
		body += " Batches: " + strings.Join(activation.AffectedBatchIDs, ", ")
	}
	msg := PushMessage{
		Kind:         realtime.EventQuarantineActivated,
		FacilityID:   activation.FacilityID,
		Title:        "Quarantine activated",
		Body:         body,
		ActivationID: activation.ID,
	}
	if err := b.push(ctx, msg); err != nil {
		log.Printf("Failed to queue quarantine push for facility %s: %v", activation.FacilityID, err)
	}
}

// NotifyOptOut announces a skipped BI test. The error is returned so the skip
// is not committed without its notification.
func (b *Broadcaster) NotifyOptOut(ctx context.Context, result *model.BITestResult) error {
	b.hub.Publish(result.FacilityID, realtime.EventOptOut, result)

	return b.push(ctx, PushMessage{
		Kind:       realtime.EventOptOut,
		FacilityID: result.FacilityID,
		Title:      "BI test skipped",
		Body:       fmt.Sprintf("%s opted out of the daily BI test for %s.", result.Operator, result.TestDay),
		ResultID:   result.ID,
	})
}

func (b *Broadcaster) push(ctx context.Context, msg PushMessage) error {
	if b.pool == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	return b.pool.Enqueue(ctx, Job{FacilityID: msg.FacilityID, Payload: payload})
}
