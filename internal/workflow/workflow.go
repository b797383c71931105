// Package workflow drives daily BI test submissions from selection to commit,
// turning a confirmed failure into a facility-wide quarantine activation.
package workflow

import (
	"context"
	"errors"
	"time"

	"bi-compliance-backend/internal/model"
	"bi-compliance-backend/internal/quarantine"
)

var (
	ErrDuplicateSubmission = errors.New("a BI test result already exists for this operator today")
	ErrNoResultSelected    = errors.New("no BI test result selected")
	ErrNoPendingFailure    = errors.New("no pending BI test failure to confirm")
	ErrFailurePending      = errors.New("a BI test failure is awaiting confirmation")
	// ErrActivationFailed is a must-retry condition: the quarantine did not
	// reach storage and the failure stays pending until confirmed again.
	ErrActivationFailed = errors.New("quarantine activation failed")
	ErrInvalidStatus    = errors.New("invalid BI test status")
	ErrOperatorRequired = errors.New("operator is required")
)

// State is a position in the submission workflow.
type State string

const (
	StateIdle                State = "idle"
	StateResultSelected      State = "result_selected"
	StatePendingConfirmation State = "pending_confirmation"
	StateCommitted           State = "committed"
)

// Outcome is what a submission led to. Result is set once committed; Quarantine
// is set while a failure awaits confirmation.
type Outcome struct {
	State      State                `json:"state"`
	Result     *model.BITestResult  `json:"result,omitempty"`
	Quarantine *quarantine.Data     `json:"quarantine,omitempty"`
	Pending    *PendingConfirmation `json:"-"`
}

// PendingConfirmation is a selected failure that has not been committed yet.
type PendingConfirmation struct {
	FacilityID string             `json:"facilityId"`
	Operator   string             `json:"operator"`
	ToolID     string             `json:"toolId,omitempty"`
	Selected   model.BITestStatus `json:"selected"`
	Quarantine *quarantine.Data   `json:"quarantine"`
	SelectedAt time.Time          `json:"selectedAt"`
}

// Quarantiner computes the current quarantine snapshot of a facility.
type Quarantiner interface {
	Compute(ctx context.Context, facilityID string) (*quarantine.Data, error)
}

// Recorder persists results and activations. Commits must fail with an error
// wrapping ErrDuplicateSubmission when the (facility, operator, test day) tuple
// already exists. CommitFailure writes the result and the activation atomically.
type Recorder interface {
	HasResultForDay(ctx context.Context, facilityID, operator, testDay string) (bool, error)
	CommitResult(ctx context.Context, result *model.BITestResult) error
	CommitFailure(ctx context.Context, result *model.BITestResult, activation *model.QuarantineActivation) error
	CurrentActivation(ctx context.Context, facilityID string) (*model.QuarantineActivation, error)
}

// Broadcaster fans committed events out to every client of a facility.
type Broadcaster interface {
	// ActivationCommitted announces a quarantine. Delivery is best effort; the
	// activation is already durable when this is called.
	ActivationCommitted(ctx context.Context, activation *model.QuarantineActivation)
	// NotifyOptOut announces an explicitly skipped test before it is committed.
	NotifyOptOut(ctx context.Context, result *model.BITestResult) error
}
