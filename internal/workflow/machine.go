package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"bi-compliance-backend/internal/model"
)

const testDayLayout = "2006-01-02"

// Submission is an operator's BI test selection.
type Submission struct {
	FacilityID string
	Operator   string
	Status     model.BITestStatus
	ToolID     string
}

// Options tunes a Machine. Zero values fall back to sensible defaults.
type Options struct {
	// Location returns the facility clock used to derive the calendar day.
	Location func(facilityID string) *time.Location
	Now      func() time.Time
	NewID    func() string
}

// Machine runs the BI test workflow for every operator of every facility.
type Machine struct {
	quarantine  Quarantiner
	recorder    Recorder
	broadcaster Broadcaster

	pending  *cache.Cache
	locks    *keyedLocks
	location func(string) *time.Location
	now      func() time.Time
	newID    func() string
}

// NewMachine creates a Machine.
func NewMachine(q Quarantiner, r Recorder, b Broadcaster, opts Options) *Machine {
	m := &Machine{
		quarantine:  q,
		recorder:    r,
		broadcaster: b,
		pending:     cache.New(cache.NoExpiration, 0),
		locks:       newKeyedLocks(),
		location:    opts.Location,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if m.location == nil {
		m.location = func(string) *time.Location { return time.UTC }
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() string { return uuid.NewString() }
	}
	return m
}

// Submit applies an operator's selection. Pass and skip commit immediately;
// fail computes the quarantine scope and waits for Confirm or Cancel. A pending
// failure only leaves through Confirm or Cancel, so pass and skip are rejected
// with ErrFailurePending until one of them runs.
func (m *Machine) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	if sub.Operator == "" {
		return nil, ErrOperatorRequired
	}
	if sub.Status == "" {
		return nil, ErrNoResultSelected
	}
	if !sub.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, sub.Status)
	}

	now := m.now()
	testDay := m.testDay(sub.FacilityID, now)
	unlock := m.locks.lock(dayKey(sub.FacilityID, sub.Operator, testDay))
	defer unlock()

	if err := m.ensureNoResult(ctx, sub.FacilityID, sub.Operator, testDay); err != nil {
		return nil, err
	}

	if sub.Status != model.BITestFail {
		if _, ok := m.Pending(sub.FacilityID, sub.Operator); ok {
			return nil, fmt.Errorf("%w: cancel it before selecting %s", ErrFailurePending, sub.Status)
		}
	}

	if sub.Status == model.BITestFail {
		data, err := m.quarantine.Compute(ctx, sub.FacilityID)
		if err != nil {
			return nil, err
		}
		p := &PendingConfirmation{
			FacilityID: sub.FacilityID,
			Operator:   sub.Operator,
			ToolID:     sub.ToolID,
			Selected:   model.BITestFail,
			Quarantine: data,
			SelectedAt: now,
		}
		m.pending.Set(sessionKey(sub.FacilityID, sub.Operator), p, cache.NoExpiration)
		log.Printf("BI test failure selected by %s at facility %s: %d tools in %d cycles awaiting confirmation",
			sub.Operator, sub.FacilityID, data.TotalToolsAffected, data.TotalCyclesAffected)
		return &Outcome{State: StatePendingConfirmation, Quarantine: data, Pending: p}, nil
	}

	result := m.newResult(sub.FacilityID, sub.Operator, sub.ToolID, sub.Status, now, testDay)

	if sub.Status == model.BITestSkip {
		if err := m.broadcaster.NotifyOptOut(ctx, result); err != nil {
			return nil, fmt.Errorf("opt-out notification failed: %w", err)
		}
	}

	if err := m.recorder.CommitResult(ctx, result); err != nil {
		return nil, err
	}
	log.Printf("BI test %s committed by %s at facility %s", result.Status, result.Operator, result.FacilityID)
	return &Outcome{State: StateCommitted, Result: result}, nil
}

// Confirm commits a pending failure and activates the facility-wide
// quarantine. The scope is recomputed at confirmation time. If the activation
// cannot be stored the failure stays pending and ErrActivationFailed is returned.
func (m *Machine) Confirm(ctx context.Context, facilityID, operator string) (*model.QuarantineActivation, error) {
	if _, ok := m.Pending(facilityID, operator); !ok {
		return nil, ErrNoPendingFailure
	}

	now := m.now()
	testDay := m.testDay(facilityID, now)
	unlock := m.locks.lock(dayKey(facilityID, operator, testDay))
	defer unlock()

	// A cancel may have won the race for the lock.
	p, ok := m.Pending(facilityID, operator)
	if !ok {
		return nil, ErrNoPendingFailure
	}

	if err := m.ensureNoResult(ctx, facilityID, operator, testDay); err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			m.pending.Delete(sessionKey(facilityID, operator))
		}
		return nil, err
	}

	data, err := m.quarantine.Compute(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	result := m.newResult(facilityID, operator, p.ToolID, model.BITestFail, now, testDay)
	activation := &model.QuarantineActivation{
		ID:                 m.newID(),
		FacilityID:         facilityID,
		BITestResultID:     result.ID,
		AffectedToolsCount: data.TotalToolsAffected,
		AffectedBatchIDs:   data.AffectedBatchIDs(),
		Operator:           operator,
		ActivatedAt:        now.UTC(),
	}

	if err := m.recorder.CommitFailure(ctx, result, activation); err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			m.pending.Delete(sessionKey(facilityID, operator))
			return nil, err
		}
		log.Printf("Quarantine activation failed for facility %s (operator %s): %v", facilityID, operator, err)
		return nil, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	m.pending.Delete(sessionKey(facilityID, operator))

	log.Printf("QUARANTINE ACTIVATED at facility %s by %s: %d tools, batches %v",
		facilityID, operator, activation.AffectedToolsCount, activation.AffectedBatchIDs)
	m.broadcaster.ActivationCommitted(context.WithoutCancel(ctx), activation)
	return activation, nil
}

// Cancel discards a pending failure without writing anything. It reports
// whether there was one.
func (m *Machine) Cancel(facilityID, operator string) bool {
	unlock := m.locks.lock(dayKey(facilityID, operator, m.testDay(facilityID, m.now())))
	defer unlock()

	key := sessionKey(facilityID, operator)
	if _, found := m.pending.Get(key); !found {
		return false
	}
	m.pending.Delete(key)
	log.Printf("BI test failure cancelled by %s at facility %s", operator, facilityID)
	return true
}

// Pending returns the failure awaiting confirmation for an operator.
func (m *Machine) Pending(facilityID, operator string) (*PendingConfirmation, bool) {
	v, found := m.pending.Get(sessionKey(facilityID, operator))
	if !found {
		return nil, false
	}
	return v.(*PendingConfirmation), true
}

// CurrentActivation returns the facility's active quarantine, or nil.
func (m *Machine) CurrentActivation(ctx context.Context, facilityID string) (*model.QuarantineActivation, error) {
	return m.recorder.CurrentActivation(ctx, facilityID)
}

// TestDay returns the facility-local calendar date of t.
func (m *Machine) TestDay(facilityID string, t time.Time) string {
	return m.testDay(facilityID, t)
}

func (m *Machine) testDay(facilityID string, t time.Time) string {
	loc := m.location(facilityID)
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(testDayLayout)
}

func (m *Machine) ensureNoResult(ctx context.Context, facilityID, operator, testDay string) error {
	exists, err := m.recorder.HasResultForDay(ctx, facilityID, operator, testDay)
	if err != nil {
		return fmt.Errorf("failed to check existing BI test results: %w", err)
	}
	if exists {
		return fmt.Errorf("%w (%s, %s)", ErrDuplicateSubmission, operator, testDay)
	}
	return nil
}

func (m *Machine) newResult(facilityID, operator, toolID string, status model.BITestStatus, now time.Time, testDay string) *model.BITestResult {
	return &model.BITestResult{
		ID:         m.newID(),
		FacilityID: facilityID,
		ToolID:     toolID,
		Passed:     status == model.BITestPass,
		Status:     status,
		Operator:   operator,
		Date:       now.UTC(),
		TestDay:    testDay,
	}
}

func sessionKey(facilityID, operator string) string {
	return facilityID + "\x00" + operator
}

func dayKey(facilityID, operator, testDay string) string {
	return facilityID + "\x00" + operator + "\x00" + testDay
}

// keyedLocks hands out one mutex per key and forgets it once nobody holds it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
