package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bi-compliance-backend/internal/model"
	"bi-compliance-backend/internal/quarantine"
	"bi-compliance-backend/internal/workflow"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrCycleClosed = errors.New("sterilization cycle is closed")
)

// Store defines the interface for all database operations.
type Store interface {
	quarantine.Source
	workflow.Recorder

	ListTestResults(ctx context.Context, facilityID string) ([]model.BITestResult, error)
	ListActivations(ctx context.Context, facilityID string, limit int) ([]model.QuarantineActivation, error)

	StartCycle(ctx context.Context, cycle *model.SterilizationCycle) error
	CompletePhase(ctx context.Context, facilityID, cycleID string, phase model.CyclePhase) (*model.SterilizationCycle, error)
	CloseCycle(ctx context.Context, facilityID, cycleID, status string, endTime time.Time) (*model.SterilizationCycle, error)
	UpsertCycles(ctx context.Context, cycles []model.SterilizationCycle) (int, error)
	UpsertTools(ctx context.Context, tools []model.Tool) error

	PutSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForFacility(ctx context.Context, facilityID string) ([]model.PushSubscription, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Streams loads the facility's test results, cycles and tool roster. The open
// cycle that started last is returned as the current cycle; any other open
// cycles stay in the history so they remain in quarantine scope.
func (s *gormStore) Streams(ctx context.Context, facilityID string) (*quarantine.Streams, error) {
	db := s.db.WithContext(ctx)
	streams := &quarantine.Streams{}

	if err := db.Where("facility_id = ?", facilityID).
		Order("date ASC, id ASC").
		Find(&streams.TestResults).Error; err != nil {
		return nil, fmt.Errorf("failed to load BI test results: %w", err)
	}

	var cycles []model.SterilizationCycle
	if err := db.Where("facility_id = ?", facilityID).
		Order("start_time ASC, id ASC").
		Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("failed to load sterilization cycles: %w", err)
	}

	current := -1
	for i := range cycles {
		if !cycles[i].Closed() {
			current = i
		}
	}
	streams.Cycles = make([]model.SterilizationCycle, 0, len(cycles))
	for i := range cycles {
		if i == current {
			c := cycles[i]
			streams.Current = &c
			continue
		}
		streams.Cycles = append(streams.Cycles, cycles[i])
	}

	if err := db.Where("facility_id = ?", facilityID).
		Order("id ASC").
		Find(&streams.Tools).Error; err != nil {
		return nil, fmt.Errorf("failed to load tool roster: %w", err)
	}
	return streams, nil
}

// Revision summarizes the row count and newest write of every stream.
func (s *gormStore) Revision(ctx context.Context, facilityID string) (string, error) {
	db := s.db.WithContext(ctx)
	parts := make([]string, 0, 3)
	for _, src := range []struct {
		model  any
		column string
	}{
		{&model.BITestResult{}, "created_at"},
		{&model.SterilizationCycle{}, "updated_at"},
		{&model.Tool{}, "updated_at"},
	} {
		var rows int64
		if err := db.Model(src.model).Where("facility_id = ?", facilityID).Count(&rows).Error; err != nil {
			return "", fmt.Errorf("failed to read revision: %w", err)
		}
		var latest []time.Time
		if err := db.Model(src.model).
			Where("facility_id = ?", facilityID).
			Order(src.column + " DESC").
			Limit(1).
			Pluck(src.column, &latest).Error; err != nil {
			return "", fmt.Errorf("failed to read revision: %w", err)
		}
		stamp := int64(0)
		if len(latest) > 0 {
			stamp = latest[0].UnixNano()
		}
		parts = append(parts, fmt.Sprintf("%d.%d", rows, stamp))
	}
	return strings.Join(parts, ":"), nil
}

func (s *gormStore) HasResultForDay(ctx context.Context, facilityID, operator, testDay string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.BITestResult{}).
		Where("facility_id = ? AND operator = ? AND test_day = ?", facilityID, operator, testDay).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CommitResult inserts a result. The unique (facility, operator, test day)
// index turns a lost race into ErrDuplicateSubmission.
func (s *gormStore) CommitResult(ctx context.Context, result *model.BITestResult) error {
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return translateCommitError(err)
	}
	return nil
}

// CommitFailure stores a failing result and its quarantine activation in one transaction.
func (s *gormStore) CommitFailure(ctx context.Context, result *model.BITestResult, activation *model.QuarantineActivation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return translateCommitError(err)
		}
		if err := tx.Create(activation).Error; err != nil {
			return fmt.Errorf("failed to store quarantine activation: %w", err)
		}
		return nil
	})
}

func (s *gormStore) CurrentActivation(ctx context.Context, facilityID string) (*model.QuarantineActivation, error) {
	var activation model.QuarantineActivation
	err := s.db.WithContext(ctx).
		Where("facility_id = ?", facilityID).
		Order("activated_at DESC, id DESC").
		First(&activation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current activation: %w", err)
	}
	return &activation, nil
}

func (s *gormStore) ListActivations(ctx context.Context, facilityID string, limit int) ([]model.QuarantineActivation, error) {
	activations := make([]model.QuarantineActivation, 0)
	q := s.db.WithContext(ctx).
		Where("facility_id = ?", facilityID).
		Order("activated_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&activations).Error; err != nil {
		return nil, err
	}
	return activations, nil
}

func (s *gormStore) ListTestResults(ctx context.Context, facilityID string) ([]model.BITestResult, error) {
	results := make([]model.BITestResult, 0)
	if err := s.db.WithContext(ctx).
		Where("facility_id = ?", facilityID).
		Order("date DESC, id DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *gormStore) StartCycle(ctx context.Context, cycle *model.SterilizationCycle) error {
	cycle.StartTime = cycle.StartTime.UTC()
	cycle.EndTime = nil
	if cycle.Status == "" {
		cycle.Status = model.CycleStatusInProgress
	}
	if cycle.Tools == nil {
		cycle.Tools = []string{}
	}
	if cycle.Phases == nil {
		cycle.Phases = []model.CyclePhase{}
	}
	return s.db.WithContext(ctx).Create(cycle).Error
}

// CompletePhase appends a finished phase to an open cycle.
func (s *gormStore) CompletePhase(ctx context.Context, facilityID, cycleID string, phase model.CyclePhase) (*model.SterilizationCycle, error) {
	var cycle model.SterilizationCycle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpenCycle(tx, facilityID, cycleID, &cycle); err != nil {
			return err
		}
		phase.CompletedAt = phase.CompletedAt.UTC()
		cycle.Phases = append(cycle.Phases, phase)
		return tx.Model(&cycle).Select("phases", "updated_at").Updates(&cycle).Error
	})
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

// CloseCycle ends an open cycle and records a sterilization on each roster
// tool it carried. Closed cycles are never modified again.
func (s *gormStore) CloseCycle(ctx context.Context, facilityID, cycleID, status string, endTime time.Time) (*model.SterilizationCycle, error) {
	if status == "" {
		status = model.CycleStatusCompleted
	}
	end := endTime.UTC()

	var cycle model.SterilizationCycle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpenCycle(tx, facilityID, cycleID, &cycle); err != nil {
			return err
		}
		cycle.EndTime = &end
		cycle.Status = status
		if err := tx.Model(&cycle).Select("end_time", "status", "updated_at").Updates(&cycle).Error; err != nil {
			return fmt.Errorf("failed to close cycle %s: %w", cycleID, err)
		}

		if len(cycle.Tools) == 0 || status != model.CycleStatusCompleted {
			return nil
		}
		return tx.Model(&model.Tool{}).
			Where("facility_id = ? AND id IN ?", facilityID, uniqueStrings(cycle.Tools)).
			Updates(map[string]any{
				"cycle_count":     gorm.Expr("cycle_count + ?", 1),
				"last_sterilized": end,
				"updated_at":      time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

func lockOpenCycle(tx *gorm.DB, facilityID, cycleID string, cycle *model.SterilizationCycle) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("facility_id = ? AND id = ?", facilityID, cycleID).
		First(cycle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: cycle %s", ErrNotFound, cycleID)
	}
	if err != nil {
		return err
	}
	if cycle.Closed() {
		return fmt.Errorf("%w: %s", ErrCycleClosed, cycleID)
	}
	return nil
}

// UpsertCycles writes cycles from an external feed. Cycles already closed in
// the store are left untouched. It returns the number of cycles written.
func (s *gormStore) UpsertCycles(ctx context.Context, cycles []model.SterilizationCycle) (int, error) {
	if len(cycles) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(cycles))
	for _, c := range cycles {
		ids = append(ids, c.ID)
	}

	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var closedRows []model.SterilizationCycle
		if err := tx.Select("facility_id", "id").
			Where("id IN ? AND end_time IS NOT NULL", ids).
			Find(&closedRows).Error; err != nil {
			return fmt.Errorf("failed to read closed cycles: %w", err)
		}
		closed := make(map[string]struct{}, len(closedRows))
		for _, c := range closedRows {
			closed[cycleKey(c.FacilityID, c.ID)] = struct{}{}
		}

		toWrite := make([]model.SterilizationCycle, 0, len(cycles))
		for _, c := range cycles {
			if _, ok := closed[cycleKey(c.FacilityID, c.ID)]; ok {
				continue
			}
			c.StartTime = c.StartTime.UTC()
			if c.EndTime != nil {
				end := c.EndTime.UTC()
				c.EndTime = &end
			}
			if c.Tools == nil {
				c.Tools = []string{}
			}
			if c.Phases == nil {
				c.Phases = []model.CyclePhase{}
			}
			toWrite = append(toWrite, c)
		}
		if len(toWrite) == 0 {
			return nil
		}

		n, err := upsertOpenCycles(tx, toWrite)
		written = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(written), nil
}

// upsertOpenCycles inserts cycles or updates the stored ones that are still
// open. A cycle closed after the caller's read is not reopened.
func upsertOpenCycles(tx *gorm.DB, cycles []model.SterilizationCycle) (int64, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "facility_id"}, {Name: "id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "sterilization_cycles.end_time IS NULL"},
		}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cycle_number", "start_time", "end_time", "operator", "tools", "phases", "batch_id", "status", "updated_at",
		}),
	}).Create(&cycles)
	return result.RowsAffected, result.Error
}

func cycleKey(facilityID, cycleID string) string {
	return facilityID + "\x00" + cycleID
}

func (s *gormStore) UpsertTools(ctx context.Context, tools []model.Tool) error {
	if len(tools) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "facility_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "barcode", "category", "max_cycles", "status", "updated_at"}),
	}).Create(&tools).Error
}

func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"facility_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) SubscriptionsForFacility(ctx context.Context, facilityID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("facility_id = ?", facilityID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// translateCommitError maps unique violations on the result table to
// workflow.ErrDuplicateSubmission.
func translateCommitError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", workflow.ErrDuplicateSubmission, err)
	}
	return fmt.Errorf("failed to store BI test result: %w", err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
