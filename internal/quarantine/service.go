package quarantine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"bi-compliance-backend/internal/model"
)

var (
	// ErrDataUnavailable means the event store could not supply the facility's
	// records. Quarantine scope is unknown, never zero, in that case.
	ErrDataUnavailable = errors.New("quarantine data unavailable")
	// ErrTimeout means the computation did not finish within the configured limit.
	ErrTimeout = errors.New("quarantine computation timed out")
)

// Streams holds the three record streams of one facility.
type Streams struct {
	TestResults []model.BITestResult
	Cycles      []model.SterilizationCycle
	Current     *model.SterilizationCycle
	Tools       []model.Tool
}

// Source supplies a facility's records.
type Source interface {
	// Streams loads all test results, cycles and tools of a facility.
	Streams(ctx context.Context, facilityID string) (*Streams, error)
	// Revision returns a key that changes whenever any stream of the facility changes.
	Revision(ctx context.Context, facilityID string) (string, error)
}

// Service computes quarantine snapshots from a Source and memoizes them per
// facility revision.
type Service struct {
	source  Source
	memo    *cache.Cache
	timeout time.Duration
}

// NewService creates a Service. A zero memoTTL disables memoization; a zero
// timeout disables the compute deadline.
func NewService(source Source, memoTTL, timeout time.Duration) *Service {
	s := &Service{source: source, timeout: timeout}
	if memoTTL > 0 {
		s.memo = cache.New(memoTTL, 2*memoTTL)
	}
	return s
}

// Compute returns the current quarantine snapshot of a facility.
func (s *Service) Compute(ctx context.Context, facilityID string) (*Data, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rev, err := s.source.Revision(ctx, facilityID)
	if err != nil {
		return nil, s.sourceError(ctx, facilityID, err)
	}
	key := facilityID + "|" + rev
	if s.memo != nil {
		if cached, found := s.memo.Get(key); found {
			return cached.(*Data), nil
		}
	}

	streams, err := s.source.Streams(ctx, facilityID)
	if err != nil {
		return nil, s.sourceError(ctx, facilityID, err)
	}
	if streams == nil {
		return nil, fmt.Errorf("%w: facility %s: no streams returned", ErrDataUnavailable, facilityID)
	}

	data := Compute(streams.TestResults, streams.Cycles, streams.Current, streams.Tools)
	if s.memo != nil {
		s.memo.Set(key, data, cache.DefaultExpiration)
	}
	return data, nil
}

func (s *Service) sourceError(ctx context.Context, facilityID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: facility %s", ErrTimeout, facilityID)
	}
	return fmt.Errorf("%w: facility %s: %w", ErrDataUnavailable, facilityID, err)
}
