package quarantine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bi-compliance-backend/internal/model"
)

type fakeSource struct {
	mu          sync.Mutex
	streams     *Streams
	revision    string
	streamsErr  error
	revisionErr error
	delay       time.Duration
	loads       int
}

func (f *fakeSource) Streams(ctx context.Context, facilityID string) (*Streams, error) {
	f.mu.Lock()
	f.loads++
	delay, streams, err := f.delay, f.streams, f.streamsErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return streams, err
}

func (f *fakeSource) Revision(ctx context.Context, facilityID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision, f.revisionErr
}

func (f *fakeSource) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func TestService_MemoizesPerRevision(t *testing.T) {
	src := &fakeSource{
		revision: "rev-1",
		streams: &Streams{
			Cycles: []model.SterilizationCycle{cycle("c1", day("2024-01-02"), "A", "T1")},
		},
	}
	svc := NewService(src, time.Minute, 0)

	first, err := svc.Compute(context.Background(), "fac-1")
	require.NoError(t, err)
	second, err := svc.Compute(context.Background(), "fac-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, src.loadCount())

	src.mu.Lock()
	src.revision = "rev-2"
	src.streams = &Streams{
		Cycles: []model.SterilizationCycle{
			cycle("c1", day("2024-01-02"), "A", "T1"),
			cycle("c2", day("2024-01-03"), "A", "T2"),
		},
	}
	src.mu.Unlock()

	third, err := svc.Compute(context.Background(), "fac-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.loadCount())
	assert.Equal(t, 2, third.TotalCyclesAffected)
}

func TestService_WithoutMemoAlwaysLoads(t *testing.T) {
	src := &fakeSource{revision: "r", streams: &Streams{}}
	svc := NewService(src, 0, 0)

	for i := 0; i < 3; i++ {
		_, err := svc.Compute(context.Background(), "fac-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.loadCount())
}

func TestService_FailsClosed(t *testing.T) {
	testCases := []struct {
		name string
		src  *fakeSource
	}{
		{name: "revision lookup fails", src: &fakeSource{revisionErr: errors.New("connection refused")}},
		{name: "stream load fails", src: &fakeSource{revision: "r", streamsErr: errors.New("connection refused")}},
		{name: "no streams", src: &fakeSource{revision: "r"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(tc.src, time.Minute, 0)

			data, err := svc.Compute(context.Background(), "fac-1")

			assert.Nil(t, data)
			assert.ErrorIs(t, err, ErrDataUnavailable)
		})
	}
}

func TestService_Timeout(t *testing.T) {
	src := &fakeSource{revision: "r", streams: &Streams{}, delay: time.Second}
	svc := NewService(src, time.Minute, 20*time.Millisecond)

	data, err := svc.Compute(context.Background(), "fac-1")

	assert.Nil(t, data)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrDataUnavailable)
}
