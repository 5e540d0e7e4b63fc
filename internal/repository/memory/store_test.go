package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroadcasting(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.Attributions().Create(context.Background(), &domain.Attribution{
		ID:          id,
		BookingID:   "booking-" + id,
		ServiceType: "moving",
		Status:      domain.AttributionStatusBroadcasting,
	})
	require.NoError(t, err)
}

func TestStore_CreateRejectsSecondActiveAttributionForBooking(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newBroadcasting(t, s, "a1")

	err := s.Attributions().Create(ctx, &domain.Attribution{ID: "a2", BookingID: "booking-a1", Status: domain.AttributionStatusBroadcasting})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStore_AcceptIsCompareAndSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newBroadcasting(t, s, "a1")

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Responses().Accept(ctx, &domain.AttributionResponse{
				ID:            string(rune('A' + i)),
				AttributionID: "a1",
				CandidateID:   string(rune('a' + i)),
				ResponseType:  domain.ResponseTypeAccepted,
				ResponseTime:  time.Now(),
			})
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	responses, err := s.Responses().ListByAttribution(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, responses, 1)

	a, err := s.Attributions().GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttributionStatusAccepted, a.Status)
	assert.Equal(t, responses[0].CandidateID, a.AcceptedCandidateID)
}

func TestStore_RecordBroadcastGuards(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newBroadcasting(t, s, "a1")
	at := time.Now()

	a, ok, err := s.Attributions().RecordBroadcast(ctx, "a1", 0, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, a.BroadcastCount)

	_, ok, err = s.Attributions().RecordBroadcast(ctx, "a1", 0, at)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected count must not start a round")

	ok, err = s.Attributions().TransitionStatus(ctx, "a1", domain.AttributionStatusCancelled, "customer")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Attributions().RecordBroadcast(ctx, "a1", 1, at)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled attribution must not start a round")
}

func TestStore_RefuseIsIdempotentAndExcludes(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newBroadcasting(t, s, "a1")

	resp := &domain.AttributionResponse{ID: "r1", AttributionID: "a1", CandidateID: "c1", ResponseType: domain.ResponseTypeRefused}
	inserted, err := s.Responses().Refuse(ctx, resp)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Responses().Refuse(ctx, resp)
	require.NoError(t, err)
	assert.False(t, inserted)

	a, err := s.Attributions().GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, a.ExcludedCandidates)
}

func TestStore_TransitionStatusRejectsAccepted(t *testing.T) {
	s := NewStore()
	newBroadcasting(t, s, "a1")

	_, err := s.Attributions().TransitionStatus(context.Background(), "a1", domain.AttributionStatusAccepted, "")
	assert.Error(t, err)
}

func TestStore_AddExclusionsIgnoresTerminal(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newBroadcasting(t, s, "a1")

	ok, err := s.Responses().Accept(ctx, &domain.AttributionResponse{
		ID: "r1", AttributionID: "a1", CandidateID: "c1", ResponseType: domain.ResponseTypeAccepted, ResponseTime: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	a, err := s.Attributions().AddExclusions(ctx, "a1", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, domain.AttributionStatusAccepted, a.Status)
	assert.Equal(t, "c1", a.AcceptedCandidateID)
	assert.Empty(t, a.ExcludedCandidates)

	_, err = s.Attributions().AddExclusions(ctx, "missing", []string{"c1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
