package broadcast

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/repository/memory"
	"github.com/Domenick1991/attribution/internal/service/eligibility"
	"github.com/Domenick1991/attribution/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyOffer(ctx context.Context, offer kafka.OfferEvent) error {
	return m.Called(ctx, offer).Error(0)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishAttributionEvent(ctx context.Context, event kafka.AttributionEvent) error {
	return m.Called(ctx, event).Error(0)
}

const secret = "test-secret-test-secret-test-secret!"

var (
	now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	job = domain.Location{Lat: 48.8566, Lng: 2.3522}
)

type fixture struct {
	store    *memory.Store
	tokens   *token.Issuer
	notifier *MockNotifier
	events   *MockEventPublisher
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := func() time.Time { return now }
	tokens, err := token.NewIssuer(secret, 24*time.Hour, token.WithClock(clock))
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		tokens:   tokens,
		notifier: &MockNotifier{},
		events:   &MockEventPublisher{},
	}
	resolver := eligibility.NewResolver(eligibility.NewCachedPool(store.Candidates(), nil, zap.NewNop()))
	f.manager = NewManager(store.Attributions(), store.Offers(), store.Candidates(), resolver, tokens,
		f.notifier, f.events, "https://missions.example.com/", zap.NewNop(),
		WithClock(clock), WithConcurrency(2))
	return f
}

func (f *fixture) addCandidate(id string, dLat float64) {
	f.store.PutCandidate(domain.Candidate{
		ID:           id,
		Name:         strings.ToUpper(id),
		Email:        id + "@example.com",
		ServiceTypes: []string{"cleaning"},
		IsAvailable:  true,
		Location:     domain.Location{Lat: job.Lat + dLat, Lng: job.Lng},
	})
}

func (f *fixture) newAttribution(t *testing.T, id string) *domain.Attribution {
	t.Helper()
	a := &domain.Attribution{
		ID:            id,
		BookingID:     "booking-" + id,
		ServiceType:   "cleaning",
		Location:      job,
		MaxDistanceKm: 20,
		Status:        domain.AttributionStatusBroadcasting,
	}
	require.NoError(t, f.store.Attributions().Create(context.Background(), a))
	return a
}

func TestManager_Broadcast_NotifiesEveryEligibleCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCandidate("a", 0.01)
	f.addCandidate("b", 0.02)
	f.addCandidate("c", 0.03)
	f.addCandidate("far", 1)
	a := f.newAttribution(t, "att-1")

	f.notifier.On("NotifyOffer", mock.Anything, mock.Anything).Return(nil)

	round, err := f.manager.Broadcast(ctx, a)
	require.NoError(t, err)
	f.manager.Wait()

	assert.Equal(t, 1, round.Number)
	assert.False(t, round.Expired)
	assert.Len(t, round.Candidates, 3)
	f.notifier.AssertNumberOfCalls(t, "NotifyOffer", 3)

	stored, err := f.store.Attributions().GetByID(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.BroadcastCount)
	require.NotNil(t, stored.LastBroadcastAt)
	assert.True(t, stored.LastBroadcastAt.Equal(now))

	offers, err := f.store.Offers().ListRound(ctx, "att-1", 1)
	require.NoError(t, err)
	assert.Len(t, offers, 3)

	c, err := f.store.Candidates().GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalOffers)
}

func TestManager_Broadcast_LinksCarryValidTokens(t *testing.T) {
	f := newFixture(t)
	f.addCandidate("a", 0.01)
	a := f.newAttribution(t, "att-1")

	var sent kafka.OfferEvent
	f.notifier.On("NotifyOffer", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(kafka.OfferEvent)
	}).Return(nil).Once()

	_, err := f.manager.Broadcast(context.Background(), a)
	require.NoError(t, err)
	f.manager.Wait()

	u, err := url.Parse(sent.AcceptURL)
	require.NoError(t, err)
	assert.Equal(t, "missions.example.com", u.Host)
	assert.Equal(t, "/api/v1/attributions/att-1/accept", u.Path)
	assert.Equal(t, "a", u.Query().Get("candidate_id"))
	assert.True(t, f.tokens.Validate(u.Query().Get("token"), "a", "att-1"))
	assert.Contains(t, sent.RefuseURL, "/api/v1/attributions/att-1/refuse?")
	assert.Equal(t, now.Add(24*time.Hour), sent.ExpiresAt)
	assert.Equal(t, "a@example.com", sent.CandidateEmail)
}

func TestManager_Broadcast_NotificationFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.addCandidate("a", 0.01)
	f.addCandidate("b", 0.02)
	f.addCandidate("c", 0.03)
	a := f.newAttribution(t, "att-1")

	f.notifier.On("NotifyOffer", mock.Anything, mock.MatchedBy(func(o kafka.OfferEvent) bool { return o.CandidateID == "b" })).
		Return(errors.New("smtp down")).Once()
	f.notifier.On("NotifyOffer", mock.Anything, mock.Anything).Return(nil)

	round, err := f.manager.Broadcast(context.Background(), a)
	require.NoError(t, err)
	f.manager.Wait()

	assert.Equal(t, 1, round.Number)
	f.notifier.AssertNumberOfCalls(t, "NotifyOffer", 3)
}

func TestManager_Broadcast_SkipsExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCandidate("a", 0.01)
	f.addCandidate("b", 0.02)
	a := f.newAttribution(t, "att-1")
	a, err := f.store.Attributions().AddExclusions(ctx, a.ID, []string{"a"})
	require.NoError(t, err)

	f.notifier.On("NotifyOffer", mock.Anything, mock.MatchedBy(func(o kafka.OfferEvent) bool { return o.CandidateID == "b" })).Return(nil).Once()

	round, err := f.manager.Broadcast(ctx, a)
	require.NoError(t, err)
	f.manager.Wait()

	require.Len(t, round.Candidates, 1)
	assert.Equal(t, "b", round.Candidates[0].Candidate.ID)
	f.notifier.AssertExpectations(t)
}

func TestManager_Broadcast_NoEligibleCandidatesExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCandidate("far", 1)
	a := f.newAttribution(t, "att-1")

	f.events.On("PublishAttributionEvent", mock.Anything, mock.MatchedBy(func(e kafka.AttributionEvent) bool {
		return e.Type == kafka.EventAttributionExpired && e.Reason == ReasonNoEligibleCandidates && !e.ManualIntervention
	})).Return(nil).Once()

	round, err := f.manager.Broadcast(ctx, a)
	require.NoError(t, err)
	f.manager.Wait()

	assert.True(t, round.Expired)
	f.notifier.AssertNotCalled(t, "NotifyOffer", mock.Anything, mock.Anything)
	f.events.AssertExpectations(t)

	stored, err := f.store.Attributions().GetByID(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttributionStatusExpired, stored.Status)
	assert.Equal(t, 0, stored.BroadcastCount)
}

func TestManager_Broadcast_CancelledAttributionNotifiesNobody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCandidate("a", 0.01)
	a := f.newAttribution(t, "att-1")

	ok, err := f.store.Attributions().TransitionStatus(ctx, a.ID, domain.AttributionStatusCancelled, "customer")
	require.NoError(t, err)
	require.True(t, ok)

	// a is the stale in-memory copy read before the cancellation.
	_, err = f.manager.Broadcast(ctx, a)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	f.manager.Wait()
	f.notifier.AssertNotCalled(t, "NotifyOffer", mock.Anything, mock.Anything)

	offers, err := f.store.Offers().ListRound(ctx, a.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestManager_Broadcast_ConcurrentRoundIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCandidate("a", 0.01)
	a := f.newAttribution(t, "att-1")
	f.notifier.On("NotifyOffer", mock.Anything, mock.Anything).Return(nil)

	_, err := f.manager.Broadcast(ctx, a)
	require.NoError(t, err)

	// Same snapshot again: broadcast_count no longer matches.
	_, err = f.manager.Broadcast(ctx, a)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	f.manager.Wait()
	f.notifier.AssertNumberOfCalls(t, "NotifyOffer", 1)
}

func TestManager_Broadcast_TerminalInputRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Broadcast(context.Background(), &domain.Attribution{ID: "x", Status: domain.AttributionStatusAccepted})
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}
