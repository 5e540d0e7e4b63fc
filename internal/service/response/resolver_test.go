package response

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/repository/memory"
	"github.com/Domenick1991/attribution/internal/service/broadcast"
	"github.com/Domenick1991/attribution/internal/service/eligibility"
	"github.com/Domenick1991/attribution/internal/service/escalation"
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

type MockEscalator struct {
	mock.Mock
}

func (m *MockEscalator) Escalate(ctx context.Context, attributionID string) (*escalation.StepResult, error) {
	args := m.Called(ctx, attributionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escalation.StepResult), args.Error(1)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

var job = domain.Location{Lat: 48.8566, Lng: 2.3522}

type fixture struct {
	store     *memory.Store
	clock     *clock
	tokens    *token.Issuer
	events    *MockEventPublisher
	escalator *MockEscalator
	manager   *broadcast.Manager
	resolver  *Resolver
}

func newFixture(t *testing.T, candidates ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(),
		clock:     &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
		events:    &MockEventPublisher{},
		escalator: &MockEscalator{},
	}
	var err error
	f.tokens, err = token.NewIssuer("response-secret-response-secret-xx", 24*time.Hour, token.WithClock(f.clock.Now))
	require.NoError(t, err)

	notifier := &MockNotifier{}
	notifier.On("NotifyOffer", mock.Anything, mock.Anything).Return(nil)
	resolver := eligibility.NewResolver(eligibility.NewCachedPool(f.store.Candidates(), nil, zap.NewNop()))
	f.manager = broadcast.NewManager(f.store.Attributions(), f.store.Offers(), f.store.Candidates(), resolver, f.tokens,
		notifier, f.events, "http://localhost:8080", zap.NewNop(), broadcast.WithClock(f.clock.Now))
	f.resolver = NewResolver(f.store.Attributions(), f.store.Responses(), f.store.Offers(), f.store.Candidates(),
		f.tokens, f.escalator, f.events, zap.NewNop(), WithClock(f.clock.Now))

	for i, id := range candidates {
		f.store.PutCandidate(domain.Candidate{
			ID:           id,
			ServiceTypes: []string{"cleaning"},
			IsAvailable:  true,
			Location:     domain.Location{Lat: job.Lat + 0.01*float64(i+1), Lng: job.Lng},
		})
	}

	a := &domain.Attribution{
		ID:            "att-1",
		BookingID:     "booking-1",
		ServiceType:   "cleaning",
		Location:      job,
		MaxDistanceKm: 50,
		Status:        domain.AttributionStatusBroadcasting,
	}
	require.NoError(t, f.store.Attributions().Create(context.Background(), a))
	_, err = f.manager.Broadcast(context.Background(), a)
	require.NoError(t, err)
	f.manager.Wait()
	return f
}

func (f *fixture) input(t *testing.T, candidateID string, typ domain.ResponseType) Input {
	t.Helper()
	tok, _, err := f.tokens.Issue(candidateID, "att-1")
	require.NoError(t, err)
	return Input{AttributionID: "att-1", CandidateID: candidateID, Type: typ, Token: tok}
}

func (f *fixture) expectAcceptedEvent(candidateID string) {
	f.events.On("PublishAttributionEvent", mock.Anything, mock.MatchedBy(func(e kafka.AttributionEvent) bool {
		return e.Type == kafka.EventAttributionAccepted && e.CandidateID == candidateID
	})).Return(nil).Once()
}

func TestResolver_FirstAcceptWins(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	f.expectAcceptedEvent("A")

	out, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeAccepted))
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, domain.AttributionStatusAccepted, out.Attribution.Status)
	assert.Equal(t, "A", out.Attribution.AcceptedCandidateID)
	assert.InDelta(t, 1.11, out.Response.DistanceKm, 0.05)

	_, err = f.resolver.Apply(ctx, f.input(t, "B", domain.ResponseTypeAccepted))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	responses, err := f.store.Responses().ListByAttribution(ctx, "att-1")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "A", responses[0].CandidateID)

	c, err := f.store.Candidates().GetByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, c.AcceptedOffers)
	f.events.AssertExpectations(t)
}

func TestResolver_AcceptIsIdempotent(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	f.expectAcceptedEvent("A")

	first, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeAccepted))
	require.NoError(t, err)

	second, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeAccepted))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response.ID, second.Response.ID)
	assert.Equal(t, "A", second.Attribution.AcceptedCandidateID)

	responses, err := f.store.Responses().ListByAttribution(ctx, "att-1")
	require.NoError(t, err)
	assert.Len(t, responses, 1)
	f.events.AssertNumberOfCalls(t, "PublishAttributionEvent", 1)
}

func TestResolver_ConflictingAnswerIsDuplicate(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	_, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeRefused))
	require.NoError(t, err)

	_, err = f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeAccepted))
	assert.ErrorIs(t, err, domain.ErrDuplicateResponse)

	a, err := f.store.Attributions().GetByID(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttributionStatusBroadcasting, a.Status)
}

func TestResolver_InvalidToken(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	in := f.input(t, "A", domain.ResponseTypeAccepted)
	in.CandidateID = "B"
	_, err := f.resolver.Apply(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	in = f.input(t, "A", domain.ResponseTypeAccepted)
	in.Token = "0123456789abcdef"
	_, err = f.resolver.Apply(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestResolver_ExpiredToken(t *testing.T) {
	f := newFixture(t, "A")
	in := f.input(t, "A", domain.ResponseTypeAccepted)

	f.clock.t = f.clock.t.Add(25 * time.Hour)
	_, err := f.resolver.Apply(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestResolver_MissingParameters(t *testing.T) {
	f := newFixture(t, "A")
	_, err := f.resolver.Apply(context.Background(), Input{AttributionID: "att-1", Type: domain.ResponseTypeAccepted})
	assert.ErrorIs(t, err, domain.ErrValidation)

	in := f.input(t, "A", domain.ResponseTypeAccepted)
	in.Type = "MAYBE"
	_, err = f.resolver.Apply(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolver_UnknownAttribution(t *testing.T) {
	f := newFixture(t, "A")
	tok, _, err := f.tokens.Issue("A", "missing")
	require.NoError(t, err)

	_, err = f.resolver.Apply(context.Background(), Input{AttributionID: "missing", CandidateID: "A", Type: domain.ResponseTypeAccepted, Token: tok})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolver_ConcurrentAcceptsHaveExactlyOneWinner(t *testing.T) {
	const n = 25
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%02d", i)
	}
	f := newFixture(t, ids...)
	ctx := context.Background()
	f.events.On("PublishAttributionEvent", mock.Anything, mock.Anything).Return(nil)

	inputs := make([]Input, n)
	for i, id := range ids {
		inputs[i] = f.input(t, id, domain.ResponseTypeAccepted)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		resolved int
	)
	for _, in := range inputs {
		wg.Add(1)
		go func(in Input) {
			defer wg.Done()
			_, err := f.resolver.Apply(ctx, in)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, in.CandidateID)
			case errors.Is(err, domain.ErrAlreadyResolved):
				resolved++
			default:
				t.Errorf("unexpected error for %s: %v", in.CandidateID, err)
			}
		}(in)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, resolved)

	a, err := f.store.Attributions().GetByID(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], a.AcceptedCandidateID)

	responses, err := f.store.Responses().ListByAttribution(ctx, "att-1")
	require.NoError(t, err)
	accepted := 0
	for _, r := range responses {
		if r.ResponseType == domain.ResponseTypeAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestResolver_RefusalExcludesAndLastRefusalEscalates(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	out, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeRefused))
	require.NoError(t, err)
	assert.Nil(t, out.Escalation)
	assert.Equal(t, []string{"A"}, out.Attribution.ExcludedCandidates)
	f.escalator.AssertNotCalled(t, "Escalate", mock.Anything, mock.Anything)

	step := &escalation.StepResult{AttributionID: "att-1", Action: escalation.ActionExpired}
	f.escalator.On("Escalate", mock.Anything, "att-1").Return(step, nil).Once()

	in := f.input(t, "B", domain.ResponseTypeRefused)
	in.Message = "too far"
	out, err = f.resolver.Apply(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, step, out.Escalation)
	assert.Equal(t, []string{"A", "B"}, out.Attribution.ExcludedCandidates)
	assert.Equal(t, "too far", out.Response.Message)
	f.escalator.AssertExpectations(t)
}

func TestResolver_RefusalReplay(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	_, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeRefused))
	require.NoError(t, err)
	out, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeRefused))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	f.escalator.AssertNotCalled(t, "Escalate", mock.Anything, mock.Anything)
}

func TestResolver_LateAcceptAfterExpiry(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	in := f.input(t, "A", domain.ResponseTypeAccepted)

	ok, err := f.store.Attributions().TransitionStatus(ctx, "att-1", domain.AttributionStatusExpired, "round_limit_exceeded")
	require.NoError(t, err)
	require.True(t, ok)

	// The token is still valid; the status is what rejects it.
	assert.True(t, f.tokens.Validate(in.Token, "A", "att-1"))
	_, err = f.resolver.Apply(ctx, in)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolver_ExcludedCandidateMayStillAccept(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	_, err := f.store.Attributions().AddExclusions(ctx, "att-1", []string{"A"})
	require.NoError(t, err)
	f.expectAcceptedEvent("A")

	out, err := f.resolver.Apply(ctx, f.input(t, "A", domain.ResponseTypeAccepted))
	require.NoError(t, err)
	assert.Equal(t, "A", out.Attribution.AcceptedCandidateID)
}
