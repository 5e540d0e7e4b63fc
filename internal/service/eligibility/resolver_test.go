package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockCandidatePool struct {
	mock.Mock
}

func (m *MockCandidatePool) Candidates(ctx context.Context, serviceType string) ([]domain.Candidate, error) {
	args := m.Called(ctx, serviceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Candidate), args.Error(1)
}

type MockCandidateRepository struct {
	mock.Mock
}

func (m *MockCandidateRepository) ListByServiceType(ctx context.Context, serviceType string) ([]domain.Candidate, error) {
	args := m.Called(ctx, serviceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Candidate), args.Error(1)
}

func (m *MockCandidateRepository) GetByID(ctx context.Context, id string) (*domain.Candidate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Candidate), args.Error(1)
}

func (m *MockCandidateRepository) AvailableIDs(ctx context.Context, ids []string) ([]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCandidateRepository) IncrementOffers(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *MockCandidateRepository) IncrementAccepted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockPoolCache struct {
	mock.Mock
}

func (m *MockPoolCache) GetCandidatePool(ctx context.Context, serviceType string) ([]domain.Candidate, error) {
	args := m.Called(ctx, serviceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Candidate), args.Error(1)
}

func (m *MockPoolCache) SetCandidatePool(ctx context.Context, serviceType string, candidates []domain.Candidate) error {
	return m.Called(ctx, serviceType, candidates).Error(0)
}

// Job in central Paris; offsets of 0.01 degree latitude are about 1.1 km.
var job = domain.Location{Lat: 48.8566, Lng: 2.3522}

func at(dLat float64) domain.Location {
	return domain.Location{Lat: job.Lat + dLat, Lng: job.Lng}
}

func candidate(id string, loc domain.Location, maxKm float64) domain.Candidate {
	return domain.Candidate{
		ID:            id,
		ServiceTypes:  []string{"cleaning"},
		IsAvailable:   true,
		MaxDistanceKm: maxKm,
		Location:      loc,
	}
}

func TestResolver_Resolve_FiltersAndOrders(t *testing.T) {
	pool := &MockCandidatePool{}
	ctx := context.Background()

	unavailable := candidate("unavailable", at(0.01), 0)
	unavailable.IsAvailable = false
	otherService := candidate("other-service", at(0.01), 0)
	otherService.ServiceTypes = []string{"plumbing"}

	pool.On("Candidates", ctx, "cleaning").Return([]domain.Candidate{
		candidate("far", at(0.5), 0),          // ~55 km
		candidate("near", at(0.05), 0),        // ~5.6 km
		candidate("nearest", at(0.01), 0),     // ~1.1 km
		candidate("short-reach", at(0.1), 5),  // ~11 km but only travels 5 km
		candidate("excluded", at(0.02), 0),
		unavailable,
		otherService,
	}, nil)

	r := NewResolver(pool)
	got, err := r.Resolve(ctx, "cleaning", job, 20, []string{"excluded"})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.Candidate.ID)
	}
	assert.Equal(t, []string{"nearest", "near"}, ids)
	assert.InDelta(t, 1.11, got[0].DistanceKm, 0.05)
	pool.AssertExpectations(t)
}

func TestResolver_Resolve_TiesBrokenByID(t *testing.T) {
	pool := &MockCandidatePool{}
	ctx := context.Background()
	pool.On("Candidates", ctx, "cleaning").Return([]domain.Candidate{
		candidate("b", at(0.01), 0),
		candidate("a", at(0.01), 0),
	}, nil)

	got, err := NewResolver(pool).Resolve(ctx, "cleaning", job, 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Candidate.ID)
	assert.Equal(t, "b", got[1].Candidate.ID)
}

func TestResolver_Resolve_EmptyIsNotAnError(t *testing.T) {
	pool := &MockCandidatePool{}
	ctx := context.Background()
	pool.On("Candidates", ctx, "cleaning").Return([]domain.Candidate{}, nil)

	got, err := NewResolver(pool).Resolve(ctx, "cleaning", job, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolver_Resolve_InvalidLocation(t *testing.T) {
	_, err := NewResolver(&MockCandidatePool{}).Resolve(context.Background(), "cleaning", domain.Location{Lat: 91}, 10, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolver_Resolve_PoolError(t *testing.T) {
	pool := &MockCandidatePool{}
	ctx := context.Background()
	pool.On("Candidates", ctx, "cleaning").Return(nil, errors.New("db down"))

	_, err := NewResolver(pool).Resolve(ctx, "cleaning", job, 10, nil)
	require.Error(t, err)
	_, isRejection := domain.KindOf(err)
	assert.False(t, isRejection)
}

func TestCachedPool_Hit(t *testing.T) {
	repo := &MockCandidateRepository{}
	cache := &MockPoolCache{}
	ctx := context.Background()
	cached := []domain.Candidate{candidate("a", job, 0)}
	cache.On("GetCandidatePool", ctx, "cleaning").Return(cached, nil)
	repo.On("AvailableIDs", ctx, []string{"a"}).Return([]string{"a"}, nil)

	got, err := NewCachedPool(repo, cache, zap.NewNop()).Candidates(ctx, "cleaning")
	require.NoError(t, err)
	assert.Equal(t, cached, got)
	repo.AssertNotCalled(t, "ListByServiceType", mock.Anything, mock.Anything)
}

func TestCachedPool_HitUsesCurrentAvailability(t *testing.T) {
	repo := &MockCandidateRepository{}
	cache := &MockPoolCache{}
	ctx := context.Background()
	away := candidate("a", at(0.01), 0)
	back := candidate("b", at(0.02), 0)
	back.IsAvailable = false
	cache.On("GetCandidatePool", ctx, "cleaning").Return([]domain.Candidate{away, back}, nil)
	repo.On("AvailableIDs", ctx, []string{"a", "b"}).Return([]string{"b"}, nil)

	pool := NewCachedPool(repo, cache, zap.NewNop())
	got, err := pool.Candidates(ctx, "cleaning")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].IsAvailable)
	assert.True(t, got[1].IsAvailable)

	eligible, err := NewResolver(pool).Resolve(ctx, "cleaning", job, 10, nil)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "b", eligible[0].Candidate.ID)
	repo.AssertNotCalled(t, "ListByServiceType", mock.Anything, mock.Anything)
}

func TestCachedPool_HitAvailabilityError(t *testing.T) {
	repo := &MockCandidateRepository{}
	cache := &MockPoolCache{}
	ctx := context.Background()
	cache.On("GetCandidatePool", ctx, "cleaning").Return([]domain.Candidate{candidate("a", job, 0)}, nil)
	repo.On("AvailableIDs", ctx, []string{"a"}).Return(nil, errors.New("connection reset"))

	_, err := NewCachedPool(repo, cache, zap.NewNop()).Candidates(ctx, "cleaning")
	assert.Error(t, err)
}

func TestCachedPool_MissLoadsAndFills(t *testing.T) {
	repo := &MockCandidateRepository{}
	cache := &MockPoolCache{}
	ctx := context.Background()
	loaded := []domain.Candidate{candidate("a", job, 0)}
	cache.On("GetCandidatePool", ctx, "cleaning").Return(nil, nil)
	repo.On("ListByServiceType", ctx, "cleaning").Return(loaded, nil).Once()
	cache.On("SetCandidatePool", ctx, "cleaning", loaded).Return(nil).Once()

	got, err := NewCachedPool(repo, cache, zap.NewNop()).Candidates(ctx, "cleaning")
	require.NoError(t, err)
	assert.Equal(t, loaded, got)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestCachedPool_CacheErrorFallsBackToRepository(t *testing.T) {
	repo := &MockCandidateRepository{}
	cache := &MockPoolCache{}
	ctx := context.Background()
	loaded := []domain.Candidate{candidate("a", job, 0)}
	cache.On("GetCandidatePool", ctx, "cleaning").Return(nil, errors.New("redis down"))
	cache.On("SetCandidatePool", ctx, "cleaning", loaded).Return(errors.New("redis down"))
	repo.On("ListByServiceType", ctx, "cleaning").Return(loaded, nil)

	got, err := NewCachedPool(repo, cache, zap.NewNop()).Candidates(ctx, "cleaning")
	require.NoError(t, err)
	assert.Equal(t, loaded, got)
}

func TestCachedPool_NoCache(t *testing.T) {
	repo := &MockCandidateRepository{}
	ctx := context.Background()
	repo.On("ListByServiceType", ctx, "cleaning").Return([]domain.Candidate{}, nil)

	got, err := NewCachedPool(repo, nil, zap.NewNop()).Candidates(ctx, "cleaning")
	require.NoError(t, err)
	assert.Empty(t, got)
}
