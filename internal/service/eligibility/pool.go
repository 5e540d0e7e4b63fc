package eligibility

import (
	"context"
	"fmt"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type PoolCache interface {
	GetCandidatePool(ctx context.Context, serviceType string) ([]domain.Candidate, error)
	SetCandidatePool(ctx context.Context, serviceType string, candidates []domain.Candidate) error
}

// CachedPool reads candidates through a short-lived cache. Concurrent misses
// for the same service type share a single repository load. Availability on a
// cache hit is always re-read from the repository.
type CachedPool struct {
	repo   repository.CandidateRepository
	cache  PoolCache
	group  singleflight.Group
	logger *zap.Logger
}

func NewCachedPool(repo repository.CandidateRepository, cache PoolCache, logger *zap.Logger) *CachedPool {
	return &CachedPool{repo: repo, cache: cache, logger: logger}
}

func (p *CachedPool) Candidates(ctx context.Context, serviceType string) ([]domain.Candidate, error) {
	if p.cache != nil {
		cached, err := p.cache.GetCandidatePool(ctx, serviceType)
		if err != nil {
			p.logger.Warn("candidate cache read failed", zap.String("service_type", serviceType), zap.Error(err))
		} else if cached != nil {
			return p.withCurrentAvailability(ctx, cached)
		}
	}

	v, err, _ := p.group.Do(serviceType, func() (any, error) {
		candidates, err := p.repo.ListByServiceType(ctx, serviceType)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if err := p.cache.SetCandidatePool(ctx, serviceType, candidates); err != nil {
				p.logger.Warn("candidate cache write failed", zap.String("service_type", serviceType), zap.Error(err))
			}
		}
		return candidates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Candidate), nil
}

func (p *CachedPool) withCurrentAvailability(ctx context.Context, cached []domain.Candidate) ([]domain.Candidate, error) {
	if len(cached) == 0 {
		return cached, nil
	}
	ids := make([]string, len(cached))
	for i, c := range cached {
		ids[i] = c.ID
	}
	available, err := p.repo.AvailableIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check candidate availability: %w", err)
	}
	now := make(map[string]struct{}, len(available))
	for _, id := range available {
		now[id] = struct{}{}
	}

	out := make([]domain.Candidate, len(cached))
	for i, c := range cached {
		_, c.IsAvailable = now[c.ID]
		out[i] = c
	}
	return out, nil
}

var _ CandidatePool = (*CachedPool)(nil)
