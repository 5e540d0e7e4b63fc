package eligibility

import (
	"context"
	"fmt"
	"sort"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/geo"
)

type CandidatePool interface {
	Candidates(ctx context.Context, serviceType string) ([]domain.Candidate, error)
}

type Resolver struct {
	pool CandidatePool
}

func NewResolver(pool CandidatePool) *Resolver {
	return &Resolver{pool: pool}
}

// Resolve returns every available candidate offering serviceType within reach
// of location, nearest first. A candidate is within reach when its distance
// is at most both maxDistanceKm and its own ceiling (ignored when not
// positive). An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, serviceType string, location domain.Location, maxDistanceKm float64, excluded []string) ([]domain.EligibleCandidate, error) {
	if !location.Valid() {
		return nil, domain.Reject(domain.KindValidation, "invalid location %v", location)
	}

	pool, err := r.pool.Candidates(ctx, serviceType)
	if err != nil {
		return nil, fmt.Errorf("load candidates for %s: %w", serviceType, err)
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}

	eligible := make([]domain.EligibleCandidate, 0, len(pool))
	for _, c := range pool {
		if !c.IsAvailable || !c.Offers(serviceType) || !c.Location.Valid() {
			continue
		}
		if _, ok := skip[c.ID]; ok {
			continue
		}
		limit := maxDistanceKm
		if c.MaxDistanceKm > 0 && c.MaxDistanceKm < limit {
			limit = c.MaxDistanceKm
		}
		d := geo.DistanceKm(location, c.Location)
		if d > limit {
			continue
		}
		eligible = append(eligible, domain.EligibleCandidate{Candidate: c, DistanceKm: d})
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].DistanceKm != eligible[j].DistanceKm {
			return eligible[i].DistanceKm < eligible[j].DistanceKm
		}
		return eligible[i].Candidate.ID < eligible[j].Candidate.ID
	})
	return eligible, nil
}
