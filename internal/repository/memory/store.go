// Package memory is an in-process implementation of the repository
// interfaces. It keeps the same conditional-update semantics as the Postgres
// repositories and is used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/repository"
)

type Store struct {
	mu           sync.Mutex
	attributions map[string]*domain.Attribution
	responses    map[string][]domain.AttributionResponse
	offers       map[string][]domain.Offer
	candidates   map[string]*domain.Candidate
	bookings     map[string]domain.CustomerContact
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		attributions: make(map[string]*domain.Attribution),
		responses:    make(map[string][]domain.AttributionResponse),
		offers:       make(map[string][]domain.Offer),
		candidates:   make(map[string]*domain.Candidate),
		bookings:     make(map[string]domain.CustomerContact),
		now:          time.Now,
	}
}

func (s *Store) Attributions() repository.AttributionRepository { return attributionRepo{s} }
func (s *Store) Responses() repository.ResponseRepository       { return responseRepo{s} }
func (s *Store) Offers() repository.OfferRepository             { return offerRepo{s} }
func (s *Store) Candidates() repository.CandidateRepository     { return candidateRepo{s} }
func (s *Store) Bookings() repository.BookingRepository         { return bookingRepo{s} }

func (s *Store) PutCandidate(c domain.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ServiceTypes = slices.Clone(c.ServiceTypes)
	s.candidates[c.ID] = &c
}

func (s *Store) PutBooking(bookingID string, contact domain.CustomerContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[bookingID] = contact
}

func copyAttribution(a *domain.Attribution) *domain.Attribution {
	c := *a
	c.ExcludedCandidates = slices.Clone(a.ExcludedCandidates)
	if a.LastBroadcastAt != nil {
		t := *a.LastBroadcastAt
		c.LastBroadcastAt = &t
	}
	return &c
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrNotFound)
}

type attributionRepo struct{ s *Store }

func (r attributionRepo) Create(_ context.Context, a *domain.Attribution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.attributions[a.ID]; exists {
		return fmt.Errorf("attribution %s already exists", a.ID)
	}
	for _, existing := range r.s.attributions {
		if existing.BookingID == a.BookingID && isActive(existing.Status) {
			return domain.Reject(domain.KindValidation, "booking %s already has an active attribution", a.BookingID)
		}
	}
	now := r.s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.ExcludedCandidates == nil {
		a.ExcludedCandidates = []string{}
	}
	r.s.attributions[a.ID] = copyAttribution(a)
	return nil
}

func (r attributionRepo) GetByID(_ context.Context, id string) (*domain.Attribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attributions[id]
	if !ok {
		return nil, notFound("attribution %s", id)
	}
	return copyAttribution(a), nil
}

func (r attributionRepo) GetActiveByBookingID(_ context.Context, bookingID string) (*domain.Attribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.attributions {
		if a.BookingID == bookingID && isActive(a.Status) {
			return copyAttribution(a), nil
		}
	}
	return nil, notFound("active attribution for booking %s", bookingID)
}

func (r attributionRepo) RecordBroadcast(_ context.Context, id string, expectedCount int, at time.Time) (*domain.Attribution, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attributions[id]
	if !ok || a.Status != domain.AttributionStatusBroadcasting || a.BroadcastCount != expectedCount {
		return nil, false, nil
	}
	a.BroadcastCount++
	a.LastBroadcastAt = &at
	a.UpdatedAt = r.s.now()
	return copyAttribution(a), true, nil
}

func (r attributionRepo) AddExclusions(_ context.Context, id string, candidateIDs []string) (*domain.Attribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attributions[id]
	if !ok {
		return nil, notFound("attribution %s", id)
	}
	if a.Status == domain.AttributionStatusBroadcasting {
		a.ExcludedCandidates = domain.MergeExcluded(a.ExcludedCandidates, candidateIDs)
		a.UpdatedAt = r.s.now()
	}
	return copyAttribution(a), nil
}

func (r attributionRepo) TransitionStatus(_ context.Context, id string, to domain.AttributionStatus, reason string) (bool, error) {
	if to == domain.AttributionStatusAccepted || !to.IsTerminal() {
		return false, fmt.Errorf("unsupported transition to %s", to)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attributions[id]
	if !ok || a.Status != domain.AttributionStatusBroadcasting {
		return false, nil
	}
	a.Status = to
	a.CancelReason = reason
	a.UpdatedAt = r.s.now()
	return true, nil
}

func (r attributionRepo) ListTimedOut(_ context.Context, cutoff time.Time, limit int) ([]domain.Attribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	timedOut := make([]domain.Attribution, 0)
	for _, a := range r.s.attributions {
		if a.Status != domain.AttributionStatusBroadcasting {
			continue
		}
		if !lastActivity(a).After(cutoff) {
			timedOut = append(timedOut, *copyAttribution(a))
		}
	}
	sort.Slice(timedOut, func(i, j int) bool {
		return lastActivity(&timedOut[i]).Before(lastActivity(&timedOut[j]))
	})
	if limit > 0 && len(timedOut) > limit {
		timedOut = timedOut[:limit]
	}
	return timedOut, nil
}

func lastActivity(a *domain.Attribution) time.Time {
	if a.LastBroadcastAt != nil {
		return *a.LastBroadcastAt
	}
	return a.CreatedAt
}

func isActive(s domain.AttributionStatus) bool {
	return s == domain.AttributionStatusBroadcasting || s == domain.AttributionStatusAccepted
}

type responseRepo struct{ s *Store }

func (r responseRepo) Accept(_ context.Context, resp *domain.AttributionResponse) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attributions[resp.AttributionID]
	if !ok || a.Status != domain.AttributionStatusBroadcasting {
		return false, nil
	}
	if r.s.findResponse(resp.AttributionID, resp.CandidateID) != nil {
		return false, domain.Reject(domain.KindDuplicateResponse, "candidate %s already responded", resp.CandidateID)
	}
	a.Status = domain.AttributionStatusAccepted
	a.AcceptedCandidateID = resp.CandidateID
	a.UpdatedAt = r.s.now()
	r.s.responses[resp.AttributionID] = append(r.s.responses[resp.AttributionID], *resp)
	return true, nil
}

func (r responseRepo) Refuse(_ context.Context, resp *domain.AttributionResponse) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attributions[resp.AttributionID]
	if !ok {
		return false, notFound("attribution %s", resp.AttributionID)
	}
	if r.s.findResponse(resp.AttributionID, resp.CandidateID) != nil {
		return false, nil
	}
	r.s.responses[resp.AttributionID] = append(r.s.responses[resp.AttributionID], *resp)
	a.ExcludedCandidates = domain.MergeExcluded(a.ExcludedCandidates, []string{resp.CandidateID})
	a.UpdatedAt = r.s.now()
	return true, nil
}

func (r responseRepo) Get(_ context.Context, attributionID, candidateID string) (*domain.AttributionResponse, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	resp := r.s.findResponse(attributionID, candidateID)
	if resp == nil {
		return nil, notFound("response of %s to %s", candidateID, attributionID)
	}
	c := *resp
	return &c, nil
}

func (r responseRepo) ListByAttribution(_ context.Context, attributionID string) ([]domain.AttributionResponse, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return append(make([]domain.AttributionResponse, 0), r.s.responses[attributionID]...), nil
}

func (s *Store) findResponse(attributionID, candidateID string) *domain.AttributionResponse {
	for i := range s.responses[attributionID] {
		if s.responses[attributionID][i].CandidateID == candidateID {
			return &s.responses[attributionID][i]
		}
	}
	return nil
}

type offerRepo struct{ s *Store }

func (r offerRepo) RecordOffers(_ context.Context, offers []domain.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range offers {
		exists := slices.ContainsFunc(r.s.offers[o.AttributionID], func(e domain.Offer) bool {
			return e.Round == o.Round && e.CandidateID == o.CandidateID
		})
		if !exists {
			r.s.offers[o.AttributionID] = append(r.s.offers[o.AttributionID], o)
		}
	}
	return nil
}

func (r offerRepo) ListRound(_ context.Context, attributionID string, round int) ([]domain.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	offers := make([]domain.Offer, 0)
	for _, o := range r.s.offers[attributionID] {
		if o.Round == round {
			offers = append(offers, o)
		}
	}
	return offers, nil
}

type candidateRepo struct{ s *Store }

func (r candidateRepo) ListByServiceType(_ context.Context, serviceType string) ([]domain.Candidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	candidates := make([]domain.Candidate, 0)
	for _, c := range r.s.candidates {
		if c.Offers(serviceType) {
			cp := *c
			cp.ServiceTypes = slices.Clone(c.ServiceTypes)
			candidates = append(candidates, cp)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates, nil
}

func (r candidateRepo) GetByID(_ context.Context, id string) (*domain.Candidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.candidates[id]
	if !ok {
		return nil, notFound("candidate %s", id)
	}
	cp := *c
	cp.ServiceTypes = slices.Clone(c.ServiceTypes)
	return &cp, nil
}

func (r candidateRepo) AvailableIDs(_ context.Context, ids []string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var available []string
	for _, id := range ids {
		if c, ok := r.s.candidates[id]; ok && c.IsAvailable {
			available = append(available, id)
		}
	}
	return available, nil
}

func (r candidateRepo) IncrementOffers(_ context.Context, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range ids {
		if c, ok := r.s.candidates[id]; ok {
			c.TotalOffers++
		}
	}
	return nil
}

func (r candidateRepo) IncrementAccepted(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c, ok := r.s.candidates[id]; ok {
		c.AcceptedOffers++
	}
	return nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) GetCustomerContact(_ context.Context, bookingID string) (*domain.CustomerContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.bookings[bookingID]
	if !ok {
		return nil, notFound("booking %s", bookingID)
	}
	return &c, nil
}
