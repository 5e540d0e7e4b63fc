package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/repository"
	"github.com/Domenick1991/attribution/internal/service/escalation"
	"github.com/Domenick1991/attribution/internal/service/response"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AttributionUseCase interface {
	CreateAttribution(ctx context.Context, input CreateAttributionInput) (*CreateResult, error)
	Accept(ctx context.Context, input ActionInput) (*response.Outcome, error)
	Refuse(ctx context.Context, input ActionInput) (*response.Outcome, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Attribution, error)
	Status(ctx context.Context, id, candidateID, token string) (*StatusView, error)
	Get(ctx context.Context, id string) (*domain.Attribution, error)
	Responses(ctx context.Context, id string) ([]domain.AttributionResponse, error)
	Rebroadcast(ctx context.Context, id string) (*escalation.StepResult, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, a *domain.Attribution) (*domain.Round, error)
}

type ResponseApplier interface {
	Apply(ctx context.Context, in response.Input) (*response.Outcome, error)
}

type Escalator interface {
	Escalate(ctx context.Context, attributionID string) (*escalation.StepResult, error)
}

type TokenValidator interface {
	Validate(raw, candidateID, attributionID string) bool
}

type EventPublisher interface {
	PublishAttributionEvent(ctx context.Context, event kafka.AttributionEvent) error
}

type CreateAttributionInput struct {
	BookingID     string          `json:"booking_id"`
	ServiceType   string          `json:"service_type"`
	Location      domain.Location `json:"location"`
	MaxDistanceKm float64         `json:"max_distance_km"`
}

type CreateResult struct {
	Attribution *domain.Attribution
	Round       *domain.Round
}

type ActionInput struct {
	AttributionID string
	CandidateID   string
	Token         string
	Message       string
}

type Tally struct {
	Offered  int
	Accepted int
	Refused  int
	Pending  int
}

type StatusView struct {
	Attribution *domain.Attribution
	// Accepted and Refused count every response; Offered and Pending cover
	// the current round.
	Tally Tally
	// Contact is only set for the accepted candidate.
	Contact *domain.CustomerContact
}

type Repositories struct {
	Attributions repository.AttributionRepository
	Responses    repository.ResponseRepository
	Offers       repository.OfferRepository
	Bookings     repository.BookingRepository
}

type AttributionService struct {
	attributions       repository.AttributionRepository
	responses          repository.ResponseRepository
	offers             repository.OfferRepository
	bookings           repository.BookingRepository
	broadcaster        Broadcaster
	resolver           ResponseApplier
	escalator          Escalator
	tokens             TokenValidator
	events             EventPublisher
	defaultMaxDistance float64
	now                func() time.Time
	logger             *zap.Logger
}

type AttributionServiceOption func(*AttributionService)

func WithDefaultMaxDistance(km float64) AttributionServiceOption {
	return func(s *AttributionService) {
		if km > 0 {
			s.defaultMaxDistance = km
		}
	}
}

func WithClock(now func() time.Time) AttributionServiceOption {
	return func(s *AttributionService) {
		s.now = now
	}
}

func NewAttributionService(
	repos Repositories,
	broadcaster Broadcaster,
	resolver ResponseApplier,
	escalator Escalator,
	tokens TokenValidator,
	events EventPublisher,
	logger *zap.Logger,
	opts ...AttributionServiceOption,
) *AttributionService {
	s := &AttributionService{
		attributions:       repos.Attributions,
		responses:          repos.Responses,
		offers:             repos.Offers,
		bookings:           repos.Bookings,
		broadcaster:        broadcaster,
		resolver:           resolver,
		escalator:          escalator,
		tokens:             tokens,
		events:             events,
		defaultMaxDistance: 50,
		now:                time.Now,
		logger:             logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAttribution opens an attribution for a booking and broadcasts its
// first round. If the round cannot be started the attribution is kept; calling
// again for the same booking retries the round on it, and otherwise the
// escalation tick retries it once its timeout elapses.
func (s *AttributionService) CreateAttribution(ctx context.Context, input CreateAttributionInput) (*CreateResult, error) {
	input.BookingID = strings.TrimSpace(input.BookingID)
	input.ServiceType = strings.TrimSpace(input.ServiceType)
	if input.BookingID == "" {
		return nil, domain.Reject(domain.KindValidation, "booking_id is required")
	}
	if input.ServiceType == "" {
		return nil, domain.Reject(domain.KindValidation, "service_type is required")
	}
	if !input.Location.Valid() {
		return nil, domain.Reject(domain.KindValidation, "location is out of range")
	}
	if input.MaxDistanceKm < 0 {
		return nil, domain.Reject(domain.KindValidation, "max_distance_km must not be negative")
	}
	if input.MaxDistanceKm == 0 {
		input.MaxDistanceKm = s.defaultMaxDistance
	}

	existing, err := s.attributions.GetActiveByBookingID(ctx, input.BookingID)
	switch {
	case err == nil:
		if existing.Status == domain.AttributionStatusBroadcasting && existing.BroadcastCount == 0 &&
			existing.ServiceType == input.ServiceType {
			return s.startFirstRound(ctx, existing)
		}
		return nil, domain.Reject(domain.KindValidation, "booking %s already has active attribution %s", input.BookingID, existing.ID)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("check active attribution: %w", err)
	}

	a := &domain.Attribution{
		ID:            uuid.NewString(),
		BookingID:     input.BookingID,
		ServiceType:   input.ServiceType,
		Location:      input.Location,
		MaxDistanceKm: input.MaxDistanceKm,
		Status:        domain.AttributionStatusBroadcasting,
	}
	if err := s.attributions.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("attribution created",
		zap.String("attribution_id", a.ID),
		zap.String("booking_id", a.BookingID),
		zap.String("service_type", a.ServiceType))
	s.publish(ctx, kafka.AttributionEvent{
		Type:          kafka.EventAttributionCreated,
		AttributionID: a.ID,
		BookingID:     a.BookingID,
		Status:        string(a.Status),
		OccurredAt:    s.now(),
	})

	return s.startFirstRound(ctx, a)
}

// startFirstRound broadcasts round 1. Losing the race to another create or to
// the tick is not an error: the attribution is returned with a nil Round.
func (s *AttributionService) startFirstRound(ctx context.Context, a *domain.Attribution) (*CreateResult, error) {
	round, err := s.broadcaster.Broadcast(ctx, a)
	if err != nil && !errors.Is(err, domain.ErrAlreadyResolved) {
		return nil, fmt.Errorf("broadcast first round of %s: %w", a.ID, err)
	}
	if err != nil {
		s.logger.Info("first round already started", zap.String("attribution_id", a.ID), zap.Error(err))
	}

	current, err := s.attributions.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Attribution: current, Round: round}, nil
}

func (s *AttributionService) Accept(ctx context.Context, input ActionInput) (*response.Outcome, error) {
	return s.resolver.Apply(ctx, response.Input{
		AttributionID: input.AttributionID,
		CandidateID:   input.CandidateID,
		Type:          domain.ResponseTypeAccepted,
		Token:         input.Token,
		Message:       input.Message,
	})
}

func (s *AttributionService) Refuse(ctx context.Context, input ActionInput) (*response.Outcome, error) {
	return s.resolver.Apply(ctx, response.Input{
		AttributionID: input.AttributionID,
		CandidateID:   input.CandidateID,
		Type:          domain.ResponseTypeRefused,
		Token:         input.Token,
		Message:       input.Message,
	})
}

// Cancel stops a broadcasting attribution. Cancelling twice is harmless;
// cancelling one that was accepted or expired is rejected.
func (s *AttributionService) Cancel(ctx context.Context, id, reason string) (*domain.Attribution, error) {
	ok, err := s.attributions.TransitionStatus(ctx, id, domain.AttributionStatusCancelled, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel attribution: %w", err)
	}

	a, err := s.attributions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if a.Status == domain.AttributionStatusCancelled {
			return a, nil
		}
		return nil, domain.Reject(domain.KindAlreadyResolved, "attribution %s is %s", id, a.Status)
	}

	s.logger.Info("attribution cancelled", zap.String("attribution_id", id), zap.String("reason", reason))
	s.publish(ctx, kafka.AttributionEvent{
		Type:          kafka.EventAttributionCancelled,
		AttributionID: id,
		BookingID:     a.BookingID,
		Status:        string(domain.AttributionStatusCancelled),
		Round:         a.BroadcastCount,
		Reason:        reason,
		OccurredAt:    s.now(),
	})
	return a, nil
}

func (s *AttributionService) Status(ctx context.Context, id, candidateID, token string) (*StatusView, error) {
	a, err := s.attributions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var offers []domain.Offer
	if a.BroadcastCount > 0 {
		offers, err = s.offers.ListRound(ctx, id, a.BroadcastCount)
		if err != nil {
			return nil, fmt.Errorf("list offers: %w", err)
		}
	}
	responses, err := s.responses.ListByAttribution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	view := &StatusView{Attribution: a, Tally: tally(offers, responses)}

	if candidateID != "" && a.Status == domain.AttributionStatusAccepted && a.AcceptedCandidateID == candidateID &&
		s.tokens.Validate(token, candidateID, id) {
		contact, err := s.bookings.GetCustomerContact(ctx, a.BookingID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("load customer contact: %w", err)
			}
			s.logger.Warn("accepted attribution without booking contact", zap.String("booking_id", a.BookingID))
		} else {
			view.Contact = contact
		}
	}
	return view, nil
}

func (s *AttributionService) Get(ctx context.Context, id string) (*domain.Attribution, error) {
	return s.attributions.GetByID(ctx, id)
}

func (s *AttributionService) Responses(ctx context.Context, id string) ([]domain.AttributionResponse, error) {
	if _, err := s.attributions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.responses.ListByAttribution(ctx, id)
}

// Rebroadcast closes the current round now instead of waiting for its timeout.
func (s *AttributionService) Rebroadcast(ctx context.Context, id string) (*escalation.StepResult, error) {
	return s.escalator.Escalate(ctx, id)
}

func tally(offers []domain.Offer, responses []domain.AttributionResponse) Tally {
	t := Tally{Offered: len(offers)}
	for _, r := range responses {
		switch r.ResponseType {
		case domain.ResponseTypeAccepted:
			t.Accepted++
		case domain.ResponseTypeRefused:
			t.Refused++
		}
	}
	t.Pending = len(escalation.Outstanding(offers, responses))
	return t
}

func (s *AttributionService) publish(ctx context.Context, event kafka.AttributionEvent) {
	if err := s.events.PublishAttributionEvent(ctx, event); err != nil {
		s.logger.Error("publish attribution event", zap.String("type", event.Type), zap.String("attribution_id", event.AttributionID), zap.Error(err))
	}
}

var _ AttributionUseCase = (*AttributionService)(nil)
