package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/geo"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/repository"
	"github.com/Domenick1991/attribution/internal/service/escalation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TokenValidator interface {
	Validate(raw, candidateID, attributionID string) bool
}

type Escalator interface {
	Escalate(ctx context.Context, attributionID string) (*escalation.StepResult, error)
}

type EventPublisher interface {
	PublishAttributionEvent(ctx context.Context, event kafka.AttributionEvent) error
}

type Input struct {
	AttributionID string
	CandidateID   string
	Type          domain.ResponseType
	Token         string
	// Message is the free-text note on an accept or the reason on a refusal.
	Message string
}

type Outcome struct {
	Attribution *domain.Attribution
	Response    *domain.AttributionResponse
	// Replayed is set when the same response had already been recorded.
	Replayed bool
	// Escalation is set when a refusal closed the round early.
	Escalation *escalation.StepResult
}

type Resolver struct {
	attributions repository.AttributionRepository
	responses    repository.ResponseRepository
	offers       repository.OfferRepository
	candidates   repository.CandidateRepository
	tokens       TokenValidator
	escalator    Escalator
	events       EventPublisher
	now          func() time.Time
	logger       *zap.Logger
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func NewResolver(
	attributions repository.AttributionRepository,
	responses repository.ResponseRepository,
	offers repository.OfferRepository,
	candidates repository.CandidateRepository,
	tokens TokenValidator,
	escalator Escalator,
	events EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		attributions: attributions,
		responses:    responses,
		offers:       offers,
		candidates:   candidates,
		tokens:       tokens,
		escalator:    escalator,
		events:       events,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply records a candidate's answer to an offer. Only one candidate can ever
// win an attribution; repeating an answer already recorded returns the same
// outcome with Replayed set.
func (r *Resolver) Apply(ctx context.Context, in Input) (*Outcome, error) {
	in.AttributionID = strings.TrimSpace(in.AttributionID)
	in.CandidateID = strings.TrimSpace(in.CandidateID)
	if in.AttributionID == "" || in.CandidateID == "" || in.Token == "" {
		return nil, domain.Reject(domain.KindValidation, "attribution id, candidate id and token are required")
	}
	if !in.Type.Valid() {
		return nil, domain.Reject(domain.KindValidation, "unknown response type %q", in.Type)
	}
	if !r.tokens.Validate(in.Token, in.CandidateID, in.AttributionID) {
		return nil, domain.Reject(domain.KindInvalidToken, "link expired or invalid")
	}

	a, err := r.attributions.GetByID(ctx, in.AttributionID)
	if err != nil {
		return nil, err
	}

	if out, err := r.replay(ctx, a, in); out != nil || err != nil {
		return out, err
	}

	if a.Status.IsTerminal() {
		r.logger.Info("response on resolved attribution",
			zap.String("attribution_id", a.ID),
			zap.String("candidate_id", in.CandidateID),
			zap.String("status", string(a.Status)))
		return nil, domain.Reject(domain.KindAlreadyResolved, "mission already attributed")
	}

	if in.Type == domain.ResponseTypeAccepted {
		return r.accept(ctx, a, in)
	}
	return r.refuse(ctx, a, in)
}

// replay returns a non-nil outcome when the candidate already gave this very
// answer and a DuplicateResponse rejection when they gave the other one.
func (r *Resolver) replay(ctx context.Context, a *domain.Attribution, in Input) (*Outcome, error) {
	prior, err := r.responses.Get(ctx, a.ID, in.CandidateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load prior response: %w", err)
	}
	if prior.ResponseType != in.Type {
		return nil, domain.Reject(domain.KindDuplicateResponse, "candidate %s already %s", in.CandidateID, strings.ToLower(string(prior.ResponseType)))
	}
	return &Outcome{Attribution: a, Response: prior, Replayed: true}, nil
}

func (r *Resolver) accept(ctx context.Context, a *domain.Attribution, in Input) (*Outcome, error) {
	resp := r.newResponse(ctx, a, in)

	ok, err := r.responses.Accept(ctx, resp)
	if err != nil && !errors.Is(err, domain.ErrDuplicateResponse) {
		return nil, fmt.Errorf("accept attribution: %w", err)
	}
	if err != nil || !ok {
		// Lost the race; a concurrent identical click counts as a replay.
		current, getErr := r.attributions.GetByID(ctx, a.ID)
		if getErr != nil {
			return nil, getErr
		}
		if out, replayErr := r.replay(ctx, current, in); out != nil || replayErr != nil {
			return out, replayErr
		}
		r.logger.Info("accept lost to another candidate",
			zap.String("attribution_id", a.ID),
			zap.String("candidate_id", in.CandidateID))
		return nil, domain.Reject(domain.KindAlreadyResolved, "mission already attributed")
	}

	if err := r.candidates.IncrementAccepted(ctx, in.CandidateID); err != nil {
		r.logger.Warn("increment accepted counter", zap.String("candidate_id", in.CandidateID), zap.Error(err))
	}

	accepted := *a
	accepted.Status = domain.AttributionStatusAccepted
	accepted.AcceptedCandidateID = in.CandidateID
	if current, err := r.attributions.GetByID(ctx, a.ID); err == nil {
		accepted = *current
	}

	r.logger.Info("attribution accepted",
		zap.String("attribution_id", a.ID),
		zap.String("candidate_id", in.CandidateID),
		zap.Int("round", accepted.BroadcastCount))
	r.publish(ctx, kafka.AttributionEvent{
		Type:          kafka.EventAttributionAccepted,
		AttributionID: a.ID,
		BookingID:     a.BookingID,
		Status:        string(domain.AttributionStatusAccepted),
		CandidateID:   in.CandidateID,
		Round:         accepted.BroadcastCount,
		OccurredAt:    resp.ResponseTime,
	})

	return &Outcome{Attribution: &accepted, Response: resp}, nil
}

func (r *Resolver) refuse(ctx context.Context, a *domain.Attribution, in Input) (*Outcome, error) {
	resp := r.newResponse(ctx, a, in)

	inserted, err := r.responses.Refuse(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("record refusal: %w", err)
	}
	if !inserted {
		if out, err := r.replay(ctx, a, in); out != nil || err != nil {
			return out, err
		}
		return nil, fmt.Errorf("refusal of %s on %s was neither recorded nor found", in.CandidateID, a.ID)
	}

	out := &Outcome{Response: resp}

	outstanding, err := r.outstanding(ctx, a)
	if err != nil {
		r.logger.Warn("count outstanding candidates", zap.String("attribution_id", a.ID), zap.Error(err))
	} else if outstanding == 0 {
		step, err := r.escalator.Escalate(ctx, a.ID)
		switch {
		case err == nil:
			out.Escalation = step
		case errors.Is(err, domain.ErrAlreadyResolved):
			r.logger.Info("round closed by refusal but attribution already resolved", zap.String("attribution_id", a.ID))
		default:
			r.logger.Error("escalate after last refusal", zap.String("attribution_id", a.ID), zap.Error(err))
		}
	}

	current, err := r.attributions.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	out.Attribution = current
	return out, nil
}

// outstanding counts candidates of the current round that have not answered.
func (r *Resolver) outstanding(ctx context.Context, a *domain.Attribution) (int, error) {
	if a.BroadcastCount == 0 {
		return -1, nil
	}
	offers, err := r.offers.ListRound(ctx, a.ID, a.BroadcastCount)
	if err != nil {
		return 0, err
	}
	if len(offers) == 0 {
		return -1, nil
	}
	responses, err := r.responses.ListByAttribution(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	return len(escalation.Outstanding(offers, responses)), nil
}

func (r *Resolver) newResponse(ctx context.Context, a *domain.Attribution, in Input) *domain.AttributionResponse {
	resp := &domain.AttributionResponse{
		ID:            uuid.NewString(),
		AttributionID: a.ID,
		CandidateID:   in.CandidateID,
		ResponseType:  in.Type,
		ResponseTime:  r.now(),
		Message:       in.Message,
	}
	if c, err := r.candidates.GetByID(ctx, in.CandidateID); err == nil {
		resp.DistanceKm = geo.DistanceKm(a.Location, c.Location)
	} else {
		r.logger.Debug("candidate distance unavailable", zap.String("candidate_id", in.CandidateID), zap.Error(err))
	}
	return resp
}

func (r *Resolver) publish(ctx context.Context, event kafka.AttributionEvent) {
	if err := r.events.PublishAttributionEvent(ctx, event); err != nil {
		r.logger.Error("publish attribution event", zap.String("type", event.Type), zap.String("attribution_id", event.AttributionID), zap.Error(err))
	}
}
