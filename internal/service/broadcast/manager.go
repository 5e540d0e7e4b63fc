package broadcast

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const ReasonNoEligibleCandidates = "no_eligible_candidates"

type Eligibility interface {
	Resolve(ctx context.Context, serviceType string, location domain.Location, maxDistanceKm float64, excluded []string) ([]domain.EligibleCandidate, error)
}

type TokenIssuer interface {
	Issue(candidateID, attributionID string) (string, time.Time, error)
}

type Notifier interface {
	NotifyOffer(ctx context.Context, offer kafka.OfferEvent) error
}

type EventPublisher interface {
	PublishAttributionEvent(ctx context.Context, event kafka.AttributionEvent) error
}

type Manager struct {
	attributions  repository.AttributionRepository
	offers        repository.OfferRepository
	candidates    repository.CandidateRepository
	eligibility   Eligibility
	tokens        TokenIssuer
	notifier      Notifier
	events        EventPublisher
	baseURL       string
	concurrency   int
	notifyTimeout time.Duration
	now           func() time.Time
	logger        *zap.Logger
	inflight      sync.WaitGroup
}

type Option func(*Manager)

// WithConcurrency bounds the notifications sent in parallel for one round.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.notifyTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(
	attributions repository.AttributionRepository,
	offers repository.OfferRepository,
	candidates repository.CandidateRepository,
	eligibility Eligibility,
	tokens TokenIssuer,
	notifier Notifier,
	events EventPublisher,
	baseURL string,
	logger *zap.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		attributions:  attributions,
		offers:        offers,
		candidates:    candidates,
		eligibility:   eligibility,
		tokens:        tokens,
		notifier:      notifier,
		events:        events,
		baseURL:       strings.TrimRight(baseURL, "/"),
		concurrency:   8,
		notifyTimeout: 30 * time.Second,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Broadcast starts the next round for a. The round is recorded before anyone
// is notified; if a stopped broadcasting or another round started since a was
// read, nothing is sent and an AlreadyResolved rejection is returned. When no
// candidate is eligible the attribution expires and the returned round has
// Expired set.
func (m *Manager) Broadcast(ctx context.Context, a *domain.Attribution) (*domain.Round, error) {
	if a.Status != domain.AttributionStatusBroadcasting {
		return nil, domain.Reject(domain.KindAlreadyResolved, "attribution %s is %s", a.ID, a.Status)
	}

	eligible, err := m.eligibility.Resolve(ctx, a.ServiceType, a.Location, a.MaxDistanceKm, a.ExcludedCandidates)
	if err != nil {
		return nil, fmt.Errorf("resolve eligible candidates: %w", err)
	}

	now := m.now()
	if len(eligible) == 0 {
		return m.expire(ctx, a, now)
	}

	updated, ok, err := m.attributions.RecordBroadcast(ctx, a.ID, a.BroadcastCount, now)
	if err != nil {
		return nil, fmt.Errorf("record broadcast: %w", err)
	}
	if !ok {
		return nil, domain.Reject(domain.KindAlreadyResolved, "attribution %s changed before round %d started", a.ID, a.BroadcastCount+1)
	}
	round := updated.BroadcastCount

	offers := make([]domain.Offer, 0, len(eligible))
	events := make([]kafka.OfferEvent, 0, len(eligible))
	ids := make([]string, 0, len(eligible))
	for _, e := range eligible {
		tok, expiresAt, err := m.tokens.Issue(e.Candidate.ID, a.ID)
		if err != nil {
			return nil, fmt.Errorf("issue token for %s: %w", e.Candidate.ID, err)
		}
		offers = append(offers, domain.Offer{
			AttributionID:  a.ID,
			Round:          round,
			CandidateID:    e.Candidate.ID,
			DistanceKm:     e.DistanceKm,
			TokenExpiresAt: expiresAt,
			OfferedAt:      now,
		})
		events = append(events, kafka.OfferEvent{
			Type:           kafka.EventOffer,
			AttributionID:  a.ID,
			BookingID:      a.BookingID,
			ServiceType:    a.ServiceType,
			Round:          round,
			CandidateID:    e.Candidate.ID,
			CandidateName:  e.Candidate.Name,
			CandidateEmail: e.Candidate.Email,
			CandidatePhone: e.Candidate.Phone,
			DistanceKm:     e.DistanceKm,
			AcceptURL:      m.actionURL(a.ID, "accept", e.Candidate.ID, tok),
			RefuseURL:      m.actionURL(a.ID, "refuse", e.Candidate.ID, tok),
			ExpiresAt:      expiresAt,
		})
		ids = append(ids, e.Candidate.ID)
	}

	if err := m.offers.RecordOffers(ctx, offers); err != nil {
		return nil, fmt.Errorf("record offers: %w", err)
	}
	if err := m.candidates.IncrementOffers(ctx, ids); err != nil {
		m.logger.Warn("increment offer counters", zap.String("attribution_id", a.ID), zap.Error(err))
	}

	m.logger.Info("broadcast round started",
		zap.String("attribution_id", a.ID),
		zap.Int("round", round),
		zap.Int("candidates", len(eligible)))

	m.fanOut(ctx, a.ID, round, events)

	return &domain.Round{Number: round, Candidates: eligible, BroadcastAt: now}, nil
}

// Wait blocks until every notification fan-out started so far has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) expire(ctx context.Context, a *domain.Attribution, now time.Time) (*domain.Round, error) {
	ok, err := m.attributions.TransitionStatus(ctx, a.ID, domain.AttributionStatusExpired, ReasonNoEligibleCandidates)
	if err != nil {
		return nil, fmt.Errorf("expire attribution: %w", err)
	}
	if !ok {
		return nil, domain.Reject(domain.KindAlreadyResolved, "attribution %s is no longer broadcasting", a.ID)
	}

	m.logger.Warn("attribution expired, no eligible candidates",
		zap.String("attribution_id", a.ID),
		zap.Int("rounds", a.BroadcastCount),
		zap.Int("excluded", len(a.ExcludedCandidates)))

	event := kafka.AttributionEvent{
		Type:          kafka.EventAttributionExpired,
		AttributionID: a.ID,
		BookingID:     a.BookingID,
		Status:        string(domain.AttributionStatusExpired),
		Round:         a.BroadcastCount,
		Reason:        ReasonNoEligibleCandidates,
		OccurredAt:    now,
	}
	if err := m.events.PublishAttributionEvent(ctx, event); err != nil {
		m.logger.Error("publish attribution event", zap.String("type", event.Type), zap.String("attribution_id", a.ID), zap.Error(err))
	}

	return &domain.Round{Number: a.BroadcastCount, BroadcastAt: now, Expired: true}, nil
}

// fanOut notifies candidates in the background. Each offer gets one attempt;
// a failure is logged and does not affect the others.
func (m *Manager) fanOut(ctx context.Context, attributionID string, round int, offers []kafka.OfferEvent) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()

		var (
			g      errgroup.Group
			failed atomic.Int64
		)
		g.SetLimit(m.concurrency)
		for _, offer := range offers {
			offer := offer
			g.Go(func() error {
				if err := m.notifier.NotifyOffer(sendCtx, offer); err != nil {
					failed.Add(1)
					m.logger.Warn("notify candidate",
						zap.String("attribution_id", attributionID),
						zap.String("candidate_id", offer.CandidateID),
						zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()

		m.logger.Info("round notifications sent",
			zap.String("attribution_id", attributionID),
			zap.Int("round", round),
			zap.Int("sent", len(offers)-int(failed.Load())),
			zap.Int64("failed", failed.Load()))
	}()
}

func (m *Manager) actionURL(attributionID, action, candidateID, tok string) string {
	q := url.Values{}
	q.Set("candidate_id", candidateID)
	q.Set("token", tok)
	return fmt.Sprintf("%s/api/v1/attributions/%s/%s?%s", m.baseURL, url.PathEscape(attributionID), action, q.Encode())
}
