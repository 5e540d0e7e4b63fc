package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ReasonRoundLimitExceeded = "round_limit_exceeded"

type Broadcaster interface {
	Broadcast(ctx context.Context, a *domain.Attribution) (*domain.Round, error)
}

type EventPublisher interface {
	PublishAttributionEvent(ctx context.Context, event kafka.AttributionEvent) error
}

// Locker keeps concurrent workers from ticking at the same time.
type Locker interface {
	AcquireTickLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseTickLock(ctx context.Context, owner string) error
}

type Action string

const (
	ActionRebroadcast Action = "REBROADCAST"
	ActionExpired     Action = "EXPIRED"
	ActionSkipped     Action = "SKIPPED"
)

type StepResult struct {
	AttributionID string
	Action        Action
	// Excluded lists the silent candidates added to the exclusion list.
	Excluded []string
	Round    *domain.Round
}

type TickReport struct {
	Scanned     int
	Rebroadcast int
	Expired     int
	Skipped     int
	Failed      int
	// LockBusy is set when another worker held the tick lock.
	LockBusy bool
}

type Scheduler struct {
	attributions repository.AttributionRepository
	offers       repository.OfferRepository
	responses    repository.ResponseRepository
	broadcaster  Broadcaster
	events       EventPublisher
	locker       Locker
	maxRounds    int
	roundTimeout time.Duration
	interval     time.Duration
	batchSize    int
	owner        string
	now          func() time.Time
	logger       *zap.Logger
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(
	attributions repository.AttributionRepository,
	offers repository.OfferRepository,
	responses repository.ResponseRepository,
	broadcaster Broadcaster,
	events EventPublisher,
	maxRounds int,
	roundTimeout time.Duration,
	logger *zap.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		attributions: attributions,
		offers:       offers,
		responses:    responses,
		broadcaster:  broadcaster,
		events:       events,
		maxRounds:    maxRounds,
		roundTimeout: roundTimeout,
		interval:     time.Minute,
		batchSize:    100,
		owner:        uuid.NewString(),
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := s.Tick(ctx)
			if err != nil {
				s.logger.Error("escalation tick", zap.Error(err))
				continue
			}
			if report.Scanned > 0 {
				s.logger.Info("escalation tick",
					zap.Int("scanned", report.Scanned),
					zap.Int("rebroadcast", report.Rebroadcast),
					zap.Int("expired", report.Expired),
					zap.Int("skipped", report.Skipped),
					zap.Int("failed", report.Failed))
			}
		}
	}
}

// Tick escalates every broadcasting attribution whose current round has timed
// out. A failure on one attribution is counted and does not stop the others.
// The tick lock is held for two intervals so a batch that overruns one
// interval still keeps the next worker out.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	if s.locker != nil {
		ok, err := s.locker.AcquireTickLock(ctx, s.owner, 2*s.interval)
		if err != nil {
			return report, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			report.LockBusy = true
			return report, nil
		}
		defer func() {
			if err := s.locker.ReleaseTickLock(context.WithoutCancel(ctx), s.owner); err != nil {
				s.logger.Warn("release tick lock", zap.Error(err))
			}
		}()
	}

	cutoff := s.now().Add(-s.roundTimeout)
	due, err := s.attributions.ListTimedOut(ctx, cutoff, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("list timed out attributions: %w", err)
	}

	for i := range due {
		report.Scanned++
		res, err := s.step(ctx, &due[i])
		if err != nil {
			report.Failed++
			s.logger.Error("escalate attribution", zap.String("attribution_id", due[i].ID), zap.Error(err))
			continue
		}
		switch res.Action {
		case ActionRebroadcast:
			report.Rebroadcast++
		case ActionExpired:
			report.Expired++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// Escalate runs one escalation step for a single attribution without waiting
// for its round to time out.
func (s *Scheduler) Escalate(ctx context.Context, attributionID string) (*StepResult, error) {
	a, err := s.attributions.GetByID(ctx, attributionID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AttributionStatusBroadcasting {
		return nil, domain.Reject(domain.KindAlreadyResolved, "attribution %s is %s", a.ID, a.Status)
	}
	return s.step(ctx, a)
}

func (s *Scheduler) step(ctx context.Context, a *domain.Attribution) (*StepResult, error) {
	res := &StepResult{AttributionID: a.ID, Action: ActionSkipped}

	silent, err := s.silentCandidates(ctx, a)
	if err != nil {
		return nil, err
	}
	if len(silent) > 0 {
		a, err = s.attributions.AddExclusions(ctx, a.ID, silent)
		if err != nil {
			return nil, fmt.Errorf("exclude silent candidates: %w", err)
		}
	}
	if a.Status != domain.AttributionStatusBroadcasting {
		return res, nil
	}
	res.Excluded = silent

	if a.BroadcastCount >= s.maxRounds {
		return s.expire(ctx, a, res)
	}

	round, err := s.broadcaster.Broadcast(ctx, a)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			s.logger.Info("attribution changed during escalation", zap.String("attribution_id", a.ID), zap.Error(err))
			return res, nil
		}
		return nil, fmt.Errorf("broadcast round %d: %w", a.BroadcastCount+1, err)
	}
	res.Round = round
	if round.Expired {
		res.Action = ActionExpired
	} else {
		res.Action = ActionRebroadcast
	}
	return res, nil
}

func (s *Scheduler) expire(ctx context.Context, a *domain.Attribution, res *StepResult) (*StepResult, error) {
	ok, err := s.attributions.TransitionStatus(ctx, a.ID, domain.AttributionStatusExpired, ReasonRoundLimitExceeded)
	if err != nil {
		return nil, fmt.Errorf("expire attribution: %w", err)
	}
	if !ok {
		return res, nil
	}
	res.Action = ActionExpired

	s.logger.Warn("round limit reached, manual intervention required",
		zap.String("attribution_id", a.ID),
		zap.String("booking_id", a.BookingID),
		zap.Int("rounds", a.BroadcastCount))

	event := kafka.AttributionEvent{
		Type:               kafka.EventAttributionExpired,
		AttributionID:      a.ID,
		BookingID:          a.BookingID,
		Status:             string(domain.AttributionStatusExpired),
		Round:              a.BroadcastCount,
		Reason:             ReasonRoundLimitExceeded,
		ManualIntervention: true,
		OccurredAt:         s.now(),
	}
	if err := s.events.PublishAttributionEvent(ctx, event); err != nil {
		s.logger.Error("publish attribution event", zap.String("type", event.Type), zap.String("attribution_id", a.ID), zap.Error(err))
	}
	return res, nil
}

// silentCandidates lists candidates offered the current round who have not
// responded at all.
func (s *Scheduler) silentCandidates(ctx context.Context, a *domain.Attribution) ([]string, error) {
	if a.BroadcastCount == 0 {
		return nil, nil
	}
	offers, err := s.offers.ListRound(ctx, a.ID, a.BroadcastCount)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	responses, err := s.responses.ListByAttribution(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return Outstanding(offers, responses), nil
}

// Outstanding returns the offered candidates without a response, in offer order.
func Outstanding(offers []domain.Offer, responses []domain.AttributionResponse) []string {
	responded := make(map[string]struct{}, len(responses))
	for _, r := range responses {
		responded[r.CandidateID] = struct{}{}
	}
	var outstanding []string
	for _, o := range offers {
		if _, ok := responded[o.CandidateID]; !ok {
			outstanding = append(outstanding, o.CandidateID)
		}
	}
	return outstanding
}
