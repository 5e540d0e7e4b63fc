package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttributionRepository interface {
	Create(ctx context.Context, a *domain.Attribution) error
	GetByID(ctx context.Context, id string) (*domain.Attribution, error)
	GetActiveByBookingID(ctx context.Context, bookingID string) (*domain.Attribution, error)
	// RecordBroadcast bumps broadcast_count and stamps last_broadcast_at only
	// while the attribution is broadcasting and its count still equals
	// expectedCount. ok is false when the guard did not match.
	RecordBroadcast(ctx context.Context, id string, expectedCount int, at time.Time) (a *domain.Attribution, ok bool, err error)
	// AddExclusions unions candidateIDs into excluded_candidates while the
	// attribution is broadcasting. A terminal attribution is returned unchanged.
	AddExclusions(ctx context.Context, id string, candidateIDs []string) (*domain.Attribution, error)
	// TransitionStatus moves a broadcasting attribution to a terminal status
	// other than ACCEPTED. ok is false when it was no longer broadcasting.
	TransitionStatus(ctx context.Context, id string, to domain.AttributionStatus, reason string) (ok bool, err error)
	ListTimedOut(ctx context.Context, cutoff time.Time, limit int) ([]domain.Attribution, error)
}

type PGAttributionRepository struct {
	db *pgxpool.Pool
}

func NewAttributionRepository(db *pgxpool.Pool) AttributionRepository {
	return &PGAttributionRepository{db: db}
}

const attributionColumns = `id, booking_id, service_type, lat, lng, max_distance_km, status, broadcast_count,
	last_broadcast_at, excluded_candidates, accepted_candidate_id, cancel_reason, created_at, updated_at`

func scanAttribution(row pgx.Row) (*domain.Attribution, error) {
	var (
		a        domain.Attribution
		accepted *string
	)
	if err := row.Scan(&a.ID, &a.BookingID, &a.ServiceType, &a.Location.Lat, &a.Location.Lng, &a.MaxDistanceKm,
		&a.Status, &a.BroadcastCount, &a.LastBroadcastAt, &a.ExcludedCandidates, &accepted, &a.CancelReason,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if accepted != nil {
		a.AcceptedCandidateID = *accepted
	}
	return &a, nil
}

func (r *PGAttributionRepository) Create(ctx context.Context, a *domain.Attribution) error {
	if a.ExcludedCandidates == nil {
		a.ExcludedCandidates = []string{}
	}
	row := r.db.QueryRow(ctx, `INSERT INTO attributions (id, booking_id, service_type, lat, lng, max_distance_km, status, excluded_candidates)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		a.ID, a.BookingID, a.ServiceType, a.Location.Lat, a.Location.Lng, a.MaxDistanceKm, a.Status, a.ExcludedCandidates)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Reject(domain.KindValidation, "booking %s already has an active attribution", a.BookingID)
		}
		return err
	}
	return nil
}

func (r *PGAttributionRepository) GetByID(ctx context.Context, id string) (*domain.Attribution, error) {
	a, err := scanAttribution(r.db.QueryRow(ctx, `SELECT `+attributionColumns+` FROM attributions WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, "attribution %s", id)
	}
	return a, nil
}

func (r *PGAttributionRepository) GetActiveByBookingID(ctx context.Context, bookingID string) (*domain.Attribution, error) {
	a, err := scanAttribution(r.db.QueryRow(ctx, `SELECT `+attributionColumns+` FROM attributions
		WHERE booking_id=$1 AND status IN ($2, $3)`,
		bookingID, domain.AttributionStatusBroadcasting, domain.AttributionStatusAccepted))
	if err != nil {
		return nil, notFound(err, "active attribution for booking %s", bookingID)
	}
	return a, nil
}

func (r *PGAttributionRepository) RecordBroadcast(ctx context.Context, id string, expectedCount int, at time.Time) (*domain.Attribution, bool, error) {
	a, err := scanAttribution(r.db.QueryRow(ctx, `UPDATE attributions
		SET broadcast_count = broadcast_count + 1, last_broadcast_at=$1, updated_at=now()
		WHERE id=$2 AND status=$3 AND broadcast_count=$4
		RETURNING `+attributionColumns, at, id, domain.AttributionStatusBroadcasting, expectedCount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return a, true, nil
}

func (r *PGAttributionRepository) AddExclusions(ctx context.Context, id string, candidateIDs []string) (*domain.Attribution, error) {
	a, err := scanAttribution(r.db.QueryRow(ctx, `UPDATE attributions
		SET excluded_candidates = excluded_candidates || ARRAY(
				SELECT DISTINCT c FROM unnest($1::text[]) AS c
				WHERE c <> '' AND NOT (c = ANY(excluded_candidates))
			),
			updated_at=now()
		WHERE id=$2 AND status=$3
		RETURNING `+attributionColumns, candidateIDs, id, domain.AttributionStatusBroadcasting))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetByID(ctx, id)
		}
		return nil, err
	}
	return a, nil
}

func (r *PGAttributionRepository) TransitionStatus(ctx context.Context, id string, to domain.AttributionStatus, reason string) (bool, error) {
	if to == domain.AttributionStatusAccepted || !to.IsTerminal() {
		return false, fmt.Errorf("unsupported transition to %s", to)
	}
	tag, err := r.db.Exec(ctx, `UPDATE attributions SET status=$1, cancel_reason=$2, updated_at=now()
		WHERE id=$3 AND status=$4`, to, reason, id, domain.AttributionStatusBroadcasting)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGAttributionRepository) ListTimedOut(ctx context.Context, cutoff time.Time, limit int) ([]domain.Attribution, error) {
	rows, err := r.db.Query(ctx, `SELECT `+attributionColumns+` FROM attributions
		WHERE status=$1 AND COALESCE(last_broadcast_at, created_at) <= $2
		ORDER BY COALESCE(last_broadcast_at, created_at)
		LIMIT $3`, domain.AttributionStatusBroadcasting, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timedOut []domain.Attribution
	for rows.Next() {
		a, err := scanAttribution(rows)
		if err != nil {
			return nil, err
		}
		timedOut = append(timedOut, *a)
	}
	return timedOut, rows.Err()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrNotFound)
	}
	return err
}

var _ AttributionRepository = (*PGAttributionRepository)(nil)
