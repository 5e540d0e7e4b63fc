package repository

import (
	"context"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OfferRepository interface {
	RecordOffers(ctx context.Context, offers []domain.Offer) error
	ListRound(ctx context.Context, attributionID string, round int) ([]domain.Offer, error)
}

type PGOfferRepository struct {
	db *pgxpool.Pool
}

func NewOfferRepository(db *pgxpool.Pool) OfferRepository {
	return &PGOfferRepository{db: db}
}

func (r *PGOfferRepository) RecordOffers(ctx context.Context, offers []domain.Offer) error {
	if len(offers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range offers {
		batch.Queue(`INSERT INTO attribution_offers (attribution_id, round, candidate_id, distance_km, token_expires_at, offered_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING`,
			o.AttributionID, o.Round, o.CandidateID, o.DistanceKm, o.TokenExpiresAt, o.OfferedAt)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

func (r *PGOfferRepository) ListRound(ctx context.Context, attributionID string, round int) ([]domain.Offer, error) {
	rows, err := r.db.Query(ctx, `SELECT attribution_id, round, candidate_id, distance_km, token_expires_at, offered_at
		FROM attribution_offers WHERE attribution_id=$1 AND round=$2 ORDER BY distance_km`, attributionID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.Offer, 0)
	for rows.Next() {
		var o domain.Offer
		if err := rows.Scan(&o.AttributionID, &o.Round, &o.CandidateID, &o.DistanceKm, &o.TokenExpiresAt, &o.OfferedAt); err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

var _ OfferRepository = (*PGOfferRepository)(nil)
