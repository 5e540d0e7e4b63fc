package repository

import (
	"context"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ResponseRepository interface {
	// Accept moves the attribution from BROADCASTING to ACCEPTED for
	// resp.CandidateID and records resp in the same transaction. ok is false
	// when the attribution was no longer broadcasting; nothing is written then.
	Accept(ctx context.Context, resp *domain.AttributionResponse) (ok bool, err error)
	// Refuse records resp and appends its candidate to the exclusion list.
	// inserted is false when the candidate had already responded.
	Refuse(ctx context.Context, resp *domain.AttributionResponse) (inserted bool, err error)
	Get(ctx context.Context, attributionID, candidateID string) (*domain.AttributionResponse, error)
	ListByAttribution(ctx context.Context, attributionID string) ([]domain.AttributionResponse, error)
}

type PGResponseRepository struct {
	db *pgxpool.Pool
}

func NewResponseRepository(db *pgxpool.Pool) ResponseRepository {
	return &PGResponseRepository{db: db}
}

const responseColumns = `id, attribution_id, candidate_id, response_type, response_time, message, distance_km`

func scanResponse(row pgx.Row) (*domain.AttributionResponse, error) {
	var r domain.AttributionResponse
	if err := row.Scan(&r.ID, &r.AttributionID, &r.CandidateID, &r.ResponseType, &r.ResponseTime, &r.Message, &r.DistanceKm); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PGResponseRepository) Accept(ctx context.Context, resp *domain.AttributionResponse) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE attributions SET status=$1, accepted_candidate_id=$2, updated_at=now()
		WHERE id=$3 AND status=$4`,
		domain.AttributionStatusAccepted, resp.CandidateID, resp.AttributionID, domain.AttributionStatusBroadcasting)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `INSERT INTO attribution_responses (`+responseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		resp.ID, resp.AttributionID, resp.CandidateID, resp.ResponseType, resp.ResponseTime, resp.Message, resp.DistanceKm); err != nil {
		if isUniqueViolation(err) {
			return false, domain.Reject(domain.KindDuplicateResponse, "candidate %s already responded", resp.CandidateID)
		}
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (r *PGResponseRepository) Refuse(ctx context.Context, resp *domain.AttributionResponse) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `INSERT INTO attribution_responses (`+responseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attribution_id, candidate_id) DO NOTHING`,
		resp.ID, resp.AttributionID, resp.CandidateID, resp.ResponseType, resp.ResponseTime, resp.Message, resp.DistanceKm)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE attributions
		SET excluded_candidates = array_append(excluded_candidates, $1), updated_at=now()
		WHERE id=$2 AND NOT ($1 = ANY(excluded_candidates))`, resp.CandidateID, resp.AttributionID); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (r *PGResponseRepository) Get(ctx context.Context, attributionID, candidateID string) (*domain.AttributionResponse, error) {
	resp, err := scanResponse(r.db.QueryRow(ctx, `SELECT `+responseColumns+` FROM attribution_responses
		WHERE attribution_id=$1 AND candidate_id=$2`, attributionID, candidateID))
	if err != nil {
		return nil, notFound(err, "response of %s to %s", candidateID, attributionID)
	}
	return resp, nil
}

func (r *PGResponseRepository) ListByAttribution(ctx context.Context, attributionID string) ([]domain.AttributionResponse, error) {
	rows, err := r.db.Query(ctx, `SELECT `+responseColumns+` FROM attribution_responses
		WHERE attribution_id=$1 ORDER BY response_time`, attributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make([]domain.AttributionResponse, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *resp)
	}
	return responses, rows.Err()
}

var _ ResponseRepository = (*PGResponseRepository)(nil)
