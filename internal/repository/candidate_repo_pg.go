package repository

import (
	"context"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CandidateRepository interface {
	ListByServiceType(ctx context.Context, serviceType string) ([]domain.Candidate, error)
	GetByID(ctx context.Context, id string) (*domain.Candidate, error)
	// AvailableIDs returns the subset of ids whose candidate is available now.
	AvailableIDs(ctx context.Context, ids []string) ([]string, error)
	IncrementOffers(ctx context.Context, ids []string) error
	IncrementAccepted(ctx context.Context, id string) error
}

type PGCandidateRepository struct {
	db *pgxpool.Pool
}

func NewCandidateRepository(db *pgxpool.Pool) CandidateRepository {
	return &PGCandidateRepository{db: db}
}

const candidateColumns = `id, name, email, phone, service_types, is_available, max_distance_km, lat, lng, total_offers, accepted_offers`

func scanCandidate(row pgx.Row) (*domain.Candidate, error) {
	var c domain.Candidate
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.ServiceTypes, &c.IsAvailable, &c.MaxDistanceKm,
		&c.Location.Lat, &c.Location.Lng, &c.TotalOffers, &c.AcceptedOffers); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByServiceType returns every candidate offering serviceType, available or
// not; availability and distance are decided by the eligibility resolver.
func (r *PGCandidateRepository) ListByServiceType(ctx context.Context, serviceType string) ([]domain.Candidate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+candidateColumns+` FROM candidates
		WHERE service_types @> ARRAY[$1]::text[] ORDER BY id`, serviceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]domain.Candidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, *c)
	}
	return candidates, rows.Err()
}

func (r *PGCandidateRepository) GetByID(ctx context.Context, id string) (*domain.Candidate, error) {
	c, err := scanCandidate(r.db.QueryRow(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, "candidate %s", id)
	}
	return c, nil
}

func (r *PGCandidateRepository) AvailableIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM candidates WHERE id = ANY($1::text[]) AND is_available`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var available []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		available = append(available, id)
	}
	return available, rows.Err()
}

func (r *PGCandidateRepository) IncrementOffers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE candidates SET total_offers = total_offers + 1, updated_at=now()
		WHERE id = ANY($1::text[])`, ids)
	return err
}

func (r *PGCandidateRepository) IncrementAccepted(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE candidates SET accepted_offers = accepted_offers + 1, updated_at=now()
		WHERE id=$1`, id)
	return err
}

var _ CandidateRepository = (*PGCandidateRepository)(nil)
