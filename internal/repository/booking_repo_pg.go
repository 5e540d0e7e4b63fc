package repository

import (
	"context"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BookingRepository reads the customer side of a booking. Bookings are owned
// by the booking service; the engine never writes them.
type BookingRepository interface {
	GetCustomerContact(ctx context.Context, bookingID string) (*domain.CustomerContact, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

func (r *PGBookingRepository) GetCustomerContact(ctx context.Context, bookingID string) (*domain.CustomerContact, error) {
	row := r.db.QueryRow(ctx, `SELECT customer_name, customer_phone, customer_email, address FROM bookings WHERE id=$1`, bookingID)
	var c domain.CustomerContact
	if err := row.Scan(&c.Name, &c.Phone, &c.Email, &c.Address); err != nil {
		return nil, notFound(err, "booking %s", bookingID)
	}
	return &c, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
