package kafka

import "time"

const (
	EventOffer                = "offer"
	EventAttributionCreated   = "attribution_created"
	EventAttributionAccepted  = "attribution_accepted"
	EventAttributionCancelled = "attribution_cancelled"
	EventAttributionExpired   = "attribution_expired"
)

// OfferEvent asks the notification worker to send one candidate the job
// with personal accept/refuse links.
type OfferEvent struct {
	Type           string    `json:"type"`
	AttributionID  string    `json:"attribution_id"`
	BookingID      string    `json:"booking_id"`
	ServiceType    string    `json:"service_type"`
	Round          int       `json:"round"`
	CandidateID    string    `json:"candidate_id"`
	CandidateName  string    `json:"candidate_name"`
	CandidateEmail string    `json:"candidate_email"`
	CandidatePhone string    `json:"candidate_phone"`
	DistanceKm     float64   `json:"distance_km"`
	AcceptURL      string    `json:"accept_url"`
	RefuseURL      string    `json:"refuse_url"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type AttributionEvent struct {
	Type               string    `json:"type"`
	AttributionID      string    `json:"attribution_id"`
	BookingID          string    `json:"booking_id"`
	Status             string    `json:"status"`
	CandidateID        string    `json:"candidate_id,omitempty"`
	Round              int       `json:"round"`
	Reason             string    `json:"reason,omitempty"`
	ManualIntervention bool      `json:"manual_intervention"`
	OccurredAt         time.Time `json:"occurred_at"`
}
