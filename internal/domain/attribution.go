package domain

import (
	"slices"
	"time"
)

type AttributionStatus string

const (
	AttributionStatusBroadcasting AttributionStatus = "BROADCASTING"
	AttributionStatusAccepted     AttributionStatus = "ACCEPTED"
	AttributionStatusCancelled    AttributionStatus = "CANCELLED"
	AttributionStatusExpired      AttributionStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave s.
func (s AttributionStatus) IsTerminal() bool {
	return s == AttributionStatusAccepted || s == AttributionStatusCancelled || s == AttributionStatusExpired
}

type ResponseType string

const (
	ResponseTypeAccepted ResponseType = "ACCEPTED"
	ResponseTypeRefused  ResponseType = "REFUSED"
)

func (t ResponseType) Valid() bool {
	return t == ResponseTypeAccepted || t == ResponseTypeRefused
}

type Location struct {
	Lat float64
	Lng float64
}

func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

type Attribution struct {
	ID                  string
	BookingID           string
	ServiceType         string
	Location            Location
	MaxDistanceKm       float64
	Status              AttributionStatus
	BroadcastCount      int
	LastBroadcastAt     *time.Time
	ExcludedCandidates  []string
	AcceptedCandidateID string
	CancelReason        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (a *Attribution) IsExcluded(candidateID string) bool {
	return slices.Contains(a.ExcludedCandidates, candidateID)
}

type AttributionResponse struct {
	ID            string
	AttributionID string
	CandidateID   string
	ResponseType  ResponseType
	ResponseTime  time.Time
	Message       string
	DistanceKm    float64
}

// Offer records that a candidate was sent the job in a given broadcast round.
type Offer struct {
	AttributionID  string
	Round          int
	CandidateID    string
	DistanceKm     float64
	TokenExpiresAt time.Time
	OfferedAt      time.Time
}

type CustomerContact struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// MergeExcluded returns the union of current and added, keeping the order of
// first appearance so the exclusion list only ever grows at its tail.
func MergeExcluded(current, added []string) []string {
	merged := slices.Clone(current)
	for _, id := range added {
		if id == "" || slices.Contains(merged, id) {
			continue
		}
		merged = append(merged, id)
	}
	return merged
}
