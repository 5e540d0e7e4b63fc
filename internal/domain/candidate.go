package domain

import (
	"slices"
	"time"
)

type Candidate struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	ServiceTypes   []string
	IsAvailable    bool
	MaxDistanceKm  float64
	Location       Location
	TotalOffers    int
	AcceptedOffers int
}

func (c Candidate) Offers(serviceType string) bool {
	return slices.Contains(c.ServiceTypes, serviceType)
}

// EligibleCandidate is a candidate retained for a broadcast round together
// with its distance to the job.
type EligibleCandidate struct {
	Candidate  Candidate
	DistanceKm float64
}

type Round struct {
	Number      int
	Candidates  []EligibleCandidate
	BroadcastAt time.Time
	Expired     bool
}
