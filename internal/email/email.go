package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/attribution/internal/kafka"
	"go.uber.org/zap"
)

// Message is a rendered offer ready for a mail transport.
type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender struct {
	logger *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{logger: logger}
}

// Send renders the offer and hands it to the log transport.
func (s *Sender) Send(ctx context.Context, event kafka.OfferEvent) error {
	msg, err := Render(event)
	if err != nil {
		return err
	}
	s.logger.Info("send offer email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("attribution_id", event.AttributionID),
		zap.String("candidate_id", event.CandidateID),
		zap.Int("round", event.Round))
	return nil
}

func Render(event kafka.OfferEvent) (Message, error) {
	if event.CandidateEmail == "" {
		return Message{}, errors.New("offer has no candidate email")
	}
	if event.AcceptURL == "" || event.RefuseURL == "" {
		return Message{}, errors.New("offer has no action links")
	}

	var body strings.Builder
	if event.CandidateName != "" {
		fmt.Fprintf(&body, "Hello %s,\n\n", event.CandidateName)
	}
	fmt.Fprintf(&body, "A %s mission is available %.1f km from you.\n\n", event.ServiceType, event.DistanceKm)
	fmt.Fprintf(&body, "Accept: %s\n", event.AcceptURL)
	fmt.Fprintf(&body, "Refuse: %s\n\n", event.RefuseURL)
	fmt.Fprintf(&body, "These links expire on %s.\n", event.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))

	return Message{
		To:      event.CandidateEmail,
		Subject: fmt.Sprintf("New %s mission near you", event.ServiceType),
		Body:    body.String(),
	}, nil
}
