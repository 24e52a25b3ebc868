// Package notify emails the beneficiary when their convention changes
// status.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// Sender delivers one email. The production implementation posts to the
// notification service; tests use a fake.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Email is one outbound message. EventID identifies the triggering
// event so the notification service can deduplicate redeliveries.
type Email struct {
	EventID string `json:"eventId"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// subjects keys the notification wording by the new status. Statuses
// missing here produce no email: internal review steps are not worth
// notifying the beneficiary about.
var subjects = map[domain.Status]string{
	domain.StatusReadyToSign:         "Votre convention d'immersion est prête à signer",
	domain.StatusPartiallySigned:     "Une signature a été enregistrée sur votre convention",
	domain.StatusInReview:            "Votre convention est complète et en cours d'examen",
	domain.StatusAcceptedByValidator: "Votre convention d'immersion est validée",
	domain.StatusRejected:            "Votre demande de convention a été refusée",
	domain.StatusCancelled:           "Votre convention d'immersion a été annulée",
	domain.StatusDeprecated:          "Votre demande de convention est devenue obsolète",
}

// Notifier is the subscriber delivering beneficiary emails.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

var _ domain.Subscriber = (*Notifier)(nil)

func New(sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) Name() string { return "beneficiary-notifications" }

func (n *Notifier) Topics() []domain.Topic {
	return []domain.Topic{domain.TopicConventionStatusChanged}
}

// Handle sends at most one email per event. Events without a beneficiary
// email or without wording count as delivered: redelivering them cannot
// produce a different result.
func (n *Notifier) Handle(ctx context.Context, event domain.DomainEvent) domain.Outcome {
	snap, err := domain.DecodeSnapshot(event)
	if err != nil {
		return domain.Permanent(err, nil)
	}

	subject, ok := subjects[snap.Status]
	if !ok || snap.BeneficiaryEmail == "" {
		return domain.Delivered()
	}

	body := fmt.Sprintf("Votre convention %s est passée au statut %s.", snap.ConventionID, snap.Status)
	if snap.Justification != "" {
		body += fmt.Sprintf(" Motif : %s", snap.Justification)
	}

	email := Email{
		EventID: event.ID,
		To:      snap.BeneficiaryEmail,
		Subject: subject,
		Body:    body,
	}
	if err := n.sender.Send(ctx, email); err != nil {
		return domain.Retryable(fmt.Errorf("sending notification email: %w", err), nil)
	}

	n.logger.InfoContext(ctx, "beneficiary notified",
		"event_id", event.ID,
		"convention_id", snap.ConventionID,
		"status", string(snap.Status),
	)
	return domain.Delivered()
}
