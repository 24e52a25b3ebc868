// Package partner broadcasts convention status changes to the partner
// agency network over HTTP.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// statusVocabulary maps internal lifecycle states onto the wire values
// the partner network expects. The partner vocabulary is frozen; ours is
// not, so New checks the map covers every status before any request is
// sent.
var statusVocabulary = map[domain.Status]string{
	domain.StatusDraft:                "BROUILLON",
	domain.StatusReadyToSign:          "DEMANDE_A_SIGNER",
	domain.StatusPartiallySigned:      "PARTIELLEMENT_SIGNÉ",
	domain.StatusInReview:             "DEMANDE_A_ETUDIER",
	domain.StatusAcceptedByCounsellor: "DEMANDE_ELIGIBLE",
	domain.StatusAcceptedByValidator:  "DEMANDE_VALIDÉE",
	domain.StatusRejected:             "REJETÉ",
	domain.StatusCancelled:            "DEMANDE_ANNULEE",
	domain.StatusDeprecated:           "DEMANDE_OBSOLETE",
}

// Gateway delivers status-change notifications to the partner endpoint.
// It subscribes to ConventionStatusChanged events.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Compile-time check: Gateway implements the subscriber port.
var _ domain.Subscriber = (*Gateway)(nil)

// New builds the gateway after verifying the status vocabulary is total
// and unambiguous. A gap here must stop startup, not surface as a 4xx in
// production.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Gateway, error) {
	if err := verifyVocabulary(); err != nil {
		return nil, err
	}
	return &Gateway{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

func verifyVocabulary() error {
	seen := make(map[string]domain.Status, len(statusVocabulary))
	for _, s := range domain.AllStatuses {
		wire, ok := statusVocabulary[s]
		if !ok {
			return fmt.Errorf("partner vocabulary has no mapping for status %s", s)
		}
		if prev, dup := seen[wire]; dup {
			return fmt.Errorf("partner vocabulary maps both %s and %s to %q", prev, s, wire)
		}
		seen[wire] = s
	}
	return nil
}

func (g *Gateway) Name() string { return "partner-broadcast" }

func (g *Gateway) Topics() []domain.Topic {
	return []domain.Topic{domain.TopicConventionStatusChanged}
}

// notification is the partner wire format.
type notification struct {
	ConventionID  string `json:"conventionId"`
	Status        string `json:"status"`
	AgencyID      string `json:"agencyId"`
	Siret         string `json:"siret"`
	DateStart     string `json:"dateStart"`
	DateEnd       string `json:"dateEnd"`
	Justification string `json:"justification,omitempty"`
}

// Handle posts the status change to the partner endpoint. 2xx is
// delivered; 4xx means the partner will never accept this payload; any
// other failure is worth retrying.
func (g *Gateway) Handle(ctx context.Context, event domain.DomainEvent) domain.Outcome {
	snap, err := domain.DecodeSnapshot(event)
	if err != nil {
		return domain.Permanent(err, nil)
	}

	wire, ok := statusVocabulary[snap.Status]
	if !ok {
		// Unreachable after New, unless the payload carries a status this
		// binary does not know.
		return domain.Permanent(fmt.Errorf("no partner mapping for status %s", snap.Status), nil)
	}

	body, err := json.Marshal(notification{
		ConventionID:  snap.ConventionID,
		Status:        wire,
		AgencyID:      snap.AgencyID,
		Siret:         snap.Siret,
		DateStart:     snap.DateStart.Format(time.RFC3339),
		DateEnd:       snap.DateEnd.Format(time.RFC3339),
		Justification: snap.Justification,
	})
	if err != nil {
		return domain.Permanent(fmt.Errorf("encoding partner notification: %w", err), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/conventions/status", bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(fmt.Errorf("building partner request: %w", err), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	// Idempotency key: the partner can drop redeliveries of the same event.
	req.Header.Set("X-Event-ID", event.ID)

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Retryable(fmt.Errorf("calling partner endpoint: %w", err), nil)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.Delivered()

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		fb := readFeedback(resp)
		g.logger.WarnContext(ctx, "partner rejected notification",
			"event_id", event.ID,
			"convention_id", snap.ConventionID,
			"status_code", resp.StatusCode,
		)
		return domain.Permanent(fmt.Errorf("partner rejected notification: %s", resp.Status), fb)

	default:
		fb := readFeedback(resp)
		g.logger.WarnContext(ctx, "partner endpoint unavailable",
			"event_id", event.ID,
			"convention_id", snap.ConventionID,
			"status_code", resp.StatusCode,
		)
		return domain.Retryable(fmt.Errorf("partner endpoint returned %s", resp.Status), fb)
	}
}

const maxFeedbackBody = 4 << 10

func readFeedback(resp *http.Response) *domain.ErrorFeedback {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFeedbackBody))
	return &domain.ErrorFeedback{StatusCode: resp.StatusCode, Body: string(body)}
}
