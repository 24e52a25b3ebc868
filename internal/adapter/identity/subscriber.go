// Package identity links a convention to the beneficiary's federated
// identity provider (France Travail Connect), so the advisor following
// the beneficiary sees the convention in their own tooling.
package identity

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

// Associator subscribes to federated-identity binding events and
// notifies the identity provider.
type Associator struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ domain.Subscriber = (*Associator)(nil)

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Associator {
	return &Associator{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (a *Associator) Name() string { return "advisor-association" }

func (a *Associator) Topics() []domain.Topic {
	return []domain.Topic{domain.TopicFederatedIdentityBound}
}

type association struct {
	ConventionID  string `json:"conventionId"`
	IdentityToken string `json:"externalIdentityToken"`
}

func (a *Associator) Handle(ctx context.Context, event domain.DomainEvent) domain.Outcome {
	snap, err := domain.DecodeSnapshot(event)
	if err != nil {
		return domain.Permanent(err, nil)
	}
	if snap.FederatedIdentity == "" {
		// Binding event without a token should not exist; nothing to do.
		return domain.Delivered()
	}

	body, err := json.Marshal(association{
		ConventionID:  snap.ConventionID,
		IdentityToken: snap.FederatedIdentity,
	})
	if err != nil {
		return domain.Permanent(fmt.Errorf("encoding association: %w", err), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/associations", bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(fmt.Errorf("building association request: %w", err), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.Retryable(fmt.Errorf("calling identity provider: %w", err), nil)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		a.logger.InfoContext(ctx, "advisor association created",
			"event_id", event.ID,
			"convention_id", snap.ConventionID,
		)
		return domain.Delivered()

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return domain.Permanent(fmt.Errorf("identity provider rejected association: %s", resp.Status), feedback(resp))

	default:
		return domain.Retryable(fmt.Errorf("identity provider returned %s", resp.Status), feedback(resp))
	}
}

func feedback(resp *http.Response) *domain.ErrorFeedback {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &domain.ErrorFeedback{StatusCode: resp.StatusCode, Body: string(body)}
}
