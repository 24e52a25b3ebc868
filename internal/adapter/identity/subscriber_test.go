package identity_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/identity"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

func bindingEvent(t *testing.T, token string) domain.DomainEvent {
	t.Helper()
	c := domain.Convention{
		ID:                "c-1",
		Status:            domain.StatusDraft,
		AgencyID:          "agency-1",
		FederatedIdentity: token,
	}
	e, err := domain.NewFederatedIdentityBoundEvent("e-1", c, time.Now().UTC())
	if err != nil {
		t.Fatalf("building event: %v", err)
	}
	return e
}

func TestHandle_PostsAssociation(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := identity.New(srv.URL, 5*time.Second, slog.New(slog.DiscardHandler))
	outcome := a.Handle(context.Background(), bindingEvent(t, "peConnect:abc123"))

	if outcome.Kind != domain.OutcomeDelivered {
		t.Fatalf("outcome = %v, want delivered (err: %v)", outcome.Kind, outcome.Err)
	}
	if got["conventionId"] != "c-1" {
		t.Errorf("conventionId = %q", got["conventionId"])
	}
	if got["externalIdentityToken"] != "peConnect:abc123" {
		t.Errorf("externalIdentityToken = %q", got["externalIdentityToken"])
	}
}

func TestHandle_EmptyTokenIsNoOp(t *testing.T) {
	a := identity.New("http://identity.invalid", time.Second, slog.New(slog.DiscardHandler))

	outcome := a.Handle(context.Background(), bindingEvent(t, ""))
	if outcome.Kind != domain.OutcomeDelivered {
		t.Errorf("outcome = %v, want delivered", outcome.Kind)
	}
}

func TestHandle_RejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "expired token", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := identity.New(srv.URL, 5*time.Second, slog.New(slog.DiscardHandler))
	outcome := a.Handle(context.Background(), bindingEvent(t, "peConnect:expired"))

	if outcome.Kind != domain.OutcomePermanent {
		t.Fatalf("outcome = %v, want permanent", outcome.Kind)
	}
	if outcome.Feedback == nil || outcome.Feedback.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("feedback = %+v", outcome.Feedback)
	}
}

func TestHandle_OutageIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := identity.New(srv.URL, 5*time.Second, slog.New(slog.DiscardHandler))
	outcome := a.Handle(context.Background(), bindingEvent(t, "peConnect:abc123"))

	if outcome.Kind != domain.OutcomeRetryable {
		t.Errorf("outcome = %v, want retryable", outcome.Kind)
	}
}
