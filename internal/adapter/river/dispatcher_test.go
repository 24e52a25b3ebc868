package river_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	riveradapter "github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/river"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// memOutbox is an in-memory OutboxStore for dispatcher tests.
type memOutbox struct {
	events map[string]*domain.DomainEvent
}

func newMemOutbox(events ...domain.DomainEvent) *memOutbox {
	m := &memOutbox{events: make(map[string]*domain.DomainEvent)}
	for i := range events {
		e := events[i]
		m.events[e.ID] = &e
	}
	return m
}

func (m *memOutbox) GetEvent(_ context.Context, id string) (domain.DomainEvent, error) {
	e, ok := m.events[id]
	if !ok {
		return domain.DomainEvent{}, domain.ErrEventNotFound
	}
	return *e, nil
}

func (m *memOutbox) HasOlderPending(_ context.Context, conventionID string, seq int64) (bool, error) {
	for _, e := range m.events {
		if e.ConventionID == conventionID && e.Seq < seq && e.PublishStatus == domain.PublishPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memOutbox) MarkPublished(_ context.Context, id string) error {
	m.events[id].PublishStatus = domain.PublishPublished
	return nil
}

func (m *memOutbox) RecordFailure(_ context.Context, id string, attempts int, lastError string, fb *domain.ErrorFeedback) error {
	e := m.events[id]
	e.AttemptCount = attempts
	e.LastError = lastError
	e.Feedback = fb
	return nil
}

func (m *memOutbox) Quarantine(_ context.Context, id string, attempts int, lastError string, fb *domain.ErrorFeedback) error {
	e := m.events[id]
	e.PublishStatus = domain.PublishQuarantined
	e.AttemptCount = attempts
	e.LastError = lastError
	e.Feedback = fb
	return nil
}

func (m *memOutbox) Drain(_ context.Context, batchSize int) ([]domain.DomainEvent, error) {
	var out []domain.DomainEvent
	for _, e := range m.events {
		if e.PublishStatus == domain.PublishPending && len(out) < batchSize {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memOutbox) ListQuarantined(_ context.Context, limit int) ([]domain.DomainEvent, error) {
	var out []domain.DomainEvent
	for _, e := range m.events {
		if e.PublishStatus == domain.PublishQuarantined && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

// stubSubscriber returns canned outcomes in sequence, then repeats the last.
type stubSubscriber struct {
	name     string
	topics   []domain.Topic
	outcomes []domain.Outcome
	calls    int
}

func (s *stubSubscriber) Name() string          { return s.name }
func (s *stubSubscriber) Topics() []domain.Topic { return s.topics }

func (s *stubSubscriber) Handle(context.Context, domain.DomainEvent) domain.Outcome {
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[i]
}

type countingMetrics struct {
	published, retried, quarantined int
}

func (m *countingMetrics) EventPublished(context.Context, domain.Topic)        { m.published++ }
func (m *countingMetrics) EventRetried(context.Context, domain.Topic)          { m.retried++ }
func (m *countingMetrics) EventQuarantined(context.Context, domain.Topic)      { m.quarantined++ }
func (m *countingMetrics) TransitionDenied(context.Context, domain.DenialReason) {}

func statusEvent(id, conventionID string, seq int64) domain.DomainEvent {
	return domain.DomainEvent{
		ID:            id,
		Topic:         domain.TopicConventionStatusChanged,
		ConventionID:  conventionID,
		Payload:       []byte(`{}`),
		OccurredAt:    time.Now().UTC(),
		Seq:           seq,
		PublishStatus: domain.PublishPending,
	}
}

func newDispatcher(outbox domain.OutboxStore, metrics domain.DispatchMetrics, subs ...domain.Subscriber) *riveradapter.Dispatcher {
	logger := slog.New(slog.DiscardHandler)
	return riveradapter.NewDispatcher(outbox, riveradapter.NewRegistry(subs...), metrics, logger, 3)
}

func TestProcess_Delivered(t *testing.T) {
	outbox := newMemOutbox(statusEvent("e-1", "c-1", 1))
	metrics := &countingMetrics{}
	sub := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Delivered()},
	}
	d := newDispatcher(outbox, metrics, sub)

	outcome, err := d.Process(context.Background(), "e-1", 1)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessPublished {
		t.Errorf("outcome = %v, want ProcessPublished", outcome)
	}

	e, _ := outbox.GetEvent(context.Background(), "e-1")
	if e.PublishStatus != domain.PublishPublished {
		t.Errorf("PublishStatus = %q, want PUBLISHED", e.PublishStatus)
	}
	if metrics.published != 1 {
		t.Errorf("published metric = %d, want 1", metrics.published)
	}
}

func TestProcess_PermanentFailureQuarantinesImmediately(t *testing.T) {
	outbox := newMemOutbox(statusEvent("e-1", "c-1", 1))
	metrics := &countingMetrics{}
	fb := &domain.ErrorFeedback{StatusCode: 400, Body: "unknown siret"}
	sub := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Permanent(errors.New("partner returned 400"), fb)},
	}
	d := newDispatcher(outbox, metrics, sub)

	outcome, err := d.Process(context.Background(), "e-1", 1)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessQuarantined {
		t.Errorf("outcome = %v, want ProcessQuarantined", outcome)
	}

	e, _ := outbox.GetEvent(context.Background(), "e-1")
	if e.PublishStatus != domain.PublishQuarantined {
		t.Errorf("PublishStatus = %q, want QUARANTINED", e.PublishStatus)
	}
	if e.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", e.AttemptCount)
	}
	if e.Feedback == nil || e.Feedback.StatusCode != 400 {
		t.Errorf("Feedback = %+v", e.Feedback)
	}
	if metrics.quarantined != 1 {
		t.Errorf("quarantined metric = %d, want 1", metrics.quarantined)
	}
}

func TestProcess_RetryableFailureBelowCeiling(t *testing.T) {
	outbox := newMemOutbox(statusEvent("e-1", "c-1", 1))
	metrics := &countingMetrics{}
	fb := &domain.ErrorFeedback{StatusCode: 503, Body: "unavailable"}
	sub := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Retryable(errors.New("partner returned 503"), fb)},
	}
	d := newDispatcher(outbox, metrics, sub)

	outcome, err := d.Process(context.Background(), "e-1", 2)
	if outcome != riveradapter.ProcessRetry {
		t.Errorf("outcome = %v, want ProcessRetry", outcome)
	}
	if err == nil {
		t.Error("expected the subscriber error to surface for backoff")
	}

	e, _ := outbox.GetEvent(context.Background(), "e-1")
	if e.PublishStatus != domain.PublishPending {
		t.Errorf("PublishStatus = %q, want PENDING", e.PublishStatus)
	}
	if e.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", e.AttemptCount)
	}
	if e.LastError != "partner returned 503" {
		t.Errorf("LastError = %q", e.LastError)
	}
	if metrics.retried != 1 {
		t.Errorf("retried metric = %d, want 1", metrics.retried)
	}
}

func TestProcess_RetryableFailureAtCeilingQuarantines(t *testing.T) {
	outbox := newMemOutbox(statusEvent("e-1", "c-1", 1))
	metrics := &countingMetrics{}
	sub := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Retryable(errors.New("partner returned 503"), nil)},
	}
	d := newDispatcher(outbox, metrics, sub)

	outcome, err := d.Process(context.Background(), "e-1", 3)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessQuarantined {
		t.Errorf("outcome = %v, want ProcessQuarantined", outcome)
	}

	e, _ := outbox.GetEvent(context.Background(), "e-1")
	if e.PublishStatus != domain.PublishQuarantined {
		t.Errorf("PublishStatus = %q, want QUARANTINED", e.PublishStatus)
	}
	if e.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", e.AttemptCount)
	}
}

func TestProcess_DefersWhenOlderEventPending(t *testing.T) {
	outbox := newMemOutbox(
		statusEvent("e-1", "c-1", 1),
		statusEvent("e-2", "c-1", 2),
	)
	sub := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Delivered()},
	}
	d := newDispatcher(outbox, &countingMetrics{}, sub)

	outcome, err := d.Process(context.Background(), "e-2", 1)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessDeferred {
		t.Errorf("outcome = %v, want ProcessDeferred", outcome)
	}
	if sub.calls != 0 {
		t.Errorf("subscriber called %d times, want 0", sub.calls)
	}
}

func TestProcess_SkipsNonPendingEvent(t *testing.T) {
	e := statusEvent("e-1", "c-1", 1)
	e.PublishStatus = domain.PublishPublished
	outbox := newMemOutbox(e)
	sub := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Delivered()},
	}
	d := newDispatcher(outbox, &countingMetrics{}, sub)

	outcome, err := d.Process(context.Background(), "e-1", 1)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessSkipped {
		t.Errorf("outcome = %v, want ProcessSkipped", outcome)
	}
	if sub.calls != 0 {
		t.Errorf("subscriber called %d times, want 0", sub.calls)
	}
}

func TestProcess_SkipsUnknownEvent(t *testing.T) {
	d := newDispatcher(newMemOutbox(), &countingMetrics{})

	outcome, err := d.Process(context.Background(), "nonexistent", 1)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessSkipped {
		t.Errorf("outcome = %v, want ProcessSkipped", outcome)
	}
}

func TestProcess_NoSubscriberForTopic(t *testing.T) {
	outbox := newMemOutbox(statusEvent("e-1", "c-1", 1))
	d := newDispatcher(outbox, &countingMetrics{})

	outcome, err := d.Process(context.Background(), "e-1", 1)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != riveradapter.ProcessPublished {
		t.Errorf("outcome = %v, want ProcessPublished", outcome)
	}
}

func TestProcess_SecondSubscriberFailureKeepsEventPending(t *testing.T) {
	outbox := newMemOutbox(statusEvent("e-1", "c-1", 1))
	ok := &stubSubscriber{
		name:     "notify",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Delivered()},
	}
	failing := &stubSubscriber{
		name:     "partner",
		topics:   []domain.Topic{domain.TopicConventionStatusChanged},
		outcomes: []domain.Outcome{domain.Retryable(errors.New("timeout"), nil)},
	}
	d := newDispatcher(outbox, &countingMetrics{}, ok, failing)

	outcome, _ := d.Process(context.Background(), "e-1", 1)
	if outcome != riveradapter.ProcessRetry {
		t.Errorf("outcome = %v, want ProcessRetry", outcome)
	}
	if ok.calls != 1 {
		t.Errorf("first subscriber called %d times, want 1", ok.calls)
	}

	e, _ := outbox.GetEvent(context.Background(), "e-1")
	if e.PublishStatus != domain.PublishPending {
		t.Errorf("PublishStatus = %q, want PENDING", e.PublishStatus)
	}
}
