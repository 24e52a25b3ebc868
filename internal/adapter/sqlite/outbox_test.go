package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/sqlite"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// appendEvents creates a convention and appends status-changed events for
// it, returning the outbox store over the same database.
func appendEvents(t *testing.T, repo *sqlite.ConventionRepository, conventionID string, eventIDs ...string) *sqlite.OutboxStore {
	t.Helper()
	ctx := context.Background()

	c := makeConvention(conventionID)
	mustCreate(t, repo, c)

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range eventIDs {
		e, err := domain.NewStatusChangedEvent(id, c, domain.StatusDraft, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("building event: %v", err)
		}
		// Append via a no-op status commit to go through the real write path.
		if err := repo.CommitWithEvent(ctx, c, c.Status, &e); err != nil {
			t.Fatalf("appending event %s: %v", id, err)
		}
	}
	return sqlite.NewOutboxStore(repo.DB())
}

func TestGetEvent_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	outbox := sqlite.NewOutboxStore(repo.DB())

	_, err := outbox.GetEvent(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestSeq_MonotonicPerAppendOrder(t *testing.T) {
	repo := newTestRepo(t)
	outbox := appendEvents(t, repo, "c-1", "e-1", "e-2", "e-3")
	ctx := context.Background()

	var prev int64
	for _, id := range []string{"e-1", "e-2", "e-3"} {
		e, err := outbox.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("GetEvent(%s) failed: %v", id, err)
		}
		if e.Seq <= prev {
			t.Errorf("Seq(%s) = %d, want > %d", id, e.Seq, prev)
		}
		prev = e.Seq
	}
}

func TestHasOlderPending(t *testing.T) {
	repo := newTestRepo(t)
	outbox := appendEvents(t, repo, "c-1", "e-1", "e-2")
	ctx := context.Background()

	second, err := outbox.GetEvent(ctx, "e-2")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}

	older, err := outbox.HasOlderPending(ctx, "c-1", second.Seq)
	if err != nil {
		t.Fatalf("HasOlderPending failed: %v", err)
	}
	if !older {
		t.Error("expected an older pending event before e-2")
	}

	if err := outbox.MarkPublished(ctx, "e-1"); err != nil {
		t.Fatalf("MarkPublished failed: %v", err)
	}

	older, err = outbox.HasOlderPending(ctx, "c-1", second.Seq)
	if err != nil {
		t.Fatalf("HasOlderPending failed: %v", err)
	}
	if older {
		t.Error("published predecessor should not block e-2")
	}
}

func TestHasOlderPending_IgnoresOtherConventions(t *testing.T) {
	repo := newTestRepo(t)
	appendEvents(t, repo, "c-1", "e-1")
	outbox := appendEvents(t, repo, "c-2", "e-2")
	ctx := context.Background()

	e2, err := outbox.GetEvent(ctx, "e-2")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}

	older, err := outbox.HasOlderPending(ctx, "c-2", e2.Seq)
	if err != nil {
		t.Fatalf("HasOlderPending failed: %v", err)
	}
	if older {
		t.Error("pending event on c-1 should not block c-2")
	}
}

func TestMarkPublished(t *testing.T) {
	repo := newTestRepo(t)
	outbox := appendEvents(t, repo, "c-1", "e-1")
	ctx := context.Background()

	if err := outbox.MarkPublished(ctx, "e-1"); err != nil {
		t.Fatalf("MarkPublished failed: %v", err)
	}

	e, _ := outbox.GetEvent(ctx, "e-1")
	if e.PublishStatus != domain.PublishPublished {
		t.Errorf("PublishStatus = %q, want PUBLISHED", e.PublishStatus)
	}
}

func TestMarkPublished_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	outbox := sqlite.NewOutboxStore(repo.DB())

	err := outbox.MarkPublished(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestRecordFailure(t *testing.T) {
	repo := newTestRepo(t)
	outbox := appendEvents(t, repo, "c-1", "e-1")
	ctx := context.Background()

	fb := &domain.ErrorFeedback{StatusCode: 503, Body: "service unavailable"}
	if err := outbox.RecordFailure(ctx, "e-1", 2, "partner returned 503", fb); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	e, _ := outbox.GetEvent(ctx, "e-1")
	if e.PublishStatus != domain.PublishPending {
		t.Errorf("PublishStatus = %q, want PENDING", e.PublishStatus)
	}
	if e.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", e.AttemptCount)
	}
	if e.LastError != "partner returned 503" {
		t.Errorf("LastError = %q", e.LastError)
	}
	if e.Feedback == nil || e.Feedback.StatusCode != 503 || e.Feedback.Body != "service unavailable" {
		t.Errorf("Feedback = %+v", e.Feedback)
	}
}

func TestQuarantine_And_ListQuarantined(t *testing.T) {
	repo := newTestRepo(t)
	outbox := appendEvents(t, repo, "c-1", "e-1", "e-2")
	ctx := context.Background()

	fb := &domain.ErrorFeedback{StatusCode: 400, Body: "unknown siret"}
	if err := outbox.Quarantine(ctx, "e-1", 1, "partner rejected payload", fb); err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	e, _ := outbox.GetEvent(ctx, "e-1")
	if e.PublishStatus != domain.PublishQuarantined {
		t.Errorf("PublishStatus = %q, want QUARANTINED", e.PublishStatus)
	}

	quarantined, err := outbox.ListQuarantined(ctx, 10)
	if err != nil {
		t.Fatalf("ListQuarantined failed: %v", err)
	}
	if len(quarantined) != 1 {
		t.Fatalf("got %d quarantined events, want 1", len(quarantined))
	}
	if quarantined[0].ID != "e-1" {
		t.Errorf("ID = %q, want e-1", quarantined[0].ID)
	}
	if quarantined[0].Feedback == nil || quarantined[0].Feedback.StatusCode != 400 {
		t.Errorf("Feedback = %+v", quarantined[0].Feedback)
	}
}

func TestDrain_PendingOldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	outbox := appendEvents(t, repo, "c-1", "e-1", "e-2", "e-3")
	ctx := context.Background()

	if err := outbox.MarkPublished(ctx, "e-2"); err != nil {
		t.Fatalf("MarkPublished failed: %v", err)
	}

	events, err := outbox.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != "e-1" || events[1].ID != "e-3" {
		t.Errorf("order = [%s %s], want [e-1 e-3]", events[0].ID, events[1].ID)
	}
}

func TestDrain_RespectsBatchSize(t *testing.T) {
	repo := newTestRepo(t)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("e-%d", i)
	}
	outbox := appendEvents(t, repo, "c-1", ids...)

	events, err := outbox.Drain(context.Background(), 3)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}
