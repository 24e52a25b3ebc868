package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// ConventionService orchestrates convention lifecycle operations. Every
// accepted status change is committed together with exactly one outbox
// event through the repository's CommitWithEvent entry point.
type ConventionService struct {
	repo       domain.ConventionRepository
	policy     domain.TransitionPolicy
	outbox     domain.OutboxStore
	metrics    domain.DispatchMetrics
	logger     *slog.Logger
	similarity domain.SimilarityPolicy
}

// NewConventionService creates a service with the given adapters.
func NewConventionService(
	repo domain.ConventionRepository,
	policy domain.TransitionPolicy,
	outbox domain.OutboxStore,
	metrics domain.DispatchMetrics,
	logger *slog.Logger,
	similarity domain.SimilarityPolicy,
) *ConventionService {
	return &ConventionService{
		repo:       repo,
		policy:     policy,
		outbox:     outbox,
		metrics:    metrics,
		logger:     logger,
		similarity: similarity,
	}
}

// CreateResult is the outcome of a submission: the draft convention and
// the advisory list of likely duplicates surfaced to the reviewer.
type CreateResult struct {
	Convention domain.Convention
	SimilarIDs []string
}

// Create persists a new convention in DRAFT. When a federated identity
// token is attached, the identity-binding event is appended in the same
// transaction as the insert.
func (s *ConventionService) Create(ctx context.Context, p domain.NewConventionParams) (CreateResult, error) {
	similar, err := s.FindSimilar(ctx, domain.SimilarityQuery{
		Siret:                p.Siret,
		AppellationCode:      p.AppellationCode,
		BeneficiaryLastName:  p.Beneficiary.LastName,
		BeneficiaryBirthdate: p.Beneficiary.Birthdate,
		DateStart:            p.DateStart,
	})
	if err != nil {
		return CreateResult{}, err
	}

	id, err := generateID()
	if err != nil {
		return CreateResult{}, fmt.Errorf("generating convention id: %w", err)
	}

	c := domain.NewConvention(id, p)

	var event *domain.DomainEvent
	if c.FederatedIdentity != "" {
		eventID, err := generateID()
		if err != nil {
			return CreateResult{}, fmt.Errorf("generating event id: %w", err)
		}
		evt, err := domain.NewFederatedIdentityBoundEvent(eventID, c, c.CreatedAt)
		if err != nil {
			return CreateResult{}, err
		}
		event = &evt
	}

	if err := s.repo.CreateWithEvent(ctx, c, event); err != nil {
		return CreateResult{}, fmt.Errorf("creating convention: %w", err)
	}

	return CreateResult{Convention: c, SimilarIDs: similar}, nil
}

// FindSimilar runs the advisory duplicate check.
func (s *ConventionService) FindSimilar(ctx context.Context, q domain.SimilarityQuery) ([]string, error) {
	candidates, err := s.repo.FindCandidates(ctx, q.Siret, q.AppellationCode)
	if err != nil {
		return nil, fmt.Errorf("loading duplicate candidates: %w", err)
	}
	return domain.FindSimilar(candidates, q, s.similarity), nil
}

// GetByID returns a convention by its unique identifier.
func (s *ConventionService) GetByID(ctx context.Context, id string) (domain.Convention, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns conventions matching the given filter.
func (s *ConventionService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Convention, error) {
	return s.repo.List(ctx, filter)
}

// ListQuarantined surfaces terminally failed events for remediation.
func (s *ConventionService) ListQuarantined(ctx context.Context, limit int) ([]domain.DomainEvent, error) {
	return s.outbox.ListQuarantined(ctx, limit)
}

// Transition applies a policy-checked status change and queues the
// corresponding event.
func (s *ConventionService) Transition(ctx context.Context, id string, requested domain.Status, actor domain.Actor, justification string) (domain.Convention, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Convention{}, err
	}
	return s.commitTransition(ctx, c, requested, actor, justification)
}

// Sign records the actor's signature and advances the status: the first
// signature moves READY_TO_SIGN to PARTIALLY_SIGNED, and the signature
// completing all mandatory parties moves PARTIALLY_SIGNED to IN_REVIEW.
func (s *ConventionService) Sign(ctx context.Context, id string, actor domain.Actor) (domain.Convention, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Convention{}, err
	}

	sig := c.Signatories.ByRole(actor.Role)
	if !actor.Role.Signatory() || sig == nil {
		return domain.Convention{}, s.denied(ctx, &domain.TransitionDeniedError{
			ConventionID: c.ID,
			Current:      c.Status,
			Requested:    c.Status,
			Role:         actor.Role,
			Reason:       domain.ReasonForbiddenRole,
		})
	}
	if sig.Signed() {
		// Re-signing is a no-op, not an error and not an event.
		return c, nil
	}
	if c.Status != domain.StatusReadyToSign && c.Status != domain.StatusPartiallySigned {
		return domain.Convention{}, s.denied(ctx, &domain.TransitionDeniedError{
			ConventionID: c.ID,
			Current:      c.Status,
			Requested:    domain.StatusPartiallySigned,
			Role:         actor.Role,
			Reason:       domain.ReasonIllegalTransition,
		})
	}

	now := time.Now().UTC()
	sig.SignedAt = &now

	// Recompute the resulting status from signatory completeness.
	requested := domain.StatusPartiallySigned
	if c.Signatories.AllSigned() {
		requested = domain.StatusInReview
	}

	if requested == c.Status {
		// An intermediate signature: the signatory set changed but the
		// status did not, so no event is queued.
		c.UpdatedAt = now
		if err := s.repo.CommitWithEvent(ctx, c, c.Status, nil); err != nil {
			return domain.Convention{}, err
		}
		return c, nil
	}

	return s.commitTransition(ctx, c, requested, actor, "")
}

// AcceptByCounsellor marks the convention eligible, on behalf of the
// sponsoring agency.
func (s *ConventionService) AcceptByCounsellor(ctx context.Context, id string, actor domain.Actor) (domain.Convention, error) {
	return s.Transition(ctx, id, domain.StatusAcceptedByCounsellor, actor, "")
}

// AcceptByValidator validates the convention and records the validator.
// The actor ID stands in when no name is given, so a validated
// convention always keeps a trace of who validated it.
func (s *ConventionService) AcceptByValidator(ctx context.Context, id string, actor domain.Actor, validatorName string) (domain.Convention, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Convention{}, err
	}
	if validatorName == "" {
		validatorName = actor.ID
	}
	if validatorName != "" {
		c.Validators = append(c.Validators, validatorName)
	}
	return s.commitTransition(ctx, c, domain.StatusAcceptedByValidator, actor, "")
}

// Reject refuses the convention with a justification.
func (s *ConventionService) Reject(ctx context.Context, id string, actor domain.Actor, justification string) (domain.Convention, error) {
	return s.Transition(ctx, id, domain.StatusRejected, actor, justification)
}

// Cancel withdraws the convention with a justification.
func (s *ConventionService) Cancel(ctx context.Context, id string, actor domain.Actor, justification string) (domain.Convention, error) {
	return s.Transition(ctx, id, domain.StatusCancelled, actor, justification)
}

// Deprecate soft-deletes the convention with a justification.
func (s *ConventionService) Deprecate(ctx context.Context, id string, actor domain.Actor, justification string) (domain.Convention, error) {
	return s.Transition(ctx, id, domain.StatusDeprecated, actor, justification)
}

// Renew creates a new DRAFT convention referencing a previously
// validated one. The original is never mutated. Validation needs only
// to have happened at some point: a validated convention later
// cancelled or deprecated can still be renewed, and the validators
// list is the persisted trace of that validation.
func (s *ConventionService) Renew(ctx context.Context, fromID, justification string, p domain.NewConventionParams) (CreateResult, error) {
	original, err := s.repo.GetByID(ctx, fromID)
	if err != nil {
		return CreateResult{}, err
	}
	if original.Status != domain.StatusAcceptedByValidator && len(original.Validators) == 0 {
		return CreateResult{}, fmt.Errorf("convention %s is %q and was never validated, only validated conventions can be renewed", fromID, original.Status)
	}
	p.Renewed = &domain.Renewal{FromID: fromID, Justification: justification}
	return s.Create(ctx, p)
}

func (s *ConventionService) commitTransition(ctx context.Context, c domain.Convention, requested domain.Status, actor domain.Actor, justification string) (domain.Convention, error) {
	newStatus, err := s.policy.Decide(ctx, c, requested, actor, justification)
	if err != nil {
		return domain.Convention{}, s.denied(ctx, err)
	}

	now := time.Now().UTC()
	previous := c.Status
	c.Status = newStatus
	if justification != "" {
		c.StatusJustification = justification
	}
	c.UpdatedAt = now

	eventID, err := generateID()
	if err != nil {
		return domain.Convention{}, fmt.Errorf("generating event id: %w", err)
	}
	event, err := domain.NewStatusChangedEvent(eventID, c, previous, now)
	if err != nil {
		return domain.Convention{}, err
	}

	if err := s.repo.CommitWithEvent(ctx, c, previous, &event); err != nil {
		return domain.Convention{}, err
	}

	return c, nil
}

// denied logs and counts a refused transition before returning it.
func (s *ConventionService) denied(ctx context.Context, err error) error {
	var deniedErr *domain.TransitionDeniedError
	if errors.As(err, &deniedErr) {
		s.logger.WarnContext(ctx, "transition denied",
			"convention_id", deniedErr.ConventionID,
			"current_status", string(deniedErr.Current),
			"requested_status", string(deniedErr.Requested),
			"reason", string(deniedErr.Reason),
		)
		s.metrics.TransitionDenied(ctx, deniedErr.Reason)
	}
	return err
}
