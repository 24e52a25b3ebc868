package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// Compile-time check: Policy implements domain.TransitionPolicy.
var _ domain.TransitionPolicy = (*Policy)(nil)

// events converts domain.Transitions into looplab/fsm EventDesc format.
// Each requested status doubles as the event name, so the FSM answers
// exactly the legality question: "is requested reachable from current?".
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	out := make([]loopfsm.EventDesc, 0, len(domain.Transitions))
	for _, t := range domain.Transitions {
		src := make([]string, len(t.Src))
		for i, s := range t.Src {
			src[i] = string(s)
		}
		out = append(out, loopfsm.EventDesc{
			Name: string(t.Requested),
			Src:  src,
			Dst:  string(t.Requested),
		})
	}
	return out
}

// Policy implements domain.TransitionPolicy using looplab/fsm for graph
// legality, layered with the role, justification, and signatory gates.
// A short-lived FSM instance is created per Decide call because
// looplab/fsm is stateful (it tracks the current state internally).
type Policy struct{}

// New creates a new FSM-backed transition policy.
func New() *Policy {
	return &Policy{}
}

// Decide checks whether the actor may move the convention to the
// requested status. It returns the resulting status or a
// domain.TransitionDeniedError carrying the denial reason.
func (p *Policy) Decide(ctx context.Context, c domain.Convention, requested domain.Status, actor domain.Actor, justification string) (domain.Status, error) {
	deny := func(reason domain.DenialReason) error {
		return &domain.TransitionDeniedError{
			ConventionID: c.ID,
			Current:      c.Status,
			Requested:    requested,
			Role:         actor.Role,
			Reason:       reason,
		}
	}

	machine := loopfsm.NewFSM(string(c.Status), events, nil)

	if err := machine.Event(ctx, string(requested)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) || errors.As(err, &noTransition) {
			return "", deny(domain.ReasonIllegalTransition)
		}
		return "", err
	}

	tr := domain.TransitionTo(requested)
	if tr == nil {
		// Unreachable: the FSM only knows events built from Transitions.
		return "", deny(domain.ReasonIllegalTransition)
	}

	if !roleAllowed(tr, actor, c) {
		return "", deny(domain.ReasonForbiddenRole)
	}

	if tr.NeedsJustification && justification == "" {
		return "", deny(domain.ReasonMissingJustification)
	}

	if tr.NeedsAllSignatures && !c.Signatories.AllSigned() {
		return "", deny(domain.ReasonMissingSignatures)
	}

	return domain.Status(machine.Current()), nil
}

func roleAllowed(tr *domain.Transition, actor domain.Actor, c domain.Convention) bool {
	for _, r := range tr.Roles {
		if r != actor.Role {
			continue
		}
		// Signatory roles must be declared parties on this convention.
		if r.Signatory() {
			return c.Signatories.ByRole(r) != nil
		}
		// Agency roles may be scoped to the convention's agency.
		if tr.AgencyScoped && (r == domain.RoleCounsellor || r == domain.RoleValidator) {
			return actor.AgencyID == c.AgencyID
		}
		return true
	}
	return false
}
