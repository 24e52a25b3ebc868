package domain

// OutcomeKind classifies the result of delivering an event to a
// subscriber. The dispatcher's retry and quarantine logic is a state
// machine over these values; subscribers never signal control flow by
// panicking or by error type alone.
type OutcomeKind int

const (
	// OutcomeDelivered means the subscriber handled the event.
	OutcomeDelivered OutcomeKind = iota
	// OutcomeRetryable means a transient failure; redelivering the same
	// event later may succeed.
	OutcomeRetryable
	// OutcomePermanent means redelivery cannot succeed without a payload
	// change; the event must be quarantined immediately.
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	}
	return "unknown"
}

// Outcome is a subscriber's typed verdict on one delivery attempt.
type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Feedback *ErrorFeedback
}

// Delivered reports a successful delivery.
func Delivered() Outcome {
	return Outcome{Kind: OutcomeDelivered}
}

// Retryable reports a transient failure, optionally with structured
// feedback for operators.
func Retryable(err error, fb *ErrorFeedback) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err, Feedback: fb}
}

// Permanent reports a non-recoverable failure.
func Permanent(err error, fb *ErrorFeedback) Outcome {
	return Outcome{Kind: OutcomePermanent, Err: err, Feedback: fb}
}
