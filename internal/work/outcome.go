package work

// DeclineReason is a machine-readable code explaining why a work request
// returned no assignment. Declines are ordinary outcomes of concurrent
// competition for scarce work, never errors.
type DeclineReason string

const (
	// DeclineNoEligibleWork - no candidate passed the fee, limit and expiry filters
	DeclineNoEligibleWork DeclineReason = "no_eligible_work"
)

// OutcomeStatus classifies the result of a solution submission.
type OutcomeStatus string

const (
	// OutcomeAccepted - the solution was accepted and a payout signal emitted
	OutcomeAccepted OutcomeStatus = "accepted"
	// OutcomeRejected - the solution was rejected; see the reason code
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeStale - the referenced item is unknown, terminal, expired or never dispatched
	OutcomeStale OutcomeStatus = "stale"
)

// Rejection reason codes carried alongside OutcomeRejected.
const (
	// ReasonVerificationFailure - the submission signature did not validate
	ReasonVerificationFailure = "verification_failure"
	// ReasonDataCorruption - the stored record violated an invariant and was force-terminated
	ReasonDataCorruption = "data_corruption"
)

// Outcome is the result of reconciling one submission.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Assignment is a successful work dispatch: the item handed out plus the
// identifier of the dispatch record created for it.
type Assignment struct {
	Work       *Item  `json:"work"`
	DispatchID string `json:"dispatch_id"`
}
