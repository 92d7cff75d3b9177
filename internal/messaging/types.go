package messaging

import "time"

// DispatchEvent is published whenever a work item is handed to a miner.
type DispatchEvent struct {
	DispatchID    string    `json:"dispatch_id"`
	WorkID        string    `json:"work_id"`
	MinerID       string    `json:"miner_id"`
	DispatchCount int       `json:"dispatch_count"`
	Fee           float64   `json:"fee"`
	DispatchedAt  time.Time `json:"dispatched_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SolutionEvent is published when a submission reaches a terminal outcome.
// Accepted events double as the downstream payout signal.
type SolutionEvent struct {
	WorkID      string    `json:"work_id"`
	MinerID     string    `json:"miner_id"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Fee         float64   `json:"fee"`
	Nonce       string    `json:"nonce"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AlertEvent carries an admin notification. Sender is the configured
// admin list's index-0 identity.
type AlertEvent struct {
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Sender     string         `json:"sender"`
	Recipients []string       `json:"recipients"`
	Fields     map[string]any `json:"fields,omitempty"`
	At         time.Time      `json:"at"`
}
