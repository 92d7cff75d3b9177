// Package work defines the data model for units of mining work handled by
// the GMP dispatch engine: work items, their lifecycle states, dispatch
// records and miner submissions.
package work

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// State is the lifecycle state of a work item.
// Pending → Dispatched → {Accepted | Rejected} | Expired.
type State string

const (
	// StatePending - created, never handed to a miner
	StatePending State = "pending"
	// StateDispatched - handed to at least one miner, awaiting a solution
	StateDispatched State = "dispatched"
	// StateSubmitted - a solution arrived and is being reconciled
	StateSubmitted State = "submitted"
	// StateAccepted - terminal, a solution was accepted
	StateAccepted State = "accepted"
	// StateRejected - terminal, the item was rejected (bad signature or corrupt record)
	StateRejected State = "rejected"
	// StateExpired - terminal, the validity window passed without an accepted solution
	StateExpired State = "expired"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateDispatched, StateSubmitted, StateAccepted, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Payload carries the opaque proof-of-work inputs a miner needs.
// Fields mirror the upstream node's work announcement and are immutable
// after creation.
type Payload struct {
	Header   string `json:"header"`    // block header hash, hex
	BlockNum uint64 `json:"block_num"` // upstream block number
	Boundary string `json:"boundary"`  // PoW boundary target, hex
	NodeKey  string `json:"node_key"`  // announcing node's public key, hex
}

// Item is one unit of mining work. The store exclusively owns the persisted
// record; engines hold transient copies and write back via compare-and-update
// keyed by Version.
type Item struct {
	ID            string     `json:"id"`
	Payload       Payload    `json:"payload"`
	Fee           float64    `json:"fee"`
	DispatchCount int        `json:"dispatch_count"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	State         State      `json:"state"`
	Version       int64      `json:"version"`
}

// Clone returns a deep copy of the item. Engines mutate clones, never the
// instance handed out by a store.
func (w *Item) Clone() *Item {
	c := *w
	if w.SubmittedAt != nil {
		t := *w.SubmittedAt
		c.SubmittedAt = &t
	}
	return &c
}

// DispatchRecord associates a work item with the miner it was handed to.
// Used to detect duplicate and stale submissions downstream.
type DispatchRecord struct {
	ID           string    `json:"id"`
	WorkID       string    `json:"work_id"`
	MinerID      string    `json:"miner_id"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// Submission is a miner's claimed solution for a previously dispatched item.
type Submission struct {
	WorkID     string    `json:"work_id"`
	MinerID    string    `json:"miner_id"`
	Nonce      string    `json:"nonce"`      // hex
	Result     string    `json:"result"`     // PoW result hash, hex
	MixDigest  string    `json:"mix_digest"` // hex
	Signature  string    `json:"signature"`  // DER signature over Digest(), hex
	ReceivedAt time.Time `json:"received_at"`
}

// Digest returns the double-SHA256 digest a miner signs when submitting.
// The digest covers every field that identifies the solution, so a signature
// cannot be replayed against another work item or miner identity.
func (s *Submission) Digest() []byte {
	var b bytes.Buffer
	for _, part := range []string{s.WorkID, s.MinerID, s.Nonce, s.Result, s.MixDigest} {
		b.WriteString(part)
		b.WriteByte(0)
	}
	return chainhash.DoubleHashB(b.Bytes())
}
