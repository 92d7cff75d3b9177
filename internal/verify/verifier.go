// Package verify implements submission signature verification for the GMP
// dispatch engine. Verification is a capability selected once at engine
// construction: a skip variant trusts the upstream proof-of-work check alone,
// a secp256k1 variant validates a DER signature over the submission digest
// against the miner's registered public key.
package verify

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/mineproxy/gmp/internal/work"
)

// Result classifies the outcome of verifying one submission.
type Result int

const (
	// ResultSkipped - verification is disabled, the submission is trusted
	ResultSkipped Result = iota
	// ResultValid - the signature validated against the miner's key
	ResultValid
	// ResultInvalid - the signature was missing, malformed or did not validate
	ResultInvalid
)

// String returns string representation of the result
func (r Result) String() string {
	switch r {
	case ResultSkipped:
		return "skipped"
	case ResultValid:
		return "valid"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ErrUnknownMiner is returned by a KeyResolver when no credential is
// registered for the miner identity.
var ErrUnknownMiner = errors.New("unknown miner")

// KeyResolver looks up a miner's registered public credential
// (a 33-byte compressed secp256k1 public key).
type KeyResolver interface {
	MinerKey(ctx context.Context, minerID string) ([]byte, error)
}

// Verifier validates submitted solutions. Implementations return an error
// only for infrastructure failures (credential store unreachable); a bad
// signature is ResultInvalid, not an error.
type Verifier interface {
	Verify(ctx context.Context, sub *work.Submission, w *work.Item) (Result, error)
}

// SkipVerifier is the verify_sign=false variant: every submission passes
// on trust of the payload's internal proof-of-work check.
type SkipVerifier struct{}

// NewSkipVerifier creates a verifier that skips all signature checks.
func NewSkipVerifier() *SkipVerifier {
	return &SkipVerifier{}
}

// Verify always returns ResultSkipped.
func (v *SkipVerifier) Verify(_ context.Context, _ *work.Submission, _ *work.Item) (Result, error) {
	return ResultSkipped, nil
}

// ECDSAVerifier validates secp256k1 ECDSA signatures over the submission
// digest. Miner credentials are resolved at verification time so key
// rotation does not require an engine restart.
type ECDSAVerifier struct {
	keys KeyResolver
}

// NewECDSAVerifier creates a verifier backed by the given credential resolver.
func NewECDSAVerifier(keys KeyResolver) *ECDSAVerifier {
	return &ECDSAVerifier{keys: keys}
}

// Verify checks the submission signature against the miner's registered key.
// An unregistered miner is an invalid submission, not an error.
func (v *ECDSAVerifier) Verify(ctx context.Context, sub *work.Submission, _ *work.Item) (Result, error) {
	keyBytes, err := v.keys.MinerKey(ctx, sub.MinerID)
	if err != nil {
		if errors.Is(err, ErrUnknownMiner) {
			return ResultInvalid, nil
		}
		return ResultInvalid, fmt.Errorf("failed to resolve miner key: %w", err)
	}

	pubKey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return ResultInvalid, nil
	}

	sigBytes, err := hex.DecodeString(sub.Signature)
	if err != nil {
		return ResultInvalid, nil
	}

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return ResultInvalid, nil
	}

	if !sig.Verify(sub.Digest(), pubKey) {
		return ResultInvalid, nil
	}

	return ResultValid, nil
}

// ForConfig selects the verifier variant once, at construction, so the
// engine never branches on the verify toggle itself.
func ForConfig(verifySign bool, keys KeyResolver) Verifier {
	if !verifySign {
		return NewSkipVerifier()
	}
	return NewECDSAVerifier(keys)
}
