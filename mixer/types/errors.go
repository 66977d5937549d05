package types

import "errors"

// Error taxonomy for the mixing engine. Callers are expected to test with
// errors.Is; every failure surfaced by the pool wraps exactly one of these
// sentinels.
var (
	// Configuration class: rejected before any state mutation.
	ErrDenominationMismatch = errors.New("note value does not match pool denomination")
	ErrSchemeMismatch       = errors.New("proof was produced under a different proving setup")
	ErrPoolExhausted        = errors.New("commitment tree is full")
	ErrAnonymitySetTooSmall = errors.New("anonymity set below configured minimum")

	// Witness class: local and retryable after the caller fixes its input.
	ErrWitnessInvalid = errors.New("malformed spend witness")

	// Spend class: fatal for the attempted spend.
	ErrProofInvalid = errors.New("zero-knowledge proof rejected")
	ErrDoubleSpend  = errors.New("nullifier already spent")
	ErrUnknownRoot  = errors.New("merkle root outside the recent-root window")

	// Transient class: safe to retry with the same proof because the
	// nullifier is not inserted until the ledger confirms.
	ErrLedgerUnconfirmed = errors.New("ledger transfer not confirmed")
)
