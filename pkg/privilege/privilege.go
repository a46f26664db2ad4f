// Package privilege enforces the authority rules for nested program
// invocations that share one input buffer.
//
// Every invocation frame holds, per account, a granted privilege pair
// (signer, writable). Grants only ever narrow across a call boundary: a
// callee's requested privileges for an account must be a subset of what the
// caller holds, and a narrowed grant becomes the ceiling for all deeper
// frames. A program may additionally assert signer authority for addresses
// derived under its own identity (program-derived addresses); that
// derivation is a pluggable capability, not a rule this package hard-codes.
//
// On top of the grant lattice the package checks two integrity properties:
// the views handed to a callee must reference the exact same backing bytes
// as the caller's views (no silent copy-and-diverge), and the mutations a
// frame performed must be covered by its grants when it returns. Ownership
// of an account (owner identity equal to the executing program) implicitly
// permits data writes, never balance changes.
//
// All violations are fatal to the invocation. The model gives no rollback:
// writes applied before a violation was detected stay in the buffer, a
// documented side effect of the in-place design.
package privilege

import (
	"errors"

	"github.com/fortiblox/X1-Sealevel/internal/types"
)

// Escalation errors (PrivilegeViolation class).
var (
	// ErrEscalation is returned when a callee requests a privilege its
	// caller does not hold.
	ErrEscalation = errors.New("privilege: escalation")

	// ErrUnauthorizedWrite is returned when a frame mutated account data
	// without a writable grant or ownership.
	ErrUnauthorizedWrite = errors.New("privilege: unauthorized data write")

	// ErrUnauthorizedBalanceChange is returned when a frame mutated an
	// account balance without a writable grant.
	ErrUnauthorizedBalanceChange = errors.New("privilege: unauthorized balance change")
)

// Integrity errors (IntegrityViolation class).
var (
	// ErrAccountMissing is returned when a callee lists an account the
	// caller's frame does not contain.
	ErrAccountMissing = errors.New("privilege: account not present in caller frame")

	// ErrTranslationMismatch is returned when a callee view does not share
	// the caller view's backing bytes.
	ErrTranslationMismatch = errors.New("privilege: account translation mismatch")
)

// Stack shape errors.
var (
	// ErrGrantCount is returned when the grant list does not line up with
	// the frame's account views.
	ErrGrantCount = errors.New("privilege: grant count does not match frame")

	// ErrEmptyStack is returned for operations that need an active frame.
	ErrEmptyStack = errors.New("privilege: no active frame")
)

// Privileges is the per-account authority granted to one invocation frame.
// The zero value is read-only access.
type Privileges struct {
	Signer   bool
	Writable bool
}

// Allows reports whether a grant covers a requested grant: requests must
// not widen either flag.
func (p Privileges) Allows(req Privileges) bool {
	return (p.Signer || !req.Signer) && (p.Writable || !req.Writable)
}

// Union merges two grants for the same account identity. Duplicate
// positions of one account within a frame contribute the union of their
// flags.
func (p Privileges) Union(o Privileges) Privileges {
	return Privileges{
		Signer:   p.Signer || o.Signer,
		Writable: p.Writable || o.Writable,
	}
}

// Deriver asserts program-derived signer authority. Derive returns the
// address a program controls for the given seeds; the privilege model
// accepts signer claims for exactly those addresses. Implementations decide
// the derivation scheme.
type Deriver interface {
	Derive(seeds [][]byte, program types.Pubkey) (types.Pubkey, error)
}
