// Package pda derives program-controlled addresses.
//
// A program-derived address is an account identity whose signer authority
// is asserted by a program through a deterministic derivation rather than
// an external cryptographic signature. The derivation hashes the seed
// slices, the deriving program's identity and a domain marker with SHA-256,
// and requires the result to fall off the ed25519 curve so that no private
// key can ever exist for it.
//
// The package implements the privilege model's Deriver capability; the
// privilege checks themselves stay agnostic of the scheme.
package pda

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/fortiblox/X1-Sealevel/internal/types"
	"github.com/fortiblox/X1-Sealevel/pkg/privilege"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// Domain marker appended to the hash input.
var marker = []byte("ProgramDerivedAddress")

// Derivation errors.
var (
	ErrMaxSeedsExceeded      = errors.New("pda: max seed count exceeded")
	ErrMaxSeedLengthExceeded = errors.New("pda: max seed length exceeded")
	ErrOnCurve               = errors.New("pda: derived address is on the ed25519 curve")
	ErrNoViableBump          = errors.New("pda: no viable bump seed found")
)

// CreateProgramAddress derives the address for the given seeds under the
// given program. It fails if the derived point lands on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, program types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write(marker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))

	if isOnCurve(addr[:]) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down to 0 for the first
// derivation that falls off the curve, returning the address and the bump.
func FindProgramAddress(seeds [][]byte, program types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 { // room for the bump seed
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// Deriver adapts the package to the privilege model's derivation
// capability.
type Deriver struct{}

// Derive implements privilege.Deriver.
func (Deriver) Derive(seeds [][]byte, program types.Pubkey) (types.Pubkey, error) {
	return CreateProgramAddress(seeds, program)
}

var _ privilege.Deriver = Deriver{}

// isOnCurve checks whether point decodes to a valid compressed ed25519
// curve point.
//
// Ed25519 is the twisted Edwards curve -x^2 + y^2 = 1 + d*x^2*y^2 over the
// field of prime p = 2^255 - 19, with d = -121665/121666 (mod p). The
// compressed form stores y and the sign of x; the point is valid exactly
// when x^2 = (y^2 - 1) / (d*y^2 + 1) has a square root in the field.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}

	p := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

	d := new(big.Int).Mul(big.NewInt(-121665), new(big.Int).ModInverse(big.NewInt(121666), p))
	d.Mod(d, p)

	// y is little-endian with the sign bit of x in the top bit.
	yBytes := make([]byte, 32)
	copy(yBytes, point)
	yBytes[31] &= 0x7F

	y := new(big.Int)
	for i := 31; i >= 0; i-- {
		y.Lsh(y, 8)
		y.Or(y, big.NewInt(int64(yBytes[i])))
	}
	if y.Cmp(p) >= 0 {
		return false
	}

	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, p)

	num := new(big.Int).Sub(y2, big.NewInt(1))
	num.Mod(num, p)

	den := new(big.Int).Mul(d, y2)
	den.Add(den, big.NewInt(1))
	den.Mod(den, p)

	denInv := new(big.Int).ModInverse(den, p)
	if denInv == nil {
		return false
	}
	x2 := new(big.Int).Mul(num, denInv)
	x2.Mod(x2, p)

	// Euler's criterion: x^2 is a quadratic residue iff x2^((p-1)/2) = 1.
	exp := new(big.Int).Sub(p, big.NewInt(1))
	exp.Rsh(exp, 1)
	legendre := new(big.Int).Exp(x2, exp, p)

	return legendre.Cmp(big.NewInt(1)) == 0 || x2.Sign() == 0
}
