// Package movefunds is a small reference program exercising the boundary
// contract: in-place data and balance mutation through account views,
// duplicate-account aliasing, and the diagnostic channel.
//
// The program expects four accounts. The first instruction byte selects the
// operation; anything else is rejected without mutating state.
package movefunds

import (
	"github.com/fortiblox/X1-Sealevel/pkg/abi"
	"github.com/fortiblox/X1-Sealevel/pkg/invoke"
)

// Opcodes.
const (
	// OpMark sets the first data byte of the account at position 2.
	OpMark = 1

	// OpIncrement bumps the first data byte of the accounts at positions 2
	// and 3 by 1 and 2 respectively. When both positions reference the same
	// account, the increments stack through the shared backing bytes.
	OpIncrement = 3

	// OpTransfer moves value between the accounts at positions 1, 2 and 3:
	// position 1 pays 3, position 2 receives 1, position 3 receives 2. The
	// deltas sum to zero.
	OpTransfer = 6
)

// NumAccounts is the account count the program requires.
const NumAccounts = 4

// Entrypoint is the program body.
func Entrypoint(env *invoke.Env, frame *abi.Frame, data []byte) invoke.Status {
	if frame.NumAccounts() < NumAccounts {
		env.Log("movefunds: not enough accounts")
		return invoke.StatusInvalidArgument
	}
	if len(data) < 1 {
		env.Log("movefunds: missing opcode")
		return invoke.StatusInvalidInstructionData
	}

	switch data[0] {
	case OpMark:
		target := frame.Account(2)
		if len(target.Data()) < 1 {
			return invoke.StatusInvalidArgument
		}
		target.Data()[0] = 1

	case OpIncrement:
		a, b := frame.Account(2), frame.Account(3)
		if len(a.Data()) < 1 || len(b.Data()) < 1 {
			return invoke.StatusInvalidArgument
		}
		a.Data()[0] += 1
		b.Data()[0] += 2

	case OpTransfer:
		frame.Account(1).AddBalance(-3)
		frame.Account(2).AddBalance(1)
		frame.Account(3).AddBalance(2)
		env.LogWords(uint64(data[0]),
			uint64(frame.Account(1).Balance()),
			uint64(frame.Account(2).Balance()),
			uint64(frame.Account(3).Balance()), 0)

	default:
		env.Log("movefunds: unrecognized opcode")
		return invoke.StatusInvalidInstructionData
	}
	return invoke.Success
}
