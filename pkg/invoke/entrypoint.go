package invoke

import (
	"fmt"

	"github.com/fortiblox/X1-Sealevel/internal/types"
	"github.com/fortiblox/X1-Sealevel/pkg/abi"
)

// Status is the code a program returns to the host. Zero is success;
// nonzero values are errors. Codes above the reserved range are opaque
// program-specific errors the host does not interpret.
type Status uint64

// Reserved status codes.
const (
	// Success indicates the program completed.
	Success Status = 0

	// StatusInvalidArgument indicates the input (accounts or buffer)
	// could not be used, including decode failures.
	StatusInvalidArgument Status = 1

	// StatusInvalidInstructionData indicates the instruction payload was
	// not recognized by the program.
	StatusInvalidInstructionData Status = 2
)

// Entrypoint is the program contract: the decoded frame and instruction
// payload in, a status code out. The frame's views alias the invocation's
// input buffer, so every mutation a program makes through them is already
// visible to the host when the entrypoint returns.
type Entrypoint func(env *Env, frame *abi.Frame, data []byte) Status

// MaxFrameAccounts bounds how many account views a raw entrypoint decodes.
const MaxFrameAccounts = 128

// WrapRaw adapts a program entrypoint to the flat-buffer boundary
// contract: a single function receiving the serialized input buffer and
// returning a status code.
func WrapRaw(ep Entrypoint) func(env *Env, input []byte) Status {
	return func(env *Env, input []byte) Status {
		frame, _, err := abi.DecodeFrameBounded(input, MaxFrameAccounts)
		if err != nil {
			return StatusInvalidArgument
		}
		return ep(env, frame, frame.InstructionData())
	}
}

// ProgramError wraps a nonzero status returned by program logic. The host
// does not interpret the code beyond the reserved range.
type ProgramError struct {
	Program types.Pubkey
	Status  Status
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("program %s returned status %d", e.Program, e.Status)
}
