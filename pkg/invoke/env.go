package invoke

import (
	"fmt"

	"github.com/fortiblox/X1-Sealevel/internal/types"
	"github.com/fortiblox/X1-Sealevel/pkg/abi"
	"github.com/fortiblox/X1-Sealevel/pkg/privilege"
)

// Env is the host handle a program receives for the duration of one frame.
// It carries the identity context for nested invocations and the diagnostic
// sink. An Env must not escape its entrypoint call.
type Env struct {
	inv     *Invoker
	stack   *privilege.Stack
	frame   *abi.Frame
	program types.Pubkey
	depth   int
}

// ProgramID returns the identity of the executing program.
func (e *Env) ProgramID() types.Pubkey {
	return e.program
}

// Depth returns the current invocation depth, 1 for the root frame.
func (e *Env) Depth() int {
	return e.depth
}

// Log emits a diagnostic message attributed to the executing program.
func (e *Env) Log(msg string) {
	e.inv.sink.Log(msg)
}

// LogWords emits five raw diagnostic words.
func (e *Env) LogWords(w1, w2, w3, w4, w5 uint64) {
	e.inv.sink.LogWords(w1, w2, w3, w4, w5)
}

// Invoke runs a nested instruction from inside the current frame. The callee
// receives views that alias the caller's backing bytes; no re-serialization
// happens at the boundary. signerSeeds lists seed sets under the calling
// program's identity for which signer authority is asserted.
//
// A nonzero callee status unwinds the callee frame without write
// verification and surfaces as a ProgramError. Writes the callee applied
// before failing stay in the buffer; there is no rollback.
func (e *Env) Invoke(ix Instruction, signerSeeds [][][]byte) error {
	if e.depth >= e.inv.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrDepthExceeded, e.depth)
	}
	if len(ix.Data) > MaxInstructionDataSize {
		return fmt.Errorf("%w: %d bytes", ErrInstructionTooLarge, len(ix.Data))
	}
	ep, ok := e.inv.programs[ix.Program]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, ix.Program)
	}

	derived := make([]types.Pubkey, 0, len(signerSeeds))
	for _, seeds := range signerSeeds {
		key, err := e.inv.deriver.Derive(seeds, e.program)
		if err != nil {
			return fmt.Errorf("derive signer: %w", err)
		}
		derived = append(derived, key)
	}

	views := make([]abi.AccountView, len(ix.Accounts))
	grants := make([]privilege.Privileges, len(ix.Accounts))
	for i, m := range ix.Accounts {
		src, ok := e.frame.AccountByKey(m.Key)
		if !ok {
			return fmt.Errorf("%w: account %s", privilege.ErrAccountMissing, m.Key)
		}
		views[i] = *src
		views[i].Signer = m.IsSigner
		views[i].Writable = m.IsWritable
		grants[i] = privilege.Privileges{Signer: m.IsSigner, Writable: m.IsWritable}
	}

	callee := abi.FrameFromViews(views, ix.Data)
	if err := e.stack.PushNested(ix.Program, callee, grants, derived); err != nil {
		return err
	}

	child := &Env{inv: e.inv, stack: e.stack, frame: callee, program: ix.Program, depth: e.depth + 1}
	status := ep(child, callee, ix.Data)
	if status != Success {
		if err := e.stack.Drop(); err != nil {
			return fmt.Errorf("unwind after status %d: %w", status, err)
		}
		return &ProgramError{Program: ix.Program, Status: status}
	}
	return e.stack.Pop()
}
