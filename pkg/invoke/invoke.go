// Package invoke runs programs against the flat-buffer boundary: it loads
// accounts from the store, serializes them into an input buffer, dispatches
// the target program over the decoded frame, enforces the privilege model
// across nested invocations, and commits mutated accounts back after a
// successful top-level run.
package invoke

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Sealevel/internal/types"
	"github.com/fortiblox/X1-Sealevel/pkg/abi"
	"github.com/fortiblox/X1-Sealevel/pkg/accounts"
	"github.com/fortiblox/X1-Sealevel/pkg/diag"
	"github.com/fortiblox/X1-Sealevel/pkg/pda"
	"github.com/fortiblox/X1-Sealevel/pkg/privilege"
)

// Invocation limits.
const (
	// MaxInvokeDepth caps the call stack, root frame included.
	MaxInvokeDepth = 4

	// MaxInstructionDataSize caps one instruction's payload.
	MaxInstructionDataSize = 10 * 1024
)

var (
	// ErrProgramNotFound is returned when no program is registered under the
	// instruction's program identity.
	ErrProgramNotFound = errors.New("invoke: program not found")

	// ErrDepthExceeded is returned when a nested invocation would push the
	// call stack past MaxInvokeDepth.
	ErrDepthExceeded = errors.New("invoke: max invocation depth exceeded")

	// ErrInstructionTooLarge is returned when instruction data exceeds
	// MaxInstructionDataSize.
	ErrInstructionTooLarge = errors.New("invoke: instruction data too large")
)

// AccountMeta names one account an instruction touches and the privileges
// requested for it. Order is meaningful; positions are the indices the
// program's instruction data refers to.
type AccountMeta struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation request.
type Instruction struct {
	Program  types.Pubkey
	Accounts []AccountMeta
	Data     []byte
}

// Result reports a completed top-level invocation.
type Result struct {
	Status Status

	// Modified lists the accounts whose stored state changed, in meta order
	// with duplicates collapsed.
	Modified []types.Pubkey
}

// Config configures an Invoker.
type Config struct {
	// DB is the backing account store.
	DB accounts.DB

	// Sink receives program diagnostics. Nil means discard.
	Sink diag.Sink

	// Deriver validates program-derived signer claims. Nil installs the
	// default derivation scheme.
	Deriver privilege.Deriver

	// MaxDepth overrides MaxInvokeDepth when positive.
	MaxDepth int
}

// Invoker owns the program registry and drives invocations end to end.
type Invoker struct {
	db       accounts.DB
	programs map[types.Pubkey]Entrypoint
	sink     diag.Sink
	deriver  privilege.Deriver
	maxDepth int
}

// New creates an Invoker over the given store.
func New(cfg Config) *Invoker {
	sink := cfg.Sink
	if sink == nil {
		sink = diag.Discard
	}
	deriver := cfg.Deriver
	if deriver == nil {
		deriver = pda.Deriver{}
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = MaxInvokeDepth
	}
	return &Invoker{
		db:       cfg.DB,
		programs: make(map[types.Pubkey]Entrypoint),
		sink:     sink,
		deriver:  deriver,
		maxDepth: maxDepth,
	}
}

// Register installs a program under its identity. Re-registering an identity
// replaces the previous entrypoint.
func (inv *Invoker) Register(program types.Pubkey, ep Entrypoint) {
	inv.programs[program] = ep
}

// Invoke runs a top-level instruction: accounts are loaded from the store,
// serialized into a fresh input buffer, and the mutated fields are committed
// back only if the whole call tree succeeds. A nonzero program status or a
// privilege violation leaves the store untouched.
func (inv *Invoker) Invoke(ix Instruction) (*Result, error) {
	if len(ix.Data) > MaxInstructionDataSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInstructionTooLarge, len(ix.Data))
	}
	ep, ok := inv.programs[ix.Program]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, ix.Program)
	}

	params := make([]abi.AccountParams, len(ix.Accounts))
	for i, m := range ix.Accounts {
		acc, err := inv.db.GetAccount(m.Key)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", m.Key, err)
		}
		params[i] = abi.AccountParams{
			Key:     m.Key,
			Owner:   acc.Owner,
			Balance: acc.Balance,
			Data:    acc.Data,
		}
	}

	buf := abi.EncodeFrame(params, ix.Data)
	frame, err := abi.DecodeFrame(buf, len(ix.Accounts))
	if err != nil {
		return &Result{Status: StatusInvalidArgument}, fmt.Errorf("decode input: %w", err)
	}

	grants := make([]privilege.Privileges, len(ix.Accounts))
	for i, m := range ix.Accounts {
		frame.SetPrivileges(i, m.IsSigner, m.IsWritable)
		grants[i] = privilege.Privileges{Signer: m.IsSigner, Writable: m.IsWritable}
	}

	stack := privilege.NewStack()
	if err := stack.PushRoot(ix.Program, frame, grants); err != nil {
		return nil, err
	}

	env := &Env{inv: inv, stack: stack, frame: frame, program: ix.Program, depth: 1}
	status := ep(env, frame, frame.InstructionData())
	if status != Success {
		return &Result{Status: status}, &ProgramError{Program: ix.Program, Status: status}
	}
	if err := stack.Pop(); err != nil {
		return nil, err
	}

	res := &Result{Status: Success}
	committed := make(map[types.Pubkey]bool, len(ix.Accounts))
	for i, m := range ix.Accounts {
		if committed[m.Key] {
			continue
		}
		committed[m.Key] = true

		view, ok := frame.AccountByKey(m.Key)
		if !ok {
			return nil, fmt.Errorf("commit: account %s missing from frame", m.Key)
		}
		if view.Balance() == params[i].Balance && bytes.Equal(view.Data(), params[i].Data) {
			continue
		}

		data := make([]byte, len(view.Data()))
		copy(data, view.Data())
		err := inv.db.SetAccount(m.Key, &accounts.Account{
			Balance: view.Balance(),
			Data:    data,
			Owner:   view.Owner(),
		})
		if err != nil {
			return nil, fmt.Errorf("commit account %s: %w", m.Key, err)
		}
		res.Modified = append(res.Modified, m.Key)
	}
	if err := inv.db.Commit(); err != nil {
		return nil, fmt.Errorf("commit store: %w", err)
	}
	return res, nil
}
