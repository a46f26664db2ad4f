package privilege

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Sealevel/internal/types"
	"github.com/fortiblox/X1-Sealevel/pkg/abi"
)

// keyGrant pairs the effective (union) grant for an account identity with
// the first frame position carrying it.
type keyGrant struct {
	grant Privileges
	pos   int
}

// preState is the snapshot of one account view taken when its frame was
// pushed, used to attribute mutations when the frame returns.
type preState struct {
	key     types.Pubkey
	owner   types.Pubkey
	balance int64
	dataSum types.Hash
}

func capture(v *abi.AccountView) preState {
	return preState{
		key:     v.Key(),
		owner:   v.Owner(),
		balance: v.Balance(),
		dataSum: fingerprint(v.Data()),
	}
}

func fingerprint(data []byte) types.Hash {
	return types.Hash(blake3.Sum256(data))
}

// frameRecord tracks one invocation frame on the call stack.
type frameRecord struct {
	program   types.Pubkey
	frame     *abi.Frame
	effective map[types.Pubkey]keyGrant
	pre       []preState
}

func newFrameRecord(program types.Pubkey, frame *abi.Frame, grants []Privileges) (*frameRecord, error) {
	if len(grants) != frame.NumAccounts() {
		return nil, fmt.Errorf("%w: %d grants for %d accounts",
			ErrGrantCount, len(grants), frame.NumAccounts())
	}

	rec := &frameRecord{
		program:   program,
		frame:     frame,
		effective: make(map[types.Pubkey]keyGrant, frame.NumAccounts()),
		pre:       make([]preState, frame.NumAccounts()),
	}
	for i := 0; i < frame.NumAccounts(); i++ {
		v := frame.Account(i)
		rec.pre[i] = capture(v)

		key := v.Key()
		if kg, ok := rec.effective[key]; ok {
			kg.grant = kg.grant.Union(grants[i])
			rec.effective[key] = kg
		} else {
			rec.effective[key] = keyGrant{grant: grants[i], pos: i}
		}
	}
	return rec, nil
}

// Stack tracks the privilege records of every frame on one invocation's
// call stack. It is not safe for concurrent use; the execution model is
// strictly single-threaded and call-stack-nested.
type Stack struct {
	frames []*frameRecord
}

// NewStack creates an empty call stack.
func NewStack() *Stack {
	return &Stack{}
}

// Depth returns the number of active frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

func (s *Stack) top() *frameRecord {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// PushRoot installs the outermost frame. The grants are the host-asserted
// privileges for each account position, in frame order.
func (s *Stack) PushRoot(program types.Pubkey, frame *abi.Frame, grants []Privileges) error {
	if len(s.frames) != 0 {
		return fmt.Errorf("privilege: root frame pushed onto non-empty stack (depth %d)", len(s.frames))
	}
	rec, err := newFrameRecord(program, frame, grants)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, rec)
	return nil
}

// PushNested validates a callee frame against the caller on top of the
// stack and installs it. The requested grants must not widen the caller's,
// except for signer claims on addresses in derivedSigners, which the caller
// asserts through program-derived authority.
//
// Validation order per account: presence in the caller frame, translation
// integrity (shared backing bytes), writable escalation, signer escalation.
func (s *Stack) PushNested(program types.Pubkey, frame *abi.Frame, grants []Privileges, derivedSigners []types.Pubkey) error {
	caller := s.top()
	if caller == nil {
		return ErrEmptyStack
	}
	if len(grants) != frame.NumAccounts() {
		return fmt.Errorf("%w: %d grants for %d accounts",
			ErrGrantCount, len(grants), frame.NumAccounts())
	}

	derived := make(map[types.Pubkey]bool, len(derivedSigners))
	for _, key := range derivedSigners {
		derived[key] = true
	}

	for i := 0; i < frame.NumAccounts(); i++ {
		view := frame.Account(i)
		key := view.Key()

		kg, ok := caller.effective[key]
		if !ok {
			return fmt.Errorf("%w: account %s", ErrAccountMissing, key)
		}
		if !view.SharesBackingWith(caller.frame.Account(kg.pos)) {
			return fmt.Errorf("%w: account %s", ErrTranslationMismatch, key)
		}

		req := grants[i]
		if req.Writable && !kg.grant.Writable {
			return fmt.Errorf("%w: writable requested for account %s held read-only by caller",
				ErrEscalation, key)
		}
		if req.Signer && !kg.grant.Signer && !derived[key] {
			return fmt.Errorf("%w: signer requested for account %s the caller cannot sign for",
				ErrEscalation, key)
		}
	}

	rec, err := newFrameRecord(program, frame, grants)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, rec)
	return nil
}

// Pop removes the returning frame and verifies its mutations against its
// grants. A balance change requires a writable grant; a data change requires
// a writable grant or ownership of the account by the frame's program, as
// captured when the frame was pushed. The frame comes off the stack whether
// or not verification passes, so a violation deep in the call tree cannot
// leave a stale record shadowing the frames above it. Mutations that pass
// verification refresh the parent frame's snapshots, so a legal inner write
// is not re-attributed to the caller on its own return.
func (s *Stack) Pop() error {
	rec := s.top()
	if rec == nil {
		return ErrEmptyStack
	}
	s.frames = s.frames[:len(s.frames)-1]

	touched := make(map[types.Pubkey]bool, len(rec.pre))
	for i := range rec.pre {
		view := rec.frame.Account(i)
		pre := &rec.pre[i]
		grant := rec.effective[pre.key].grant

		if view.Balance() != pre.balance && !grant.Writable {
			return fmt.Errorf("%w: account %s balance %d -> %d without writable grant",
				ErrUnauthorizedBalanceChange, pre.key, pre.balance, view.Balance())
		}
		if fingerprint(view.Data()) != pre.dataSum {
			if !grant.Writable && pre.owner != rec.program {
				return fmt.Errorf("%w: account %s modified by non-owner without writable grant",
					ErrUnauthorizedWrite, pre.key)
			}
		}
		touched[pre.key] = true
	}

	if parent := s.top(); parent != nil {
		for j := range parent.pre {
			if !touched[parent.pre[j].key] {
				continue
			}
			v := parent.frame.Account(j)
			parent.pre[j].balance = v.Balance()
			parent.pre[j].dataSum = fingerprint(v.Data())
		}
	}
	return nil
}

// Drop removes the top frame without write verification. Used when
// unwinding after a failed callee, whose writes stay in the buffer but are
// not blessed into the caller's snapshot.
func (s *Stack) Drop() error {
	if len(s.frames) == 0 {
		return ErrEmptyStack
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}
