package privilege

import (
	"errors"
	"testing"

	"github.com/fortiblox/X1-Sealevel/internal/types"
	"github.com/fortiblox/X1-Sealevel/pkg/abi"
)

var (
	callerProg = types.Pubkey{0xCA}
	calleeProg = types.Pubkey{0xCB}
)

// rootFrame decodes a fresh three-account frame. Account 0 is signer and
// writable, account 1 is writable, account 2 is read-only. Account 2 is
// owned by calleeProg.
func rootFrame(t *testing.T) (*abi.Frame, []Privileges) {
	t.Helper()
	accs := []abi.AccountParams{
		{Key: types.Pubkey{1}, Owner: types.Pubkey{0xA0}, Balance: 100, Data: []byte{0, 0}},
		{Key: types.Pubkey{2}, Owner: types.Pubkey{0xA0}, Balance: 200, Data: []byte{0, 0}},
		{Key: types.Pubkey{3}, Owner: calleeProg, Balance: 300, Data: []byte{0, 0}},
	}
	frame, err := abi.DecodeFrame(abi.EncodeFrame(accs, nil), 3)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	grants := []Privileges{
		{Signer: true, Writable: true},
		{Writable: true},
		{},
	}
	return frame, grants
}

// subFrame builds a callee frame from parent views, applying the requested
// privileges as view flags.
func subFrame(parent *abi.Frame, positions []int, grants []Privileges) *abi.Frame {
	views := make([]abi.AccountView, len(positions))
	for i, p := range positions {
		views[i] = *parent.Account(p)
		views[i].Signer = grants[i].Signer
		views[i].Writable = grants[i].Writable
	}
	return abi.FrameFromViews(views, nil)
}

// TestPrivilegesAllows exercises the grant lattice ordering.
func TestPrivilegesAllows(t *testing.T) {
	cases := []struct {
		held, req Privileges
		want      bool
	}{
		{Privileges{}, Privileges{}, true},
		{Privileges{Signer: true, Writable: true}, Privileges{}, true},
		{Privileges{Signer: true, Writable: true}, Privileges{Signer: true, Writable: true}, true},
		{Privileges{Signer: true}, Privileges{Writable: true}, false},
		{Privileges{Writable: true}, Privileges{Signer: true}, false},
		{Privileges{}, Privileges{Signer: true}, false},
		{Privileges{}, Privileges{Writable: true}, false},
	}
	for i, c := range cases {
		if got := c.held.Allows(c.req); got != c.want {
			t.Errorf("case %d: %+v.Allows(%+v) = %v, want %v", i, c.held, c.req, got, c.want)
		}
	}
}

// TestPushRootGrantCount rejects a grant list that does not line up with
// the frame.
func TestPushRootGrantCount(t *testing.T) {
	frame, _ := rootFrame(t)
	s := NewStack()
	err := s.PushRoot(callerProg, frame, []Privileges{{}})
	if !errors.Is(err, ErrGrantCount) {
		t.Errorf("PushRoot error = %v, want ErrGrantCount", err)
	}
}

// TestNestedSignerEscalation rejects a callee claiming signer status for an
// account the caller cannot sign for.
func TestNestedSignerEscalation(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	req := []Privileges{{Signer: true}} // account 1 was writable-only
	child := subFrame(frame, []int{1}, req)
	err := s.PushNested(calleeProg, child, req, nil)
	if !errors.Is(err, ErrEscalation) {
		t.Errorf("PushNested error = %v, want ErrEscalation", err)
	}
}

// TestNestedWritableEscalation rejects a callee requesting write authority
// on an account the caller held read-only.
func TestNestedWritableEscalation(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	req := []Privileges{{Writable: true}} // account 2 was read-only
	child := subFrame(frame, []int{2}, req)
	err := s.PushNested(calleeProg, child, req, nil)
	if !errors.Is(err, ErrEscalation) {
		t.Errorf("PushNested error = %v, want ErrEscalation", err)
	}
}

// TestNestedSubsetAllowed narrows grants across a boundary and checks the
// nested push succeeds.
func TestNestedSubsetAllowed(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	req := []Privileges{{Writable: true}, {}} // drop signer on 0, narrow 1 to read-only
	child := subFrame(frame, []int{0, 1}, req)
	if err := s.PushNested(calleeProg, child, req, nil); err != nil {
		t.Fatalf("PushNested failed: %v", err)
	}
	if s.Depth() != 2 {
		t.Errorf("Depth = %d, want 2", s.Depth())
	}
}

// TestDeEscalateThenReEscalate narrows a grant for one nested call, then
// attempts to widen it back one level deeper. The narrowed grant is the new
// ceiling, so the re-escalation must fail even though the root grant would
// have allowed it.
func TestDeEscalateThenReEscalate(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	// Account 1 is writable at the root; pass it read-only.
	narrowed := []Privileges{{}}
	mid := subFrame(frame, []int{1}, narrowed)
	if err := s.PushNested(calleeProg, mid, narrowed, nil); err != nil {
		t.Fatalf("de-escalating push failed: %v", err)
	}

	// The deeper call tries to get the writable grant back.
	widened := []Privileges{{Writable: true}}
	inner := subFrame(mid, []int{0}, widened)
	err := s.PushNested(types.Pubkey{0xCC}, inner, widened, nil)
	if !errors.Is(err, ErrEscalation) {
		t.Errorf("re-escalation error = %v, want ErrEscalation", err)
	}
}

// TestDerivedSignerAllowed lets a caller assert signer authority for a
// program-derived address it controls, and only for that address.
func TestDerivedSignerAllowed(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	derived := frame.Account(2).Key() // caller holds it read-only
	req := []Privileges{{Signer: true}}
	child := subFrame(frame, []int{2}, req)

	if err := s.PushNested(calleeProg, child, req, []types.Pubkey{derived}); err != nil {
		t.Fatalf("derived-signer push failed: %v", err)
	}
	if err := s.Drop(); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	// The same claim without the derivation is an escalation.
	child = subFrame(frame, []int{2}, req)
	err := s.PushNested(calleeProg, child, req, nil)
	if !errors.Is(err, ErrEscalation) {
		t.Errorf("underived signer claim error = %v, want ErrEscalation", err)
	}
}

// TestTranslationMismatch hands the callee a re-serialized copy of an
// account instead of the caller's view and checks the copy is rejected.
func TestTranslationMismatch(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	// Decode a second frame from a fresh buffer: same identities and
	// values, different backing bytes.
	copyAccs := []abi.AccountParams{
		{Key: types.Pubkey{2}, Owner: types.Pubkey{0xA0}, Balance: 200, Data: []byte{0, 0}},
	}
	diverged, err := abi.DecodeFrame(abi.EncodeFrame(copyAccs, nil), 1)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	req := []Privileges{{}}
	err = s.PushNested(calleeProg, diverged, req, nil)
	if !errors.Is(err, ErrTranslationMismatch) {
		t.Errorf("PushNested error = %v, want ErrTranslationMismatch", err)
	}
}

// TestAccountMissing rejects a callee account list naming an account the
// caller was never given.
func TestAccountMissing(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	stray, err := abi.DecodeFrame(abi.EncodeFrame([]abi.AccountParams{
		{Key: types.Pubkey{0x99}, Balance: 1},
	}, nil), 1)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	err = s.PushNested(calleeProg, stray, []Privileges{{}}, nil)
	if !errors.Is(err, ErrAccountMissing) {
		t.Errorf("PushNested error = %v, want ErrAccountMissing", err)
	}
}

// TestPopRejectsUnauthorizedBalanceChange mutates a balance under a
// read-only grant and checks Pop flags it.
func TestPopRejectsUnauthorizedBalanceChange(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	frame.Account(2).AddBalance(-10) // account 2 is read-only

	err := s.Pop()
	if !errors.Is(err, ErrUnauthorizedBalanceChange) {
		t.Errorf("Pop error = %v, want ErrUnauthorizedBalanceChange", err)
	}
}

// TestPopOwnershipCoversDataNotBalance checks the implicit ownership grant:
// the owning program may mutate a read-only account's data, but not its
// balance.
func TestPopOwnershipCoversDataNotBalance(t *testing.T) {
	frame, grants := rootFrame(t)

	// Run as calleeProg, which owns account 2.
	s := NewStack()
	if err := s.PushRoot(calleeProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}
	frame.Account(2).Data()[0] = 1
	if err := s.Pop(); err != nil {
		t.Fatalf("owner data write rejected: %v", err)
	}

	// Balance stays off-limits even for the owner.
	frame2, grants2 := rootFrame(t)
	s = NewStack()
	if err := s.PushRoot(calleeProg, frame2, grants2); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}
	frame2.Account(2).AddBalance(5)
	err := s.Pop()
	if !errors.Is(err, ErrUnauthorizedBalanceChange) {
		t.Errorf("Pop error = %v, want ErrUnauthorizedBalanceChange", err)
	}
}

// TestPopRejectsNonOwnerDataWrite mutates data under a read-only grant by a
// program that does not own the account.
func TestPopRejectsNonOwnerDataWrite(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	frame.Account(2).Data()[0] = 9

	err := s.Pop()
	if !errors.Is(err, ErrUnauthorizedWrite) {
		t.Errorf("Pop error = %v, want ErrUnauthorizedWrite", err)
	}
}

// TestPopRefreshesParentSnapshot lets an inner owner-program write data the
// outer caller could not, and checks the caller's own Pop does not blame
// the caller for the inner frame's verified mutation.
func TestPopRefreshesParentSnapshot(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	// Nested call into the program owning account 2, read-only grant.
	req := []Privileges{{}}
	child := subFrame(frame, []int{2}, req)
	if err := s.PushNested(calleeProg, child, req, nil); err != nil {
		t.Fatalf("PushNested failed: %v", err)
	}

	// The owner mutates its account's data in place.
	child.Account(0).Data()[1] = 0x7F

	if err := s.Pop(); err != nil {
		t.Fatalf("inner Pop failed: %v", err)
	}
	if err := s.Pop(); err != nil {
		t.Fatalf("outer Pop failed, inner write re-attributed to caller: %v", err)
	}
	if s.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", s.Depth())
	}
}

// TestPopFailureStillUnwinds checks that a frame failing write verification
// still comes off the stack, so the caller's own return verifies the
// caller's frame and not the stale callee record.
func TestPopFailureStillUnwinds(t *testing.T) {
	frame, grants := rootFrame(t)
	s := NewStack()
	if err := s.PushRoot(callerProg, frame, grants); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	// Nested call into a program that does not own account 2, read-only.
	req := []Privileges{{}}
	child := subFrame(frame, []int{2}, req)
	if err := s.PushNested(types.Pubkey{0xCC}, child, req, nil); err != nil {
		t.Fatalf("PushNested failed: %v", err)
	}

	child.Account(0).Data()[0] = 9

	err := s.Pop()
	if !errors.Is(err, ErrUnauthorizedWrite) {
		t.Fatalf("inner Pop error = %v, want ErrUnauthorizedWrite", err)
	}
	if s.Depth() != 1 {
		t.Fatalf("Depth after failed Pop = %d, want 1", s.Depth())
	}

	// The caller heals the account; its own frame must now be the one
	// verified, and it passes because nothing else changed.
	frame.Account(2).Data()[0] = 0
	if err := s.Pop(); err != nil {
		t.Errorf("outer Pop verified the wrong frame: %v", err)
	}
	if s.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", s.Depth())
	}
}

// TestPopUsesOwnerAtEntry rewrites an account's owner bytes in the backing
// buffer mid-frame and checks the ownership exception is judged against the
// owner captured when the frame was pushed.
func TestPopUsesOwnerAtEntry(t *testing.T) {
	evil := types.Pubkey{0xEE}
	accs := []abi.AccountParams{
		{Key: types.Pubkey{5}, Owner: types.Pubkey{0xA0}, Balance: 1, Data: []byte{0}},
	}
	buf := abi.EncodeFrame(accs, nil)
	frame, err := abi.DecodeFrame(buf, 1)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	s := NewStack()
	if err := s.PushRoot(evil, frame, []Privileges{{}}); err != nil {
		t.Fatalf("PushRoot failed: %v", err)
	}

	frame.Account(0).Data()[0] = 1
	// Owner region sits after count+key+balance+data_len+data.
	copy(buf[8+32+8+8+1:], evil[:])

	if err := s.Pop(); !errors.Is(err, ErrUnauthorizedWrite) {
		t.Errorf("Pop error = %v, want ErrUnauthorizedWrite", err)
	}
}

// TestPushNestedOnEmptyStack requires an active caller frame.
func TestPushNestedOnEmptyStack(t *testing.T) {
	frame, _ := rootFrame(t)
	s := NewStack()
	err := s.PushNested(calleeProg, frame, []Privileges{{}, {}, {}}, nil)
	if !errors.Is(err, ErrEmptyStack) {
		t.Errorf("PushNested error = %v, want ErrEmptyStack", err)
	}
}
