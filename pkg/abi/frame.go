// Package abi implements the flat serialization format that carries account
// state and instruction data across the host/program boundary.
//
// Wire layout (bit-exact, little-endian, no padding or alignment gaps):
//
//	[u64 account_count]
//	repeat account_count times:
//	  [32 bytes identity]
//	  [i64 balance]            -- mutable in place
//	  [u64 data_len]
//	  [data_len bytes data]    -- mutable in place
//	  [32 bytes owner]
//	[u64 instruction_data_len]
//	[instruction_data_len bytes instruction_data]
//
// The decoder recovers all structure by offset arithmetic over the caller's
// buffer: account views borrow subslices of it, so mutations made through a
// view are visible to the host after the invocation returns without any
// re-serialization step. The decoder never owns the backing storage and a
// Frame must not outlive the buffer it was decoded from.
package abi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Sealevel/internal/types"
)

// Field widths of the wire format.
const (
	// KeySize is the width of an account identity or owner key.
	KeySize = types.PubkeySize

	wordSize = 8
)

// Decoding errors.
var (
	// ErrShortBuffer is returned when a read would run past the end of the
	// input buffer.
	ErrShortBuffer = errors.New("abi: input buffer too short")

	// ErrCountMismatch is returned in exact mode when the declared account
	// count differs from the expected one.
	ErrCountMismatch = errors.New("abi: account count mismatch")
)

// AccountView is a borrowed, non-owning view of one account inside a frame.
//
// Balance and Data reference the input buffer directly. Two views of the
// same account identity within one frame share the same backing regions, so
// a write through either view is observable through the other.
type AccountView struct {
	key     []byte // 32-byte identity
	balance []byte // 8-byte little-endian signed balance
	data    []byte // program-owned storage region
	owner   []byte // 32-byte owning-program identity

	// Signer and Writable record the privileges granted for this account in
	// the current frame. They are not carried on the wire; the host applies
	// them from the instruction's account metas after decoding.
	Signer   bool
	Writable bool
}

// Key returns the account identity.
func (v *AccountView) Key() types.Pubkey {
	var p types.Pubkey
	copy(p[:], v.key)
	return p
}

// Owner returns the owning-program identity.
func (v *AccountView) Owner() types.Pubkey {
	var p types.Pubkey
	copy(p[:], v.owner)
	return p
}

// Balance returns the account balance, read in place from the buffer.
func (v *AccountView) Balance() int64 {
	return int64(binary.LittleEndian.Uint64(v.balance))
}

// SetBalance writes the account balance in place. The new value is visible
// to the host and to every view aliasing this account.
func (v *AccountView) SetBalance(n int64) {
	binary.LittleEndian.PutUint64(v.balance, uint64(n))
}

// AddBalance adjusts the account balance by delta.
func (v *AccountView) AddBalance(delta int64) {
	v.SetBalance(v.Balance() + delta)
}

// Data returns the account's storage region. The slice aliases the input
// buffer; writes through it are in-place mutations.
func (v *AccountView) Data() []byte {
	return v.data
}

// SharesBackingWith reports whether two views reference the same underlying
// account storage. The balance region is always present, so its address
// identifies the backing memory even for accounts with empty data.
func (v *AccountView) SharesBackingWith(o *AccountView) bool {
	return &v.balance[0] == &o.balance[0]
}

// Frame is the decoded result of one invocation's input buffer: an ordered
// sequence of account views plus the instruction payload. Order is
// meaningful; it encodes the caller-assigned indices referenced by
// instruction data. A frame lives exactly as long as its invocation.
type Frame struct {
	accounts []AccountView
	ix       []byte
	byKey    map[types.Pubkey]int // first position per identity
}

// NumAccounts returns the number of account views in the frame.
func (f *Frame) NumAccounts() int {
	return len(f.accounts)
}

// Account returns the view at position i.
func (f *Frame) Account(i int) *AccountView {
	return &f.accounts[i]
}

// AccountByKey returns the first view with the given identity.
func (f *Frame) AccountByKey(key types.Pubkey) (*AccountView, bool) {
	i, ok := f.byKey[key]
	if !ok {
		return nil, false
	}
	return &f.accounts[i], true
}

// InstructionData returns the instruction payload. By convention it is not
// mutated, although it physically aliases the input buffer.
func (f *Frame) InstructionData() []byte {
	return f.ix
}

// SetPrivileges records the privileges granted for the account at position i.
func (f *Frame) SetPrivileges(i int, signer, writable bool) {
	f.accounts[i].Signer = signer
	f.accounts[i].Writable = writable
}

// FrameFromViews assembles a frame from existing account views. This is how
// a nested invocation's frame is built: the callee's views share the
// caller's backing bytes, so no re-serialization happens across the call
// boundary.
func FrameFromViews(views []AccountView, instructionData []byte) *Frame {
	f := &Frame{
		accounts: views,
		ix:       instructionData,
		byKey:    make(map[types.Pubkey]int, len(views)),
	}
	for i := range views {
		key := views[i].Key()
		if _, ok := f.byKey[key]; !ok {
			f.byKey[key] = i
		}
	}
	return f
}

// DecodeFrame decodes buf in exact mode: the buffer's declared account
// count must equal expect, otherwise ErrCountMismatch is returned.
func DecodeFrame(buf []byte, expect int) (*Frame, error) {
	f, _, err := decode(buf, expect, true)
	return f, err
}

// DecodeFrameBounded decodes buf in bounded mode: at most max account views
// are produced and the actual decoded count is reported. A buffer declaring
// more accounts than max is truncated, not rejected; the surplus accounts
// are still walked (and bounds-checked) so the instruction payload can be
// located.
func DecodeFrameBounded(buf []byte, max int) (*Frame, int, error) {
	return decode(buf, max, false)
}

func decode(buf []byte, capacity int, exact bool) (*Frame, int, error) {
	c := newCursor(buf)

	declared, err := c.uint64()
	if err != nil {
		return nil, 0, fmt.Errorf("account count: %w", err)
	}
	if exact && declared != uint64(capacity) {
		return nil, 0, fmt.Errorf("%w: buffer declares %d accounts, expected %d",
			ErrCountMismatch, declared, capacity)
	}

	keep := declared
	if !exact && keep > uint64(capacity) {
		keep = uint64(capacity)
	}

	f := &Frame{
		accounts: make([]AccountView, 0, keep),
		byKey:    make(map[types.Pubkey]int, keep),
	}

	for i := uint64(0); i < declared; i++ {
		key, err := c.take(KeySize)
		if err != nil {
			return nil, 0, fmt.Errorf("account %d identity: %w", i, err)
		}
		balance, err := c.take(wordSize)
		if err != nil {
			return nil, 0, fmt.Errorf("account %d balance: %w", i, err)
		}
		dataLen, err := c.uint64()
		if err != nil {
			return nil, 0, fmt.Errorf("account %d data length: %w", i, err)
		}
		if dataLen > uint64(c.remaining()) {
			return nil, 0, fmt.Errorf("account %d: %w: declared data length %d exceeds remaining %d",
				i, ErrShortBuffer, dataLen, c.remaining())
		}
		data, err := c.take(int(dataLen))
		if err != nil {
			return nil, 0, fmt.Errorf("account %d data: %w", i, err)
		}
		owner, err := c.take(KeySize)
		if err != nil {
			return nil, 0, fmt.Errorf("account %d owner: %w", i, err)
		}

		if uint64(len(f.accounts)) == keep {
			// Over bounded capacity: walked for framing only.
			continue
		}

		v := AccountView{key: key, balance: balance, data: data, owner: owner}
		pk := v.Key()
		if j, ok := f.byKey[pk]; ok {
			// Duplicate account: rewire to the first occurrence's storage so
			// both positions alias the same backing memory. The first
			// occurrence's wire region stays authoritative on return.
			v.balance = f.accounts[j].balance
			v.data = f.accounts[j].data
		} else {
			f.byKey[pk] = len(f.accounts)
		}
		f.accounts = append(f.accounts, v)
	}

	ixLen, err := c.uint64()
	if err != nil {
		return nil, 0, fmt.Errorf("instruction data length: %w", err)
	}
	if ixLen > uint64(c.remaining()) {
		return nil, 0, fmt.Errorf("%w: declared instruction data length %d exceeds remaining %d",
			ErrShortBuffer, ixLen, c.remaining())
	}
	f.ix, err = c.take(int(ixLen))
	if err != nil {
		return nil, 0, fmt.Errorf("instruction data: %w", err)
	}

	return f, len(f.accounts), nil
}
