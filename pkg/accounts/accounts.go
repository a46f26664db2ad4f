// Package accounts stores the account state the host lends to program
// invocations.
//
// The store holds the authoritative copy of every account between
// invocations. The invoker loads accounts from here, serializes them into
// an input buffer, and commits the mutated fields back after a successful
// invocation. Two implementations are provided: an in-memory map for tests
// and short-lived harnesses, and a BadgerDB-backed store for persistence.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/fortiblox/X1-Sealevel/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("accounts store closed")

	// ErrInvalidData is returned when a stored account record is malformed.
	ErrInvalidData = errors.New("invalid account record")
)

// MaxDataSize caps a single account's data region.
const MaxDataSize = 10 * 1024 * 1024

// Account is the stored state of a single account.
type Account struct {
	// Balance is the account's native value, in base units. The wire
	// format carries it as a signed 64-bit integer.
	Balance int64

	// Data is the program-owned storage region.
	Data []byte

	// Owner is the program that owns this account. Only the owner may
	// modify Data during an invocation unless the account was passed
	// writable.
	Owner types.Pubkey
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Balance: a.Balance,
		Data:    dataCopy,
		Owner:   a.Owner,
	}
}

// IsZero returns true if the account has no balance and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Balance == 0 && len(a.Data) == 0
}

// Size returns the serialized size of the account record.
func (a *Account) Size() int {
	// 8 (balance) + 8 (data_len) + data + 32 (owner)
	return 8 + 8 + len(a.Data) + types.PubkeySize
}

// Serialize encodes the account for storage.
// Format: balance (8, LE signed) + data_len (8) + data + owner (32).
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], uint64(a.Balance))
	off += 8

	binary.LittleEndian.PutUint64(buf[off:], uint64(len(a.Data)))
	off += 8

	copy(buf[off:], a.Data)
	off += len(a.Data)

	copy(buf[off:], a.Owner[:])

	return buf
}

// DeserializeAccount decodes a stored account record.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 8+8+types.PubkeySize {
		return nil, ErrInvalidData
	}

	off := 0
	balance := int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8

	dataLen := binary.LittleEndian.Uint64(data[off:])
	off += 8

	if dataLen > MaxDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)-off) < dataLen+types.PubkeySize {
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[off:off+int(dataLen)])
	off += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[off:off+types.PubkeySize])

	return &Account{
		Balance: balance,
		Data:    accountData,
		Owner:   owner,
	}, nil
}

// DB is the account store interface.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no balance and no data), it is deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// IterateAccounts visits every account in ascending pubkey order.
	// Returning an error from the callback stops iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// Commit persists pending changes.
	Commit() error

	// Close closes the store.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	accounts map[types.Pubkey]*Account
	closed   bool
}

// NewMemoryDB creates a new in-memory account store.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	if m.closed {
		return ErrClosed
	}
	if account.IsZero() {
		delete(m.accounts, pubkey)
		return nil
	}
	m.accounts[pubkey] = account.Clone()
	return nil
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// IterateAccounts visits every account in ascending pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if m.closed {
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		for b := 0; b < types.PubkeySize; b++ {
			if keys[i][b] != keys[j][b] {
				return keys[i][b] < keys[j][b]
			}
		}
		return false
	})
	for _, k := range keys {
		if err := fn(k, m.accounts[k].Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Commit is a no-op for MemoryDB.
func (m *MemoryDB) Commit() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the store.
func (m *MemoryDB) Close() error {
	m.closed = true
	m.accounts = nil
	return nil
}

// Verify that MemoryDB implements DB.
var _ DB = (*MemoryDB)(nil)
