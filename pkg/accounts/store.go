package accounts

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/X1-Sealevel/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount is the prefix for account records.
	// Key format: prefixAccount + pubkey (32 bytes)
	prefixAccount = []byte{0x01}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x02}

	// metaAccountsCount is the key for the accounts count.
	metaAccountsCount = append(prefixMeta, []byte("count")...)
)

// BadgerDBConfig contains configuration for the BadgerDB-backed store.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	// Setting to false improves performance but risks data loss on crash.
	SyncWrites bool

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:       path,
		InMemory:   false,
		SyncWrites: false,
		Logger:     nil,
	}
}

// BadgerDB is a BadgerDB-backed implementation of the account store,
// persisting account state across invocations.
//
// Accounts are stored with a one-byte prefix plus the 32-byte pubkey as
// the key and the compact binary record as the value. The account count is
// cached in memory and persisted under a metadata key on Commit.
type BadgerDB struct {
	db *badger.DB

	// accountsCount is cached in memory.
	accountsCount atomic.Uint64

	// mu protects concurrent writes.
	mu sync.RWMutex

	// closed indicates if the database is closed.
	closed atomic.Bool
}

// NewBadgerDB creates a new BadgerDB-backed account store.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return bdb, nil
}

// loadMetadata loads the account count from disk.
func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaAccountsCount)
		if err == badger.ErrKeyNotFound {
			b.accountsCount.Store(0)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				b.accountsCount.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

// accountKey returns the BadgerDB key for an account.
func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acc, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores an account. Zero accounts are deleted.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccountLocked(pubkey)
	if err != nil {
		return err
	}

	if account.IsZero() {
		if exists {
			err := b.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(accountKey(pubkey))
			})
			if err != nil {
				return err
			}
			b.accountsCount.Add(^uint64(0)) // Decrement
		}
		return nil
	}

	data := account.Serialize()
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(pubkey), data)
	})
	if err != nil {
		return err
	}
	if !exists {
		b.accountsCount.Add(1)
	}
	return nil
}

// DeleteAccount removes an account.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccountLocked(pubkey)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(pubkey))
	})
	if err != nil {
		return err
	}
	b.accountsCount.Add(^uint64(0)) // Decrement
	return nil
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasAccountLocked(pubkey)
}

// hasAccountLocked checks if an account exists (caller must hold lock).
func (b *BadgerDB) hasAccountLocked(pubkey types.Pubkey) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// IterateAccounts visits all accounts in ascending pubkey order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit persists the cached metadata.
func (b *BadgerDB) Commit() error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		countBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(countBuf, b.accountsCount.Load())
		return txn.Set(metaAccountsCount, countBuf)
	})
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

// Verify that BadgerDB implements DB.
var _ DB = (*BadgerDB)(nil)
