package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Sealevel/internal/types"
)

// Snapshot container framing.
var (
	snapshotMagic = []byte("XSLVSNAP")

	// ErrBadSnapshot is returned when a snapshot stream is malformed.
	ErrBadSnapshot = errors.New("accounts: malformed snapshot")
)

const snapshotVersion = uint32(1)

// WriteSnapshot serializes the full account state to w as a
// zstd-compressed stream. Layout after the uncompressed magic+version
// header: [u64 count] then count records of
// [32 pubkey][u64 record_len][record].
func WriteSnapshot(db DB, w io.Writer) error {
	if _, err := w.Write(snapshotMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], snapshotVersion)
	if _, err := w.Write(ver[:]); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	count, err := db.AccountsCount()
	if err != nil {
		enc.Close()
		return err
	}
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], count)
	if _, err := enc.Write(word[:]); err != nil {
		enc.Close()
		return fmt.Errorf("write count: %w", err)
	}

	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		if _, err := enc.Write(pubkey[:]); err != nil {
			return err
		}
		rec := account.Serialize()
		binary.LittleEndian.PutUint64(word[:], uint64(len(rec)))
		if _, err := enc.Write(word[:]); err != nil {
			return err
		}
		_, err := enc.Write(rec)
		return err
	})
	if err != nil {
		enc.Close()
		return fmt.Errorf("write accounts: %w", err)
	}

	return enc.Close()
}

// ReadSnapshot restores account state from a snapshot stream into db,
// overwriting accounts that already exist.
func ReadSnapshot(db DB, r io.Reader) error {
	header := make([]byte, len(snapshotMagic)+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: short header", ErrBadSnapshot)
	}
	for i, b := range snapshotMagic {
		if header[i] != b {
			return fmt.Errorf("%w: bad magic", ErrBadSnapshot)
		}
	}
	if v := binary.LittleEndian.Uint32(header[len(snapshotMagic):]); v != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var word [8]byte
	if _, err := io.ReadFull(dec, word[:]); err != nil {
		return fmt.Errorf("%w: missing count", ErrBadSnapshot)
	}
	count := binary.LittleEndian.Uint64(word[:])

	for i := uint64(0); i < count; i++ {
		var pubkey types.Pubkey
		if _, err := io.ReadFull(dec, pubkey[:]); err != nil {
			return fmt.Errorf("%w: account %d pubkey", ErrBadSnapshot, i)
		}
		if _, err := io.ReadFull(dec, word[:]); err != nil {
			return fmt.Errorf("%w: account %d record length", ErrBadSnapshot, i)
		}
		recLen := binary.LittleEndian.Uint64(word[:])
		if recLen > MaxDataSize+64 {
			return fmt.Errorf("%w: account %d record length %d", ErrBadSnapshot, i, recLen)
		}
		rec := make([]byte, recLen)
		if _, err := io.ReadFull(dec, rec); err != nil {
			return fmt.Errorf("%w: account %d record", ErrBadSnapshot, i)
		}
		account, err := DeserializeAccount(rec)
		if err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
		if err := db.SetAccount(pubkey, account); err != nil {
			return fmt.Errorf("restore account %s: %w", pubkey, err)
		}
	}
	return nil
}
