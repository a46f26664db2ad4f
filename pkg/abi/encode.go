package abi

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Sealevel/internal/types"
)

// AccountParams describes one account for host-side frame encoding.
// Duplicated account references are encoded as-is at each position; the
// decoder rewires later occurrences onto the first one.
type AccountParams struct {
	Key     types.Pubkey
	Owner   types.Pubkey
	Balance int64
	Data    []byte
}

// FrameSize returns the exact serialized size of a frame holding the given
// accounts and instruction data.
func FrameSize(accounts []AccountParams, instructionData []byte) int {
	size := wordSize // account count
	for i := range accounts {
		size += KeySize + wordSize + wordSize + len(accounts[i].Data) + KeySize
	}
	size += wordSize + len(instructionData)
	return size
}

// EncodeFrame serializes accounts and instruction data into a freshly
// allocated input buffer in the wire layout consumed by DecodeFrame.
func EncodeFrame(accounts []AccountParams, instructionData []byte) []byte {
	buf := make([]byte, FrameSize(accounts, instructionData))
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], uint64(len(accounts)))
	off += wordSize

	for i := range accounts {
		acc := &accounts[i]

		copy(buf[off:], acc.Key[:])
		off += KeySize

		binary.LittleEndian.PutUint64(buf[off:], uint64(acc.Balance))
		off += wordSize

		binary.LittleEndian.PutUint64(buf[off:], uint64(len(acc.Data)))
		off += wordSize

		copy(buf[off:], acc.Data)
		off += len(acc.Data)

		copy(buf[off:], acc.Owner[:])
		off += KeySize
	}

	binary.LittleEndian.PutUint64(buf[off:], uint64(len(instructionData)))
	off += wordSize
	copy(buf[off:], instructionData)

	return buf
}
