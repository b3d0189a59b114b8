// internal/utils/binary/binary.go
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// ErrShortBuffer is returned when an account buffer is smaller than a layout needs.
var ErrShortBuffer = errors.New("buffer too short")

// PubKeySize is the encoded size of a Solana public key.
const PubKeySize = 32

// Require checks that data holds at least n bytes.
// Layout parsers call it once up front so the accessors below never index past the end.
func Require(data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(data), n)
	}
	return nil
}

// ReadUint8 reads a single byte
func ReadUint8(data []byte, offset int) uint8 {
	return data[offset]
}

// ReadUint16LittleEndian reads a uint16 from a byte slice in little-endian format
func ReadUint16LittleEndian(data []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(data[offset : offset+2])
}

// ReadInt32LittleEndian reads a signed int32 (tick indexes) in little-endian format
func ReadInt32LittleEndian(data []byte, offset int) int32 {
	return int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
}

// ReadUint64LittleEndian reads a uint64 from a byte slice in little-endian format
func ReadUint64LittleEndian(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

// ReadUint128LittleEndian reads a u128 (low word first) into a big.Int.
func ReadUint128LittleEndian(data []byte, offset int) *big.Int {
	lo := binary.LittleEndian.Uint64(data[offset : offset+8])
	hi := binary.LittleEndian.Uint64(data[offset+8 : offset+16])

	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(lo))
}

// ReadPubKey reads a Solana public key from a byte slice
func ReadPubKey(data []byte, offset int) solana.PublicKey {
	return solana.PublicKeyFromBytes(data[offset : offset+PubKeySize])
}

// HasPrefix reports whether data starts with the given discriminator.
func HasPrefix(data, discriminator []byte) bool {
	if len(data) < len(discriminator) {
		return false
	}
	for i := range discriminator {
		if data[i] != discriminator[i] {
			return false
		}
	}
	return true
}

// WriteUint8 writes a single byte
func WriteUint8(val uint8, data []byte, offset int) {
	data[offset] = val
}

// WriteUint16LittleEndian writes a uint16 to a byte slice in little-endian format
func WriteUint16LittleEndian(val uint16, data []byte, offset int) {
	binary.LittleEndian.PutUint16(data[offset:offset+2], val)
}

// WriteInt32LittleEndian writes a signed int32 in little-endian format
func WriteInt32LittleEndian(val int32, data []byte, offset int) {
	binary.LittleEndian.PutUint32(data[offset:offset+4], uint32(val))
}

// WriteUint64LittleEndian writes a uint64 to a byte slice in little-endian format
func WriteUint64LittleEndian(val uint64, data []byte, offset int) {
	binary.LittleEndian.PutUint64(data[offset:offset+8], val)
}

// WriteUint128LittleEndian writes a non-negative big.Int below 2^128 as a u128.
func WriteUint128LittleEndian(val *big.Int, data []byte, offset int) {
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(val, mask).Uint64()
	hi := new(big.Int).Rsh(val, 64).Uint64()
	binary.LittleEndian.PutUint64(data[offset:offset+8], lo)
	binary.LittleEndian.PutUint64(data[offset+8:offset+16], hi)
}

// WritePubKey writes a Solana public key to a byte slice
func WritePubKey(key solana.PublicKey, data []byte, offset int) {
	copy(data[offset:offset+PubKeySize], key[:])
}
