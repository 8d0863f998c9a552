// Package codec reads and writes nanoMIPS instructions in section content,
// handling the 16-bit half-swap little-endian encoding uses so that an
// instruction's opcode half always comes first regardless of host
// endianness.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

// ErrBadSize is returned for any instruction size other than 2, 4 or 6.
var ErrBadSize = fmt.Errorf("codec: instruction size must be 2, 4 or 6 bytes")

// shuffle32 swaps the two 16-bit halves of a 32-bit word read from a
// little-endian buffer, so that the half holding the opcode always sorts
// first. Big-endian buffers are already in that order.
func shuffle32(e objfile.Endianness, v uint32) uint32 {
	if e == objfile.LittleEndian {
		return (v << 16) | (v >> 16)
	}
	return v
}

// ReadInsn decodes the insnSize-byte instruction at content[off:].
//
// A 6-byte instruction's relocatable field lives in a trailing 32-bit
// immediate, and its relocation offset points at that tail. For size 6,
// off is the instruction start (relocation offset minus 2, as
// section.Rewriter passes it) and only the leading 16-bit opcode half is
// read; the tail is written separately with WriteImm48.
//
// Sizes 2 and 6 read a fixed big-endian 16-bit half regardless of e: the
// original's read16 takes no endianness template parameter, unlike
// readShuffle32<E>, because the 16-bit opcode half is always stored
// byte-order-true on the wire. Only the 4-byte case's half-swap varies
// with the link's configured endianness.
func ReadInsn(e objfile.Endianness, content []byte, off int64, insnSize int) (uint64, error) {
	if off < 0 || int64(len(content)) < off+int64(insnSize) {
		return 0, fmt.Errorf("codec: read at %d size %d out of range (len %d)", off, insnSize, len(content))
	}
	switch insnSize {
	case 6, 2:
		return uint64(binary.BigEndian.Uint16(content[off:])), nil
	case 4:
		raw := binary.BigEndian.Uint32(content[off:])
		return uint64(shuffle32(e, raw)), nil
	default:
		return 0, ErrBadSize
	}
}

// WriteInsn encodes insn back into content[off:] as an insnSize-byte value.
// See ReadInsn for why sizes 2 and 6 ignore e.
func WriteInsn(e objfile.Endianness, content []byte, off int64, insn uint64, insnSize int) error {
	if off < 0 || int64(len(content)) < off+int64(insnSize) {
		return fmt.Errorf("codec: write at %d size %d out of range (len %d)", off, insnSize, len(content))
	}
	switch insnSize {
	case 6, 2:
		binary.BigEndian.PutUint16(content[off:], uint16(insn))
		return nil
	case 4:
		shuffled := shuffle32(e, uint32(insn))
		binary.BigEndian.PutUint32(content[off:], shuffled)
		return nil
	default:
		return ErrBadSize
	}
}

// WriteImm48 writes the 32-bit immediate tail of a 48-bit instruction at
// off. Unlike the 4-byte opcode word, a big-endian target is the one that
// needs its half-words swapped here: the tail's low 16 bits are stored
// first (15..0, then 31..16) on little-endian targets already, the
// opposite convention from a plain 32-bit instruction word.
func WriteImm48(e objfile.Endianness, content []byte, off int64, val uint32) error {
	if off < 0 || int64(len(content)) < off+4 {
		return fmt.Errorf("codec: write48 at %d out of range (len %d)", off, len(content))
	}
	if e == objfile.BigEndian {
		lo := uint16(val)
		hi := uint16(val >> 16)
		binary.BigEndian.PutUint16(content[off:], lo)
		binary.BigEndian.PutUint16(content[off+2:], hi)
		return nil
	}
	binary.LittleEndian.PutUint32(content[off:], val)
	return nil
}

// PageMask truncates an address to its containing 4KiB page, the operation
// R_NANOMIPS_PC_HI20 resolution anchors on.
func PageMask(addr uint64) uint64 {
	return addr &^ 0xFFF
}
