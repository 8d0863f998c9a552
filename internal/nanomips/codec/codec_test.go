package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

func TestReadWriteInsn32RoundTripLittleEndian(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, buf, 0, 0x12345678, 4))

	got, err := codec.ReadInsn(objfile.LittleEndian, buf, 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0x12345678), got)
}

func TestReadWriteInsn32RoundTripBigEndian(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, codec.WriteInsn(objfile.BigEndian, buf, 0, 0xCAFEBABE, 4))

	got, err := codec.ReadInsn(objfile.BigEndian, buf, 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0xCAFEBABE), got)
}

func TestInsn32LittleEndianHalfSwapOnWire(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, buf, 0, 0x0000C000, 4))
	require.Equal(t, []byte{0xC0, 0x00, 0x00, 0x00}, buf)
}

func TestReadWriteInsn16(t *testing.T) {
	buf := make([]byte, 2)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, buf, 0, 0x9008, 2))

	got, err := codec.ReadInsn(objfile.LittleEndian, buf, 0, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(0x9008), got)
}

func TestReadWriteInsn16FixedBigEndianRegardlessOfLinkEndian(t *testing.T) {
	buf := make([]byte, 2)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, buf, 0, 0x9008, 2))
	require.Equal(t, []byte{0x90, 0x08}, buf, "size-2 writes must stay big-endian on the wire even on a little-endian link")

	got, err := codec.ReadInsn(objfile.BigEndian, buf, 0, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(0x9008), got, "a little-endian write must read back identically under a big-endian configured read")
}

func TestWriteInsnBadSize(t *testing.T) {
	buf := make([]byte, 8)
	err := codec.WriteInsn(objfile.LittleEndian, buf, 0, 0, 3)
	require.ErrorIs(t, err, codec.ErrBadSize)
}

func TestReadInsnOutOfRange(t *testing.T) {
	buf := make([]byte, 2)
	_, err := codec.ReadInsn(objfile.LittleEndian, buf, 0, 4)
	require.Error(t, err)
}

func TestWriteImm48LittleEndian(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, codec.WriteImm48(objfile.LittleEndian, buf, 0, 0xAABBCCDD))
	require.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA}, buf)
}

func TestWriteImm48BigEndianHalfSwap(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, codec.WriteImm48(objfile.BigEndian, buf, 0, 0xAABBCCDD))
	require.Equal(t, []byte{0xCC, 0xDD, 0xAA, 0xBB}, buf)
}

func TestPageMask(t *testing.T) {
	require.Equal(t, uint64(0x1000), codec.PageMask(0x1ABC))
	require.Equal(t, uint64(0), codec.PageMask(0xFFF))
}
