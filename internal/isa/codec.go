package isa

import "encoding/binary"

// EncodeFlags packs two addressing modes into the single flags byte that
// precedes every opcode: high nibble is arg1's mode, low nibble is arg2's.
func EncodeFlags(mode1, mode2 Mode) byte {
	return byte(mode1)<<4 | byte(mode2)&0x0F
}

// ExtractMode1 pulls the arg1 mode out of a previously encoded flags byte.
func ExtractMode1(flags byte) Mode {
	return Mode(flags >> 4 & 0x0F)
}

// ExtractMode2 pulls the arg2 mode out of a previously encoded flags byte.
func ExtractMode2(flags byte) Mode {
	return Mode(flags & 0x0F)
}

// EncodeHeader packs an instruction's two addressing modes and opcode into
// the 2-byte header: flags in the high byte, opcode in the low byte.
func EncodeHeader(mode1, mode2 Mode, op Opcode) uint16 {
	return uint16(EncodeFlags(mode1, mode2))<<8 | uint16(op)
}

// DecodeHeader is the inverse of EncodeHeader.
func DecodeHeader(header uint16) (mode1, mode2 Mode, op Opcode) {
	flags := byte(header >> 8)
	return ExtractMode1(flags), ExtractMode2(flags), Opcode(header & 0xFF)
}

// ReadInt32 reads a little-endian signed 32-bit value from b at offset.
func ReadInt32(b []byte, offset int) int32 {
	return int32(binary.LittleEndian.Uint32(b[offset : offset+4]))
}

// WriteInt32 writes v as little-endian bytes into b at offset.
func WriteInt32(b []byte, offset int, v int32) {
	binary.LittleEndian.PutUint32(b[offset:offset+4], uint32(v))
}

// AddInt32 adds v to the little-endian int32 already stored in b at offset.
// The assembler's patch phase treats every placeholder slot as additive:
// the slot starts at zero so this is equivalent to an overwrite for a plain
// label/variable reference, and correctly folds in a pre-computed
// `+expr`/`-expr` offset that was written before patching ran.
func AddInt32(b []byte, offset int, v int32) {
	WriteInt32(b, offset, ReadInt32(b, offset)+v)
}

// ReadInt16 reads a little-endian signed 16-bit value from b at offset.
func ReadInt16(b []byte, offset int) int16 {
	return int16(binary.LittleEndian.Uint16(b[offset : offset+2]))
}

// WriteInt16 writes v as little-endian bytes into b at offset.
func WriteInt16(b []byte, offset int, v int16) {
	binary.LittleEndian.PutUint16(b[offset:offset+2], uint16(v))
}
