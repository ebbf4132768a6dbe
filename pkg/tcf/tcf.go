// Package tcf implements the Tensor Container File format.
//
// A TCF file is a single, memory-mappable container of named sections. It is
// used both for the variables of an interchange artifact and for edge
// artifacts. The container describes structure and data only; the meaning of
// each section belongs to the package that writes it.
package tcf

import "encoding/binary"

// TCF global constants must never change.
const (
	// MagicTCF is the file magic for all TCF containers, encoded as "TCF\0".
	MagicTCF = "TCF\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagTensorDataAligned64 marks files whose tensor payloads start on 64-byte boundaries.
	FlagTensorDataAligned64 uint64 = 1 << 0
)

const (
	tcfHeaderSize  = 40
	tcfSectionSize = 24
	tcfAlign       = 8
)

type SectionType uint32

const (
	SectionMetadata    SectionType = 0x0001
	SectionGraph       SectionType = 0x0002
	SectionTensorIndex SectionType = 0x0003
	SectionTensorData  SectionType = 0x0004
)

func (t SectionType) String() string {
	switch t {
	case SectionMetadata:
		return "metadata"
	case SectionGraph:
		return "graph"
	case SectionTensorIndex:
		return "tensor_index"
	case SectionTensorData:
		return "tensor_data"
	default:
		return "unknown"
	}
}

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == MagicTCF && h.HeaderSize >= tcfHeaderSize && h.SectionCount > 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < tcfHeaderSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	if len(src) < tcfHeaderSize {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < tcfSectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < tcfSectionSize {
		return Section{}, false
	}
	return Section{
		Type:    binary.LittleEndian.Uint32(src[0:4]),
		Version: binary.LittleEndian.Uint32(src[4:8]),
		Offset:  binary.LittleEndian.Uint64(src[8:16]),
		Size:    binary.LittleEndian.Uint64(src[16:24]),
	}, true
}

// half-open ranges [a0,a1) and [b0,b1)
func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}
