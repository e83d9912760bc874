// Package mgf implements the Model Graph Format container.
//
// MGF is a single-file, memory-mappable container for graph-of-operators
// neural network models. It describes graph structure (tensor and operator
// tables), constant buffer payloads and metadata only, and never implies
// runtime behaviour.
package mgf

import "encoding/binary"

const (
	// MagicMGF is the file magic for all MGF containers, encoded as "MGF\0".
	MagicMGF = "MGF\x00"

	// Current Major Version: any change indicates a breaking format change.
	CurrentMajor uint16 = 1

	// Current Minor Version: minors may add new optional sections or fields.
	CurrentMinor uint16 = 0
)

const (
	mgfHeaderSize  = 40
	mgfSectionSize = 24
	mgfAlign       = 8
)

type SectionType uint32

const (
	SectionModelInfo     SectionType = 0x0001
	SectionTensorTable   SectionType = 0x0002
	SectionOperatorTable SectionType = 0x0003
	SectionBufferData    SectionType = 0x0004
)

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

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicMGF {
		return false
	}
	if h.HeaderSize < mgfHeaderSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < mgfHeaderSize {
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
	if len(src) < mgfHeaderSize {
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
	if len(dst) < mgfSectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < mgfSectionSize {
		return Section{}, false
	}
	return Section{
		Type:    binary.LittleEndian.Uint32(src[0:4]),
		Version: binary.LittleEndian.Uint32(src[4:8]),
		Offset:  binary.LittleEndian.Uint64(src[8:16]),
		Size:    binary.LittleEndian.Uint64(src[16:24]),
	}, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}
