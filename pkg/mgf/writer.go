package mgf

import (
	"errors"
	"os"
	"sort"
)

type rawSection struct {
	typ     SectionType
	version uint32
	payload []byte
}

// assemble lays out a complete MGF image: fixed header, aligned section
// payloads, then the section directory, with the header patched last.
// Section order in the directory is sorted by type for determinism.
func assemble(sections []rawSection) ([]byte, error) {
	if len(sections) == 0 {
		return nil, errors.New("mgf: no sections")
	}
	secs := make([]rawSection, len(sections))
	copy(secs, sections)
	sort.Slice(secs, func(i, j int) bool { return secs[i].typ < secs[j].typ })
	for i := 1; i < len(secs); i++ {
		if secs[i].typ == secs[i-1].typ {
			return nil, errors.New("mgf: duplicate section type")
		}
	}

	out := make([]byte, mgfHeaderSize)
	out = padTo(out, mgfAlign)

	dir := make([]Section, 0, len(secs))
	for _, s := range secs {
		out = padTo(out, mgfAlign)
		dir = append(dir, Section{
			Type:    uint32(s.typ),
			Version: s.version,
			Offset:  uint64(len(out)),
			Size:    uint64(len(s.payload)),
		})
		out = append(out, s.payload...)
	}

	out = padTo(out, mgfAlign)
	dirOffset := uint64(len(out))
	var secBuf [mgfSectionSize]byte
	for _, s := range dir {
		if !encodeSection(secBuf[:], s) {
			return nil, errors.New("mgf: encode section failed")
		}
		out = append(out, secBuf[:]...)
	}

	var header Header
	copy(header.Magic[:], MagicMGF)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = mgfHeaderSize
	header.SectionCount = uint32(len(dir))
	header.SectionDirOffset = dirOffset
	header.FileSize = uint64(len(out))
	if !encodeHeader(out[:mgfHeaderSize], header) {
		return nil, errors.New("mgf: encode header failed")
	}
	return out, nil
}

func padTo(b []byte, n int) []byte {
	for len(b)%n != 0 {
		b = append(b, 0)
	}
	return b
}

// WriteFile encodes the model and writes it to path.
func WriteFile(path string, m *Model) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
