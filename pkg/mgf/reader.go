package mgf

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// File is a validated view over an MGF container.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	mmapped  bool
}

// maxImage caps containers at what an int-indexed []byte can address.
const maxImage = int64(int(^uint(0) >> 1))

// Open maps an MGF file read-only and validates its structure, falling
// back to plain reads where mmap is unavailable. The returned file must
// be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < mgfHeaderSize || size > maxImage {
		return nil, ErrCorruptFile
	}

	if data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED); err == nil {
		mf, err := newFile(data, true)
		if err != nil {
			_ = unix.Munmap(data)
			return nil, err
		}
		return mf, nil
	}
	return OpenReaderAt(f, size)
}

// OpenBytes validates an in-memory MGF image. The returned File aliases data.
func OpenBytes(data []byte) (*File, error) {
	return newFile(data, false)
}

// OpenReaderAt loads and validates an MGF from a random-access reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > maxImage {
		return nil, ErrCorruptFile
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, size), data); err != nil {
		return nil, err
	}
	return newFile(data, false)
}

func newFile(data []byte, mmapped bool) (*File, error) {
	hdr, err := checkHeader(data)
	if err != nil {
		return nil, err
	}
	sections, err := readDirectory(data, hdr)
	if err != nil {
		return nil, err
	}
	return &File{Data: data, Header: hdr, Sections: sections, mmapped: mmapped}, nil
}

func checkHeader(data []byte) (*Header, error) {
	if len(data) < mgfHeaderSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:mgfHeaderSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	switch {
	case !hdr.Valid():
		return nil, ErrInvalidMagic
	case !hdr.Compatible():
		return nil, ErrUnsupportedMajor
	case hdr.FileSize != uint64(len(data)):
		return nil, fmt.Errorf("%w: header claims %d bytes, file has %d", ErrCorruptFile, hdr.FileSize, len(data))
	case hdr.HeaderSize < mgfHeaderSize || uint64(hdr.HeaderSize) > uint64(len(data)):
		return nil, fmt.Errorf("%w: header size %d out of range", ErrCorruptFile, hdr.HeaderSize)
	}
	return &hdr, nil
}

// readDirectory decodes the section directory, validating each entry as it
// goes: in bounds, past the header, aligned, and clear of the directory
// itself.
func readDirectory(data []byte, hdr *Header) ([]Section, error) {
	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*mgfSectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: section directory out of range", ErrCorruptFile)
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		entry := int(dirStart) + i*mgfSectionSize
		sec, ok := decodeSection(data[entry : entry+mgfSectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		end := sec.Offset + sec.Size
		switch {
		case sec.Size > uint64(len(data)) || end < sec.Offset || end > uint64(len(data)):
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		case sec.Offset < uint64(hdr.HeaderSize):
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(sec.Offset, end, dirStart, dirEnd):
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		case sec.Offset%mgfAlign != 0:
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, mgfAlign)
		}
		sections[i] = sec
	}
	return sections, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.mmapped && f.Data != nil {
		err = unix.Munmap(f.Data)
	}
	*f = File{}
	return err
}

// Section returns the first section matching the given type, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice covering the section payload.
// The caller must not retain this slice after File.Close().
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.Offset + s.Size
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[s.Offset:end]
}
