package tcf

import (
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// File is an opened container. Data and every slice derived from it stay
// valid until Close.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section

	byType  map[SectionType]int
	mmapped bool
}

// Open maps path read-only and validates the header, the section directory
// and the section set. Files that cannot be mapped are read into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size, err := containerSize(st.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return OpenReaderAt(f, st.Size())
	}
	tf, err := parse(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tf.mmapped = true
	return tf, nil
}

// OpenReaderAt copies size bytes from r and validates them like Open.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	n, err := containerSize(size)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, size), data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	return parse(data)
}

func containerSize(size int64) (int, error) {
	if size < tcfHeaderSize || uint64(size) > math.MaxInt {
		return 0, fmt.Errorf("%w: %d bytes", ErrCorruptFile, size)
	}
	return int(size), nil
}

func parse(data []byte) (*File, error) {
	hdr, ok := decodeHeader(data)
	switch {
	case !ok:
		return nil, ErrCorruptFile
	case !hdr.Valid():
		return nil, ErrInvalidMagic
	case !hdr.Compatible():
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedMajor, hdr.Major, hdr.Minor)
	case hdr.FileSize != uint64(len(data)):
		return nil, fmt.Errorf("%w: header records %d bytes, file has %d", ErrCorruptFile, hdr.FileSize, len(data))
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*tcfSectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: section directory out of bounds", ErrCorruptFile)
	}

	tf := &File{
		Data:     data,
		Header:   &hdr,
		Sections: make([]Section, 0, hdr.SectionCount),
		byType:   make(map[SectionType]int, hdr.SectionCount),
	}
	for off := dirStart; off < dirEnd; off += tcfSectionSize {
		s, _ := decodeSection(data[off : off+tcfSectionSize])
		typ := SectionType(s.Type)
		if err := checkPlacement(s, hdr, dirStart, dirEnd, uint64(len(data))); err != nil {
			return nil, fmt.Errorf("%w: %s section: %s", ErrCorruptFile, typ, err)
		}
		if _, dup := tf.byType[typ]; dup {
			return nil, fmt.Errorf("%w: duplicate %s section", ErrCorruptFile, typ)
		}
		tf.byType[typ] = len(tf.Sections)
		tf.Sections = append(tf.Sections, s)
	}

	// WriteTensors emits the index and its payloads together.
	_, hasIndex := tf.byType[SectionTensorIndex]
	_, hasData := tf.byType[SectionTensorData]
	if hasIndex != hasData {
		return nil, fmt.Errorf("%w: tensor index and tensor data sections must appear together", ErrCorruptFile)
	}
	return tf, nil
}

func checkPlacement(s Section, hdr Header, dirStart, dirEnd, size uint64) error {
	end := s.End()
	switch {
	case end < s.Offset || end > size:
		return fmt.Errorf("[%d,%d) past end of file", s.Offset, end)
	case s.Offset < uint64(hdr.HeaderSize):
		return fmt.Errorf("offset %d inside header", s.Offset)
	case rangesOverlap(s.Offset, end, dirStart, dirEnd):
		return fmt.Errorf("overlaps section directory")
	case s.Offset%tcfAlign != 0:
		return fmt.Errorf("offset %d not %d-byte aligned", s.Offset, tcfAlign)
	}
	return nil
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.Data != nil && f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data, f.Header, f.Sections, f.byType = nil, nil, nil, nil
	f.mmapped = false
	return err
}

// Section returns the section of the given type, or nil.
func (f *File) Section(t SectionType) *Section {
	if f == nil {
		return nil
	}
	i, ok := f.byType[t]
	if !ok {
		return nil
	}
	return &f.Sections[i]
}

// SectionData returns a zero-copy slice of the section payload.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	return f.Data[s.Offset:s.End()]
}

// Payload is SectionData for the section of type t; nil when absent.
func (f *File) Payload(t SectionType) []byte {
	return f.SectionData(f.Section(t))
}
