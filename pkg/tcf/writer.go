package tcf

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const writerPadBufSize = 4096

var (
	errFinalised     = errors.New("tcf: writer already finalised")
	errSectionOpen   = errors.New("tcf: section write in progress")
	errDuplicate     = errors.New("tcf: duplicate section type")
	errSectionEnded  = errors.New("tcf: section writer ended")
	errSectionIdle   = errors.New("tcf: section writer not active")
	errBadFileOffset = errors.New("tcf: invalid file position")
)

// Writer builds a TCF file in a streaming fashion.
//
// Space for the header is reserved up-front and patched by Finalise. Large
// payloads such as tensor data go through BeginSection so they are never
// buffered in memory.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool
	flags    uint64
	padBuf   []byte

	mu sync.Mutex
}

// SectionWriter streams one section payload to the underlying file.
// It must be ended before any other section is written.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("tcf: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}
	if err := w.writeZeros(tcfHeaderSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(tcfAlign); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) checkWritable(typ SectionType) error {
	if w.closed {
		return errFinalised
	}
	if w.open != nil {
		return errSectionOpen
	}
	if _, ok := w.seen[typ]; ok {
		return errDuplicate
	}
	return nil
}

// WriteSection writes a buffered section payload. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkWritable(typ); err != nil {
		return err
	}
	if err := w.alignTo(tcfAlign); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := writeFull(w.f, data); err != nil {
		return err
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errFinalised
	}
	w.flags |= flags
	return nil
}

// BeginSection starts streaming a section payload.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkWritable(typ); err != nil {
		return nil, err
	}
	if err := w.alignTo(tcfAlign); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	// Bytes for this type are on disk from here on; it cannot be written again.
	w.seen[typ] = struct{}{}
	return sw, nil
}

func (sw *SectionWriter) active() error {
	if sw.ended {
		return errSectionEnded
	}
	if sw.w.open != sw {
		return errSectionIdle
	}
	return nil
}

// Offset returns the current absolute file offset.
func (sw *SectionWriter) Offset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Align pads with zeros until the file position is a multiple of n.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	return sw.w.alignTo(int64(n))
}

func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	if err := writeFull(sw.w.f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End records the section in the section directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errBadFileOffset
	}

	sw.w.sections = append(sw.w.sections, Section{
		Type:    uint32(sw.typ),
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})
	sw.w.open = nil
	sw.ended = true
	return nil
}

// Close is an alias for End, allowing use with defer.
func (sw *SectionWriter) Close() error { return sw.End() }

// Finalise writes the section directory, patches the header and syncs the file.
// The writer must not be used afterwards.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errFinalised
	}
	if w.open != nil {
		return errSectionOpen
	}
	if len(w.sections) == 0 {
		return errors.New("tcf: no sections written")
	}
	w.closed = true

	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(tcfAlign); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [tcfSectionSize]byte
	for i := range w.sections {
		encodeSection(secBuf[:], w.sections[i])
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	hdr := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       tcfHeaderSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: uint64(dirOffset),
		FileSize:         uint64(fileSize),
		Flags:            w.flags,
	}
	copy(hdr.Magic[:], MagicTCF)

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [tcfHeaderSize]byte
	encodeHeader(hdrBuf[:], hdr)
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if mod := pos % n; mod != 0 {
		return w.writeZeros(int(n - mod))
	}
	return nil
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := min(n, len(w.padBuf))
		if err := writeFull(w.f, w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
