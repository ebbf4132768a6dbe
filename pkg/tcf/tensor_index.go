package tcf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// TensorIndexVersion is the on-disk version of the tensor index payload.
const TensorIndexVersion uint32 = 1

const (
	tensorIndexHeaderSize = 48
	tensorIndexEntrySize  = 40
)

// TensorIndex flags.
const (
	// TensorIndexFlagSortedByName allows binary-search lookup by name.
	TensorIndexFlagSortedByName uint32 = 1 << 0
	TensorIndexFlagNamesUTF8    uint32 = 1 << 1
)

// TensorDType identifies the element encoding. Values are stable; add new ones only.
type TensorDType uint32

const (
	DTypeUnknown TensorDType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
	DTypeI8
	DTypeU8
	DTypeI16
	DTypeU16
	DTypeI32
	DTypeU32
	DTypeI64
	DTypeU64
	DTypeBool
)

// ElemSize returns the byte width of one element, or 0 for unknown types.
func (d TensorDType) ElemSize() int {
	switch d {
	case DTypeI8, DTypeU8, DTypeBool:
		return 1
	case DTypeF16, DTypeBF16, DTypeI16, DTypeU16:
		return 2
	case DTypeF32, DTypeI32, DTypeU32:
		return 4
	case DTypeF64, DTypeI64, DTypeU64:
		return 8
	default:
		return 0
	}
}

// TensorIndexHeader is the fixed header of the tensor index payload.
// Offsets are relative to the start of the payload.
type TensorIndexHeader struct {
	Version     uint32
	Flags       uint32
	TensorCount uint32
	DimsCount   uint32

	EntriesOff  uint64
	DimsOff     uint64
	StringsOff  uint64
	StringsSize uint64
}

// TensorIndexEntry is the fixed-size record of one tensor. DataOff is an
// absolute file offset so payloads can be sliced straight out of the mapping.
type TensorIndexEntry struct {
	NameOff uint32
	NameLen uint32
	DType   TensorDType
	Rank    uint32
	DimOff  uint32

	DataOff  uint64
	DataSize uint64
}

// TensorIndexRecord is the input to EncodeTensorIndexSection.
type TensorIndexRecord struct {
	Name     string
	DType    TensorDType
	Shape    []uint64
	DataOff  uint64
	DataSize uint64
}

// TensorIndex is a parsed view over a tensor index payload.
type TensorIndex struct {
	raw []byte
	hdr TensorIndexHeader
}

var errBadTensorIndex = errors.New("tcf: corrupt tensor index section")

// EncodeTensorIndexSection builds a tensor index payload. Records are sorted by name.
func EncodeTensorIndexSection(records []TensorIndexRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("tcf: tensor index requires at least one record")
	}

	recs := make([]TensorIndexRecord, len(records))
	copy(recs, records)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	var (
		dims    []uint64
		strs    []byte
		entries = make([]TensorIndexEntry, 0, len(recs))
	)
	for i, r := range recs {
		if r.Name == "" {
			return nil, errors.New("tcf: tensor name must be non-empty")
		}
		if i > 0 && recs[i-1].Name == r.Name {
			return nil, errors.New("tcf: duplicate tensor name " + r.Name)
		}
		entries = append(entries, TensorIndexEntry{
			NameOff:  uint32(len(strs)),
			NameLen:  uint32(len(r.Name)),
			DType:    r.DType,
			Rank:     uint32(len(r.Shape)),
			DimOff:   uint32(len(dims)),
			DataOff:  r.DataOff,
			DataSize: r.DataSize,
		})
		strs = append(strs, r.Name...)
		dims = append(dims, r.Shape...)
	}

	hdr := TensorIndexHeader{
		Version:     TensorIndexVersion,
		Flags:       TensorIndexFlagSortedByName | TensorIndexFlagNamesUTF8,
		TensorCount: uint32(len(entries)),
		DimsCount:   uint32(len(dims)),
		EntriesOff:  tensorIndexHeaderSize,
	}
	hdr.DimsOff = hdr.EntriesOff + tensorIndexEntrySize*uint64(len(entries))
	hdr.StringsOff = hdr.DimsOff + 8*uint64(len(dims))
	hdr.StringsSize = uint64(len(strs))

	out := make([]byte, int(hdr.StringsOff+hdr.StringsSize))
	le := binary.LittleEndian
	le.PutUint32(out[0:4], hdr.Version)
	le.PutUint32(out[4:8], hdr.Flags)
	le.PutUint32(out[8:12], hdr.TensorCount)
	le.PutUint32(out[12:16], hdr.DimsCount)
	le.PutUint64(out[16:24], hdr.EntriesOff)
	le.PutUint64(out[24:32], hdr.DimsOff)
	le.PutUint64(out[32:40], hdr.StringsOff)
	le.PutUint64(out[40:48], hdr.StringsSize)

	p := int(hdr.EntriesOff)
	for _, e := range entries {
		le.PutUint32(out[p:p+4], e.NameOff)
		le.PutUint32(out[p+4:p+8], e.NameLen)
		le.PutUint32(out[p+8:p+12], uint32(e.DType))
		le.PutUint32(out[p+12:p+16], e.Rank)
		le.PutUint32(out[p+16:p+20], e.DimOff)
		// p+20..p+24 reserved
		le.PutUint64(out[p+24:p+32], e.DataOff)
		le.PutUint64(out[p+32:p+40], e.DataSize)
		p += tensorIndexEntrySize
	}
	p = int(hdr.DimsOff)
	for _, d := range dims {
		le.PutUint64(out[p:p+8], d)
		p += 8
	}
	copy(out[hdr.StringsOff:], strs)
	return out, nil
}

// ParseTensorIndexSection validates and returns a view over a tensor index payload.
func ParseTensorIndexSection(sec []byte) (*TensorIndex, error) {
	if len(sec) < tensorIndexHeaderSize {
		return nil, ErrCorruptFile
	}
	le := binary.LittleEndian
	h := TensorIndexHeader{
		Version:     le.Uint32(sec[0:4]),
		Flags:       le.Uint32(sec[4:8]),
		TensorCount: le.Uint32(sec[8:12]),
		DimsCount:   le.Uint32(sec[12:16]),
		EntriesOff:  le.Uint64(sec[16:24]),
		DimsOff:     le.Uint64(sec[24:32]),
		StringsOff:  le.Uint64(sec[32:40]),
		StringsSize: le.Uint64(sec[40:48]),
	}
	if h.Version != TensorIndexVersion {
		return nil, ErrUnsupportedIndex
	}
	if h.TensorCount == 0 {
		return nil, ErrCorruptFile
	}

	n := uint64(len(sec))
	if h.EntriesOff+uint64(h.TensorCount)*tensorIndexEntrySize > n ||
		h.DimsOff+uint64(h.DimsCount)*8 > n ||
		h.StringsOff+h.StringsSize > n {
		return nil, ErrCorruptFile
	}

	ti := &TensorIndex{raw: sec, hdr: h}
	for i := 0; i < int(h.TensorCount); i++ {
		e, err := ti.Entry(i)
		if err != nil {
			return nil, err
		}
		if uint64(e.NameOff)+uint64(e.NameLen) > h.StringsSize {
			return nil, ErrCorruptFile
		}
		if uint64(e.DimOff)+uint64(e.Rank) > uint64(h.DimsCount) {
			return nil, ErrCorruptFile
		}
	}
	return ti, nil
}

func (ti *TensorIndex) Count() int {
	return int(ti.hdr.TensorCount)
}

func (ti *TensorIndex) Entry(i int) (TensorIndexEntry, error) {
	if i < 0 || i >= int(ti.hdr.TensorCount) {
		return TensorIndexEntry{}, errBadTensorIndex
	}
	base := ti.hdr.EntriesOff + uint64(i)*tensorIndexEntrySize
	if base+tensorIndexEntrySize > uint64(len(ti.raw)) {
		return TensorIndexEntry{}, errBadTensorIndex
	}
	b := ti.raw[base : base+tensorIndexEntrySize]
	le := binary.LittleEndian
	return TensorIndexEntry{
		NameOff:  le.Uint32(b[0:4]),
		NameLen:  le.Uint32(b[4:8]),
		DType:    TensorDType(le.Uint32(b[8:12])),
		Rank:     le.Uint32(b[12:16]),
		DimOff:   le.Uint32(b[16:20]),
		DataOff:  le.Uint64(b[24:32]),
		DataSize: le.Uint64(b[32:40]),
	}, nil
}

func (ti *TensorIndex) nameBytes(i int) ([]byte, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	off := ti.hdr.StringsOff + uint64(e.NameOff)
	return ti.raw[off : off+uint64(e.NameLen)], nil
}

func (ti *TensorIndex) Name(i int) (string, error) {
	b, err := ti.nameBytes(i)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (ti *TensorIndex) Shape(i int) ([]uint64, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.Rank)
	for d := range out {
		off := ti.hdr.DimsOff + uint64(e.DimOff+uint32(d))*8
		out[d] = binary.LittleEndian.Uint64(ti.raw[off : off+8])
	}
	return out, nil
}

// Find returns the entry index for name using binary search when the index is sorted.
func (ti *TensorIndex) Find(name string) (int, bool) {
	if ti == nil {
		return -1, false
	}
	key := []byte(name)
	n := ti.Count()

	if ti.hdr.Flags&TensorIndexFlagSortedByName != 0 {
		i := sort.Search(n, func(i int) bool {
			nb, err := ti.nameBytes(i)
			return err != nil || bytes.Compare(nb, key) >= 0
		})
		if i < n {
			if nb, err := ti.nameBytes(i); err == nil && bytes.Equal(nb, key) {
				return i, true
			}
		}
		return -1, false
	}
	for i := 0; i < n; i++ {
		if nb, err := ti.nameBytes(i); err == nil && bytes.Equal(nb, key) {
			return i, true
		}
	}
	return -1, false
}

// TensorData returns a zero-copy view of the payload of entry i.
func (ti *TensorIndex) TensorData(f *File, i int) ([]byte, error) {
	if f == nil || f.Data == nil {
		return nil, ErrCorruptFile
	}
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	end := e.DataOff + e.DataSize
	if end < e.DataOff || end > uint64(len(f.Data)) {
		return nil, ErrCorruptFile
	}
	return f.Data[e.DataOff:end], nil
}
