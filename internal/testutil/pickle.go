package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Pickle values. Plain Go values map to their Python counterparts:
// nil, bool, int, float64, string, []byte.
type (
	Tuple []any
	List  []any
	// Dict keeps insertion order.
	Dict []KV
	KV   struct {
		Key   any
		Value any
	}
	Global struct{ Module, Name string }
	Reduce struct {
		Callable any
		Args     Tuple
	}
	NewObj struct {
		Class Global
		Args  Tuple
	}
	Build struct {
		Obj   any
		State any
	}
)

// Pickle encodes v with the given protocol (2 to 4). Protocol 2 carries
// byte strings through _codecs.encode the way Python 3 does.
func Pickle(v any, proto byte) ([]byte, error) {
	e := &pickler{proto: proto}
	e.buf.WriteByte(0x80)
	e.buf.WriteByte(proto)
	if err := e.encode(v); err != nil {
		return nil, err
	}
	e.buf.WriteByte('.')
	return e.buf.Bytes(), nil
}

type pickler struct {
	buf   bytes.Buffer
	proto byte
}

func (e *pickler) u32(n int) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(n))
	e.buf.Write(b[:])
}

func (e *pickler) encode(v any) error {
	switch x := v.(type) {
	case nil:
		e.buf.WriteByte('N')
	case bool:
		if x {
			e.buf.WriteByte(0x88)
		} else {
			e.buf.WriteByte(0x89)
		}
	case int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return fmt.Errorf("pickle: int %d out of range", x)
		}
		e.buf.WriteByte('J')
		e.u32(int(int32(x)))
	case float64:
		e.buf.WriteByte('G')
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(x))
		e.buf.Write(b[:])
	case string:
		e.buf.WriteByte('X')
		e.u32(len(x))
		e.buf.WriteString(x)
	case []byte:
		if e.proto >= 3 {
			e.buf.WriteByte('B')
			e.u32(len(x))
			e.buf.Write(x)
			return nil
		}
		var sb strings.Builder
		for _, c := range x {
			sb.WriteRune(rune(c))
		}
		return e.encode(Reduce{Global{"_codecs", "encode"}, Tuple{sb.String(), "latin1"}})
	case Tuple:
		if len(x) == 0 {
			e.buf.WriteByte(')')
			return nil
		}
		e.buf.WriteByte('(')
		for _, it := range x {
			if err := e.encode(it); err != nil {
				return err
			}
		}
		e.buf.WriteByte('t')
	case List:
		e.buf.WriteByte(']')
		if len(x) == 0 {
			return nil
		}
		e.buf.WriteByte('(')
		for _, it := range x {
			if err := e.encode(it); err != nil {
				return err
			}
		}
		e.buf.WriteByte('e')
	case Dict:
		e.buf.WriteByte('}')
		if len(x) == 0 {
			return nil
		}
		e.buf.WriteByte('(')
		for _, kv := range x {
			if err := e.encode(kv.Key); err != nil {
				return err
			}
			if err := e.encode(kv.Value); err != nil {
				return err
			}
		}
		e.buf.WriteByte('u')
	case Global:
		fmt.Fprintf(&e.buf, "c%s\n%s\n", x.Module, x.Name)
	case Reduce:
		if err := e.encode(x.Callable); err != nil {
			return err
		}
		if err := e.encode(x.Args); err != nil {
			return err
		}
		e.buf.WriteByte('R')
	case NewObj:
		if err := e.encode(x.Class); err != nil {
			return err
		}
		if err := e.encode(x.Args); err != nil {
			return err
		}
		e.buf.WriteByte(0x81)
	case Build:
		if err := e.encode(x.Obj); err != nil {
			return err
		}
		if err := e.encode(x.State); err != nil {
			return err
		}
		e.buf.WriteByte('b')
	default:
		return fmt.Errorf("pickle: unsupported value %T", v)
	}
	return nil
}
