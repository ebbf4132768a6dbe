package tcf

import "fmt"

const tensorAlign = 64

// TensorPayload is one named tensor to be written by WriteTensors.
type TensorPayload struct {
	Name  string
	DType TensorDType
	Shape []uint64
	Data  []byte
}

// WriteTensors streams every payload into a TensorData section, each aligned
// to 64 bytes, then writes the matching TensorIndex section.
func WriteTensors(w *Writer, tensors []TensorPayload) error {
	sw, err := w.BeginSection(SectionTensorData, 1)
	if err != nil {
		return err
	}

	records := make([]TensorIndexRecord, 0, len(tensors))
	for _, t := range tensors {
		if want := elementCount(t.Shape) * uint64(t.DType.ElemSize()); want != uint64(len(t.Data)) {
			_ = sw.End()
			return fmt.Errorf("tcf: tensor %s: payload is %d bytes, shape needs %d", t.Name, len(t.Data), want)
		}
		if err := sw.Align(tensorAlign); err != nil {
			return err
		}
		off, err := sw.Offset()
		if err != nil {
			return err
		}
		if _, err := sw.Write(t.Data); err != nil {
			return err
		}
		records = append(records, TensorIndexRecord{
			Name:     t.Name,
			DType:    t.DType,
			Shape:    t.Shape,
			DataOff:  off,
			DataSize: uint64(len(t.Data)),
		})
	}
	if err := sw.End(); err != nil {
		return err
	}
	if err := w.AddFlags(FlagTensorDataAligned64); err != nil {
		return err
	}

	index, err := EncodeTensorIndexSection(records)
	if err != nil {
		return err
	}
	return w.WriteSection(SectionTensorIndex, TensorIndexVersion, index)
}

func elementCount(shape []uint64) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
