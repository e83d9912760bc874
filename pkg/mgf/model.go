package mgf

import "fmt"

// DType identifies the tensor element encoding.
// Keep these stable forever; add new values only.
type DType uint32

const (
	DTypeUnknown DType = iota
	DTypeF32
	DTypeF16
	DTypeI8
	DTypeI16
	DTypeI32
	DTypeI64
	DTypeU8
)

// Size returns the element size in bytes, or 0 for unknown types.
func (d DType) Size() int {
	switch d {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16, DTypeI16:
		return 2
	case DTypeI8, DTypeU8:
		return 1
	case DTypeI64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeI8:
		return "i8"
	case DTypeI16:
		return "i16"
	case DTypeI32:
		return "i32"
	case DTypeI64:
		return "i64"
	case DTypeU8:
		return "u8"
	default:
		return "unknown"
	}
}

// OpCode identifies the operator kind.
type OpCode uint32

const (
	OpUnknown OpCode = iota
	OpConv2D
	OpDepthwiseConv2D
	OpFullyConnected
	OpBatchMatmul
	OpEmbeddingLookup
	OpAveragePool2D
	OpReshape
	OpTranspose
	OpSoftmax
	OpTanh
	OpGelu
	OpAdd
	OpSub
	OpMul
	OpRelu
	OpQuantize
	OpDequantize
)

var opCodeNames = map[OpCode]string{
	OpConv2D:          "conv_2d",
	OpDepthwiseConv2D: "depthwise_conv_2d",
	OpFullyConnected:  "fully_connected",
	OpBatchMatmul:     "batch_matmul",
	OpEmbeddingLookup: "embedding_lookup",
	OpAveragePool2D:   "average_pool_2d",
	OpReshape:         "reshape",
	OpTranspose:       "transpose",
	OpSoftmax:         "softmax",
	OpTanh:            "tanh",
	OpGelu:            "gelu",
	OpAdd:             "add",
	OpSub:             "sub",
	OpMul:             "mul",
	OpRelu:            "relu",
	OpQuantize:        "quantize",
	OpDequantize:      "dequantize",
}

func (c OpCode) String() string {
	if s, ok := opCodeNames[c]; ok {
		return s
	}
	return "unknown"
}

// ParseOpCode maps an operator name back to its code.
func ParseOpCode(name string) (OpCode, error) {
	for c, s := range opCodeNames {
		if s == name {
			return c, nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown operator %q", name)
}

// Quantization holds affine quantization parameters for a tensor.
// One scale/zero-point pair for per-tensor quantization; one pair per slice
// along Axis for per-channel.
type Quantization struct {
	Scales     []float32
	ZeroPoints []int32
	Axis       int32 // quantized dimension; -1 for per-tensor
}

// Clone returns a deep copy.
func (q *Quantization) Clone() *Quantization {
	if q == nil {
		return nil
	}
	out := &Quantization{Axis: q.Axis}
	out.Scales = append([]float32(nil), q.Scales...)
	out.ZeroPoints = append([]int32(nil), q.ZeroPoints...)
	return out
}

// Tensor is a tensor table entry. Buffer indexes Model.Buffers, -1 when the
// tensor has no constant payload.
type Tensor struct {
	Name   string
	DType  DType
	Shape  []int64
	Buffer int32
	Quant  *Quantization
}

// Operator is an operator table entry. Inputs and Outputs hold positional
// tensor table indices; -1 marks an absent optional input.
type Operator struct {
	Code    OpCode
	Name    string
	Inputs  []int32
	Outputs []int32
}

// Model is the decoded in-memory form of an MGF container.
type Model struct {
	Name     string
	Producer string

	// Graph boundary tensors, as tensor table positions.
	Inputs  []int32
	Outputs []int32

	Tensors   []Tensor
	Operators []Operator
	Buffers   [][]byte
}

const (
	modelInfoVersion     uint32 = 1
	tensorTableVersion   uint32 = 1
	operatorTableVersion uint32 = 1
	bufferDataVersion    uint32 = 1
)

func encodeModelInfo(m *Model) []byte {
	w := newPayloadWriter()
	w.u32(modelInfoVersion)
	w.u32(0) // flags, reserved
	w.str(m.Name)
	w.str(m.Producer)
	w.i32s(m.Inputs)
	w.i32s(m.Outputs)
	return w.bytes()
}

func decodeModelInfo(m *Model, sec []byte) error {
	r := newPayloadReader(sec)
	if r.u32() != modelInfoVersion {
		return ErrCorruptFile
	}
	r.u32() // flags
	m.Name = r.str()
	m.Producer = r.str()
	m.Inputs = r.i32s()
	m.Outputs = r.i32s()
	return r.err()
}

func encodeTensorTable(m *Model) []byte {
	w := newPayloadWriter()
	w.u32(tensorTableVersion)
	w.u32(uint32(len(m.Tensors)))
	for i := range m.Tensors {
		t := &m.Tensors[i]
		w.str(t.Name)
		w.u32(uint32(t.DType))
		w.i64s(t.Shape)
		w.i32(t.Buffer)
		if t.Quant == nil {
			w.u8(0)
			continue
		}
		w.u8(1)
		w.f32s(t.Quant.Scales)
		w.i32s(t.Quant.ZeroPoints)
		w.i32(t.Quant.Axis)
	}
	return w.bytes()
}

func decodeTensorTable(m *Model, sec []byte) error {
	r := newPayloadReader(sec)
	if r.u32() != tensorTableVersion {
		return ErrCorruptFile
	}
	count := int(r.u32())
	if r.err() != nil || count < 0 || count > maxTableEntries {
		return ErrCorruptFile
	}
	m.Tensors = make([]Tensor, 0, count)
	for i := 0; i < count; i++ {
		var t Tensor
		t.Name = r.str()
		t.DType = DType(r.u32())
		t.Shape = r.i64s()
		t.Buffer = r.i32()
		if r.u8() != 0 {
			q := &Quantization{}
			q.Scales = r.f32s()
			q.ZeroPoints = r.i32s()
			q.Axis = r.i32()
			t.Quant = q
		}
		if r.err() != nil {
			return ErrCorruptFile
		}
		m.Tensors = append(m.Tensors, t)
	}
	return r.err()
}

func encodeOperatorTable(m *Model) []byte {
	w := newPayloadWriter()
	w.u32(operatorTableVersion)
	w.u32(uint32(len(m.Operators)))
	for i := range m.Operators {
		op := &m.Operators[i]
		w.u32(uint32(op.Code))
		w.str(op.Name)
		w.i32s(op.Inputs)
		w.i32s(op.Outputs)
	}
	return w.bytes()
}

func decodeOperatorTable(m *Model, sec []byte) error {
	r := newPayloadReader(sec)
	if r.u32() != operatorTableVersion {
		return ErrCorruptFile
	}
	count := int(r.u32())
	if r.err() != nil || count < 0 || count > maxTableEntries {
		return ErrCorruptFile
	}
	m.Operators = make([]Operator, 0, count)
	for i := 0; i < count; i++ {
		var op Operator
		op.Code = OpCode(r.u32())
		op.Name = r.str()
		op.Inputs = r.i32s()
		op.Outputs = r.i32s()
		if r.err() != nil {
			return ErrCorruptFile
		}
		m.Operators = append(m.Operators, op)
	}
	return r.err()
}

func encodeBufferData(m *Model) []byte {
	w := newPayloadWriter()
	w.u32(bufferDataVersion)
	w.u32(uint32(len(m.Buffers)))
	for _, b := range m.Buffers {
		w.u64(uint64(len(b)))
		w.raw(b)
		w.align(mgfAlign)
	}
	return w.bytes()
}

func decodeBufferData(m *Model, sec []byte) error {
	r := newPayloadReader(sec)
	if r.u32() != bufferDataVersion {
		return ErrCorruptFile
	}
	count := int(r.u32())
	if r.err() != nil || count < 0 || count > maxTableEntries {
		return ErrCorruptFile
	}
	m.Buffers = make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		n := r.u64()
		b := r.raw(n)
		r.align(mgfAlign)
		if r.err() != nil {
			return ErrCorruptFile
		}
		// Copy out of the (possibly mmapped) section so the model owns its buffers.
		m.Buffers = append(m.Buffers, append([]byte(nil), b...))
	}
	return r.err()
}

// validate checks cross-table references after decode.
func (m *Model) validate() error {
	nTensors := int32(len(m.Tensors))
	nBuffers := int32(len(m.Buffers))
	for i := range m.Tensors {
		t := &m.Tensors[i]
		if t.Buffer < -1 || t.Buffer >= nBuffers {
			return ErrCorruptFile
		}
		if t.Quant != nil && len(t.Quant.Scales) != len(t.Quant.ZeroPoints) {
			return ErrCorruptFile
		}
	}
	for i := range m.Operators {
		op := &m.Operators[i]
		for _, idx := range op.Inputs {
			if idx < -1 || idx >= nTensors {
				return ErrCorruptFile
			}
		}
		for _, idx := range op.Outputs {
			if idx < 0 || idx >= nTensors {
				return ErrCorruptFile
			}
		}
	}
	for _, idx := range append(append([]int32(nil), m.Inputs...), m.Outputs...) {
		if idx < 0 || idx >= nTensors {
			return ErrCorruptFile
		}
	}
	return nil
}

// Decode parses a complete MGF image into a Model. The model owns all of its
// memory; data may be released afterwards.
func Decode(data []byte) (*Model, error) {
	f, err := OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return DecodeFile(f)
}

// DecodeFile parses an opened container into a Model.
func DecodeFile(f *File) (*Model, error) {
	m := &Model{}
	steps := []struct {
		typ    SectionType
		decode func(*Model, []byte) error
	}{
		{SectionModelInfo, decodeModelInfo},
		{SectionTensorTable, decodeTensorTable},
		{SectionOperatorTable, decodeOperatorTable},
		{SectionBufferData, decodeBufferData},
	}
	for _, st := range steps {
		sec := f.Section(st.typ)
		if sec == nil {
			return nil, ErrMissingSection
		}
		if err := st.decode(m, f.SectionData(sec)); err != nil {
			return nil, err
		}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode assembles a complete MGF file image. Encoding is deterministic:
// identical models produce byte-identical images.
func Encode(m *Model) ([]byte, error) {
	if m == nil {
		return nil, ErrCorruptFile
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	sections := []rawSection{
		{SectionModelInfo, modelInfoVersion, encodeModelInfo(m)},
		{SectionTensorTable, tensorTableVersion, encodeTensorTable(m)},
		{SectionOperatorTable, operatorTableVersion, encodeOperatorTable(m)},
		{SectionBufferData, bufferDataVersion, encodeBufferData(m)},
	}
	return assemble(sections)
}
