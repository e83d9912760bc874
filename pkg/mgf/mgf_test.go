package mgf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleModel() *Model {
	w := make([]byte, 4*4)
	for i, v := range []float32{-1, 0.5, 4, -2} {
		binary.LittleEndian.PutUint32(w[i*4:], math.Float32bits(v))
	}
	return &Model{
		Name:     "sample",
		Producer: "aeq-test",
		Tensors: []Tensor{
			{Name: "input", DType: DTypeF32, Shape: []int64{1, 2}, Buffer: -1},
			{
				Name: "weight", DType: DTypeF32, Shape: []int64{2, 2}, Buffer: 0,
				Quant: &Quantization{Scales: []float32{0.03}, ZeroPoints: []int32{0}, Axis: -1},
			},
			{Name: "out", DType: DTypeF32, Shape: []int64{1, 2}, Buffer: -1},
		},
		Operators: []Operator{
			{Code: OpFullyConnected, Name: "dense", Inputs: []int32{0, 1, -1}, Outputs: []int32{2}},
		},
		Inputs:  []int32{0},
		Outputs: []int32{2},
		Buffers: [][]byte{w},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	src := sampleModel()
	data, err := Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, src) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, src)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode a: %v", err)
	}
	b, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode b: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encoding the same model twice produced different bytes")
	}
}

func TestHeaderLayout(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data[0:4]) != MagicMGF {
		t.Fatalf("magic: got %q", data[0:4])
	}
	if got := binary.LittleEndian.Uint16(data[4:6]); got != CurrentMajor {
		t.Fatalf("major: got %d want %d", got, CurrentMajor)
	}
	if got := binary.LittleEndian.Uint64(data[24:32]); got != uint64(len(data)) {
		t.Fatalf("file size field: got %d want %d", got, len(data))
	}
}

func TestSectionAlignment(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	if len(f.Sections) != 4 {
		t.Fatalf("sections: got %d want 4", len(f.Sections))
	}
	for _, s := range f.Sections {
		if s.Offset%mgfAlign != 0 {
			t.Fatalf("section %#x offset %d not %d-byte aligned", s.Type, s.Offset, mgfAlign)
		}
	}
}

func TestWriteFileAndOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sample.mgf")
	src := sampleModel()
	if err := WriteFile(path, src); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	got, err := DecodeFile(f)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if !reflect.DeepEqual(got, src) {
		t.Fatalf("file round trip mismatch:\n got %+v\nwant %+v", got, src)
	}
}

func TestOpenBytesBadMagic(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data[0] = 'X'
	if _, err := OpenBytes(data); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestOpenBytesUnsupportedMajor(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	binary.LittleEndian.PutUint16(data[4:6], CurrentMajor+1)
	if _, err := OpenBytes(data); !errors.Is(err, ErrUnsupportedMajor) {
		t.Fatalf("expected ErrUnsupportedMajor, got %v", err)
	}
}

func TestOpenBytesTruncated(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, n := range []int{0, 8, mgfHeaderSize, len(data) - 1} {
		if _, err := OpenBytes(data[:n]); err == nil {
			t.Fatalf("expected error for %d-byte prefix", n)
		}
	}
}

func TestDecodeMissingSection(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleModel())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	// Retype the buffer-data section so the directory no longer carries it.
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == SectionBufferData {
			f.Sections[i].Type = 0x7fff
		}
	}
	if _, err := DecodeFile(f); !errors.Is(err, ErrMissingSection) {
		t.Fatalf("expected ErrMissingSection, got %v", err)
	}
}

func TestTensorTableDecodeRejectsBadBufferRef(t *testing.T) {
	t.Parallel()

	m := sampleModel()
	m.Tensors[1].Buffer = 5
	if _, err := Encode(m); err == nil {
		t.Fatal("expected encode validation error for dangling buffer reference")
	}
}

func TestOpCodeStrings(t *testing.T) {
	t.Parallel()

	for _, code := range []OpCode{OpConv2D, OpFullyConnected, OpQuantize, OpDequantize, OpSoftmax} {
		name := code.String()
		back, err := ParseOpCode(name)
		if err != nil {
			t.Fatalf("ParseOpCode(%q): %v", name, err)
		}
		if back != code {
			t.Fatalf("ParseOpCode(%q): got %v want %v", name, back, code)
		}
	}
	if _, err := ParseOpCode("warp_drive"); err == nil {
		t.Fatal("expected error for unknown op name")
	}
}
