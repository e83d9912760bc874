package quant

import (
	"math"
	"testing"

	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

func approx(t *testing.T, got, want, tol float32, what string) {
	t.Helper()
	if math.Abs(float64(got-want)) > float64(tol) {
		t.Fatalf("%s: got %v want %v", what, got, want)
	}
}

func TestFromMinMaxAsymmetric8Bit(t *testing.T) {
	t.Parallel()

	scale, zp := FromMinMax(-3, 16, 8, false)
	approx(t, scale, 19.0/255, 1e-7, "scale")
	if zp != -88 {
		t.Fatalf("zero point: got %d want -88", zp)
	}
}

func TestFromMinMaxAsymmetric4Bit(t *testing.T) {
	t.Parallel()

	scale, zp := FromMinMax(-3, 16, 4, false)
	approx(t, scale, 1.2666667, 1e-6, "scale")
	if zp != -6 {
		t.Fatalf("zero point: got %d want -6", zp)
	}
}

func TestFromMinMaxSymmetric(t *testing.T) {
	t.Parallel()

	scale, zp := FromMinMax(-3, 16, 8, true)
	approx(t, scale, 16.0/127, 1e-7, "scale")
	if zp != 0 {
		t.Fatalf("zero point: got %d want 0", zp)
	}
}

func TestFromMinMaxExtendsRangeToZero(t *testing.T) {
	t.Parallel()

	// A strictly positive range still represents zero exactly.
	scale, zp := FromMinMax(2, 16, 8, false)
	approx(t, scale, 16.0/255, 1e-7, "scale")
	if zp != -128 {
		t.Fatalf("zero point: got %d want -128", zp)
	}
}

func TestFromMinMaxDegenerateRange(t *testing.T) {
	t.Parallel()

	scale, zp := FromMinMax(0, 0, 8, false)
	if scale != 1 || zp != 0 {
		t.Fatalf("degenerate range: got scale %v zp %d want 1, 0", scale, zp)
	}
	scale, zp = FromMinMax(0, 0, 8, true)
	if scale != 1 || zp != 0 {
		t.Fatalf("degenerate symmetric range: got scale %v zp %d", scale, zp)
	}
}

func TestQuantize8BitSymmetric(t *testing.T) {
	t.Parallel()

	p := &Params{Bits: 8, Symmetric: true, Scales: []float32{16.0 / 127}, ZeroPoints: []int32{0}, Axis: -1}
	data, err := Quantize([]float32{-3.0, 1.3, 2.4, 16.0}, []int64{4}, p)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	want := []int8{-24, 10, 19, 127}
	for i := range want {
		if int8(data[i]) != want[i] {
			t.Fatalf("value %d: got %d want %d", i, int8(data[i]), want[i])
		}
	}
}

func TestQuantize4BitAsymmetric(t *testing.T) {
	t.Parallel()

	p := &Params{Bits: 4, Symmetric: false, Scales: []float32{1.2666667}, ZeroPoints: []int32{-6}, Axis: -1}
	data, err := Quantize([]float32{-3.0, 1.3, 2.4, 16.0}, []int64{4}, p)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	want := []int8{-8, -5, -4, 7}
	for i := range want {
		if int8(data[i]) != want[i] {
			t.Fatalf("value %d: got %d want %d", i, int8(data[i]), want[i])
		}
	}
}

func TestQuantizeSymmetricNarrowRange(t *testing.T) {
	t.Parallel()

	// Symmetric encodings never use the full negative extreme.
	p := &Params{Bits: 4, Symmetric: true, Scales: []float32{1}, ZeroPoints: []int32{0}, Axis: -1}
	data, err := Quantize([]float32{-8, 8}, []int64{2}, p)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if int8(data[0]) != -7 || int8(data[1]) != 7 {
		t.Fatalf("clamped values: got %d, %d want -7, 7", int8(data[0]), int8(data[1]))
	}
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	t.Parallel()

	vals := []float32{-3.0, 1.3, 2.4, 16.0}
	scale, zp := FromMinMax(-3, 16, 8, false)
	p := &Params{Bits: 8, Symmetric: false, Scales: []float32{scale}, ZeroPoints: []int32{zp}, Axis: -1}
	data, err := Quantize(vals, []int64{4}, p)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	back, err := Dequantize(data, []int64{4}, p)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	for i := range vals {
		approx(t, back[i], vals[i], scale/2+1e-6, "round trip value")
	}
}

func TestQuantizePerChannel(t *testing.T) {
	t.Parallel()

	// Shape [2, 2], axis 0: rows are channels with very different ranges.
	vals := []float32{-1, 0.5, 400, -200}
	p, err := FromRanges([]float32{-1, -200}, []float32{0.5, 400}, 8, true, 0)
	if err != nil {
		t.Fatalf("FromRanges: %v", err)
	}
	data, err := Quantize(vals, []int64{2, 2}, p)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if int8(data[0]) != -127 {
		t.Fatalf("channel 0 min: got %d want -127", int8(data[0]))
	}
	if int8(data[2]) != 127 {
		t.Fatalf("channel 1 max: got %d want 127", int8(data[2]))
	}
	back, err := Dequantize(data, []int64{2, 2}, p)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	approx(t, back[2], 400, p.Scales[1]/2+1e-3, "channel 1 round trip")
}

func TestQuantizeBias(t *testing.T) {
	t.Parallel()

	act := &Params{Bits: 8, Symmetric: false, Scales: []float32{0.5}, ZeroPoints: []int32{3}, Axis: -1}
	weight := &Params{Bits: 8, Symmetric: true, Scales: []float32{0.25, 0.1}, ZeroPoints: []int32{0, 0}, Axis: 0}

	p, data, err := QuantizeBias([]float32{1.0, -0.3}, act, weight)
	if err != nil {
		t.Fatalf("QuantizeBias: %v", err)
	}
	if p.Bits != 32 || !p.Symmetric || p.Axis != 0 {
		t.Fatalf("bias params: %+v", p)
	}
	approx(t, p.Scales[0], 0.125, 1e-7, "bias scale 0")
	approx(t, p.Scales[1], 0.05, 1e-7, "bias scale 1")
	if len(data) != 8 {
		t.Fatalf("bias payload: got %d bytes want 8", len(data))
	}
	back, err := Dequantize(data, []int64{2}, p)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	approx(t, back[0], 1.0, 0.125, "bias value 0")
	approx(t, back[1], -0.3, 0.05, "bias value 1")
}

func TestQuantizeBias16BitActs(t *testing.T) {
	t.Parallel()

	act := &Params{Bits: 16, Symmetric: true, Scales: []float32{0.5}, ZeroPoints: []int32{0}, Axis: -1}
	weight := &Params{Bits: 8, Symmetric: true, Scales: []float32{0.25}, ZeroPoints: []int32{0}, Axis: -1}
	p, data, err := QuantizeBias([]float32{2}, act, weight)
	if err != nil {
		t.Fatalf("QuantizeBias: %v", err)
	}
	if p.Bits != 64 || p.Axis != -1 {
		t.Fatalf("bias params: %+v", p)
	}
	if len(data) != 8 {
		t.Fatalf("payload: got %d bytes want 8", len(data))
	}
}

func TestSmoothedUpdate(t *testing.T) {
	t.Parallel()

	mn, mx := SmoothedUpdate(-10, 8, -1000, 800, 0.99)
	approx(t, mn, -19.9, 1e-3, "smoothed min")
	approx(t, mx, 15.92, 1e-3, "smoothed max")

	mn, mx = SmoothedUpdate(-10, 8, -1000, 800, 1)
	if mn != -10 || mx != 8 {
		t.Fatalf("factor 1 should keep old range: got %v..%v", mn, mx)
	}
}

func TestPerChannelMinMax(t *testing.T) {
	t.Parallel()

	// Shape [2, 3], axis 0.
	vals := []float32{1, -2, 3, 10, 0, -10}
	mins, maxs, err := PerChannelMinMax(vals, []int64{2, 3}, 0)
	if err != nil {
		t.Fatalf("PerChannelMinMax: %v", err)
	}
	if mins[0] != -2 || maxs[0] != 3 {
		t.Fatalf("channel 0: got %v..%v want -2..3", mins[0], maxs[0])
	}
	if mins[1] != -10 || maxs[1] != 10 {
		t.Fatalf("channel 1: got %v..%v want -10..10", mins[1], maxs[1])
	}

	// Axis 1 reduces over rows instead.
	mins, maxs, err = PerChannelMinMax(vals, []int64{2, 3}, 1)
	if err != nil {
		t.Fatalf("PerChannelMinMax axis 1: %v", err)
	}
	if mins[0] != 1 || maxs[0] != 10 {
		t.Fatalf("axis 1 channel 0: got %v..%v want 1..10", mins[0], maxs[0])
	}
}

func TestStorageDType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		bits int
		want mgf.DType
	}{
		{4, mgf.DTypeI8},
		{8, mgf.DTypeI8},
		{16, mgf.DTypeI16},
		{32, mgf.DTypeI32},
		{64, mgf.DTypeI64},
	}
	for _, tc := range cases {
		got, err := StorageDType(tc.bits)
		if err != nil {
			t.Fatalf("StorageDType(%d): %v", tc.bits, err)
		}
		if got != tc.want {
			t.Fatalf("StorageDType(%d): got %v want %v", tc.bits, got, tc.want)
		}
	}
	if _, err := StorageDType(24); err == nil {
		t.Fatal("expected error for 24-bit storage")
	}
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	good := &Params{Bits: 8, Scales: []float32{0.1}, ZeroPoints: []int32{5}, Axis: -1}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := []*Params{
		{Bits: 8, Scales: []float32{0}, ZeroPoints: []int32{0}, Axis: -1},
		{Bits: 8, Scales: []float32{-0.5}, ZeroPoints: []int32{0}, Axis: -1},
		{Bits: 8, Scales: []float32{float32(math.Inf(1))}, ZeroPoints: []int32{0}, Axis: -1},
		{Bits: 8, Scales: []float32{0.1, 0.2}, ZeroPoints: []int32{0}, Axis: 0},
		{Bits: 8, Scales: []float32{0.1}, ZeroPoints: []int32{200}, Axis: -1},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, p)
		}
	}
}

func TestDecodeFloatsF16Widens(t *testing.T) {
	t.Parallel()

	data, err := EncodeFloats([]float32{-2, 0.5, 1.5}, mgf.DTypeF16)
	if err != nil {
		t.Fatalf("EncodeFloats: %v", err)
	}
	if len(data) != 6 {
		t.Fatalf("f16 payload: got %d bytes want 6", len(data))
	}
	got, err := DecodeFloats(data, mgf.DTypeF16)
	if err != nil {
		t.Fatalf("DecodeFloats: %v", err)
	}
	// All three values are exactly representable in half precision.
	want := []float32{-2, 0.5, 1.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("value %d: got %v want %v", i, got[i], want[i])
		}
	}

	if _, err := DecodeFloats([]byte{1}, mgf.DTypeF16); err == nil {
		t.Fatal("expected error for odd-length f16 payload")
	}
	if _, err := DecodeFloats(data, mgf.DTypeI8); err == nil {
		t.Fatal("expected error for integer payload")
	}
}
