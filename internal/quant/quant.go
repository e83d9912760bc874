// Package quant implements uniform affine quantization arithmetic:
// scale/zero-point derivation from observed ranges, tensor buffer
// quantize/dequantize, and fused bias quantization.
package quant

import (
	"errors"
	"fmt"
	"math"

	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// IntType describes an integer quantization target.
type IntType struct {
	Bits   int
	Signed bool
}

// Range returns the representable value range of the type.
func (t IntType) Range() (min, max int64) {
	if t.Signed {
		return -(int64(1) << (t.Bits - 1)), (int64(1) << (t.Bits - 1)) - 1
	}
	return 0, (int64(1) << t.Bits) - 1
}

// Params holds finalized quantization parameters for one tensor.
// Per-tensor quantization carries a single scale/zero-point pair and Axis=-1;
// per-channel carries one pair per slice along Axis.
type Params struct {
	Bits       int
	Symmetric  bool
	Scales     []float32
	ZeroPoints []int32
	Axis       int
}

// PerChannel reports whether the parameters are per-channel.
func (p *Params) PerChannel() bool { return p.Axis >= 0 }

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	out := &Params{Bits: p.Bits, Symmetric: p.Symmetric, Axis: p.Axis}
	out.Scales = append([]float32(nil), p.Scales...)
	out.ZeroPoints = append([]int32(nil), p.ZeroPoints...)
	return out
}

// Equal reports whether two parameter sets are numerically identical.
func (p *Params) Equal(o *Params) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Bits != o.Bits || p.Symmetric != o.Symmetric || p.Axis != o.Axis {
		return false
	}
	if len(p.Scales) != len(o.Scales) || len(p.ZeroPoints) != len(o.ZeroPoints) {
		return false
	}
	for i := range p.Scales {
		if p.Scales[i] != o.Scales[i] {
			return false
		}
	}
	for i := range p.ZeroPoints {
		if p.ZeroPoints[i] != o.ZeroPoints[i] {
			return false
		}
	}
	return true
}

// Validate checks the parameter invariants: positive scales, zero-points
// inside the representable range, matching pair counts.
func (p *Params) Validate() error {
	if p == nil {
		return errors.New("quant: nil params")
	}
	if len(p.Scales) == 0 || len(p.Scales) != len(p.ZeroPoints) {
		return fmt.Errorf("quant: %d scales vs %d zero points", len(p.Scales), len(p.ZeroPoints))
	}
	lo, hi := IntType{Bits: p.Bits, Signed: true}.Range()
	for i, s := range p.Scales {
		if !(s > 0) || math.IsInf(float64(s), 0) || math.IsNaN(float64(s)) {
			return fmt.Errorf("quant: scale[%d] = %v, must be positive and finite", i, s)
		}
		zp := int64(p.ZeroPoints[i])
		if zp < lo || zp > hi {
			return fmt.Errorf("quant: zero point[%d] = %d outside [%d, %d]", i, zp, lo, hi)
		}
	}
	return nil
}

// StorageDType returns the container datatype backing the given bit width.
func StorageDType(bits int) (mgf.DType, error) {
	switch {
	case bits <= 8:
		return mgf.DTypeI8, nil
	case bits == 16:
		return mgf.DTypeI16, nil
	case bits == 32:
		return mgf.DTypeI32, nil
	case bits == 64:
		return mgf.DTypeI64, nil
	default:
		return mgf.DTypeUnknown, fmt.Errorf("quant: unsupported bit width %d", bits)
	}
}

// FromMinMax derives a scale and zero point from an observed value range.
// The range is always extended to include zero first, so that zero is exactly
// representable. Symmetric quantization uses a narrow range (qmin = -qmax)
// and a zero point of 0.
func FromMinMax(minVal, maxVal float32, bits int, symmetric bool) (float32, int32) {
	mn := math.Min(float64(minVal), 0)
	mx := math.Max(float64(maxVal), 0)

	if symmetric {
		qmax := float64((int64(1) << (bits - 1)) - 1)
		bound := math.Max(math.Abs(mn), mx)
		if bound == 0 {
			return 1, 0
		}
		return float32(bound / qmax), 0
	}

	qmin := -(int64(1) << (bits - 1))
	qmax := (int64(1) << (bits - 1)) - 1
	if mx == mn {
		return 1, 0
	}
	scale := (mx - mn) / float64(qmax-qmin)
	zp := qmin - int64(math.Round(mn/scale))
	if zp < qmin {
		zp = qmin
	}
	if zp > qmax {
		zp = qmax
	}
	return float32(scale), int32(zp)
}

// FromRanges derives per-channel parameters from one range per channel.
func FromRanges(mins, maxs []float32, bits int, symmetric bool, axis int) (*Params, error) {
	if len(mins) == 0 || len(mins) != len(maxs) {
		return nil, fmt.Errorf("quant: %d mins vs %d maxs", len(mins), len(maxs))
	}
	p := &Params{
		Bits:       bits,
		Symmetric:  symmetric,
		Scales:     make([]float32, len(mins)),
		ZeroPoints: make([]int32, len(mins)),
		Axis:       axis,
	}
	for i := range mins {
		p.Scales[i], p.ZeroPoints[i] = FromMinMax(mins[i], maxs[i], bits, symmetric)
	}
	return p, nil
}

// quantRange returns the clamping range used during value quantization.
// Symmetric parameters use the narrow range.
func quantRange(p *Params) (int64, int64) {
	lo, hi := IntType{Bits: p.Bits, Signed: true}.Range()
	if p.Symmetric {
		lo = -hi
	}
	return lo, hi
}

// channelStride returns the stride used to recover the channel index of a
// flat element: channel = (i / stride) % shape[axis].
func channelStride(shape []int64, axis int) (int64, error) {
	if axis < 0 || axis >= len(shape) {
		return 0, fmt.Errorf("quant: axis %d out of range for rank %d", axis, len(shape))
	}
	stride := int64(1)
	for _, d := range shape[axis+1:] {
		stride *= d
	}
	if stride <= 0 {
		return 0, fmt.Errorf("quant: degenerate shape %v", shape)
	}
	return stride, nil
}

func paramIndex(p *Params, shape []int64) (func(i int) int, error) {
	if !p.PerChannel() {
		if len(p.Scales) != 1 {
			return nil, fmt.Errorf("quant: per-tensor params with %d scales", len(p.Scales))
		}
		return func(int) int { return 0 }, nil
	}
	if int64(len(p.Scales)) != shape[p.Axis] {
		return nil, fmt.Errorf("quant: %d scales for axis %d of length %d", len(p.Scales), p.Axis, shape[p.Axis])
	}
	stride, err := channelStride(shape, p.Axis)
	if err != nil {
		return nil, err
	}
	n := shape[p.Axis]
	return func(i int) int { return int((int64(i) / stride) % n) }, nil
}

// Quantize maps float values to the integer encoding of p, clamped to the
// target range, and returns the little-endian byte payload at the storage
// datatype for p.Bits.
func Quantize(vals []float32, shape []int64, p *Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.PerChannel() && p.Axis >= len(shape) {
		return nil, fmt.Errorf("quant: axis %d out of range for shape %v", p.Axis, shape)
	}
	idx, err := paramIndex(p, shape)
	if err != nil {
		return nil, err
	}
	dt, err := StorageDType(p.Bits)
	if err != nil {
		return nil, err
	}
	lo, hi := quantRange(p)
	out := make([]int64, len(vals))
	for i, v := range vals {
		j := idx(i)
		q := int64(math.Round(float64(v)/float64(p.Scales[j]))) + int64(p.ZeroPoints[j])
		if q < lo {
			q = lo
		}
		if q > hi {
			q = hi
		}
		out[i] = q
	}
	return encodeInts(out, dt)
}

// Dequantize recovers float values from a quantized payload.
func Dequantize(data []byte, shape []int64, p *Params) ([]float32, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	dt, err := StorageDType(p.Bits)
	if err != nil {
		return nil, err
	}
	ints, err := decodeInts(data, dt)
	if err != nil {
		return nil, err
	}
	idx, err := paramIndex(p, shape)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(ints))
	for i, q := range ints {
		j := idx(i)
		out[i] = float32(q-int64(p.ZeroPoints[j])) * p.Scales[j]
	}
	return out, nil
}

// QuantizeBias quantizes a fused bias tensor symmetrically with
// scale = activation scale x weight scale, broadcast per weight channel.
// The bias is stored 32-bit wide for 8-bit activations and 64-bit otherwise.
func QuantizeBias(vals []float32, act, weight *Params) (*Params, []byte, error) {
	if act == nil || weight == nil {
		return nil, nil, errors.New("quant: bias requires activation and weight params")
	}
	if len(act.Scales) != 1 {
		return nil, nil, errors.New("quant: activation params must be per-tensor")
	}
	bits := 64
	if act.Bits == 8 {
		bits = 32
	}
	n := len(weight.Scales)
	p := &Params{
		Bits:       bits,
		Symmetric:  true,
		Scales:     make([]float32, n),
		ZeroPoints: make([]int32, n),
		Axis:       -1,
	}
	if n > 1 {
		p.Axis = 0
	}
	for i, ws := range weight.Scales {
		p.Scales[i] = act.Scales[0] * ws
	}
	data, err := Quantize(vals, []int64{int64(len(vals))}, p)
	if err != nil {
		return nil, nil, err
	}
	return p, data, nil
}

// SmoothedUpdate folds a new observed range into a running one using an
// exponential moving average: factor 1 keeps the old range, factor 0 takes
// the new range.
func SmoothedUpdate(oldMin, oldMax, newMin, newMax, factor float32) (float32, float32) {
	return factor*oldMin + (1-factor)*newMin, factor*oldMax + (1-factor)*newMax
}

// MinMax returns the elementwise minimum and maximum of vals.
func MinMax(vals []float32) (float32, float32) {
	if len(vals) == 0 {
		return 0, 0
	}
	mn, mx := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return mn, mx
}

// PerChannelMinMax reduces vals over every axis except the quantized one,
// yielding one range per channel slice.
func PerChannelMinMax(vals []float32, shape []int64, axis int) (mins, maxs []float32, err error) {
	stride, err := channelStride(shape, axis)
	if err != nil {
		return nil, nil, err
	}
	n := int(shape[axis])
	mins = make([]float32, n)
	maxs = make([]float32, n)
	seen := make([]bool, n)
	for i, v := range vals {
		c := int((int64(i) / stride) % int64(n))
		if !seen[c] {
			mins[c], maxs[c] = v, v
			seen[c] = true
			continue
		}
		if v < mins[c] {
			mins[c] = v
		}
		if v > maxs[c] {
			maxs[c] = v
		}
	}
	for c, ok := range seen {
		if !ok {
			return nil, nil, fmt.Errorf("quant: channel %d of axis %d has no elements", c, axis)
		}
	}
	return mins, maxs, nil
}
