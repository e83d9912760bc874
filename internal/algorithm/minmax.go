package algorithm

import (
	"errors"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
)

func init() {
	Register("minmax", minMax{})
}

// minMax derives parameters directly from observed extrema.
type minMax struct{}

func (minMax) WeightParams(vals []float32, shape []int64, spec *recipe.TensorSpec, axis int) (*quant.Params, error) {
	if len(vals) == 0 {
		return nil, errors.New("minmax: empty weight tensor")
	}
	if spec.PerChannel {
		mins, maxs, err := quant.PerChannelMinMax(vals, shape, axis)
		if err != nil {
			return nil, err
		}
		return quant.FromRanges(mins, maxs, spec.Bits, spec.Symmetric, axis)
	}
	lo, hi := quant.MinMax(vals)
	scale, zp := quant.FromMinMax(lo, hi, spec.Bits, spec.Symmetric)
	return &quant.Params{
		Bits:       spec.Bits,
		Symmetric:  spec.Symmetric,
		Scales:     []float32{scale},
		ZeroPoints: []int32{zp},
		Axis:       -1,
	}, nil
}

func (minMax) ActivationParams(min, max float32, spec *recipe.TensorSpec) (*quant.Params, error) {
	if min > max {
		return nil, errors.New("minmax: inverted activation range")
	}
	scale, zp := quant.FromMinMax(min, max, spec.Bits, spec.Symmetric)
	return &quant.Params{
		Bits:       spec.Bits,
		Symmetric:  spec.Symmetric,
		Scales:     []float32{scale},
		ZeroPoints: []int32{zp},
		Axis:       -1,
	}, nil
}
