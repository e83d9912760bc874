package algorithm

func init() {
	Register("minmax_smoothed", smoothedMinMax{})
}

// smoothedMinMax derives parameters exactly like minmax, but asks the
// calibrator to fold per-batch ranges with an exponential moving average
// instead of plain widening. The factor is the weight kept on the
// accumulated range each batch.
type smoothedMinMax struct {
	minMax
}

func (smoothedMinMax) SmoothingFactor() float32 { return 0.99 }
