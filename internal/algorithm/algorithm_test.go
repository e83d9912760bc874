package algorithm

import (
	"errors"
	"testing"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
)

func TestLookupUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := Lookup("percentile")
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
	if unsupported.Name != "percentile" {
		t.Fatalf("error name: got %q want percentile", unsupported.Name)
	}
}

func TestMinMaxWeightParamsPerTensor(t *testing.T) {
	t.Parallel()

	a, err := Lookup("minmax")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	spec := &recipe.TensorSpec{Bits: 8, Symmetric: false}
	p, err := a.WeightParams([]float32{-3.0, 1.3, 2.4, 16.0}, []int64{4}, spec, -1)
	if err != nil {
		t.Fatalf("WeightParams: %v", err)
	}
	if p.PerChannel() {
		t.Fatal("expected per-tensor params")
	}
	want := float32(16.0-(-3.0)) / 255
	if got := p.Scales[0]; got != want {
		t.Fatalf("scale: got %v want %v", got, want)
	}
}

func TestMinMaxWeightParamsPerChannel(t *testing.T) {
	t.Parallel()

	a, err := Lookup("minmax")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	spec := &recipe.TensorSpec{Bits: 8, Symmetric: true, PerChannel: true}
	// Two output channels of two values each.
	p, err := a.WeightParams([]float32{-1, 0.5, 4, -2}, []int64{2, 2}, spec, 0)
	if err != nil {
		t.Fatalf("WeightParams: %v", err)
	}
	if !p.PerChannel() || p.Axis != 0 {
		t.Fatalf("expected per-channel on axis 0, got %+v", p)
	}
	if len(p.Scales) != 2 {
		t.Fatalf("scales: got %d want 2", len(p.Scales))
	}
	if p.ZeroPoints[0] != 0 || p.ZeroPoints[1] != 0 {
		t.Fatalf("symmetric zero points: got %v", p.ZeroPoints)
	}
}

func TestMinMaxActivationParams(t *testing.T) {
	t.Parallel()

	a, err := Lookup("minmax")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	p, err := a.ActivationParams(-1, 3, &recipe.TensorSpec{Bits: 8})
	if err != nil {
		t.Fatalf("ActivationParams: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := a.ActivationParams(3, -1, &recipe.TensorSpec{Bits: 8}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestSmoothedMinMaxRegistered(t *testing.T) {
	t.Parallel()

	a, err := Lookup("minmax_smoothed")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	s, ok := a.(Smoother)
	if !ok {
		t.Fatal("minmax_smoothed should request smoothed calibration")
	}
	if f := s.SmoothingFactor(); f <= 0 || f >= 1 {
		t.Fatalf("smoothing factor out of (0, 1): %v", f)
	}

	// Parameter derivation matches plain minmax.
	p, err := a.ActivationParams(-1, 3, &recipe.TensorSpec{Bits: 8})
	if err != nil {
		t.Fatalf("ActivationParams: %v", err)
	}
	base, _ := Lookup("minmax")
	q, err := base.ActivationParams(-1, 3, &recipe.TensorSpec{Bits: 8})
	if err != nil {
		t.Fatalf("ActivationParams: %v", err)
	}
	if p.Scales[0] != q.Scales[0] || p.ZeroPoints[0] != q.ZeroPoints[0] {
		t.Fatalf("derivation diverged: %+v vs %+v", p, q)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("minmax", minMax{})
}
