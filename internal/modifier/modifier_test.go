package modifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/calibrate"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

func f32bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func encodedModel(t *testing.T) []byte {
	t.Helper()
	data, err := mgf.Encode(&mgf.Model{
		Name:     "fc",
		Producer: "test",
		Tensors: []mgf.Tensor{
			{Name: "input", DType: mgf.DTypeF32, Shape: []int64{1, 2}, Buffer: -1},
			{Name: "weight", DType: mgf.DTypeF32, Shape: []int64{2, 2}, Buffer: 0},
			{Name: "logits", DType: mgf.DTypeF32, Shape: []int64{1, 2}, Buffer: -1},
		},
		Operators: []mgf.Operator{
			{Code: mgf.OpFullyConnected, Name: "dense", Inputs: []int32{0, 1, -1}, Outputs: []int32{2}},
		},
		Inputs:  []int32{0},
		Outputs: []int32{2},
		Buffers: [][]byte{f32bytes(-1, 0.5, 4, -2)},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func dynamicRecipe(t *testing.T) *recipe.Recipe {
	t.Helper()
	r := &recipe.Recipe{Rules: []recipe.Rule{{
		Scope: ".*", Op: "fully_connected", Mode: recipe.ModeDynamic,
		Weights: &recipe.TensorSpec{Bits: 8, Symmetric: true},
	}}}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return r
}

func TestQuantizeDynamic(t *testing.T) {
	t.Parallel()

	m := &Modifier{Recipe: dynamicRecipe(t)}
	res, err := m.Quantize(context.Background(), encodedModel(t), nil, nil)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if res.Instructions != 1 {
		t.Fatalf("instructions: got %d want 1", res.Instructions)
	}

	out, err := mgf.Decode(res.Data)
	if err != nil {
		t.Fatalf("Decode output: %v", err)
	}
	g, err := graph.FromModel(out)
	if err != nil {
		t.Fatalf("FromModel: %v", err)
	}
	w, ok := g.FindTensor("weight")
	if !ok || w.DType != mgf.DTypeI8 || w.Quant == nil {
		t.Fatalf("weight: %+v", w)
	}
}

func TestQuantizeIsRepeatable(t *testing.T) {
	t.Parallel()

	data := encodedModel(t)
	m := &Modifier{Recipe: dynamicRecipe(t)}
	a, err := m.Quantize(context.Background(), data, nil, nil)
	if err != nil {
		t.Fatalf("Quantize a: %v", err)
	}
	b, err := m.Quantize(context.Background(), data, nil, nil)
	if err != nil {
		t.Fatalf("Quantize b: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("same model and recipe produced different bytes")
	}
}

func TestQuantizeStaticWithPrecomputedStats(t *testing.T) {
	t.Parallel()

	r := &recipe.Recipe{Rules: []recipe.Rule{{
		Scope: ".*", Op: recipe.MatchAllOps, Mode: recipe.ModeStatic,
		Weights: &recipe.TensorSpec{Bits: 8, Symmetric: true},
		Acts:    &recipe.TensorSpec{Bits: 8},
	}}}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	stats := &calibrate.Stats{
		RunID:   "precomputed",
		Batches: 1,
		PerTensor: map[string]calibrate.TensorStats{
			"input":  {Min: -1, Max: 1, Batches: 1},
			"logits": {Min: -4, Max: 4, Batches: 1},
		},
	}

	m := &Modifier{Recipe: r}
	res, err := m.Quantize(context.Background(), encodedModel(t), nil, stats)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}

	out, err := mgf.Decode(res.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	g, err := graph.FromModel(out)
	if err != nil {
		t.Fatalf("FromModel: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// quantize at the head, dequantize at the tail.
	ops := g.OpIDs()
	if len(ops) != 3 {
		t.Fatalf("op count: got %d want 3", len(ops))
	}
	first, _ := g.Operator(ops[0])
	last, _ := g.Operator(ops[2])
	if first.Code != mgf.OpQuantize || last.Code != mgf.OpDequantize {
		t.Fatalf("op codes: first %s last %s", first.Code, last.Code)
	}
}

func TestQuantizeStaticWithoutStatsOrEngine(t *testing.T) {
	t.Parallel()

	r := &recipe.Recipe{Rules: []recipe.Rule{{
		Scope: ".*", Op: recipe.MatchAllOps, Mode: recipe.ModeStatic,
		Weights: &recipe.TensorSpec{Bits: 8, Symmetric: true},
		Acts:    &recipe.TensorSpec{Bits: 8},
	}}}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	m := &Modifier{Recipe: r}
	if _, err := m.Quantize(context.Background(), encodedModel(t), nil, nil); err == nil {
		t.Fatal("expected error without stats or engine")
	}
}

func TestQuantizeFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "model.mgf")
	out := filepath.Join(dir, "model.q.mgf")
	model, err := mgf.Decode(encodedModel(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := mgf.WriteFile(in, model); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := &Modifier{Recipe: dynamicRecipe(t)}
	if _, err := m.QuantizeFile(context.Background(), in, out, nil, nil); err != nil {
		t.Fatalf("QuantizeFile: %v", err)
	}
	f, err := mgf.Open(out)
	if err != nil {
		t.Fatalf("Open output: %v", err)
	}
	defer f.Close()
	got, err := mgf.DecodeFile(f)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if got.Tensors[1].DType != mgf.DTypeI8 {
		t.Fatalf("weight dtype in file: %v", got.Tensors[1].DType)
	}
}

func TestRecipeSmoothing(t *testing.T) {
	t.Parallel()

	r := &recipe.Recipe{Rules: []recipe.Rule{{
		Scope: ".*", Op: recipe.MatchAllOps, Algorithm: "minmax_smoothed", Mode: recipe.ModeStatic,
		Weights: &recipe.TensorSpec{Bits: 8, Symmetric: true},
		Acts:    &recipe.TensorSpec{Bits: 8},
	}}}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := recipeSmoothing(r); got != 0.99 {
		t.Fatalf("smoothing: got %v want 0.99", got)
	}
	if got := recipeSmoothing(dynamicRecipe(t)); got != 0 {
		t.Fatalf("dynamic recipe should not smooth, got %v", got)
	}
}
