package params

import (
	"fmt"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/algorithm"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/calibrate"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
)

// Generate walks the graph in execution order, applies the governing recipe
// rule to every operator, and collects per-tensor votes. stats may be nil
// when no rule uses static-range quantization.
//
// Generation never mutates the graph, so running it twice over the same
// inputs yields the same votes.
func Generate(g *graph.Graph, rcp *recipe.Recipe, stats *calibrate.Stats) (Map, error) {
	m := make(Map)
	for _, opID := range g.OpIDs() {
		op, _ := g.Operator(opID)
		rule := rcp.Resolve(op.Name, op.Code)
		if rule == nil {
			continue
		}
		if err := checkScheme(op, rule); err != nil {
			return nil, err
		}
		alg, err := algorithm.Lookup(rule.Algorithm)
		if err != nil {
			return nil, err
		}

		weightParams, err := voteWeight(m, g, op, rcp, rule, alg)
		if err != nil {
			return nil, err
		}
		if rule.Mode != recipe.ModeStatic {
			continue
		}
		if err := voteStatic(m, g, op, rcp, rule, alg, stats, weightParams); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func checkScheme(op *graph.Operator, rule *recipe.Rule) error {
	if rule.Acts != nil {
		if rule.Acts.PerChannel {
			return &InvalidSchemeError{Op: op.Name, Reason: "per-channel activations are not executable"}
		}
		if rule.Acts.Bits == 16 && !rule.Acts.Symmetric {
			return &InvalidSchemeError{Op: op.Name, Reason: "16-bit activations must be symmetric"}
		}
		if rule.Acts.Bits == 4 {
			return &InvalidSchemeError{Op: op.Name, Reason: "4-bit activations are not executable"}
		}
	}
	if rule.Weights != nil && rule.Weights.Bits == 4 {
		if _, ok := weightSlot[op.Code]; !ok && rule.Mode != recipe.ModeWeightOnly {
			return &InvalidSchemeError{Op: op.Name, Reason: "4-bit weights need a weight-bearing operator"}
		}
	}
	return nil
}

// voteWeight casts the weight-edge vote for the operator, returning the
// derived weight parameters for bias handling. Constants below the rule's
// size floor, excluded tensors, and ops without weights stay untouched.
func voteWeight(m Map, g *graph.Graph, op *graph.Operator, rcp *recipe.Recipe, rule *recipe.Rule, alg algorithm.Algorithm) (*quant.Params, error) {
	slot, ok := weightSlot[op.Code]
	if !ok || rule.Weights == nil || slot >= len(op.Inputs) {
		return nil, nil
	}
	id := op.Inputs[slot]
	if id == graph.NoTensor {
		return nil, nil
	}
	t, _ := g.Tensor(id)
	if !t.IsConstant() || rcp.TensorExcluded(t.Name) {
		return nil, nil
	}
	vals, err := quant.DecodeFloats(t.Data, t.DType)
	if err != nil {
		return nil, fmt.Errorf("weight %q: %w", t.Name, err)
	}
	if len(vals) < rule.MinWeightElements {
		return nil, nil
	}
	axis := -1
	if rule.Weights.PerChannel {
		axis = channelAxis(op.Code, t.Shape)
		if axis < 0 || axis >= len(t.Shape) {
			return nil, &InvalidSchemeError{
				Op:     op.Name,
				Reason: fmt.Sprintf("per-channel axis %d out of range for weight %q of rank %d", axis, t.Name, len(t.Shape)),
			}
		}
	}
	p, err := alg.WeightParams(vals, t.Shape, rule.Weights, axis)
	if err != nil {
		return nil, fmt.Errorf("weight %q: %w", t.Name, err)
	}
	kind := TransformQuantize
	if rule.Mode == recipe.ModeWeightOnly {
		kind = TransformAddDequantize
	}
	r := m.record(id)
	r.Consumers = append(r.Consumers, Vote{Op: op.ID, Slot: slot, Transform: kind, Params: p})
	return p, nil
}

func voteStatic(m Map, g *graph.Graph, op *graph.Operator, rcp *recipe.Recipe, rule *recipe.Rule, alg algorithm.Algorithm, stats *calibrate.Stats, weightParams *quant.Params) error {
	actParams := func(t *graph.Tensor) (*quant.Params, error) {
		// Constants carry their range with them; no calibration needed.
		if t.IsConstant() {
			vals, err := quant.DecodeFloats(t.Data, t.DType)
			if err != nil {
				return nil, fmt.Errorf("constant %q: %w", t.Name, err)
			}
			lo, hi := quant.MinMax(vals)
			return alg.ActivationParams(lo, hi, rule.Acts)
		}
		if stats == nil {
			return nil, &MissingCalibrationError{Tensor: t.Name, Op: op.Name}
		}
		lo, hi, ok := stats.Range(t.Name)
		if !ok {
			return nil, &MissingCalibrationError{Tensor: t.Name, Op: op.Name}
		}
		return alg.ActivationParams(lo, hi, rule.Acts)
	}

	if passThrough[op.Code] {
		if len(op.Inputs) == 0 || len(op.Outputs) == 0 {
			return nil
		}
		in, _ := g.Tensor(op.Inputs[0])
		out, _ := g.Tensor(op.Outputs[0])
		if rcp.TensorExcluded(in.Name) {
			return nil
		}
		p, err := actParams(in)
		if err != nil {
			return err
		}
		r := m.record(in.ID)
		r.Consumers = append(r.Consumers, Vote{Op: op.ID, Slot: 0, Transform: TransformAddQuantize, Params: p})
		// The op computes at the input scale either way. An excluded output
		// still gets that scale on the producer side, so the conversion back
		// to float lands on the output boundary, after this op.
		r = m.record(out.ID)
		r.Producer = &Vote{Op: op.ID, Transform: TransformAddDequantize, Params: p.Clone()}
		return nil
	}

	ignore := ignoredSlots(op.Code)
	wSlot, hasW := weightSlot[op.Code]
	bSlot, hasB := biasSlot[op.Code]

	var firstActParams *quant.Params
	for slot, id := range op.Inputs {
		if id == graph.NoTensor || ignore[slot] {
			continue
		}
		if hasW && slot == wSlot || hasB && slot == bSlot {
			continue
		}
		t, _ := g.Tensor(id)
		if rcp.TensorExcluded(t.Name) {
			continue
		}
		p, err := actParams(t)
		if err != nil {
			return err
		}
		if firstActParams == nil {
			firstActParams = p
		}
		r := m.record(id)
		r.Consumers = append(r.Consumers, Vote{Op: op.ID, Slot: slot, Transform: TransformAddQuantize, Params: p})
	}

	for _, id := range op.Outputs {
		t, _ := g.Tensor(id)
		if rcp.TensorExcluded(t.Name) {
			continue
		}
		p, err := actParams(t)
		if err != nil {
			return err
		}
		r := m.record(id)
		r.Producer = &Vote{Op: op.ID, Transform: TransformAddDequantize, Params: p}
	}

	if hasB && bSlot < len(op.Inputs) && weightParams != nil && firstActParams != nil {
		id := op.Inputs[bSlot]
		if id == graph.NoTensor {
			return nil
		}
		t, _ := g.Tensor(id)
		if !t.IsConstant() || rcp.TensorExcluded(t.Name) {
			return nil
		}
		vals, err := quant.DecodeFloats(t.Data, t.DType)
		if err != nil {
			return fmt.Errorf("bias %q: %w", t.Name, err)
		}
		bp, _, err := quant.QuantizeBias(vals, firstActParams, weightParams)
		if err != nil {
			return fmt.Errorf("bias %q: %w", t.Name, err)
		}
		r := m.record(id)
		r.Consumers = append(r.Consumers, Vote{Op: op.ID, Slot: bSlot, Transform: TransformQuantize, Params: bp})
	}
	return nil
}
