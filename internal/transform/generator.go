package transform

import (
	"fmt"
	"sort"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/params"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
)

// Generate reconciles votes into an ordered instruction list. The graph is
// only read: fresh tensor and operator IDs are reserved from the graph's
// allocation watermark without allocating, so calling Generate repeatedly
// on the same inputs returns the same instructions.
//
// Instructions come out sorted by subject tensor ID, and within one tensor
// in edit order: set parameters, insert quantize, insert dequantize, rewire.
func Generate(g *graph.Graph, votes params.Map) ([]Instruction, error) {
	gen := &generator{
		g:          g,
		nextTensor: g.PeekNextTensorID(),
		nextOp:     g.PeekNextOpID(),
	}

	ids := make([]graph.TensorID, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := gen.tensor(votes[id]); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(gen.out, func(i, j int) bool {
		a, b := gen.out[i], gen.out[j]
		if a.Tensor != b.Tensor {
			return a.Tensor < b.Tensor
		}
		return a.Kind < b.Kind
	})
	return gen.out, nil
}

type generator struct {
	g          *graph.Graph
	nextTensor graph.TensorID
	nextOp     graph.OpID
	out        []Instruction
}

func (gen *generator) reserve() (graph.TensorID, graph.OpID) {
	t, o := gen.nextTensor, gen.nextOp
	gen.nextTensor++
	gen.nextOp++
	return t, o
}

func (gen *generator) emit(in Instruction) { gen.out = append(gen.out, in) }

type edge struct {
	op   graph.OpID
	slot int
}

func (gen *generator) tensor(r *params.TensorRecord) error {
	t, ok := gen.g.Tensor(r.Tensor)
	if !ok {
		return fmt.Errorf("transform: vote on unknown tensor %d", r.Tensor)
	}

	// Decide whether the tensor itself holds quantized values. A producer
	// emitting quantized values forces it; a constant holds whatever its
	// voters agree on, and they must agree.
	var stored *quant.Params
	if r.Producer != nil {
		stored = r.Producer.Params
	}
	if t.IsConstant() {
		for i := range r.Consumers {
			v := &r.Consumers[i]
			if v.Transform == params.TransformNone {
				continue
			}
			if stored == nil {
				stored = v.Params
			} else if !stored.Equal(v.Params) {
				return &ConflictError{Tensor: t.Name}
			}
		}
	}

	if stored == nil {
		return gen.floatTensor(r)
	}
	return gen.quantizedTensor(r, t, stored)
}

// quantizedTensor plans edits for a tensor that will be stored quantized:
// attach parameters, then give every float reader a shared dequantize op
// and every reader wanting different parameters a requantize chain.
func (gen *generator) quantizedTensor(r *params.TensorRecord, t *graph.Tensor, stored *quant.Params) error {
	gen.emit(Instruction{Kind: KindSetQuantization, Tensor: r.Tensor, Params: stored})

	var dequantOut graph.TensorID
	needDequant := func() graph.TensorID {
		if dequantOut == graph.NoTensor {
			nt, no := gen.reserve()
			gen.emit(Instruction{Kind: KindInsertDequantize, Tensor: r.Tensor, NewTensor: nt, NewOp: no})
			dequantOut = nt
		}
		return dequantOut
	}

	voted := make(map[edge]*params.Vote, len(r.Consumers))
	for i := range r.Consumers {
		v := &r.Consumers[i]
		voted[edge{v.Op, v.Slot}] = v
	}

	for _, c := range gen.g.Consumers(r.Tensor) {
		v := voted[edge{c.Op, c.Slot}]
		switch {
		case v == nil || v.Transform == params.TransformNone || v.Transform == params.TransformAddDequantize:
			// Float reader of a quantized tensor.
			gen.emit(Instruction{Kind: KindRewire, Tensor: r.Tensor, Op: c.Op, Slot: c.Slot, Target: needDequant()})
		case v.Transform == params.TransformQuantize:
			// Reads integer values directly.
		case v.Transform == params.TransformAddQuantize:
			if v.Params.Equal(stored) {
				// The quantize/dequantize pair cancels out.
				continue
			}
			// Different parameters downstream: dequantize, then
			// requantize for this reader alone.
			src := needDequant()
			nt, no := gen.reserve()
			gen.emit(Instruction{Kind: KindInsertQuantize, Tensor: src, Params: v.Params, NewTensor: nt, NewOp: no})
			gen.emit(Instruction{Kind: KindRewire, Tensor: src, Op: c.Op, Slot: c.Slot, Target: nt})
		}
	}

	for slot, out := range gen.g.Outputs() {
		if out == r.Tensor {
			gen.emit(Instruction{Kind: KindRewire, Tensor: r.Tensor, Op: GraphOutputs, Slot: slot, Target: needDequant()})
		}
	}
	return nil
}

// floatTensor plans edits for a tensor that stays float: readers wanting
// quantized values get quantize ops, one per distinct parameter set.
func (gen *generator) floatTensor(r *params.TensorRecord) error {
	type qgroup struct {
		params *quant.Params
		out    graph.TensorID
	}
	var groups []qgroup

	for i := range r.Consumers {
		v := &r.Consumers[i]
		switch v.Transform {
		case params.TransformNone:
		case params.TransformAddQuantize:
			var target graph.TensorID
			for j := range groups {
				if groups[j].params.Equal(v.Params) {
					target = groups[j].out
					break
				}
			}
			if target == graph.NoTensor {
				nt, no := gen.reserve()
				gen.emit(Instruction{Kind: KindInsertQuantize, Tensor: r.Tensor, Params: v.Params, NewTensor: nt, NewOp: no})
				groups = append(groups, qgroup{params: v.Params, out: nt})
				target = nt
			}
			gen.emit(Instruction{Kind: KindRewire, Tensor: r.Tensor, Op: v.Op, Slot: v.Slot, Target: target})
		default:
			t, _ := gen.g.Tensor(r.Tensor)
			return fmt.Errorf("transform: tensor %q has no quantized source for %s vote", t.Name, v.Transform)
		}
	}
	return nil
}
