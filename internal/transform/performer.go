package transform

import (
	"fmt"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/logger"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// Performer applies an instruction list to a graph in order. After the
// last instruction the graph is revalidated; a failure there reports an
// IntegrityError and means the instruction list was inconsistent.
type Performer struct {
	Log logger.Logger
}

// Apply executes the instructions against g.
func (p *Performer) Apply(g *graph.Graph, ins []Instruction) error {
	log := p.Log
	if log == nil {
		log = logger.Discard()
	}
	for i := range ins {
		if err := p.apply(g, &ins[i]); err != nil {
			return fmt.Errorf("instruction %d (%s on tensor %d): %w", i, ins[i].Kind, ins[i].Tensor, err)
		}
	}
	if err := g.Validate(); err != nil {
		return &IntegrityError{Err: err}
	}
	log.Debug("transformations applied", "instructions", len(ins))
	return nil
}

func (p *Performer) apply(g *graph.Graph, in *Instruction) error {
	switch in.Kind {
	case KindSetQuantization:
		return p.setQuantization(g, in)
	case KindInsertQuantize:
		return p.insertOp(g, in, true)
	case KindInsertDequantize:
		return p.insertOp(g, in, false)
	case KindRewire:
		if in.Op == GraphOutputs {
			return g.SetOutput(in.Slot, in.Target)
		}
		return g.SetInput(in.Op, in.Slot, in.Target)
	}
	return fmt.Errorf("unknown instruction kind %d", int(in.Kind))
}

func (p *Performer) setQuantization(g *graph.Graph, in *Instruction) error {
	t, ok := g.Tensor(in.Tensor)
	if !ok {
		return graph.ErrNotFound
	}
	dt, err := quant.StorageDType(in.Params.Bits)
	if err != nil {
		return err
	}
	if t.IsConstant() {
		vals, err := quant.DecodeFloats(t.Data, t.DType)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		data, err := quant.Quantize(vals, t.Shape, in.Params)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		t.Data = data
	}
	t.DType = dt
	t.Quant = quantInfo(in.Params)
	return nil
}

// insertOp adds a quantize or dequantize operator just after the subject
// tensor's producer, or at the head of the execution order for graph
// inputs and constants.
func (p *Performer) insertOp(g *graph.Graph, in *Instruction, quantize bool) error {
	src, ok := g.Tensor(in.Tensor)
	if !ok {
		return graph.ErrNotFound
	}

	nt := &graph.Tensor{
		ID:    in.NewTensor,
		Shape: append([]int64(nil), src.Shape...),
	}
	var code mgf.OpCode
	if quantize {
		dt, err := quant.StorageDType(in.Params.Bits)
		if err != nil {
			return err
		}
		nt.DType = dt
		nt.Quant = quantInfo(in.Params)
		nt.Name = freshName(g, src.Name+"_q")
		code = mgf.OpQuantize
	} else {
		nt.DType = mgf.DTypeF32
		nt.Name = freshName(g, src.Name+"_dq")
		code = mgf.OpDequantize
	}

	srcPos, _ := g.TensorPos(in.Tensor)
	if err := g.AddTensorAt(nt, srcPos); err != nil {
		return err
	}

	opPos := 0
	if prod, ok := g.Producer(in.Tensor); ok {
		pos, _ := g.OpPos(prod)
		opPos = pos + 1
	}
	op := &graph.Operator{
		ID:      in.NewOp,
		Code:    code,
		Name:    nt.Name,
		Inputs:  []graph.TensorID{in.Tensor},
		Outputs: []graph.TensorID{in.NewTensor},
	}
	return g.InsertOperatorAt(op, opPos)
}

func quantInfo(p *quant.Params) *mgf.Quantization {
	return &mgf.Quantization{
		Scales:     append([]float32(nil), p.Scales...),
		ZeroPoints: append([]int32(nil), p.ZeroPoints...),
		Axis:       int32(p.Axis),
	}
}

func freshName(g *graph.Graph, base string) string {
	name := base
	for i := 2; ; i++ {
		if _, taken := g.FindTensor(name); !taken {
			return name
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}
