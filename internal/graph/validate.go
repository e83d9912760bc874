package graph

import "fmt"

// Validate checks structural consistency: every reference resolves, every
// operator input is available before the operator runs (graph input,
// constant, or produced earlier in execution order), every tensor has at
// most one producer, and every graph output is produced or constant.
func (g *Graph) Validate() error {
	available := make(map[TensorID]bool, len(g.tensors))
	for _, id := range g.inputs {
		if _, ok := g.tensors[id]; !ok {
			return fmt.Errorf("graph: input references unknown tensor %d", id)
		}
		available[id] = true
	}
	for _, id := range g.tensorOrder {
		if g.tensors[id].IsConstant() {
			available[id] = true
		}
	}

	produced := make(map[TensorID]OpID, len(g.tensors))
	for _, opID := range g.opOrder {
		op := g.ops[opID]
		for slot, in := range op.Inputs {
			if in == NoTensor {
				continue
			}
			if _, ok := g.tensors[in]; !ok {
				return fmt.Errorf("graph: operator %q input %d references unknown tensor %d", op.Name, slot, in)
			}
			if !available[in] {
				return fmt.Errorf("graph: operator %q reads tensor %d before it is produced", op.Name, in)
			}
		}
		for _, out := range op.Outputs {
			if _, ok := g.tensors[out]; !ok {
				return fmt.Errorf("graph: operator %q output references unknown tensor %d", op.Name, out)
			}
			if prev, dup := produced[out]; dup {
				return fmt.Errorf("graph: tensor %d produced by both operator %d and %d", out, prev, opID)
			}
			produced[out] = opID
			available[out] = true
		}
	}

	for _, id := range g.outputs {
		if _, ok := g.tensors[id]; !ok {
			return fmt.Errorf("graph: output references unknown tensor %d", id)
		}
		if !available[id] {
			return fmt.Errorf("graph: output tensor %d is never produced", id)
		}
	}
	return nil
}
