// Package transform turns per-tensor quantization votes into an ordered
// instruction list and applies that list to a graph. Generation is a pure
// function of the graph and votes; application is the only step that
// mutates the model.
package transform

import (
	"fmt"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
)

// Kind is the edit an instruction performs.
type Kind int

const (
	// KindSetQuantization attaches parameters to a tensor, re-encoding
	// its payload when the tensor is constant.
	KindSetQuantization Kind = iota
	// KindInsertQuantize adds a quantize op reading the tensor and
	// producing a fresh quantized tensor.
	KindInsertQuantize
	// KindInsertDequantize adds a dequantize op reading the tensor and
	// producing a fresh float tensor.
	KindInsertDequantize
	// KindRewire repoints one consumer edge at a different tensor.
	KindRewire
)

func (k Kind) String() string {
	switch k {
	case KindSetQuantization:
		return "set_quantization"
	case KindInsertQuantize:
		return "insert_quantize"
	case KindInsertDequantize:
		return "insert_dequantize"
	case KindRewire:
		return "rewire"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// GraphOutputs is the Rewire consumer value addressing the graph output
// list instead of an operator; Slot is then an output index.
const GraphOutputs graph.OpID = 0

// Instruction is one edit. Tensor is the subject the instruction groups
// under; insert kinds carry pre-reserved IDs for the tensor and operator
// they will create, so generation stays free of graph mutation.
type Instruction struct {
	Kind   Kind
	Tensor graph.TensorID

	// Set and insert-quantize parameters.
	Params *quant.Params

	// Insert kinds.
	NewTensor graph.TensorID
	NewOp     graph.OpID

	// Rewire: consumer operator (GraphOutputs for the output list),
	// input slot or output index, and the tensor to read instead.
	Op     graph.OpID
	Slot   int
	Target graph.TensorID
}

// ConflictError reports consumers that cast incompatible votes on a tensor
// that must hold a single set of parameters.
type ConflictError struct {
	Tensor string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting quantization parameters for constant tensor %q", e.Tensor)
}

// IntegrityError wraps a structural check failure after application.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("transformed graph failed integrity check: %v", e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }
