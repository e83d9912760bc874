// Package params walks a model graph against a recipe and produces, for
// every tensor touched by quantization, the set of votes cast by its
// producer and consumers. A vote names the edge's operator, the state the
// operator wants the tensor in, and the quantization parameters to use.
// Votes are reconciled into concrete edits by the transform package.
package params

import (
	"fmt"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// TransformKind is the change one edge asks for on a tensor.
type TransformKind int

const (
	// TransformNone leaves the edge in float.
	TransformNone TransformKind = iota
	// TransformQuantize stores the tensor quantized with no extra ops;
	// the operator reads or writes integer values directly.
	TransformQuantize
	// TransformAddQuantize wants a quantize op between a float tensor
	// and this consumer.
	TransformAddQuantize
	// TransformAddDequantize marks a producer emitting quantized values
	// whose float readers need a dequantize op, or a constant that is
	// stored quantized and dequantized before use.
	TransformAddDequantize
)

func (k TransformKind) String() string {
	switch k {
	case TransformNone:
		return "none"
	case TransformQuantize:
		return "quantize"
	case TransformAddQuantize:
		return "add_quantize"
	case TransformAddDequantize:
		return "add_dequantize"
	}
	return fmt.Sprintf("TransformKind(%d)", int(k))
}

// Vote is one edge's request for a tensor.
type Vote struct {
	Op        graph.OpID
	Slot      int
	Transform TransformKind
	Params    *quant.Params
}

// TensorRecord collects every vote cast on one tensor.
type TensorRecord struct {
	Tensor    graph.TensorID
	Producer  *Vote
	Consumers []Vote
}

// Map holds the per-tensor vote records for a graph.
type Map map[graph.TensorID]*TensorRecord

func (m Map) record(id graph.TensorID) *TensorRecord {
	r, ok := m[id]
	if !ok {
		r = &TensorRecord{Tensor: id}
		m[id] = r
	}
	return r
}

// MissingCalibrationError reports a static-range rule hitting a tensor with
// no recorded range.
type MissingCalibrationError struct {
	Tensor string
	Op     string
}

func (e *MissingCalibrationError) Error() string {
	return fmt.Sprintf("no calibrated range for tensor %q required by operator %q", e.Tensor, e.Op)
}

// InvalidSchemeError reports a rule asking an operator for a scheme no
// kernel implements.
type InvalidSchemeError struct {
	Op     string
	Reason string
}

func (e *InvalidSchemeError) Error() string {
	return fmt.Sprintf("operator %q: %s", e.Op, e.Reason)
}

// weightSlot maps computing op codes to the input slot holding the weight
// constant. Ops absent from the table have no weight to quantize.
var weightSlot = map[mgf.OpCode]int{
	mgf.OpConv2D:          1,
	mgf.OpDepthwiseConv2D: 1,
	mgf.OpFullyConnected:  1,
	mgf.OpBatchMatmul:     1,
	mgf.OpEmbeddingLookup: 1,
}

// biasSlot maps op codes to the optional bias input slot.
var biasSlot = map[mgf.OpCode]int{
	mgf.OpConv2D:          2,
	mgf.OpDepthwiseConv2D: 2,
	mgf.OpFullyConnected:  2,
}

// channelAxis gives the quantized dimension for per-channel weights.
// Depthwise convolutions carry the output channel last.
func channelAxis(code mgf.OpCode, shape []int64) int {
	switch code {
	case mgf.OpDepthwiseConv2D:
		return 3
	case mgf.OpBatchMatmul:
		return len(shape) - 1
	default:
		return 0
	}
}

// passThrough marks ops that carry their input scale to their output
// unchanged, so their output range is the input range, never a fresh one.
var passThrough = map[mgf.OpCode]bool{
	mgf.OpRelu:          true,
	mgf.OpReshape:       true,
	mgf.OpTranspose:     true,
	mgf.OpAveragePool2D: true,
}

// ignoredSlots lists input slots carrying structural data, never values.
func ignoredSlots(code mgf.OpCode) map[int]bool {
	switch code {
	case mgf.OpReshape, mgf.OpTranspose:
		return map[int]bool{1: true}
	case mgf.OpEmbeddingLookup:
		// Slot 0 is the lookup index vector.
		return map[int]bool{0: true}
	default:
		return nil
	}
}
