// Package graph holds the mutable in-memory form of an MGF model: an arena
// of tensors and operators addressed by stable logical IDs, plus the
// ID-to-position bookkeeping needed to keep references valid while the
// structure is edited.
package graph

import (
	"errors"
	"fmt"

	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// TensorID is the stable logical identity of a tensor. It never changes as
// the graph is edited, unlike the tensor's position in the serialized table.
// The zero value is reserved and never allocated.
type TensorID uint32

// OpID is the stable logical identity of an operator. The zero value is
// reserved; instruction consumers use it to address the graph output list.
type OpID uint32

// NoTensor marks an absent optional operator input.
const NoTensor TensorID = 0

// Tensor is a graph tensor. Data is nil unless the tensor is constant.
type Tensor struct {
	ID    TensorID
	Name  string
	DType mgf.DType
	Shape []int64
	Data  []byte
	Quant *mgf.Quantization
}

// IsConstant reports whether the tensor carries a constant payload.
func (t *Tensor) IsConstant() bool { return t.Data != nil }

// Operator is a graph operator. Inputs and Outputs reference tensors by
// logical ID; NoTensor marks an absent optional input.
type Operator struct {
	ID      OpID
	Code    mgf.OpCode
	Name    string
	Inputs  []TensorID
	Outputs []TensorID
}

// Consumer identifies one (operator, input slot) edge.
type Consumer struct {
	Op   OpID
	Slot int
}

// Graph is a mutable model graph.
type Graph struct {
	name     string
	producer string

	tensors map[TensorID]*Tensor
	ops     map[OpID]*Operator

	tensorOrder []TensorID
	opOrder     []OpID
	tensorPos   map[TensorID]int
	opPos       map[OpID]int

	inputs  []TensorID
	outputs []TensorID

	nextTensor TensorID
	nextOp     OpID
}

// ErrNotFound is returned when a logical ID does not resolve.
var ErrNotFound = errors.New("graph: id not found")

// FromModel builds a graph from a decoded model, assigning logical IDs in
// table order. Constant payloads are copied so the graph owns its memory.
func FromModel(m *mgf.Model) (*Graph, error) {
	g := &Graph{
		name:       m.Name,
		producer:   m.Producer,
		tensors:    make(map[TensorID]*Tensor, len(m.Tensors)),
		ops:        make(map[OpID]*Operator, len(m.Operators)),
		tensorPos:  make(map[TensorID]int, len(m.Tensors)),
		opPos:      make(map[OpID]int, len(m.Operators)),
		nextTensor: 1,
		nextOp:     1,
	}

	posToID := make([]TensorID, len(m.Tensors))
	for i := range m.Tensors {
		src := &m.Tensors[i]
		t := &Tensor{
			ID:    g.nextTensor,
			Name:  src.Name,
			DType: src.DType,
			Shape: append([]int64(nil), src.Shape...),
			Quant: src.Quant.Clone(),
		}
		if src.Buffer >= 0 {
			if int(src.Buffer) >= len(m.Buffers) {
				return nil, fmt.Errorf("graph: tensor %q references buffer %d of %d", src.Name, src.Buffer, len(m.Buffers))
			}
			t.Data = append([]byte(nil), m.Buffers[src.Buffer]...)
		}
		g.nextTensor++
		posToID[i] = t.ID
		g.tensors[t.ID] = t
		g.tensorPos[t.ID] = len(g.tensorOrder)
		g.tensorOrder = append(g.tensorOrder, t.ID)
	}

	resolve := func(pos int32) (TensorID, error) {
		if pos == -1 {
			return NoTensor, nil
		}
		if pos < 0 || int(pos) >= len(posToID) {
			return NoTensor, fmt.Errorf("graph: tensor position %d out of range", pos)
		}
		return posToID[pos], nil
	}

	for i := range m.Operators {
		src := &m.Operators[i]
		op := &Operator{
			ID:   g.nextOp,
			Code: src.Code,
			Name: src.Name,
		}
		for _, pos := range src.Inputs {
			id, err := resolve(pos)
			if err != nil {
				return nil, err
			}
			op.Inputs = append(op.Inputs, id)
		}
		for _, pos := range src.Outputs {
			id, err := resolve(pos)
			if err != nil {
				return nil, err
			}
			if id == NoTensor {
				return nil, fmt.Errorf("graph: operator %q has absent output", src.Name)
			}
			op.Outputs = append(op.Outputs, id)
		}
		g.nextOp++
		g.ops[op.ID] = op
		g.opPos[op.ID] = len(g.opOrder)
		g.opOrder = append(g.opOrder, op.ID)
	}

	for _, pos := range m.Inputs {
		id, err := resolve(pos)
		if err != nil {
			return nil, err
		}
		g.inputs = append(g.inputs, id)
	}
	for _, pos := range m.Outputs {
		id, err := resolve(pos)
		if err != nil {
			return nil, err
		}
		g.outputs = append(g.outputs, id)
	}
	return g, nil
}

// ToModel serializes the graph back to table form. Tensor and operator
// positions follow the current order; buffers are emitted for constant
// tensors in tensor order, so encoding is deterministic.
func (g *Graph) ToModel() *mgf.Model {
	m := &mgf.Model{
		Name:     g.name,
		Producer: g.producer,
	}
	for _, id := range g.tensorOrder {
		t := g.tensors[id]
		out := mgf.Tensor{
			Name:   t.Name,
			DType:  t.DType,
			Shape:  append([]int64(nil), t.Shape...),
			Buffer: -1,
			Quant:  t.Quant.Clone(),
		}
		if t.Data != nil {
			out.Buffer = int32(len(m.Buffers))
			m.Buffers = append(m.Buffers, append([]byte(nil), t.Data...))
		}
		m.Tensors = append(m.Tensors, out)
	}
	pos := func(id TensorID) int32 {
		if id == NoTensor {
			return -1
		}
		return int32(g.tensorPos[id])
	}
	for _, opID := range g.opOrder {
		op := g.ops[opID]
		out := mgf.Operator{Code: op.Code, Name: op.Name}
		for _, id := range op.Inputs {
			out.Inputs = append(out.Inputs, pos(id))
		}
		for _, id := range op.Outputs {
			out.Outputs = append(out.Outputs, pos(id))
		}
		m.Operators = append(m.Operators, out)
	}
	for _, id := range g.inputs {
		m.Inputs = append(m.Inputs, pos(id))
	}
	for _, id := range g.outputs {
		m.Outputs = append(m.Outputs, pos(id))
	}
	return m
}

// Clone returns an independent deep copy with identical logical IDs.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		name:       g.name,
		producer:   g.producer,
		tensors:    make(map[TensorID]*Tensor, len(g.tensors)),
		ops:        make(map[OpID]*Operator, len(g.ops)),
		tensorPos:  make(map[TensorID]int, len(g.tensorPos)),
		opPos:      make(map[OpID]int, len(g.opPos)),
		nextTensor: g.nextTensor,
		nextOp:     g.nextOp,
	}
	out.tensorOrder = append([]TensorID(nil), g.tensorOrder...)
	out.opOrder = append([]OpID(nil), g.opOrder...)
	out.inputs = append([]TensorID(nil), g.inputs...)
	out.outputs = append([]TensorID(nil), g.outputs...)
	for id, t := range g.tensors {
		c := &Tensor{
			ID:    t.ID,
			Name:  t.Name,
			DType: t.DType,
			Shape: append([]int64(nil), t.Shape...),
			Quant: t.Quant.Clone(),
		}
		if t.Data != nil {
			c.Data = append([]byte(nil), t.Data...)
		}
		out.tensors[id] = c
		out.tensorPos[id] = g.tensorPos[id]
	}
	for id, op := range g.ops {
		c := &Operator{
			ID:      op.ID,
			Code:    op.Code,
			Name:    op.Name,
			Inputs:  append([]TensorID(nil), op.Inputs...),
			Outputs: append([]TensorID(nil), op.Outputs...),
		}
		out.ops[id] = c
		out.opPos[id] = g.opPos[id]
	}
	return out
}

// Name returns the model name.
func (g *Graph) Name() string { return g.name }

// Tensor resolves a logical tensor ID.
func (g *Graph) Tensor(id TensorID) (*Tensor, bool) {
	t, ok := g.tensors[id]
	return t, ok
}

// Operator resolves a logical operator ID.
func (g *Graph) Operator(id OpID) (*Operator, bool) {
	op, ok := g.ops[id]
	return op, ok
}

// TensorIDs returns the tensor IDs in table order.
func (g *Graph) TensorIDs() []TensorID {
	return append([]TensorID(nil), g.tensorOrder...)
}

// OpIDs returns the operator IDs in execution order.
func (g *Graph) OpIDs() []OpID {
	return append([]OpID(nil), g.opOrder...)
}

// Inputs returns the graph input tensor IDs.
func (g *Graph) Inputs() []TensorID { return append([]TensorID(nil), g.inputs...) }

// Outputs returns the graph output tensor IDs.
func (g *Graph) Outputs() []TensorID { return append([]TensorID(nil), g.outputs...) }

// SetOutput repoints one graph output slot.
func (g *Graph) SetOutput(slot int, id TensorID) error {
	if slot < 0 || slot >= len(g.outputs) {
		return fmt.Errorf("graph: output slot %d out of range", slot)
	}
	if _, ok := g.tensors[id]; !ok {
		return ErrNotFound
	}
	g.outputs[slot] = id
	return nil
}

// Producer returns the operator producing the tensor, if any.
func (g *Graph) Producer(id TensorID) (OpID, bool) {
	for _, opID := range g.opOrder {
		for _, out := range g.ops[opID].Outputs {
			if out == id {
				return opID, true
			}
		}
	}
	return 0, false
}

// Consumers returns every (operator, slot) edge reading the tensor, in
// execution order.
func (g *Graph) Consumers(id TensorID) []Consumer {
	var out []Consumer
	for _, opID := range g.opOrder {
		for slot, in := range g.ops[opID].Inputs {
			if in == id {
				out = append(out, Consumer{Op: opID, Slot: slot})
			}
		}
	}
	return out
}

// FindTensor looks a tensor up by name.
func (g *Graph) FindTensor(name string) (*Tensor, bool) {
	for _, id := range g.tensorOrder {
		if g.tensors[id].Name == name {
			return g.tensors[id], true
		}
	}
	return nil, false
}

// PeekNextTensorID returns the next tensor ID that will be allocated,
// without allocating it. Instruction generation uses this to reserve IDs
// that application will later materialize.
func (g *Graph) PeekNextTensorID() TensorID { return g.nextTensor }

// PeekNextOpID returns the next operator ID that will be allocated.
func (g *Graph) PeekNextOpID() OpID { return g.nextOp }

// AddTensorAt inserts a new tensor into the table just after position pos
// (append when pos is past the end). The tensor must carry an unallocated ID
// at or above the current allocation watermark.
func (g *Graph) AddTensorAt(t *Tensor, pos int) error {
	if t.ID == NoTensor {
		return errors.New("graph: tensor needs an explicit id")
	}
	if _, exists := g.tensors[t.ID]; exists {
		return fmt.Errorf("graph: tensor id %d already present", t.ID)
	}
	if t.ID < g.nextTensor {
		return fmt.Errorf("graph: tensor id %d below allocation watermark %d", t.ID, g.nextTensor)
	}
	g.nextTensor = t.ID + 1
	g.tensors[t.ID] = t
	if pos < 0 || pos >= len(g.tensorOrder) {
		g.tensorPos[t.ID] = len(g.tensorOrder)
		g.tensorOrder = append(g.tensorOrder, t.ID)
		return nil
	}
	at := pos + 1
	g.tensorOrder = append(g.tensorOrder, 0)
	copy(g.tensorOrder[at+1:], g.tensorOrder[at:])
	g.tensorOrder[at] = t.ID
	for i := at; i < len(g.tensorOrder); i++ {
		g.tensorPos[g.tensorOrder[i]] = i
	}
	return nil
}

// TensorPos returns the current table position of a tensor.
func (g *Graph) TensorPos(id TensorID) (int, bool) {
	pos, ok := g.tensorPos[id]
	return pos, ok
}

// OpPos returns the current execution position of an operator.
func (g *Graph) OpPos(id OpID) (int, bool) {
	pos, ok := g.opPos[id]
	return pos, ok
}

// InsertOperatorAt inserts an operator at execution position pos, shifting
// later operators. The operator must carry an unallocated ID at or above the
// allocation watermark.
func (g *Graph) InsertOperatorAt(op *Operator, pos int) error {
	if op.ID == 0 {
		return errors.New("graph: operator needs an explicit id")
	}
	if _, exists := g.ops[op.ID]; exists {
		return fmt.Errorf("graph: operator id %d already present", op.ID)
	}
	if op.ID < g.nextOp {
		return fmt.Errorf("graph: operator id %d below allocation watermark %d", op.ID, g.nextOp)
	}
	g.nextOp = op.ID + 1
	g.ops[op.ID] = op
	if pos < 0 || pos > len(g.opOrder) {
		pos = len(g.opOrder)
	}
	g.opOrder = append(g.opOrder, 0)
	copy(g.opOrder[pos+1:], g.opOrder[pos:])
	g.opOrder[pos] = op.ID
	for i := pos; i < len(g.opOrder); i++ {
		g.opPos[g.opOrder[i]] = i
	}
	return nil
}

// SetInput repoints one operator input slot.
func (g *Graph) SetInput(opID OpID, slot int, id TensorID) error {
	op, ok := g.ops[opID]
	if !ok {
		return ErrNotFound
	}
	if slot < 0 || slot >= len(op.Inputs) {
		return fmt.Errorf("graph: input slot %d out of range for operator %q", slot, op.Name)
	}
	if _, ok := g.tensors[id]; !ok {
		return ErrNotFound
	}
	op.Inputs[slot] = id
	return nil
}
