// Package algorithm maps recipe algorithm names to the routines that turn
// observed value ranges into quantization parameters. New algorithms hook in
// through Register; the built-in "minmax" algorithm covers the common case.
package algorithm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
)

// Algorithm derives quantization parameters for one tensor at a time.
type Algorithm interface {
	// WeightParams derives parameters from a constant tensor's values.
	// axis is the quantized dimension when spec asks for per-channel
	// parameters, and is ignored otherwise.
	WeightParams(vals []float32, shape []int64, spec *recipe.TensorSpec, axis int) (*quant.Params, error)

	// ActivationParams derives parameters from a calibrated value range.
	ActivationParams(min, max float32, spec *recipe.TensorSpec) (*quant.Params, error)
}

// Smoother is implemented by algorithms whose calibrated ranges should be
// folded with an exponential moving average instead of plain widening.
type Smoother interface {
	SmoothingFactor() float32
}

// UnsupportedError reports a recipe naming an algorithm nobody registered.
type UnsupportedError struct {
	Name string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("algorithm %q is not registered (have %v)", e.Name, Names())
}

var (
	mu       sync.RWMutex
	registry = map[string]Algorithm{}
)

// Register installs an algorithm under a name. Registering a taken name
// panics; algorithms are wired at program start.
func Register(name string, a Algorithm) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("algorithm: duplicate registration of %q", name))
	}
	registry[name] = a
}

// Lookup resolves a recipe algorithm name.
func Lookup(name string) (Algorithm, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[name]
	if !ok {
		return nil, &UnsupportedError{Name: name}
	}
	return a, nil
}

// Names lists the registered algorithms, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
