// Package calibrate runs representative data through an inference engine
// and records the value range every float tensor takes on. The resulting
// statistics feed static-range parameter generation.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/logger"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/quant"
)

// Engine executes a model graph on one batch of inputs, keyed by input
// tensor name, and reports the values observed at every float tensor,
// keyed by tensor name.
type Engine interface {
	Run(ctx context.Context, g *graph.Graph, feed Batch) (map[string][]float32, error)
}

// Batch is one set of model inputs, keyed by input tensor name.
type Batch map[string][]float32

// TensorStats is the accumulated range for one tensor.
type TensorStats struct {
	Min     float32 `json:"min"`
	Max     float32 `json:"max"`
	Batches int     `json:"batches"`
}

// Stats is the outcome of a calibration run.
type Stats struct {
	RunID         string                 `json:"run_id"`
	Batches       int                    `json:"batches"`
	FailedBatches []int                  `json:"failed_batches,omitempty"`
	PerTensor     map[string]TensorStats `json:"per_tensor"`
}

// Incomplete reports whether any batch failed.
func (s *Stats) Incomplete() bool { return len(s.FailedBatches) > 0 }

// Range returns the observed range for a tensor name.
func (s *Stats) Range(name string) (min, max float32, ok bool) {
	ts, ok := s.PerTensor[name]
	return ts.Min, ts.Max, ok
}

// EngineError wraps a failure from the inference engine on one batch.
type EngineError struct {
	Batch int
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("calibration batch %d: %v", e.Batch, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Calibrator drives an engine over a batch set.
//
// With Smoothing zero, batches run concurrently (Workers at a time) and
// ranges merge by widening, so the result does not depend on completion
// order. A nonzero Smoothing selects the exponential moving average update,
// which is order dependent, so those runs are sequential in batch order.
type Calibrator struct {
	Engine    Engine
	Workers   int
	Smoothing float32
	Log       logger.Logger
}

// Run calibrates the graph. Individual batch failures are recorded and
// skipped; Run fails outright only when every batch fails or the context
// is cancelled.
func (c *Calibrator) Run(ctx context.Context, g *graph.Graph, batches []Batch) (*Stats, error) {
	if c.Engine == nil {
		return nil, errors.New("calibrate: no engine configured")
	}
	if len(batches) == 0 {
		return nil, errors.New("calibrate: no batches provided")
	}
	log := c.Log
	if log == nil {
		log = logger.Discard()
	}

	stats := &Stats{
		RunID:     uuid.NewString(),
		Batches:   len(batches),
		PerTensor: make(map[string]TensorStats),
	}
	log.Debug("calibration started", "run_id", stats.RunID, "batches", len(batches))

	var failed []int
	if c.Smoothing > 0 {
		for i, b := range batches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			observed, err := c.Engine.Run(ctx, g, b)
			if err != nil {
				log.Warn("calibration batch failed", "batch", i, "error", err)
				failed = append(failed, i)
				continue
			}
			mergeSmoothed(stats.PerTensor, observed, c.Smoothing)
		}
	} else {
		workers := c.Workers
		if workers <= 0 {
			workers = 1
		}
		var mu sync.Mutex
		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(workers)
		for i, b := range batches {
			eg.Go(func() error {
				observed, err := c.Engine.Run(ctx, g, b)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if ctx.Err() != nil {
						return context.Cause(ctx)
					}
					log.Warn("calibration batch failed", "batch", i, "error", err)
					failed = append(failed, i)
					return nil
				}
				mergeWiden(stats.PerTensor, observed)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	if len(failed) == len(batches) {
		return nil, &EngineError{Batch: failed[0], Err: errors.New("every batch failed")}
	}
	sort.Ints(failed)
	stats.FailedBatches = failed
	log.Info("calibration finished",
		"run_id", stats.RunID,
		"tensors", len(stats.PerTensor),
		"failed_batches", len(failed))
	return stats, nil
}

func mergeWiden(acc map[string]TensorStats, observed map[string][]float32) {
	for name, vals := range observed {
		if len(vals) == 0 {
			continue
		}
		lo, hi := quant.MinMax(vals)
		ts, seen := acc[name]
		if !seen {
			acc[name] = TensorStats{Min: lo, Max: hi, Batches: 1}
			continue
		}
		if lo < ts.Min {
			ts.Min = lo
		}
		if hi > ts.Max {
			ts.Max = hi
		}
		ts.Batches++
		acc[name] = ts
	}
}

func mergeSmoothed(acc map[string]TensorStats, observed map[string][]float32, factor float32) {
	for name, vals := range observed {
		if len(vals) == 0 {
			continue
		}
		lo, hi := quant.MinMax(vals)
		ts, seen := acc[name]
		if !seen {
			acc[name] = TensorStats{Min: lo, Max: hi, Batches: 1}
			continue
		}
		ts.Min, ts.Max = quant.SmoothedUpdate(ts.Min, ts.Max, lo, hi, factor)
		ts.Batches++
		acc[name] = ts
	}
}
