// Package modifier ties the pipeline together: decode a model, calibrate
// it when the recipe demands ranges, generate and apply transformations,
// and encode the result.
package modifier

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/algorithm"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/calibrate"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/graph"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/logger"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/params"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/transform"
	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// Modifier quantizes models according to a recipe.
type Modifier struct {
	Recipe *recipe.Recipe

	// Engine runs calibration batches when the recipe uses static-range
	// rules and no precomputed stats are supplied.
	Engine    calibrate.Engine
	Workers   int
	Smoothing float32

	Log logger.Logger
}

// Result carries the quantized model and what was done to it.
type Result struct {
	Data         []byte
	Instructions int
	Stats        *calibrate.Stats
}

// Quantize runs the pipeline on an encoded model. batches feed calibration
// and may be nil when stats are supplied or no rule needs ranges; stats,
// when non-nil, take precedence over running the engine.
func (m *Modifier) Quantize(ctx context.Context, modelData []byte, batches []calibrate.Batch, stats *calibrate.Stats) (*Result, error) {
	if m.Recipe == nil {
		return nil, errors.New("modifier: no recipe configured")
	}
	log := m.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	model, err := mgf.Decode(modelData)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	g, err := graph.FromModel(model)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	log.Info("model loaded",
		"name", g.Name(),
		"tensors", len(g.TensorIDs()),
		"operators", len(g.OpIDs()))

	if stats == nil && m.Recipe.NeedsCalibration() {
		if m.Engine == nil {
			return nil, errors.New("modifier: recipe needs calibration but no engine or stats were provided")
		}
		smoothing := m.Smoothing
		if smoothing == 0 {
			smoothing = recipeSmoothing(m.Recipe)
		}
		cal := &calibrate.Calibrator{
			Engine:    m.Engine,
			Workers:   m.Workers,
			Smoothing: smoothing,
			Log:       log,
		}
		stats, err = cal.Run(ctx, g, batches)
		if err != nil {
			return nil, err
		}
	}

	votes, err := params.Generate(g, m.Recipe, stats)
	if err != nil {
		return nil, err
	}
	ins, err := transform.Generate(g, votes)
	if err != nil {
		return nil, err
	}
	log.Debug("transformations planned", "tensors", len(votes), "instructions", len(ins))

	perf := &transform.Performer{Log: log}
	if err := perf.Apply(g, ins); err != nil {
		return nil, err
	}

	out, err := mgf.Encode(g.ToModel())
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	log.Info("model quantized",
		"instructions", len(ins),
		"bytes_in", len(modelData),
		"bytes_out", len(out))
	return &Result{Data: out, Instructions: len(ins), Stats: stats}, nil
}

// recipeSmoothing returns the moving-average factor requested by the first
// static rule whose algorithm smooths calibration, or zero for plain
// min/max widening.
func recipeSmoothing(rcp *recipe.Recipe) float32 {
	for i := range rcp.Rules {
		if rcp.Rules[i].Mode != recipe.ModeStatic {
			continue
		}
		a, err := algorithm.Lookup(rcp.Rules[i].Algorithm)
		if err != nil {
			continue
		}
		if s, ok := a.(algorithm.Smoother); ok {
			return s.SmoothingFactor()
		}
	}
	return 0
}

// QuantizeFile runs the pipeline between two paths, memory mapping the
// input when the platform allows it.
func (m *Modifier) QuantizeFile(ctx context.Context, inPath, outPath string, batches []calibrate.Batch, stats *calibrate.Stats) (*Result, error) {
	f, err := mgf.Open(inPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := m.Quantize(ctx, f.Data, batches, stats)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write model: %w", err)
	}
	return res, nil
}
