package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/calibrate"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/modifier"
	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
)

func quantizeCmd() *cli.Command {
	var (
		modelPath  string
		recipePath string
		outPath    string
		rangesPath string
		workers    int64
		logLevel   string
		logFormat  string
	)
	return &cli.Command{
		Name:  "quantize",
		Usage: "Apply a quantization recipe to a .mgf model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "input .mgf model", Required: true, Destination: &modelPath},
			&cli.StringFlag{Name: "recipe", Aliases: []string{"r"}, Usage: "recipe file (.json or .yaml)", Required: true, Destination: &recipePath},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output path (default: <model>.q.mgf)", Destination: &outPath},
			&cli.StringFlag{Name: "ranges", Usage: "calibration ranges file for static recipes", Destination: &rangesPath},
			&cli.Int64Flag{Name: "workers", Usage: "calibration parallelism", Value: 4, Destination: &workers},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, error", Value: "info", Destination: &logLevel},
			&cli.StringFlag{Name: "log-format", Usage: "text or json", Value: "text", Destination: &logFormat},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig(), &logLevel, &logFormat, &workers)
			log := newLogger(logLevel, logFormat)

			rcp, err := recipe.Load(recipePath)
			if err != nil {
				return err
			}

			var stats *calibrate.Stats
			if rangesPath != "" {
				stats, err = calibrate.LoadStats(rangesPath)
				if err != nil {
					return err
				}
				log.Info("loaded calibration ranges",
					"path", rangesPath,
					"run_id", stats.RunID,
					"tensors", len(stats.PerTensor))
			} else if rcp.NeedsCalibration() {
				return errors.New("recipe uses static-range rules; pass --ranges with calibration output")
			}

			if outPath == "" {
				outPath = strings.TrimSuffix(modelPath, ".mgf") + ".q.mgf"
			}

			mod := &modifier.Modifier{
				Recipe:  rcp,
				Workers: int(workers),
				Log:     log,
			}
			res, err := mod.QuantizeFile(ctx, modelPath, outPath, nil, stats)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes, %d edits)\n", outPath, len(res.Data), res.Instructions)
			return nil
		},
	}
}
