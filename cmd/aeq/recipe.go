package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/recipe"
	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

func recipeCmd() *cli.Command {
	return &cli.Command{
		Name:  "recipe",
		Usage: "Create and check quantization recipes",
		Commands: []*cli.Command{
			recipeInitCmd(),
			recipeCheckCmd(),
		},
	}
}

func recipeInitCmd() *cli.Command {
	var (
		outPath string
		mode    string
		bits    int64
	)
	return &cli.Command{
		Name:  "init",
		Usage: "Write a starter recipe covering every operator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "recipe path (.json or .yaml)", Value: "recipe.json", Destination: &outPath},
			&cli.StringFlag{Name: "mode", Usage: "weight_only, dynamic, or static", Value: "dynamic", Destination: &mode},
			&cli.Int64Flag{Name: "bits", Usage: "weight bit width", Value: 8, Destination: &bits},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := recipe.ParseMode(mode)
			if err != nil {
				return err
			}
			rule := recipe.Rule{
				Scope:   ".*",
				Op:      recipe.MatchAllOps,
				Mode:    m,
				Weights: &recipe.TensorSpec{Bits: int(bits), Symmetric: true, PerChannel: true},
			}
			if m == recipe.ModeStatic {
				rule.Acts = &recipe.TensorSpec{Bits: 8}
			}
			r := &recipe.Recipe{Rules: []recipe.Rule{rule}}
			if err := r.Compile(); err != nil {
				return err
			}
			if err := recipe.Save(outPath, r); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", outPath)
			return nil
		},
	}
}

func recipeCheckCmd() *cli.Command {
	var (
		recipePath string
		modelPath  string
	)
	return &cli.Command{
		Name:  "check",
		Usage: "Validate a recipe, optionally against a model's operators",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "recipe", Aliases: []string{"r"}, Usage: "recipe file", Required: true, Destination: &recipePath},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model to match rules against", Destination: &modelPath},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rcp, err := recipe.Load(recipePath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d rules, %d excluded tensors\n", recipePath, len(rcp.Rules), len(rcp.ExcludeTensors))
			if modelPath == "" {
				return nil
			}

			f, err := mgf.Open(modelPath)
			if err != nil {
				return err
			}
			defer f.Close()
			m, err := mgf.DecodeFile(f)
			if err != nil {
				return err
			}

			matched := 0
			for i := range m.Operators {
				op := &m.Operators[i]
				if rule := rcp.Resolve(op.Name, op.Code); rule != nil {
					matched++
					fmt.Printf("  %-32s %s %s\n", op.Name, rule.Mode, rule.Algorithm)
				} else {
					fmt.Printf("  %-32s float\n", op.Name)
				}
			}
			fmt.Printf("%d of %d operators covered\n", matched, len(m.Operators))
			return nil
		},
	}
}
