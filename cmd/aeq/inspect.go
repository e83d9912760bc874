package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

type tensorReport struct {
	Name   string    `json:"name"`
	DType  string    `json:"dtype"`
	Shape  []int64   `json:"shape"`
	Bytes  int       `json:"bytes,omitempty"`
	Scales []float32 `json:"scales,omitempty"`
	Zeros  []int32   `json:"zero_points,omitempty"`
	Axis   *int32    `json:"axis,omitempty"`
}

type modelReport struct {
	Name      string         `json:"name"`
	Producer  string         `json:"producer,omitempty"`
	Version   string         `json:"version"`
	FileSize  uint64         `json:"file_size"`
	Operators []string       `json:"operators"`
	Tensors   []tensorReport `json:"tensors"`
}

func inspectCmd() *cli.Command {
	var (
		modelPath string
		asJSON    bool
		showAll   bool
	)
	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the structure and quantization state of a .mgf model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "input .mgf model", Required: true, Destination: &modelPath},
			&cli.BoolFlag{Name: "json", Usage: "machine readable output", Destination: &asJSON},
			&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "include float tensors", Destination: &showAll},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := mgf.Open(modelPath)
			if err != nil {
				return err
			}
			defer f.Close()

			m, err := mgf.DecodeFile(f)
			if err != nil {
				return err
			}

			rep := modelReport{
				Name:     m.Name,
				Producer: m.Producer,
				Version:  fmt.Sprintf("%d.%d", f.Header.Major, f.Header.Minor),
				FileSize: f.Header.FileSize,
			}
			for i := range m.Operators {
				op := &m.Operators[i]
				rep.Operators = append(rep.Operators, fmt.Sprintf("%s (%s)", op.Name, op.Code))
			}
			for i := range m.Tensors {
				t := &m.Tensors[i]
				if t.Quant == nil && !showAll {
					continue
				}
				tr := tensorReport{
					Name:  t.Name,
					DType: t.DType.String(),
					Shape: t.Shape,
				}
				if t.Buffer >= 0 {
					tr.Bytes = len(m.Buffers[t.Buffer])
				}
				if t.Quant != nil {
					tr.Scales = t.Quant.Scales
					tr.Zeros = t.Quant.ZeroPoints
					axis := t.Quant.Axis
					tr.Axis = &axis
				}
				rep.Tensors = append(rep.Tensors, tr)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}

			fmt.Printf("%s  (mgf %s, %d bytes)\n", rep.Name, rep.Version, rep.FileSize)
			if rep.Producer != "" {
				fmt.Printf("  producer: %s\n", rep.Producer)
			}
			fmt.Printf("  operators (%d):\n", len(rep.Operators))
			for _, op := range rep.Operators {
				fmt.Printf("    %s\n", op)
			}
			fmt.Printf("  tensors (%d shown):\n", len(rep.Tensors))
			for _, tr := range rep.Tensors {
				line := fmt.Sprintf("    %-32s %-4s %v", tr.Name, tr.DType, tr.Shape)
				if tr.Axis != nil {
					if len(tr.Scales) == 1 {
						line += fmt.Sprintf("  scale=%g zp=%d", tr.Scales[0], tr.Zeros[0])
					} else {
						line += fmt.Sprintf("  per-channel axis=%d (%d scales)", *tr.Axis, len(tr.Scales))
					}
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
