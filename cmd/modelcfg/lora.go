package main

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelcfg/pkg/lora"
)

type loraModuleRow struct {
	Module         string `json:"module" yaml:"module"`
	InDim          int    `json:"in_dim" yaml:"in_dim"`
	OutDim         int    `json:"out_dim" yaml:"out_dim"`
	LocalInDim     int    `json:"local_in_dim" yaml:"local_in_dim"`
	LocalOutDim    int    `json:"local_out_dim" yaml:"local_out_dim"`
	LocalInOutSize int    `json:"local_in_out_size" yaml:"local_in_out_size"`
	FlattenedInOut int    `json:"flattened_in_out_size" yaml:"flattened_in_out_size"`
}

func loraCmd() *cli.Command {
	var rank int

	return &cli.Command{
		Name:  "lora",
		Usage: "List the LoRA target modules of an engine with rank-local adapter sizes",
		Flags: append(append(engineFlags(), outputFlags()...),
			&cli.IntFlag{
				Name:        "rank",
				Usage:       "adapter rank used for sizes (default: the engine's max LoRA rank)",
				Destination: &rank,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(ctx)
			if err != nil {
				return err
			}
			cfg := snap.Engine.Model
			modules := cfg.LoRAModules()
			if len(modules) == 0 {
				return errors.New("engine has no LoRA modules")
			}
			if !cmd.IsSet("rank") {
				rank = cfg.MaxLoRARank()
			}
			rows := loraRows(modules, rank, snap.Engine.TensorParallelism)
			return render(stdout(cmd), outputFormat, rows, func(w io.Writer) {
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					table = append(table, []string{
						r.Module,
						strconv.Itoa(r.InDim),
						strconv.Itoa(r.OutDim),
						strconv.Itoa(r.LocalInDim),
						strconv.Itoa(r.LocalOutDim),
						strconv.Itoa(r.LocalInOutSize),
					})
				}
				writeTable(w, []string{"MODULE", "IN", "OUT", "LOCAL IN", "LOCAL OUT", "LOCAL SIZE"}, table)
			})
		},
	}
}

func loraRows(modules []lora.Module, rank, tp int) []loraModuleRow {
	rows := make([]loraModuleRow, 0, len(modules))
	for _, m := range modules {
		rows = append(rows, loraModuleRow{
			Module:         m.Name(),
			InDim:          m.InDim,
			OutDim:         m.OutDim,
			LocalInDim:     m.LocalInDim(tp),
			LocalOutDim:    m.LocalOutDim(tp),
			LocalInOutSize: m.LocalInOutSize(rank, tp),
			FlattenedInOut: m.FlattenedInOutSize(rank),
		})
	}
	return rows
}
