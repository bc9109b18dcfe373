package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelcfg/internal/api"
)

func shardsCmd() *cli.Command {
	var pp, tp int

	return &cli.Command{
		Name:  "shards",
		Usage: "Show per-shard layer counts, padded vocabulary and KV block sizes",
		Flags: append(append(engineFlags(), outputFlags()...),
			&cli.IntFlag{
				Name:        "pp",
				Usage:       "pipeline stages (default: the engine's)",
				Destination: &pp,
			},
			&cli.IntFlag{
				Name:        "tp",
				Usage:       "tensor parallel ranks (default: the engine's)",
				Destination: &tp,
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
			if !cmd.IsSet("pp") {
				pp = snap.Engine.PipelineParallelism
			}
			if !cmd.IsSet("tp") {
				tp = snap.Engine.TensorParallelism
			}
			if pp < 1 || tp < 1 {
				return fmt.Errorf("--pp and --tp must be at least 1 (got pp=%d tp=%d)", pp, tp)
			}

			layout, err := api.ShardLayout(snap, pp, tp)
			if err != nil {
				return err
			}
			return render(stdout(cmd), outputFormat, layout, func(w io.Writer) {
				writeShards(w, layout)
			})
		},
	}
}

func writeShards(w io.Writer, l api.ShardsResponse) {
	rows := [][]string{
		{"layout", fmt.Sprintf("tp=%d pp=%d", l.TensorParallelism, l.PipelineParallelism)},
		{"attention layers per stage", strconv.Itoa(l.AttentionLayers)},
		{"ssm layers per stage", strconv.Itoa(l.SSMLayers)},
		{"vocab padded", strconv.Itoa(l.VocabSizePadded)},
	}
	if l.KVBlockBytes > 0 {
		rows = append(rows,
			[]string{"kv block per layer", humanize.IBytes(uint64(l.KVBlockBytes))},
			[]string{"kv block per stage", humanize.IBytes(uint64(l.ShardKVBlockBytes))},
		)
	}
	writeTable(w, nil, rows)
	if len(l.EngineFiles) > 0 {
		fmt.Fprintln(w)
		files := make([][]string, 0, len(l.EngineFiles))
		for rank, name := range l.EngineFiles {
			files = append(files, []string{strconv.Itoa(rank), strconv.Itoa(rank / l.TensorParallelism), name})
		}
		writeTable(w, []string{"RANK", "STAGE", "ENGINE"}, files)
	}
}
