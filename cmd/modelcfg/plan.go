package main

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelcfg/internal/dispatch"
	"github.com/samcharles93/modelcfg/internal/envcfg"
	"github.com/samcharles93/modelcfg/internal/logger"
)

func planCmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Show the kernels and runtime features the engine allows under the current environment",
		Flags: append(engineFlags(), outputFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(ctx)
			if err != nil {
				return err
			}
			plan := dispatch.Plan(snap.Engine.Model, envcfg.Load(logger.FromContext(ctx)))
			return render(stdout(cmd), outputFormat, plan, func(w io.Writer) {
				writePlan(w, plan)
			})
		},
	}
}

func writePlan(w io.Writer, p dispatch.ExecutionPlan) {
	rows := [][]string{
		{"attention", string(p.Attention)},
		{"paged context fmha", yesNo(p.PagedContextFMHA)},
		{"ssm", string(p.SSM)},
		{"inflight batching", yesNo(p.InflightBatching)},
		{"lora", yesNo(p.LoRA)},
		{"medusa", yesNo(p.Medusa)},
		{"prompt tuning", yesNo(p.PromptTuning)},
		{"tokens per step", strconv.Itoa(p.MaxTokensPerStep)},
		{"kv data type", p.KVDataType.String()},
		{"kv block bytes", strconv.FormatInt(p.KVBlockBytes, 10)},
	}
	switch p.Attention {
	case dispatch.AttentionXQA:
		rows = append(rows,
			[]string{"xqa ctas per kv head", strconv.Itoa(p.XQACTAsPerKVHead)},
			[]string{"xqa jit", yesNo(p.XQAJIT)},
		)
	case dispatch.AttentionMaskedMHA:
		rows = append(rows,
			[]string{"mmha blocks per sequence", strconv.Itoa(p.MMHABlocksPerSequence)},
			[]string{"mmha kernel block size", strconv.Itoa(p.MMHAKernelBlockSize)},
		)
	}
	if len(p.Notes) > 0 {
		rows = append(rows, []string{"notes", strings.Join(p.Notes, "; ")})
	}
	writeTable(w, nil, rows)
}
