package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelcfg/internal/api"
	"github.com/samcharles93/modelcfg/internal/dispatch"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the descriptor of a built engine",
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
			out := api.NewDescriptorResponse(snap)
			return render(stdout(cmd), outputFormat, out, func(w io.Writer) {
				writeDescriptor(w, snap)
			})
		},
	}
}

func writeDescriptor(w io.Writer, snap *api.Snapshot) {
	ec := snap.Engine
	cfg := ec.Model

	rows := [][]string{
		{"engine", ec.Name},
		{"version", ec.Version},
		{"snapshot", snap.ID.String()},
		{"variant", cfg.Variant().String()},
		{"precision", cfg.DataType().String()},
		{"quantization", cfg.QuantMode().String()},
		{"parallelism", fmt.Sprintf("tp=%d pp=%d (%d ranks)", ec.TensorParallelism, ec.PipelineParallelism, ec.WorldSize())},
		{"vocab", fmt.Sprintf("%d (padded %d)", cfg.VocabSize(), cfg.VocabSizePadded(ec.TensorParallelism))},
		{"layers", layerSummary(cfg)},
		{"heads", fmt.Sprintf("%d q / %d kv per rank, size %d", cfg.NumHeads(), cfg.NumKVHeads(), cfg.SizePerHead())},
		{"hidden size", fmt.Sprintf("%d per rank", cfg.HiddenSize())},
	}
	if mc, ok := cfg.MambaConfig(); ok {
		rows = append(rows, []string{"mamba", fmt.Sprintf("d_state=%d d_conv=%d expand=%d", mc.DState, mc.DConv, mc.Expand)})
	}
	if rc, ok := cfg.RnnConfig(); ok {
		rows = append(rows, []string{"rnn", fmt.Sprintf("d_conv=%d hidden=%d", rc.DConv, rc.HiddenSize)})
	}
	rows = append(rows,
		[]string{"max batch size", strconv.Itoa(cfg.MaxBatchSize())},
		[]string{"max beam width", strconv.Itoa(cfg.MaxBeamWidth())},
		[]string{"max input len", strconv.Itoa(cfg.MaxInputLen())},
		[]string{"max seq len", strconv.Itoa(cfg.MaxSequenceLen())},
		[]string{"max num tokens", maxNumTokens(cfg)},
		[]string{"tokens per step", strconv.Itoa(cfg.MaxTokensPerStep())},
		[]string{"kv cache", kvSummary(cfg)},
		[]string{"inflight batching", yesNo(cfg.SupportsInflightBatching())},
		[]string{"prompt tuning", yesNo(cfg.UsePromptTuning())},
		[]string{"medusa", yesNo(cfg.UseMedusa())},
		[]string{"lora", fmt.Sprintf("%s (%d modules)", yesNo(cfg.UseLoRAPlugin()), len(cfg.LoRAModules()))},
	)
	writeTable(w, nil, rows)
}

func layerSummary(cfg *modelconfig.ModelConfig) string {
	attn, _ := cfg.NumAttentionLayers(1)
	ssm, _ := cfg.NumSSMLayers(1)
	s := fmt.Sprintf("%d attention, %d ssm", attn, ssm)
	if types := cfg.LayerTypes(); len(types) > 0 {
		names := make([]string, 0, min(len(types), 4))
		for _, t := range types[:min(len(types), 4)] {
			names = append(names, t.String())
		}
		if len(types) > 4 {
			names = append(names, "...")
		}
		s += " [" + strings.Join(names, ",") + "]"
	}
	return s
}

func maxNumTokens(cfg *modelconfig.ModelConfig) string {
	if n, ok := cfg.MaxNumTokens(); ok {
		return strconv.Itoa(n)
	}
	return "unset"
}

func kvSummary(cfg *modelconfig.ModelConfig) string {
	if !cfg.IsTransformerBased() {
		return "none"
	}
	s := cfg.KVDataType().String()
	if cfg.UsePagedKVCache() {
		s += fmt.Sprintf(", paged, %d tokens/block, %s/block/layer",
			cfg.TokensPerBlock(), humanize.IBytes(uint64(dispatch.KVBlockBytes(cfg))))
	}
	return s
}
