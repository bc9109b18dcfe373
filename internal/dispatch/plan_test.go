package dispatch

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/modelcfg/internal/envcfg"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/lora"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

func build(t *testing.T, b *modelconfig.Builder) *modelconfig.ModelConfig {
	t.Helper()
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cfg
}

// llama-like: 32 heads, 8 kv heads, head size 128.
func pluginModel() *modelconfig.Builder {
	return modelconfig.NewBuilder(32000, 32, 0, 32, 4096, dtype.Half).
		SetNumKVHeads(8).
		UseGPTAttentionPlugin(true).
		UsePackedInput(true).
		UsePagedKVCache(true)
}

func TestAttentionKernel(t *testing.T) {
	tests := []struct {
		name  string
		b     *modelconfig.Builder
		knobs envcfg.Knobs
		want  AttentionKernel
		note  string
	}{
		{"no plugin", modelconfig.NewBuilder(1000, 2, 0, 4, 512, dtype.Half), envcfg.Defaults(), AttentionUnfused, ""},
		{"mmha", pluginModel(), envcfg.Defaults(), AttentionMaskedMHA, ""},
		{"xqa", pluginModel().UseXQA(true), envcfg.Defaults(), AttentionXQA, ""},
		{"forced xqa", pluginModel(), envcfg.Knobs{ForceXQA: true}, AttentionXQA, ""},
		{"context fmha wins", pluginModel().UseXQA(true).UseContextFMHAForGeneration(true), envcfg.Defaults(), AttentionContextFMHA, ""},
		{"xqa float32", modelconfig.NewBuilder(32000, 4, 0, 8, 1024, dtype.Float).UseGPTAttentionPlugin(true).UseXQA(true),
			envcfg.Defaults(), AttentionMaskedMHA, "data type float32"},
		{"xqa head size", modelconfig.NewBuilder(32000, 4, 0, 8, 768, dtype.Half).UseGPTAttentionPlugin(true).UseXQA(true),
			envcfg.Defaults(), AttentionMaskedMHA, "head size 96"},
		{"xqa beam search", pluginModel().UseXQA(true).SetMaxBeamWidth(4), envcfg.Defaults(), AttentionMaskedMHA, "beam width 4"},
		{"mamba", modelconfig.NewBuilder(50280, 0, 48, 1, 2560, dtype.BF16).
			SetVariant(modelconfig.MambaVariant(modelconfig.MambaConfig{DState: 16, DConv: 4, Expand: 2})),
			envcfg.Defaults(), AttentionNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Plan(build(t, tt.b), tt.knobs)
			if p.Attention != tt.want {
				t.Fatalf("Attention = %s, want %s (notes %v)", p.Attention, tt.want, p.Notes)
			}
			if tt.note != "" && !slices.ContainsFunc(p.Notes, func(n string) bool { return strings.Contains(n, tt.note) }) {
				t.Fatalf("expected a note containing %q, got %v", tt.note, p.Notes)
			}
		})
	}
}

func TestXQATuning(t *testing.T) {
	cfg := build(t, pluginModel().UseXQA(true))

	p := Plan(cfg, envcfg.Defaults())
	if p.XQACTAsPerKVHead != envcfg.DefaultXQAMaxCTAsPerKVHeadFactor || !p.XQAJIT {
		t.Fatalf("unexpected default tuning: %+v", p)
	}

	pinned := 3
	p = Plan(cfg, envcfg.Knobs{XQAMaxCTAsPerKVHeadFactor: 8, XQACTAsPerKVHead: &pinned, DisableXQAJIT: true})
	if p.XQACTAsPerKVHead != 3 || p.XQAJIT {
		t.Fatalf("env should pin ctas and disable jit: %+v", p)
	}
}

func TestSSMAndBatching(t *testing.T) {
	mamba := modelconfig.MambaVariant(modelconfig.MambaConfig{DState: 16, DConv: 4, Expand: 2})
	ref := build(t, modelconfig.NewBuilder(50280, 0, 48, 1, 2560, dtype.BF16).SetVariant(mamba))
	if p := Plan(ref, envcfg.Defaults()); p.SSM != SSMReference || p.InflightBatching || p.KVBlockBytes != 0 {
		t.Fatalf("reference mamba plan: %+v", p)
	}

	plugin := build(t, ref.ToBuilder().UseMambaConv1dPlugin(true).UsePackedInput(true).UsePagedState(true))
	if p := Plan(plugin, envcfg.Defaults()); p.SSM != SSMConv1d || !p.InflightBatching {
		t.Fatalf("plugin mamba plan: %+v", p)
	}

	if p := Plan(build(t, pluginModel()), envcfg.Defaults()); p.SSM != SSMNone || !p.InflightBatching {
		t.Fatalf("attention plan: %+v", p)
	}
}

func TestLoRAAndMedusa(t *testing.T) {
	modules := []lora.Module{{Type: lora.AttnQKV, InDim: 4096, OutDim: 6144}}
	withLoRA := build(t, pluginModel().UseLoRAPlugin(true).SetMaxLoRARank(16).SetLoRAModules(modules))
	if p := Plan(withLoRA, envcfg.Defaults()); !p.LoRA {
		t.Fatalf("lora should be enabled: %+v", p)
	}

	empty := build(t, pluginModel().UseLoRAPlugin(true))
	if p := Plan(empty, envcfg.Defaults()); p.LoRA || len(p.Notes) == 0 {
		t.Fatalf("lora without modules should be off with a note: %+v", p)
	}

	medusa := build(t, pluginModel().SetMaxDraftLen(63).
		SetMedusaModule(&modelconfig.MedusaModule{NumHeads: 4, MaxDraftTokens: 63}))
	if p := Plan(medusa, envcfg.Defaults()); !p.Medusa || p.MaxTokensPerStep != 64 {
		t.Fatalf("medusa plan: %+v", p)
	}
}

func TestKVBlockBytes(t *testing.T) {
	tests := []struct {
		name string
		mode quant.Mode
		want int64
	}{
		{"fp16", quant.None(), 2 * 8 * 128 * 64 * 2},
		{"int8", quant.Int8KVCache, 2 * 8 * 128 * 64},
		{"fp8", quant.FP8KVCache, 2 * 8 * 128 * 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := build(t, pluginModel().SetQuantMode(tt.mode))
			if got := KVBlockBytes(cfg); got != tt.want {
				t.Fatalf("KVBlockBytes = %d, want %d", got, tt.want)
			}
			if p := Plan(cfg, envcfg.Defaults()); p.KVBlockBytes != tt.want {
				t.Fatalf("plan KVBlockBytes = %d, want %d", p.KVBlockBytes, tt.want)
			}
			shard, err := ShardKVBlockBytes(cfg, 4)
			if err != nil || shard != 8*tt.want {
				t.Fatalf("ShardKVBlockBytes(4) = %d, %v", shard, err)
			}
		})
	}

	cfg := build(t, pluginModel())
	if _, err := ShardKVBlockBytes(cfg, 5); !errors.Is(err, modelconfig.ErrInvalidConfiguration) {
		t.Fatalf("uneven split must fail, got %v", err)
	}
}
