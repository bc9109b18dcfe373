package modelconfig

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/lora"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

func mustBuild(t *testing.T, b *Builder) *ModelConfig {
	t.Helper()
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cfg
}

func gpt2Medium() *Builder {
	return NewBuilder(50257, 24, 0, 16, 2048, dtype.Half)
}

func TestEndToEndShardQueries(t *testing.T) {
	cfg := mustBuild(t, gpt2Medium())

	layers, err := cfg.NumAttentionLayers(4)
	if err != nil {
		t.Fatalf("NumAttentionLayers(4): %v", err)
	}
	if layers != 6 {
		t.Fatalf("NumAttentionLayers(4) = %d, want 6", layers)
	}
	if got := cfg.VocabSizePadded(8); got != 50264 {
		t.Fatalf("VocabSizePadded(8) = %d, want 50264", got)
	}
	if cfg.SizePerHead() != 128 {
		t.Fatalf("SizePerHead = %d, want 128", cfg.SizePerHead())
	}
}

func TestDefaults(t *testing.T) {
	cfg := mustBuild(t, gpt2Medium())

	if cfg.Variant().Kind() != GPT {
		t.Fatalf("default variant = %v, want gpt", cfg.Variant())
	}
	if cfg.NumKVHeads() != cfg.NumHeads() {
		t.Fatalf("kv heads should default to head count")
	}
	if cfg.TokensPerBlock() != DefaultTokensPerBlock {
		t.Fatalf("TokensPerBlock = %d", cfg.TokensPerBlock())
	}
	if cfg.UseGPTAttentionPlugin() || cfg.UsePackedInput() || cfg.UsePagedKVCache() || cfg.UsePagedState() ||
		cfg.UseXQA() || cfg.UseLoRAPlugin() || cfg.UseCustomAllReduce() || cfg.UseCrossAttention() {
		t.Fatalf("capability flags must default to off")
	}
	if !cfg.UsePositionEmbedding() {
		t.Fatalf("position embedding defaults to on")
	}
	if cfg.MaxBatchSize() != 0 || cfg.MaxBeamWidth() != 0 || cfg.MaxInputLen() != 0 || cfg.MaxSequenceLen() != 0 {
		t.Fatalf("limits must default to zero")
	}
	if _, ok := cfg.MaxNumTokens(); ok {
		t.Fatalf("max num tokens should be unset")
	}
	if cfg.QuantMode() != quant.None() {
		t.Fatalf("quant mode should be none")
	}
}

func TestLayersPerShard(t *testing.T) {
	cfg := mustBuild(t, NewBuilder(32000, 24, 12, 8, 512, dtype.BF16))

	for pp := 1; pp <= 30; pp++ {
		attn, attnErr := cfg.NumAttentionLayers(pp)
		ssm, ssmErr := cfg.NumSSMLayers(pp)

		if 24%pp == 0 {
			if attnErr != nil || attn != 24/pp {
				t.Fatalf("NumAttentionLayers(%d) = %d, %v", pp, attn, attnErr)
			}
		} else if !errors.Is(attnErr, ErrInvalidConfiguration) {
			t.Fatalf("NumAttentionLayers(%d): expected ErrInvalidConfiguration, got %v", pp, attnErr)
		}

		if 12%pp == 0 {
			if ssmErr != nil || ssm != 12/pp {
				t.Fatalf("NumSSMLayers(%d) = %d, %v", pp, ssm, ssmErr)
			}
		} else if !errors.Is(ssmErr, ErrInvalidConfiguration) {
			t.Fatalf("NumSSMLayers(%d): expected ErrInvalidConfiguration, got %v", pp, ssmErr)
		}
	}

	if _, err := cfg.NumAttentionLayers(0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("shard factor 0 must fail, got %v", err)
	}
}

func TestVocabSizePadded(t *testing.T) {
	for _, vocab := range []int{1, 7, 32000, 50257, 151936} {
		cfg := mustBuild(t, NewBuilder(vocab, 2, 0, 2, 64, dtype.Half))
		if cfg.VocabSizePadded(1) != vocab {
			t.Fatalf("VocabSizePadded(1) must equal vocab %d", vocab)
		}
		for w := 1; w <= 16; w++ {
			got := cfg.VocabSizePadded(w)
			if got < vocab || got%w != 0 || got-vocab >= w {
				t.Fatalf("VocabSizePadded(%d) = %d for vocab %d", w, got, vocab)
			}
		}
		for _, w := range []int{1 << 62, math.MaxInt} {
			got := cfg.VocabSizePadded(w)
			if got < vocab || got%w != 0 {
				t.Fatalf("VocabSizePadded(%d) = %d for vocab %d", w, got, vocab)
			}
		}
	}
}

func TestMaxTokensPerStep(t *testing.T) {
	for _, draft := range []int{0, 1, 4, 63} {
		cfg := mustBuild(t, gpt2Medium().SetMaxDraftLen(draft))
		if cfg.MaxTokensPerStep() != draft+1 {
			t.Fatalf("MaxTokensPerStep = %d for draft %d", cfg.MaxTokensPerStep(), draft)
		}
	}
}

func TestKVDataType(t *testing.T) {
	tests := []struct {
		name string
		mode quant.Mode
		want dtype.DataType
	}{
		{"base", quant.None(), dtype.BF16},
		{"int8", quant.Int8KVCache, dtype.Int8},
		{"fp8", quant.FP8KVCache, dtype.FP8},
		{"fp8 wins", quant.FP8KVCache | quant.Int8KVCache, dtype.FP8},
		{"weights only", quant.Int8Weights, dtype.BF16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustBuild(t, NewBuilder(1000, 4, 0, 4, 256, dtype.BF16).SetQuantMode(tt.mode))
			if got := cfg.KVDataType(); got != tt.want {
				t.Fatalf("KVDataType = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSupportsInflightBatching(t *testing.T) {
	type flags struct{ plugin, conv, packed, pagedKV, pagedState bool }
	tests := []struct {
		name    string
		variant Variant
		f       flags
		want    bool
	}{
		{"gpt all on", GPTVariant(), flags{plugin: true, packed: true, pagedKV: true}, true},
		{"gpt no paged kv", GPTVariant(), flags{plugin: true, packed: true}, false},
		{"gpt no packing", GPTVariant(), flags{plugin: true, pagedKV: true}, false},
		{"gpt no plugin", GPTVariant(), flags{packed: true, pagedKV: true}, false},
		{"glm all on", GLMVariant(), flags{plugin: true, packed: true, pagedKV: true}, true},
		{"gpt with ssm flags", GPTVariant(), flags{conv: true, packed: true, pagedState: true}, false},
		{"mamba all on", MambaVariant(MambaConfig{DState: 16, DConv: 4, Expand: 2}), flags{conv: true, packed: true, pagedState: true}, true},
		{"mamba no paged state", MambaVariant(MambaConfig{}), flags{conv: true, packed: true}, false},
		{"mamba with attention flags", MambaVariant(MambaConfig{}), flags{plugin: true, packed: true, pagedKV: true}, false},
		{"hybrid via attention", RecurrentGemmaVariant(RnnConfig{}), flags{plugin: true, packed: true, pagedKV: true}, true},
		{"hybrid via ssm", RecurrentGemmaVariant(RnnConfig{}), flags{conv: true, packed: true, pagedState: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(1000, 4, 4, 4, 256, dtype.Half).
				SetVariant(tt.variant).
				UseGPTAttentionPlugin(tt.f.plugin).
				UseMambaConv1dPlugin(tt.f.conv).
				UsePackedInput(tt.f.packed).
				UsePagedKVCache(tt.f.pagedKV).
				UsePagedState(tt.f.pagedState)
			cfg := mustBuild(t, b)
			if got := cfg.SupportsInflightBatching(); got != tt.want {
				t.Fatalf("SupportsInflightBatching = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVariantClassification(t *testing.T) {
	tests := []struct {
		v                Variant
		transformer, ssm bool
		hasMamba, hasRnn bool
	}{
		{GPTVariant(), true, false, false, false},
		{GLMVariant(), true, false, false, false},
		{MambaVariant(MambaConfig{DState: 16}), false, true, true, false},
		{RecurrentGemmaVariant(RnnConfig{DConv: 4}), true, true, false, true},
		{Variant{}, true, false, false, false},
	}
	for _, tt := range tests {
		cfg := mustBuild(t, gpt2Medium().SetVariant(tt.v))
		if cfg.IsTransformerBased() != tt.transformer || cfg.IsSSMBased() != tt.ssm {
			t.Fatalf("%v: transformer=%v ssm=%v", tt.v, cfg.IsTransformerBased(), cfg.IsSSMBased())
		}
		if cfg.HasMambaConfig() != tt.hasMamba || cfg.HasRnnConfig() != tt.hasRnn {
			t.Fatalf("%v: hasMamba=%v hasRnn=%v", tt.v, cfg.HasMambaConfig(), cfg.HasRnnConfig())
		}
	}

	cfg := mustBuild(t, gpt2Medium().SetVariant(MambaVariant(MambaConfig{DState: 16, DConv: 4, Expand: 2})))
	m, ok := cfg.MambaConfig()
	if !ok || m != (MambaConfig{DState: 16, DConv: 4, Expand: 2}) {
		t.Fatalf("MambaConfig = %+v, %v", m, ok)
	}
	if _, ok := cfg.RnnConfig(); ok {
		t.Fatalf("mamba variant must not carry rnn params")
	}
}

func TestPresenceDerivedFlags(t *testing.T) {
	cfg := mustBuild(t, gpt2Medium())
	if cfg.UsePromptTuning() || cfg.UseMedusa() {
		t.Fatalf("prompt tuning and medusa must be off by default")
	}

	for _, n := range []int{1, 8, 4096} {
		cfg := mustBuild(t, gpt2Medium().SetMaxPromptEmbeddingTableSize(n))
		if !cfg.UsePromptTuning() {
			t.Fatalf("prompt tuning should be on for table size %d", n)
		}
	}

	medusa := &MedusaModule{NumHeads: 4, MaxDraftTokens: 63, MaxAcceptedTokens: 5}
	cfg = mustBuild(t, gpt2Medium().SetMaxDraftLen(63).SetMedusaModule(medusa))
	if !cfg.UseMedusa() {
		t.Fatalf("medusa should follow module presence")
	}
	got, ok := cfg.MedusaModule()
	if !ok || got.MaxDraftPathLen() != 4 {
		t.Fatalf("MedusaModule = %+v, %v", got, ok)
	}

	cfg = mustBuild(t, cfg.ToBuilder().SetMedusaModule(nil).SetMaxDraftLen(0))
	if cfg.UseMedusa() {
		t.Fatalf("clearing the module must turn medusa off")
	}
}

func TestSizePerHeadOverride(t *testing.T) {
	cfg := mustBuild(t, gpt2Medium().SetSizePerHead(64))
	if cfg.SizePerHead() != 64 || cfg.HiddenSize() != 2048 {
		t.Fatalf("override should change only the head size: head=%d hidden=%d", cfg.SizePerHead(), cfg.HiddenSize())
	}
}

func TestFrozenConfigIsIsolated(t *testing.T) {
	modules := []lora.Module{{Type: lora.AttnQKV, InDim: 16, OutDim: 48}}
	layers := []LayerType{LayerAttention, LayerRecurrent}
	medusa := &MedusaModule{NumHeads: 2, MaxDraftTokens: 3, Choices: [][]int{{0}, {0, 1}}}

	b := NewBuilder(100, 1, 1, 2, 16, dtype.Half).
		SetMaxLoRARank(8).
		SetLoRAModules(modules).
		SetLayerTypes(layers).
		SetMaxDraftLen(3).
		SetMedusaModule(medusa)
	cfg := mustBuild(t, b)

	// Mutating inputs, the builder and returned copies must not leak into cfg.
	modules[0].InDim = 999
	layers[0] = LayerRecurrent
	medusa.Choices[1][1] = 7
	b.SetMaxBatchSize(64).SetLayerTypes(nil)
	cfg.LoRAModules()[0].OutDim = 1
	cfg.LayerTypes()[1] = LayerAttention
	m, _ := cfg.MedusaModule()
	m.Choices[0][0] = 5

	if cfg.MaxBatchSize() != 0 {
		t.Fatalf("builder changes leaked into frozen config")
	}
	if diff := cmp.Diff([]lora.Module{{Type: lora.AttnQKV, InDim: 16, OutDim: 48}}, cfg.LoRAModules()); diff != "" {
		t.Fatalf("lora modules changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]LayerType{LayerAttention, LayerRecurrent}, cfg.LayerTypes()); diff != "" {
		t.Fatalf("layer types changed (-want +got):\n%s", diff)
	}
	got, _ := cfg.MedusaModule()
	if diff := cmp.Diff([][]int{{0}, {0, 1}}, got.Choices); diff != "" {
		t.Fatalf("medusa choices changed (-want +got):\n%s", diff)
	}
}

func TestConcurrentReaders(t *testing.T) {
	cfg := mustBuild(t, gpt2Medium().
		UseGPTAttentionPlugin(true).
		UsePackedInput(true).
		UsePagedKVCache(true).
		SetQuantMode(quant.Int8KVCache))

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cfg.SupportsInflightBatching() {
				errs <- "inflight batching flipped"
			}
			if cfg.KVDataType() != dtype.Int8 {
				errs <- "kv type changed"
			}
			if n, err := cfg.NumAttentionLayers(2); err != nil || n != 12 {
				errs <- "layer split changed"
			}
			_ = cfg.View()
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}
