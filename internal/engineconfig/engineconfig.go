// Package engineconfig reads the config.json written next to a built engine
// and turns it into a frozen model descriptor plus the parallel layout the
// engine was built for.
package engineconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/modelcfg/internal/logger"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/lora"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

// FileName is the engine config name inside an engine directory.
const FileName = "config.json"

var (
	ErrInvalidEngineConfig = errors.New("invalid engine config")
	ErrWorldSizeMismatch   = errors.New("world size mismatch")
)

// EngineConfig is a parsed engine config. Model holds per-rank sizes for one
// tensor-parallel rank; the vocabulary stays global.
type EngineConfig struct {
	Name                string
	Version             string
	Precision           string
	TensorParallelism   int
	PipelineParallelism int
	GPUsPerNode         int
	Model               *modelconfig.ModelConfig
}

// WorldSize is the number of ranks the engine was built for.
func (e *EngineConfig) WorldSize() int {
	return e.TensorParallelism * e.PipelineParallelism
}

// CheckWorld fails unless worldSize matches the engine's parallel layout.
func (e *EngineConfig) CheckWorld(worldSize int) error {
	if worldSize != e.WorldSize() {
		return fmt.Errorf("%w: engine built for tp=%d pp=%d (%d ranks), runtime has %d",
			ErrWorldSizeMismatch, e.TensorParallelism, e.PipelineParallelism, e.WorldSize(), worldSize)
	}
	return nil
}

// EngineFilename is the serialized engine file for rank.
func (e *EngineConfig) EngineFilename(rank int) string {
	return fmt.Sprintf("rank%d.engine", rank)
}

// Load reads an engine config from path, which is either the config file or
// the engine directory holding it.
func Load(ctx context.Context, path string) (*EngineConfig, error) {
	log := logger.FromContext(ctx)

	if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug("loaded engine config",
		"path", path,
		"name", cfg.Name,
		"variant", cfg.Model.Variant(),
		"tp", cfg.TensorParallelism,
		"pp", cfg.PipelineParallelism,
	)
	return cfg, nil
}

type rawConfig struct {
	Version          string           `json:"version"`
	PretrainedConfig rawPretrained    `json:"pretrained_config"`
	BuildConfig      rawBuild         `json:"build_config"`
	Quantization     *rawQuantization `json:"quantization"`
}

type rawPretrained struct {
	Architecture          string           `json:"architecture"`
	DType                 string           `json:"dtype"`
	VocabSize             int              `json:"vocab_size"`
	HiddenSize            int              `json:"hidden_size"`
	NumHiddenLayers       int              `json:"num_hidden_layers"`
	NumAttentionHeads     int              `json:"num_attention_heads"`
	NumKeyValueHeads      int              `json:"num_key_value_heads"`
	HeadSize              int              `json:"head_size"`
	IntermediateSize      int              `json:"intermediate_size"`
	PositionEmbeddingType string           `json:"position_embedding_type"`
	TypeVocabSize         int              `json:"type_vocab_size"`
	CrossAttention        bool             `json:"cross_attention"`
	EncoderHiddenSize     int              `json:"encoder_hidden_size"`
	Mapping               rawMapping       `json:"mapping"`
	Quantization          *rawQuantization `json:"quantization"`

	// State-space and hybrid models.
	StateSize     int      `json:"state_size"`
	ConvKernel    int      `json:"conv_kernel"`
	Expand        int      `json:"expand"`
	RnnHiddenSize int      `json:"rnn_hidden_size"`
	LayerTypes    []string `json:"layer_types"`

	NumMedusaHeads int     `json:"num_medusa_heads"`
	MaxDraftLen    int     `json:"max_draft_len"`
	MedusaChoices  [][]int `json:"medusa_choices"`
}

type rawMapping struct {
	WorldSize   int `json:"world_size"`
	TPSize      int `json:"tp_size"`
	PPSize      int `json:"pp_size"`
	GPUsPerNode int `json:"gpus_per_node"`
}

type rawQuantization struct {
	QuantAlgo        string `json:"quant_algo"`
	KVCacheQuantAlgo string `json:"kv_cache_quant_algo"`
}

type rawBuild struct {
	MaxBatchSize                int        `json:"max_batch_size"`
	MaxBeamWidth                int        `json:"max_beam_width"`
	MaxInputLen                 int        `json:"max_input_len"`
	MaxSeqLen                   int        `json:"max_seq_len"`
	MaxOutputLen                int        `json:"max_output_len"`
	MaxNumTokens                *int       `json:"max_num_tokens"`
	MaxPromptEmbeddingTableSize int        `json:"max_prompt_embedding_table_size"`
	MaxDraftLen                 int        `json:"max_draft_len"`
	GatherContextLogits         bool       `json:"gather_context_logits"`
	GatherGenerationLogits      bool       `json:"gather_generation_logits"`
	PluginConfig                rawPlugins `json:"plugin_config"`
	LoRAConfig                  rawLoRA    `json:"lora_config"`
}

type rawPlugins struct {
	GPTAttentionPlugin          pluginSetting `json:"gpt_attention_plugin"`
	MambaConv1dPlugin           pluginSetting `json:"mamba_conv1d_plugin"`
	LoRAPlugin                  pluginSetting `json:"lora_plugin"`
	RemoveInputPadding          bool          `json:"remove_input_padding"`
	PagedKVCache                bool          `json:"paged_kv_cache"`
	PagedState                  bool          `json:"paged_state"`
	TokensPerBlock              int           `json:"tokens_per_block"`
	UseCustomAllReduce          bool          `json:"use_custom_all_reduce"`
	UsePagedContextFMHA         bool          `json:"use_paged_context_fmha"`
	UseContextFMHAForGeneration bool          `json:"use_context_fmha_for_generation"`
	EnableXQA                   bool          `json:"enable_xqa"`
}

type rawLoRA struct {
	TargetModules []string `json:"lora_target_modules"`
	MaxLoRARank   int      `json:"max_lora_rank"`
}

// pluginSetting is a plugin entry. Engines write the plugin's data type when
// it is enabled and null or false when it is not.
type pluginSetting bool

func (p *pluginSetting) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch s {
	case "null", "false", `""`:
		*p = false
		return nil
	case "true":
		*p = true
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("%w: plugin setting %s", ErrInvalidEngineConfig, s)
	}
	switch strings.ToLower(name) {
	case "disable", "disabled", "none":
		*p = false
	default:
		*p = true
	}
	return nil
}

// Parse decodes an engine config.json document.
func Parse(data []byte) (*EngineConfig, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEngineConfig, err)
	}
	return raw.engineConfig()
}

func (raw *rawConfig) engineConfig() (*EngineConfig, error) {
	pc := &raw.PretrainedConfig
	bc := &raw.BuildConfig

	if pc.NumHiddenLayers < 0 {
		return nil, fmt.Errorf("%w: num_hidden_layers must not be negative, got %d", ErrInvalidEngineConfig, pc.NumHiddenLayers)
	}
	m := pc.Mapping
	if m.WorldSize < 0 || m.TPSize < 0 || m.PPSize < 0 || m.GPUsPerNode < 0 {
		return nil, fmt.Errorf("%w: mapping sizes must not be negative (world_size=%d tp_size=%d pp_size=%d gpus_per_node=%d)",
			ErrInvalidEngineConfig, m.WorldSize, m.TPSize, m.PPSize, m.GPUsPerNode)
	}

	tp, pp := max(pc.Mapping.TPSize, 1), max(pc.Mapping.PPSize, 1)
	if pc.Mapping.WorldSize != 0 && pc.Mapping.WorldSize != tp*pp {
		return nil, fmt.Errorf("%w: mapping world_size %d does not match tp=%d pp=%d",
			ErrInvalidEngineConfig, pc.Mapping.WorldSize, tp, pp)
	}

	dt, err := dtype.ParseDataType(pc.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEngineConfig, err)
	}

	variant, err := variantFor(pc)
	if err != nil {
		return nil, err
	}

	heads := pc.NumAttentionHeads
	if heads == 0 && variant.Kind() == modelconfig.Mamba {
		heads = 1
	}
	kvHeads := pc.NumKeyValueHeads
	if kvHeads == 0 {
		kvHeads = heads
	}
	if pc.HiddenSize%tp != 0 || heads%tp != 0 {
		return nil, fmt.Errorf("%w: hidden size %d and %d heads must divide by tp=%d",
			ErrInvalidEngineConfig, pc.HiddenSize, heads, tp)
	}
	hiddenPerRank, headsPerRank := pc.HiddenSize/tp, heads/tp
	kvPerRank := max(1, kvHeads/tp)

	layerTypes, err := expandLayerTypes(pc.LayerTypes, pc.NumHiddenLayers)
	if err != nil {
		return nil, err
	}
	attnLayers, ssmLayers := pc.NumHiddenLayers, 0
	switch {
	case len(layerTypes) > 0:
		attnLayers, ssmLayers = 0, 0
		for _, t := range layerTypes {
			if t == modelconfig.LayerAttention {
				attnLayers++
			} else {
				ssmLayers++
			}
		}
	case variant.Kind() == modelconfig.Mamba:
		attnLayers, ssmLayers = 0, pc.NumHiddenLayers
	}

	q := raw.Quantization
	if pc.Quantization != nil {
		q = pc.Quantization
	}
	mode := quant.None()
	if q != nil {
		if mode, err = quant.FromQuantAlgo(q.QuantAlgo, q.KVCacheQuantAlgo); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEngineConfig, err)
		}
	}

	plugins := &bc.PluginConfig
	b := modelconfig.NewBuilder(pc.VocabSize, attnLayers, ssmLayers, headsPerRank, hiddenPerRank, dt).
		SetNumKVHeads(kvPerRank).
		SetVariant(variant).
		SetQuantMode(mode).
		UseGPTAttentionPlugin(bool(plugins.GPTAttentionPlugin)).
		UseMambaConv1dPlugin(bool(plugins.MambaConv1dPlugin)).
		UsePackedInput(plugins.RemoveInputPadding).
		UsePagedKVCache(plugins.PagedKVCache).
		UsePagedState(plugins.PagedState).
		UseCustomAllReduce(plugins.UseCustomAllReduce).
		UsePagedContextFMHA(plugins.UsePagedContextFMHA).
		UseContextFMHAForGeneration(plugins.UseContextFMHAForGeneration).
		UseXQA(plugins.EnableXQA).
		UseLoRAPlugin(bool(plugins.LoRAPlugin)).
		SetMaxBatchSize(bc.MaxBatchSize).
		SetMaxBeamWidth(bc.MaxBeamWidth).
		SetMaxInputLen(bc.MaxInputLen).
		SetMaxSequenceLen(maxSequenceLen(bc)).
		SetMaxNumTokens(bc.MaxNumTokens).
		SetMaxPromptEmbeddingTableSize(bc.MaxPromptEmbeddingTableSize).
		ComputeContextLogits(bc.GatherContextLogits).
		ComputeGenerationLogits(bc.GatherGenerationLogits).
		UseCrossAttention(pc.CrossAttention).
		SetFFNHiddenSize(pc.EncoderHiddenSize).
		UseTokenTypeEmbedding(pc.TypeVocabSize > 0).
		SetLayerTypes(layerTypes)

	if plugins.TokensPerBlock > 0 {
		b.SetTokensPerBlock(plugins.TokensPerBlock)
	}
	if pc.HeadSize > 0 {
		b.SetSizePerHead(pc.HeadSize)
	}
	if t := strings.ToLower(pc.PositionEmbeddingType); t != "" && t != "learned_absolute" {
		b.UsePositionEmbedding(false)
	}
	if pc.IntermediateSize > 0 {
		b.SetMLPHiddenSize(pc.IntermediateSize / tp)
	}

	draftLen := bc.MaxDraftLen
	if draftLen == 0 {
		draftLen = pc.MaxDraftLen
	}
	b.SetMaxDraftLen(draftLen)
	if pc.NumMedusaHeads > 0 {
		b.SetMedusaModule(&modelconfig.MedusaModule{
			NumHeads:          pc.NumMedusaHeads,
			MaxDraftTokens:    draftLen,
			MaxAcceptedTokens: pc.NumMedusaHeads + 1,
			Choices:           pc.MedusaChoices,
		})
	}

	if lc := &bc.LoRAConfig; len(lc.TargetModules) > 0 {
		headSize := pc.HeadSize
		if headSize == 0 && headsPerRank > 0 {
			headSize = hiddenPerRank / headsPerRank
		}
		modules, err := lora.CreateModules(lc.TargetModules, lora.Dims{
			HiddenSize:    hiddenPerRank,
			MLPHiddenSize: pc.IntermediateSize / tp,
			NumHeads:      headsPerRank,
			NumKVHeads:    kvPerRank,
			HeadSize:      headSize,
			TPSize:        tp,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEngineConfig, err)
		}
		b.SetLoRAModules(modules).SetMaxLoRARank(lc.MaxLoRARank)
	}

	model, err := b.Build()
	if err != nil {
		return nil, err
	}

	name := pc.Architecture
	if name == "" {
		name = variant.String()
	}
	return &EngineConfig{
		Name:                name,
		Version:             raw.Version,
		Precision:           dt.String(),
		TensorParallelism:   tp,
		PipelineParallelism: pp,
		GPUsPerNode:         max(pc.Mapping.GPUsPerNode, 1),
		Model:               model,
	}, nil
}

// variantFor maps a checkpoint architecture onto a model family.
func variantFor(pc *rawPretrained) (modelconfig.Variant, error) {
	arch := strings.ToLower(pc.Architecture)
	switch {
	case strings.HasPrefix(arch, "mamba"):
		return modelconfig.MambaVariant(modelconfig.MambaConfig{
			DState: pc.StateSize,
			DConv:  pc.ConvKernel,
			Expand: pc.Expand,
		}), nil
	case strings.HasPrefix(arch, "recurrentgemma"):
		return modelconfig.RecurrentGemmaVariant(modelconfig.RnnConfig{
			DConv:      pc.ConvKernel,
			HiddenSize: pc.RnnHiddenSize,
		}), nil
	case strings.HasPrefix(arch, "chatglm"), strings.HasPrefix(arch, "glm"):
		return modelconfig.GLMVariant(), nil
	}
	return modelconfig.GPTVariant(), nil
}

// expandLayerTypes repeats the layer type pattern over every layer.
func expandLayerTypes(pattern []string, layers int) ([]modelconfig.LayerType, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	types := make([]modelconfig.LayerType, len(pattern))
	for i, s := range pattern {
		t, err := modelconfig.ParseLayerType(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEngineConfig, err)
		}
		types[i] = t
	}
	out := make([]modelconfig.LayerType, layers)
	for i := range out {
		out[i] = types[i%len(types)]
	}
	return out, nil
}

func maxSequenceLen(bc *rawBuild) int {
	if bc.MaxSeqLen > 0 {
		return bc.MaxSeqLen
	}
	if bc.MaxOutputLen > 0 {
		return bc.MaxInputLen + bc.MaxOutputLen
	}
	return 0
}
