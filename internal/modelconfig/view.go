package modelconfig

import (
	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/lora"
)

// View is a plain, serializable snapshot of a descriptor including the
// values derived from it. It is an output format only; descriptors are never
// rebuilt from a View.
type View struct {
	Variant            string         `json:"variant" yaml:"variant"`
	VocabSize          int            `json:"vocab_size" yaml:"vocab_size"`
	NumAttentionLayers int            `json:"num_attention_layers" yaml:"num_attention_layers"`
	NumSSMLayers       int            `json:"num_ssm_layers" yaml:"num_ssm_layers"`
	NumHeads           int            `json:"num_heads" yaml:"num_heads"`
	NumKVHeads         int            `json:"num_kv_heads" yaml:"num_kv_heads"`
	HiddenSize         int            `json:"hidden_size" yaml:"hidden_size"`
	SizePerHead        int            `json:"size_per_head" yaml:"size_per_head"`
	DataType           dtype.DataType `json:"data_type" yaml:"data_type"`
	QuantMode          string         `json:"quant_mode" yaml:"quant_mode"`

	Flags  Flags  `json:"flags" yaml:"flags"`
	Limits Limits `json:"limits" yaml:"limits"`

	Mamba       *MambaConfig  `json:"mamba,omitempty" yaml:"mamba,omitempty"`
	Rnn         *RnnConfig    `json:"rnn,omitempty" yaml:"rnn,omitempty"`
	Medusa      *MedusaModule `json:"medusa,omitempty" yaml:"medusa,omitempty"`
	LoRAModules []lora.Module `json:"lora_modules,omitempty" yaml:"lora_modules,omitempty"`
	LayerTypes  []LayerType   `json:"layer_types,omitempty" yaml:"layer_types,omitempty"`

	Derived Derived `json:"derived" yaml:"derived"`
}

type Flags struct {
	GPTAttentionPlugin       bool `json:"gpt_attention_plugin" yaml:"gpt_attention_plugin"`
	MambaConv1dPlugin        bool `json:"mamba_conv1d_plugin" yaml:"mamba_conv1d_plugin"`
	PackedInput              bool `json:"packed_input" yaml:"packed_input"`
	PagedKVCache             bool `json:"paged_kv_cache" yaml:"paged_kv_cache"`
	PagedState               bool `json:"paged_state" yaml:"paged_state"`
	ContextFMHAForGeneration bool `json:"context_fmha_for_generation" yaml:"context_fmha_for_generation"`
	PagedContextFMHA         bool `json:"paged_context_fmha" yaml:"paged_context_fmha"`
	XQA                      bool `json:"xqa" yaml:"xqa"`
	CustomAllReduce          bool `json:"custom_all_reduce" yaml:"custom_all_reduce"`
	LoRAPlugin               bool `json:"lora_plugin" yaml:"lora_plugin"`
	CrossAttention           bool `json:"cross_attention" yaml:"cross_attention"`
	PositionEmbedding        bool `json:"position_embedding" yaml:"position_embedding"`
	TokenTypeEmbedding       bool `json:"token_type_embedding" yaml:"token_type_embedding"`
	ComputeContextLogits     bool `json:"compute_context_logits" yaml:"compute_context_logits"`
	ComputeGenerationLogits  bool `json:"compute_generation_logits" yaml:"compute_generation_logits"`
}

type Limits struct {
	TokensPerBlock              int  `json:"tokens_per_block" yaml:"tokens_per_block"`
	MaxBatchSize                int  `json:"max_batch_size" yaml:"max_batch_size"`
	MaxBeamWidth                int  `json:"max_beam_width" yaml:"max_beam_width"`
	MaxInputLen                 int  `json:"max_input_len" yaml:"max_input_len"`
	MaxSequenceLen              int  `json:"max_seq_len" yaml:"max_seq_len"`
	MaxNumTokens                *int `json:"max_num_tokens,omitempty" yaml:"max_num_tokens,omitempty"`
	MaxPromptEmbeddingTableSize int  `json:"max_prompt_embedding_table_size" yaml:"max_prompt_embedding_table_size"`
	MaxDraftLen                 int  `json:"max_draft_len" yaml:"max_draft_len"`
	MLPHiddenSize               int  `json:"mlp_hidden_size" yaml:"mlp_hidden_size"`
	FFNHiddenSize               int  `json:"ffn_hidden_size" yaml:"ffn_hidden_size"`
	MaxLoRARank                 int  `json:"max_lora_rank" yaml:"max_lora_rank"`
}

type Derived struct {
	TransformerBased         bool           `json:"transformer_based" yaml:"transformer_based"`
	SSMBased                 bool           `json:"ssm_based" yaml:"ssm_based"`
	SupportsInflightBatching bool           `json:"supports_inflight_batching" yaml:"supports_inflight_batching"`
	KVDataType               dtype.DataType `json:"kv_data_type" yaml:"kv_data_type"`
	MaxTokensPerStep         int            `json:"max_tokens_per_step" yaml:"max_tokens_per_step"`
	UsePromptTuning          bool           `json:"use_prompt_tuning" yaml:"use_prompt_tuning"`
	UseMedusa                bool           `json:"use_medusa" yaml:"use_medusa"`
}

// View renders c for output.
func (c *ModelConfig) View() View {
	f := c.f.clone()
	v := View{
		Variant:            f.variant.String(),
		VocabSize:          f.vocabSize,
		NumAttentionLayers: f.numAttentionLayers,
		NumSSMLayers:       f.numSSMLayers,
		NumHeads:           f.numHeads,
		NumKVHeads:         f.numKVHeads,
		HiddenSize:         f.hiddenSize,
		SizePerHead:        f.sizePerHead,
		DataType:           f.dataType,
		QuantMode:          f.quantMode.String(),
		Flags: Flags{
			GPTAttentionPlugin:       f.useGPTAttentionPlugin,
			MambaConv1dPlugin:        f.useMambaConv1dPlugin,
			PackedInput:              f.inputPacked,
			PagedKVCache:             f.pagedKVCache,
			PagedState:               f.pagedState,
			ContextFMHAForGeneration: f.useContextFMHAForGeneration,
			PagedContextFMHA:         f.pagedContextFMHA,
			XQA:                      f.useXQA,
			CustomAllReduce:          f.useCustomAllReduce,
			LoRAPlugin:               f.useLoRAPlugin,
			CrossAttention:           f.useCrossAttention,
			PositionEmbedding:        f.usePositionEmbedding,
			TokenTypeEmbedding:       f.useTokenTypeEmbedding,
			ComputeContextLogits:     f.computeContextLogits,
			ComputeGenerationLogits:  f.computeGenerationLogits,
		},
		Limits: Limits{
			TokensPerBlock:              f.tokensPerBlock,
			MaxBatchSize:                f.maxBatchSize,
			MaxBeamWidth:                f.maxBeamWidth,
			MaxInputLen:                 f.maxInputLen,
			MaxSequenceLen:              f.maxSequenceLen,
			MaxNumTokens:                f.maxNumTokens,
			MaxPromptEmbeddingTableSize: f.maxPromptEmbeddingTableSize,
			MaxDraftLen:                 f.maxDraftLen,
			MLPHiddenSize:               f.mlpHiddenSize,
			FFNHiddenSize:               f.ffnHiddenSize,
			MaxLoRARank:                 f.maxLoRARank,
		},
		Medusa:      f.medusa,
		LoRAModules: f.loraModules,
		LayerTypes:  f.layerTypes,
		Derived: Derived{
			TransformerBased:         c.IsTransformerBased(),
			SSMBased:                 c.IsSSMBased(),
			SupportsInflightBatching: c.SupportsInflightBatching(),
			KVDataType:               c.KVDataType(),
			MaxTokensPerStep:         c.MaxTokensPerStep(),
			UsePromptTuning:          c.UsePromptTuning(),
			UseMedusa:                c.UseMedusa(),
		},
	}
	if m, ok := c.MambaConfig(); ok {
		v.Mamba = &m
	}
	if r, ok := c.RnnConfig(); ok {
		v.Rnn = &r
	}
	return v
}
