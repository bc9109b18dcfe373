// Package modelconfig holds the model capability descriptor: the frozen set
// of static and derived properties of a loaded model graph that the
// scheduler, cache allocator and kernel dispatcher branch on.
//
// A descriptor is staged in a Builder during engine build and frozen with
// Builder.Build. A *ModelConfig has no setters and never hands out memory it
// still references, so it can be shared between goroutines without locking.
// Derived values are recomputed on every call.
package modelconfig

import (
	"slices"

	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/lora"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

// ModelConfig is a frozen model capability descriptor.
type ModelConfig struct {
	f fields
}

// ToBuilder returns a staging copy of c, for deriving an adjusted descriptor.
func (c *ModelConfig) ToBuilder() *Builder {
	return &Builder{f: c.f.clone()}
}

func (c *ModelConfig) VocabSize() int { return c.f.vocabSize }

// VocabSizePadded rounds the vocabulary up to a multiple of worldSize so the
// embedding table splits evenly. A worldSize below 1 is treated as 1.
func (c *ModelConfig) VocabSizePadded(worldSize int) int {
	if worldSize < 1 {
		worldSize = 1
	}
	q := c.f.vocabSize / worldSize
	if c.f.vocabSize%worldSize != 0 {
		q++
	}
	return q * worldSize
}

// NumAttentionLayers returns the attention layers held by one of pp pipeline
// stages.
func (c *ModelConfig) NumAttentionLayers(pp int) (int, error) {
	return layersPerShard("attention", c.f.numAttentionLayers, pp)
}

// NumSSMLayers returns the state-space layers held by one of pp pipeline
// stages.
func (c *ModelConfig) NumSSMLayers(pp int) (int, error) {
	return layersPerShard("ssm", c.f.numSSMLayers, pp)
}

func layersPerShard(kind string, layers, pp int) (int, error) {
	if pp < 1 {
		return 0, invalidf("shard factor must be at least 1, got %d", pp)
	}
	if layers%pp != 0 {
		return 0, invalidf("%d %s layers cannot be split evenly across %d shards", layers, kind, pp)
	}
	return layers / pp, nil
}

func (c *ModelConfig) NumHeads() int                 { return c.f.numHeads }
func (c *ModelConfig) NumKVHeads() int               { return c.f.numKVHeads }
func (c *ModelConfig) HiddenSize() int               { return c.f.hiddenSize }
func (c *ModelConfig) SizePerHead() int              { return c.f.sizePerHead }
func (c *ModelConfig) DataType() dtype.DataType      { return c.f.dataType }
func (c *ModelConfig) UseGPTAttentionPlugin() bool   { return c.f.useGPTAttentionPlugin }
func (c *ModelConfig) UseMambaConv1dPlugin() bool    { return c.f.useMambaConv1dPlugin }
func (c *ModelConfig) UsePackedInput() bool          { return c.f.inputPacked }
func (c *ModelConfig) UsePagedKVCache() bool         { return c.f.pagedKVCache }
func (c *ModelConfig) UsePagedState() bool           { return c.f.pagedState }
func (c *ModelConfig) TokensPerBlock() int           { return c.f.tokensPerBlock }
func (c *ModelConfig) QuantMode() quant.Mode         { return c.f.quantMode }
func (c *ModelConfig) MaxBatchSize() int             { return c.f.maxBatchSize }
func (c *ModelConfig) MaxBeamWidth() int             { return c.f.maxBeamWidth }
func (c *ModelConfig) MaxInputLen() int              { return c.f.maxInputLen }
func (c *ModelConfig) MaxSequenceLen() int           { return c.f.maxSequenceLen }
func (c *ModelConfig) ComputeContextLogits() bool    { return c.f.computeContextLogits }
func (c *ModelConfig) ComputeGenerationLogits() bool { return c.f.computeGenerationLogits }
func (c *ModelConfig) Variant() Variant              { return c.f.variant }
func (c *ModelConfig) UseCustomAllReduce() bool      { return c.f.useCustomAllReduce }
func (c *ModelConfig) MaxDraftLen() int              { return c.f.maxDraftLen }
func (c *ModelConfig) UsePagedContextFMHA() bool     { return c.f.pagedContextFMHA }
func (c *ModelConfig) UseXQA() bool                  { return c.f.useXQA }
func (c *ModelConfig) UseLoRAPlugin() bool           { return c.f.useLoRAPlugin }
func (c *ModelConfig) MLPHiddenSize() int            { return c.f.mlpHiddenSize }
func (c *ModelConfig) MaxLoRARank() int              { return c.f.maxLoRARank }
func (c *ModelConfig) UseCrossAttention() bool       { return c.f.useCrossAttention }
func (c *ModelConfig) UsePositionEmbedding() bool    { return c.f.usePositionEmbedding }
func (c *ModelConfig) UseTokenTypeEmbedding() bool   { return c.f.useTokenTypeEmbedding }

// FFNHiddenSize is the encoder output hidden size of encoder-decoder models.
func (c *ModelConfig) FFNHiddenSize() int { return c.f.ffnHiddenSize }

func (c *ModelConfig) UseContextFMHAForGeneration() bool {
	return c.f.useContextFMHAForGeneration
}

func (c *ModelConfig) MaxPromptEmbeddingTableSize() int {
	return c.f.maxPromptEmbeddingTableSize
}

// MaxNumTokens returns the per-step token budget and whether one is set.
func (c *ModelConfig) MaxNumTokens() (int, bool) {
	if c.f.maxNumTokens == nil {
		return 0, false
	}
	return *c.f.maxNumTokens, true
}

// LoRAModules returns a copy of the adapter injection points.
func (c *ModelConfig) LoRAModules() []lora.Module { return slices.Clone(c.f.loraModules) }

// LayerTypes returns a copy of the per-layer tags.
func (c *ModelConfig) LayerTypes() []LayerType { return slices.Clone(c.f.layerTypes) }

// MedusaModule returns a copy of the speculative decoding heads, if any.
func (c *ModelConfig) MedusaModule() (MedusaModule, bool) {
	if c.f.medusa == nil {
		return MedusaModule{}, false
	}
	return c.f.medusa.clone(), true
}

// MambaConfig returns the state-space parameters carried by the variant.
func (c *ModelConfig) MambaConfig() (MambaConfig, bool) { return c.f.variant.MambaConfig() }

// RnnConfig returns the recurrent parameters carried by the variant.
func (c *ModelConfig) RnnConfig() (RnnConfig, bool) { return c.f.variant.RnnConfig() }

// SupportsInflightBatching reports whether requests may join and leave a
// running batch. Attention models need the attention plugin, packed input and
// a paged KV cache; state-space models need the conv1d plugin, packed input
// and paged state. There is no partial support.
func (c *ModelConfig) SupportsInflightBatching() bool {
	f := &c.f
	return (c.IsTransformerBased() && f.useGPTAttentionPlugin && f.inputPacked && f.pagedKVCache) ||
		(c.IsSSMBased() && f.useMambaConv1dPlugin && f.inputPacked && f.pagedState)
}

// KVDataType is the element type of the key/value cache. An FP8 cache wins
// over an INT8 cache when both bits are set.
func (c *ModelConfig) KVDataType() dtype.DataType {
	switch {
	case c.f.quantMode.HasFP8KVCache():
		return dtype.FP8
	case c.f.quantMode.HasInt8KVCache():
		return dtype.Int8
	default:
		return c.f.dataType
	}
}

func (c *ModelConfig) IsTransformerBased() bool { return c.f.variant.IsTransformerBased() }
func (c *ModelConfig) IsSSMBased() bool         { return c.f.variant.IsSSMBased() }

// MaxTokensPerStep is the number of tokens one generation step can emit:
// every draft token plus the one the model produces itself.
func (c *ModelConfig) MaxTokensPerStep() int { return c.f.maxDraftLen + 1 }

func (c *ModelConfig) UsePromptTuning() bool { return c.f.maxPromptEmbeddingTableSize > 0 }
func (c *ModelConfig) UseMedusa() bool       { return c.f.medusa != nil }
func (c *ModelConfig) HasMambaConfig() bool  { return c.f.variant.mamba != nil }
func (c *ModelConfig) HasRnnConfig() bool    { return c.f.variant.rnn != nil }
