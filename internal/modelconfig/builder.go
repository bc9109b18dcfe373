package modelconfig

import (
	"slices"

	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/lora"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

// DefaultTokensPerBlock is the paged cache block size used when the engine
// config does not set one.
const DefaultTokensPerBlock = 64

// fields is the storage shared by Builder and ModelConfig.
type fields struct {
	vocabSize          int
	numAttentionLayers int
	numSSMLayers       int
	numHeads           int
	numKVHeads         int
	hiddenSize         int
	sizePerHead        int
	dataType           dtype.DataType

	useGPTAttentionPlugin bool
	useMambaConv1dPlugin  bool
	inputPacked           bool
	pagedKVCache          bool
	pagedState            bool
	tokensPerBlock        int
	quantMode             quant.Mode

	maxBatchSize   int
	maxBeamWidth   int
	maxInputLen    int
	maxSequenceLen int
	maxNumTokens   *int

	computeContextLogits    bool
	computeGenerationLogits bool
	variant                 Variant
	useCustomAllReduce      bool

	maxPromptEmbeddingTableSize int
	maxDraftLen                 int

	useContextFMHAForGeneration bool
	pagedContextFMHA            bool
	useXQA                      bool

	useLoRAPlugin bool
	loraModules   []lora.Module
	mlpHiddenSize int
	maxLoRARank   int

	medusa *MedusaModule

	// Encoder / encoder-decoder models.
	useCrossAttention     bool
	usePositionEmbedding  bool
	useTokenTypeEmbedding bool
	ffnHiddenSize         int

	layerTypes []LayerType
}

// clone returns a copy that shares no mutable memory with f.
func (f fields) clone() fields {
	f.loraModules = slices.Clone(f.loraModules)
	f.layerTypes = slices.Clone(f.layerTypes)
	if f.maxNumTokens != nil {
		n := *f.maxNumTokens
		f.maxNumTokens = &n
	}
	if f.medusa != nil {
		m := f.medusa.clone()
		f.medusa = &m
	}
	return f
}

// Builder is the mutable staging form of a ModelConfig. It is meant to be
// filled in by a single goroutine during engine build and then frozen with
// Build.
type Builder struct {
	f fields
}

// NewBuilder starts a descriptor from the primary dimensions. The head size
// is derived from hiddenSize and numHeads; dimension problems are reported by
// Build, not here.
func NewBuilder(vocabSize, numAttentionLayers, numSSMLayers, numHeads, hiddenSize int, dt dtype.DataType) *Builder {
	sizePerHead := 0
	if numHeads != 0 {
		sizePerHead = hiddenSize / numHeads
	}
	return &Builder{f: fields{
		vocabSize:            vocabSize,
		numAttentionLayers:   numAttentionLayers,
		numSSMLayers:         numSSMLayers,
		numHeads:             numHeads,
		numKVHeads:           numHeads,
		hiddenSize:           hiddenSize,
		sizePerHead:          sizePerHead,
		dataType:             dt,
		tokensPerBlock:       DefaultTokensPerBlock,
		quantMode:            quant.None(),
		variant:              GPTVariant(),
		usePositionEmbedding: true,
	}}
}

func (b *Builder) SetNumKVHeads(n int) *Builder  { b.f.numKVHeads = n; return b }
func (b *Builder) SetSizePerHead(n int) *Builder { b.f.sizePerHead = n; return b }

func (b *Builder) UseGPTAttentionPlugin(v bool) *Builder { b.f.useGPTAttentionPlugin = v; return b }
func (b *Builder) UseMambaConv1dPlugin(v bool) *Builder  { b.f.useMambaConv1dPlugin = v; return b }
func (b *Builder) UsePackedInput(v bool) *Builder        { b.f.inputPacked = v; return b }
func (b *Builder) UsePagedKVCache(v bool) *Builder       { b.f.pagedKVCache = v; return b }
func (b *Builder) UsePagedState(v bool) *Builder         { b.f.pagedState = v; return b }
func (b *Builder) SetTokensPerBlock(n int) *Builder      { b.f.tokensPerBlock = n; return b }
func (b *Builder) SetQuantMode(m quant.Mode) *Builder    { b.f.quantMode = m; return b }

func (b *Builder) SetMaxBatchSize(n int) *Builder   { b.f.maxBatchSize = n; return b }
func (b *Builder) SetMaxBeamWidth(n int) *Builder   { b.f.maxBeamWidth = n; return b }
func (b *Builder) SetMaxInputLen(n int) *Builder    { b.f.maxInputLen = n; return b }
func (b *Builder) SetMaxSequenceLen(n int) *Builder { b.f.maxSequenceLen = n; return b }

// SetMaxNumTokens sets the per-step token budget. A nil value clears it.
func (b *Builder) SetMaxNumTokens(n *int) *Builder {
	if n == nil {
		b.f.maxNumTokens = nil
		return b
	}
	v := *n
	b.f.maxNumTokens = &v
	return b
}

func (b *Builder) ComputeContextLogits(v bool) *Builder    { b.f.computeContextLogits = v; return b }
func (b *Builder) ComputeGenerationLogits(v bool) *Builder { b.f.computeGenerationLogits = v; return b }
func (b *Builder) SetVariant(v Variant) *Builder           { b.f.variant = v; return b }
func (b *Builder) UseCustomAllReduce(v bool) *Builder      { b.f.useCustomAllReduce = v; return b }

func (b *Builder) SetMaxPromptEmbeddingTableSize(n int) *Builder {
	b.f.maxPromptEmbeddingTableSize = n
	return b
}

func (b *Builder) SetMaxDraftLen(n int) *Builder { b.f.maxDraftLen = n; return b }

func (b *Builder) UseContextFMHAForGeneration(v bool) *Builder {
	b.f.useContextFMHAForGeneration = v
	return b
}

func (b *Builder) UsePagedContextFMHA(v bool) *Builder { b.f.pagedContextFMHA = v; return b }
func (b *Builder) UseXQA(v bool) *Builder              { b.f.useXQA = v; return b }

func (b *Builder) UseLoRAPlugin(v bool) *Builder { b.f.useLoRAPlugin = v; return b }

func (b *Builder) SetLoRAModules(m []lora.Module) *Builder {
	b.f.loraModules = slices.Clone(m)
	return b
}

func (b *Builder) SetMLPHiddenSize(n int) *Builder { b.f.mlpHiddenSize = n; return b }
func (b *Builder) SetMaxLoRARank(n int) *Builder   { b.f.maxLoRARank = n; return b }

// SetMedusaModule attaches speculative decoding heads. A nil module detaches
// them.
func (b *Builder) SetMedusaModule(m *MedusaModule) *Builder {
	if m == nil {
		b.f.medusa = nil
		return b
	}
	c := m.clone()
	b.f.medusa = &c
	return b
}

func (b *Builder) UseCrossAttention(v bool) *Builder     { b.f.useCrossAttention = v; return b }
func (b *Builder) UsePositionEmbedding(v bool) *Builder  { b.f.usePositionEmbedding = v; return b }
func (b *Builder) UseTokenTypeEmbedding(v bool) *Builder { b.f.useTokenTypeEmbedding = v; return b }
func (b *Builder) SetFFNHiddenSize(n int) *Builder       { b.f.ffnHiddenSize = n; return b }

func (b *Builder) SetLayerTypes(t []LayerType) *Builder {
	b.f.layerTypes = slices.Clone(t)
	return b
}

// Build validates the staged values and returns a frozen descriptor. The
// builder stays usable; later changes do not affect configs already built.
func (b *Builder) Build() (*ModelConfig, error) {
	if err := b.f.validate(); err != nil {
		return nil, err
	}
	return &ModelConfig{f: b.f.clone()}, nil
}

func (f *fields) validate() error {
	switch {
	case f.numHeads <= 0:
		return invalidf("head count must be positive, got %d", f.numHeads)
	case f.hiddenSize%f.numHeads != 0:
		return invalidf("hidden size %d is not divisible by head count %d", f.hiddenSize, f.numHeads)
	case f.vocabSize <= 0:
		return invalidf("vocab size must be positive, got %d", f.vocabSize)
	case f.numKVHeads <= 0:
		return invalidf("kv head count must be positive, got %d", f.numKVHeads)
	case f.sizePerHead <= 0:
		return invalidf("head size must be positive, got %d", f.sizePerHead)
	case f.numAttentionLayers < 0 || f.numSSMLayers < 0:
		return invalidf("layer counts must not be negative (attention=%d, ssm=%d)", f.numAttentionLayers, f.numSSMLayers)
	case !f.dataType.Valid():
		return invalidf("unknown data type %d", int32(f.dataType))
	}

	if (f.pagedKVCache || f.pagedState) && f.tokensPerBlock <= 0 {
		return invalidf("paged cache requires a positive tokens per block, got %d", f.tokensPerBlock)
	}

	limits := []struct {
		name string
		v    int
	}{
		{"max batch size", f.maxBatchSize},
		{"max beam width", f.maxBeamWidth},
		{"max input length", f.maxInputLen},
		{"max sequence length", f.maxSequenceLen},
		{"max prompt embedding table size", f.maxPromptEmbeddingTableSize},
		{"max draft length", f.maxDraftLen},
		{"mlp hidden size", f.mlpHiddenSize},
		{"ffn hidden size", f.ffnHiddenSize},
		{"max lora rank", f.maxLoRARank},
	}
	for _, l := range limits {
		if l.v < 0 {
			return invalidf("%s must not be negative, got %d", l.name, l.v)
		}
	}
	if f.maxNumTokens != nil && *f.maxNumTokens <= 0 {
		return invalidf("max num tokens must be positive when set, got %d", *f.maxNumTokens)
	}

	if len(f.layerTypes) > 0 {
		var attn, rec int
		for _, t := range f.layerTypes {
			switch t {
			case LayerAttention:
				attn++
			case LayerRecurrent:
				rec++
			default:
				return invalidf("unknown layer type %d", int32(t))
			}
		}
		if attn != f.numAttentionLayers || rec != f.numSSMLayers {
			return invalidf("layer types list %d attention and %d recurrent layers, config has %d and %d",
				attn, rec, f.numAttentionLayers, f.numSSMLayers)
		}
	}

	if len(f.loraModules) > 0 && f.maxLoRARank == 0 {
		return invalidf("lora modules configured without a max lora rank")
	}
	for _, m := range f.loraModules {
		if m.Type == lora.Invalid {
			return invalidf("invalid lora module %s", m)
		}
	}

	if f.medusa != nil && f.medusa.MaxDraftTokens != f.maxDraftLen {
		return invalidf("medusa module drafts %d tokens but max draft length is %d",
			f.medusa.MaxDraftTokens, f.maxDraftLen)
	}
	return nil
}
