package modelconfig

import (
	"fmt"
	"strings"
)

// VariantKind is the closed set of model families the runtime knows how to
// schedule.
type VariantKind int32

const (
	GPT VariantKind = iota
	GLM
	Mamba
	RecurrentGemma
)

var variantNames = [...]string{
	GPT:            "gpt",
	GLM:            "glm",
	Mamba:          "mamba",
	RecurrentGemma: "recurrentgemma",
}

func (k VariantKind) String() string {
	if k >= GPT && int(k) < len(variantNames) {
		return variantNames[k]
	}
	return fmt.Sprintf("VariantKind(%d)", int32(k))
}

// ParseVariantKind accepts the lower-case names produced by String.
func ParseVariantKind(s string) (VariantKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range variantNames {
		if n == s {
			return VariantKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown model variant %q", ErrInvalidConfiguration, s)
}

// MambaConfig holds the selective state-space block parameters.
type MambaConfig struct {
	DState int `json:"d_state" yaml:"d_state"`
	DConv  int `json:"d_conv" yaml:"d_conv"`
	Expand int `json:"expand" yaml:"expand"`
}

// RnnConfig holds the recurrent block parameters of hybrid models.
type RnnConfig struct {
	DConv      int `json:"d_conv" yaml:"d_conv"`
	HiddenSize int `json:"hidden_size" yaml:"hidden_size"`
}

// Variant is a model family together with the parameters only that family
// carries. Mamba variants always hold a MambaConfig and RecurrentGemma
// variants always hold an RnnConfig; GPT and GLM hold neither. The zero value
// is GPT.
type Variant struct {
	kind  VariantKind
	mamba *MambaConfig
	rnn   *RnnConfig
}

func GPTVariant() Variant { return Variant{kind: GPT} }

func GLMVariant() Variant { return Variant{kind: GLM} }

func MambaVariant(c MambaConfig) Variant {
	return Variant{kind: Mamba, mamba: &c}
}

func RecurrentGemmaVariant(c RnnConfig) Variant {
	return Variant{kind: RecurrentGemma, rnn: &c}
}

func (v Variant) Kind() VariantKind { return v.kind }

func (v Variant) String() string { return v.kind.String() }

// MambaConfig returns a copy of the state-space parameters, if the variant
// carries them.
func (v Variant) MambaConfig() (MambaConfig, bool) {
	if v.mamba == nil {
		return MambaConfig{}, false
	}
	return *v.mamba, true
}

// RnnConfig returns a copy of the recurrent parameters, if the variant
// carries them.
func (v Variant) RnnConfig() (RnnConfig, bool) {
	if v.rnn == nil {
		return RnnConfig{}, false
	}
	return *v.rnn, true
}

// IsTransformerBased reports whether the variant has attention layers.
// RecurrentGemma is a hybrid and is both transformer and SSM based.
func (v Variant) IsTransformerBased() bool {
	return v.kind == GPT || v.kind == GLM || v.kind == RecurrentGemma
}

// IsSSMBased reports whether the variant has state-space or recurrent layers.
func (v Variant) IsSSMBased() bool {
	return v.kind == Mamba || v.kind == RecurrentGemma
}

// LayerType tags a decoder layer.
type LayerType int32

const (
	LayerAttention LayerType = iota
	LayerRecurrent
)

func (t LayerType) String() string {
	switch t {
	case LayerAttention:
		return "attention"
	case LayerRecurrent:
		return "recurrent"
	}
	return fmt.Sprintf("LayerType(%d)", int32(t))
}

// ParseLayerType accepts the tags used in checkpoint configs.
func ParseLayerType(s string) (LayerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "attention", "attn", "full_attention", "sliding_attention":
		return LayerAttention, nil
	case "recurrent", "rnn", "mamba", "ssm":
		return LayerRecurrent, nil
	}
	return 0, fmt.Errorf("%w: unknown layer type %q", ErrInvalidConfiguration, s)
}

func (t LayerType) MarshalText() ([]byte, error) {
	if t != LayerAttention && t != LayerRecurrent {
		return nil, fmt.Errorf("%w: layer type %d", ErrInvalidConfiguration, int32(t))
	}
	return []byte(t.String()), nil
}

func (t *LayerType) UnmarshalText(b []byte) error {
	v, err := ParseLayerType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MedusaModule describes the speculative decoding heads attached to the
// model. Its presence is what turns Medusa decoding on.
type MedusaModule struct {
	NumHeads          int     `json:"num_heads" yaml:"num_heads"`
	MaxDraftTokens    int     `json:"max_draft_tokens" yaml:"max_draft_tokens"`
	MaxAcceptedTokens int     `json:"max_accepted_tokens" yaml:"max_accepted_tokens"`
	Choices           [][]int `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// MaxDraftPathLen is the longest path through the draft tree, which is one
// token per Medusa head.
func (m MedusaModule) MaxDraftPathLen() int { return m.NumHeads }

func (m MedusaModule) clone() MedusaModule {
	if m.Choices != nil {
		choices := make([][]int, len(m.Choices))
		for i, c := range m.Choices {
			choices[i] = append([]int(nil), c...)
		}
		m.Choices = choices
	}
	return m
}
