// Package quant describes how an engine quantizes weights, activations and
// the key/value cache. The descriptor only reads a Mode; building one from
// checkpoint metadata happens here.
package quant

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAlgo = errors.New("unknown quantization algorithm")

// Mode is a set of quantization flags. The bit layout is stable and matches
// the value stored in serialized engine configs.
type Mode uint32

const (
	Int4Weights Mode = 1 << iota
	Int8Weights
	Activations
	PerChannelScaling
	PerTokenScaling
	PerGroupScaling
	Int8KVCache
	FP8KVCache
	FP8QDQ
)

var flagNames = []struct {
	flag Mode
	name string
}{
	{Int4Weights, "int4_weights"},
	{Int8Weights, "int8_weights"},
	{Activations, "activations"},
	{PerChannelScaling, "per_channel_scaling"},
	{PerTokenScaling, "per_token_scaling"},
	{PerGroupScaling, "per_group_scaling"},
	{Int8KVCache, "int8_kv_cache"},
	{FP8KVCache, "fp8_kv_cache"},
	{FP8QDQ, "fp8_qdq"},
}

// None is the empty mode.
func None() Mode { return 0 }

// Value returns the raw bits.
func (m Mode) Value() uint32 { return uint32(m) }

// IsSet reports whether every bit of flags is present in m.
func (m Mode) IsSet(flags Mode) bool { return m&flags == flags }

func (m Mode) HasInt4Weights() bool       { return m.IsSet(Int4Weights) }
func (m Mode) HasInt8Weights() bool       { return m.IsSet(Int8Weights) }
func (m Mode) HasActivations() bool       { return m.IsSet(Activations) }
func (m Mode) HasPerChannelScaling() bool { return m.IsSet(PerChannelScaling) }
func (m Mode) HasPerTokenScaling() bool   { return m.IsSet(PerTokenScaling) }
func (m Mode) HasPerGroupScaling() bool   { return m.IsSet(PerGroupScaling) }
func (m Mode) HasInt8KVCache() bool       { return m.IsSet(Int8KVCache) }
func (m Mode) HasFP8KVCache() bool        { return m.IsSet(FP8KVCache) }
func (m Mode) HasFP8QDQ() bool            { return m.IsSet(FP8QDQ) }

// HasStaticActivationScaling is true when activation scales are not computed
// per token at runtime.
func (m Mode) HasStaticActivationScaling() bool { return !m.HasPerTokenScaling() }

// HasKVCacheQuant reports whether the key/value cache is stored quantized.
func (m Mode) HasKVCacheQuant() bool { return m.HasInt8KVCache() || m.HasFP8KVCache() }

// Add returns the union of m and o.
func (m Mode) Add(o Mode) Mode { return m | o }

// Sub returns m with every flag of o cleared.
func (m Mode) Sub(o Mode) Mode { return m &^ o }

// String lists the set flags, e.g. "int8_weights|int8_kv_cache".
func (m Mode) String() string {
	if m == 0 {
		return "none"
	}
	parts := make([]string, 0, len(flagNames))
	for _, f := range flagNames {
		if m.IsSet(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if rest := m &^ (FP8QDQ<<1 - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Description lists the knobs a checkpoint exposes for quantization.
type Description struct {
	QuantizeWeights     bool
	QuantizeActivations bool
	PerToken            bool
	PerChannel          bool
	PerGroup            bool
	Int4Weights         bool
	Int8KVCache         bool
	FP8KVCache          bool
	FP8QDQ              bool
}

// FromDescription folds a Description into a Mode. Weight quantization picks
// int4 over int8 when both are requested.
func FromDescription(d Description) Mode {
	var m Mode
	if d.QuantizeWeights {
		if d.Int4Weights {
			m = m.Add(Int4Weights)
		} else {
			m = m.Add(Int8Weights)
		}
	}
	if d.QuantizeActivations {
		m = m.Add(Activations)
	}
	if d.PerChannel {
		m = m.Add(PerChannelScaling)
	}
	if d.PerToken {
		m = m.Add(PerTokenScaling)
	}
	if d.PerGroup {
		m = m.Add(PerGroupScaling)
	}
	if d.Int8KVCache {
		m = m.Add(Int8KVCache)
	}
	if d.FP8KVCache {
		m = m.Add(FP8KVCache)
	}
	if d.FP8QDQ {
		m = m.Add(FP8QDQ)
	}
	return m
}

// UseSmoothQuant is int8 weights and activations with the given scaling.
func UseSmoothQuant(perToken, perChannel bool) Mode {
	return FromDescription(Description{
		QuantizeWeights:     true,
		QuantizeActivations: true,
		PerToken:            perToken,
		PerChannel:          perChannel,
	})
}

// UseWeightOnly quantizes weights only.
func UseWeightOnly(int4Weights, perGroup bool) Mode {
	return FromDescription(Description{
		QuantizeWeights: true,
		PerGroup:        perGroup,
		Int4Weights:     int4Weights,
	})
}

// FromQuantAlgo maps the algorithm names written by the engine builder.
// Empty strings mean "not quantized".
func FromQuantAlgo(algo, kvCacheAlgo string) (Mode, error) {
	var m Mode
	switch strings.ToUpper(strings.TrimSpace(algo)) {
	case "":
	case "W8A16":
		m = UseWeightOnly(false, false)
	case "W4A16":
		m = UseWeightOnly(true, false)
	case "W4A16_AWQ", "W4A8_AWQ", "W4A16_GPTQ":
		m = UseWeightOnly(true, true)
	case "W8A8_SQ_PER_CHANNEL", "W8A8_SQ_PER_CHANNEL_PER_TENSOR_PLUGIN":
		m = UseSmoothQuant(false, true)
	case "W8A8_SQ_PER_TENSOR_PLUGIN":
		m = UseSmoothQuant(false, false)
	case "W8A8_SQ_PER_CHANNEL_PER_TOKEN_PLUGIN":
		m = UseSmoothQuant(true, true)
	case "W8A8_SQ_PER_TENSOR_PER_TOKEN_PLUGIN":
		m = UseSmoothQuant(true, false)
	case "FP8":
		m = FromDescription(Description{FP8QDQ: true})
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgo, algo)
	}

	switch strings.ToUpper(strings.TrimSpace(kvCacheAlgo)) {
	case "":
	case "INT8":
		m = m.Add(Int8KVCache)
	case "FP8":
		m = m.Add(FP8KVCache)
	default:
		return 0, fmt.Errorf("%w: kv cache %q", ErrUnknownAlgo, kvCacheAlgo)
	}
	return m, nil
}
