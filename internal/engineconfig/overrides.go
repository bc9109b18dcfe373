package engineconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/modelcfg/internal/logger"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

var ErrUnsupportedFormat = errors.New("unsupported overrides format")

// Overrides adjusts the serving limits and runtime flags of a loaded engine.
// Nil fields keep the engine's value.
type Overrides struct {
	MaxBatchSize                *int    `json:"max_batch_size,omitempty" yaml:"max_batch_size,omitempty" toml:"max_batch_size,omitempty"`
	MaxBeamWidth                *int    `json:"max_beam_width,omitempty" yaml:"max_beam_width,omitempty" toml:"max_beam_width,omitempty"`
	MaxInputLen                 *int    `json:"max_input_len,omitempty" yaml:"max_input_len,omitempty" toml:"max_input_len,omitempty"`
	MaxSequenceLen              *int    `json:"max_seq_len,omitempty" yaml:"max_seq_len,omitempty" toml:"max_seq_len,omitempty"`
	MaxNumTokens                *int    `json:"max_num_tokens,omitempty" yaml:"max_num_tokens,omitempty" toml:"max_num_tokens,omitempty"`
	TokensPerBlock              *int    `json:"tokens_per_block,omitempty" yaml:"tokens_per_block,omitempty" toml:"tokens_per_block,omitempty"`
	KVCacheQuant                *string `json:"kv_cache_quant,omitempty" yaml:"kv_cache_quant,omitempty" toml:"kv_cache_quant,omitempty"`
	EnableXQA                   *bool   `json:"enable_xqa,omitempty" yaml:"enable_xqa,omitempty" toml:"enable_xqa,omitempty"`
	UseCustomAllReduce          *bool   `json:"use_custom_all_reduce,omitempty" yaml:"use_custom_all_reduce,omitempty" toml:"use_custom_all_reduce,omitempty"`
	UseContextFMHAForGeneration *bool   `json:"use_context_fmha_for_generation,omitempty" yaml:"use_context_fmha_for_generation,omitempty" toml:"use_context_fmha_for_generation,omitempty"`
	UsePagedContextFMHA         *bool   `json:"use_paged_context_fmha,omitempty" yaml:"use_paged_context_fmha,omitempty" toml:"use_paged_context_fmha,omitempty"`
	GatherContextLogits         *bool   `json:"gather_context_logits,omitempty" yaml:"gather_context_logits,omitempty" toml:"gather_context_logits,omitempty"`
	GatherGenerationLogits      *bool   `json:"gather_generation_logits,omitempty" yaml:"gather_generation_logits,omitempty" toml:"gather_generation_logits,omitempty"`
}

// LoadOverrides reads an overrides file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	if path == "" {
		return o, fmt.Errorf("empty overrides path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		err = dec.Decode(&o)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&o)
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(b)).DisallowUnknownFields().Decode(&o)
	default:
		return o, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return o, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// ApplyOverrides returns a copy of e whose descriptor carries o. The receiver
// and its descriptor are left untouched.
func (e *EngineConfig) ApplyOverrides(ctx context.Context, o Overrides) (*EngineConfig, error) {
	log := logger.FromContext(ctx)
	b := e.Model.ToBuilder()
	applied := make([]string, 0, 13)

	setInt := func(name string, v *int, set func(int) *modelconfig.Builder) {
		if v != nil {
			set(*v)
			applied = append(applied, name)
		}
	}
	setBool := func(name string, v *bool, set func(bool) *modelconfig.Builder) {
		if v != nil {
			set(*v)
			applied = append(applied, name)
		}
	}

	setInt("max_batch_size", o.MaxBatchSize, b.SetMaxBatchSize)
	setInt("max_beam_width", o.MaxBeamWidth, b.SetMaxBeamWidth)
	setInt("max_input_len", o.MaxInputLen, b.SetMaxInputLen)
	setInt("max_seq_len", o.MaxSequenceLen, b.SetMaxSequenceLen)
	setInt("tokens_per_block", o.TokensPerBlock, b.SetTokensPerBlock)
	if o.MaxNumTokens != nil {
		b.SetMaxNumTokens(o.MaxNumTokens)
		applied = append(applied, "max_num_tokens")
	}
	setBool("enable_xqa", o.EnableXQA, b.UseXQA)
	setBool("use_custom_all_reduce", o.UseCustomAllReduce, b.UseCustomAllReduce)
	setBool("use_context_fmha_for_generation", o.UseContextFMHAForGeneration, b.UseContextFMHAForGeneration)
	setBool("use_paged_context_fmha", o.UsePagedContextFMHA, b.UsePagedContextFMHA)
	setBool("gather_context_logits", o.GatherContextLogits, b.ComputeContextLogits)
	setBool("gather_generation_logits", o.GatherGenerationLogits, b.ComputeGenerationLogits)

	if o.KVCacheQuant != nil {
		mode, err := withKVCacheQuant(e.Model.QuantMode(), *o.KVCacheQuant)
		if err != nil {
			return nil, err
		}
		b.SetQuantMode(mode)
		applied = append(applied, "kv_cache_quant")
	}

	model, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}
	log.Debug("applied overrides", "engine", e.Name, "fields", applied)

	out := *e
	out.Model = model
	return &out, nil
}

func withKVCacheQuant(mode quant.Mode, algo string) (quant.Mode, error) {
	mode = mode.Sub(quant.Int8KVCache | quant.FP8KVCache)
	switch strings.ToLower(strings.TrimSpace(algo)) {
	case "", "none":
		return mode, nil
	case "int8":
		return mode.Add(quant.Int8KVCache), nil
	case "fp8":
		return mode.Add(quant.FP8KVCache), nil
	}
	return 0, fmt.Errorf("%w: kv cache %q", quant.ErrUnknownAlgo, algo)
}
