// Package dispatch turns a frozen model descriptor and the kernel environment
// into the set of execution paths the runtime may take.
package dispatch

import (
	"fmt"

	"github.com/samcharles93/modelcfg/internal/envcfg"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
	"github.com/samcharles93/modelcfg/pkg/dtype"
)

// AttentionKernel is the kernel family used for generation-phase attention.
type AttentionKernel string

const (
	AttentionNone        AttentionKernel = "none"
	AttentionUnfused     AttentionKernel = "unfused"
	AttentionMaskedMHA   AttentionKernel = "mmha"
	AttentionXQA         AttentionKernel = "xqa"
	AttentionContextFMHA AttentionKernel = "context_fmha"
)

// SSMKernel is the kernel family used for state-space layers.
type SSMKernel string

const (
	SSMNone      SSMKernel = "none"
	SSMConv1d    SSMKernel = "conv1d_plugin"
	SSMReference SSMKernel = "conv1d_reference"
)

// xqaHeadSizes are the head sizes XQA kernels are compiled for.
var xqaHeadSizes = map[int]bool{64: true, 128: true, 256: true}

// ExecutionPlan lists the paths legal for one descriptor.
type ExecutionPlan struct {
	Attention        AttentionKernel `json:"attention" yaml:"attention"`
	PagedContextFMHA bool            `json:"paged_context_fmha" yaml:"paged_context_fmha"`
	SSM              SSMKernel       `json:"ssm" yaml:"ssm"`
	InflightBatching bool            `json:"inflight_batching" yaml:"inflight_batching"`
	LoRA             bool            `json:"lora" yaml:"lora"`
	Medusa           bool            `json:"medusa" yaml:"medusa"`
	PromptTuning     bool            `json:"prompt_tuning" yaml:"prompt_tuning"`
	MaxTokensPerStep int             `json:"max_tokens_per_step" yaml:"max_tokens_per_step"`
	KVDataType       dtype.DataType  `json:"kv_data_type" yaml:"kv_data_type"`
	KVBlockBytes     int64           `json:"kv_block_bytes" yaml:"kv_block_bytes"`

	// Tuning carried through from the environment for the chosen kernel.
	XQACTAsPerKVHead      int  `json:"xqa_ctas_per_kv_head,omitempty" yaml:"xqa_ctas_per_kv_head,omitempty"`
	XQAJIT                bool `json:"xqa_jit,omitempty" yaml:"xqa_jit,omitempty"`
	MMHABlocksPerSequence int  `json:"mmha_blocks_per_sequence,omitempty" yaml:"mmha_blocks_per_sequence,omitempty"`
	MMHAKernelBlockSize   int  `json:"mmha_kernel_block_size,omitempty" yaml:"mmha_kernel_block_size,omitempty"`

	Notes []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Plan derives the execution plan for cfg. It reads cfg only through its
// accessors and is safe to call concurrently.
func Plan(cfg *modelconfig.ModelConfig, knobs envcfg.Knobs) ExecutionPlan {
	p := ExecutionPlan{
		SSM:              SSMNone,
		InflightBatching: cfg.SupportsInflightBatching(),
		Medusa:           cfg.UseMedusa(),
		PromptTuning:     cfg.UsePromptTuning(),
		MaxTokensPerStep: cfg.MaxTokensPerStep(),
		KVDataType:       cfg.KVDataType(),
	}

	p.Attention = attentionKernel(cfg, knobs, &p.Notes)
	switch p.Attention {
	case AttentionXQA:
		p.XQAJIT = !knobs.DisableXQAJIT
		p.XQACTAsPerKVHead = knobs.XQAMaxCTAsPerKVHeadFactor
		if knobs.XQACTAsPerKVHead != nil {
			p.XQACTAsPerKVHead = *knobs.XQACTAsPerKVHead
		}
	case AttentionMaskedMHA:
		p.MMHABlocksPerSequence = knobs.MMHABlocksPerSequence
		p.MMHAKernelBlockSize = knobs.MMHAKernelBlockSize
		if knobs.MMHAMultiBlockDebug {
			p.Notes = append(p.Notes, "masked MHA multi-block debug output enabled")
		}
	}
	p.PagedContextFMHA = cfg.UseGPTAttentionPlugin() && cfg.UsePagedKVCache() && cfg.UsePagedContextFMHA()

	if cfg.IsSSMBased() {
		p.SSM = SSMReference
		if cfg.UseMambaConv1dPlugin() {
			p.SSM = SSMConv1d
		}
	}

	if cfg.UseLoRAPlugin() {
		if len(cfg.LoRAModules()) > 0 && cfg.MaxLoRARank() > 0 {
			p.LoRA = true
		} else {
			p.Notes = append(p.Notes, "lora plugin enabled without target modules")
		}
	}

	if cfg.IsTransformerBased() && cfg.UsePagedKVCache() {
		p.KVBlockBytes = KVBlockBytes(cfg)
	}
	return p
}

func attentionKernel(cfg *modelconfig.ModelConfig, knobs envcfg.Knobs, notes *[]string) AttentionKernel {
	if n, _ := cfg.NumAttentionLayers(1); !cfg.IsTransformerBased() || n == 0 {
		return AttentionNone
	}
	if !cfg.UseGPTAttentionPlugin() {
		return AttentionUnfused
	}
	if cfg.UseContextFMHAForGeneration() {
		return AttentionContextFMHA
	}
	if cfg.UseXQA() || knobs.ForceXQA {
		if reason := xqaUnsupported(cfg); reason != "" {
			*notes = append(*notes, "xqa requested but unsupported: "+reason)
			return AttentionMaskedMHA
		}
		return AttentionXQA
	}
	return AttentionMaskedMHA
}

func xqaUnsupported(cfg *modelconfig.ModelConfig) string {
	switch {
	case cfg.DataType() != dtype.Half && cfg.DataType() != dtype.BF16:
		return fmt.Sprintf("data type %s", cfg.DataType())
	case !xqaHeadSizes[cfg.SizePerHead()]:
		return fmt.Sprintf("head size %d", cfg.SizePerHead())
	case cfg.NumHeads()%cfg.NumKVHeads() != 0:
		return fmt.Sprintf("%d heads do not group over %d kv heads", cfg.NumHeads(), cfg.NumKVHeads())
	case cfg.MaxBeamWidth() > 1:
		return fmt.Sprintf("beam width %d", cfg.MaxBeamWidth())
	}
	return ""
}

// KVBlockBytes is the size of one paged KV cache block for a single attention
// layer: keys and values for every KV head over TokensPerBlock tokens.
func KVBlockBytes(cfg *modelconfig.ModelConfig) int64 {
	return 2 * int64(cfg.NumKVHeads()) * int64(cfg.SizePerHead()) *
		int64(cfg.TokensPerBlock()) * int64(cfg.KVDataType().Size())
}

// ShardKVBlockBytes is KVBlockBytes summed over the attention layers one of
// pp pipeline stages holds.
func ShardKVBlockBytes(cfg *modelconfig.ModelConfig, pp int) (int64, error) {
	layers, err := cfg.NumAttentionLayers(pp)
	if err != nil {
		return 0, err
	}
	return int64(layers) * KVBlockBytes(cfg), nil
}
