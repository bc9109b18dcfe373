// Package envcfg reads the attention kernel tuning knobs from the process
// environment. Knobs never change the model descriptor; they only steer which
// kernel the dispatcher picks among the paths the descriptor allows.
package envcfg

import (
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/modelcfg/internal/logger"
)

const (
	EnvForceXQA                  = "TRTLLM_FORCE_XQA"
	EnvXQAMaxCTAsPerKVHeadFactor = "TRTLLM_XQA_MAX_NB_CTA_PER_KV_HEAD_FACTOR"
	EnvXQACTAsPerKVHead          = "TRTLLM_XQA_BLOCKS_PER_SEQUENCE"
	EnvDisableXQAJIT             = "TRTLLM_DISABLE_XQA_JIT"
	EnvMMHAMultiBlockDebug       = "TRTLLM_MMHA_MULTIBLOCK_DEBUG"
	EnvMMHABlocksPerSequence     = "TRTLLM_MMHA_BLOCKS_PER_SEQUENCE"
	EnvMMHAKernelBlockSize       = "TRTLLM_MMHA_KERNEL_BLOCK_SIZE"
)

// DefaultXQAMaxCTAsPerKVHeadFactor bounds multi-block XQA when the batch and
// beam limits are both reached.
const DefaultXQAMaxCTAsPerKVHeadFactor = 8

// Knobs is a snapshot of the kernel environment. A nil XQACTAsPerKVHead lets
// the kernel choose its own CTA count.
type Knobs struct {
	ForceXQA                  bool `json:"force_xqa" yaml:"force_xqa"`
	XQAMaxCTAsPerKVHeadFactor int  `json:"xqa_max_ctas_per_kv_head_factor" yaml:"xqa_max_ctas_per_kv_head_factor"`
	XQACTAsPerKVHead          *int `json:"xqa_ctas_per_kv_head,omitempty" yaml:"xqa_ctas_per_kv_head,omitempty"`
	DisableXQAJIT             bool `json:"disable_xqa_jit" yaml:"disable_xqa_jit"`
	MMHAMultiBlockDebug       bool `json:"mmha_multiblock_debug" yaml:"mmha_multiblock_debug"`
	MMHABlocksPerSequence     int  `json:"mmha_blocks_per_sequence" yaml:"mmha_blocks_per_sequence"`
	MMHAKernelBlockSize       int  `json:"mmha_kernel_block_size" yaml:"mmha_kernel_block_size"`
}

// Defaults is the knob set of an empty environment.
func Defaults() Knobs {
	return Knobs{XQAMaxCTAsPerKVHeadFactor: DefaultXQAMaxCTAsPerKVHeadFactor}
}

// Load reads every knob. Values that do not parse are reported on log and
// replaced by their default.
func Load(log logger.Logger) Knobs {
	if log == nil {
		log = logger.Default()
	}
	r := reader{log: log}
	k := Knobs{
		ForceXQA:                  r.boolVar(EnvForceXQA),
		XQAMaxCTAsPerKVHeadFactor: r.positiveInt(EnvXQAMaxCTAsPerKVHeadFactor, DefaultXQAMaxCTAsPerKVHeadFactor),
		DisableXQAJIT:             r.boolVar(EnvDisableXQAJIT),
		MMHAMultiBlockDebug:       r.boolVar(EnvMMHAMultiBlockDebug),
		MMHABlocksPerSequence:     r.positiveInt(EnvMMHABlocksPerSequence, 0),
		MMHAKernelBlockSize:       r.positiveInt(EnvMMHAKernelBlockSize, 0),
	}
	if n := r.positiveInt(EnvXQACTAsPerKVHead, 0); n > 0 {
		k.XQACTAsPerKVHead = &n
	}
	return k
}

// Var returns the trimmed value of key with any surrounding quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

type reader struct {
	log logger.Logger
}

func (r reader) boolVar(key string) bool {
	s := Var(key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.log.Warn("invalid environment variable, using default", "key", key, "value", s, "default", false)
		return false
	}
	return b
}

// positiveInt parses key as an integer above zero.
func (r reader) positiveInt(key string, def int) int {
	s := Var(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		r.log.Warn("invalid environment variable, using default", "key", key, "value", s, "default", def)
		return def
	}
	return n
}
