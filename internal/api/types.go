package api

import (
	"time"

	"github.com/samcharles93/modelcfg/internal/dispatch"
	"github.com/samcharles93/modelcfg/internal/envcfg"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
	"github.com/samcharles93/modelcfg/pkg/dtype"
)

type ResponseError struct {
	Message string `json:"message" yaml:"message"`
	Type    string `json:"type" yaml:"type"`
	Param   string `json:"param,omitempty" yaml:"param,omitempty"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
}

type EngineInfo struct {
	Name                string `json:"name" yaml:"name"`
	Version             string `json:"version,omitempty" yaml:"version,omitempty"`
	Precision           string `json:"precision" yaml:"precision"`
	TensorParallelism   int    `json:"tensor_parallelism" yaml:"tensor_parallelism"`
	PipelineParallelism int    `json:"pipeline_parallelism" yaml:"pipeline_parallelism"`
	GPUsPerNode         int    `json:"gpus_per_node" yaml:"gpus_per_node"`
	WorldSize           int    `json:"world_size" yaml:"world_size"`
}

type DescriptorResponse struct {
	SnapshotID string           `json:"snapshot_id" yaml:"snapshot_id"`
	LoadedAt   time.Time        `json:"loaded_at" yaml:"loaded_at"`
	Engine     EngineInfo       `json:"engine" yaml:"engine"`
	Descriptor modelconfig.View `json:"descriptor" yaml:"descriptor"`
}

type CapabilitiesResponse struct {
	SnapshotID               string         `json:"snapshot_id" yaml:"snapshot_id"`
	Variant                  string         `json:"variant" yaml:"variant"`
	TransformerBased         bool           `json:"transformer_based" yaml:"transformer_based"`
	SSMBased                 bool           `json:"ssm_based" yaml:"ssm_based"`
	SupportsInflightBatching bool           `json:"supports_inflight_batching" yaml:"supports_inflight_batching"`
	PagedKVCache             bool           `json:"paged_kv_cache" yaml:"paged_kv_cache"`
	PagedState               bool           `json:"paged_state" yaml:"paged_state"`
	KVDataType               dtype.DataType `json:"kv_data_type" yaml:"kv_data_type"`
	MaxTokensPerStep         int            `json:"max_tokens_per_step" yaml:"max_tokens_per_step"`
	UsePromptTuning          bool           `json:"use_prompt_tuning" yaml:"use_prompt_tuning"`
	UseMedusa                bool           `json:"use_medusa" yaml:"use_medusa"`
	UseLoRA                  bool           `json:"use_lora" yaml:"use_lora"`
}

type ShardsResponse struct {
	SnapshotID          string   `json:"snapshot_id" yaml:"snapshot_id"`
	TensorParallelism   int      `json:"tensor_parallelism" yaml:"tensor_parallelism"`
	PipelineParallelism int      `json:"pipeline_parallelism" yaml:"pipeline_parallelism"`
	AttentionLayers     int      `json:"attention_layers" yaml:"attention_layers"`
	SSMLayers           int      `json:"ssm_layers" yaml:"ssm_layers"`
	VocabSizePadded     int      `json:"vocab_size_padded" yaml:"vocab_size_padded"`
	KVBlockBytes        int64    `json:"kv_block_bytes" yaml:"kv_block_bytes"`
	ShardKVBlockBytes   int64    `json:"shard_kv_block_bytes" yaml:"shard_kv_block_bytes"`
	EngineFiles         []string `json:"engine_files" yaml:"engine_files"`
}

type PlanResponse struct {
	SnapshotID string                 `json:"snapshot_id" yaml:"snapshot_id"`
	Knobs      envcfg.Knobs           `json:"knobs" yaml:"knobs"`
	Plan       dispatch.ExecutionPlan `json:"plan" yaml:"plan"`
}
