package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/modelcfg/internal/dispatch"
	"github.com/samcharles93/modelcfg/internal/envcfg"
)

var knownRoutes = map[string]bool{
	"/healthz":         true,
	"/metrics":         true,
	"/v1/descriptor":   true,
	"/v1/capabilities": true,
	"/v1/shards":       true,
	"/v1/plan":         true,
	"/v1/reload":       true,
}

// Server exposes published descriptors read-only. Every handler works on a
// single snapshot, so one response never mixes two descriptor versions.
type Server struct {
	provider DescriptorProvider
	knobs    envcfg.Knobs
	metrics  *Metrics
}

func NewServer(provider DescriptorProvider, knobs envcfg.Knobs, metrics *Metrics) *Server {
	return &Server{
		provider: provider,
		knobs:    knobs,
		metrics:  metrics,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	e.GET("/v1/descriptor", s.handleDescriptor)
	e.GET("/v1/capabilities", s.handleCapabilities)
	e.GET("/v1/shards", s.handleShards)
	e.GET("/v1/plan", s.handlePlan)
	e.POST("/v1/reload", s.handleReload)

	if s.metrics != nil {
		h := s.metrics.Handler()
		e.GET("/metrics", func(c *echo.Context) error {
			h.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) snapshot(c *echo.Context) (*Snapshot, error) {
	return s.provider.Snapshot(c.Request().Context(), c.QueryParam("engine"))
}

func (s *Server) handleDescriptor(c *echo.Context) error {
	snap, err := s.snapshot(c)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(http.StatusOK, NewDescriptorResponse(snap))
}

func (s *Server) handleReload(c *echo.Context) error {
	snap, err := s.provider.Reload(c.Request().Context(), c.QueryParam("engine"))
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(http.StatusOK, NewDescriptorResponse(snap))
}

func (s *Server) handleCapabilities(c *echo.Context) error {
	snap, err := s.snapshot(c)
	if err != nil {
		return writeProviderError(c, err)
	}
	cfg := snap.Engine.Model
	return c.JSON(http.StatusOK, CapabilitiesResponse{
		SnapshotID:               snap.ID.String(),
		Variant:                  cfg.Variant().String(),
		TransformerBased:         cfg.IsTransformerBased(),
		SSMBased:                 cfg.IsSSMBased(),
		SupportsInflightBatching: cfg.SupportsInflightBatching(),
		PagedKVCache:             cfg.UsePagedKVCache(),
		PagedState:               cfg.UsePagedState(),
		KVDataType:               cfg.KVDataType(),
		MaxTokensPerStep:         cfg.MaxTokensPerStep(),
		UsePromptTuning:          cfg.UsePromptTuning(),
		UseMedusa:                cfg.UseMedusa(),
		UseLoRA:                  cfg.UseLoRAPlugin() && len(cfg.LoRAModules()) > 0,
	})
}

func (s *Server) handleShards(c *echo.Context) error {
	snap, err := s.snapshot(c)
	if err != nil {
		return writeProviderError(c, err)
	}
	ec := snap.Engine
	pp, err := intParam(c, "pp", ec.PipelineParallelism)
	if err != nil {
		return writeProviderError(c, err)
	}
	tp, err := intParam(c, "tp", ec.TensorParallelism)
	if err != nil {
		return writeProviderError(c, err)
	}

	resp, err := ShardLayout(snap, pp, tp)
	if err != nil {
		var invalid invalidRequestError
		if errors.As(err, &invalid) {
			return writeBadRequest(c, invalid.msg, invalid.param)
		}
		return writeBadRequest(c, err.Error(), "pp")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePlan(c *echo.Context) error {
	snap, err := s.snapshot(c)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(http.StatusOK, PlanResponse{
		SnapshotID: snap.ID.String(),
		Knobs:      s.knobs,
		Plan:       dispatch.Plan(snap.Engine.Model, s.knobs),
	})
}

func NewDescriptorResponse(snap *Snapshot) DescriptorResponse {
	ec := snap.Engine
	return DescriptorResponse{
		SnapshotID: snap.ID.String(),
		LoadedAt:   snap.LoadedAt,
		Engine: EngineInfo{
			Name:                ec.Name,
			Version:             ec.Version,
			Precision:           ec.Precision,
			TensorParallelism:   ec.TensorParallelism,
			PipelineParallelism: ec.PipelineParallelism,
			GPUsPerNode:         ec.GPUsPerNode,
			WorldSize:           ec.WorldSize(),
		},
		Descriptor: ec.Model.View(),
	}
}

// MaxWorldSize bounds pp*tp for layout queries.
const MaxWorldSize = 4096

// ShardLayout answers the per-shard queries for a pp x tp layout. Layouts
// larger than MaxWorldSize ranks are rejected.
func ShardLayout(snap *Snapshot, pp, tp int) (ShardsResponse, error) {
	if pp < 1 {
		return ShardsResponse{}, newInvalidParam("pp", "pp must be a positive integer")
	}
	if tp < 1 {
		return ShardsResponse{}, newInvalidParam("tp", "tp must be a positive integer")
	}
	if tp > MaxWorldSize/pp {
		return ShardsResponse{}, newInvalidParam("tp", fmt.Sprintf("pp*tp must not exceed %d ranks (got pp=%d tp=%d)", MaxWorldSize, pp, tp))
	}
	cfg := snap.Engine.Model
	attn, err := cfg.NumAttentionLayers(pp)
	if err != nil {
		return ShardsResponse{}, err
	}
	ssm, err := cfg.NumSSMLayers(pp)
	if err != nil {
		return ShardsResponse{}, err
	}
	resp := ShardsResponse{
		SnapshotID:          snap.ID.String(),
		TensorParallelism:   tp,
		PipelineParallelism: pp,
		AttentionLayers:     attn,
		SSMLayers:           ssm,
		VocabSizePadded:     cfg.VocabSizePadded(tp),
		EngineFiles:         make([]string, 0, pp*tp),
	}
	if cfg.IsTransformerBased() && cfg.UsePagedKVCache() {
		resp.KVBlockBytes = dispatch.KVBlockBytes(cfg)
		resp.ShardKVBlockBytes = int64(attn) * resp.KVBlockBytes
	}
	for rank := range pp * tp {
		resp.EngineFiles = append(resp.EngineFiles, snap.Engine.EngineFilename(rank))
	}
	return resp, nil
}
