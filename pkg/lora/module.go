// Package lora describes the layers a low-rank adapter can be injected into
// and how its weights are split across tensor-parallel ranks.
package lora

import (
	"errors"
	"fmt"
)

var ErrUnknownModule = errors.New("unknown lora module")

// ModuleType identifies an injection point. The numbering is part of the
// adapter weight layout and must not change.
type ModuleType int32

const (
	Invalid ModuleType = iota - 1
	AttnQKV
	AttnQ
	AttnK
	AttnV
	AttnDense
	MLPHTo4H
	MLP4HToH
	MLPGate
	CrossAttnQKV
	CrossAttnQ
	CrossAttnK
	CrossAttnV
	CrossAttnDense
)

var moduleNames = map[ModuleType]string{
	AttnQKV:        "attn_qkv",
	AttnQ:          "attn_q",
	AttnK:          "attn_k",
	AttnV:          "attn_v",
	AttnDense:      "attn_dense",
	MLPHTo4H:       "mlp_h_to_4h",
	MLP4HToH:       "mlp_4h_to_h",
	MLPGate:        "mlp_gate",
	CrossAttnQKV:   "cross_attn_qkv",
	CrossAttnQ:     "cross_attn_q",
	CrossAttnK:     "cross_attn_k",
	CrossAttnV:     "cross_attn_v",
	CrossAttnDense: "cross_attn_dense",
}

func (t ModuleType) String() string {
	if n, ok := moduleNames[t]; ok {
		return n
	}
	return "INVALID"
}

// ParseModuleType returns Invalid for names it does not know.
func ParseModuleType(name string) ModuleType {
	for t, n := range moduleNames {
		if n == name {
			return t
		}
	}
	return Invalid
}

func (t ModuleType) MarshalText() ([]byte, error) {
	if _, ok := moduleNames[t]; !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownModule, int32(t))
	}
	return []byte(t.String()), nil
}

func (t *ModuleType) UnmarshalText(b []byte) error {
	v := ParseModuleType(string(b))
	if v == Invalid {
		return fmt.Errorf("%w: %q", ErrUnknownModule, string(b))
	}
	*t = v
	return nil
}

// Split dimensions. A module's input or output is sharded along dimension 0
// or 1 of its adapter matrix, or not at all.
const (
	NoSplit = -1
	Split0  = 0
	Split1  = 1
)

// Module is one injection point with its full (unsharded) dimensions.
type Module struct {
	Type          ModuleType `json:"type" yaml:"type"`
	InDim         int        `json:"in_dim" yaml:"in_dim"`
	OutDim        int        `json:"out_dim" yaml:"out_dim"`
	InDimFirst    bool       `json:"in_dim_first" yaml:"in_dim_first"`
	OutDimFirst   bool       `json:"out_dim_first" yaml:"out_dim_first"`
	InTPSplitDim  int        `json:"in_tp_split_dim" yaml:"in_tp_split_dim"`
	OutTPSplitDim int        `json:"out_tp_split_dim" yaml:"out_tp_split_dim"`
}

func (m Module) Name() string { return m.Type.String() }

// FlattenedInOutSize is the element count of both adapter matrices for the
// given rank.
func (m Module) FlattenedInOutSize(rank int) int { return rank * (m.InDim + m.OutDim) }

func (m Module) InSize(rank int) int  { return rank * m.InDim }
func (m Module) OutSize(rank int) int { return rank * m.OutDim }

func (m Module) LocalInDim(tp int) int {
	if m.InTPSplitDim == Split1 {
		return m.InDim / tp
	}
	return m.InDim
}

func (m Module) LocalOutDim(tp int) int {
	if m.OutTPSplitDim == Split0 {
		return m.OutDim / tp
	}
	return m.OutDim
}

func (m Module) LocalInAdapterSize(rank, tp int) int {
	if m.InTPSplitDim == Split0 {
		return rank / tp
	}
	return rank
}

func (m Module) LocalOutAdapterSize(rank, tp int) int {
	if m.OutTPSplitDim == Split1 {
		return rank / tp
	}
	return rank
}

func (m Module) LocalInSize(rank, tp int) int {
	return m.LocalInAdapterSize(rank, tp) * m.LocalInDim(tp)
}

func (m Module) LocalOutSize(rank, tp int) int {
	return m.LocalOutAdapterSize(rank, tp) * m.LocalOutDim(tp)
}

// LocalInOutSize is what one tensor-parallel rank stores for this module.
func (m Module) LocalInOutSize(rank, tp int) int {
	return m.LocalInSize(rank, tp) + m.LocalOutSize(rank, tp)
}

func (m Module) String() string {
	return fmt.Sprintf("LoraModule(id=%d, name=%s, inDim=%d, outDim=%d, inTpSplitDim=%d, outTpSplitDim=%d)",
		int32(m.Type), m.Name(), m.InDim, m.OutDim, m.InTPSplitDim, m.OutTPSplitDim)
}

// Dims are the per-rank model sizes adapter modules are derived from.
type Dims struct {
	HiddenSize    int
	MLPHiddenSize int
	NumHeads      int
	NumKVHeads    int
	HeadSize      int
	TPSize        int
}

// CreateModules builds modules for the named injection points. Dims are
// per-rank, so full sizes are recovered by multiplying by the TP size.
func CreateModules(names []string, d Dims) ([]Module, error) {
	tp := max(d.TPSize, 1)
	hidden := d.HiddenSize * tp
	mlpHidden := d.MLPHiddenSize * tp
	heads := d.NumHeads * tp
	kvHeads := d.NumKVHeads * tp
	attnHidden := heads * d.HeadSize
	kvHidden := kvHeads * d.HeadSize

	modules := make([]Module, 0, len(names))
	for _, name := range names {
		t := ParseModuleType(name)
		m := Module{Type: t, OutDimFirst: true}
		switch t {
		case AttnQKV, CrossAttnQKV:
			m.InDim, m.OutDim = hidden, attnHidden+2*kvHidden
			m.InTPSplitDim, m.OutTPSplitDim = NoSplit, Split0
		case AttnQ, CrossAttnQ:
			m.InDim, m.OutDim = hidden, attnHidden
			m.InTPSplitDim, m.OutTPSplitDim = NoSplit, Split0
		case AttnK, AttnV, CrossAttnK, CrossAttnV:
			m.InDim, m.OutDim = hidden, kvHidden
			m.InTPSplitDim, m.OutTPSplitDim = NoSplit, Split0
		case AttnDense, CrossAttnDense:
			m.InDim, m.OutDim = attnHidden, hidden
			m.InTPSplitDim, m.OutTPSplitDim = Split1, NoSplit
		case MLPHTo4H, MLPGate:
			m.InDim, m.OutDim = hidden, mlpHidden
			m.InTPSplitDim, m.OutTPSplitDim = NoSplit, Split0
		case MLP4HToH:
			m.InDim, m.OutDim = mlpHidden, hidden
			m.InTPSplitDim, m.OutTPSplitDim = Split1, NoSplit
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
		}
		modules = append(modules, m)
	}
	return modules, nil
}
