package lora

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestModuleTypeNames(t *testing.T) {
	for typ, name := range moduleNames {
		if got := ParseModuleType(name); got != typ {
			t.Fatalf("ParseModuleType(%q) = %v, want %v", name, got, typ)
		}
	}
	if ParseModuleType("attn_qkvz") != Invalid {
		t.Fatalf("unknown names must map to Invalid")
	}
	if Invalid.String() != "INVALID" {
		t.Fatalf("unexpected invalid name %q", Invalid.String())
	}
	if AttnQKV != 0 || CrossAttnDense != 12 {
		t.Fatalf("module numbering changed")
	}
}

func TestCreateModules(t *testing.T) {
	// 2 TP ranks, per-rank sizes: hidden 512, mlp 1024, 8 heads, 2 kv heads, head 64.
	d := Dims{HiddenSize: 512, MLPHiddenSize: 1024, NumHeads: 8, NumKVHeads: 2, HeadSize: 64, TPSize: 2}
	got, err := CreateModules([]string{"attn_qkv", "attn_dense", "mlp_h_to_4h", "mlp_4h_to_h", "attn_k"}, d)
	if err != nil {
		t.Fatalf("CreateModules: %v", err)
	}
	want := []Module{
		{Type: AttnQKV, InDim: 1024, OutDim: 1024 + 2*256, OutDimFirst: true, InTPSplitDim: NoSplit, OutTPSplitDim: Split0},
		{Type: AttnDense, InDim: 1024, OutDim: 1024, OutDimFirst: true, InTPSplitDim: Split1, OutTPSplitDim: NoSplit},
		{Type: MLPHTo4H, InDim: 1024, OutDim: 2048, OutDimFirst: true, InTPSplitDim: NoSplit, OutTPSplitDim: Split0},
		{Type: MLP4HToH, InDim: 2048, OutDim: 1024, OutDimFirst: true, InTPSplitDim: Split1, OutTPSplitDim: NoSplit},
		{Type: AttnK, InDim: 1024, OutDim: 256, OutDimFirst: true, InTPSplitDim: NoSplit, OutTPSplitDim: Split0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("modules mismatch (-want +got):\n%s", diff)
	}

	if _, err := CreateModules([]string{"attn_qkv", "bogus"}, d); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestLocalSizes(t *testing.T) {
	qkv := Module{Type: AttnQKV, InDim: 1024, OutDim: 1536, InTPSplitDim: NoSplit, OutTPSplitDim: Split0}
	const rank, tp = 8, 2

	if got := qkv.FlattenedInOutSize(rank); got != 8*(1024+1536) {
		t.Fatalf("FlattenedInOutSize = %d", got)
	}
	if qkv.LocalInDim(tp) != 1024 || qkv.LocalOutDim(tp) != 768 {
		t.Fatalf("qkv local dims: in=%d out=%d", qkv.LocalInDim(tp), qkv.LocalOutDim(tp))
	}
	if got := qkv.LocalInOutSize(rank, tp); got != rank*1024+rank*768 {
		t.Fatalf("qkv LocalInOutSize = %d", got)
	}

	dense := Module{Type: AttnDense, InDim: 1024, OutDim: 1024, InTPSplitDim: Split1, OutTPSplitDim: NoSplit}
	if dense.LocalInDim(tp) != 512 || dense.LocalOutDim(tp) != 1024 {
		t.Fatalf("dense local dims: in=%d out=%d", dense.LocalInDim(tp), dense.LocalOutDim(tp))
	}

	split := Module{InDim: 10, OutDim: 10, InTPSplitDim: Split0, OutTPSplitDim: Split1}
	if split.LocalInAdapterSize(rank, tp) != 4 || split.LocalOutAdapterSize(rank, tp) != 4 {
		t.Fatalf("adapter rank should be split across tp")
	}
	if split.InSize(rank) != 80 || split.OutSize(rank) != 80 {
		t.Fatalf("unexpected full sizes")
	}
}
