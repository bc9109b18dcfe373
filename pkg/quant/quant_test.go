package quant

import (
	"errors"
	"testing"
)

func TestFromQuantAlgo(t *testing.T) {
	tests := []struct {
		name  string
		algo  string
		kv    string
		want  Mode
		isErr bool
	}{
		{name: "none", want: None()},
		{name: "w8a16", algo: "W8A16", want: Int8Weights},
		{name: "w4a16", algo: "W4A16", want: Int4Weights},
		{name: "awq", algo: "W4A16_AWQ", want: Int4Weights | PerGroupScaling},
		{name: "sq per channel per token", algo: "W8A8_SQ_PER_CHANNEL_PER_TOKEN_PLUGIN",
			want: Int8Weights | Activations | PerChannelScaling | PerTokenScaling},
		{name: "sq per tensor", algo: "W8A8_SQ_PER_TENSOR_PLUGIN", want: Int8Weights | Activations},
		{name: "fp8", algo: "FP8", kv: "FP8", want: FP8QDQ | FP8KVCache},
		{name: "int8 kv only", kv: "int8", want: Int8KVCache},
		{name: "bad algo", algo: "W3A3", isErr: true},
		{name: "bad kv", kv: "INT4", isErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromQuantAlgo(tt.algo, tt.kv)
			if tt.isErr {
				if !errors.Is(err, ErrUnknownAlgo) {
					t.Fatalf("expected ErrUnknownAlgo, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("mode mismatch: want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestModeSetOps(t *testing.T) {
	m := None().Add(Int8Weights).Add(FP8KVCache)
	if !m.HasInt8Weights() || !m.HasFP8KVCache() || !m.HasKVCacheQuant() {
		t.Fatalf("expected flags set: %s", m)
	}
	m = m.Sub(FP8KVCache)
	if m.HasKVCacheQuant() {
		t.Fatalf("kv quant should be cleared: %s", m)
	}
	if !m.IsSet(Int8Weights) || m.IsSet(Int8Weights|Activations) {
		t.Fatalf("IsSet must require every bit")
	}
	if got := (Int8Weights | Int8KVCache).String(); got != "int8_weights|int8_kv_cache" {
		t.Fatalf("unexpected string %q", got)
	}
	if None().String() != "none" {
		t.Fatalf("unexpected none string")
	}
}

func TestFromDescription(t *testing.T) {
	m := FromDescription(Description{QuantizeWeights: true, Int4Weights: true, PerGroup: true})
	if m != Int4Weights|PerGroupScaling {
		t.Fatalf("got %s", m)
	}
	if !UseSmoothQuant(false, true).HasStaticActivationScaling() {
		t.Fatalf("per-tensor activations should use static scaling")
	}
	if UseSmoothQuant(true, true).HasStaticActivationScaling() {
		t.Fatalf("per-token activations are dynamic")
	}
}
