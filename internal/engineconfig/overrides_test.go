package engineconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/modelcfg/internal/modelconfig"
	"github.com/samcharles93/modelcfg/pkg/dtype"
	"github.com/samcharles93/modelcfg/pkg/quant"
)

func TestLoadOverridesFormats(t *testing.T) {
	batch, tokens, kv, xqa := 32, 4096, "fp8", true
	want := Overrides{MaxBatchSize: &batch, MaxNumTokens: &tokens, KVCacheQuant: &kv, EnableXQA: &xqa}

	for _, name := range []string{"overrides.yaml", "overrides.toml", "overrides.json"} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadOverrides(filepath.Join("testdata", name))
			if err != nil {
				t.Fatalf("LoadOverrides: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("overrides mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadOverridesErrors(t *testing.T) {
	if _, err := LoadOverrides(filepath.Join("testdata", "overrides_typo.yaml")); err == nil {
		t.Fatalf("unknown keys must be rejected")
	}

	ini := filepath.Join(t.TempDir(), "overrides.ini")
	if err := os.WriteFile(ini, []byte("x=1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOverrides(ini); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o, err := LoadOverrides(empty)
	if err != nil || o != (Overrides{}) {
		t.Fatalf("empty file should yield no overrides: %+v, %v", o, err)
	}
}

func TestApplyOverrides(t *testing.T) {
	base := load(t, "llama_lora.json")
	o, err := LoadOverrides(filepath.Join("testdata", "overrides.yaml"))
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}

	out, err := base.ApplyOverrides(context.Background(), o)
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	m := out.Model
	if m.MaxBatchSize() != 32 || !m.UseXQA() {
		t.Fatalf("overrides not applied: batch=%d xqa=%v", m.MaxBatchSize(), m.UseXQA())
	}
	if n, ok := m.MaxNumTokens(); !ok || n != 4096 {
		t.Fatalf("MaxNumTokens = %d, %v", n, ok)
	}
	if m.QuantMode() != quant.Int8Weights|quant.FP8KVCache || m.KVDataType() != dtype.FP8 {
		t.Fatalf("kv cache quant should switch to fp8: %s", m.QuantMode())
	}
	if m.MaxInputLen() != base.Model.MaxInputLen() || out.TensorParallelism != base.TensorParallelism {
		t.Fatalf("unset fields must keep engine values")
	}

	// The original snapshot is untouched.
	if base.Model.MaxBatchSize() != 64 || base.Model.KVDataType() != dtype.Int8 {
		t.Fatalf("base config changed: batch=%d kv=%s", base.Model.MaxBatchSize(), base.Model.KVDataType())
	}
}

func TestApplyOverridesRejectsInvalid(t *testing.T) {
	base := load(t, "gpt2.json")

	zero := 0
	if _, err := base.ApplyOverrides(context.Background(), Overrides{TokensPerBlock: &zero}); !errors.Is(err, modelconfig.ErrInvalidConfiguration) {
		t.Fatalf("zero tokens per block with a paged cache must fail, got %v", err)
	}
	bogus := "int4"
	if _, err := base.ApplyOverrides(context.Background(), Overrides{KVCacheQuant: &bogus}); !errors.Is(err, quant.ErrUnknownAlgo) {
		t.Fatalf("expected ErrUnknownAlgo, got %v", err)
	}
	none := "none"
	out, err := base.ApplyOverrides(context.Background(), Overrides{KVCacheQuant: &none})
	if err != nil || out.Model.QuantMode().HasKVCacheQuant() {
		t.Fatalf("none should clear kv cache quant: %v", err)
	}
}
