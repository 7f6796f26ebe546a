package transfer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

type paramModel map[string]*tensor.Tensor

func (p paramModel) Parameters() map[string]*tensor.Tensor { return p }

func (p paramModel) snapshot() map[string][]float32 {
	out := make(map[string][]float32, len(p))
	for name, t := range p {
		out[name] = append([]float32(nil), t.Data...)
	}
	return out
}

func filled(v float32, shape ...int) *tensor.Tensor {
	t, err := tensor.Full(shape, v)
	if err != nil {
		panic(err)
	}
	return t
}

// writeSource stores weights as the final checkpoint of model under root.
func writeSource(t *testing.T, root, model string, weights map[string]*tensor.Tensor) {
	t.Helper()
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	state := &checkpoints.State{
		Epoch:   10,
		Weights: checkpoints.WeightsFromTensors(names, weights),
	}
	store := checkpoints.NewStore(filepath.Join(root, model), checkpoints.FormatProto)
	require.NoError(t, store.Save(state, checkpoints.Final))
}

func destination() paramModel {
	return paramModel{
		"gen_ab.encoder.weight": filled(0, 4, 3),
		"gen_ab.encoder.bias":   filled(0, 4),
		"gen_ab.decoder.weight": filled(0, 3, 4),
		"gen_ba.encoder.weight": filled(0, 4, 3),
		"disc_a.weight":         filled(0, 1, 3),
	}
}

func TestApplyExactGroup(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.encoder.weight": filled(1, 4, 3),
		"gen_ab.encoder.bias":   filled(2, 4),
		"gen_ab.decoder.weight": filled(3, 3, 4),
	})

	dst := destination()
	report, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ab": "gen_ab"},
		Strict:  true,
	}, root)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Copied["gen_ab"])
	assert.Equal(t, float32(1), dst["gen_ab.encoder.weight"].Data[0])
	assert.Equal(t, float32(2), dst["gen_ab.encoder.bias"].Data[3])
	assert.Equal(t, float32(3), dst["gen_ab.decoder.weight"].Data[11])

	// Unmapped groups stay untouched.
	assert.Equal(t, float32(0), dst["gen_ba.encoder.weight"].Data[0])
	assert.Equal(t, float32(0), dst["disc_a.weight"].Data[0])
}

func TestApplyRenamedGroup(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"netG.encoder.weight": filled(5, 4, 3),
	})

	dst := destination()
	_, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ba": "netG"},
		Strict:  true,
	}, root)
	require.NoError(t, err)
	assert.Equal(t, float32(5), dst["gen_ba.encoder.weight"].Data[7])
}

func TestApplyStrictMissingGroupLeavesModelUntouched(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.encoder.weight": filled(1, 4, 3),
		"gen_ab.encoder.bias":   filled(2, 4),
		"gen_ab.decoder.weight": filled(3, 3, 4),
	})

	dst := destination()
	before := dst.snapshot()

	// gen_ab sorts first and is valid; gen_ba's source group does not exist.
	_, err := Apply(dst, Spec{
		Source: "pretrained",
		Mapping: map[string]string{
			"gen_ab": "gen_ab",
			"gen_ba": "gen_x",
		},
		Strict: true,
	}, root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	var groupErr *GroupError
	require.True(t, errors.As(err, &groupErr))
	assert.Equal(t, "gen_ba", groupErr.Group)
	assert.Equal(t, "gen_x", groupErr.Source)

	assert.Equal(t, before, dst.snapshot())
}

func TestApplyStrictShapeMismatch(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.encoder.weight": filled(1, 8, 3),
	})

	dst := destination()
	before := dst.snapshot()
	_, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ab": "gen_ab"},
		Strict:  true,
	}, root)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, before, dst.snapshot())
}

func TestApplyNonStrict(t *testing.T) {
	source := map[string]*tensor.Tensor{
		"gen_ab.encoder.weight": filled(1, 4, 3),
		"gen_ab.encoder.bias":   filled(2, 8), // wrong shape
		"gen_ab.extra.weight":   filled(3, 2), // absent in destination
	}

	tests := []struct {
		name         string
		allowPartial bool
		wantErr      error
		wantCopied   int
		wantSkipped  []string
	}{
		{
			name:         "partial allowed",
			allowPartial: true,
			wantCopied:   1,
			wantSkipped:  []string{"encoder.bias", "extra.weight"},
		},
		{
			name:    "partial rejected",
			wantErr: ErrShapeMismatch, // encoder.bias sorts before extra.weight
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeSource(t, root, "pretrained", source)

			dst := destination()
			before := dst.snapshot()
			report, err := Apply(dst, Spec{
				Source:       "pretrained",
				Mapping:      map[string]string{"gen_ab": "gen_ab"},
				AllowPartial: tt.allowPartial,
			}, root)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, dst.snapshot())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCopied, report.Copied["gen_ab"])
			assert.Equal(t, tt.wantSkipped, report.Skipped["gen_ab"])
			assert.Equal(t, float32(1), dst["gen_ab.encoder.weight"].Data[0])
			assert.Equal(t, float32(0), dst["gen_ab.encoder.bias"].Data[0])
		})
	}
}

func TestApplyNonPartialMissingName(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.encoder.weight": filled(1, 4, 3),
		"gen_ab.mapper.weight":  filled(1, 2),
	})

	dst := destination()
	_, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ab": "gen_ab"},
	}, root)
	assert.ErrorIs(t, err, ErrNameMissing)
}

func TestApplyNonStrictMissingGroup(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.encoder.weight": filled(1, 4, 3),
	})

	_, err := Apply(destination(), Spec{
		Source:       "pretrained",
		Mapping:      map[string]string{"gen_zz": "gen_ab"},
		AllowPartial: true,
	}, root)
	assert.ErrorIs(t, err, ErrNameMissing)
}

func TestApplyFuzzy(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.module.encoder.weight": filled(7, 4, 3),
	})

	dst := destination()
	_, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ab": "gen_ab"},
		Strict:  true,
		Fuzzy:   "strip-module",
	}, root)
	require.NoError(t, err)
	assert.Equal(t, float32(7), dst["gen_ab.encoder.weight"].Data[0])
}

func TestApplyFuzzyAmbiguous(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pretrained", map[string]*tensor.Tensor{
		"gen_ab.module.encoder.weight": filled(7, 4, 3),
		"gen_ab.encoder.weight":        filled(8, 4, 3),
	})

	dst := destination()
	before := dst.snapshot()
	_, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ab": "gen_ab"},
		Fuzzy:   "strip-module",
	}, root)
	assert.ErrorIs(t, err, ErrAmbiguousName)
	assert.Equal(t, before, dst.snapshot())
}

func TestApplyUnknownFuzzyMode(t *testing.T) {
	// No source is written: the mode must be rejected before any load.
	_, err := Apply(destination(), Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"gen_ab": "gen_ab"},
		Fuzzy:   "levenshtein",
	}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fuzzy mode")
	assert.NotErrorIs(t, err, checkpoints.ErrNotFound)
}

func TestApplyNumberedSourceEpoch(t *testing.T) {
	root := t.TempDir()
	store := checkpoints.NewStore(filepath.Join(root, "pretrained"), checkpoints.FormatProto)
	weights := map[string]*tensor.Tensor{"disc_a.weight": filled(4, 1, 3)}
	require.NoError(t, store.Save(&checkpoints.State{
		Epoch:   3,
		Weights: checkpoints.WeightsFromTensors([]string{"disc_a.weight"}, weights),
	}, checkpoints.Epoch(3)))

	dst := destination()
	_, err := Apply(dst, Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"disc_a": "disc_a"},
		Strict:  true,
		Epoch:   3,
	}, root)
	require.NoError(t, err)
	assert.Equal(t, float32(4), dst["disc_a.weight"].Data[2])

	_, err = Apply(destination(), Spec{
		Source:  "pretrained",
		Mapping: map[string]string{"disc_a": "disc_a"},
	}, root)
	assert.ErrorIs(t, err, checkpoints.ErrNotFound)
}

func TestRegisterNormalizer(t *testing.T) {
	RegisterNormalizer("lower-suffix", TrimAffixes(nil, []string{"_g", "_ema"}))
	fn, err := LookupNormalizer("lower-suffix")
	require.NoError(t, err)
	assert.Equal(t, "weight", fn("weight_ema_g"))
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"no source", Spec{Mapping: map[string]string{"a": "b"}}},
		{"empty map", Spec{Source: "m"}},
		{"negative epoch", Spec{Source: "m", Mapping: map[string]string{"a": "b"}, Epoch: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.spec.Validate())
		})
	}
}
