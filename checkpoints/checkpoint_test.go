package checkpoints

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tsawler/gantrain/tensor"
)

func testState(epoch int) *State {
	return &State{
		Epoch: epoch,
		Weights: []WeightTensor{
			{Name: "gen_ab.encoder.weight", Shape: []int{3, 3}, Data: []float32{1, 0, 0, 0, 1, 0, 0, 0, 1}},
			{Name: "gen_ab.encoder.bias", Shape: []int{3}, Data: []float32{0.5, -0.25, 0.125}},
		},
		Optimizers: []OptimizerState{
			{
				Name: "gen",
				Type: "Adam",
				Step: 42,
				Parameters: map[string]interface{}{
					"learning_rate": 0.0002,
					"beta1":         0.5,
					"beta2":         0.99,
				},
				StateData: []OptimizerTensor{
					{Name: "gen_ab.encoder.bias", Shape: []int{3}, Data: []float32{0.1, 0.2, 0.3}, StateType: "m"},
					{Name: "gen_ab.encoder.bias", Shape: []int{3}, Data: []float32{0.01, 0.02, 0.03}, StateType: "v"},
				},
			},
		},
		Metadata: Metadata{
			Version:   FormatVersion,
			Framework: Framework,
			CreatedAt: time.Unix(1700000000, 123456789).UTC(),
			RunID:     "run-1",
			Tags:      []string{"epoch_5"},
		},
	}
}

func TestCheckpointFormatString(t *testing.T) {
	tests := []struct {
		format   CheckpointFormat
		expected string
		ext      string
	}{
		{FormatProto, "proto", "pb"},
		{FormatJSON, "json", "json"},
		{CheckpointFormat(99), "unknown", "pb"},
	}

	for _, test := range tests {
		if got := test.format.String(); got != test.expected {
			t.Errorf("String() = %s, expected %s", got, test.expected)
		}
		if got := test.format.Extension(); got != test.ext {
			t.Errorf("Extension() = %s, expected %s", got, test.ext)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"", "proto", "pb", "protobuf"} {
		if f, err := ParseFormat(s); err != nil || f != FormatProto {
			t.Errorf("ParseFormat(%q) = %v, %v", s, f, err)
		}
	}
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseFormat("onnx"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestDiscoverEmpty(t *testing.T) {
	store := NewStore(t.TempDir(), FormatProto)

	epoch, ok, err := store.Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if ok || epoch != 0 {
		t.Errorf("Discover on empty dir = (%d, %v), expected (0, false)", epoch, ok)
	}

	missing := NewStore(filepath.Join(t.TempDir(), "does-not-exist"), FormatProto)
	if _, ok, err := missing.Discover(); ok || err != nil {
		t.Errorf("Discover on missing dir = (%v, %v), expected (false, nil)", ok, err)
	}
}

func TestDiscoverReturnsMaximum(t *testing.T) {
	store := NewStore(t.TempDir(), FormatProto)

	if err := store.Save(testState(5), Epoch(5)); err != nil {
		t.Fatalf("Save(5) failed: %v", err)
	}
	if epoch, ok, _ := store.Discover(); !ok || epoch != 5 {
		t.Fatalf("Discover = (%d, %v), expected (5, true)", epoch, ok)
	}

	// Out of order save must not lower the discovered epoch
	if err := store.Save(testState(3), Epoch(3)); err != nil {
		t.Fatalf("Save(3) failed: %v", err)
	}
	if epoch, ok, _ := store.Discover(); !ok || epoch != 5 {
		t.Errorf("Discover = (%d, %v), expected (5, true)", epoch, ok)
	}

	// Final checkpoint is not a resume point
	if err := store.Save(testState(9), Final); err != nil {
		t.Fatalf("Save(final) failed: %v", err)
	}
	epochs, hasFinal, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !reflect.DeepEqual(epochs, []int{3, 5}) || !hasFinal {
		t.Errorf("List = (%v, %v), expected ([3 5], true)", epochs, hasFinal)
	}
}

func TestDiscoverIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, FormatProto)

	for _, name := range []string{
		"checkpoint_epoch_0.pb",
		"checkpoint_epoch_12.json",
		"checkpoint_epoch_x.pb",
		"checkpoint_epoch_05.pb",
		"checkpoint_epoch_4294967296.pb",
		".checkpoint_epoch_99.pb.123.tmp",
		"history.db",
		"sample.png",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok, err := store.Discover(); ok || err != nil {
		t.Errorf("Discover = (%v, %v), expected no checkpoint", ok, err)
	}
}

func TestDiscoveredEpochLoads(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, FormatJSON)

	if err := store.Save(testState(3), Epoch(3)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// A zero-padded copy names an epoch no key can load from.
	if err := os.WriteFile(filepath.Join(dir, "checkpoint_epoch_07.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	epoch, ok, err := store.Discover()
	if err != nil || !ok || epoch != 3 {
		t.Fatalf("Discover = (%d, %v, %v), expected (3, true, nil)", epoch, ok, err)
	}
	if _, err := store.Load(Epoch(epoch)); err != nil {
		t.Errorf("Load of discovered epoch failed: %v", err)
	}
}

func TestParseNumbered(t *testing.T) {
	tests := []struct {
		name  string
		epoch int
		ok    bool
	}{
		{"checkpoint_epoch_1.pb", 1, true},
		{"checkpoint_epoch_4294967295.pb", 4294967295, true},
		{"checkpoint_epoch_4294967296.pb", 0, false},
		{"checkpoint_epoch_007.pb", 0, false},
		{"checkpoint_epoch_0.pb", 0, false},
		{"checkpoint_epoch_1.json", 0, false},
	}

	for _, tt := range tests {
		epoch, ok := parseNumbered(tt.name, "pb")
		if epoch != tt.epoch || ok != tt.ok {
			t.Errorf("parseNumbered(%q) = (%d, %v), expected (%d, %v)", tt.name, epoch, ok, tt.epoch, tt.ok)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatProto, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			store := NewStore(t.TempDir(), format)
			saved := testState(7)

			if err := store.Save(saved, Epoch(7)); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := store.Load(Epoch(7))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if !loaded.Metadata.CreatedAt.Equal(saved.Metadata.CreatedAt) {
				t.Errorf("CreatedAt = %v, expected %v", loaded.Metadata.CreatedAt, saved.Metadata.CreatedAt)
			}
			loaded.Metadata.CreatedAt = saved.Metadata.CreatedAt

			if !reflect.DeepEqual(loaded, saved) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, saved)
			}
		})
	}
}

func TestSaveRejectsEpochZero(t *testing.T) {
	store := NewStore(t.TempDir(), FormatProto)
	if err := store.Save(testState(0), Epoch(0)); err == nil {
		t.Error("expected error saving epoch 0")
	}
	if _, ok, _ := store.Discover(); ok {
		t.Error("epoch 0 must never be discoverable")
	}
}

func TestFinalIsOverwritten(t *testing.T) {
	store := NewStore(t.TempDir(), FormatProto)

	if err := store.Save(testState(3), Final); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(testState(8), Final); err != nil {
		t.Fatal(err)
	}

	state, err := store.Load(Final)
	if err != nil {
		t.Fatalf("Load(final) failed: %v", err)
	}
	if state.Epoch != 8 {
		t.Errorf("final epoch = %d, expected 8", state.Epoch)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, FormatProto)

	if _, err := store.Load(Epoch(1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) error = %v, expected ErrNotFound", err)
	}

	corrupt := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not protobuf")},
		{"json", []byte(`{"epoch": 1}`)},
	}

	for i, c := range corrupt {
		epoch := i + 1
		if err := os.WriteFile(store.Path(Epoch(epoch)), c.data, 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := store.Load(Epoch(epoch))
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: error = %v, expected ErrCorrupt", c.name, err)
		}
		var ce *CorruptError
		if !errors.As(err, &ce) || ce.Path != store.Path(Epoch(epoch)) {
			t.Errorf("%s: expected CorruptError carrying the path", c.name)
		}
	}
}

func TestLoadRejectsInconsistentShape(t *testing.T) {
	store := NewStore(t.TempDir(), FormatJSON)
	state := testState(2)
	state.Weights[0].Data = state.Weights[0].Data[:4]

	if err := store.Save(state, Epoch(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(Epoch(2)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("error = %v, expected ErrCorrupt", err)
	}
}

func TestKeyFilenames(t *testing.T) {
	store := NewStore("/ckpt", FormatProto)
	if got := store.Path(Epoch(12)); got != filepath.Join("/ckpt", "checkpoint_epoch_12.pb") {
		t.Errorf("Path(12) = %s", got)
	}
	if got := store.Path(Final); got != filepath.Join("/ckpt", "checkpoint_final.pb") {
		t.Errorf("Path(final) = %s", got)
	}
	if Epoch(4).String() != "epoch 4" || Final.String() != "final" {
		t.Errorf("unexpected key strings")
	}
}

func TestLoadWeightsIntoTensors(t *testing.T) {
	params := map[string]*tensor.Tensor{
		"a.weight": tensor.MustNew([]int{2}, []float32{0, 0}),
		"a.bias":   tensor.MustNew([]int{1}, []float32{0}),
	}
	names := []string{"a.bias", "a.weight"}

	source := map[string]*tensor.Tensor{
		"a.weight": tensor.MustNew([]int{2}, []float32{1, 2}),
		"a.bias":   tensor.MustNew([]int{1}, []float32{3}),
	}
	weights := WeightsFromTensors(names, source)

	if err := LoadWeightsIntoTensors(weights, params); err != nil {
		t.Fatalf("LoadWeightsIntoTensors failed: %v", err)
	}
	if !params["a.weight"].Equal(source["a.weight"]) || !params["a.bias"].Equal(source["a.bias"]) {
		t.Error("weights were not copied")
	}

	// A shape mismatch must leave every tensor untouched
	params["a.weight"].Data[0] = 9
	bad := []WeightTensor{
		{Name: "a.weight", Shape: []int{2}, Data: []float32{5, 5}},
		{Name: "a.bias", Shape: []int{2}, Data: []float32{5, 5}},
	}
	if err := LoadWeightsIntoTensors(bad, params); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if params["a.weight"].Data[0] != 9 {
		t.Error("partial write on failed load")
	}
}
