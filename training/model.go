package training

import (
	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// Batch is one step's input: a batch from each image domain, NCHW.
type Batch struct {
	A *tensor.Tensor
	B *tensor.Tensor
}

// Images exposes the model's latest reconstructed outputs and the real
// inputs they correspond to.
type Images struct {
	Reco *tensor.Tensor
	Real *tensor.Tensor
}

// Model is the capability set the trainer drives. The trainer never depends
// on a concrete network; forward and backward computation, the optimizer
// update rule and loss formulation all live behind this interface.
type Model interface {
	// SetInput stages a batch for the next OptimizationStep.
	SetInput(batch Batch) error

	// OptimizationStep runs one forward/backward/update on the staged batch.
	OptimizationStep() error

	// CurrentLosses returns the losses of the last step by name.
	CurrentLosses() map[string]float64

	// EndEpoch runs per-epoch bookkeeping such as learning rate schedules.
	EndEpoch(epoch int) error

	// Snapshot captures weights and optimizer state. Epoch is filled in by
	// the caller.
	Snapshot() (*checkpoints.State, error)

	// Restore loads a snapshot produced by Snapshot.
	Restore(state *checkpoints.State) error

	// Images returns the outputs of the last step for visualization.
	Images() Images
}
