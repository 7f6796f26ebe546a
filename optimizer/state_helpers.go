package optimizer

import (
	"fmt"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// exportBuffers copies one kind of per-parameter buffer into checkpoint
// tensors, in name order.
func exportBuffers(names []string, params map[string]*tensor.Tensor, buffers map[string][]float32, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(names))
	for _, name := range names {
		buf, ok := buffers[name]
		if !ok {
			continue
		}
		out = append(out, checkpoints.OptimizerTensor{
			Name:      name,
			Shape:     append([]int(nil), params[name].Shape...),
			Data:      append([]float32(nil), buf...),
			StateType: stateType,
		})
	}
	return out
}

// collectBuffers validates checkpoint tensors of stateType against params
// and returns copies keyed by parameter name. Every parameter must be
// present.
func collectBuffers(params map[string]*tensor.Tensor, stateData []checkpoints.OptimizerTensor, stateType string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(params))
	for _, st := range stateData {
		if st.StateType != stateType {
			continue
		}
		p, ok := params[st.Name]
		if !ok {
			return nil, fmt.Errorf("optimizer state for unknown parameter %q", st.Name)
		}
		if !tensor.SameShape(p.Shape, st.Shape) {
			return nil, fmt.Errorf("optimizer %s state for %s has shape %v, parameter has %v", stateType, st.Name, st.Shape, p.Shape)
		}
		out[st.Name] = append([]float32(nil), st.Data...)
	}
	for name := range params {
		if _, ok := out[name]; !ok {
			return nil, fmt.Errorf("optimizer %s state missing for %s", stateType, name)
		}
	}
	return out, nil
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}
