package optimizer

import (
	"fmt"

	"github.com/tsawler/go-supcon/checkpoints"
)

// exportBuffers snapshots per-parameter state buffers as checkpoint tensors
func exportBuffers(buffers [][]float32, prefix, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(buffers))
	for i, buf := range buffers {
		if buf == nil {
			continue
		}
		data := make([]float32, len(buf))
		copy(data, buf)
		out = append(out, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", prefix, i),
			Shape:     []int{len(data)},
			Data:      data,
			StateType: stateType,
		})
	}
	return out
}

// restoreBuffers copies checkpoint tensors of the given state type back into buffers
func restoreBuffers(buffers [][]float32, state []checkpoints.OptimizerTensor, stateType string) error {
	for _, st := range state {
		if st.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("invalid buffer index in state tensor %s", st.Name)
		}
		if len(st.Data) != len(buffers[idx]) {
			return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
				st.Name, len(buffers[idx]), len(st.Data))
		}
		copy(buffers[idx], st.Data)
	}
	return nil
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch v := params[key].(type) {
	case float64:
		return float32(v)
	case float32:
		return v
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

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch v := params[key].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	}
	return defaultValue
}
