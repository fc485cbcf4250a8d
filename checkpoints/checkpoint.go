package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/tsawler/go-supcon/layers"
	"github.com/tsawler/go-supcon/tensor"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a configuration string to a CheckpointFormat
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "proto", "protobuf", "":
		return FormatProto, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// Checkpoint is a complete model state: architecture, weights, the training
// position it was taken at and, optionally, the optimizer state
type Checkpoint struct {
	// Model architecture and weights
	ModelSpec *layers.ModelSpec `json:"model_spec"`
	Weights   []WeightTensor    `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures the training position of a checkpoint
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id,omitempty"`
	Fold        int       `json:"fold"`
	Kind        string    `json:"kind,omitempty"` // "best" or "last"
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver reads and writes checkpoints on a filesystem
type CheckpointSaver struct {
	fs     afero.Fs
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(fs afero.Fs, format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		fs:     fs,
		format: format,
	}
}

func (cs *CheckpointSaver) Format() CheckpointFormat { return cs.format }

// SaveCheckpoint encodes checkpoint and atomically replaces path with it
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-supcon"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatJSON:
		data, err = encodeJSON(checkpoint)
	case FormatProto:
		data, err = encodeProto(checkpoint)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return err
	}

	if err := WriteFileAtomic(cs.fs, path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// LoadCheckpoint loads a checkpoint written in either format. The encoding is
// detected from the content, so the saver's own format does not matter.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := afero.ReadFile(cs.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return decodeJSON(data)
	}
	return decodeProto(data)
}

func encodeJSON(checkpoint *Checkpoint) ([]byte, error) {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return data, nil
}

func decodeJSON(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &checkpoint, nil
}

// encodeProto stores the checkpoint as a google.protobuf.Struct so that the
// binary form stays schema-free and mirrors the JSON layout field for field.
func encodeProto(checkpoint *Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint struct: %v", err)
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %v", err)
	}
	return data, nil
}

func decodeProto(data []byte) (*Checkpoint, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return decodeJSON(raw)
}

// ParameterSource is anything exposing named parameter tensors in a stable order
type ParameterSource interface {
	Parameters() []*tensor.Tensor
	ParameterNames() []string
}

// ExtractWeights snapshots the parameters of src. Names follow the
// "<layer>.<type>" convention produced by layers.Network.
func ExtractWeights(src ParameterSource) ([]WeightTensor, error) {
	params := src.Parameters()
	names := src.ParameterNames()
	if len(params) != len(names) {
		return nil, fmt.Errorf("parameter count mismatch: %d tensors, %d names", len(params), len(names))
	}

	weights := make([]WeightTensor, 0, len(params))
	for i, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)

		layer, kind := names[i], ""
		if dot := strings.LastIndex(names[i], "."); dot >= 0 {
			layer, kind = names[i][:dot], names[i][dot+1:]
		}
		weights = append(weights, WeightTensor{
			Name:  names[i],
			Shape: append([]int(nil), p.Shape...),
			Data:  data,
			Layer: layer,
			Type:  kind,
		})
	}
	return weights, nil
}

// LoadWeights copies weights into the matching parameters of dst by name
func LoadWeights(weights []WeightTensor, dst ParameterSource) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	names := dst.ParameterNames()
	for i, p := range dst.Parameters() {
		w, ok := byName[names[i]]
		if !ok {
			return fmt.Errorf("checkpoint has no weight named %s", names[i])
		}
		if len(w.Shape) != len(p.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v", w.Name, p.Shape, w.Shape)
		}
		for j, dim := range p.Shape {
			if dim != w.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					w.Name, j, dim, w.Shape[j])
			}
		}
		if len(w.Data) != len(p.Data) {
			return fmt.Errorf("data length mismatch for weight %s: %d vs %d", w.Name, len(w.Data), len(p.Data))
		}
		copy(p.Data, w.Data)
	}
	return nil
}
