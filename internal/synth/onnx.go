package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/drumbench/drumbench/internal/labels"
)

const (
	LabelDictionariesFile = "label_dictionaries.json"
	ModelConfigFile       = "model_config.json"
	PredictorModelFile    = "condition_predictor.onnx"
	GeneratorModelFile    = "generator.onnx"

	defaultSampleRate = 44100
	defaultNoiseDim   = 128
)

// ModelConfig is the model_config.json sidecar exported next to the ONNX graphs.
type ModelConfig struct {
	SampleRate         int      `json:"sample_rate"`
	NoiseDim           int      `json:"noise_dim"`
	ConditioningParams []string `json:"conditioning_params"`
}

// LoadModelConfig reads the sidecar config from dir. A missing file yields
// defaults and the fallback conditioning parameters.
func LoadModelConfig(dir string) (ModelConfig, error) {
	cfg := ModelConfig{}
	data, err := os.ReadFile(filepath.Join(dir, ModelConfigFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("synth: read model config: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("synth: decode model config: %w", err)
		}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.NoiseDim <= 0 {
		cfg.NoiseDim = defaultNoiseDim
	}
	if len(cfg.ConditioningParams) == 0 {
		cfg.ConditioningParams = append([]string(nil), FallbackConditioningParams...)
	}
	return cfg, nil
}

// InitializeRuntime loads the onnxruntime shared library. It must be called
// once per process before OpenONNX.
func InitializeRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("synth: initialise onnxruntime: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the onnxruntime environment.
func ShutdownRuntime() error {
	return ort.DestroyEnvironment()
}

// ONNXModel runs the exported drum synthesizer graphs: a condition predictor
// producing the zero condition for a label set, and a generator rendering
// audio from labels, condition and noise.
type ONNXModel struct {
	cfg       ModelConfig
	schema    *labels.Schema
	predictor *ort.DynamicAdvancedSession
	generator *ort.DynamicAdvancedSession
}

// OpenONNX loads the graphs found in dir. schema encodes the label input.
func OpenONNX(dir string, schema *labels.Schema) (*ONNXModel, error) {
	cfg, err := LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}

	predictor, err := ort.NewDynamicAdvancedSession(filepath.Join(dir, PredictorModelFile),
		[]string{"labels"}, []string{"condition_zero"}, nil)
	if err != nil {
		return nil, fmt.Errorf("synth: load condition predictor: %w", err)
	}
	generator, err := ort.NewDynamicAdvancedSession(filepath.Join(dir, GeneratorModelFile),
		[]string{"labels", "condition", "noise", "temperature", "width"}, []string{"audio"}, nil)
	if err != nil {
		predictor.Destroy()
		return nil, fmt.Errorf("synth: load generator: %w", err)
	}

	return &ONNXModel{cfg: cfg, schema: schema, predictor: predictor, generator: generator}, nil
}

func (m *ONNXModel) SampleRate() int              { return m.cfg.SampleRate }
func (m *ONNXModel) ConditioningParams() []string { return m.cfg.ConditioningParams }

// Synthesize runs one pass. The zero condition is always predicted so the
// caller can pivot slider values on it.
func (m *ONNXModel) Synthesize(req PassRequest) (PassResult, error) {
	encoded := m.schema.Encode(req.Labels)
	labelsTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(encoded))), encoded)
	if err != nil {
		return PassResult{}, fmt.Errorf("labels tensor: %w", err)
	}
	defer labelsTensor.Destroy()

	predicted := []ort.Value{nil}
	if err := m.predictor.Run([]ort.Value{labelsTensor}, predicted); err != nil {
		return PassResult{}, fmt.Errorf("run condition predictor: %w", err)
	}
	zeroTensor := predicted[0].(*ort.Tensor[float32])
	defer zeroTensor.Destroy()
	zero := append([]float32(nil), zeroTensor.GetData()...)

	condition := req.Condition
	if condition == nil {
		condition = zero
	}
	noise := req.Noise
	if noise == nil {
		noise = m.drawNoise()
	}

	conditionTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(condition))), append([]float32(nil), condition...))
	if err != nil {
		return PassResult{}, fmt.Errorf("condition tensor: %w", err)
	}
	defer conditionTensor.Destroy()
	noiseTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(noise.Values))), append([]float32(nil), noise.Values...))
	if err != nil {
		return PassResult{}, fmt.Errorf("noise tensor: %w", err)
	}
	defer noiseTensor.Destroy()
	temperatureTensor, err := ort.NewTensor(ort.NewShape(1), []float32{req.Temperature})
	if err != nil {
		return PassResult{}, fmt.Errorf("temperature tensor: %w", err)
	}
	defer temperatureTensor.Destroy()
	widthTensor, err := ort.NewTensor(ort.NewShape(1), []float32{req.Width})
	if err != nil {
		return PassResult{}, fmt.Errorf("width tensor: %w", err)
	}
	defer widthTensor.Destroy()

	generated := []ort.Value{nil}
	if err := m.generator.Run(
		[]ort.Value{labelsTensor, conditionTensor, noiseTensor, temperatureTensor, widthTensor},
		generated,
	); err != nil {
		return PassResult{}, fmt.Errorf("run generator: %w", err)
	}
	audioTensor := generated[0].(*ort.Tensor[float32])
	defer audioTensor.Destroy()

	data := append([]float32(nil), audioTensor.GetData()...)
	return PassResult{
		Audio:         AudioFromShape(data, audioTensor.GetShape()),
		ConditionZero: zero,
		Noise:         noise,
	}, nil
}

func (m *ONNXModel) drawNoise() *Noise {
	values := make([]float32, m.cfg.NoiseDim)
	for i := range values {
		values[i] = float32(rand.NormFloat64())
	}
	return &Noise{Values: values}
}

// Close releases both sessions.
func (m *ONNXModel) Close() error {
	var errs []error
	if m.predictor != nil {
		errs = append(errs, m.predictor.Destroy())
	}
	if m.generator != nil {
		errs = append(errs, m.generator.Destroy())
	}
	return errors.Join(errs...)
}
