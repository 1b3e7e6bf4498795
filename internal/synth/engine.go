// Package synth renders drum audio from a conditioned generative model.
package synth

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/audioio"
)

// Request is a generate call as received from the orchestration layer.
type Request struct {
	Labels      map[string]any
	Sliders     map[string]float64
	Temperature float64
	Width       float64
}

// Rendered is the success half of a generate result.
type Rendered struct {
	WAV        []byte
	SampleRate int
	Channels   int
	Passes     int
}

// Engine owns the loaded model and serializes access to it. At most one
// synthesis call is in flight; concurrent callers queue on the lock.
type Engine struct {
	model  Model
	params []string
	logger *zap.Logger

	mu sync.Mutex
}

// NewEngine wraps model. The conditioning parameter order is captured once.
func NewEngine(model Model, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	params := model.ConditioningParams()
	if len(params) == 0 {
		params = FallbackConditioningParams
	}
	return &Engine{
		model:  model,
		params: append([]string(nil), params...),
		logger: logger,
	}
}

// ConditioningParams returns the conditioning axes in canonical order.
func (e *Engine) ConditioningParams() []string {
	return append([]string(nil), e.params...)
}

// SampleRate is the model's native output rate.
func (e *Engine) SampleRate() int {
	return e.model.SampleRate()
}

// Generate renders one variant. When every slider is neutral the base pass
// is returned directly; otherwise a second pass reuses the base noise with
// the interpolated condition.
func (e *Engine) Generate(req Request) (*Rendered, error) {
	if math.IsNaN(req.Temperature) || math.IsInf(req.Temperature, 0) {
		return nil, Errorf(KindInvalidRequest, "temperature must be finite")
	}
	if math.IsNaN(req.Width) || math.IsInf(req.Width, 0) {
		return nil, Errorf(KindInvalidRequest, "width must be finite")
	}

	sliders := SliderVector(e.params, req.Sliders)
	audio, passes, err := e.render(req, sliders)
	if err != nil {
		e.logger.Warn("synthesis failed", zap.Error(err))
		return nil, err
	}

	rate := e.model.SampleRate()
	wav, err := audioio.EncodePCM16(audio.Samples, audio.Channels, rate)
	if err != nil {
		return nil, Errorf(KindSynthesisFailed, "encode audio: %w", err)
	}
	e.logger.Debug("rendered variant",
		zap.Int("passes", passes),
		zap.Int("channels", audio.Channels),
		zap.Int("frames", audio.Frames()),
	)
	return &Rendered{WAV: wav, SampleRate: rate, Channels: audio.Channels, Passes: passes}, nil
}

func (e *Engine) render(req Request, sliders []float32) (audio Audio, passes int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = Errorf(KindSynthesisFailed, "model panic: %v", r)
		}
	}()

	pass := PassRequest{
		Labels:      req.Labels,
		Temperature: float32(req.Temperature),
		Width:       float32(req.Width),
	}
	base, err := e.model.Synthesize(pass)
	if err != nil {
		return Audio{}, 1, synthesisError(err)
	}
	if IsNeutral(sliders) {
		return base.Audio, 1, nil
	}

	zero := base.ConditionZero
	if zero == nil {
		zero = make([]float32, len(e.params))
	}
	if len(zero) != len(sliders) {
		return Audio{}, 1, Errorf(KindSynthesisFailed, "model returned %d condition values for %d parameters", len(zero), len(sliders))
	}

	pass.Condition = ComputeCondition(zero, sliders)
	pass.Noise = base.Noise
	variant, err := e.model.Synthesize(pass)
	if err != nil {
		return Audio{}, 2, synthesisError(err)
	}
	return variant.Audio, 2, nil
}

func synthesisError(err error) error {
	if _, ok := err.(*GenerateError); ok {
		return err
	}
	return &GenerateError{Kind: KindSynthesisFailed, Message: fmt.Sprintf("synthesis failed: %v", err), Err: err}
}
