package synth

// Audio is interleaved float PCM as produced by a model.
type Audio struct {
	Samples  []float32
	Channels int
}

// Frames returns the number of sample frames.
func (a Audio) Frames() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.Samples) / a.Channels
}

// AudioFromShape converts a model output tensor into interleaved audio.
// Leading unit dimensions are ignored. A 1-D result is mono. Otherwise the
// smaller of the two trailing axes holds the channels: [frames, channels] is
// already interleaved, [channels, frames] is planar and gets interleaved.
// Square matrices are read as [frames, channels].
func AudioFromShape(data []float32, shape []int64) Audio {
	dims := make([]int64, 0, len(shape))
	for i, d := range shape {
		if d == 1 && i < len(shape)-1 && len(dims) == 0 {
			continue
		}
		dims = append(dims, d)
	}
	if len(dims) < 2 {
		return Audio{Samples: data, Channels: 1}
	}

	rows, cols := dims[len(dims)-2], dims[len(dims)-1]
	if cols <= rows {
		if cols <= 1 {
			return Audio{Samples: data, Channels: 1}
		}
		return Audio{Samples: data, Channels: int(cols)}
	}
	if rows <= 1 {
		return Audio{Samples: data, Channels: 1}
	}

	channels := int(rows)
	frames := len(data) / channels
	interleaved := make([]float32, frames*channels)
	for c := 0; c < channels; c++ {
		plane := data[c*frames : (c+1)*frames]
		for f, v := range plane {
			interleaved[f*channels+c] = v
		}
	}
	return Audio{Samples: interleaved, Channels: channels}
}

// Noise is the latent noise state drawn for one generate call. Reusing it on
// a second pass keeps the variant aligned with the base render.
type Noise struct {
	Values []float32
}

// PassRequest is one synthesis pass.
type PassRequest struct {
	Labels      map[string]any
	Condition   []float32 // nil lets the model use its own zero condition
	Temperature float32
	Width       float32
	Noise       *Noise // nil draws fresh noise
}

// PassResult is the output of one synthesis pass.
type PassResult struct {
	Audio         Audio
	ConditionZero []float32
	Noise         *Noise
}

// Model is a loaded generative model. Implementations need not be safe for
// concurrent use; the Engine serializes every call.
type Model interface {
	SampleRate() int
	ConditioningParams() []string
	Synthesize(req PassRequest) (PassResult, error)
}
