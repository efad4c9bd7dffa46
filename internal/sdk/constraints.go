package sdk

// Range follows the min/ideal/max shape of capture constraints.
type Range struct {
	Min   int `mapstructure:"min"`
	Ideal int `mapstructure:"ideal"`
	Max   int `mapstructure:"max"`
}

// Contains reports whether v satisfies the bounds; zero bounds are open.
func (r Range) Contains(v int) bool {
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

type AudioConstraints struct {
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
}

type VideoConstraints struct {
	Width      Range  `mapstructure:"width"`
	Height     Range  `mapstructure:"height"`
	FacingMode string `mapstructure:"facing_mode"`
}

func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{EchoCancellation: true, NoiseSuppression: true}
}

func DefaultVideoConstraints() VideoConstraints {
	return VideoConstraints{
		Width:      Range{Min: 640, Ideal: 1920, Max: 1920},
		Height:     Range{Min: 480, Ideal: 1080, Max: 1080},
		FacingMode: "user",
	}
}
