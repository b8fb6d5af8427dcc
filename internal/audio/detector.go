package audio

// DetectorConfig holds configuration for energy-based speech detection on
// the caller's inbound audio.
type DetectorConfig struct {
	EnergyThreshold       float64 // RMS threshold for speech while playback is idle
	EchoSuppressionFactor float64 // multiplier applied to the threshold while playback is active
	SpeechFrames          int     // consecutive speech frames required before reporting speech
	FrameSize             int     // samples per frame (320 for 16kHz = 20ms)
}

// DefaultDetectorConfig returns a default detector configuration.
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		EnergyThreshold:       500.0,
		EchoSuppressionFactor: 4.0,
		SpeechFrames:          3, // 60ms of sustained speech
		FrameSize:             320,
	}
}

// SpeechDetector detects caller speech in inbound audio frames. While the
// assistant is speaking, the threshold is raised so playback echo leaking
// into the caller's microphone does not trigger a spurious barge-in.
type SpeechDetector struct {
	config        *DetectorConfig
	speechCounter int
}

// NewSpeechDetector creates a speech detector.
func NewSpeechDetector(config *DetectorConfig) *SpeechDetector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &SpeechDetector{config: config}
}

// Detect processes one frame of caller audio and reports whether sustained
// speech has been observed. playbackActive raises the energy threshold by
// the echo suppression factor.
func (d *SpeechDetector) Detect(samples []int16, playbackActive bool) bool {
	threshold := d.config.EnergyThreshold
	if playbackActive {
		threshold *= d.config.EchoSuppressionFactor
	}

	if CalculateRMS(samples) > threshold {
		d.speechCounter++
	} else {
		d.speechCounter = 0
	}

	return d.speechCounter >= d.config.SpeechFrames
}

// Reset clears the detector state, used when a turn ends or playback is
// interrupted so stale counts don't carry into the next utterance.
func (d *SpeechDetector) Reset() {
	d.speechCounter = 0
}

// FrameSize returns the number of samples the detector expects per frame.
func (d *SpeechDetector) FrameSize() int {
	return d.config.FrameSize
}
