package assessment

import (
	"errors"
	"math"
	"strings"
)

// ErrMediaUnavailable reports a selfie video that cannot be opened or holds no usable frames.
var ErrMediaUnavailable = errors.New("media unavailable")

// Prompt is a head-movement instruction shown to the subject during capture.
type Prompt string

const (
	LookLeft  Prompt = "look_left"
	LookRight Prompt = "look_right"
	LookUp    Prompt = "look_up"
	LookDown  Prompt = "look_down"
)

// DefaultPrompts is the sequence requested when a session carries none.
var DefaultPrompts = []Prompt{LookLeft, LookRight, LookUp, LookDown}

// DirectionThreshold is the minimum mean displacement, in flow units, a prompt segment must show.
const DirectionThreshold = 0.05

// ParsePrompts converts raw prompt names, falling back to DefaultPrompts when raw is empty.
func ParsePrompts(raw []string) []Prompt {
	if len(raw) == 0 {
		return append([]Prompt(nil), DefaultPrompts...)
	}
	prompts := make([]Prompt, len(raw))
	for i, name := range raw {
		prompts[i] = Prompt(name)
	}
	return prompts
}

func (p Prompt) canonical() Prompt {
	return Prompt(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(p))), "-", "_"))
}

// Satisfied reports whether a mean displacement matches the prompt direction.
// Prompts outside the known vocabulary carry no directional constraint.
func (p Prompt) Satisfied(meanDX, meanDY float64) bool {
	switch p.canonical() {
	case LookLeft:
		return meanDX < -DirectionThreshold
	case LookRight:
		return meanDX > DirectionThreshold
	case LookUp:
		return meanDY < -DirectionThreshold
	case LookDown:
		return meanDY > DirectionThreshold
	default:
		return true
	}
}

// Session identifies the media of one verification attempt.
type Session struct {
	ID      string
	Dir     string
	Prompts []Prompt
	// VideoPath is the selfie video, empty when none was found.
	VideoPath string
	// ReferencePath is the identity document front image, empty when none was found.
	ReferencePath string
}

// FlowSample summarizes the motion between two consecutive frames.
type FlowSample struct {
	DX     float64
	DY     float64
	Motion float64
}

// Frame is a decoded 8-bit BGR image with interleaved channels.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Empty reports whether the frame holds no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// MotionTrace is the result of a forward pass over a selfie video.
type MotionTrace struct {
	Samples []FlowSample
	// Sampled holds every fifth decoded frame, at most MaxSampledFrames of them.
	Sampled []Frame
}

const (
	// SampleEvery is the frame stride used to retain frames for model scoring.
	SampleEvery = 5
	// MaxSampledFrames bounds the frames passed to the liveness model.
	MaxSampledFrames = 16
)

// Assessment is the engine output delivered to the KYC service.
type Assessment struct {
	SessionID      string       `json:"sessionId"`
	LivenessScore  float64      `json:"livenessScore"`
	ReasonCodes    []ReasonCode `json:"reasonCodes"`
	FaceMatchScore *float64     `json:"faceMatchScore,omitempty"`
	ManualReview   bool         `json:"manualReview"`
}

// HasReason reports whether code was recorded.
func (a *Assessment) HasReason(code ReasonCode) bool {
	for _, c := range a.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
