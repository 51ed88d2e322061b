package assessment

import "fmt"

// ReasonCode is a machine readable tag explaining a score deduction or degraded input.
type ReasonCode string

const (
	NoSelfieVideo      ReasonCode = "no_selfie_video"
	LowMotion          ReasonCode = "low_motion"
	LivenessModelError ReasonCode = "liveness_model_error"
	FaceMatchError     ReasonCode = "face_match_error"

	missingSegmentPrefix = "missing_segment_"
	promptFailedPrefix   = "prompt_failed_"
)

// MissingSegment tags a prompt whose segment lies beyond the available flow samples.
func MissingSegment(index int) ReasonCode {
	return ReasonCode(fmt.Sprintf("%s%d", missingSegmentPrefix, index))
}

// PromptFailed tags a prompt whose segment moved in the wrong direction.
// The prompt name is kept exactly as requested.
func PromptFailed(p Prompt) ReasonCode {
	return ReasonCode(promptFailedPrefix + string(p))
}

type outcomeState uint8

const (
	outcomeSkipped outcomeState = iota
	outcomeSucceeded
	outcomeFailed
)

// Outcome is the typed result of one optional assessment stage.
type Outcome[T any] struct {
	Value  T
	Reason ReasonCode
	state  outcomeState
}

// Succeeded wraps a stage value.
func Succeeded[T any](value T) Outcome[T] {
	return Outcome[T]{Value: value, state: outcomeSucceeded}
}

// Failed records a stage failure with the reason code it contributes.
func Failed[T any](reason ReasonCode) Outcome[T] {
	return Outcome[T]{Reason: reason, state: outcomeFailed}
}

// Skipped records a stage that did not run because its inputs were absent.
func Skipped[T any]() Outcome[T] {
	return Outcome[T]{}
}

func (o Outcome[T]) Ok() bool     { return o.state == outcomeSucceeded }
func (o Outcome[T]) Failed() bool { return o.state == outcomeFailed }

// reasonLog is append-only for the duration of one assessment.
type reasonLog struct {
	codes []ReasonCode
}

func (r *reasonLog) add(codes ...ReasonCode) {
	r.codes = append(r.codes, codes...)
}

func (r *reasonLog) list() []ReasonCode {
	out := make([]ReasonCode, len(r.codes))
	copy(out, r.codes)
	return out
}
