package assessment

const (
	// MotionGain maps mean inter-frame intensity change onto the score range.
	MotionGain = 4.0
	// LowMotionThreshold is the score under which low_motion is reported.
	LowMotionThreshold = 0.2
)

// MotionScore converts the mean motion magnitude of samples into a base liveness score.
func MotionScore(samples []FlowSample) (float64, []ReasonCode) {
	if len(samples) == 0 {
		return 0, []ReasonCode{LowMotion}
	}
	var total float64
	for _, s := range samples {
		total += s.Motion
	}
	score := clamp(total/float64(len(samples))*MotionGain, 0, 1)
	if score < LowMotionThreshold {
		return score, []ReasonCode{LowMotion}
	}
	return score, nil
}
