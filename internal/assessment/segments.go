package assessment

import "math"

const (
	promptFailedCap   = 0.6
	missingSegmentCap = 0.5
)

// Segment is the range of flow samples attributed to one prompt.
type Segment struct {
	Index  int
	Prompt Prompt
	Start  int
	End    int
	// Missing is set when Start lies beyond the available samples.
	Missing bool
}

// Partition splits n samples into one segment per prompt. Every segment has
// max(1, n/len(prompts)) samples except the last, which absorbs the remainder.
func Partition(n int, prompts []Prompt) []Segment {
	if len(prompts) == 0 {
		return nil
	}
	count := len(prompts)
	size := n / count
	if size < 1 {
		size = 1
	}
	segments := make([]Segment, count)
	for i, p := range prompts {
		start := i * size
		end := (i + 1) * size
		if i == count-1 || end > n {
			end = n
		}
		segments[i] = Segment{Index: i, Prompt: p, Start: start, End: end, Missing: start >= n}
	}
	return segments
}

// ApplyPromptChecks validates each prompt segment and caps score on failure.
func ApplyPromptChecks(samples []FlowSample, prompts []Prompt, score float64) (float64, []ReasonCode) {
	var reasons []ReasonCode
	for _, seg := range Partition(len(samples), prompts) {
		if seg.Missing {
			reasons = append(reasons, MissingSegment(seg.Index))
			score = math.Min(score, missingSegmentCap)
			continue
		}
		dx, dy := meanDisplacement(samples[seg.Start:seg.End])
		if !seg.Prompt.Satisfied(dx, dy) {
			reasons = append(reasons, PromptFailed(seg.Prompt))
			score = math.Min(score, promptFailedCap)
		}
	}
	return score, reasons
}

func meanDisplacement(samples []FlowSample) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var dx, dy float64
	for _, s := range samples {
		dx += s.DX
		dy += s.DY
	}
	n := float64(len(samples))
	return dx / n, dy / n
}
