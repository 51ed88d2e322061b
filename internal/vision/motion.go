package vision

import (
	"gocv.io/x/gocv"

	"github.com/example/kyc-worker/internal/assessment"
)

// Farneback parameters. They set the magnitude of the mean displacements
// compared against the prompt direction threshold.
const (
	flowPyramidScale = 0.5
	flowLevels       = 3
	flowWindowSize   = 15
	flowIterations   = 3
	flowPolyN        = 5
	flowPolySigma    = 1.2
	flowFlags        = 0

	maxIntensity = 255.0
)

// MotionAnalyzer computes flow samples between consecutive grayscale frames.
// It reuses scratch buffers and is not safe for concurrent use.
type MotionAnalyzer struct {
	flow gocv.Mat
	diff gocv.Mat
}

// NewMotionAnalyzer allocates scratch buffers; release them with Close.
func NewMotionAnalyzer() *MotionAnalyzer {
	return &MotionAnalyzer{flow: gocv.NewMat(), diff: gocv.NewMat()}
}

// Compare returns the mean dense-flow displacement from prev to next and the
// mean absolute intensity difference scaled to [0, 1].
func (a *MotionAnalyzer) Compare(prev, next gocv.Mat) assessment.FlowSample {
	gocv.CalcOpticalFlowFarneback(prev, next, &a.flow,
		flowPyramidScale, flowLevels, flowWindowSize, flowIterations, flowPolyN, flowPolySigma, flowFlags)
	displacement := a.flow.Mean()

	gocv.AbsDiff(prev, next, &a.diff)
	return assessment.FlowSample{
		DX:     displacement.Val1,
		DY:     displacement.Val2,
		Motion: a.diff.Mean().Val1 / maxIntensity,
	}
}

// Close releases the scratch buffers.
func (a *MotionAnalyzer) Close() {
	a.flow.Close()
	a.diff.Close()
}
