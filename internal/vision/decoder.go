package vision

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/imageprocessor"
)

// Decoder implements assessment.VideoSource with OpenCV.
type Decoder struct{}

var _ assessment.VideoSource = (*Decoder)(nil)

// NewDecoder returns an OpenCV backed video source.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Analyze runs one forward pass over the video, keeping only the previous
// grayscale frame in memory besides the sampled frames.
func (d *Decoder) Analyze(ctx context.Context, path string) (*assessment.MotionTrace, error) {
	stream, err := OpenFrameStream(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	prevGray := gocv.NewMat()
	defer prevGray.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	if !stream.Next(&frame) {
		return nil, fmt.Errorf("%w: %s has no frames", assessment.ErrMediaUnavailable, path)
	}
	gocv.CvtColor(frame, &prevGray, gocv.ColorBGRToGray)

	analyzer := NewMotionAnalyzer()
	defer analyzer.Close()

	trace := &assessment.MotionTrace{}
	for pairs := 1; ; pairs++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !stream.Next(&frame) {
			break
		}
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		trace.Samples = append(trace.Samples, analyzer.Compare(prevGray, gray))

		if pairs%assessment.SampleEvery == 0 && len(trace.Sampled) < assessment.MaxSampledFrames {
			sampled, err := imageprocessor.MatToFrame(frame)
			if err != nil {
				return nil, fmt.Errorf("%w: sample frame %d: %v", assessment.ErrMediaUnavailable, pairs, err)
			}
			trace.Sampled = append(trace.Sampled, sampled)
		}
		prevGray, gray = gray, prevGray
	}

	if len(trace.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s has a single frame", assessment.ErrMediaUnavailable, path)
	}
	return trace, nil
}

// MiddleFrame decodes frame count / 2 by seeking.
func (d *Decoder) MiddleFrame(path string) (assessment.Frame, error) {
	stream, err := OpenFrameStream(path)
	if err != nil {
		return assessment.Frame{}, err
	}
	defer stream.Close()

	total := stream.FrameCount()
	if total <= 0 {
		return assessment.Frame{}, fmt.Errorf("%w: %s reports no frame count", assessment.ErrMediaUnavailable, path)
	}
	stream.Seek(total / 2)

	frame := gocv.NewMat()
	defer frame.Close()
	if !stream.Next(&frame) {
		return assessment.Frame{}, fmt.Errorf("%w: seek to frame %d of %s", assessment.ErrMediaUnavailable, total/2, path)
	}
	return imageprocessor.MatToFrame(frame)
}

// ReadImage decodes a still image as BGR.
func (d *Decoder) ReadImage(path string) (assessment.Frame, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return assessment.Frame{}, fmt.Errorf("%w: decode image %s", assessment.ErrMediaUnavailable, path)
	}
	return imageprocessor.MatToFrame(img)
}
