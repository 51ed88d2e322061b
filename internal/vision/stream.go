package vision

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/example/kyc-worker/internal/assessment"
)

// FrameStream reads frames from a video file in presentation order.
// It is forward-only and cannot be restarted.
type FrameStream struct {
	capture *gocv.VideoCapture
}

// OpenFrameStream opens path for sequential decoding.
func OpenFrameStream(path string) (*FrameStream, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", assessment.ErrMediaUnavailable, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: open %s", assessment.ErrMediaUnavailable, path)
	}
	return &FrameStream{capture: capture}, nil
}

// Next decodes the next frame into dst and reports whether one was available.
func (s *FrameStream) Next(dst *gocv.Mat) bool {
	return s.capture.Read(dst) && !dst.Empty()
}

// FrameCount reports the container's frame count, which may be zero for streams without an index.
func (s *FrameStream) FrameCount() int {
	return int(s.capture.Get(gocv.VideoCaptureFrameCount))
}

// Seek positions the stream so that the next decoded frame is index.
func (s *FrameStream) Seek(index int) {
	s.capture.Set(gocv.VideoCapturePosFrames, float64(index))
}

// Close releases the decoder.
func (s *FrameStream) Close() error {
	return s.capture.Close()
}
