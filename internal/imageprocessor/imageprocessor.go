package imageprocessor

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/tensor"
)

// Normalization describes the per-channel transform (p/255 - Mean) / Std.
type Normalization struct {
	Mean float32
	Std  float32
}

// ArcFaceNormalization maps pixels onto [-1, 1].
var ArcFaceNormalization = Normalization{Mean: 0.5, Std: 0.5}

// FrameToMat copies a BGR frame into a new 8UC3 Mat. The caller closes it.
func FrameToMat(frame assessment.Frame) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}
	if len(frame.Pix) != frame.Width*frame.Height*3 {
		return gocv.NewMat(), fmt.Errorf("frame %dx%d carries %d bytes", frame.Width, frame.Height, len(frame.Pix))
	}
	return gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
}

// MatToFrame copies an 8-bit Mat into a BGR frame, expanding grayscale input.
func MatToFrame(mat gocv.Mat) (assessment.Frame, error) {
	if mat.Empty() {
		return assessment.Frame{}, fmt.Errorf("empty mat")
	}
	src := mat
	if mat.Channels() == 1 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(mat, &bgr, gocv.ColorGrayToBGR)
		src = bgr
	}
	if src.Type() != gocv.MatTypeCV8UC3 {
		return assessment.Frame{}, fmt.Errorf("unsupported mat type %v", src.Type())
	}
	if !src.IsContinuous() {
		clone := src.Clone()
		defer clone.Close()
		src = clone
	}
	return assessment.Frame{Width: src.Cols(), Height: src.Rows(), Pix: src.ToBytes()}, nil
}

// Preprocess builds a [1, 3, height, width] float32 input blob from a BGR
// frame: resized, reordered to RGB and normalized as (p/255 - Mean) / Std.
// The caller closes the returned Mat.
func Preprocess(frame assessment.Frame, width, height int, norm Normalization) (gocv.Mat, error) {
	if norm.Std == 0 {
		return gocv.NewMat(), fmt.Errorf("normalization std must be non-zero")
	}
	src, err := FrameToMat(frame)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer src.Close()

	mean := float64(norm.Mean) * 255
	blob := gocv.BlobFromImage(
		src,
		1.0/(255*float64(norm.Std)),
		image.Pt(width, height),
		gocv.NewScalar(mean, mean, mean, 0),
		true,
		false,
	)
	if err := tensor.MatchShape(blob.Size(), 1, 3, height, width); err != nil {
		blob.Close()
		return gocv.NewMat(), err
	}
	return blob, nil
}
