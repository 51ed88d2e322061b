package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/tensor"
)

type stubVideo struct {
	trace      *MotionTrace
	analyzeErr error
	middle     Frame
	middleErr  error
	image      Frame
	imageErr   error
	analyzed   int
}

func (s *stubVideo) Analyze(ctx context.Context, path string) (*MotionTrace, error) {
	s.analyzed++
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	return s.trace, nil
}

func (s *stubVideo) MiddleFrame(path string) (Frame, error) {
	return s.middle, s.middleErr
}

func (s *stubVideo) ReadImage(path string) (Frame, error) {
	return s.image, s.imageErr
}

type constantModel struct {
	values []float32
	err    error
	calls  int
}

func (m *constantModel) Infer(frame Frame) (tensor.Tensor, error) {
	m.calls++
	if m.err != nil {
		return tensor.Tensor{}, m.err
	}
	return tensor.New([]int{1, len(m.values)}, m.values)
}

// sequenceModel returns its outputs in order, one per call.
type sequenceModel struct {
	outputs [][]float32
	next    int
}

func (m *sequenceModel) Infer(Frame) (tensor.Tensor, error) {
	out := m.outputs[m.next%len(m.outputs)]
	m.next++
	return tensor.New([]int{1, len(out)}, out)
}

// pixelModel embeds a frame as its raw pixel values.
type pixelModel struct{}

func (pixelModel) Infer(frame Frame) (tensor.Tensor, error) {
	data := make([]float32, len(frame.Pix))
	for i, p := range frame.Pix {
		data[i] = float32(p)
	}
	return tensor.New([]int{1, len(data)}, data)
}

func testFrame(seed byte) Frame {
	pix := make([]byte, 4*4*3)
	for i := range pix {
		pix[i] = seed + byte(i)
	}
	return Frame{Width: 4, Height: 4, Pix: pix}
}

func sampledFrames(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = testFrame(byte(i))
	}
	return frames
}

func newTestSession() Session {
	return Session{
		ID:            "sess-1",
		Dir:           "/media/sess-1",
		Prompts:       append([]Prompt(nil), DefaultPrompts...),
		VideoPath:     "/media/sess-1/selfie_1.mp4",
		ReferencePath: "/media/sess-1/id_front.jpg",
	}
}

func TestAssessWithoutVideo(t *testing.T) {
	video := &stubVideo{}
	engine := NewEngine(video, WithFaceModel(pixelModel{}), WithLogger(zap.NewNop()))
	session := newTestSession()
	session.VideoPath = ""

	result, err := engine.Assess(context.Background(), session)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.LivenessScore != 0 {
		t.Fatalf("expected score 0, got %v", result.LivenessScore)
	}
	if !result.HasReason(NoSelfieVideo) {
		t.Fatalf("expected %s, got %v", NoSelfieVideo, result.ReasonCodes)
	}
	if result.FaceMatchScore != nil {
		t.Fatal("expected face match to be omitted without a video")
	}
	if video.analyzed != 0 {
		t.Fatal("expected no decode attempt without a video path")
	}
	if result.ManualReview {
		t.Fatal("engine must never request manual review")
	}
}

func TestAssessUnreadableVideoDegrades(t *testing.T) {
	video := &stubVideo{analyzeErr: ErrMediaUnavailable}
	engine := NewEngine(video)

	result, err := engine.Assess(context.Background(), newTestSession())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(result.ReasonCodes) != 1 || result.ReasonCodes[0] != NoSelfieVideo {
		t.Fatalf("unexpected reasons %v", result.ReasonCodes)
	}
}

func TestAssessLowMotion(t *testing.T) {
	video := &stubVideo{trace: &MotionTrace{Samples: uniformSamples(40, 0, 0, 0.001)}}
	engine := NewEngine(video)

	result, err := engine.Assess(context.Background(), newTestSession())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.LivenessScore >= LowMotionThreshold {
		t.Fatalf("expected score below %v, got %v", LowMotionThreshold, result.LivenessScore)
	}
	if result.ReasonCodes[0] != LowMotion {
		t.Fatalf("expected low_motion first, got %v", result.ReasonCodes)
	}
}

func TestAssessMissingSegments(t *testing.T) {
	samples := []FlowSample{{DX: -0.3, Motion: 0.5}, {DX: 0.3, Motion: 0.5}}
	engine := NewEngine(&stubVideo{trace: &MotionTrace{Samples: samples}})

	result, err := engine.Assess(context.Background(), newTestSession())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.HasReason("missing_segment_2") || !result.HasReason("missing_segment_3") {
		t.Fatalf("expected missing segments 2 and 3, got %v", result.ReasonCodes)
	}
	if result.HasReason("missing_segment_0") || result.HasReason("missing_segment_1") {
		t.Fatalf("segments 0 and 1 have data, got %v", result.ReasonCodes)
	}
	if result.LivenessScore > 0.5 {
		t.Fatalf("expected score <= 0.5, got %v", result.LivenessScore)
	}
}

func TestAssessFusesModelProbability(t *testing.T) {
	trace := &MotionTrace{
		Samples: uniformSamples(20, 0, 0, 0.075),
		Sampled: sampledFrames(20),
	}
	model := &constantModel{values: []float32{0.9}}
	session := newTestSession()
	session.Prompts = []Prompt{"smile"}
	engine := NewEngine(&stubVideo{trace: trace}, WithLivenessModel(model, 0))

	result, err := engine.Assess(context.Background(), session)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if math.Abs(result.LivenessScore-0.6) > 1e-6 {
		t.Fatalf("expected fused score 0.6, got %v", result.LivenessScore)
	}
	if model.calls != MaxSampledFrames {
		t.Fatalf("expected %d inferences, got %d", MaxSampledFrames, model.calls)
	}
	if len(result.ReasonCodes) != 0 {
		t.Fatalf("expected no reasons, got %v", result.ReasonCodes)
	}
}

func TestAssessModelFailureKeepsHeuristicScore(t *testing.T) {
	trace := &MotionTrace{
		Samples: uniformSamples(20, 0, 0, 0.075),
		Sampled: sampledFrames(3),
	}
	session := newTestSession()
	session.Prompts = []Prompt{"smile"}
	engine := NewEngine(&stubVideo{trace: trace}, WithLivenessModel(&constantModel{err: errors.New("load failed")}, 0))

	result, err := engine.Assess(context.Background(), session)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if math.Abs(result.LivenessScore-0.3) > 1e-6 {
		t.Fatalf("expected heuristic score 0.3, got %v", result.LivenessScore)
	}
	if !result.HasReason(LivenessModelError) {
		t.Fatalf("expected %s, got %v", LivenessModelError, result.ReasonCodes)
	}
}

func TestAssessNonFiniteModelOutputKeepsHeuristicScore(t *testing.T) {
	inf := float32(math.Inf(1))
	tests := []struct {
		name    string
		outputs [][]float32
	}{
		{name: "opposite infinities", outputs: [][]float32{{inf}, {-inf}}},
		{name: "positive infinity", outputs: [][]float32{{0.9}, {inf}}},
		{name: "nan", outputs: [][]float32{{float32(math.NaN())}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := &MotionTrace{
				Samples: uniformSamples(20, 0, 0, 0.075),
				Sampled: sampledFrames(2),
			}
			session := newTestSession()
			session.Prompts = []Prompt{"smile"}
			engine := NewEngine(&stubVideo{trace: trace}, WithLivenessModel(&sequenceModel{outputs: tt.outputs}, 0))

			result, err := engine.Assess(context.Background(), session)
			if err != nil {
				t.Fatalf("expected success, got error: %v", err)
			}
			if math.Abs(result.LivenessScore-0.3) > 1e-6 {
				t.Fatalf("expected heuristic score 0.3, got %v", result.LivenessScore)
			}
			if !result.HasReason(LivenessModelError) {
				t.Fatalf("expected %s, got %v", LivenessModelError, result.ReasonCodes)
			}
			if _, err := json.Marshal(result); err != nil {
				t.Fatalf("assessment must serialize: %v", err)
			}
		})
	}
}

func TestAssessFaceMatchIdenticalImages(t *testing.T) {
	frame := testFrame(7)
	video := &stubVideo{
		trace:  &MotionTrace{Samples: uniformSamples(8, 0, 0, 0.5)},
		middle: frame,
		image:  frame,
	}
	engine := NewEngine(video, WithFaceModel(pixelModel{}))

	result, err := engine.Assess(context.Background(), newTestSession())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.FaceMatchScore == nil {
		t.Fatal("expected face match score")
	}
	if math.Abs(*result.FaceMatchScore-1) > 1e-4 {
		t.Fatalf("expected face match ~1, got %v", *result.FaceMatchScore)
	}
}

func TestAssessFaceMatchDegradation(t *testing.T) {
	tests := []struct {
		name       string
		video      *stubVideo
		model      Model
		wantReason bool
	}{
		{
			name:  "unreadable reference image",
			video: &stubVideo{analyzeErr: ErrMediaUnavailable, middle: testFrame(1), imageErr: errors.New("decode")},
			model: pixelModel{},
		},
		{
			name:  "no representative frame",
			video: &stubVideo{analyzeErr: ErrMediaUnavailable, middleErr: ErrMediaUnavailable, image: testFrame(1)},
			model: pixelModel{},
		},
		{
			name:       "inference error",
			video:      &stubVideo{analyzeErr: ErrMediaUnavailable, middle: testFrame(1), image: testFrame(2)},
			model:      &constantModel{err: errors.New("forward failed")},
			wantReason: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(tc.video, WithFaceModel(tc.model))
			result, err := engine.Assess(context.Background(), newTestSession())
			if err != nil {
				t.Fatalf("expected success, got error: %v", err)
			}
			if result.FaceMatchScore != nil {
				t.Fatal("expected face match score to be omitted")
			}
			if result.HasReason(FaceMatchError) != tc.wantReason {
				t.Fatalf("unexpected reasons %v", result.ReasonCodes)
			}
		})
	}
}

func TestAssessFaceMatchRunsWhenVideoUnanalyzable(t *testing.T) {
	frame := testFrame(3)
	video := &stubVideo{analyzeErr: ErrMediaUnavailable, middle: frame, image: frame}
	engine := NewEngine(video, WithFaceModel(pixelModel{}))

	result, err := engine.Assess(context.Background(), newTestSession())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.LivenessScore != 0 || result.FaceMatchScore == nil {
		t.Fatalf("expected degraded liveness with face match, got %+v", result)
	}
}

func TestAssessNeverRaisesScoreWithoutVideo(t *testing.T) {
	frame := testFrame(9)
	withVideo := &stubVideo{
		trace:  &MotionTrace{Samples: uniformSamples(12, 0, 0, 0.3), Sampled: sampledFrames(2)},
		middle: frame,
		image:  frame,
	}
	session := newTestSession()
	session.Prompts = []Prompt{"smile"}
	engine := NewEngine(withVideo, WithLivenessModel(&constantModel{values: []float32{0.8}}, 0), WithFaceModel(pixelModel{}))
	full, err := engine.Assess(context.Background(), session)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	session.VideoPath = ""
	degraded, err := engine.Assess(context.Background(), session)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if degraded.LivenessScore > full.LivenessScore {
		t.Fatalf("score rose without video: %v > %v", degraded.LivenessScore, full.LivenessScore)
	}
	if len(degraded.ReasonCodes) < len(full.ReasonCodes) {
		t.Fatalf("reasons shrank without video: %v vs %v", degraded.ReasonCodes, full.ReasonCodes)
	}
}

func TestAssessPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := NewEngine(&stubVideo{analyzeErr: context.Canceled})

	if _, err := engine.Assess(ctx, newTestSession()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAssessRequiresSessionID(t *testing.T) {
	engine := NewEngine(&stubVideo{})
	if _, err := engine.Assess(context.Background(), Session{}); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestReasonCodesSerializeAsEmptyArray(t *testing.T) {
	engine := NewEngine(&stubVideo{trace: &MotionTrace{Samples: uniformSamples(4, 0, 0, 0.5)}})
	session := newTestSession()
	session.Prompts = nil
	result, err := engine.Assess(context.Background(), session)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.ReasonCodes == nil {
		t.Fatal("expected non-nil reason codes")
	}
}
