package assessment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// VideoSource decodes session media. Implementations block for the duration
// of the decode and should stop early once ctx is done.
type VideoSource interface {
	// Analyze runs a forward pass over the video. It returns ErrMediaUnavailable
	// when the file cannot be opened or yields fewer than two frames.
	Analyze(ctx context.Context, path string) (*MotionTrace, error)
	// MiddleFrame seeks to frame count / 2 and decodes that frame.
	MiddleFrame(path string) (Frame, error)
	// ReadImage decodes a still image.
	ReadImage(path string) (Frame, error)
}

// LivenessModel pairs a classifier with the output index holding the liveness probability.
type LivenessModel struct {
	Model       Model
	OutputIndex int
}

// Engine computes session assessments. Model handles are owned by the caller
// and shared across assessments; the engine keeps no other state.
type Engine struct {
	video    VideoSource
	liveness *LivenessModel
	face     Model
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLivenessModel enables model fusion.
func WithLivenessModel(model Model, outputIndex int) Option {
	return func(e *Engine) {
		if model != nil {
			e.liveness = &LivenessModel{Model: model, OutputIndex: outputIndex}
		}
	}
}

// WithFaceModel enables face matching.
func WithFaceModel(model Model) Option {
	return func(e *Engine) {
		e.face = model
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine builds an engine over video.
func NewEngine(video VideoSource, opts ...Option) *Engine {
	e := &Engine{video: video, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("assessment_engine")
	return e
}

// Assess produces the assessment for one session. Degraded inputs are
// reported through reason codes; an error is returned only for a missing
// session identifier or when ctx ends before the pass completes.
func (e *Engine) Assess(ctx context.Context, session Session) (*Assessment, error) {
	if session.ID == "" {
		return nil, errors.New("session id is required")
	}
	logger := e.logger.With(zap.String("session_id", session.ID))
	reasons := &reasonLog{}

	trace, err := e.analyzeVideo(ctx, session.VideoPath)
	if err != nil {
		return nil, err
	}

	var score float64
	if trace.Ok() {
		samples := trace.Value.Samples
		var codes []ReasonCode
		score, codes = MotionScore(samples)
		reasons.add(codes...)
		score, codes = ApplyPromptChecks(samples, session.Prompts, score)
		reasons.add(codes...)

		fused := e.modelLiveness(trace.Value.Sampled)
		switch {
		case fused.Ok():
			score = FuseLiveness(score, fused.Value)
		case fused.Failed():
			logger.Warn("liveness model unavailable, keeping heuristic score", zap.String("reason", string(fused.Reason)))
			reasons.add(fused.Reason)
		}
	} else {
		reasons.add(trace.Reason)
	}

	result := &Assessment{
		SessionID:     session.ID,
		LivenessScore: clamp(score, 0, 1),
	}

	match := e.faceMatch(session)
	switch {
	case match.Ok():
		value := match.Value
		result.FaceMatchScore = &value
	case match.Failed():
		logger.Warn("face match failed", zap.String("reason", string(match.Reason)))
		reasons.add(match.Reason)
	}

	result.ReasonCodes = reasons.list()
	logger.Debug("assessment computed",
		zap.Float64("liveness_score", result.LivenessScore),
		zap.Int("reason_count", len(result.ReasonCodes)),
		zap.Bool("face_matched", result.FaceMatchScore != nil),
	)
	return result, nil
}

func (e *Engine) analyzeVideo(ctx context.Context, path string) (Outcome[*MotionTrace], error) {
	if path == "" {
		return Failed[*MotionTrace](NoSelfieVideo), nil
	}
	trace, err := e.video.Analyze(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome[*MotionTrace]{}, fmt.Errorf("analyze video: %w", ctxErr)
		}
		e.logger.Warn("selfie video unreadable", zap.String("path", path), zap.Error(err))
		return Failed[*MotionTrace](NoSelfieVideo), nil
	}
	if trace == nil || len(trace.Samples) == 0 {
		return Failed[*MotionTrace](NoSelfieVideo), nil
	}
	return Succeeded(trace), nil
}

func (e *Engine) modelLiveness(sampled []Frame) Outcome[[]float64] {
	if e.liveness == nil || len(sampled) == 0 {
		return Skipped[[]float64]()
	}
	if len(sampled) > MaxSampledFrames {
		sampled = sampled[:MaxSampledFrames]
	}
	probabilities := make([]float64, 0, len(sampled))
	for _, frame := range sampled {
		out, err := e.liveness.Model.Infer(frame)
		if err != nil {
			e.logger.Debug("liveness inference failed", zap.Error(err))
			return Failed[[]float64](LivenessModelError)
		}
		p := ProbabilityAt(out, e.liveness.OutputIndex)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			e.logger.Debug("liveness model returned a non-finite probability", zap.Float64("probability", p))
			return Failed[[]float64](LivenessModelError)
		}
		probabilities = append(probabilities, p)
	}
	return Succeeded(probabilities)
}

func (e *Engine) faceMatch(session Session) Outcome[float64] {
	if e.face == nil || session.ReferencePath == "" || session.VideoPath == "" {
		return Skipped[float64]()
	}
	frame, err := e.video.MiddleFrame(session.VideoPath)
	if err != nil || frame.Empty() {
		return Skipped[float64]()
	}
	reference, err := e.video.ReadImage(session.ReferencePath)
	if err != nil || reference.Empty() {
		return Skipped[float64]()
	}

	refEmbedding, err := e.embed(reference)
	if err != nil {
		e.logger.Debug("reference embedding failed", zap.Error(err))
		return Failed[float64](FaceMatchError)
	}
	frameEmbedding, err := e.embed(frame)
	if err != nil {
		e.logger.Debug("frame embedding failed", zap.Error(err))
		return Failed[float64](FaceMatchError)
	}
	score, err := refEmbedding.Cosine(frameEmbedding)
	if err != nil {
		return Failed[float64](FaceMatchError)
	}
	return Succeeded(score)
}

func (e *Engine) embed(frame Frame) (Embedding, error) {
	out, err := e.face.Infer(frame)
	if err != nil {
		return nil, err
	}
	return NewEmbedding(out)
}
