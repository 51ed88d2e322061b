package usecase

import "context"

// MetricsSummary represents aggregated assessment insights.
type MetricsSummary struct {
	TotalAssessments           int64   `json:"total_assessments"`
	DeliveredAssessments       int64   `json:"delivered_assessments"`
	DeliveryRate               float64 `json:"delivery_rate"`
	AverageLivenessScore       float64 `json:"average_liveness_score"`
	FaceMatchRate              float64 `json:"face_match_rate"`
	AverageFaceMatchScore      float64 `json:"average_face_match_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates assessment statistics from persisted records.
func (uc *AssessmentUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAssessments:           aggregation.TotalCount,
		DeliveredAssessments:       aggregation.DeliveredCount,
		AverageLivenessScore:       aggregation.AverageLivenessScore,
		AverageFaceMatchScore:      aggregation.AverageFaceMatchScore,
		AverageProcessingLatencyMs: aggregation.AverageDurationMs,
	}

	if aggregation.TotalCount > 0 {
		total := float64(aggregation.TotalCount)
		summary.DeliveryRate = float64(aggregation.DeliveredCount) / total
		summary.FaceMatchRate = float64(aggregation.FaceMatchCount) / total
	}

	return summary, nil
}
