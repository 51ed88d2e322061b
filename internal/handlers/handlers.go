package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/auth"
	"github.com/example/kyc-worker/internal/media"
	"github.com/example/kyc-worker/internal/repository"
	"github.com/example/kyc-worker/internal/usecase"
)

// Service is the part of the assessment use case exposed over HTTP.
type Service interface {
	RequestAssessment(ctx context.Context, sessionID string, prompts []string) (string, error)
	GetResult(ctx context.Context, sessionID string) (*assessment.Assessment, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type assessmentRequest struct {
	Prompts []string `json:"prompts" binding:"omitempty,max=16,dive,required"`
}

// Options carries the collaborators of the HTTP API. Nil fields are skipped.
type Options struct {
	Auth           gin.HandlerFunc
	Metrics        http.Handler
	EnqueueLimiter *OperatorLimiter
	Logger         *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	protected := router.Group("/")
	if opts.Auth != nil {
		protected.Use(opts.Auth)
	}

	var enqueueChain []gin.HandlerFunc
	if opts.EnqueueLimiter != nil {
		enqueueChain = append(enqueueChain, opts.EnqueueLimiter.Middleware())
	}
	enqueueChain = append(enqueueChain, func(c *gin.Context) {
		sessionID := c.Param("id")

		var req assessmentRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		taskID, err := svc.RequestAssessment(c.Request.Context(), sessionID, req.Prompts)
		if err != nil {
			if errors.Is(err, media.ErrInvalidSessionID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule assessment"})
			return
		}

		operator, _ := auth.Operator(c.Request.Context())
		logger.Info("assessment requested",
			zap.String("session_id", sessionID),
			zap.String("task_id", taskID),
			zap.String("operator", operator),
		)
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "session_id": sessionID})
	})
	protected.POST("/sessions/:id/assessments", enqueueChain...)

	protected.GET("/sessions/:id/assessment", func(c *gin.Context) {
		sessionID := c.Param("id")
		if err := media.ValidateSessionID(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := svc.GetResult(c.Request.Context(), sessionID)
		switch {
		case errors.Is(err, usecase.ErrAssessmentPending):
			c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "processing"})
			return
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load assessment"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	protected.GET("/assessments/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate assessments"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
