package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/config"
	"github.com/example/kyc-worker/internal/logging"
	"github.com/example/kyc-worker/internal/media"
	"github.com/example/kyc-worker/internal/usecase"
)

func newAssessCommand() *cobra.Command {
	var (
		prompts   []string
		mediaRoot string
	)
	cmd := &cobra.Command{
		Use:   "assess <sessionId>...",
		Short: "Assess local session directories and print one JSON result per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if mediaRoot == "" {
				mediaRoot = cfg.MediaRoot
			}
			engine, closeModels := buildEngine(cfg, logger)
			defer closeModels()

			runner := assessRunner{
				resolver: media.NewResolver(mediaRoot),
				engine:   engine,
				timeout:  cfg.AssessmentTimeout,
				logger:   logger,
			}
			return runner.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args, prompts)
		},
	}
	cmd.Flags().StringSliceVar(&prompts, "prompts", nil, "comma separated prompts (default look_left,look_right,look_up,look_down)")
	cmd.Flags().StringVar(&mediaRoot, "media-root", "", "directory holding session folders (default MEDIA_ROOT)")
	return cmd
}

type assessRunner struct {
	resolver usecase.SessionResolver
	engine   usecase.Assessor
	timeout  time.Duration
	logger   *zap.Logger
}

// run assesses every session in order. A failing session is logged and the
// remaining ones still run.
func (r assessRunner) run(ctx context.Context, out, progressOut io.Writer, sessionIDs, prompts []string) error {
	var bar *progressbar.ProgressBar
	if len(sessionIDs) > 1 {
		bar = progressbar.NewOptions(len(sessionIDs),
			progressbar.OptionSetDescription("assessing sessions"),
			progressbar.OptionSetWriter(progressOut),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	encoder := json.NewEncoder(out)
	parsed := assessment.ParsePrompts(prompts)
	failed := 0
	for _, sessionID := range sessionIDs {
		result, err := r.assessOne(ctx, sessionID, parsed)
		if err == nil {
			err = encoder.Encode(result)
		}
		if err != nil {
			failed++
			r.logger.Error("session assessment failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sessions failed", failed, len(sessionIDs))
	}
	return nil
}

func (r assessRunner) assessOne(ctx context.Context, sessionID string, prompts []assessment.Prompt) (*assessment.Assessment, error) {
	session, err := r.resolver.Session(sessionID, prompts)
	if err != nil {
		return nil, err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.engine.Assess(ctx, session)
}
