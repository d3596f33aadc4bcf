package orchestrator

import (
	"context"
	"errors"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/jobs"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/metrics"
	"github.com/local/textpipeline/internal/request"
)

func (o *Orchestrator) onJobFailure(ctx context.Context, env *jobs.Envelope, err error) {
	o.Fail(ctx, env.RequestID, err)
}

// Fail appends the rendered cause chain to error_message and moves the
// request to FAILURE. A missing request counts as already canceled.
func (o *Orchestrator) Fail(ctx context.Context, requestID string, cause error) bool {
	l := logger.From(ctx)
	msg := failure.Render(cause)
	applied, md, err := o.deps.Requests.Transition(ctx, requestID, request.StatusFailure, func(m *request.Metadata) {
		m.AppendError(msg)
	})
	if errors.Is(err, request.ErrNotFound) {
		l.Info().Str("error", msg).Msg("request already canceled; failure not recorded")
		return false
	}
	if err != nil {
		l.Error().Err(err).Str("error", msg).Msg("failed to record request failure")
		return false
	}
	if !applied {
		l.Info().Str("status", string(md.Status)).Msg("request already final; failure ignored")
		return false
	}

	metrics.IncFinished(string(request.StatusFailure))
	l.Error().Str("error", msg).Msg("request failed")
	if o.deps.Notifier != nil {
		o.deps.Notifier.Deliver(ctx, md.Callback, md.ToStatus())
	}
	if !o.cfg.KeepFailedFiles {
		o.cleanupIntermediate(ctx, requestID)
	}
	return true
}
