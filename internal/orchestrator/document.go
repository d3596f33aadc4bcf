package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/jobs"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/request"
	"github.com/local/textpipeline/internal/storage"
)

// loadPending returns the request metadata, or nil when the step must be a
// no-op: the request was canceled or already reached a final status.
func (o *Orchestrator) loadPending(ctx context.Context, requestID string) (*request.Metadata, error) {
	md, err := o.deps.Requests.Get(ctx, requestID)
	if errors.Is(err, request.ErrNotFound) {
		logger.From(ctx).Info().Msg("request no longer exists; skipping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if md.Status.Final() {
		logger.From(ctx).Info().Str("status", string(md.Status)).Msg("request already final; skipping")
		return nil, nil
	}
	return md, nil
}

// handleDocument normalizes the original to PDF and schedules the page
// fan-out. converted_pdf_ref is persisted before fan-out, so a retry reuses
// the converted file instead of converting again.
func (o *Orchestrator) handleDocument(ctx context.Context, env *jobs.Envelope) error {
	var p documentPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	md, err := o.loadPending(ctx, p.RequestID)
	if md == nil || err != nil {
		return err
	}

	work, err := os.MkdirTemp(o.cfg.TempDir, "doc-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	normalized := filepath.Join(work, "normalized.pdf")
	if md.ConvertedPDF != "" {
		if err := o.deps.Storage.Download(ctx, md.ConvertedPDF, normalized); err != nil {
			return failure.Wrap(err, "download converted pdf")
		}
	} else {
		if err := o.normalize(ctx, md, work, normalized); err != nil {
			return err
		}
		key := storage.ConvertedKey(md.RequestID)
		if err := o.deps.Storage.Upload(ctx, normalized, key); err != nil {
			return failure.Wrap(err, "store converted pdf")
		}
		applied, cur, err := o.deps.Requests.UpdatePending(ctx, md.RequestID, func(m *request.Metadata) {
			m.ConvertedPDF = key
		})
		if errors.Is(err, request.ErrNotFound) || (err == nil && !applied) {
			logger.From(ctx).Info().Msg("request canceled or final during normalization; stopping")
			return nil
		}
		if err != nil {
			return err
		}
		md = cur
	}

	pagesDir := filepath.Join(work, "pages")
	blocks, err := o.Split(ctx, normalized, pagesDir)
	if err != nil {
		return err
	}
	_, err = o.ScheduleFanOut(ctx, md, blocks)
	return err
}

// normalize turns the original into a clean PDF at out.
func (o *Orchestrator) normalize(ctx context.Context, md *request.Metadata, work, out string) error {
	l := logger.From(ctx)
	original := filepath.Join(work, "original"+filepath.Ext(md.Callback.OriginalFileName))
	if err := o.deps.Storage.Download(ctx, md.OriginalDocument, original); err != nil {
		return failure.Wrap(err, "download original")
	}

	info, err := o.deps.Files.Detect(original, md.Callback.OriginalFileName)
	if err != nil {
		return &failure.DocumentError{Reason: "cannot detect file type", Cause: err}
	}
	src := original
	switch {
	case info.IsPDF:
	case info.Convertible:
		l.Info().Str("mime", info.MIME).Msg("converting document to pdf")
		converted, err := o.deps.Converter.Convert(ctx, original, filepath.Join(work, "converted"), md.Options.ConvertTimeout(o.cfg.ConvertTimeout))
		if err != nil {
			return failure.Wrap(err, "convert %s to pdf", md.Callback.OriginalFileName)
		}
		src = converted
	default:
		return &failure.DocumentError{Reason: "unsupported file type " + info.MIME}
	}

	if err := o.deps.PDF.Normalize(ctx, src, out); err != nil {
		return failure.Wrap(err, "normalize pdf")
	}
	return nil
}
