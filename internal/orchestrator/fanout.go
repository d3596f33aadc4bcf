package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/local/textpipeline/internal/extract"
	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/jobs"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/ocr"
	"github.com/local/textpipeline/internal/request"
	"github.com/local/textpipeline/internal/storage"
)

type pagePayload struct {
	RequestID string `json:"request_id"`
	GroupID   string `json:"group_id"`
	Page      int    `json:"page"`
	PageRef   string `json:"page_ref"`
	Language  string `json:"language"`
}

type assemblePayload struct {
	RequestID  string `json:"request_id"`
	GroupID    string `json:"group_id"`
	PagesOCRed []int  `json:"pages_ocred"`
}

// PageResult is what one page job hands to the assembler.
type PageResult struct {
	Page     int             `json:"page"`
	OCRed    bool            `json:"ocred"`
	OCRRef   string          `json:"ocr_ref,omitempty"`
	Rotation float64         `json:"rotation"`
	Text     string          `json:"text"`
	Tables   []extract.Table `json:"tables,omitempty"`
	Width    float64         `json:"width"`
	Height   float64         `json:"height"`
}

func pageJobID(requestID string, page int) string { return fmt.Sprintf("%s-page-%d", requestID, page) }
func assembleJobID(groupID string) string          { return "assemble-" + groupID }

// Split writes one single-page PDF per page into dir, in page order.
func (o *Orchestrator) Split(ctx context.Context, pdfPath, dir string) ([]string, error) {
	blocks, err := o.deps.PDF.Split(ctx, pdfPath, dir)
	if err != nil {
		return nil, &failure.DocumentError{Reason: "cannot split pdf", Cause: err}
	}
	return blocks, nil
}

// ScheduleFanOut uploads the page blocks and publishes one page job per
// block. The group id is recorded once, so a replayed document job fans out
// into the same group with the same job ids.
func (o *Orchestrator) ScheduleFanOut(ctx context.Context, md *request.Metadata, blocks []string) (string, error) {
	l := logger.From(ctx)
	groupID := md.GroupID
	if groupID == "" {
		groupID = uuid.New().String()
	}
	applied, cur, err := o.deps.Requests.UpdatePending(ctx, md.RequestID, func(m *request.Metadata) {
		if m.GroupID == "" {
			m.GroupID = groupID
		}
		m.PageCount = len(blocks)
	})
	if errors.Is(err, request.ErrNotFound) || (err == nil && !applied) {
		l.Info().Msg("request canceled or final before fan-out; stopping")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	groupID = cur.GroupID

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.UploadConcurrency)
	for i, block := range blocks {
		page, block := i+1, block
		g.Go(func() error {
			return o.deps.Storage.Upload(gctx, block, storage.PageBlockKey(md.RequestID, page))
		})
	}
	if err := g.Wait(); err != nil {
		return "", failure.Wrap(err, "upload page blocks")
	}
	if o.canceledDuringFanOut(ctx, md.RequestID) {
		return "", nil
	}

	if len(blocks) == 0 {
		l.Warn().Msg("document has no pages; assembling directly")
		if err := o.publishAssemble(ctx, cur, groupID, nil); err != nil {
			return "", err
		}
		o.canceledDuringFanOut(ctx, md.RequestID)
		return groupID, nil
	}
	if err := o.counter.Create(ctx, md.RequestID, groupID, len(blocks)); err != nil {
		return "", failure.Wrap(err, "create fan-out group")
	}
	if o.canceledDuringFanOut(ctx, md.RequestID) {
		return "", nil
	}

	lang := ocr.Language(cur.Options.Language, o.cfg.DefaultLanguage)
	for i := range blocks {
		page := i + 1
		env, err := o.job(jobs.KindPage, cur, pageJobID(md.RequestID, page), pagePayload{
			RequestID: md.RequestID,
			GroupID:   groupID,
			Page:      page,
			PageRef:   storage.PageBlockKey(md.RequestID, page),
			Language:  lang,
		})
		if err != nil {
			return "", err
		}
		if err := o.deps.Publisher.Publish(ctx, env); err != nil {
			return "", err
		}
		if o.canceledDuringFanOut(ctx, md.RequestID) {
			return "", nil
		}
	}
	l.Info().Str("group_id", groupID).Int("pages", len(blocks)).Msg("page jobs published")
	return groupID, nil
}

// canceledDuringFanOut reports whether the request was canceled while the
// fan-out was writing. The check follows each write, so whatever landed in
// the namespace after Cancel removed it is removed again here. Jobs already
// published find the request gone and do nothing.
func (o *Orchestrator) canceledDuringFanOut(ctx context.Context, requestID string) bool {
	exists, err := o.deps.Requests.Exists(ctx, requestID)
	if err != nil || exists {
		return false
	}
	l := logger.From(ctx)
	l.Info().Msg("request canceled during fan-out; stopping")
	if err := o.deps.Requests.Delete(ctx, requestID); err != nil {
		l.Warn().Err(err).Msg("failed to remove fan-out leftovers")
	}
	return true
}

func (o *Orchestrator) publishAssemble(ctx context.Context, md *request.Metadata, groupID string, ocred []int) error {
	env, err := o.job(jobs.KindAssemble, md, assembleJobID(groupID), assemblePayload{
		RequestID:  md.RequestID,
		GroupID:    groupID,
		PagesOCRed: ocred,
	})
	if err != nil {
		return err
	}
	return o.deps.Publisher.Publish(ctx, env)
}

// handlePage processes one page and reports it to the group counter.
func (o *Orchestrator) handlePage(ctx context.Context, env *jobs.Envelope) error {
	var p pagePayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	l := logger.From(ctx).With().Int("page", p.Page).Str("group_id", p.GroupID).Logger()
	ctx = l.WithContext(ctx)

	md, err := o.loadPending(ctx, p.RequestID)
	if md == nil || err != nil {
		return err
	}

	work, err := os.MkdirTemp(o.cfg.TempDir, "page-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	local := filepath.Join(work, "page.pdf")
	if err := o.deps.Storage.Download(ctx, p.PageRef, local); err != nil {
		if errors.Is(err, storage.ErrNotFound) && !o.stillPending(ctx, p.RequestID) {
			return nil
		}
		return failure.Wrap(err, "download page %d", p.Page)
	}

	res := PageResult{Page: p.Page}
	if dims, err := o.deps.PDF.PageDims(ctx, local); err == nil && len(dims) > 0 {
		res.Width, res.Height = dims[0].Width, dims[0].Height
	}

	text, err := o.deps.Analyzer.PageText(local, 1)
	if err != nil {
		return failure.Wrap(err, "read text of page %d", p.Page)
	}

	ocrOut := filepath.Join(work, "page_ocr.pdf")
	if md.Options.OCREnable {
		need, err := o.deps.Analyzer.NeedsOCR(local, 1)
		if err != nil {
			return failure.Wrap(err, "analyze page %d", p.Page)
		}
		if need {
			ocrText, err := o.deps.OCR.OCRPage(ctx, local, ocrOut, p.Language, md.Options.OCRTimeout(o.cfg.OCRTimeout))
			if err != nil {
				return failure.Wrap(err, "ocr page %d", p.Page)
			}
			text, res.OCRed = ocrText, true
		}
	}

	if md.Options.DeskewEnable {
		src := local
		if res.OCRed {
			src = ocrOut
		}
		angle, err := o.deps.OCR.DetectRotation(ctx, src, md.Options.OCRTimeout(o.cfg.OCRTimeout))
		if err != nil {
			l.Warn().Err(err).Msg("rotation detection failed; keeping page as is")
		} else {
			res.Rotation = angle
		}
	}

	res.Text = text
	if md.Options.TableExtractionEnable {
		res.Tables = o.deps.Tables(text, p.Page, extract.Box{Width: res.Width, Height: res.Height})
	}

	// Last check before writing: a canceled request must not get new objects.
	if !o.stillPending(ctx, p.RequestID) {
		l.Info().Msg("request canceled during page processing; discarding result")
		return nil
	}
	if res.OCRed {
		res.OCRRef = storage.PageOCRKey(p.RequestID, p.Page)
		if err := o.deps.Storage.Upload(ctx, ocrOut, res.OCRRef); err != nil {
			return failure.Wrap(err, "store ocr page %d", p.Page)
		}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := o.deps.Storage.Put(ctx, storage.PageResultKey(p.RequestID, p.Page), data); err != nil {
		return failure.Wrap(err, "store page result %d", p.Page)
	}

	st, err := o.counter.Complete(ctx, p.RequestID, p.GroupID, p.Page, res.OCRed)
	if errors.Is(err, ErrGroupGone) {
		l.Info().Msg("fan-out group gone; request was canceled")
		o.discardPage(ctx, p.RequestID, p.Page)
		return nil
	}
	if err != nil {
		return failure.Wrap(err, "complete page %d", p.Page)
	}
	l.Debug().Bool("ocred", res.OCRed).Int("remaining", len(st.Remaining)).Msg("page done")
	if len(st.Remaining) > 0 {
		return nil
	}
	// Every member that sees the group empty publishes the same assemble
	// job id; that covers a last member that crashed before publishing.
	return o.publishAssemble(ctx, md, p.GroupID, st.OCRed)
}

func (o *Orchestrator) stillPending(ctx context.Context, requestID string) bool {
	md, err := o.deps.Requests.Get(ctx, requestID)
	return err == nil && md.Status == request.StatusPending
}

// discardPage removes what a page job wrote after its request vanished.
func (o *Orchestrator) discardPage(ctx context.Context, requestID string, page int) {
	for _, key := range []string{storage.PageResultKey(requestID, page), storage.PageOCRKey(requestID, page)} {
		if err := o.deps.Storage.Delete(ctx, key); err != nil {
			logger.From(ctx).Warn().Err(err).Str("key", key).Msg("failed to discard page output")
		}
	}
}
