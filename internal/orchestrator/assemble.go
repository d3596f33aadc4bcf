package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/local/textpipeline/internal/extract"
	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/jobs"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/metrics"
	"github.com/local/textpipeline/internal/pdf"
	"github.com/local/textpipeline/internal/request"
	"github.com/local/textpipeline/internal/storage"
)

// Artifacts are the refs and side channels written by Assemble and applied
// to the metadata by Finish.
type Artifacts struct {
	OCRedPDF         string
	CorrectedPDF     string
	FinalPDF         string
	PlainText        string
	TextStructure    string
	Tables           string
	PDFCoordinates   string
	PagesOCRed       []int
	PageRotateAngles []float64
}

func (o *Orchestrator) handleAssemble(ctx context.Context, env *jobs.Envelope) error {
	var p assemblePayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	md, err := o.loadPending(ctx, p.RequestID)
	if md == nil || err != nil {
		return err
	}
	results, err := o.loadResults(ctx, md)
	if err != nil {
		return err
	}
	art, err := o.Assemble(ctx, md, results)
	if err != nil {
		return err
	}
	_, err = o.Finish(ctx, md.RequestID, art)
	return err
}

func (o *Orchestrator) loadResults(ctx context.Context, md *request.Metadata) ([]PageResult, error) {
	results := make([]PageResult, 0, md.PageCount)
	for page := 1; page <= md.PageCount; page++ {
		data, _, err := o.deps.Storage.Get(ctx, storage.PageResultKey(md.RequestID, page))
		if err != nil {
			return nil, failure.Wrap(err, "load result of page %d", page)
		}
		var r PageResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, failure.Wrap(err, "decode result of page %d", page)
		}
		results = append(results, r)
	}
	return results, nil
}

// Assemble merges page results into the final artifacts. Results may come
// in any order; everything is built in page order.
func (o *Orchestrator) Assemble(ctx context.Context, md *request.Metadata, results []PageResult) (*Artifacts, error) {
	budget := md.Options.ExtractTimeout(o.cfg.ExtractTimeout)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	timedOut := func(err error) error {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &failure.TimeoutError{Op: "extraction", After: budget}
		}
		return err
	}

	sorted := append([]PageResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })
	for i, r := range sorted {
		if r.Page != i+1 {
			return nil, fmt.Errorf("page results are not contiguous: position %d holds page %d", i+1, r.Page)
		}
	}

	work, err := os.MkdirTemp(o.cfg.TempDir, "assemble-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	art := &Artifacts{FinalPDF: md.ConvertedPDF, PagesOCRed: []int{}}
	replacements := map[int]string{}
	rotations := map[int]int{}
	angles := make([]float64, len(sorted))
	texts := make([]string, len(sorted))
	boxes := make([]extract.Box, len(sorted))
	tables := extract.TableList{Tables: []extract.Table{}}
	for i, r := range sorted {
		texts[i] = r.Text
		angles[i] = r.Rotation
		boxes[i] = extract.Box{Width: r.Width, Height: r.Height}
		tables.Tables = append(tables.Tables, r.Tables...)
		if r.OCRed {
			local := filepath.Join(work, fmt.Sprintf("ocr_%05d.pdf", r.Page))
			if err := o.deps.Storage.Download(ctx, r.OCRRef, local); err != nil {
				return nil, timedOut(failure.Wrap(err, "download ocr page %d", r.Page))
			}
			replacements[r.Page] = local
			art.PagesOCRed = append(art.PagesOCRed, r.Page)
		}
		if turn := pdf.QuarterTurn(r.Rotation); turn != 0 {
			rotations[r.Page] = turn
		}
	}

	if len(replacements) > 0 || len(rotations) > 0 {
		base := filepath.Join(work, "base.pdf")
		if err := o.deps.Storage.Download(ctx, md.ConvertedPDF, base); err != nil {
			return nil, timedOut(failure.Wrap(err, "download converted pdf"))
		}
		merged := filepath.Join(work, storage.SearchablePDFFile)
		if err := o.deps.PDF.Merge(ctx, base, replacements, rotations, merged); err != nil {
			return nil, timedOut(failure.Wrap(err, "merge pages"))
		}
		if err := ctx.Err(); err != nil {
			return nil, timedOut(err)
		}
		key := storage.RequestKey(md.RequestID, storage.SearchablePDFFile)
		if err := o.deps.Storage.Upload(ctx, merged, key); err != nil {
			return nil, timedOut(failure.Wrap(err, "store searchable pdf"))
		}
		if len(replacements) > 0 {
			art.OCRedPDF = key
		}
		if len(rotations) > 0 {
			art.CorrectedPDF = key
		}
		art.FinalPDF = key
	}
	if len(rotations) > 0 {
		art.PageRotateAngles = angles
	}

	lang := md.Options.Language
	text, structure := extract.BuildStructure(texts, lang)
	art.PlainText = storage.RequestKey(md.RequestID, storage.PlainTextFile)
	if err := o.deps.Storage.Put(ctx, art.PlainText, []byte(text)); err != nil {
		return nil, timedOut(failure.Wrap(err, "store plain text"))
	}

	format := string(md.Options.Format())
	if art.TextStructure, err = o.putArtifact(ctx, md.RequestID, "text_structure", format, structure); err != nil {
		return nil, timedOut(err)
	}
	coords := extract.BuildCoordinates(structure.Pages, boxes, angles)
	if art.PDFCoordinates, err = o.putArtifact(ctx, md.RequestID, "pdf_coordinates", format, coords); err != nil {
		return nil, timedOut(err)
	}
	if md.Options.TableExtractionEnable {
		if art.Tables, err = o.putArtifact(ctx, md.RequestID, "tables", format, tables); err != nil {
			return nil, timedOut(err)
		}
	}
	return art, nil
}

func (o *Orchestrator) putArtifact(ctx context.Context, requestID, name, format string, v any) (string, error) {
	data, ext, err := extract.Encode(format, v)
	if err != nil {
		return "", failure.Wrap(err, "encode %s", name)
	}
	key := storage.ArtifactKey(requestID, name, ext)
	if err := o.deps.Storage.Put(ctx, key, data); err != nil {
		return "", failure.Wrap(err, "store %s", name)
	}
	return key, nil
}

// Finish flips PENDING to DONE with every artifact ref in the same write.
// Only the writer that performs the transition notifies the caller; a
// replayed finish observes the final status and does nothing.
func (o *Orchestrator) Finish(ctx context.Context, requestID string, art *Artifacts) (bool, error) {
	l := logger.From(ctx)
	applied, md, err := o.deps.Requests.Transition(ctx, requestID, request.StatusDone, func(m *request.Metadata) {
		m.OCRedPDF = art.OCRedPDF
		m.CorrectedPDF = art.CorrectedPDF
		m.FinalPDF = art.FinalPDF
		m.PlainText = art.PlainText
		m.TextStructure = art.TextStructure
		m.Tables = art.Tables
		m.PDFCoordinates = art.PDFCoordinates
		m.PagesOCRed = art.PagesOCRed
		m.PageRotateAngles = art.PageRotateAngles
	})
	if errors.Is(err, request.ErrNotFound) {
		l.Info().Msg("request canceled before finish; dropping results")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !applied {
		l.Info().Str("status", string(md.Status)).Msg("request already final; finish is a no-op")
		return false, nil
	}

	metrics.IncFinished(string(request.StatusDone))
	l.Info().Ints("pages_ocred", md.PagesOCRed).Int("pages", md.PageCount).Msg("request done")
	if o.deps.Notifier != nil {
		o.deps.Notifier.Deliver(ctx, md.Callback, md.ToStatus())
	}
	if o.cfg.DeleteTempFilesOnFinish {
		o.cleanupIntermediate(ctx, requestID)
	}
	return true, nil
}
