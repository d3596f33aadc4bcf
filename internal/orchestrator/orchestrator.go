package orchestrator

import (
    "context"
    "errors"
    "fmt"
    "path/filepath"
    "sort"
    "time"

    "github.com/google/uuid"

    "github.com/local/textpipeline/internal/extract"
    "github.com/local/textpipeline/internal/filetype"
    "github.com/local/textpipeline/internal/jobs"
    "github.com/local/textpipeline/internal/logger"
    "github.com/local/textpipeline/internal/pdf"
    "github.com/local/textpipeline/internal/queue"
    "github.com/local/textpipeline/internal/request"
    "github.com/local/textpipeline/internal/storage"
)

// PDFToolkit performs structural operations on local PDF files.
type PDFToolkit interface {
    Normalize(ctx context.Context, in, out string) error
    Split(ctx context.Context, in, outDir string) ([]string, error)
    Merge(ctx context.Context, base string, replacements map[int]string, rotations map[int]int, out string) error
    PageDims(ctx context.Context, path string) ([]pdf.Dim, error)
}

// PageAnalyzer reads single pages. Page numbers are 1-based.
type PageAnalyzer interface {
    PageText(path string, page int) (string, error)
    NeedsOCR(path string, page int) (bool, error)
}

type OCREngine interface {
    OCRPage(ctx context.Context, pagePDF, outPDF, lang string, timeout time.Duration) (string, error)
    DetectRotation(ctx context.Context, pagePDF string, timeout time.Duration) (float64, error)
}

type Converter interface {
    Convert(ctx context.Context, in, outDir string, timeout time.Duration) (string, error)
}

type FileDetector interface {
    Detect(path, name string) (filetype.Info, error)
}

// TableDetector finds tables in the text of one page.
type TableDetector func(text string, page int, box extract.Box) []extract.Table

type Notifier interface {
    Deliver(ctx context.Context, info request.CallbackInfo, status request.RequestStatus)
}

type Dependencies struct {
    Storage   storage.Client
    Requests  *request.Store
    Queue     queue.Client
    Publisher *jobs.Publisher
    PDF       PDFToolkit
    Analyzer  PageAnalyzer
    OCR       OCREngine
    Converter Converter
    Files     FileDetector
    Tables    TableDetector
    Notifier  Notifier
}

type Config struct {
    DefaultLanguage         string
    ConvertTimeout          time.Duration
    OCRTimeout              time.Duration
    ExtractTimeout          time.Duration
    UploadConcurrency       int
    DeleteTempFilesOnFinish bool
    KeepFailedFiles         bool
    TempDir                 string
    Retry                   jobs.RetryPolicy
}

// Orchestrator drives a request from intake to a final status. Every step
// runs as a job handler registered with Register.
type Orchestrator struct {
    deps    Dependencies
    cfg     Config
    counter *Counter
}

func New(deps Dependencies, cfg Config) *Orchestrator {
    if cfg.UploadConcurrency <= 0 { cfg.UploadConcurrency = 10 }
    if cfg.DefaultLanguage == "" { cfg.DefaultLanguage = "eng" }
    if cfg.ConvertTimeout <= 0 { cfg.ConvertTimeout = 180 * time.Second }
    if cfg.OCRTimeout <= 0 { cfg.OCRTimeout = 300 * time.Second }
    if cfg.ExtractTimeout <= 0 { cfg.ExtractTimeout = 600 * time.Second }
    if cfg.Retry == (jobs.RetryPolicy{}) { cfg.Retry = jobs.DefaultRetryPolicy() }
    if deps.Tables == nil { deps.Tables = extract.DetectTables }
    return &Orchestrator{deps: deps, cfg: cfg, counter: NewCounter(deps.Storage)}
}

// Register binds the pipeline handlers into the dispatch table.
func (o *Orchestrator) Register(r *jobs.Registry) {
    r.Register(jobs.KindDocument, jobs.Handler{Run: o.handleDocument, OnFailure: o.onJobFailure})
    r.Register(jobs.KindPage, jobs.Handler{Run: o.handlePage, OnFailure: o.onJobFailure})
    r.Register(jobs.KindAssemble, jobs.Handler{Run: o.handleAssemble, OnFailure: o.onJobFailure})
}

// SubmitRequest describes one document to process.
type SubmitRequest struct {
    // RequestID pins the id so a client can retry Submit safely.
    RequestID string
    FileName  string
    Options   request.Options
    Callback  request.CallbackInfo
}

type documentPayload struct {
    RequestID string `json:"request_id"`
}

func documentJobID(requestID string) string { return requestID + "-document" }

// Submit stores the document and metadata, then queues processing. With a
// pinned id that already exists nothing is overwritten; the document job is
// queued again only if it was never registered.
func (o *Orchestrator) Submit(ctx context.Context, documentPath string, req SubmitRequest) (string, error) {
    id := req.RequestID
    if id == "" { id = uuid.New().String() }
    l := logger.From(ctx).With().Str("request_id", id).Logger()

    exists, err := o.deps.Requests.Exists(ctx, id)
    if err != nil {
        return "", fmt.Errorf("check request %s: %w", id, err)
    }
    if !exists {
        if err := o.deps.Storage.Upload(ctx, documentPath, storage.OriginalKey(id)); err != nil {
            return "", fmt.Errorf("store original: %w", err)
        }
        cb := req.Callback
        if req.FileName != "" {
            cb.OriginalFileName = req.FileName
        } else if cb.OriginalFileName == "" {
            cb.OriginalFileName = filepath.Base(documentPath)
        }
        md := &request.Metadata{
            RequestID:        id,
            RequestDate:      time.Now().UTC(),
            Status:           request.StatusPending,
            OriginalDocument: storage.OriginalKey(id),
            Callback:         cb,
            Options:          req.Options,
        }
        if md.Options.OutputFormat == "" { md.Options.OutputFormat = request.FormatJSON }
        err := o.deps.Requests.Create(ctx, md)
        if err != nil && !errors.Is(err, request.ErrAlreadyExists) {
            return "", fmt.Errorf("create metadata: %w", err)
        }
    }

    registered, err := o.deps.Requests.JobIDs(ctx, id)
    if err != nil {
        return "", fmt.Errorf("list jobs of %s: %w", id, err)
    }
    for _, j := range registered {
        if j == documentJobID(id) {
            l.Info().Msg("request already submitted")
            return id, nil
        }
    }

    md, err := o.deps.Requests.Get(ctx, id)
    if err != nil {
        return "", err
    }
    env, err := o.job(jobs.KindDocument, md, documentJobID(id), documentPayload{RequestID: id})
    if err != nil {
        return "", err
    }
    if err := o.deps.Publisher.Publish(ctx, env); err != nil {
        return "", err
    }
    l.Info().Str("file", md.Callback.OriginalFileName).Msg("request submitted")
    return id, nil
}

func (o *Orchestrator) job(kind jobs.Kind, md *request.Metadata, id string, payload any) (*jobs.Envelope, error) {
    env, err := jobs.New(kind, md.RequestID, payload)
    if err != nil {
        return nil, err
    }
    return env.WithID(id).WithRetry(o.cfg.Retry).WithLogContext(md.Callback.LogContext), nil
}

// CancelResult reports per job whether it was revoked.
type CancelResult struct {
    RequestID           string            `json:"request_id"`
    TaskIDs             []string          `json:"task_ids"`
    SuccessfullyRevoked []string          `json:"successfully_revoked"`
    Problems            map[string]string `json:"problems"`
}

// Cancel revokes every registered job and deletes the request namespace.
// It never fails as a whole; problems are reported per job id.
func (o *Orchestrator) Cancel(ctx context.Context, requestID string) CancelResult {
    l := logger.From(ctx).With().Str("request_id", requestID).Logger()
    res := CancelResult{RequestID: requestID, TaskIDs: []string{}, SuccessfullyRevoked: []string{}, Problems: map[string]string{}}

    exists, err := o.deps.Requests.Exists(ctx, requestID)
    if err != nil {
        res.Problems[requestID] = err.Error()
    } else if !exists {
        res.Problems[requestID] = request.ErrNotFound.Error()
    }

    ids, err := o.deps.Requests.JobIDs(ctx, requestID)
    if err != nil {
        res.Problems[requestID] = fmt.Sprintf("list jobs: %v", err)
    }
    sort.Strings(ids)
    for _, id := range ids {
        res.TaskIDs = append(res.TaskIDs, id)
        if err := o.deps.Queue.Revoke(ctx, id); err != nil {
            res.Problems[id] = err.Error()
            continue
        }
        // A revoked job is terminal: its pending record goes now, not when
        // a worker eventually skips it.
        if err := o.deps.Publisher.Pending().Delete(ctx, id); err != nil {
            l.Warn().Err(err).Str("job_id", id).Msg("failed to delete pending record of revoked job")
        }
        res.SuccessfullyRevoked = append(res.SuccessfullyRevoked, id)
    }

    if err := o.deps.Requests.Delete(ctx, requestID); err != nil {
        res.Problems[requestID] = fmt.Sprintf("delete namespace: %v", err)
    }
    l.Info().Int("jobs", len(ids)).Int("revoked", len(res.SuccessfullyRevoked)).Int("problems", len(res.Problems)).Msg("request canceled")
    return res
}

// GetStatus returns the public status projection or request.ErrNotFound.
func (o *Orchestrator) GetStatus(ctx context.Context, requestID string) (request.RequestStatus, error) {
    md, err := o.deps.Requests.Get(ctx, requestID)
    if err != nil {
        return request.RequestStatus{}, err
    }
    return md.ToStatus(), nil
}
