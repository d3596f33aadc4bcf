package main

import (
    "context"
    "fmt"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    cfgpkg "github.com/local/textpipeline/internal/config"
    "github.com/local/textpipeline/internal/callback"
    "github.com/local/textpipeline/internal/converter"
    "github.com/local/textpipeline/internal/filetype"
    "github.com/local/textpipeline/internal/jobs"
    "github.com/local/textpipeline/internal/locking"
    "github.com/local/textpipeline/internal/ocr"
    "github.com/local/textpipeline/internal/orchestrator"
    "github.com/local/textpipeline/internal/pdf"
    "github.com/local/textpipeline/internal/queue"
    "github.com/local/textpipeline/internal/request"
    "github.com/local/textpipeline/internal/storage"
)

// app holds the shared backends every command needs.
type app struct {
    cfg      cfgpkg.Config
    store    storage.Client
    q        queue.Client
    rdb      *redis.Client
    locker   locking.Locker
    reqs     *request.Store
    pub      *jobs.Publisher
    notifier *callback.Dispatcher
    orch     *orchestrator.Orchestrator
}

func newApp(ctx context.Context, cfg cfgpkg.Config) (*app, error) {
    a := &app{cfg: cfg}

    store, err := storage.Open(ctx, storage.Options{
        Backend:       cfg.Storage.Backend,
        Bucket:        cfg.Storage.Bucket,
        EncryptionKey: cfg.Storage.EncryptionKey,
        S3: storage.S3Options{
            Endpoint:        cfg.Storage.S3Endpoint,
            Region:          cfg.Storage.S3Region,
            AccessKeyID:     cfg.Storage.S3AccessKey,
            SecretAccessKey: cfg.Storage.S3SecretKey,
        },
    })
    if err != nil {
        return nil, fmt.Errorf("open storage: %w", err)
    }
    a.store = store

    qopts := queue.Options{
        Prefix:            cfg.Queue.Prefix,
        Group:             cfg.Queue.Group,
        RoutingKeys:       cfg.Queue.RoutingKeys,
        PollInterval:      cfg.Queue.PollInterval,
        PendingStaleAfter: cfg.Queue.PendingStaleAfter,
        RevokeTTL:         cfg.Queue.RevokeTTL,
    }
    if cfg.Queue.Backend == "memory" {
        log.Warn().Msg("using in-process queue; jobs are lost on exit")
        a.q = queue.NewMemory(qopts)
        a.locker = locking.NewLocal()
    } else {
        rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, qopts)
        if err != nil {
            return nil, fmt.Errorf("connect queue: %w", err)
        }
        a.q = rq
        ropts, err := redis.ParseURL(cfg.Queue.RedisURL)
        if err != nil {
            a.Close()
            return nil, fmt.Errorf("parse redis url: %w", err)
        }
        a.rdb = redis.NewClient(ropts)
        a.locker = locking.NewRedis(a.rdb, cfg.Queue.Prefix)
    }

    a.reqs = request.NewStore(a.store)
    a.pub = jobs.NewPublisher(a.q, jobs.NewPendingStore(a.store), a.reqs)
    a.notifier = callback.New(callback.Config{
        Timeout:     cfg.Callback.Timeout,
        MaxAttempts: cfg.Callback.MaxAttempts,
        BaseBackoff: cfg.Callback.BaseBackoff,
    })

    analyzer := pdf.NewAnalyzer()
    a.orch = orchestrator.New(orchestrator.Dependencies{
        Storage:   a.store,
        Requests:  a.reqs,
        Queue:     a.q,
        Publisher: a.pub,
        PDF:       pdf.NewToolkit(),
        Analyzer:  analyzer,
        OCR:       ocr.New(analyzer, ocr.Config{DPI: cfg.Pipeline.OCRDPI}),
        Converter: converter.NewLibreOffice("", a.locker),
        Files:     filetype.New(),
        Notifier:  a.notifier,
    }, orchestrator.Config{
        DefaultLanguage:         cfg.Pipeline.DefaultLanguage,
        ConvertTimeout:          cfg.Pipeline.ConvertTimeout,
        OCRTimeout:              cfg.Pipeline.OCRTimeout,
        ExtractTimeout:          cfg.Pipeline.ExtractTimeout,
        UploadConcurrency:       cfg.Pipeline.UploadConcurrency,
        DeleteTempFilesOnFinish: cfg.Pipeline.DeleteTempFilesOnFinish,
        KeepFailedFiles:         cfg.Pipeline.KeepFailedFiles,
        TempDir:                 cfg.Pipeline.TempDir,
        Retry: jobs.RetryPolicy{
            MaxRetries:    cfg.Worker.Retry.MaxRetries,
            IntervalStart: cfg.Worker.Retry.IntervalStart,
            IntervalStep:  cfg.Worker.Retry.IntervalStep,
            IntervalMax:   cfg.Worker.Retry.IntervalMax,
        },
    })
    return a, nil
}

func (a *app) Close() {
    if a.notifier != nil { _ = a.notifier.Close() }
    if a.q != nil { _ = a.q.Close() }
    if a.rdb != nil { _ = a.rdb.Close() }
}
