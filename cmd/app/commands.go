package main

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/rs/zerolog/log"
    "github.com/spf13/cobra"

    cfgpkg "github.com/local/textpipeline/internal/config"
    "github.com/local/textpipeline/internal/dispatcher"
    "github.com/local/textpipeline/internal/health"
    "github.com/local/textpipeline/internal/jobs"
    "github.com/local/textpipeline/internal/metrics"
    "github.com/local/textpipeline/internal/orchestrator"
    "github.com/local/textpipeline/internal/request"
    "github.com/local/textpipeline/internal/statuscheck"
)

func printJSON(cmd *cobra.Command, v any) error {
    enc := json.NewEncoder(cmd.OutOrStdout())
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func workerCmd(cfg *cfgpkg.Config) *cobra.Command {
    return &cobra.Command{
        Use:   "worker",
        Short: "Run pipeline workers, the task health beat and the /health and /metrics endpoints",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
            defer stop()

            metrics.Init()
            a, err := newApp(ctx, *cfg)
            if err != nil {
                return err
            }
            defer a.Close()

            reg := jobs.NewRegistry()
            a.orch.Register(reg)
            monitor := health.NewMonitor(a.q, a.pub, cfg.Health.Grace)
            reg.Register(jobs.KindReconcile, monitor.Handler())

            w := dispatcher.New(dispatcher.Config{
                Concurrency:       cfg.Worker.Concurrency,
                Consumer:          cfg.Queue.Consumer,
                BlockTimeout:      cfg.Queue.BlockTimeout,
                HeartbeatInterval: cfg.Worker.HeartbeatInterval,
                HeartbeatTTL:      cfg.Worker.HeartbeatTTL,
            }, a.q, reg, a.pub)
            w.Start(ctx)

            go health.NewBeat(a.pub, a.locker, cfg.Health.Interval).Run(ctx)
            go dispatcher.NewIdleShutdown(cfg.Worker.IdleShutdown, w, func() {
                _ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
            }).Run(ctx)
            go sweepTemps(ctx, cfg.Pipeline.TempDir)

            checker := statuscheck.New(statuscheck.Options{Queue: a.q, Storage: a.store})
            mux := http.NewServeMux()
            mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
                sum := checker.Summary(r.Context())
                rw.Header().Set("Content-Type", "application/json")
                if !sum.Healthy() {
                    rw.WriteHeader(http.StatusServiceUnavailable)
                }
                _ = json.NewEncoder(rw).Encode(sum)
            })
            mux.Handle("/metrics", metrics.Handler())
            srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
            go func() {
                log.Info().Msgf("HTTP server listening on :%s", cfg.HTTPPort)
                if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
                    log.Error().Err(err).Msg("http server error")
                }
            }()

            log.Info().Str("worker", w.String()).Msg("worker running")
            <-ctx.Done()

            // Graceful shutdown
            sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
            defer cancel()
            if err := w.Stop(sctx); err != nil {
                log.Warn().Err(err).Msg("workers did not stop in time")
            }
            _ = srv.Shutdown(sctx)
            log.Info().Msg("shutdown complete")
            return nil
        },
    }
}

// sweepTemps removes work directories of crashed workers once an hour.
func sweepTemps(ctx context.Context, dir string) {
    ticker := time.NewTicker(time.Hour)
    defer ticker.Stop()
    for {
        if n := orchestrator.CleanupTemps(dir, 24*time.Hour); n > 0 {
            log.Info().Int("removed", n).Msg("stale work directories removed")
        }
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        }
    }
}

func submitCmd(cfg *cfgpkg.Config) *cobra.Command {
    var (
        id, name, lang, format, webhook string
        convertSec, ocrSec, extractSec  int
    )
    opts := request.DefaultOptions()
    cmd := &cobra.Command{
        Use:   "submit <file>",
        Short: "Store a document and queue it for processing",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            a, err := newApp(cmd.Context(), *cfg)
            if err != nil {
                return err
            }
            defer a.Close()

            switch request.OutputFormat(format) {
            case request.FormatJSON, request.FormatMsgpack:
                opts.OutputFormat = request.OutputFormat(format)
            default:
                return fmt.Errorf("unknown output format %q", format)
            }
            opts.Language = lang
            opts.ConvertTimeoutSec = convertSec
            opts.OCRTimeoutSec = ocrSec
            opts.ExtractTimeoutSec = extractSec

            reqID, err := a.orch.Submit(cmd.Context(), args[0], orchestrator.SubmitRequest{
                RequestID: id,
                FileName:  name,
                Options:   opts,
                Callback:  request.CallbackInfo{WebhookURL: webhook},
            })
            if err != nil {
                return err
            }
            fmt.Fprintln(cmd.OutOrStdout(), reqID)
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&id, "id", "", "pin the request id (resubmitting the same id is a no-op)")
    f.StringVar(&name, "name", "", "original file name (defaults to the base name of <file>)")
    f.StringVar(&lang, "lang", "", "document language, ISO 639 code; several joined with +")
    f.StringVar(&format, "output-format", string(request.FormatJSON), "json or msgpack")
    f.StringVar(&webhook, "webhook", "", "URL to POST the final status to")
    f.BoolVar(&opts.OCREnable, "ocr", opts.OCREnable, "OCR pages without a usable text layer")
    f.BoolVar(&opts.DeskewEnable, "deskew", opts.DeskewEnable, "detect and correct page rotation")
    f.BoolVar(&opts.TableExtractionEnable, "tables", opts.TableExtractionEnable, "extract tables")
    f.IntVar(&convertSec, "convert-timeout", 0, "conversion timeout in seconds")
    f.IntVar(&ocrSec, "ocr-timeout", 0, "per page OCR timeout in seconds")
    f.IntVar(&extractSec, "extract-timeout", 0, "extraction timeout in seconds")
    return cmd
}

func statusCmd(cfg *cfgpkg.Config) *cobra.Command {
    return &cobra.Command{
        Use:   "status <request-id>",
        Short: "Print the status of a request",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            a, err := newApp(cmd.Context(), *cfg)
            if err != nil {
                return err
            }
            defer a.Close()
            st, err := a.orch.GetStatus(cmd.Context(), args[0])
            if errors.Is(err, request.ErrNotFound) {
                return fmt.Errorf("request %s not found", args[0])
            }
            if err != nil {
                return err
            }
            return printJSON(cmd, st)
        },
    }
}

func cancelCmd(cfg *cfgpkg.Config) *cobra.Command {
    return &cobra.Command{
        Use:   "cancel <request-id>",
        Short: "Revoke every job of a request and delete its files",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            a, err := newApp(cmd.Context(), *cfg)
            if err != nil {
                return err
            }
            defer a.Close()
            return printJSON(cmd, a.orch.Cancel(cmd.Context(), args[0]))
        },
    }
}

func reconcileCmd(cfg *cfgpkg.Config) *cobra.Command {
    return &cobra.Command{
        Use:   "reconcile",
        Short: "Run one task health pass and republish lost jobs",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            a, err := newApp(cmd.Context(), *cfg)
            if err != nil {
                return err
            }
            defer a.Close()
            rep, err := health.NewMonitor(a.q, a.pub, cfg.Health.Grace).Reconcile(cmd.Context())
            if err != nil {
                return err
            }
            return printJSON(cmd, rep)
        },
    }
}
