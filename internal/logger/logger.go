package logger

import (
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Service is stamped on every event.
const Service = "textpipeline"

// Options defines logger initialization parameters.
type Options struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool

    // Axiom
    SendToAxiom  bool
    AxiomAPIKey  string
    AxiomOrgID   string
    AxiomDataset string
    AxiomFlush   time.Duration
}

var sink *axiomSink

// Init sets up the global logger. Events go to the rotated file, to stdout
// and, at info and above, to Axiom.
func Init(opts Options) error {
    var writers []io.Writer

    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return fmt.Errorf("create logs dir: %w", err)
        }
        writers = append(writers, &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        })
    }

    if opts.Pretty {
        writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
    } else {
        writers = append(writers, os.Stdout)
    }

    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        s, err := newAxiomSink(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
        if err != nil {
            // Keep running without Axiom.
            fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
        } else {
            sink = s
            writers = append(writers, s)
        }
    }

    zerolog.TimeFieldFormat = time.RFC3339Nano
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" {
        lvl = zerolog.InfoLevel
    }
    host, _ := os.Hostname()

    log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().
        Timestamp().
        Str("service", Service).
        Str("host", host).
        Int("pid", os.Getpid()).
        Logger()
    return nil
}

// Close flushes Axiom.
func Close() {
    if sink != nil {
        sink.Close()
        sink = nil
    }
}

// WithContext returns ctx carrying a child of the current logger annotated
// with fields. Empty values are skipped.
func WithContext(ctx context.Context, fields map[string]string) context.Context {
    lc := From(ctx).With()
    for k, v := range fields {
        if v == "" { continue }
        lc = lc.Str(k, v)
    }
    l := lc.Logger()
    return l.WithContext(ctx)
}

// From returns the logger attached to ctx, falling back to the global one.
func From(ctx context.Context) *zerolog.Logger {
    if ctx == nil { return &log.Logger }
    l := zerolog.Ctx(ctx)
    if l.GetLevel() == zerolog.Disabled || l == zerolog.DefaultContextLogger {
        return &log.Logger
    }
    return l
}
