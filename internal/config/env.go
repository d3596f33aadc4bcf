package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
    Backend      string // "redis"|"memory"
    RedisURL     string
    Prefix       string
    Group        string
    Consumer     string
    RoutingKeys  []string
    PollInterval time.Duration
    BlockTimeout time.Duration
    // Delivered-but-unacked entries idle longer than this are no longer
    // counted as held by the broker.
    PendingStaleAfter time.Duration
    RevokeTTL         time.Duration
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
    Backend       string // "s3"|"gcs"|"memory"
    Bucket        string
    EncryptionKey string

    // S3-compatible endpoint overrides; empty uses the AWS default chain.
    S3Endpoint  string
    S3Region    string
    S3AccessKey string
    S3SecretKey string
}

// RetryConfig is the default retry policy stamped on published jobs.
type RetryConfig struct {
    MaxRetries    int
    IntervalStart float64
    IntervalStep  float64
    IntervalMax   float64
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
    Concurrency       int
    HeartbeatInterval time.Duration
    HeartbeatTTL      time.Duration
    IdleShutdown      time.Duration
    Retry             RetryConfig
}

// HealthConfig drives the task health monitor.
type HealthConfig struct {
    Interval time.Duration
    Grace    time.Duration
}

// PipelineConfig holds document processing defaults.
type PipelineConfig struct {
    DefaultLanguage         string
    ConvertTimeout          time.Duration
    OCRTimeout              time.Duration
    ExtractTimeout          time.Duration
    OCRDPI                  int
    UploadConcurrency       int
    DeleteTempFilesOnFinish bool
    KeepFailedFiles         bool
    TempDir                 string
}

// CallbackConfig bounds webhook delivery.
type CallbackConfig struct {
    Timeout     time.Duration
    MaxAttempts int
    BaseBackoff time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Logging  LoggingConfig
    Axiom    AxiomConfig
    Queue    QueueConfig
    Storage  StorageConfig
    Worker   WorkerConfig
    Health   HealthConfig
    Pipeline PipelineConfig
    Callback CallbackConfig
    HTTPPort string
}

// FromEnv loads configuration from environment with sensible defaults.
// A .env file in the working directory is loaded first when present.
func FromEnv() Config {
    _ = godotenv.Load()

    cfg := Config{}

    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/textpipeline.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_textpipeline",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    host, _ := os.Hostname()
    if host == "" { host = "worker" }
    cfg.Queue = QueueConfig{
        Backend:           strings.ToLower(getEnv("QUEUE_BACKEND", "redis")),
        RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
        Prefix:            getEnv("QUEUE_PREFIX", "textpipeline"),
        Group:             getEnv("QUEUE_GROUP", "workers"),
        Consumer:          getEnv("QUEUE_CONSUMER", host+"-"+strconv.Itoa(os.Getpid())),
        RoutingKeys:       parseList(getEnv("QUEUE_ROUTING_KEYS", "documents,pages,maintenance")),
        PollInterval:      parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
        BlockTimeout:      parseDuration(getEnv("QUEUE_BLOCK_TIMEOUT", "2s"), 2*time.Second),
        PendingStaleAfter: parseDuration(getEnv("QUEUE_PENDING_STALE_AFTER", "60s"), 60*time.Second),
        RevokeTTL:         parseDuration(getEnv("QUEUE_REVOKE_TTL", "168h"), 7*24*time.Hour),
    }

    cfg.Storage = StorageConfig{
        Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", "s3")),
        Bucket:        getEnv("STORAGE_BUCKET", getEnv("AWS_S3_BUCKET", "")),
        EncryptionKey: getEnv("STORAGE_ENCRYPTION_KEY", ""),
        S3Endpoint:    getEnv("S3_ENDPOINT", ""),
        S3Region:      getEnv("AWS_REGION", ""),
        S3AccessKey:   getEnv("S3_ACCESS_KEY_ID", ""),
        S3SecretKey:   getEnv("S3_SECRET_ACCESS_KEY", ""),
    }

    cfg.Worker = WorkerConfig{
        Concurrency:       parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
        HeartbeatInterval: parseDuration(getEnv("WORKER_HEARTBEAT_INTERVAL", "10s"), 10*time.Second),
        HeartbeatTTL:      parseDuration(getEnv("WORKER_HEARTBEAT_TTL", "45s"), 45*time.Second),
        IdleShutdown:      parseDuration(getEnv("WORKER_IDLE_SHUTDOWN", ""), 0),
        Retry: RetryConfig{
            MaxRetries:    parseInt(getEnv("JOB_MAX_RETRIES", "3"), 3),
            IntervalStart: parseFloat(getEnv("JOB_RETRY_INTERVAL_START", "0"), 0),
            IntervalStep:  parseFloat(getEnv("JOB_RETRY_INTERVAL_STEP", "0.2"), 0.2),
            IntervalMax:   parseFloat(getEnv("JOB_RETRY_INTERVAL_MAX", "1"), 1),
        },
    }

    cfg.Health = HealthConfig{
        Interval: parseDuration(getEnv("TASK_HEALTH_INTERVAL", "120s"), 120*time.Second),
        Grace:    parseDuration(getEnv("TASK_HEALTH_GRACE", "30s"), 30*time.Second),
    }

    cfg.Pipeline = PipelineConfig{
        DefaultLanguage:         getEnv("DEFAULT_DOC_LANGUAGE", "eng"),
        ConvertTimeout:          parseDuration(getEnv("CONVERT_TO_PDF_TIMEOUT", "180s"), 180*time.Second),
        OCRTimeout:              parseDuration(getEnv("OCR_TIMEOUT", "300s"), 300*time.Second),
        ExtractTimeout:          parseDuration(getEnv("EXTRACT_TIMEOUT", "600s"), 600*time.Second),
        OCRDPI:                  parseInt(getEnv("OCR_DPI", "300"), 300),
        UploadConcurrency:       parseInt(getEnv("PAGE_UPLOAD_CONCURRENCY", "10"), 10),
        DeleteTempFilesOnFinish: parseBool(getEnv("DELETE_TEMP_FILES_ON_REQUEST_FINISH", "true")),
        KeepFailedFiles:         parseBool(getEnv("KEEP_FAILED_FILES", "false")),
        TempDir:                 getEnv("PIPELINE_TEMP_DIR", ""),
    }

    cfg.Callback = CallbackConfig{
        Timeout:     parseDuration(getEnv("CALLBACK_TIMEOUT", "15s"), 15*time.Second),
        MaxAttempts: parseInt(getEnv("CALLBACK_MAX_ATTEMPTS", "3"), 3),
        BaseBackoff: parseDuration(getEnv("CALLBACK_BACKOFF", "500ms"), 500*time.Millisecond),
    }

    cfg.HTTPPort = getEnv("PORT", "8080")
    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func parseList(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
