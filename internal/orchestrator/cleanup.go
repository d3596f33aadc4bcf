package orchestrator

import (
    "context"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/local/textpipeline/internal/logger"
    "github.com/local/textpipeline/internal/storage"
)

// cleanupIntermediate removes page blocks, per-page results and the
// fan-out state of a request. Final artifacts and metadata stay.
func (o *Orchestrator) cleanupIntermediate(ctx context.Context, requestID string) {
    for _, dir := range []string{storage.PagesForProcessing, storage.PagesOCRed, storage.FanOut} {
        prefix := storage.RequestKey(requestID, dir) + "/"
        if err := o.deps.Storage.DeletePrefix(ctx, prefix); err != nil {
            logger.From(ctx).Warn().Err(err).Str("prefix", prefix).Msg("failed to delete intermediate files")
        }
    }
}

// tempPrefixes are the work directories created by the job handlers.
var tempPrefixes = []string{"doc-", "page-", "assemble-", "ocr-", "osd-", "merge-"}

// CleanupTemps removes work directories left in dir (os.TempDir() when
// empty) by crashed workers, if older than maxAge.
func CleanupTemps(dir string, maxAge time.Duration) int {
    if dir == "" { dir = os.TempDir() }
    entries, err := os.ReadDir(dir)
    if err != nil { return 0 }
    now := time.Now()
    removed := 0
    for _, e := range entries {
        if !e.IsDir() || !hasTempPrefix(e.Name()) { continue }
        info, err := e.Info()
        if err != nil || now.Sub(info.ModTime()) < maxAge { continue }
        if os.RemoveAll(filepath.Join(dir, e.Name())) == nil {
            removed++
        }
    }
    return removed
}

func hasTempPrefix(name string) bool {
    for _, p := range tempPrefixes {
        if strings.HasPrefix(name, p) { return true }
    }
    return false
}
