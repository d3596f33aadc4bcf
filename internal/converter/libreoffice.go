package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/locking"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/proc"
)

// LockName serializes conversions across the deployment. LibreOffice
// misbehaves when several instances share a host.
const LockName = "document-converter"

// LibreOffice handles document conversion using LibreOffice
type LibreOffice struct {
	binary string
	locker locking.Locker
}

// NewLibreOffice creates a converter that runs binary (default "soffice")
// under the named lock.
func NewLibreOffice(binary string, locker locking.Locker) *LibreOffice {
	if binary == "" {
		binary = "soffice"
	}
	return &LibreOffice{binary: binary, locker: locker}
}

// Convert converts a document to PDF in outDir and returns the output path.
// The lock is released on every path; the timeout covers the conversion
// itself, not the wait for the lock.
func (l *LibreOffice) Convert(ctx context.Context, in, outDir string, timeout time.Duration) (string, error) {
	zlog := logger.From(ctx)
	startTime := time.Now()

	if err := validateInput(in); err != nil {
		return "", &failure.DocumentError{Reason: "input validation failed", Cause: err}
	}

	release, err := l.locker.Acquire(ctx, LockName, timeout+time.Minute)
	if err != nil {
		return "", failure.Wrap(err, "acquire %s lock", LockName)
	}
	defer release()
	zlog.Debug().Dur("waited", time.Since(startTime)).Msg("converter lock acquired")

	// Create unique profile directory for this conversion
	profileDir := filepath.Join(os.TempDir(), fmt.Sprintf("libreoffice_profile_%s", uuid.New().String()))
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	defer os.RemoveAll(profileDir)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	res, err := proc.Run(ctx, "conversion to pdf", timeout, l.binary,
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		in,
	)
	if err != nil {
		if failure.IsTimeout(err) || ctx.Err() != nil {
			return "", err
		}
		if isProtected(string(res.Stderr)) {
			return "", &failure.DocumentError{Reason: "document is password protected", Cause: err}
		}
		return "", &failure.DocumentError{Reason: "conversion failed", Cause: err}
	}

	out := expectedOutputPath(in, outDir)
	if _, err := os.Stat(out); err != nil {
		// soffice exits 0 on some load failures and writes nothing.
		return "", &failure.DocumentError{Reason: "output file not created", Cause: fmt.Errorf("%s: %s", err, strings.TrimSpace(string(res.Stderr)))}
	}

	zlog.Info().Str("output", filepath.Base(out)).Dur("duration", time.Since(startTime)).Msg("conversion successful")
	return out, nil
}

// validateInput checks if the input file is readable
func validateInput(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

func isProtected(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "password") || strings.Contains(s, "encrypted")
}

// expectedOutputPath calculates the path where LibreOffice will create the output file
func expectedOutputPath(inputPath, outputDir string) string {
	baseName := filepath.Base(inputPath)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(outputDir, nameWithoutExt+".pdf")
}
