// Package ocr produces searchable single-page PDFs and page text with
// Tesseract. Recognition itself is a black box: the CLI renders the PDF
// text layer and gosseract reads the plain text.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/proc"
)

// Renderer rasterizes PDF pages. Pages are 1-based.
type Renderer interface {
	RenderPNG(path string, page int, dpi float64, out string) error
}

type Config struct {
	DPI    int
	Binary string
}

// Tesseract runs OCR on single-page PDFs.
type Tesseract struct {
	cfg    Config
	render Renderer
}

func New(render Renderer, cfg Config) *Tesseract {
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	return &Tesseract{cfg: cfg, render: render}
}

// OCRPage renders pagePDF, writes a searchable PDF to outPDF and returns the
// recognized text. The whole operation is bounded by timeout.
func (t *Tesseract) OCRPage(ctx context.Context, pagePDF, outPDF, lang string, timeout time.Duration) (string, error) {
	start := time.Now()
	work, err := os.MkdirTemp(filepath.Dir(outPDF), "ocr-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(work)

	img := filepath.Join(work, "page.png")
	if err := t.render.RenderPNG(pagePDF, 1, float64(t.cfg.DPI), img); err != nil {
		return "", failure.Wrap(err, "render page for ocr")
	}

	base := filepath.Join(work, "out")
	remaining := timeout - time.Since(start)
	if timeout > 0 && remaining <= 0 {
		return "", &failure.TimeoutError{Op: "ocr", After: timeout}
	}
	if _, err := proc.Run(ctx, "ocr", remaining, t.cfg.Binary, img, base,
		"-l", lang, "--dpi", strconv.Itoa(t.cfg.DPI), "pdf"); err != nil {
		return "", timeoutAs(err, timeout)
	}
	if err := os.Rename(base+".pdf", outPDF); err != nil {
		return "", fmt.Errorf("move ocr output: %w", err)
	}

	remaining = timeout - time.Since(start)
	if timeout > 0 && remaining <= 0 {
		return "", &failure.TimeoutError{Op: "ocr", After: timeout}
	}
	text, err := t.recognize(ctx, img, lang, remaining)
	if err != nil {
		return "", timeoutAs(err, timeout)
	}
	logger.From(ctx).Debug().Dur("took", time.Since(start)).Int("chars", len(text)).Msg("page ocr done")
	return text, nil
}

// timeoutAs reports the caller's full budget rather than the remainder a
// sub-step was given.
func timeoutAs(err error, budget time.Duration) error {
	if failure.IsTimeout(err) {
		return &failure.TimeoutError{Op: "ocr", After: budget}
	}
	return err
}

// recognize reads img with gosseract. The client call cannot be interrupted,
// so on timeout it is left to finish in the background.
func (t *Tesseract) recognize(ctx context.Context, img, lang string, timeout time.Duration) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		client := gosseract.NewClient()
		defer client.Close()
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			done <- result{err: fmt.Errorf("set languages: %w", err)}
			return
		}
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(t.cfg.DPI)); err != nil {
			done <- result{err: fmt.Errorf("set dpi: %w", err)}
			return
		}
		if err := client.SetImage(img); err != nil {
			done <- result{err: fmt.Errorf("set image: %w", err)}
			return
		}
		text, err := client.Text()
		if err != nil {
			err = fmt.Errorf("recognize text: %w", err)
		}
		done <- result{text: text, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case r := <-done:
		return r.text, r.err
	case <-deadline:
		return "", &failure.TimeoutError{Op: "ocr", After: timeout}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DetectRotation runs orientation detection on the page and returns the
// clockwise angle that makes it upright. Low-confidence results are 0.
func (t *Tesseract) DetectRotation(ctx context.Context, pagePDF string, timeout time.Duration) (float64, error) {
	work, err := os.MkdirTemp("", "osd-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(work)
	img := filepath.Join(work, "page.png")
	if err := t.render.RenderPNG(pagePDF, 1, float64(t.cfg.DPI), img); err != nil {
		return 0, failure.Wrap(err, "render page for orientation")
	}
	res, err := proc.Run(ctx, "orientation detection", timeout, t.cfg.Binary, img, "-", "--psm", "0")
	if err != nil {
		return 0, err
	}
	osd := parseOSD(string(res.Stdout))
	if osd.Confidence < minOSDConfidence {
		return 0, nil
	}
	return float64(osd.Rotate), nil
}

const minOSDConfidence = 1.0

type orientation struct {
	Rotate     int
	Confidence float64
}

// parseOSD reads "Rotate: N" and "Orientation confidence: F" from tesseract
// --psm 0 output.
func parseOSD(out string) orientation {
	var o orientation
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Rotate":
			if n, err := strconv.Atoi(value); err == nil {
				o.Rotate = n
			}
		case "Orientation confidence":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				o.Confidence = f
			}
		}
	}
	return o
}
