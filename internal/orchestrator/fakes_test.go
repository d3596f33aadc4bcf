package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/filetype"
	"github.com/local/textpipeline/internal/pdf"
	"github.com/local/textpipeline/internal/request"
)

// A fake PDF is JSON: {"pages": ["text", "IMG:scan", ...]}. Pages starting
// with "IMG:" have no text layer and need OCR. A page containing "ROT90"
// is detected as rotated, one containing "SKEW3" as slightly skewed.
type fakeDoc struct {
	Pages []string `json:"pages"`
}

func readDoc(path string) (fakeDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fakeDoc{}, err
	}
	var d fakeDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return fakeDoc{}, err
	}
	return d, nil
}

func writeDoc(path string, pages ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := json.Marshal(fakeDoc{Pages: pages})
	return os.WriteFile(path, data, 0o644)
}

type fakePDF struct{}

func (fakePDF) Normalize(_ context.Context, in, out string) error {
	d, err := readDoc(in)
	if err != nil {
		return &failure.DocumentError{Reason: "pdf validation failed", Cause: err}
	}
	return writeDoc(out, d.Pages...)
}

func (fakePDF) Split(_ context.Context, in, outDir string) ([]string, error) {
	d, err := readDoc(in)
	if err != nil {
		return nil, err
	}
	var out []string
	for i, p := range d.Pages {
		path := filepath.Join(outDir, fmt.Sprintf("page_%d.pdf", i+1))
		if err := writeDoc(path, p); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

func (fakePDF) Merge(_ context.Context, base string, replacements map[int]string, rotations map[int]int, out string) error {
	d, err := readDoc(base)
	if err != nil {
		return err
	}
	for n, path := range replacements {
		r, err := readDoc(path)
		if err != nil {
			return err
		}
		d.Pages[n-1] = r.Pages[0]
	}
	for n, angle := range rotations {
		d.Pages[n-1] += fmt.Sprintf("@rot%d", angle)
	}
	return writeDoc(out, d.Pages...)
}

func (fakePDF) PageDims(_ context.Context, path string) ([]pdf.Dim, error) {
	d, err := readDoc(path)
	if err != nil {
		return nil, err
	}
	dims := make([]pdf.Dim, len(d.Pages))
	for i := range dims {
		dims[i] = pdf.Dim{Width: 612, Height: 792}
	}
	return dims, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) PageText(path string, page int) (string, error) {
	d, err := readDoc(path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(d.Pages[page-1], "IMG:") {
		return "", nil
	}
	return d.Pages[page-1], nil
}

func (fakeAnalyzer) NeedsOCR(path string, page int) (bool, error) {
	d, err := readDoc(path)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(d.Pages[page-1], "IMG:"), nil
}

type fakeOCR struct {
	mu     sync.Mutex
	calls  []string
	langs  []string
	before func(page string)
	fail   map[string]error
}

func (f *fakeOCR) OCRPage(_ context.Context, pagePDF, outPDF, lang string, _ time.Duration) (string, error) {
	d, err := readDoc(pagePDF)
	if err != nil {
		return "", err
	}
	page := d.Pages[0]
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.langs = append(f.langs, lang)
	hook, failWith := f.before, f.fail[page]
	f.mu.Unlock()
	if hook != nil {
		hook(page)
	}
	if failWith != nil {
		return "", failWith
	}
	text := "OCR:" + strings.TrimPrefix(page, "IMG:")
	return text, writeDoc(outPDF, text)
}

func (f *fakeOCR) DetectRotation(_ context.Context, pagePDF string, _ time.Duration) (float64, error) {
	d, err := readDoc(pagePDF)
	if err != nil {
		return 0, err
	}
	switch {
	case strings.Contains(d.Pages[0], "ROT90"):
		return 90, nil
	case strings.Contains(d.Pages[0], "SKEW3"):
		return 3.2, nil
	}
	return 0, nil
}

type fakeFiles struct{}

func (fakeFiles) Detect(_ string, name string) (filetype.Info, error) {
	if strings.HasSuffix(name, ".docx") {
		return filetype.Info{MIME: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Extension: ".docx", Convertible: true}, nil
	}
	if strings.HasSuffix(name, ".zip") {
		return filetype.Info{MIME: "application/zip", Extension: ".zip"}, nil
	}
	return filetype.Info{MIME: "application/pdf", Extension: ".pdf", IsPDF: true}, nil
}

type fakeConverter struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeConverter) Convert(_ context.Context, in, outDir string, _ time.Duration) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	data, err := os.ReadFile(in)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, "converted.pdf")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(out, data, 0o644)
}

type notifier struct {
	mu       sync.Mutex
	statuses []request.RequestStatus
}

func (n *notifier) Deliver(_ context.Context, _ request.CallbackInfo, st request.RequestStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, st)
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.statuses)
}

func (n *notifier) last() request.RequestStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statuses[len(n.statuses)-1]
}
