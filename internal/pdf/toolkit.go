// Package pdf wraps the PDF libraries: pdfcpu for structure (validate,
// split, merge, rotate) and go-fitz for rendering and text.
package pdf

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/local/textpipeline/internal/failure"
)

// Dim is a page size in PDF points.
type Dim struct {
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

// Toolkit performs structural PDF operations on local files.
type Toolkit struct {
	conf *model.Configuration
}

func NewToolkit() *Toolkit {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Toolkit{conf: conf}
}

// Normalize validates and rewrites in to out. Inputs pdfcpu cannot repair
// are reported as *failure.DocumentError.
func (t *Toolkit) Normalize(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.ValidateFile(in, t.conf); err != nil {
		return &failure.DocumentError{Reason: "pdf validation failed", Cause: err}
	}
	if err := api.OptimizeFile(in, out, t.conf); err != nil {
		return &failure.DocumentError{Reason: "pdf optimization failed", Cause: err}
	}
	return nil
}

func (t *Toolkit) PageCount(_ context.Context, path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// PageDims returns the media box of every page.
func (t *Toolkit) PageDims(_ context.Context, path string) ([]Dim, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("page dims %s: %w", filepath.Base(path), err)
	}
	out := make([]Dim, len(dims))
	for i, d := range dims {
		out[i] = Dim{Width: d.Width, Height: d.Height}
	}
	return out, nil
}

// Split writes one single-page PDF per page into outDir and returns their
// paths ordered by page number.
func (t *Toolkit) Split(ctx context.Context, in, outDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if err := api.SplitFile(in, outDir, 1, t.conf); err != nil {
		return nil, fmt.Errorf("split %s: %w", filepath.Base(in), err)
	}
	return splitOutputs(outDir, strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)))
}

// splitOutputs collects <base>_<n>.pdf files and sorts them numerically.
func splitOutputs(dir, base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+"_*.pdf"))
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    int
		path string
	}
	var pages []numbered
	for _, m := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), base+"_"), ".pdf")
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		pages = append(pages, numbered{n, m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}

// Merge rebuilds base into out. Page n (1-based) is taken from
// replacements[n] when present, and rotated clockwise by rotations[n]
// degrees when non-zero. Page count and order never change.
func (t *Toolkit) Merge(ctx context.Context, base string, replacements map[int]string, rotations map[int]int, out string) error {
	work, err := os.MkdirTemp(filepath.Dir(out), "merge-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	pages, err := t.Split(ctx, base, work)
	if err != nil {
		return err
	}
	files := make([]string, len(pages))
	for i, p := range pages {
		n := i + 1
		src := p
		if r, ok := replacements[n]; ok {
			src = r
		}
		if angle := normalizeAngle(rotations[n]); angle != 0 {
			rotated := filepath.Join(work, fmt.Sprintf("rotated_%05d.pdf", n))
			if err := api.RotateFile(src, rotated, angle, nil, t.conf); err != nil {
				return fmt.Errorf("rotate page %d: %w", n, err)
			}
			src = rotated
		}
		files[i] = src
	}
	if len(files) == 0 {
		return fmt.Errorf("merge %s: no pages", filepath.Base(base))
	}
	log.Debug().Int("pages", len(files)).Int("replaced", len(replacements)).Msg("merging pdf pages")
	if err := api.MergeCreateFile(files, out, false, t.conf); err != nil {
		return fmt.Errorf("merge into %s: %w", filepath.Base(out), err)
	}
	return nil
}

// QuarterTurn is the rotation Merge applies for a detected angle. Skews
// under 45 degrees give 0.
func QuarterTurn(angle float64) int { return normalizeAngle(int(math.Round(angle))) }

// normalizeAngle maps any multiple of 90 into {0, 90, 180, 270}; anything
// else is rounded to the nearest quarter turn.
func normalizeAngle(a int) int {
	q := ((a % 360) + 360) % 360
	q = ((q + 45) / 90 * 90) % 360
	return q
}
