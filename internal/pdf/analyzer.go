package pdf

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

const (
	// Render resolution for the OCR decision.
	AnalysisDPI = 150.0

	// Gray levels below this count as ink.
	InkThreshold = 200

	// Blobs smaller than this are noise.
	MinRegionPixels = 100

	// An ink region narrower or shorter than this is not an image.
	MinImageSizeCM = 2.0

	// A page needs OCR when its text covers less than this share of what
	// its images cover.
	TextToImageRatio = 0.3

	// Average glyph box at 10pt, in square points.
	avgGlyphAreaPt2 = 5.5 * 10.0
)

// Analyzer reads pages with go-fitz. Page numbers are 1-based.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

// PageText extracts the text layer of a page.
func (a *Analyzer) PageText(path string, page int) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer doc.Close()
	if page < 1 || page > doc.NumPage() {
		return "", fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}
	text, err := doc.Text(page - 1)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", page, err)
	}
	return text, nil
}

// RenderPNG rasterizes a page at dpi into out.
func (a *Analyzer) RenderPNG(path string, page int, dpi float64, out string) error {
	doc, err := fitz.New(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer doc.Close()
	img, err := doc.ImageDPI(page-1, dpi)
	if err != nil {
		return fmt.Errorf("failed to render page %d: %w", page, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	log.Debug().Int("page", page).Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Float64("dpi", dpi).Msg("rendered page")
	return nil
}

// Coverage is the share of the page covered by text and by image regions.
type Coverage struct {
	Text  float64
	Image float64
}

// NeedsOCR reports whether a page is mostly image with little or no text
// layer.
func (a *Analyzer) NeedsOCR(path string, page int) (bool, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer doc.Close()
	text, err := doc.Text(page - 1)
	if err != nil {
		return false, fmt.Errorf("failed to extract text from page %d: %w", page, err)
	}
	img, err := doc.ImageDPI(page-1, AnalysisDPI)
	if err != nil {
		return false, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	cov := measureCoverage(text, img, AnalysisDPI)
	need := cov.needsOCR()
	log.Debug().Int("page", page).Float64("text_cov", cov.Text).Float64("image_cov", cov.Image).Bool("needs_ocr", need).Msg("ocr decision")
	return need, nil
}

func (c Coverage) needsOCR() bool {
	if c.Image == 0 {
		return false
	}
	return c.Text < TextToImageRatio*c.Image
}

func measureCoverage(text string, img image.Image, dpi float64) Coverage {
	b := img.Bounds()
	pagePx := float64(b.Dx() * b.Dy())
	if pagePx == 0 {
		return Coverage{}
	}
	glyphs := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			glyphs++
		}
	}
	ptPerPx := 72.0 / dpi
	pagePt2 := pagePx * ptPerPx * ptPerPx
	textCov := float64(glyphs) * avgGlyphAreaPt2 / pagePt2
	if textCov > 1 {
		textCov = 1
	}

	minPx := int(MinImageSizeCM / 2.54 * dpi)
	imagePx := 0
	mask, w, h := inkMask(img, InkThreshold)
	for _, r := range inkRegions(mask, w, h, MinRegionPixels) {
		if r.Bounds.Dx() >= minPx && r.Bounds.Dy() >= minPx {
			imagePx += r.Bounds.Dx() * r.Bounds.Dy()
		}
	}
	imageCov := float64(imagePx) / pagePx
	if imageCov > 1 {
		imageCov = 1
	}
	return Coverage{Text: textCov, Image: imageCov}
}

// region is a 4-connected blob of ink pixels.
type region struct {
	Bounds image.Rectangle
	Pixels int
}

// inkMask marks the pixels darker than threshold, row-major.
func inkMask(img image.Image, threshold uint8) (mask []bool, w, h int) {
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	mask = make([]bool, w*h)
	gray, isGray := img.(*image.Gray)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if isGray {
				v = gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			} else {
				v = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			}
			mask[y*w+x] = v < threshold
		}
	}
	return mask, w, h
}

// inkRegions labels the mask in two raster passes, merging provisional
// labels with a union-find, and drops blobs under minPixels.
func inkRegions(mask []bool, w, h, minPixels int) []region {
	labels := make([]int32, len(mask))
	parent := []int32{0}
	find := func(l int32) int32 {
		for parent[l] != l {
			parent[l] = parent[parent[l]]
			l = parent[l]
		}
		return l
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !mask[i] {
				continue
			}
			var up, left int32
			if y > 0 {
				up = labels[i-w]
			}
			if x > 0 {
				left = labels[i-1]
			}
			switch {
			case up == 0 && left == 0:
				next := int32(len(parent))
				parent = append(parent, next)
				labels[i] = next
			case up == 0:
				labels[i] = left
			case left == 0:
				labels[i] = up
			default:
				ru, rl := find(up), find(left)
				if ru < rl {
					parent[rl] = ru
				} else if rl < ru {
					parent[ru] = rl
				}
				labels[i] = min(ru, rl)
			}
		}
	}

	byRoot := make(map[int32]*region)
	var order []int32
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := labels[y*w+x]
			if l == 0 {
				continue
			}
			root := find(l)
			px := image.Rect(x, y, x+1, y+1)
			r, ok := byRoot[root]
			if !ok {
				r = &region{Bounds: px}
				byRoot[root] = r
				order = append(order, root)
			} else {
				r.Bounds = r.Bounds.Union(px)
			}
			r.Pixels++
		}
	}
	var out []region
	for _, root := range order {
		if r := byRoot[root]; r.Pixels >= minPixels {
			out = append(out, *r)
		}
	}
	return out
}

// IsBlank reports whether text has no visible characters.
func IsBlank(text string) bool { return strings.TrimFunc(text, unicode.IsSpace) == "" }
