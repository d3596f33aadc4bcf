package pdf

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func page(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func fill(img *image.Gray, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
}

func TestInkRegions(t *testing.T) {
	img := page(100, 100)
	fill(img, image.Rect(10, 10, 40, 30))
	fill(img, image.Rect(60, 60, 62, 62)) // noise
	// A U shape gets two provisional labels that must merge.
	fill(img, image.Rect(50, 10, 55, 40))
	fill(img, image.Rect(70, 10, 75, 40))
	fill(img, image.Rect(50, 40, 75, 45))
	mask, w, h := inkMask(img, InkThreshold)
	regs := inkRegions(mask, w, h, 50)
	if len(regs) != 2 {
		t.Fatalf("regions = %+v", regs)
	}
	if regs[0].Bounds != image.Rect(10, 10, 40, 30) || regs[0].Pixels != 600 {
		t.Fatalf("block = %+v", regs[0])
	}
	if regs[1].Bounds != image.Rect(50, 10, 75, 45) || regs[1].Pixels != 5*30*2+25*5 {
		t.Fatalf("u shape = %+v", regs[1])
	}
}

func TestCoverageScannedPageNeedsOCR(t *testing.T) {
	// A4 at 150 dpi, one large scanned region and no text layer.
	img := page(1240, 1754)
	fill(img, image.Rect(100, 100, 1100, 1500))
	cov := measureCoverage("", img, AnalysisDPI)
	if cov.Image < 0.5 || cov.Text != 0 || !cov.needsOCR() {
		t.Fatalf("coverage = %+v", cov)
	}
}

func TestCoverageTextPageSkipsOCR(t *testing.T) {
	img := page(1240, 1754)
	text := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 60)
	cov := measureCoverage(text, img, AnalysisDPI)
	if cov.Image != 0 || cov.needsOCR() {
		t.Fatalf("coverage = %+v", cov)
	}

	// A small logo next to a full text layer still does not need OCR.
	fill(img, image.Rect(50, 50, 250, 250))
	cov = measureCoverage(text, img, AnalysisDPI)
	if cov.needsOCR() {
		t.Fatalf("logo page flagged for OCR: %+v", cov)
	}
}

func TestNormalizeAngle(t *testing.T) {
	cases := map[int]int{0: 0, 90: 90, 180: 180, 270: 270, 360: 0, -90: 270, 89: 90, 44: 0, 450: 90}
	for in, want := range cases {
		if got := normalizeAngle(in); got != want {
			t.Errorf("normalizeAngle(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestQuarterTurn(t *testing.T) {
	cases := map[float64]int{0: 0, 3.2: 0, -7.5: 0, 44.4: 0, 89.6: 90, 180: 180, -90: 270}
	for in, want := range cases {
		if got := QuarterTurn(in); got != want {
			t.Errorf("QuarterTurn(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestSplitOutputsSortsNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"doc_10.pdf", "doc_2.pdf", "doc_1.pdf", "other_3.pdf", "doc_x.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := splitOutputs(dir, "doc")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"doc_1.pdf", "doc_2.pdf", "doc_10.pdf"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if filepath.Base(got[i]) != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIsBlank(t *testing.T) {
	if !IsBlank(" \n\t\f") || IsBlank(" a ") {
		t.Fatal("IsBlank misclassifies")
	}
}
