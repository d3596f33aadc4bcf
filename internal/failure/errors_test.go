package failure

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRenderWalksCauseChain(t *testing.T) {
	root := errors.New("unexpected EOF")
	doc := &DocumentError{Reason: "broken xref table", Cause: root}
	err := Wrap(fmt.Errorf("normalize: %w", doc), "process document %s", "r1")

	got := Render(err)
	want := "process document r1\n" +
		"caused by: normalize\n" +
		"caused by: unprocessable document: broken xref table\n" +
		"caused by: unexpected EOF"
	if got != want {
		t.Fatalf("Render mismatch\n got: %q\nwant: %q", got, want)
	}
	if !IsDocument(err) {
		t.Fatalf("expected IsDocument through the chain")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is to reach the root cause")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "noop") != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}
	if Render(nil) != "" {
		t.Fatalf("Render(nil) must be empty")
	}
}

func TestTimeoutError(t *testing.T) {
	err := fmt.Errorf("ocr page 3: %w", &TimeoutError{Op: "ocr", After: 2 * time.Second})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout")
	}
	if got := Render(err); got != "ocr page 3\ncaused by: ocr timed out after 2s" {
		t.Fatalf("unexpected render %q", got)
	}
}
