package proc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/local/textpipeline/internal/failure"
)

func TestRunCapturesOutput(t *testing.T) {
	if !Available("sh") {
		t.Skip("no sh")
	}
	res, err := Run(context.Background(), "echo", time.Second, "sh", "-c", "printf hello")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestRunExitCode(t *testing.T) {
	if !Available("sh") {
		t.Skip("no sh")
	}
	_, err := Run(context.Background(), "fail", time.Second, "sh", "-c", "echo broken >&2; exit 3")
	var pe *failure.ProcessError
	if !errors.As(err, &pe) || pe.ExitCode != 3 || pe.Stderr != "broken\n" {
		t.Fatalf("err = %#v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	if !Available("sleep") {
		t.Skip("no sleep")
	}
	_, err := Run(context.Background(), "ocr", 50*time.Millisecond, "sleep", "5")
	if !failure.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestRunParentCancel(t *testing.T) {
	if !Available("sleep") {
		t.Skip("no sleep")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { time.Sleep(50 * time.Millisecond); cancel() }()
	_, err := Run(ctx, "ocr", time.Minute, "sleep", "5")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
