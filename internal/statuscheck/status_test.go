package statuscheck

import (
	"context"
	"errors"
	"testing"

	"github.com/local/textpipeline/internal/storage"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestSummary(t *testing.T) {
	c := New(Options{
		Queue:    pinger{},
		Storage:  storage.NewMemory(),
		Binaries: map[string]string{"shell": "sh"},
	})
	s := c.Summary(context.Background())
	if !s.Queue.OK || !s.Storage.OK || !s.Binaries["shell"].OK || !s.Healthy() {
		t.Fatalf("summary = %+v", s)
	}

	c = New(Options{
		Queue:    pinger{err: errors.New("connection refused")},
		Binaries: map[string]string{"missing": "definitely-not-installed-binary"},
	})
	s = c.Summary(context.Background())
	if s.Queue.OK || s.Queue.Message != "connection refused" || s.Storage.OK || s.Binaries["missing"].OK || s.Healthy() {
		t.Fatalf("summary = %+v", s)
	}
}
