package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/local/textpipeline/internal/queue"
	"github.com/local/textpipeline/internal/storage"
)

type markerFunc func(ctx context.Context, requestID, jobID string) error

func (f markerFunc) RegisterJob(ctx context.Context, requestID, jobID string) error {
	return f(ctx, requestID, jobID)
}

func TestRetryDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 200 * time.Millisecond},
		{3, 600 * time.Millisecond},
		{10, time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestKindRouting(t *testing.T) {
	if KindPage.RoutingKey() != RoutePages || KindDocument.RoutingKey() != RouteDocuments || KindAssemble.RoutingKey() != RouteDocuments {
		t.Fatal("unexpected routing")
	}
	if KindReconcile.Tracked() || !KindPage.Tracked() {
		t.Fatal("only reconcile is untracked")
	}
}

func TestDecodeRejectsIncompleteEnvelope(t *testing.T) {
	if _, err := Decode([]byte(`{"kind":"process_page"}`)); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for bad json")
	}
}

func TestPublishWritesRecordBeforeBroker(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	q := queue.NewMemory(queue.Options{})
	var marked []string
	pub := NewPublisher(q, NewPendingStore(mem), markerFunc(func(_ context.Context, req, job string) error {
		marked = append(marked, req+"/"+job)
		return nil
	}))

	env, err := New(KindPage, "req-1", map[string]int{"page": 3})
	if err != nil {
		t.Fatal(err)
	}
	env.WithID("req-1-page-3")
	if err := pub.Publish(ctx, env); err != nil {
		t.Fatal(err)
	}

	rec, err := pub.Pending().Get(ctx, "req-1-page-3")
	if err != nil {
		t.Fatalf("pending record missing: %v", err)
	}
	d, _ := q.Consume(ctx, "c", 0)
	if d == nil {
		t.Fatal("job not on the queue")
	}
	if string(d.Body) != string(rec.Body) || rec.RoutingKey != RoutePages || rec.RequestID != "req-1" {
		t.Fatalf("record does not match published bytes: %+v vs %s", rec, d.Body)
	}
	if len(marked) != 1 || marked[0] != "req-1/req-1-page-3" {
		t.Fatalf("markers = %v", marked)
	}

	var payload map[string]int
	got, _ := Decode(d.Body)
	if err := got.Bind(&payload); err != nil || payload["page"] != 3 {
		t.Fatalf("payload = %v %v", payload, err)
	}
}

func TestReconcileJobIsUntracked(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	pub := NewPublisher(queue.NewMemory(queue.Options{}), NewPendingStore(mem), nil)
	env, _ := New(KindReconcile, "", nil)
	if err := pub.Publish(ctx, env); err != nil {
		t.Fatal(err)
	}
	if mem.Len() != 0 {
		t.Fatalf("reconcile job must not leave records, found %d objects", mem.Len())
	}
}

func TestRetryAndRepublish(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	q := queue.NewMemory(queue.Options{})
	pub := NewPublisher(q, NewPendingStore(mem), nil)

	env, _ := New(KindDocument, "r", map[string]string{})
	_ = pub.Publish(ctx, env)
	first, _ := q.Consume(ctx, "c", 0)
	_ = q.Ack(ctx, first)

	if err := pub.Retry(ctx, env, 0); err != nil {
		t.Fatal(err)
	}
	d, _ := q.Consume(ctx, "c", 0)
	if d == nil {
		t.Fatal("retry not delivered")
	}
	retried, _ := Decode(d.Body)
	if retried.Attempt != 1 || retried.ID != env.ID {
		t.Fatalf("retried envelope = %+v", retried)
	}
	rec, _ := pub.Pending().Get(ctx, env.ID)
	if string(rec.Body) != string(d.Body) {
		t.Fatal("pending record not refreshed on retry")
	}
	_ = q.Ack(ctx, d)

	if err := pub.Republish(ctx, *rec); err != nil {
		t.Fatal(err)
	}
	again, _ := q.Consume(ctx, "c", 0)
	if again == nil || string(again.Body) != string(rec.Body) {
		t.Fatal("republish must send the stored bytes verbatim")
	}
}

func TestPendingListSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	ps := NewPendingStore(mem)
	_ = ps.Put(ctx, PendingRecord{JobID: "a", CreatedAt: time.Now()})
	_ = mem.Put(ctx, storage.PendingKey("broken"), []byte("{"))
	recs, err := ps.List(ctx)
	if err != nil || len(recs) != 1 || recs[0].JobID != "a" {
		t.Fatalf("List = %+v %v", recs, err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(KindPage, Handler{Run: func(context.Context, *Envelope) error { return nil }})
	if _, ok := r.Lookup(KindPage); !ok {
		t.Fatal("handler not found")
	}
	if _, ok := r.Lookup(KindAssemble); ok {
		t.Fatal("unexpected handler")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration must panic")
		}
	}()
	r.Register(KindPage, Handler{Run: func(context.Context, *Envelope) error { return nil }})
}
