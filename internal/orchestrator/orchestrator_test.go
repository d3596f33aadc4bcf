package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/local/textpipeline/internal/dispatcher"
	"github.com/local/textpipeline/internal/extract"
	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/health"
	"github.com/local/textpipeline/internal/jobs"
	"github.com/local/textpipeline/internal/queue"
	"github.com/local/textpipeline/internal/request"
	"github.com/local/textpipeline/internal/storage"
)

type harness struct {
	t      *testing.T
	store  *storage.Memory
	q      *queue.Memory
	reqs   *request.Store
	pub    *jobs.Publisher
	orch   *Orchestrator
	worker *dispatcher.Worker
	notes  *notifier
	ocr    *fakeOCR
	conv   *fakeConverter
}

func newHarness(t *testing.T) *harness { return newHarnessWrapped(t, nil) }

// newHarnessWrapped lets a test intercept broker calls with wrap.
func newHarnessWrapped(t *testing.T, wrap func(queue.Client) queue.Client) *harness {
	t.Helper()
	store := storage.NewMemory()
	q := queue.NewMemory(queue.Options{})
	var broker queue.Client = q
	if wrap != nil {
		broker = wrap(q)
	}
	reqs := request.NewStore(store)
	pub := jobs.NewPublisher(broker, jobs.NewPendingStore(store), reqs)
	h := &harness{
		t:     t,
		store: store,
		q:     q,
		reqs:  reqs,
		pub:   pub,
		notes: &notifier{},
		ocr:   &fakeOCR{},
		conv:  &fakeConverter{},
	}
	h.orch = New(Dependencies{
		Storage:   store,
		Requests:  reqs,
		Queue:     broker,
		Publisher: pub,
		PDF:       fakePDF{},
		Analyzer:  fakeAnalyzer{},
		OCR:       h.ocr,
		Converter: h.conv,
		Files:     fakeFiles{},
		Notifier:  h.notes,
	}, Config{
		TempDir:                 t.TempDir(),
		DeleteTempFilesOnFinish: true,
		Retry:                   jobs.RetryPolicy{MaxRetries: 2},
	})
	reg := jobs.NewRegistry()
	h.orch.Register(reg)
	h.worker = dispatcher.New(dispatcher.Config{Consumer: "test"}, broker, reg, pub)
	return h
}

func (h *harness) submit(name string, opts request.Options, pages ...string) string {
	h.t.Helper()
	path := filepath.Join(h.t.TempDir(), name)
	if err := writeDoc(path, pages...); err != nil {
		h.t.Fatal(err)
	}
	id, err := h.orch.Submit(context.Background(), path, SubmitRequest{FileName: name, Options: opts})
	if err != nil {
		h.t.Fatalf("submit: %v", err)
	}
	return id
}

func (h *harness) step() bool {
	h.t.Helper()
	ok, err := h.worker.ProcessNext(context.Background())
	if err != nil {
		h.t.Fatalf("process: %v", err)
	}
	return ok
}

func (h *harness) drain() {
	h.t.Helper()
	for i := 0; i < 1000; i++ {
		if !h.step() {
			return
		}
	}
	h.t.Fatal("queue did not drain")
}

func (h *harness) metadata(id string) *request.Metadata {
	h.t.Helper()
	md, err := h.reqs.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("metadata of %s: %v", id, err)
	}
	return md
}

func (h *harness) pages(key string) []string {
	h.t.Helper()
	data, _, err := h.store.Get(context.Background(), key)
	if err != nil {
		h.t.Fatalf("get %s: %v", key, err)
	}
	var d fakeDoc
	if err := json.Unmarshal(data, &d); err != nil {
		h.t.Fatalf("decode %s: %v", key, err)
	}
	return d.Pages
}

func (h *harness) text(id string) string {
	h.t.Helper()
	data, _, err := h.store.Get(context.Background(), storage.RequestKey(id, storage.PlainTextFile))
	if err != nil {
		h.t.Fatalf("plain text: %v", err)
	}
	return string(data)
}

func (h *harness) keys(prefix string) []string {
	h.t.Helper()
	keys, err := h.store.List(context.Background(), prefix)
	if err != nil {
		h.t.Fatal(err)
	}
	return keys
}

func ocrOptions() request.Options {
	return request.Options{OCREnable: true, TableExtractionEnable: true, OutputFormat: request.FormatJSON}
}

func TestMixedDocumentOCRsOnlyScannedPage(t *testing.T) {
	h := newHarness(t)
	id := h.submit("mixed.pdf", ocrOptions(), "page one", "IMG:scanned two", "page three")
	h.drain()

	md := h.metadata(id)
	if md.Status != request.StatusDone {
		t.Fatalf("status = %s (%s)", md.Status, md.ErrorMessage)
	}
	st := md.ToStatus()
	if !slices.Equal(st.PDFPagesOCRed, []int{2}) {
		t.Fatalf("pages ocred = %v", st.PDFPagesOCRed)
	}
	if !st.SearchablePDFCreated || !st.PlainTextExtracted || !st.PDFCoordinatesExtracted || !st.TablesExtracted {
		t.Fatalf("missing artifacts: %+v", st)
	}
	got := h.pages(md.FinalPDF)
	want := []string{"page one", "OCR:scanned two", "page three"}
	if !slices.Equal(got, want) {
		t.Fatalf("final pdf pages = %q, want %q", got, want)
	}
	if txt := h.text(id); txt != "page one"+extract.PageSeparator+"OCR:scanned two"+extract.PageSeparator+"page three" {
		t.Fatalf("plain text = %q", txt)
	}
	if len(h.ocr.calls) != 1 {
		t.Fatalf("ocr calls = %v", h.ocr.calls)
	}
	if h.ocr.langs[0] != "eng" {
		t.Fatalf("ocr language = %q", h.ocr.langs[0])
	}

	if h.notes.count() != 1 || h.notes.last().Status != request.StatusDone {
		t.Fatalf("notifications = %+v", h.notes.statuses)
	}
	if keys := h.keys(storage.PendingPrefix()); len(keys) != 0 {
		t.Fatalf("pending records left: %v", keys)
	}
	if keys := h.keys(storage.RequestKey(id, storage.PagesForProcessing)); len(keys) != 0 {
		t.Fatalf("intermediate page blocks left: %v", keys)
	}
}

func TestMalformedDocumentFails(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := h.orch.Submit(context.Background(), path, SubmitRequest{Options: ocrOptions()})
	if err != nil {
		t.Fatal(err)
	}
	h.drain()

	md := h.metadata(id)
	if md.Status != request.StatusFailure {
		t.Fatalf("status = %s", md.Status)
	}
	if !strings.Contains(md.ErrorMessage, "unprocessable document") {
		t.Fatalf("error message = %q", md.ErrorMessage)
	}
	if md.ConvertedPDF != "" || md.PlainText != "" || md.FinalPDF != "" {
		t.Fatalf("artifacts on failed request: %+v", md)
	}
	if ok, _ := h.store.Exists(context.Background(), storage.RequestKey(id, storage.PlainTextFile)); ok {
		t.Fatal("plain text written for failed request")
	}
	if h.notes.count() != 1 || h.notes.last().Status != request.StatusFailure {
		t.Fatalf("notifications = %+v", h.notes.statuses)
	}
	if dlq := h.q.DeadLettered(); len(dlq) != 1 || dlq[0].JobID != documentJobID(id) {
		t.Fatalf("dead letters = %+v", dlq)
	}
}

func TestUnsupportedFileTypeFails(t *testing.T) {
	h := newHarness(t)
	id := h.submit("archive.zip", ocrOptions(), "whatever")
	h.drain()
	md := h.metadata(id)
	if md.Status != request.StatusFailure || !strings.Contains(md.ErrorMessage, "unprocessable document") {
		t.Fatalf("status = %s, error = %q", md.Status, md.ErrorMessage)
	}
}

func TestConvertibleDocumentIsConverted(t *testing.T) {
	h := newHarness(t)
	id := h.submit("memo.docx", ocrOptions(), "converted text")
	h.drain()
	md := h.metadata(id)
	if md.Status != request.StatusDone {
		t.Fatalf("status = %s (%s)", md.Status, md.ErrorMessage)
	}
	if h.conv.calls != 1 {
		t.Fatalf("converter calls = %d", h.conv.calls)
	}
	if md.ConvertedPDF != storage.ConvertedKey(id) || md.FinalPDF != md.ConvertedPDF {
		t.Fatalf("converted = %q final = %q", md.ConvertedPDF, md.FinalPDF)
	}
	if md.OCRedPDF != "" {
		t.Fatal("no page needed ocr")
	}
}

func TestCancelAfterFanOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit("doc.pdf", ocrOptions(), "a", "IMG:b", "c")
	if !h.step() {
		t.Fatal("document job not delivered")
	}
	if ready := h.q.Ready(); len(ready) != 3 {
		t.Fatalf("ready after fan-out = %v", ready)
	}

	res := h.orch.Cancel(ctx, id)
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	want := []string{documentJobID(id), pageJobID(id, 1), pageJobID(id, 2), pageJobID(id, 3)}
	for _, j := range want {
		if !slices.Contains(res.TaskIDs, j) || !slices.Contains(res.SuccessfullyRevoked, j) {
			t.Fatalf("job %s not revoked: %+v", j, res)
		}
	}
	if keys := h.keys(storage.RequestPrefix(id)); len(keys) != 0 {
		t.Fatalf("namespace not empty: %v", keys)
	}

	h.drain()
	if keys := h.keys(storage.RequestPrefix(id)); len(keys) != 0 {
		t.Fatalf("canceled jobs wrote objects: %v", keys)
	}
	if keys := h.keys(storage.PendingPrefix()); len(keys) != 0 {
		t.Fatalf("pending records left: %v", keys)
	}
	if len(h.ocr.calls) != 0 || h.notes.count() != 0 {
		t.Fatalf("ocr calls = %v, notifications = %d", h.ocr.calls, h.notes.count())
	}
	if _, err := h.orch.GetStatus(ctx, id); err == nil {
		t.Fatal("status of canceled request must be not found")
	}
}

// publishHook runs fn once, right after the job whose id ends in suffix
// reaches the broker.
type publishHook struct {
	queue.Client
	suffix string
	once   sync.Once
	fn     func(jobID string)
}

func (p *publishHook) Publish(ctx context.Context, msg queue.Message) error {
	if err := p.Client.Publish(ctx, msg); err != nil {
		return err
	}
	if strings.HasSuffix(msg.JobID, p.suffix) {
		p.once.Do(func() { p.fn(msg.JobID) })
	}
	return nil
}

func TestCancelDuringFanOutStopsPublishing(t *testing.T) {
	ctx := context.Background()
	var h *harness
	h = newHarnessWrapped(t, func(q queue.Client) queue.Client {
		return &publishHook{Client: q, suffix: "-page-2", fn: func(jobID string) {
			h.orch.Cancel(ctx, strings.TrimSuffix(jobID, "-page-2"))
		}}
	})
	id := h.submit("doc.pdf", ocrOptions(), "IMG:a", "IMG:b", "IMG:c", "IMG:d")
	if !h.step() {
		t.Fatal("document job not delivered")
	}
	if ready := h.q.Ready(); slices.Contains(ready, pageJobID(id, 3)) || slices.Contains(ready, pageJobID(id, 4)) {
		t.Fatalf("pages published after cancel: %v", ready)
	}
	if keys := h.keys(storage.RequestPrefix(id)); len(keys) != 0 {
		t.Fatalf("fan-out wrote into the canceled namespace: %v", keys)
	}

	h.drain()
	if keys := h.keys(storage.RequestPrefix(id)); len(keys) != 0 {
		t.Fatalf("objects left after drain: %v", keys)
	}
	if keys := h.keys(storage.PendingPrefix()); len(keys) != 0 {
		t.Fatalf("pending records left: %v", keys)
	}
	if len(h.ocr.calls) != 0 || h.notes.count() != 0 {
		t.Fatalf("ocr calls = %v, notifications = %d", h.ocr.calls, h.notes.count())
	}
}

func TestCancelDuringPageProcessingWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit("doc.pdf", ocrOptions(), "IMG:only page")
	h.ocr.before = func(string) { h.orch.Cancel(ctx, id) }
	h.drain()

	if keys := h.keys(storage.RequestPrefix(id)); len(keys) != 0 {
		t.Fatalf("objects written after cancel: %v", keys)
	}
	if len(h.q.DeadLettered()) != 0 {
		t.Fatalf("canceled page job must exit cleanly: %+v", h.q.DeadLettered())
	}
	if h.notes.count() != 0 {
		t.Fatalf("notifications = %d", h.notes.count())
	}
}

func TestCancelUnknownRequestReportsProblem(t *testing.T) {
	h := newHarness(t)
	res := h.orch.Cancel(context.Background(), "missing")
	if _, ok := res.Problems["missing"]; !ok || len(res.TaskIDs) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLostPageJobIsRecovered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit("doc.pdf", ocrOptions(), "a", "IMG:b", "c")
	h.step()
	h.q.Discard(pageJobID(id, 2))
	h.drain()
	if md := h.metadata(id); md.Status != request.StatusPending {
		t.Fatalf("request finished without page 2: %s", md.Status)
	}

	mon := health.NewMonitor(h.q, h.pub, 0)
	rep, err := mon.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(rep.Republished, []string{pageJobID(id, 2)}) {
		t.Fatalf("republished = %v (lost %v)", rep.Republished, rep.Lost)
	}
	rep, err = mon.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Lost) != 0 {
		t.Fatalf("job visible in the broker reported lost again: %v", rep.Lost)
	}

	h.drain()
	md := h.metadata(id)
	if md.Status != request.StatusDone || !slices.Equal(md.PagesOCRed, []int{2}) {
		t.Fatalf("status = %s, pages ocred = %v", md.Status, md.PagesOCRed)
	}
	if h.notes.count() != 1 {
		t.Fatalf("notifications = %d", h.notes.count())
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit("doc.pdf", ocrOptions(), "a", "IMG:b")
	h.drain()
	md := h.metadata(id)
	if md.Status != request.StatusDone {
		t.Fatalf("status = %s", md.Status)
	}

	applied, err := h.orch.Finish(ctx, id, &Artifacts{PlainText: "other"})
	if err != nil || applied {
		t.Fatalf("second finish applied = %v, err = %v", applied, err)
	}
	if h.orch.Fail(ctx, id, fmt.Errorf("late failure")) {
		t.Fatal("fail after done must be a no-op")
	}

	// A redelivered assemble job changes nothing either.
	env, err := h.orch.job(jobs.KindAssemble, md, assembleJobID(md.GroupID), assemblePayload{RequestID: id, GroupID: md.GroupID})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.pub.Publish(ctx, env); err != nil {
		t.Fatal(err)
	}
	h.drain()

	after := h.metadata(id)
	if after.Status != request.StatusDone || after.PlainText != md.PlainText || after.ErrorMessage != "" {
		t.Fatalf("metadata changed after final: %+v", after)
	}
	if h.notes.count() != 1 {
		t.Fatalf("notifications = %d, want 1", h.notes.count())
	}
}

func TestPageFailureFailsRequestWithoutAssembly(t *testing.T) {
	h := newHarness(t)
	h.ocr.fail = map[string]error{"IMG:b": &failure.TimeoutError{Op: "ocr", After: time.Second}}
	id := h.submit("doc.pdf", ocrOptions(), "a", "IMG:b", "c")
	h.drain()

	md := h.metadata(id)
	if md.Status != request.StatusFailure {
		t.Fatalf("status = %s", md.Status)
	}
	if !strings.Contains(md.ErrorMessage, "ocr timed out") {
		t.Fatalf("error message = %q", md.ErrorMessage)
	}
	if md.OCRedPDF != "" || md.PlainText != "" {
		t.Fatalf("partial results recorded: %+v", md)
	}
	if ok, _ := h.store.Exists(context.Background(), storage.RequestKey(id, storage.SearchablePDFFile)); ok {
		t.Fatal("assembly ran for a failed request")
	}
	if h.notes.count() != 1 || h.notes.last().Status != request.StatusFailure {
		t.Fatalf("notifications = %+v", h.notes.statuses)
	}
}

func TestDeskewRecordsRotation(t *testing.T) {
	h := newHarness(t)
	opts := ocrOptions()
	opts.DeskewEnable = true
	id := h.submit("doc.pdf", opts, "upright", "sideways ROT90")
	h.drain()

	md := h.metadata(id)
	if md.Status != request.StatusDone {
		t.Fatalf("status = %s (%s)", md.Status, md.ErrorMessage)
	}
	if !slices.Equal(md.PageRotateAngles, []float64{0, 90}) {
		t.Fatalf("angles = %v", md.PageRotateAngles)
	}
	if md.CorrectedPDF == "" || md.OCRedPDF != "" {
		t.Fatalf("corrected = %q ocred = %q", md.CorrectedPDF, md.OCRedPDF)
	}
	if got := h.pages(md.FinalPDF); got[1] != "sideways ROT90@rot90" || got[0] != "upright" {
		t.Fatalf("final pages = %q", got)
	}
}

func TestSmallSkewIsNotRecordedAsRotation(t *testing.T) {
	h := newHarness(t)
	opts := ocrOptions()
	opts.DeskewEnable = true
	id := h.submit("doc.pdf", opts, "upright", "slightly SKEW3")
	h.drain()

	md := h.metadata(id)
	if md.Status != request.StatusDone {
		t.Fatalf("status = %s (%s)", md.Status, md.ErrorMessage)
	}
	if md.CorrectedPDF != "" || md.PageRotateAngles != nil {
		t.Fatalf("corrected = %q angles = %v", md.CorrectedPDF, md.PageRotateAngles)
	}
	if md.FinalPDF != md.ConvertedPDF {
		t.Fatalf("final = %q, want the untouched %q", md.FinalPDF, md.ConvertedPDF)
	}
}

func TestEmptyDocumentAssemblesDirectly(t *testing.T) {
	h := newHarness(t)
	id := h.submit("empty.pdf", ocrOptions())
	h.drain()
	md := h.metadata(id)
	if md.Status != request.StatusDone || md.PageCount != 0 {
		t.Fatalf("status = %s pages = %d", md.Status, md.PageCount)
	}
	if txt := h.text(id); txt != "" {
		t.Fatalf("plain text = %q", txt)
	}
}

func TestSubmitWithPinnedIDIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := writeDoc(path, "a"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		id, err := h.orch.Submit(ctx, path, SubmitRequest{RequestID: "fixed", Options: ocrOptions()})
		if err != nil || id != "fixed" {
			t.Fatalf("submit #%d = %q, %v", i, id, err)
		}
	}
	if ready := h.q.Ready(); !slices.Equal(ready, []string{documentJobID("fixed")}) {
		t.Fatalf("ready = %v", ready)
	}
	h.drain()
	if st, err := h.orch.GetStatus(ctx, "fixed"); err != nil || st.Status != request.StatusDone {
		t.Fatalf("status = %+v, %v", st, err)
	}
}

func TestMsgpackOutputFormat(t *testing.T) {
	h := newHarness(t)
	opts := ocrOptions()
	opts.OutputFormat = request.FormatMsgpack
	id := h.submit("doc.pdf", opts, "a")
	h.drain()
	md := h.metadata(id)
	if !strings.HasSuffix(md.TextStructure, ".msgpack") || !strings.HasSuffix(md.Tables, ".msgpack") {
		t.Fatalf("structure = %q tables = %q", md.TextStructure, md.Tables)
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append(append(append([]int{}, p[:i]...), n-1), p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestAssemblyIsIndependentOfPageOrder(t *testing.T) {
	pages := []string{"p1", "IMG:p2", "p3", "IMG:p4"}
	wantPDF := []string{"p1", "OCR:p2", "p3", "OCR:p4"}
	wantText := strings.Join(wantPDF, extract.PageSeparator)

	for _, perm := range permutations(len(pages)) {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			h := newHarness(t)
			id := h.submit("doc.pdf", ocrOptions(), pages...)
			h.step()
			h.q.Shuffle(func(n int, swap func(i, j int)) {
				if n != len(perm) {
					return
				}
				cur := []int{0, 1, 2, 3}
				for i, want := range perm {
					j := slices.Index(cur, want)
					swap(i, j)
					cur[i], cur[j] = cur[j], cur[i]
				}
			})
			h.drain()

			md := h.metadata(id)
			if md.Status != request.StatusDone {
				t.Fatalf("status = %s (%s)", md.Status, md.ErrorMessage)
			}
			if !slices.Equal(md.PagesOCRed, []int{2, 4}) {
				t.Fatalf("pages ocred = %v", md.PagesOCRed)
			}
			if got := h.pages(md.FinalPDF); !slices.Equal(got, wantPDF) {
				t.Fatalf("final pdf = %q", got)
			}
			if got := h.text(id); got != wantText {
				t.Fatalf("text = %q", got)
			}
		})
	}
}

func TestCounterHasExactlyOneLastMember(t *testing.T) {
	ctx := context.Background()
	c := NewCounter(storage.NewMemory())
	const total = 20
	if err := c.Create(ctx, "r", "g", total); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	empties := 0
	var wg sync.WaitGroup
	for page := 1; page <= total; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			st, err := c.Complete(ctx, "r", "g", page, page%2 == 0)
			if err != nil {
				t.Errorf("complete %d: %v", page, err)
				return
			}
			if len(st.Remaining) == 0 {
				mu.Lock()
				empties++
				mu.Unlock()
			}
		}(page)
	}
	wg.Wait()
	if empties != 1 {
		t.Fatalf("members observing empty = %d, want 1", empties)
	}

	st, err := c.Load(ctx, "r", "g")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.OCRed) != total/2 || !slices.IsSorted(st.OCRed) {
		t.Fatalf("ocred = %v", st.OCRed)
	}
}

func TestCounterCompleteTwiceAndMissingGroup(t *testing.T) {
	ctx := context.Background()
	c := NewCounter(storage.NewMemory())
	if err := c.Create(ctx, "r", "g", 2); err != nil {
		t.Fatal(err)
	}
	first, err := c.Complete(ctx, "r", "g", 1, true)
	if err != nil {
		t.Fatal(err)
	}
	again, err := c.Complete(ctx, "r", "g", 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(first.Remaining, again.Remaining) || !slices.Equal(again.OCRed, []int{1}) {
		t.Fatalf("first = %+v again = %+v", first, again)
	}
	// A replayed Create keeps progress.
	if err := c.Create(ctx, "r", "g", 2); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.Load(ctx, "r", "g"); !slices.Equal(st.Remaining, []int{2}) {
		t.Fatalf("remaining after replayed create = %v", st.Remaining)
	}
	if _, err := c.Complete(ctx, "r", "gone", 1, false); !errors.Is(err, ErrGroupGone) {
		t.Fatalf("err = %v, want ErrGroupGone", err)
	}
}
