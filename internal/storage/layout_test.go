package storage

import "testing"

func TestLayoutKeys(t *testing.T) {
	cases := map[string]string{
		MetadataKey("r1"):                        "r1/metadata.json",
		OriginalKey("r1"):                        "r1/original",
		ConvertedKey("r1"):                       "r1/converted.pdf",
		PageBlockKey("r1", 7):                    "r1/pages_for_processing/00007.pdf",
		PageOCRKey("r1", 7):                      "r1/pages_ocred/00007.pdf",
		PageResultKey("r1", 12):                  "r1/pages_ocred/00012.json",
		TaskIDKey("r1", "job-1"):                 "r1/task_ids/job-1",
		ArtifactKey("r1", "tables", "msgpack"):   "r1/tables.msgpack",
		PendingKey("job-1"):                      "tasks_pending/job-1.json",
		FanOutKey("r1", "g1"):                    "r1/fanout/g1.json",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}
	if id := JobIDFromPendingKey(PendingKey("abc")); id != "abc" {
		t.Errorf("JobIDFromPendingKey = %q", id)
	}
}

func TestPageFromKey(t *testing.T) {
	if p, ok := PageFromKey(PageResultKey("r", 42)); !ok || p != 42 {
		t.Fatalf("PageFromKey = %d %v", p, ok)
	}
	if _, ok := PageFromKey("r/pages_ocred/readme.txt"); ok {
		t.Fatalf("non-page key parsed as page")
	}
}
