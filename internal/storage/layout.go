package storage

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Per-request namespace layout.
const (
	MetadataFile       = "metadata.json"
	OriginalFile       = "original"
	ConvertedPDFFile   = "converted.pdf"
	SearchablePDFFile  = "searchable.pdf"
	PlainTextFile      = "plain_text.txt"
	PagesForProcessing = "pages_for_processing"
	PagesOCRed         = "pages_ocred"
	TaskIDs            = "task_ids"
	FanOut             = "fanout"

	// PendingTasks is the global namespace holding one record per outstanding job.
	PendingTasks = "tasks_pending"
)

// RequestPrefix is the namespace of one request, with trailing slash.
func RequestPrefix(requestID string) string { return requestID + "/" }

// RequestKey joins parts under the request namespace.
func RequestKey(requestID string, parts ...string) string {
	return path.Join(append([]string{requestID}, parts...)...)
}

func MetadataKey(requestID string) string  { return RequestKey(requestID, MetadataFile) }
func OriginalKey(requestID string) string  { return RequestKey(requestID, OriginalFile) }
func ConvertedKey(requestID string) string { return RequestKey(requestID, ConvertedPDFFile) }

// PageBlockKey is the single-page PDF scheduled for processing.
func PageBlockKey(requestID string, page int) string {
	return RequestKey(requestID, PagesForProcessing, pageName(page)+".pdf")
}

// PageOCRKey is the searchable single-page PDF produced by OCR.
func PageOCRKey(requestID string, page int) string {
	return RequestKey(requestID, PagesOCRed, pageName(page)+".pdf")
}

// PageResultKey holds the serialized per-page processing result.
func PageResultKey(requestID string, page int) string {
	return RequestKey(requestID, PagesOCRed, pageName(page)+".json")
}

// PageResultsPrefix lists every per-page result of a request.
func PageResultsPrefix(requestID string) string {
	return RequestKey(requestID, PagesOCRed) + "/"
}

func TaskIDKey(requestID, jobID string) string { return RequestKey(requestID, TaskIDs, jobID) }
func TaskIDsPrefix(requestID string) string    { return RequestKey(requestID, TaskIDs) + "/" }

func FanOutKey(requestID, groupID string) string {
	return RequestKey(requestID, FanOut, groupID+".json")
}

// ArtifactKey names a structured artifact, e.g. "text_structure" + "msgpack".
func ArtifactKey(requestID, artifact, ext string) string {
	return RequestKey(requestID, artifact+"."+ext)
}

func PendingKey(jobID string) string { return PendingTasks + "/" + jobID + ".json" }
func PendingPrefix() string          { return PendingTasks + "/" }

// JobIDFromPendingKey is the inverse of PendingKey.
func JobIDFromPendingKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, PendingPrefix()), ".json")
}

func pageName(page int) string { return fmt.Sprintf("%05d", page) }

// PageFromKey parses the page number out of a page-scoped key. It returns
// false for keys that do not follow the page naming.
func PageFromKey(key string) (int, bool) {
	base := path.Base(key)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	n, err := strconv.Atoi(base)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
