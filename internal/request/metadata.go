package request

import "time"

// Status of a request. PENDING is the only non-final state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
	StatusFailure Status = "FAILURE"
)

// Final reports whether no further transition is allowed.
func (s Status) Final() bool { return s == StatusDone || s == StatusFailure }

// OutputFormat selects the encoding of structured artifacts.
type OutputFormat string

const (
	FormatJSON    OutputFormat = "json"
	FormatMsgpack OutputFormat = "msgpack"
)

// Options are the processing switches fixed at submit time.
type Options struct {
	OCREnable             bool         `json:"ocr_enable"`
	DeskewEnable          bool         `json:"deskew_enable"`
	TableExtractionEnable bool         `json:"table_extraction_enable"`
	OutputFormat          OutputFormat `json:"output_format"`
	Language              string       `json:"doc_language,omitempty"`
	ConvertTimeoutSec     int          `json:"convert_to_pdf_timeout_sec,omitempty"`
	OCRTimeoutSec         int          `json:"ocr_timeout_sec,omitempty"`
	ExtractTimeoutSec     int          `json:"extract_timeout_sec,omitempty"`
}

// DefaultOptions enables OCR and table extraction with JSON output.
func DefaultOptions() Options {
	return Options{OCREnable: true, TableExtractionEnable: true, OutputFormat: FormatJSON}
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func (o Options) ConvertTimeout(def time.Duration) time.Duration { return seconds(o.ConvertTimeoutSec, def) }
func (o Options) OCRTimeout(def time.Duration) time.Duration     { return seconds(o.OCRTimeoutSec, def) }
func (o Options) ExtractTimeout(def time.Duration) time.Duration { return seconds(o.ExtractTimeoutSec, def) }

// Format returns the output format, JSON unless msgpack was asked for.
func (o Options) Format() OutputFormat {
	if o.OutputFormat == FormatMsgpack {
		return FormatMsgpack
	}
	return FormatJSON
}

// CallbackInfo says where to deliver the result. It is immutable after submit.
type CallbackInfo struct {
	OriginalFileName string `json:"original_file_name"`
	WebhookURL       string `json:"call_back_url,omitempty"`

	// Secondary-queue delivery coordinates.
	Broker       string `json:"call_back_broker,omitempty"`
	Queue        string `json:"call_back_queue,omitempty"`
	TaskName     string `json:"call_back_task_name,omitempty"`
	TaskID       string `json:"call_back_task_id,omitempty"`
	ParentTaskID string `json:"call_back_parent_task_id,omitempty"`
	RootTaskID   string `json:"call_back_root_task_id,omitempty"`

	AdditionalInfo string            `json:"call_back_additional_info,omitempty"`
	LogContext     map[string]string `json:"log_extra,omitempty"`
}

// Metadata is the aggregate root of one request, persisted as
// {id}/metadata.json.
type Metadata struct {
	RequestID   string    `json:"request_id"`
	RequestDate time.Time `json:"request_date"`
	Status      Status    `json:"status"`

	OriginalDocument string `json:"original_document"`
	ConvertedPDF     string `json:"converted_pdf,omitempty"`
	OCRedPDF         string `json:"ocred_pdf,omitempty"`
	CorrectedPDF     string `json:"corrected_pdf,omitempty"`
	FinalPDF         string `json:"pdf_file,omitempty"`

	PlainText      string `json:"plain_text_file,omitempty"`
	TextStructure  string `json:"plain_text_structure_file,omitempty"`
	Tables         string `json:"tables_file,omitempty"`
	PDFCoordinates string `json:"pdf_coordinates_file,omitempty"`

	PageCount        int       `json:"page_count,omitempty"`
	GroupID          string    `json:"fan_out_group_id,omitempty"`
	PagesOCRed       []int     `json:"pages_ocred"`
	PageRotateAngles []float64 `json:"page_rotate_angles,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	Callback CallbackInfo `json:"request_callback_info"`
	Options  Options      `json:"options"`
}

// CurrentPDF is the most processed PDF available.
func (m *Metadata) CurrentPDF() string {
	for _, ref := range []string{m.FinalPDF, m.CorrectedPDF, m.OCRedPDF, m.ConvertedPDF} {
		if ref != "" {
			return ref
		}
	}
	return ""
}

// AppendError adds msg to the accumulated error chain.
func (m *Metadata) AppendError(msg string) {
	if msg == "" {
		return
	}
	if m.ErrorMessage == "" {
		m.ErrorMessage = msg
		return
	}
	m.ErrorMessage += "\n" + msg
}

// RequestStatus is the public projection delivered to callers and callbacks.
type RequestStatus struct {
	RequestID                   string    `json:"request_id"`
	OriginalFileName            string    `json:"original_file_name"`
	Status                      Status    `json:"status"`
	ConvertedCleanedPDF         bool      `json:"converted_cleaned_pdf"`
	SearchablePDFCreated        bool      `json:"searchable_pdf_created"`
	CorrectedPDFCreated         bool      `json:"corrected_pdf_created"`
	PDFPagesOCRed               []int     `json:"pdf_pages_ocred,omitempty"`
	TablesExtracted             bool      `json:"tables_extracted"`
	PlainTextExtracted          bool      `json:"plain_text_extracted"`
	PlainTextStructureExtracted bool      `json:"plain_text_structure_extracted"`
	PDFCoordinatesExtracted     bool      `json:"pdf_coordinates_extracted"`
	PageRotateAngles            []float64 `json:"page_rotate_angles,omitempty"`
	ErrorMessage                string    `json:"error_message,omitempty"`
	AdditionalInfo              string    `json:"additional_info,omitempty"`
}

// ToStatus projects metadata onto RequestStatus.
func (m *Metadata) ToStatus() RequestStatus {
	return RequestStatus{
		RequestID:                   m.RequestID,
		OriginalFileName:            m.Callback.OriginalFileName,
		Status:                      m.Status,
		ConvertedCleanedPDF:         m.ConvertedPDF != "",
		SearchablePDFCreated:        m.OCRedPDF != "",
		CorrectedPDFCreated:         m.CorrectedPDF != "",
		PDFPagesOCRed:               append([]int(nil), m.PagesOCRed...),
		TablesExtracted:             m.Tables != "",
		PlainTextExtracted:          m.PlainText != "",
		PlainTextStructureExtracted: m.TextStructure != "",
		PDFCoordinatesExtracted:     m.PDFCoordinates != "",
		PageRotateAngles:            append([]float64(nil), m.PageRotateAngles...),
		ErrorMessage:                m.ErrorMessage,
		AdditionalInfo:              m.Callback.AdditionalInfo,
	}
}
