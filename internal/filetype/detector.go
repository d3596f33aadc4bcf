package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info is what the pipeline needs to know about an uploaded file.
type Info struct {
	MIME      string
	Extension string
	// IsPDF files go straight to normalization.
	IsPDF bool
	// Convertible files go through LibreOffice first.
	Convertible bool
}

// Container formats are recognized by magic bytes only as zip or OLE; the
// file name decides which office format they hold.
var zipFormats = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".vsdx": "application/vnd.ms-visio.drawing.main+xml",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
}

var oleFormats = map[string]string{
	".doc": "application/msword",
	".xls": "application/vnd.ms-excel",
	".ppt": "application/vnd.ms-powerpoint",
	".vsd": "application/vnd.ms-visio.drawing",
}

var convertible = map[string]bool{
	"application/msword":            true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"application/rtf":               true,
	"text/rtf":                      true,
	"text/html":                     true,
	"text/csv":                      true,

	"application/vnd.ms-visio.drawing":                                          true,
	"application/vnd.ms-visio.drawing.main+xml":                                 true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/vnd.oasis.opendocument.spreadsheet":                            true,
	"application/vnd.oasis.opendocument.presentation":                           true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type using magic bytes. name is the
// original file name, used only to disambiguate zip and OLE containers.
func (d *Detector) Detect(path, name string) (Info, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to detect file type: %w", err)
	}

	mime := mtype.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	ext := mtype.Extension()
	nameExt := strings.ToLower(filepath.Ext(name))

	switch {
	case mime == "application/zip" || mime == "application/x-zip-compressed":
		if m, ok := zipFormats[nameExt]; ok {
			mime, ext = m, nameExt
		}
	case mime == "application/x-ole-storage" || mime == "application/x-cfb":
		if m, ok := oleFormats[nameExt]; ok {
			mime, ext = m, nameExt
		}
	}

	info := Info{
		MIME:        mime,
		Extension:   ext,
		IsPDF:       mime == "application/pdf",
		// plain text is converted like any office document
		Convertible: convertible[mime] || mtype.Is("text/plain"),
	}
	log.Debug().Str("mime", info.MIME).Str("ext", info.Extension).Bool("pdf", info.IsPDF).Bool("convertible", info.Convertible).Msg("detected file type")
	return info, nil
}

// Supported reports whether the pipeline can process the file.
func (i Info) Supported() bool { return i.IsPDF || i.Convertible }
