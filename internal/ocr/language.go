package ocr

import (
	"strings"

	"golang.org/x/text/language"
)

// Tesseract traineddata names that differ from ISO 639-3.
var tessdataNames = map[string]string{
	"zho":      "chi_sim",
	"zh-Hant":  "chi_tra",
	"aze-Cyrl": "aze_cyrl",
	"srp-Latn": "srp_latn",
	"uzb-Cyrl": "uzb_cyrl",
}

// Language maps a BCP 47 or ISO 639 code (or a "+" joined list of them) to
// Tesseract language names. Unknown or empty codes fall back to def, and
// def itself falls back to "eng".
func Language(code, def string) string {
	if def == "" {
		def = "eng"
	}
	var out []string
	for _, part := range strings.Split(code, "+") {
		if name := tesseractName(strings.TrimSpace(part)); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return def
	}
	return strings.Join(out, "+")
}

func tesseractName(code string) string {
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	iso3 := base.ISO3()
	if script, sconf := tag.Script(); sconf == language.Exact {
		if name, ok := tessdataNames[iso3+"-"+script.String()]; ok {
			return name
		}
		if name, ok := tessdataNames[base.String()+"-"+script.String()]; ok {
			return name
		}
	}
	if name, ok := tessdataNames[iso3]; ok {
		return name
	}
	return iso3
}
